// Package svndiff implements the window-stream delta codec used to
// store a DELTA representation's payload: a sequence of copy-from-base
// and insert-literal instructions that reconstruct a target fulltext
// from a base fulltext. Block matching uses xxhash, the fastest
// non-cryptographic hash available in the dependency pack, to find
// candidate copy sources cheaply before falling back to a literal
// insert.
package svndiff

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// opTag distinguishes the two instruction kinds a window can hold.
type opTag byte

const (
	opCopy opTag = iota
	opInsert
)

// Op is one instruction in a window: either "copy Length bytes from
// the base starting at Offset" or "insert Data verbatim".
type Op struct {
	Tag    opTag
	Offset int64  // base offset, only for opCopy
	Length int64  // only for opCopy
	Data   []byte // only for opInsert
}

// IsCopy reports whether this op copies from the base.
func (o Op) IsCopy() bool { return o.Tag == opCopy }

// BlockSize is the granularity at which the encoder looks for
// duplicate regions between base and target. Smaller values find more
// matches at the cost of a larger hash table.
const BlockSize = 64

// Encode builds the window of instructions that reconstructs target
// from base. The result, fed to Apply(base, ops), reproduces target
// exactly.
func Encode(base, target []byte) []Op {
	if len(base) == 0 {
		if len(target) == 0 {
			return nil
		}
		return []Op{{Tag: opInsert, Data: append([]byte(nil), target...)}}
	}

	index := make(map[uint64][]int64, len(base)/BlockSize+1)
	for off := 0; off+BlockSize <= len(base); off += BlockSize {
		h := xxhash.Sum64(base[off : off+BlockSize])
		index[h] = append(index[h], int64(off))
	}

	var ops []Op
	var pendingInsert []byte
	flushInsert := func() {
		if len(pendingInsert) > 0 {
			ops = append(ops, Op{Tag: opInsert, Data: pendingInsert})
			pendingInsert = nil
		}
	}

	pos := 0
	for pos < len(target) {
		matchOff, matchLen := bestMatch(base, target, pos, index)
		if matchLen >= BlockSize {
			flushInsert()
			ops = append(ops, Op{Tag: opCopy, Offset: matchOff, Length: int64(matchLen)})
			pos += matchLen
			continue
		}
		pendingInsert = append(pendingInsert, target[pos])
		pos++
	}
	flushInsert()
	return ops
}

// bestMatch looks up the block-aligned hash of target[pos:pos+BlockSize]
// in index and, on a hit, greedily extends the match forward from pos
// for as long as base and target keep agreeing.
func bestMatch(base, target []byte, pos int, index map[uint64][]int64) (offset int64, length int) {
	if pos+BlockSize > len(target) {
		return 0, 0
	}
	h := xxhash.Sum64(target[pos : pos+BlockSize])
	candidates, ok := index[h]
	if !ok {
		return 0, 0
	}
	best := 0
	var bestOff int64
	for _, cand := range candidates {
		if !bytes.Equal(base[cand:cand+BlockSize], target[pos:pos+BlockSize]) {
			continue // hash collision
		}
		l := BlockSize
		for int(cand)+l < len(base) && pos+l < len(target) && base[int(cand)+l] == target[pos+l] {
			l++
		}
		if l > best {
			best = l
			bestOff = cand
		}
	}
	return bestOff, best
}

// Apply reconstructs the target bytes described by ops against base.
func Apply(base []byte, ops []Op) ([]byte, error) {
	var buf bytes.Buffer
	for _, op := range ops {
		switch op.Tag {
		case opCopy:
			if op.Offset < 0 || op.Offset+op.Length > int64(len(base)) {
				return nil, errors.Errorf("copy op out of bounds: offset=%d length=%d base_len=%d", op.Offset, op.Length, len(base))
			}
			buf.Write(base[op.Offset : op.Offset+op.Length])
		case opInsert:
			buf.Write(op.Data)
		default:
			return nil, errors.Errorf("unknown op tag %d", op.Tag)
		}
	}
	return buf.Bytes(), nil
}

// WriteWindow serializes ops to w: a varint instruction count followed
// by, per instruction, a tag byte and its fields.
func WriteWindow(w io.Writer, ops []Op) error {
	var hdr [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], uint64(len(ops)))
	if _, err := w.Write(hdr[:n]); err != nil {
		return err
	}
	for _, op := range ops {
		if _, err := w.Write([]byte{byte(op.Tag)}); err != nil {
			return err
		}
		switch op.Tag {
		case opCopy:
			if err := writeUvarint(w, uint64(op.Offset)); err != nil {
				return err
			}
			if err := writeUvarint(w, uint64(op.Length)); err != nil {
				return err
			}
		case opInsert:
			if err := writeUvarint(w, uint64(len(op.Data))); err != nil {
				return err
			}
			if _, err := w.Write(op.Data); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeUvarint(w io.Writer, v uint64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	_, err := w.Write(buf[:n])
	return err
}

// ReadWindow is the inverse of WriteWindow.
func ReadWindow(r io.ByteReader) ([]Op, error) {
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading window instruction count")
	}
	ops := make([]Op, 0, count)
	for i := uint64(0); i < count; i++ {
		tagByte, err := r.ReadByte()
		if err != nil {
			return nil, errors.Wrap(err, "reading op tag")
		}
		switch opTag(tagByte) {
		case opCopy:
			off, err := binary.ReadUvarint(r)
			if err != nil {
				return nil, err
			}
			length, err := binary.ReadUvarint(r)
			if err != nil {
				return nil, err
			}
			ops = append(ops, Op{Tag: opCopy, Offset: int64(off), Length: int64(length)})
		case opInsert:
			length, err := binary.ReadUvarint(r)
			if err != nil {
				return nil, err
			}
			data := make([]byte, length)
			for i := range data {
				b, err := r.ReadByte()
				if err != nil {
					return nil, errors.Wrap(err, "reading insert payload")
				}
				data[i] = b
			}
			ops = append(ops, Op{Tag: opInsert, Data: data})
		default:
			return nil, errors.Errorf("unknown op tag %d", tagByte)
		}
	}
	return ops, nil
}
