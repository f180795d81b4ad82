// Package rep implements the representation layer: PLAIN and DELTA
// byte streams, the skip-delta chain selector, checksums, and the
// SHA-1-keyed rep-sharing lookup.
package rep

import (
	"crypto/md5"
	"crypto/sha1"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Kind distinguishes how a representation's payload is stored.
type Kind int

const (
	// Plain is a raw fulltext body.
	Plain Kind = iota
	// Delta is an svndiff window stream against a base representation.
	Delta
	// PlainCompressed is a PLAIN body gzipped before being written to
	// disk; it is never used as a delta base directly since deltifying
	// reads the fully expanded fulltext regardless of on-disk kind.
	PlainCompressed
)

func (k Kind) String() string {
	switch k {
	case Plain:
		return "PLAIN"
	case Delta:
		return "DELTA"
	case PlainCompressed:
		return "PLAINZ"
	default:
		return "UNKNOWN"
	}
}

// Key locates a representation header within a revision (or
// proto-revision) file by byte offset.
type Key struct {
	Revision int64
	Offset   int64
}

// Representation is a named byte stream, its checksums, and (if
// still mutable) the transaction that owns it.
type Representation struct {
	Key // Revision/Offset of this representation's own header.

	Kind Kind

	// Base is only meaningful when Kind == Delta.
	Base    Key
	BaseLen int64 // on-disk length of the base, for bounds checking

	OnDiskSize   int64 // bytes of payload, not counting header/ENDREP
	ExpandedSize int64 // fulltext length

	MD5  [md5.Size]byte
	SHA1 [sha1.Size]byte

	// TxnID is set while the representation is still mutable (being
	// written inside a transaction); empty once committed.
	TxnID string

	// Uniquifier is set by Transaction.SetContents to "<txn-id>/new".
	// It is the same for every representation a transaction writes, so
	// it does not tell apart otherwise-identical representations.
	Uniquifier string

	// HasSHA1 is false for directory and property representations,
	// which never persist a SHA-1 on disk.
	HasSHA1 bool
}

// IsMutable reports whether the representation still belongs to an
// in-progress transaction.
func (r *Representation) IsMutable() bool {
	return r.TxnID != ""
}

// HeaderLine renders the one-line representation header written
// before the payload: "PLAIN", "PLAINZ" (gzipped PLAIN), or
// "DELTA <base-rev> <base-off> <base-len>".
func (r *Representation) HeaderLine() string {
	switch r.Kind {
	case Plain:
		return "PLAIN"
	case PlainCompressed:
		return "PLAINZ"
	default:
		return fmt.Sprintf("DELTA %d %d %d", r.Base.Revision, r.Base.Offset, r.BaseLen)
	}
}

// EndRepSentinel terminates every representation body on disk.
const EndRepSentinel = "ENDREP"

// ParseHeaderLine parses a representation header line previously
// produced by HeaderLine.
func ParseHeaderLine(line string) (kind Kind, base Key, baseLen int64, err error) {
	line = strings.TrimSpace(line)
	if line == "PLAIN" {
		return Plain, Key{}, 0, nil
	}
	if line == "PLAINZ" {
		return PlainCompressed, Key{}, 0, nil
	}
	fields := strings.Fields(line)
	if len(fields) != 4 || fields[0] != "DELTA" {
		return 0, Key{}, 0, errors.Errorf("corrupt representation header %q", line)
	}
	rev, err1 := strconv.ParseInt(fields[1], 10, 64)
	off, err2 := strconv.ParseInt(fields[2], 10, 64)
	blen, err3 := strconv.ParseInt(fields[3], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, Key{}, 0, errors.Errorf("corrupt representation header %q", line)
	}
	return Delta, Key{Revision: rev, Offset: off}, blen, nil
}
