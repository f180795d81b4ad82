// Package revreader implements random-access reading of a committed
// revision: trailer parsing, node-revision and representation lookup,
// fulltext reassembly along a delta chain, and the folded changed-paths
// list.
package revreader

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	fsfsio "github.com/rcowham/svnfsfs/fsfs/ioutil"
)

// Locator knows where a revision's bytes live on disk: either the
// unpacked file `revs/<shard>/<rev>`, or, once the shard has been
// packed, a byte range inside `revs/<shard>.pack/pack` given by that
// pack's manifest.
type Locator struct {
	RevsDir   string
	ShardSize int // 0 disables sharding
}

func (l Locator) unpackedPath(rev int64) string {
	return filepath.Join(fsfsio.ShardDir(l.RevsDir, rev, l.ShardSize), fmt.Sprintf("%d", rev))
}

func (l Locator) packDir(rev int64) (string, int64, bool) {
	if l.ShardSize <= 0 {
		return "", 0, false
	}
	shard := rev / int64(l.ShardSize)
	return filepath.Join(l.RevsDir, fmt.Sprintf("%d.pack", shard)), shard, true
}

// manifest is the per-shard list of byte offsets, one entry per
// revision in the shard, in ascending revision order.
type manifest []int64

func readManifest(path string) (manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading pack manifest %s", path)
	}
	var m manifest
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		off, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "corrupt pack manifest line %q", line)
		}
		m = append(m, off)
	}
	return m, nil
}

// section opens the byte range holding revision rev, as a
// *io.SectionReader whose offset 0 is that revision's own offset 0 —
// exactly how the commit pipeline wrote every internal offset, so no
// translation is needed once the section is open.
func (l Locator) section(rev int64) (*io.SectionReader, func() error, error) {
	if path := l.unpackedPath(rev); fsfsio.PathExists(path) {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "opening revision file %s", path)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		return io.NewSectionReader(f, 0, info.Size()), f.Close, nil
	}

	packDirPath, shard, ok := l.packDir(rev)
	if !ok {
		return nil, nil, errors.Errorf("no such revision %d", rev)
	}
	m, err := readManifest(filepath.Join(packDirPath, "manifest"))
	if err != nil {
		return nil, nil, err
	}
	idx := rev - shard*int64(l.ShardSize)
	if idx < 0 || int(idx) >= len(m) {
		return nil, nil, errors.Errorf("revision %d not present in pack manifest %s", rev, packDirPath)
	}
	packPath := filepath.Join(packDirPath, "pack")
	f, err := os.Open(packPath)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "opening pack file %s", packPath)
	}
	start := m[idx]
	var end int64
	if int(idx)+1 < len(m) {
		end = m[idx+1]
	} else {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		end = info.Size()
	}
	return io.NewSectionReader(f, start, end-start), f.Close, nil
}

// readTrailer reads the last non-empty line of section: the root
// node-rev offset and the changes-list offset, whitespace-separated.
func readTrailer(section *io.SectionReader) (rootOffset, changesOffset int64, err error) {
	size := section.Size()
	window := int64(4096)
	if window > size {
		window = size
	}
	buf := make([]byte, window)
	if _, err := section.ReadAt(buf, size-window); err != nil && err != io.EOF {
		return 0, 0, errors.Wrap(err, "reading revision trailer")
	}
	trimmed := strings.TrimRight(string(buf), "\n")
	lastNL := strings.LastIndexByte(trimmed, '\n')
	line := trimmed[lastNL+1:]
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return 0, 0, errors.Errorf("corrupt revision trailer %q", line)
	}
	root, err1 := strconv.ParseInt(fields[0], 10, 64)
	changes, err2 := strconv.ParseInt(fields[1], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, errors.Errorf("corrupt revision trailer %q", line)
	}
	return root, changes, nil
}

// newOffsetReader returns a reader over section starting at offset,
// for handing to a bufio.Reader/Decode call that only knows how to
// read forward from a starting point.
func newOffsetReader(section *io.SectionReader, offset int64) *io.SectionReader {
	return io.NewSectionReader(section, offset, section.Size()-offset)
}

// readUntilEndRep consumes br up to and including the ENDREP sentinel
// line, returning everything read before it.
func readUntilEndRep(br *bufio.Reader) ([]byte, error) {
	sentinel := []byte("ENDREP\n")
	var out []byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			return nil, errors.Wrap(err, "reading representation body: ENDREP sentinel not found")
		}
		out = append(out, b)
		if len(out) >= len(sentinel) && string(out[len(out)-len(sentinel):]) == string(sentinel) {
			return out[:len(out)-len(sentinel)], nil
		}
	}
}
