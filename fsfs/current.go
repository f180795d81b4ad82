package fsfs

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	fsfsio "github.com/rcowham/svnfsfs/fsfs/ioutil"
)

// Current is the parsed contents of db/current.
type Current struct {
	Youngest int64

	// NextNodeID/NextCopyID are only meaningful for a legacy (format <
	// 4) repository, which stores its global ID counters alongside
	// youngest instead of in separate files.
	NextNodeID string
	NextCopyID string
}

// parseCurrent reverses both the modern (format >= 4, a bare decimal
// integer) and legacy (three base-36 tokens) on-disk forms.
func parseCurrent(data []byte, format Format) (Current, error) {
	line := strings.TrimSpace(string(data))
	if format.Number >= 4 {
		n, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return Current{}, errors.Wrapf(err, "corrupt current file %q", line)
		}
		return Current{Youngest: n}, nil
	}
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return Current{}, errors.Errorf("corrupt legacy current file %q", line)
	}
	youngest, err := strconv.ParseInt(fields[0], 36, 64)
	if err != nil {
		return Current{}, errors.Wrapf(err, "corrupt legacy current youngest %q", fields[0])
	}
	return Current{Youngest: youngest, NextNodeID: fields[1], NextCopyID: fields[2]}, nil
}

func readCurrent(path string, format Format) (Current, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Current{}, newError(IOFailure, "read-current", path, err)
	}
	return parseCurrent(data, format)
}

// writeCurrent atomically stamps youngest as the new current value.
// This implementation only ever writes the modern (format >= 4) form;
// repositories opened at a legacy format are read-only here — see
// DESIGN.md.
func writeCurrent(path string, youngest int64) error {
	body := []byte(fmt.Sprintf("%d\n", youngest))
	if err := fsfsio.AtomicWriteFile(path, body, 0644); err != nil {
		return newError(IOFailure, "write-current", path, err)
	}
	return nil
}

// ReadCurrent exposes readCurrent to sibling packages (hot-copy needs
// to inspect a repository's youngest revision without opening a full
// *Filesystem handle on a destination that may not be valid yet).
func ReadCurrent(path string, format Format) (Current, error) {
	return readCurrent(path, format)
}

// WriteCurrent exposes writeCurrent to sibling packages; see ReadCurrent.
func WriteCurrent(path string, youngest int64) error {
	return writeCurrent(path, youngest)
}
