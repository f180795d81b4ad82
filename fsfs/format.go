package fsfs

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// CurrentFormat is the format stamp this implementation writes for a
// freshly-created repository: the newest format, carrying every
// feature gated below (packed layout, rep-sharing, no-global-IDs,
// packed revprops, deltification controls).
const CurrentFormat = 6

// MinSupportedFormat is the first format with the no-global-IDs
// scheme this engine's identifier layer writes. Nothing checks a
// repository against it: ParseFormat accepts every format from 1
// through CurrentFormat.
const MinSupportedFormat = 4

// formatBlacklist names known unreleased/experimental format numbers
// that must be rejected even though they fall inside the numeric
// range that would otherwise be accepted.
var formatBlacklist = map[int]bool{}

// Layout describes the `layout` option line of the format stamp.
type Layout struct {
	Sharded   bool
	ShardSize int // meaningful only when Sharded
}

// Format is the parsed contents of db/format.
type Format struct {
	Number int
	Layout Layout
}

func (f Format) packedLayoutSupported() bool     { return f.Number >= 4 }
func (f Format) repSharingSupported() bool       { return f.Number >= 4 }
func (f Format) mergeinfoSupported() bool        { return f.Number >= 3 }
func (f Format) txnCurrentSupported() bool       { return f.Number >= 3 }
func (f Format) protoRevsDirSupported() bool     { return f.Number >= 3 }
func (f Format) noGlobalIDsSupported() bool      { return f.Number >= 4 }
func (f Format) packedRevpropsSupported() bool   { return f.Number >= 6 }
func (f Format) deltificationCtlSupported() bool { return f.Number >= 6 }

// ParseFormat parses the contents of a db/format file: a decimal
// format number on the first line, then `key value` option lines.
func ParseFormat(data []byte) (Format, error) {
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	if !scanner.Scan() {
		return Format{}, errors.New("empty format file")
	}
	n, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		return Format{}, errors.Wrap(err, "parsing format number")
	}
	f := Format{Number: n}
	if n > CurrentFormat || n < 1 || formatBlacklist[n] {
		return f, newError(FormatUnsupported, "parse-format", "", errors.Errorf("format %d is not supported", n))
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if fields[0] != "layout" || len(fields) < 2 {
			continue
		}
		switch fields[1] {
		case "linear":
			f.Layout = Layout{Sharded: false}
		case "sharded":
			if len(fields) < 3 {
				return Format{}, errors.Errorf("corrupt layout option %q", line)
			}
			size, err := strconv.Atoi(fields[2])
			if err != nil {
				return Format{}, errors.Wrapf(err, "corrupt shard size in %q", line)
			}
			f.Layout = Layout{Sharded: true, ShardSize: size}
		}
	}
	if err := scanner.Err(); err != nil {
		return Format{}, err
	}
	return f, nil
}

// Encode renders f back into the db/format file's textual form.
func (f Format) Encode() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%d\n", f.Number)
	if f.Layout.Sharded {
		fmt.Fprintf(&b, "layout sharded %d\n", f.Layout.ShardSize)
	} else {
		b.WriteString("layout linear\n")
	}
	return []byte(b.String())
}

func readFormat(path string) (Format, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Format{}, newError(IOFailure, "read-format", path, err)
	}
	return ParseFormat(data)
}
