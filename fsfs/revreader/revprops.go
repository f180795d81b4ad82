package revreader

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	fsfsio "github.com/rcowham/svnfsfs/fsfs/ioutil"
)

// RevpropsLocator reads a single revision's property list from the
// unpacked `revprops/<shard>/<rev>` layout. Packed revprops (format 6's
// size-capped groups) are not implemented; see DESIGN.md.
type RevpropsLocator struct {
	Dir       string
	ShardSize int
}

func (l RevpropsLocator) path(rev int64) string {
	return filepath.Join(fsfsio.ShardDir(l.Dir, rev, l.ShardSize), fmt.Sprintf("%d", rev))
}

// Read parses rev's property list.
func (l RevpropsLocator) Read(rev int64) (map[string]string, error) {
	data, err := os.ReadFile(l.path(rev))
	if err != nil {
		return nil, errors.Wrapf(err, "reading revprops for revision %d", rev)
	}
	return ParseRevprops(data)
}

// ParseRevprops parses the `K <keylen>\n<key>\nV <vallen>\n<value>\n`
// pairs, terminated by `END\n`, that both revprops files and packed
// revprops groups use.
func ParseRevprops(data []byte) (map[string]string, error) {
	props := make(map[string]string)
	br := bufio.NewReader(bytes.NewReader(data))
	for {
		line, err := br.ReadString('\n')
		if err != nil && line == "" {
			return nil, errors.Wrap(err, "reading revprops stream")
		}
		line = trimNewline(line)
		if line == "END" {
			return props, nil
		}
		key, err := readLengthPrefixedField(br, line, "K")
		if err != nil {
			return nil, err
		}
		valLine, err := br.ReadString('\n')
		if err != nil {
			return nil, errors.Wrap(err, "reading revprops value marker")
		}
		value, err := readLengthPrefixedField(br, trimNewline(valLine), "V")
		if err != nil {
			return nil, err
		}
		props[key] = value
	}
}

func readLengthPrefixedField(br *bufio.Reader, marker, want string) (string, error) {
	var tag string
	var length int
	if _, err := fmt.Sscanf(marker, "%s %d", &tag, &length); err != nil {
		return "", errors.Errorf("corrupt revprops marker %q", marker)
	}
	if tag != want {
		return "", errors.Errorf("expected %q marker, got %q", want, marker)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(br, buf); err != nil {
		return "", errors.Wrap(err, "reading revprops field body")
	}
	// consume the field's trailing newline.
	if _, err := br.ReadByte(); err != nil {
		return "", errors.Wrap(err, "reading revprops field terminator")
	}
	return string(buf), nil
}

func trimNewline(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\n' {
		return s[:len(s)-1]
	}
	return s
}

