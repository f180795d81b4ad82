package revreader

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/svnfsfs/fsfs/noderev"
)

func TestLocatorUnpackedPathHonorsShardSize(t *testing.T) {
	l := Locator{RevsDir: "/revs", ShardSize: 1000}
	assert.Equal(t, filepath.Join("/revs", "2", "2345"), l.unpackedPath(2345))

	l0 := Locator{RevsDir: "/revs", ShardSize: 0}
	assert.Equal(t, filepath.Join("/revs", "5"), l0.unpackedPath(5))
}

func TestLocatorSectionReadsUnpackedRevision(t *testing.T) {
	dir := t.TempDir()
	l := Locator{RevsDir: dir, ShardSize: 0}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1"), []byte("hello revision\n"), 0644))

	section, closeFn, err := l.section(1)
	require.NoError(t, err)
	defer closeFn()

	buf := make([]byte, section.Size())
	_, err = section.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello revision\n", string(buf))
}

func TestLocatorSectionReadsFromPackViaManifest(t *testing.T) {
	dir := t.TempDir()
	l := Locator{RevsDir: dir, ShardSize: 2}
	packDir := filepath.Join(dir, "0.pack")
	require.NoError(t, os.MkdirAll(packDir, 0755))

	rev0 := "first revision body\n"
	rev1 := "second revision body\n"
	require.NoError(t, os.WriteFile(filepath.Join(packDir, "pack"), []byte(rev0+rev1), 0644))
	manifest := strconv.Itoa(0) + "\n" + strconv.Itoa(len(rev0)) + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(packDir, "manifest"), []byte(manifest), 0644))

	section, closeFn, err := l.section(1)
	require.NoError(t, err)
	defer closeFn()

	buf := make([]byte, section.Size())
	_, err = section.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, rev1, string(buf))
}

func TestLocatorSectionReturnsErrorForUnknownRevision(t *testing.T) {
	dir := t.TempDir()
	l := Locator{RevsDir: dir, ShardSize: 0}
	_, _, err := l.section(99)
	assert.Error(t, err)
}

func TestReadTrailerParsesLastLine(t *testing.T) {
	body := "some node-rev bytes\nmore bytes\n120 340\n"
	path := filepath.Join(t.TempDir(), "rev")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	info, err := f.Stat()
	require.NoError(t, err)

	section := io.NewSectionReader(f, 0, info.Size())
	root, changes, err := readTrailer(section)
	require.NoError(t, err)
	assert.EqualValues(t, 120, root)
	assert.EqualValues(t, 340, changes)
}

func TestReadUntilEndRepStopsAtSentinel(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("PLAIN payload bytes\nENDREP\ntrailing garbage"))
	payload, err := readUntilEndRep(br)
	require.NoError(t, err)
	assert.Equal(t, "PLAIN payload bytes\n", string(payload))
}

func TestReadUntilEndRepErrorsWhenSentinelMissing(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("payload with no terminator"))
	_, err := readUntilEndRep(br)
	assert.Error(t, err)
}

func TestDirCacheGetPutRoundTrip(t *testing.T) {
	c, err := newDirCache(2)
	require.NoError(t, err)

	_, ok := c.get("missing")
	assert.False(t, ok)

	entries := []noderev.DirEntry{{Name: "a", Kind: noderev.File}}
	c.put("dir-1", entries)

	got, ok := c.get("dir-1")
	require.True(t, ok)
	assert.Equal(t, entries, got)
}

func TestDirCacheNilReceiverIsSafe(t *testing.T) {
	var c *dirCache
	_, ok := c.get("anything")
	assert.False(t, ok)
	c.put("anything", nil) // must not panic
}
