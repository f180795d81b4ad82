package ioutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAtomicWriteFileReplacesExistingContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "current")

	assert.NoError(t, AtomicWriteFile(path, []byte("1\n"), 0644))
	data, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, "1\n", string(data))

	assert.NoError(t, AtomicWriteFile(path, []byte("2\n"), 0644))
	data, err = os.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, "2\n", string(data))
}

func TestAtomicWriteFileLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "current")
	assert.NoError(t, AtomicWriteFile(path, []byte("0\n"), 0644))

	entries, err := os.ReadDir(dir)
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "current", entries[0].Name())
}

func TestSameFile(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	assert.NoError(t, os.WriteFile(a, []byte("hello\n"), 0644))

	same, err := SameFile(a, b)
	assert.NoError(t, err)
	assert.False(t, same, "b does not exist yet")

	assert.NoError(t, CopyFile(a, b))
	same, err = SameFile(a, b)
	assert.NoError(t, err)
	assert.True(t, same)
}

func TestReadFileAt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "revfile")
	assert.NoError(t, os.WriteFile(path, []byte("0123456789"), 0644))

	got, err := ReadFileAt(path, 3, 4)
	assert.NoError(t, err)
	assert.Equal(t, "3456", string(got))
}
