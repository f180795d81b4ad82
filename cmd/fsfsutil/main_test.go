package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/svnfsfs/fsfs"
)

func TestApplyRecipeAddAndCommit(t *testing.T) {
	root := t.TempDir()
	fsRepo, err := fsfs.Create(root, fsfs.CreateOptions{})
	require.NoError(t, err)
	defer fsRepo.Close()

	localFile := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(localFile, []byte("hello\n"), 0644))

	recipePath := filepath.Join(t.TempDir(), "recipe.txt")
	recipe := "# comment\nadd /a/hello.txt " + localFile + "\n"
	require.NoError(t, os.WriteFile(recipePath, []byte(recipe), 0644))

	txn, err := fsRepo.Begin()
	require.NoError(t, err)
	require.NoError(t, applyRecipe(fsRepo, txn, recipePath))

	rev, err := fsRepo.Commit(txn)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	data, err := fsRepo.ReadFile(1, "/a/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	entries, err := fsRepo.DirEntries(1, "/a")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello.txt", entries[0].Name)
}

func TestApplyRecipeRemove(t *testing.T) {
	root := t.TempDir()
	fsRepo, err := fsfs.Create(root, fsfs.CreateOptions{})
	require.NoError(t, err)
	defer fsRepo.Close()

	txn, err := fsRepo.Begin()
	require.NoError(t, err)
	require.NoError(t, fsRepo.WriteFile(txn, "/a.txt", []byte("x")))
	_, err = fsRepo.Commit(txn)
	require.NoError(t, err)

	recipePath := filepath.Join(t.TempDir(), "recipe.txt")
	require.NoError(t, os.WriteFile(recipePath, []byte("rm /a.txt\n"), 0644))

	txn2, err := fsRepo.Begin()
	require.NoError(t, err)
	require.NoError(t, applyRecipe(fsRepo, txn2, recipePath))
	rev, err := fsRepo.Commit(txn2)
	require.NoError(t, err)

	entries, err := fsRepo.DirEntries(rev, "/")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestApplyRecipeRejectsUnknownVerb(t *testing.T) {
	root := t.TempDir()
	fsRepo, err := fsfs.Create(root, fsfs.CreateOptions{})
	require.NoError(t, err)
	defer fsRepo.Close()

	recipePath := filepath.Join(t.TempDir(), "recipe.txt")
	require.NoError(t, os.WriteFile(recipePath, []byte("touch /a.txt\n"), 0644))

	txn, err := fsRepo.Begin()
	require.NoError(t, err)
	err = applyRecipe(fsRepo, txn, recipePath)
	require.Error(t, err)
}

func TestVerifyRevisionWalksNestedTree(t *testing.T) {
	root := t.TempDir()
	fsRepo, err := fsfs.Create(root, fsfs.CreateOptions{})
	require.NoError(t, err)
	defer fsRepo.Close()

	txn, err := fsRepo.Begin()
	require.NoError(t, err)
	require.NoError(t, fsRepo.WriteFile(txn, "/dir/sub/file.txt", []byte("contents")))
	rev, err := fsRepo.Commit(txn)
	require.NoError(t, err)

	assert.NoError(t, verifyRevision(fsRepo, rev))
}
