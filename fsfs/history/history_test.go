package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/svnfsfs/fsfs"
)

func writeAndCommitAt(t *testing.T, fsRepo *fsfs.Filesystem, when time.Time, path string, contents []byte) int64 {
	t.Helper()
	fsRepo.Now = func() time.Time { return when }
	txn, err := fsRepo.Begin()
	require.NoError(t, err)
	require.NoError(t, fsRepo.WriteFile(txn, path, contents))
	rev, err := fsRepo.Commit(txn)
	require.NoError(t, err)
	return rev
}

func deleteAndCommitAt(t *testing.T, fsRepo *fsfs.Filesystem, when time.Time, path string) int64 {
	t.Helper()
	fsRepo.Now = func() time.Time { return when }
	txn, err := fsRepo.Begin()
	require.NoError(t, err)
	require.NoError(t, fsRepo.DeleteEntry(txn, path))
	rev, err := fsRepo.Commit(txn)
	require.NoError(t, err)
	return rev
}

// revZeroDate reads the real wall-clock timestamp Create stamped on
// revision 0, so tests can anchor their synthetic commit clocks
// strictly after it without depending on when the test happens to run.
func revZeroDate(t *testing.T, fsRepo *fsfs.Filesystem) time.Time {
	t.Helper()
	props, err := fsRepo.Revprops(0)
	require.NoError(t, err)
	when, err := time.Parse(DateFormat, props["svn:date"])
	require.NoError(t, err)
	return when
}

func TestDatedRevisionFindsExactBoundaries(t *testing.T) {
	root := t.TempDir()
	fsRepo, err := fsfs.Create(root, fsfs.CreateOptions{})
	require.NoError(t, err)
	defer fsRepo.Close()

	base := revZeroDate(t, fsRepo)
	writeAndCommitAt(t, fsRepo, base.Add(1*time.Hour), "/a.txt", []byte("a")) // r1
	writeAndCommitAt(t, fsRepo, base.Add(2*time.Hour), "/b.txt", []byte("b")) // r2
	writeAndCommitAt(t, fsRepo, base.Add(3*time.Hour), "/c.txt", []byte("c")) // r3

	rev, err := DatedRevision(fsRepo, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(0), rev)

	rev, err = DatedRevision(fsRepo, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	rev, err = DatedRevision(fsRepo, base.Add(10*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), rev)
}

func TestFindDeletionRevisionLocatesRemoval(t *testing.T) {
	root := t.TempDir()
	fsRepo, err := fsfs.Create(root, fsfs.CreateOptions{})
	require.NoError(t, err)
	defer fsRepo.Close()

	base := revZeroDate(t, fsRepo)
	writeAndCommitAt(t, fsRepo, base.Add(1*time.Hour), "/a.txt", []byte("a")) // r1
	writeAndCommitAt(t, fsRepo, base.Add(2*time.Hour), "/b.txt", []byte("b")) // r2
	writeAndCommitAt(t, fsRepo, base.Add(3*time.Hour), "/c.txt", []byte("c")) // r3
	deleteAndCommitAt(t, fsRepo, base.Add(4*time.Hour), "/a.txt")             // r4
	writeAndCommitAt(t, fsRepo, base.Add(5*time.Hour), "/d.txt", []byte("d")) // r5

	rev, err := FindDeletionRevision(fsRepo, "/a.txt", 1, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(4), rev)
}

func TestFileRevisionsWalksAncestryOldestToNewest(t *testing.T) {
	root := t.TempDir()
	fsRepo, err := fsfs.Create(root, fsfs.CreateOptions{})
	require.NoError(t, err)
	defer fsRepo.Close()

	base := revZeroDate(t, fsRepo)
	writeAndCommitAt(t, fsRepo, base.Add(1*time.Hour), "/a.txt", []byte("hello"))  // r1
	writeAndCommitAt(t, fsRepo, base.Add(2*time.Hour), "/a.txt", []byte("hello2")) // r2: overwrite, links predecessor

	steps, err := FileRevisions(fsRepo, "/a.txt", 2)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, int64(1), steps[0].Revision)
	assert.True(t, steps[0].ContentChanged)
	assert.Equal(t, int64(2), steps[1].Revision)
	assert.True(t, steps[1].ContentChanged)
	assert.Empty(t, steps[1].PropsChanged)
}
