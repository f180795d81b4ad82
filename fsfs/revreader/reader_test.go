package revreader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/svnfsfs/fsfs/commit"
	"github.com/rcowham/svnfsfs/fsfs/ids"
	"github.com/rcowham/svnfsfs/fsfs/noderev"
	"github.com/rcowham/svnfsfs/fsfs/rep"
	"github.com/rcowham/svnfsfs/fsfs/transaction"
)

// committedFixture commits a single revision containing a root
// directory and one file, through the real commit.Pipeline, so the
// revreader tests read back exactly what the engine writes rather
// than a hand-built fixture file.
type committedFixture struct {
	revsDir     string
	revpropsDir string
	youngest    int64
}

func newCommittedFixture(t *testing.T) *committedFixture {
	t.Helper()
	root := t.TempDir()
	f := &committedFixture{
		revsDir:     filepath.Join(root, "revs"),
		revpropsDir: filepath.Join(root, "revprops"),
	}
	txnsDir := filepath.Join(root, "transactions")
	require.NoError(t, os.MkdirAll(txnsDir, 0755))
	require.NoError(t, os.MkdirAll(f.revsDir, 0755))
	require.NoError(t, os.MkdirAll(f.revpropsDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(f.revsDir, "0"), []byte("dummy revision 0\n"), 0644))

	rootID := ids.Transactional("0", "0", "0-0")
	rootNode := &noderev.NodeRevision{Kind: noderev.Dir, ID: rootID, CreatedPath: "/"}
	txn, err := transaction.Begin(txnsDir, "0-0", f.youngest, rootNode, nil)
	require.NoError(t, err)

	fileID := ids.Transactional("1", "0", "0-0")
	fileNode := &noderev.NodeRevision{Kind: noderev.File, ID: fileID, CreatedPath: "/a"}
	dataRep, err := txn.SetContents(false, nil, nil, []byte("hello\n"), false)
	require.NoError(t, err)
	fileNode.DataRep = dataRep
	txn.PutNodeRevision(fileNode)
	txn.SetEntry(rootID.String(), "a", &noderev.DirEntry{Name: "a", Kind: noderev.File, ID: fileID})
	txn.AddChange(transaction.Change{
		Path: "/a", ID: fileID.String(), Kind: transaction.ChangeAdd, NodeKind: noderev.File, TextMod: true,
	})

	p := &commit.Pipeline{
		Config: commit.Config{
			RevsDir:     f.revsDir,
			RevpropsDir: f.revpropsDir,
			ShardSize:   0,
		},
		Youngest:    func() (int64, error) { return f.youngest, nil },
		BumpCurrent: func(n int64) error { f.youngest = n; return nil },
		Now:         func() time.Time { return time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) },
	}
	n, err := p.Commit(txn)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	return f
}

func (f *committedFixture) store(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(Locator{RevsDir: f.revsDir, ShardSize: 0}, 0)
	require.NoError(t, err)
	return s
}

func TestStoreOpenReadsTrailer(t *testing.T) {
	f := newCommittedFixture(t)
	s := f.store(t)

	rv, err := s.Open(1, f.youngest)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rv.Number)
	assert.GreaterOrEqual(t, rv.ChangesOffset, int64(0))
}

func TestStoreOpenRejectsRevisionBeyondYoungest(t *testing.T) {
	f := newCommittedFixture(t)
	s := f.store(t)

	_, err := s.Open(2, f.youngest)
	assert.Error(t, err)
}

func TestStoreRootReturnsDirectoryNode(t *testing.T) {
	f := newCommittedFixture(t)
	s := f.store(t)

	rv, err := s.Open(1, f.youngest)
	require.NoError(t, err)
	root, err := s.Root(rv)
	require.NoError(t, err)
	assert.Equal(t, noderev.Dir, root.Kind)
	assert.Equal(t, "/", root.CreatedPath)
}

func TestStoreDirEntriesListsCommittedFile(t *testing.T) {
	f := newCommittedFixture(t)
	s := f.store(t)

	rv, err := s.Open(1, f.youngest)
	require.NoError(t, err)
	root, err := s.Root(rv)
	require.NoError(t, err)

	entries, err := s.DirEntries(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].Name)
	assert.Equal(t, noderev.File, entries[0].Kind)
}

func TestStoreDirEntriesCachesSecondLookup(t *testing.T) {
	f := newCommittedFixture(t)
	s := f.store(t)

	rv, err := s.Open(1, f.youngest)
	require.NoError(t, err)
	root, err := s.Root(rv)
	require.NoError(t, err)

	first, err := s.DirEntries(root)
	require.NoError(t, err)

	_, cached := s.dirs.get(root.ID.String())
	require.True(t, cached, "first DirEntries call should populate the cache")

	second, err := s.DirEntries(root)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestStoreFulltextReadsPlainFileContents(t *testing.T) {
	f := newCommittedFixture(t)
	s := f.store(t)

	rv, err := s.Open(1, f.youngest)
	require.NoError(t, err)
	root, err := s.Root(rv)
	require.NoError(t, err)
	entries, err := s.DirEntries(root)
	require.NoError(t, err)

	fileNode, err := s.NodeRevisionAt(committedKey(t, entries[0].ID))
	require.NoError(t, err)

	body, err := s.Fulltext(fileNode.DataRep)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(body))
}

func TestStoreChangedPathsRoundTripsCommittedChange(t *testing.T) {
	f := newCommittedFixture(t)
	s := f.store(t)

	rv, err := s.Open(1, f.youngest)
	require.NoError(t, err)
	folded, err := s.ChangedPaths(rv)
	require.NoError(t, err)

	require.Contains(t, folded, "/a")
	change := folded["/a"]
	assert.Equal(t, transaction.ChangeAdd, change.Kind)
	assert.Equal(t, noderev.File, change.NodeKind)
	assert.True(t, change.TextMod)
	assert.False(t, change.PropMod)
	assert.Empty(t, change.CopyfromPath)
}

func TestStorePredecessorResolverRejectsTransactionScopedID(t *testing.T) {
	f := newCommittedFixture(t)
	s := f.store(t)

	_, err := s.PredecessorResolver(ids.Transactional("1", "0", "1-0").String())
	assert.Error(t, err)
}

func TestParseChangeLineReversesWriteChangesFormat(t *testing.T) {
	c, err := parseChangeLine("1.0.r1/0 add file /a true false - 0")
	require.NoError(t, err)
	assert.Equal(t, "/a", c.Path)
	assert.Equal(t, transaction.ChangeAdd, c.Kind)
	assert.Equal(t, noderev.File, c.NodeKind)
	assert.True(t, c.TextMod)
	assert.False(t, c.PropMod)
	assert.Empty(t, c.CopyfromPath)
	assert.EqualValues(t, 0, c.CopyfromRev)
}

func TestParseChangeLineDecodesCopyfromPath(t *testing.T) {
	c, err := parseChangeLine("2.0.r2/0 add file /b true false /a 1")
	require.NoError(t, err)
	assert.Equal(t, "/a", c.CopyfromPath)
	assert.EqualValues(t, 1, c.CopyfromRev)
}

func TestParseChangeLineRejectsWrongFieldCount(t *testing.T) {
	_, err := parseChangeLine("1.0.r1/0 add file /a true false -")
	assert.Error(t, err)
}

// committedKey parses an already-committed node-revision ID into the
// (revision, offset) pair NodeRevisionAt expects.
func committedKey(t *testing.T, id ids.ID) rep.Key {
	t.Helper()
	parsed, err := ids.Parse(id.String())
	require.NoError(t, err)
	return rep.Key{Revision: parsed.Rev, Offset: parsed.Offset}
}
