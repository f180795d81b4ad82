package fsfs

import (
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/rcowham/svnfsfs/fsfs/commit"
	"github.com/rcowham/svnfsfs/fsfs/ids"
	fsfsio "github.com/rcowham/svnfsfs/fsfs/ioutil"
	"github.com/rcowham/svnfsfs/fsfs/noderev"
	"github.com/rcowham/svnfsfs/fsfs/transaction"
)

// DefaultShardSize is the per-shard revision/revprops file count a
// freshly created repository uses unless CreateOptions overrides it.
const DefaultShardSize = 1000

// CreateOptions configures a freshly created repository. The zero
// value is the default: a sharded format-6 repository.
type CreateOptions struct {
	// ShardSize is the number of revisions per shard directory; 0
	// selects DefaultShardSize. A negative value disables sharding
	// (`layout linear`).
	ShardSize int
}

func (o CreateOptions) layout() Layout {
	if o.ShardSize < 0 {
		return Layout{Sharded: false}
	}
	size := o.ShardSize
	if size == 0 {
		size = DefaultShardSize
	}
	return Layout{Sharded: true, ShardSize: size}
}

// Create scaffolds a new repository at root: the db/ tree, format
// stamp, UUID, an empty txn-current counter, and revision 0 (an
// empty root directory with only an svn:date revprop), then opens
// and returns it.
func Create(root string, opts CreateOptions) (*Filesystem, error) {
	dbDir := filepath.Join(root, "db")
	dirs := []string{
		dbDir,
		filepath.Join(dbDir, "revs"),
		filepath.Join(dbDir, "revprops"),
		filepath.Join(dbDir, "transactions"),
	}
	for _, d := range dirs {
		if err := fsfsio.EnsureDir(d); err != nil {
			return nil, newError(IOFailure, "create", d, err)
		}
	}

	format := Format{Number: CurrentFormat, Layout: opts.layout()}
	if err := fsfsio.AtomicWriteFile(filepath.Join(dbDir, "format"), format.Encode(), 0644); err != nil {
		return nil, newError(IOFailure, "create", dbDir, err)
	}

	if err := fsfsio.AtomicWriteFile(filepath.Join(dbDir, "uuid"), []byte(uuid.New().String()+"\n"), 0644); err != nil {
		return nil, newError(IOFailure, "create", dbDir, err)
	}

	if err := fsfsio.AtomicWriteFile(filepath.Join(dbDir, "txn-current"), []byte("0\n"), 0644); err != nil {
		return nil, newError(IOFailure, "create", dbDir, err)
	}

	shardSize := 0
	if format.Layout.Sharded {
		shardSize = format.Layout.ShardSize
	}

	if err := commitRevisionZero(dbDir, shardSize); err != nil {
		return nil, err
	}

	return Open(root)
}

// commitRevisionZero runs the ordinary commit pipeline once, by hand,
// against a bootstrap transaction whose base revision is -1 (there is
// no youngest yet) and whose root carries no predecessor. Everything
// past this point (rep-cache, locks, resolvers) is irrelevant to an
// empty root, so the pipeline runs with all of them left nil.
func commitRevisionZero(dbDir string, shardSize int) error {
	currentPath := filepath.Join(dbDir, "current")
	txnsDir := filepath.Join(dbDir, "transactions")

	root := &noderev.NodeRevision{
		Kind:             noderev.Dir,
		ID:               ids.Transactional("0", "0", "0-0"),
		PredecessorID:    nil,
		PredecessorCount: 0,
		CreatedPath:      "/",
	}

	txn, err := transaction.Begin(txnsDir, "0-0", -1, root, nil)
	if err != nil {
		return newError(IOFailure, "create", txnsDir, err)
	}

	pipeline := &commit.Pipeline{
		Config: commit.Config{
			RevsDir:     filepath.Join(dbDir, "revs"),
			RevpropsDir: filepath.Join(dbDir, "revprops"),
			ShardSize:   shardSize,
		},
		Youngest:    func() (int64, error) { return -1, nil },
		BumpCurrent: func(n int64) error { return writeCurrent(currentPath, n) },
		Now:         time.Now,
	}

	n, err := pipeline.Commit(txn)
	if err != nil {
		_ = txn.Abort()
		return newError(Corruption, "create", dbDir, err)
	}
	if n != 0 {
		return newError(Corruption, "create", dbDir, errors.Errorf("bootstrap commit produced revision %d, want 0", n))
	}
	return nil
}
