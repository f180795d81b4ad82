package fsfs

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"

	"github.com/rcowham/svnfsfs/fsfs/commit"
	"github.com/rcowham/svnfsfs/fsfs/diag"
	"github.com/rcowham/svnfsfs/fsfs/fsfsconfig"
	fsfsio "github.com/rcowham/svnfsfs/fsfs/ioutil"
	"github.com/rcowham/svnfsfs/fsfs/rep"
	"github.com/rcowham/svnfsfs/fsfs/revreader"
)

// sharedState is the per-repository-path singleton every *Filesystem
// handle opened against the same root shares: the repository write
// lock, the rep-cache handle, and a reference count that tears both
// down once the last handle closes.
type sharedState struct {
	mu        sync.Mutex
	refCount  int
	writeLock *flock.Flock
	repCache  rep.Cache
}

var registryMu sync.Mutex
var registry = make(map[string]*sharedState)

func acquireShared(root string, repCachePath string) (*sharedState, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if s, ok := registry[root]; ok {
		s.refCount++
		return s, nil
	}

	cache, err := rep.OpenBoltCache(repCachePath)
	if err != nil {
		return nil, err
	}
	s := &sharedState{
		refCount:  1,
		writeLock: flock.New(filepath.Join(root, "db", "write-lock")),
		repCache:  cache,
	}
	registry[root] = s
	return s, nil
}

func releaseShared(root string) error {
	registryMu.Lock()
	defer registryMu.Unlock()

	s, ok := registry[root]
	if !ok {
		return nil
	}
	s.refCount--
	if s.refCount > 0 {
		return nil
	}
	delete(registry, root)
	return s.repCache.Close()
}

// Filesystem is one handle onto a repository rooted at a directory
// containing a `db/` tree: the format stamp, current-revision pointer,
// revision/revprops storage, transactions, and the shared resources
// every handle onto the same path reuses.
type Filesystem struct {
	Root   string
	Format Format

	dbDir         string
	revsDir       string
	revpropsDir   string
	txnsDir       string
	currentPath   string
	txnCurrentDir string

	shared   *sharedState
	reader   *revreader.Store
	locator  revreader.Locator
	revprops revreader.RevpropsLocator
	conf     *fsfsconfig.Config

	Sink diag.Sink
	Now  func() time.Time

	shardSize int

	closed bool
}

func (fs *Filesystem) sink() diag.Sink {
	if fs.Sink != nil {
		return fs.Sink
	}
	return diag.Discard
}

func (fs *Filesystem) now() time.Time {
	if fs.Now != nil {
		return fs.Now()
	}
	return time.Now()
}

// Open opens an existing repository at root, validating its format
// stamp and wiring up the shared per-repository resources.
func Open(root string) (*Filesystem, error) {
	dbDir := filepath.Join(root, "db")
	format, err := readFormat(filepath.Join(dbDir, "format"))
	if err != nil {
		return nil, err
	}

	shardSize := 0
	if format.Layout.Sharded {
		shardSize = format.Layout.ShardSize
	}

	shared, err := acquireShared(root, filepath.Join(dbDir, "rep-cache.db"))
	if err != nil {
		return nil, newError(IOFailure, "open", root, err)
	}

	locator := revreader.Locator{RevsDir: filepath.Join(dbDir, "revs"), ShardSize: shardSize}
	reader, err := revreader.NewStore(locator, revreader.DefaultDirCacheSize)
	if err != nil {
		_ = releaseShared(root)
		return nil, newError(IOFailure, "open", root, err)
	}

	conf, err := readFsfsConf(filepath.Join(dbDir, "fsfs.conf"))
	if err != nil {
		_ = releaseShared(root)
		return nil, newError(IOFailure, "open", root, err)
	}

	fs := &Filesystem{
		Root:          root,
		Format:        format,
		dbDir:         dbDir,
		revsDir:       filepath.Join(dbDir, "revs"),
		revpropsDir:   filepath.Join(dbDir, "revprops"),
		txnsDir:       filepath.Join(dbDir, "transactions"),
		currentPath:   filepath.Join(dbDir, "current"),
		txnCurrentDir: filepath.Join(dbDir, "txn-current"),
		shared:        shared,
		reader:        reader,
		locator:       locator,
		revprops:      revreader.RevpropsLocator{Dir: filepath.Join(dbDir, "revprops"), ShardSize: shardSize},
		conf:          conf,
		shardSize:     shardSize,
	}
	return fs, nil
}

// readFsfsConf loads db/fsfs.conf, falling back to fsfsconfig.Default
// when the file doesn't exist yet (a freshly created repository never
// writes one).
func readFsfsConf(path string) (*fsfsconfig.Config, error) {
	if !fsfsio.PathExists(path) {
		return fsfsconfig.Default(), nil
	}
	return fsfsconfig.LoadConfigFile(path)
}

// deltification is the skip-delta selection policy file writes
// consult: the repository's own db/fsfs.conf, or the built-in
// defaults when none is present.
func (fs *Filesystem) deltification() rep.DeltificationConfig {
	return fs.conf.Deltification
}

// Close releases this handle's share of the repository's resources,
// tearing down the rep-cache once the last handle onto this path
// closes.
func (fs *Filesystem) Close() error {
	if fs.closed {
		return nil
	}
	fs.closed = true
	return releaseShared(fs.Root)
}

// Youngest returns the repository's current youngest revision.
func (fs *Filesystem) Youngest() (int64, error) {
	cur, err := readCurrent(fs.currentPath, fs.Format)
	if err != nil {
		return 0, err
	}
	return cur.Youngest, nil
}

// bumpCurrent is the commit pipeline's BumpCurrent hook: it is the
// linearization point described in §5/§7 — once this returns
// successfully, the revision is visible to every subsequent reader.
func (fs *Filesystem) bumpCurrent(n int64) error {
	return writeCurrent(fs.currentPath, n)
}

// pipeline builds a commit.Pipeline wired to this filesystem's
// directories, locks, and rep-cache, ready to run a single commit
// while the repository write lock is held.
func (fs *Filesystem) pipeline() *commit.Pipeline {
	return &commit.Pipeline{
		Config: commit.Config{
			RevsDir:       fs.revsDir,
			RevpropsDir:   fs.revpropsDir,
			ShardSize:     fs.shardSize,
			Deltification: fs.deltification(),
		},
		Youngest:     fs.Youngest,
		BumpCurrent:  fs.bumpCurrent,
		ResolveNode:  fs.reader.PredecessorResolver,
		ResolveBytes: fs.reader.FulltextResolver,
		RepCache:     fs.shared.repCache,
		Sink:         fs.sink(),
		Now:          fs.now,
	}
}

// withWriteLock runs fn while holding the repository write lock
// (§5's lock #1, the db/write-lock file), the outermost lock in the
// hierarchy: commits take it here, and hot-copy holds its
// destination's db/write-lock for the whole copy.
func (fs *Filesystem) withWriteLock(fn func() error) error {
	if err := fs.shared.writeLock.Lock(); err != nil {
		return newError(IOFailure, "acquire-write-lock", fs.Root, err)
	}
	defer fs.shared.writeLock.Unlock()
	return fn()
}

// translateCommitError maps the commit package's sentinel errors onto
// this package's Kind taxonomy so callers can switch on Kind instead
// of comparing errors.Is against an inner package's sentinels.
func translateCommitError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, commit.ErrOutOfDate):
		return newError(OutOfDate, "commit", "", err)
	case errors.Is(err, commit.ErrLockRequired):
		return newError(LockVerification, "commit", "", err)
	default:
		return newError(Corruption, "commit", "", err)
	}
}
