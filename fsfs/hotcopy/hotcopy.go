// Package hotcopy implements the twelve-step replica algorithm: a
// consistent copy of a repository taken while the source may still be
// receiving commits, safe to interrupt and re-run (incremental mode)
// until it has caught up.
package hotcopy

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/alitto/pond"
	"github.com/gofrs/flock"
	"github.com/pkg/errors"

	"github.com/rcowham/svnfsfs/fsfs"
	"github.com/rcowham/svnfsfs/fsfs/diag"
	fsfsio "github.com/rcowham/svnfsfs/fsfs/ioutil"
	"github.com/rcowham/svnfsfs/fsfs/rep"
)

// copyPoolSize bounds how many rev/revprops file copies run at once.
// Each revision contributes at most two tasks (rev file, revprops
// file), so this is plenty of concurrency for the small I/O-bound
// copies involved without flooding the filesystem with goroutines.
const copyPoolSize = 8

// Options configures a hot-copy run.
type Options struct {
	// Sink receives progress and warning diagnostics; nil discards them.
	Sink diag.Sink

	// ProgressEvery bumps the destination's current file every this
	// many copied revisions, so readers polling the destination see
	// progress before the whole copy finishes. 0 selects a default.
	ProgressEvery int64
}

func (o Options) sink() diag.Sink {
	if o.Sink != nil {
		return o.Sink
	}
	return diag.Discard
}

func (o Options) progressEvery() int64 {
	if o.ProgressEvery <= 0 {
		return 1000
	}
	return o.ProgressEvery
}

// Copy replicates the repository at src into dst, in fresh mode if
// dst has no `db/current` yet, incremental mode otherwise. The
// destination is not a valid repository (its format file is absent)
// until Copy returns successfully: every step before the last one
// leaves a partially-populated but inert directory tree.
func Copy(src, dst string, opts Options) error {
	sink := opts.sink()
	srcDB := filepath.Join(src, "db")
	dstDB := filepath.Join(dst, "db")
	if err := fsfsio.EnsureDir(dstDB); err != nil {
		return errors.Wrap(err, "creating destination db directory")
	}
	dstLock := flock.New(filepath.Join(dstDB, "write-lock"))
	if err := dstLock.Lock(); err != nil {
		return errors.Wrap(err, "acquiring destination write lock")
	}
	defer dstLock.Unlock()

	srcFormat, err := readFormatFile(filepath.Join(srcDB, "format"))
	if err != nil {
		return errors.Wrap(err, "reading source format")
	}

	// Step 1: copy the config file first, so a failure past this
	// point never leaves a destination that looks valid but is
	// missing its tuning knobs.
	if err := copyIfExists(filepath.Join(srcDB, "fsfs.conf"), filepath.Join(dstDB, "fsfs.conf")); err != nil {
		return err
	}

	// Step 2: read both youngest values; refuse a swapped invocation.
	srcYoungest, err := readYoungest(srcDB, srcFormat)
	if err != nil {
		return errors.Wrap(err, "reading source youngest")
	}
	incremental := fsfsio.PathExists(filepath.Join(dstDB, "current"))
	var dstYoungest int64 = -1
	if incremental {
		dstFormat, err := readFormatFile(filepath.Join(dstDB, "format"))
		if err != nil {
			return errors.Wrap(err, "reading destination format")
		}
		dstYoungest, err = readYoungest(dstDB, dstFormat)
		if err != nil {
			return errors.Wrap(err, "reading destination youngest")
		}
		if srcYoungest < dstYoungest {
			return errors.Errorf("source youngest %d is behind destination youngest %d (source/destination swapped?)", srcYoungest, dstYoungest)
		}
	}

	for _, d := range []string{"revs", "revprops", "transactions"} {
		if err := fsfsio.EnsureDir(filepath.Join(dstDB, d)); err != nil {
			return err
		}
	}

	// Step 3: min-unpacked-rev, if this engine ever packed the source.
	minUnpacked, err := copyMinUnpackedRev(srcDB, dstDB)
	if err != nil {
		return err
	}

	// Step 4: packed shards up to min-unpacked-rev.
	shardSize := srcFormat.Layout.ShardSize
	if err := copyPackedShards(srcDB, dstDB, minUnpacked, shardSize, sink); err != nil {
		return err
	}

	// Step 5+6: unpacked revisions, bumping destination current
	// periodically so readers see progress.
	start := minUnpacked
	if dstYoungest+1 > start {
		start = dstYoungest + 1
	}
	if err := copyUnpackedRevisions(src, dst, start, srcYoungest, shardSize, opts.progressEvery(), sink); err != nil {
		return err
	}

	// Step 7: final current bump.
	if err := fsfs.WriteCurrent(filepath.Join(dstDB, "current"), srcYoungest); err != nil {
		return err
	}

	// Step 8: locks tree.
	if err := copyTreeIfExists(filepath.Join(srcDB, "locks"), filepath.Join(dstDB, "locks")); err != nil {
		return err
	}

	// Step 9: node-origins.
	if err := copyIfExists(filepath.Join(srcDB, "node-origins"), filepath.Join(dstDB, "node-origins")); err != nil {
		return err
	}

	// Step 10: rep-cache, then purge rows for revisions past the
	// destination's youngest.
	dstRepCache := filepath.Join(dstDB, "rep-cache.db")
	if err := copyIfExists(filepath.Join(srcDB, "rep-cache.db"), dstRepCache); err != nil {
		return err
	}
	if fsfsio.PathExists(dstRepCache) {
		cache, err := rep.OpenBoltCache(dstRepCache)
		if err != nil {
			return err
		}
		err = cache.PurgeAbove(srcYoungest)
		if closeErr := cache.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return errors.Wrap(err, "purging destination rep-cache")
		}
	}

	// Step 11: txn-current.
	if err := copyIfExists(filepath.Join(srcDB, "txn-current"), filepath.Join(dstDB, "txn-current")); err != nil {
		return err
	}

	// Step 12: stamp the destination format last.
	if err := fsfsio.AtomicWriteFile(filepath.Join(dstDB, "format"), srcFormat.Encode(), 0644); err != nil {
		return err
	}

	sink.Report(diag.Info, "hot-copy complete", map[string]interface{}{"youngest": srcYoungest})
	return nil
}

func readFormatFile(path string) (fsfs.Format, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fsfs.Format{}, err
	}
	return fsfs.ParseFormat(data)
}

func readYoungest(dbDir string, format fsfs.Format) (int64, error) {
	cur, err := fsfs.ReadCurrent(filepath.Join(dbDir, "current"), format)
	if err != nil {
		return 0, err
	}
	return cur.Youngest, nil
}

func copyIfExists(src, dst string) error {
	if !fsfsio.PathExists(src) {
		return nil
	}
	same, err := fsfsio.SameFile(src, dst)
	if err != nil {
		return err
	}
	if same {
		return nil
	}
	return fsfsio.CopyFile(src, dst)
}

// copyMinUnpackedRev copies db/min-unpacked-rev if the source has one
// (this engine never writes one itself, since it has no pack-creation
// path, but an externally-packed source — e.g. upgraded by the
// reference implementation — may carry one) and returns its value,
// defaulting to 0 when absent.
func copyMinUnpackedRev(srcDB, dstDB string) (int64, error) {
	path := filepath.Join(srcDB, "min-unpacked-rev")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	if err := copyIfExists(path, filepath.Join(dstDB, "min-unpacked-rev")); err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

// copyPackedShards copies every `<N>.pack` directory up to
// minUnpacked, bumping destination current to the shard's last
// revision after each so readers see new revisions as soon as the
// pack lands, and removing the corresponding now-redundant unpacked
// rev files and shard directory from the destination.
func copyPackedShards(srcDB, dstDB string, minUnpacked int64, shardSize int, sink diag.Sink) error {
	if shardSize <= 0 || minUnpacked <= 0 {
		return nil
	}
	shards := int64(0)
	for rev := int64(0); rev < minUnpacked; rev += int64(shardSize) {
		shards = rev/int64(shardSize) + 1
	}
	for shard := int64(0); shard < shards; shard++ {
		name := strconv.FormatInt(shard, 10) + ".pack"
		srcShard := filepath.Join(srcDB, "revs", name)
		if !fsfsio.PathExists(srcShard) {
			continue
		}
		dstShard := filepath.Join(dstDB, "revs", name)
		if err := copyTreeIfExists(srcShard, dstShard); err != nil {
			return err
		}
		lastRev := (shard+1)*int64(shardSize) - 1
		if err := fsfs.WriteCurrent(filepath.Join(dstDB, "current"), lastRev); err != nil {
			return err
		}
		unpackedDir := filepath.Join(dstDB, "revs", strconv.FormatInt(shard, 10))
		_ = os.RemoveAll(unpackedDir)
		sink.Report(diag.Info, "hot-copy: packed shard copied", map[string]interface{}{"shard": shard})
	}
	return nil
}

// copyUnpackedRevisions copies each revision's rev and revprops file
// from start through end, bumping destination current every
// progressEvery revisions. The rev file and revprops file for a given
// revision are independent, so they're submitted to a worker pool and
// copied concurrently; the progress bump after a revision still waits
// for both to land before moving on, keeping destination current
// always pointing at a fully-copied revision. A rev file disappearing
// mid-copy (the source packed it concurrently) is reported and
// surfaced as an error asking the caller to restart, matching the
// documented concurrent-pack race.
func copyUnpackedRevisions(src, dst string, start, end int64, shardSize int, progressEvery int64, sink diag.Sink) error {
	srcDB := filepath.Join(src, "db")
	dstDB := filepath.Join(dst, "db")
	pool := pond.New(copyPoolSize, 0, pond.MinWorkers(2))
	defer pool.StopAndWait()

	copied := int64(0)
	for rev := start; rev <= end; rev++ {
		revShard := fsfsio.ShardDir(filepath.Join(srcDB, "revs"), rev, shardSize)
		dstRevShard := fsfsio.ShardDir(filepath.Join(dstDB, "revs"), rev, shardSize)
		propsShard := fsfsio.ShardDir(filepath.Join(srcDB, "revprops"), rev, shardSize)
		dstPropsShard := fsfsio.ShardDir(filepath.Join(dstDB, "revprops"), rev, shardSize)
		if err := fsfsio.EnsureDir(dstRevShard); err != nil {
			return err
		}
		if err := fsfsio.EnsureDir(dstPropsShard); err != nil {
			return err
		}

		revFile := filepath.Join(revShard, strconv.FormatInt(rev, 10))
		if !fsfsio.PathExists(revFile) {
			return errors.Errorf("revision %d vanished mid-copy (source repacked concurrently); restart hot-copy", rev)
		}

		results := make(chan error, 2)
		pool.Submit(func(src, dst string) func() {
			return func() { results <- copyIfExists(src, dst) }
		}(revFile, filepath.Join(dstRevShard, strconv.FormatInt(rev, 10))))
		pool.Submit(func(src, dst string) func() {
			return func() { results <- copyIfExists(src, dst) }
		}(
			filepath.Join(propsShard, strconv.FormatInt(rev, 10)),
			filepath.Join(dstPropsShard, strconv.FormatInt(rev, 10)),
		))
		for i := 0; i < 2; i++ {
			if err := <-results; err != nil {
				return err
			}
		}

		copied++
		if copied%progressEvery == 0 {
			if err := fsfs.WriteCurrent(filepath.Join(dstDB, "current"), rev); err != nil {
				return err
			}
			sink.Report(diag.Info, "hot-copy: progress", map[string]interface{}{"revision": rev})
		}
	}
	return nil
}

func copyTreeIfExists(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return copyIfExists(src, dst)
	}
	if err := fsfsio.EnsureDir(dst); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if err := copyTreeIfExists(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
