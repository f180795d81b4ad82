// Package commit drives a transaction through the single-writer
// pipeline that turns it into a durable, numbered revision.
package commit

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/rcowham/svnfsfs/fsfs/diag"
	"github.com/rcowham/svnfsfs/fsfs/ids"
	fsfsio "github.com/rcowham/svnfsfs/fsfs/ioutil"
	"github.com/rcowham/svnfsfs/fsfs/noderev"
	"github.com/rcowham/svnfsfs/fsfs/rep"
	"github.com/rcowham/svnfsfs/fsfs/transaction"
)

// ErrOutOfDate is returned when a transaction's base revision has
// fallen behind youngest at commit time.
var ErrOutOfDate = errors.New("transaction out of date")

// ErrLockRequired is returned when a changed path is not covered by
// a lock token the transaction carries.
var ErrLockRequired = errors.New("path is not locked in transaction")

// LockChecker consults the locking subsystem: does the transaction
// hold a token covering path. recursive requests coverage of path and
// every descendant (adds/deletes/replaces); a plain modification only
// needs path itself.
type LockChecker interface {
	Covers(path string, recursive bool) (bool, error)
}

// AllowAllLocks is the trivial LockChecker for repositories running
// without path locking configured.
type AllowAllLocks struct{}

func (AllowAllLocks) Covers(string, bool) (bool, error) { return true, nil }

// PredecessorResolver fetches an already-committed node revision by
// its unparse-form ID, needed to learn a node's predecessor-count and
// prior representations when finalizing a directory's data-rep.
type PredecessorResolver func(id string) (*noderev.NodeRevision, error)

// FulltextResolver reconstructs the fulltext a representation
// describes, walking its delta chain if necessary.
type FulltextResolver func(r *rep.Representation) ([]byte, error)

// Config bundles the parts of a commit pipeline that vary by
// repository: directory layout, sharding, and the deltification
// policy for directories and properties.
type Config struct {
	RevsDir     string
	RevpropsDir string
	ShardSize   int // 0 disables sharding

	DeltifyDirectories bool
	DeltifyProperties  bool
	Deltification      rep.DeltificationConfig
}

// Pipeline executes the commit algorithm for one repository. All
// fields are required except Sink, Locks, and RepCache, which default
// to no-ops/nil when unset.
type Pipeline struct {
	Config

	// Youngest returns the repository's current youngest revision.
	Youngest func() (int64, error)
	// BumpCurrent publishes N as the new youngest revision, atomically.
	BumpCurrent func(n int64) error

	Locks        LockChecker
	ResolveNode  PredecessorResolver
	ResolveBytes FulltextResolver
	RepCache     rep.Cache

	Sink diag.Sink
	Now  func() time.Time
}

func (p *Pipeline) sink() diag.Sink {
	if p.Sink != nil {
		return p.Sink
	}
	return diag.Discard
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Pipeline) locks() LockChecker {
	if p.Locks != nil {
		return p.Locks
	}
	return AllowAllLocks{}
}

func shardDir(base string, rev int64, shardSize int) string {
	return fsfsio.ShardDir(base, rev, shardSize)
}

// Commit runs the full pipeline against txn, returning the new
// revision number on success. txn is consumed: on any error the
// caller should still call txn.Abort to reclaim its directory, except
// where noted (step 8 onward never returns a recoverable error: this
// implementation treats everything from the rename forward as
// fatal-but-logged rather than abortable, matching the "current is
// the linearization point" rule).
func (p *Pipeline) Commit(txn *transaction.Transaction) (int64, error) {
	// Step 1: refresh youngest, fail if the transaction has fallen behind.
	youngest, err := p.Youngest()
	if err != nil {
		return 0, errors.Wrap(err, "reading youngest revision")
	}
	if youngest > txn.BaseRev {
		return 0, ErrOutOfDate
	}

	// Step 2: verify locks over the folded, depth-first-sorted change list.
	folded, err := Fold(txn.Changes(), false)
	if err != nil {
		return 0, errors.Wrap(err, "folding change list")
	}
	if err := p.verifyLocks(folded); err != nil {
		return 0, err
	}

	// Step 3: reserve the next revision number and shard directories.
	n := youngest + 1
	if err := fsfsio.EnsureDir(shardDir(p.RevsDir, n, p.ShardSize)); err != nil {
		return 0, err
	}
	if err := fsfsio.EnsureDir(shardDir(p.RevpropsDir, n, p.ShardSize)); err != nil {
		return 0, err
	}

	// Step 4: rewrite the node-rev tree, deepest paths first so a
	// directory's children already carry their final committed IDs
	// by the time the directory itself is finalized.
	idRemap := make(map[string]ids.ID)
	nodes := txn.AllNodeRevisions()
	sortDeepestFirst(nodes)

	var rootNode *noderev.NodeRevision
	for _, node := range nodes {
		if err := p.finalizeNode(txn, node, n, idRemap); err != nil {
			return 0, err
		}
		if node.CreatedPath == "/" {
			rootNode = node
		}
	}
	if rootNode == nil {
		return 0, errors.New("transaction has no root node revision")
	}

	// Step 5: validate the root's predecessor-count.
	if p.ResolveNode != nil && rootNode.PredecessorID != nil {
		prevRoot, err := p.ResolveNode(rootNode.PredecessorID.String())
		if err != nil {
			return 0, errors.Wrap(err, "resolving previous root node revision")
		}
		if rootNode.PredecessorCount != prevRoot.PredecessorCount+1 {
			return 0, errors.New("corrupt: root predecessor-count mismatch")
		}
	}

	// Step 6: serialize the folded change list.
	changesOffset, err := p.writeChanges(txn, folded)
	if err != nil {
		return 0, err
	}

	// Step 7: append the trailer and fsync.
	rootOffset := rootNode.ID.Offset
	trailer := fmt.Sprintf("%d %d\n", rootOffset, changesOffset)
	if _, err := txn.ProtoRevFile().WriteString(trailer); err != nil {
		return 0, errors.Wrap(err, "writing revision trailer")
	}
	if err := fsfsio.FsyncFile(txn.ProtoRevFile()); err != nil {
		return 0, err
	}

	// Step 8: close and rename into place.
	revPath := filepath.Join(shardDir(p.RevsDir, n, p.ShardSize), fmt.Sprintf("%d", n))
	if err := txn.Close(); err != nil {
		return 0, err
	}
	prevRevPath := filepath.Join(shardDir(p.RevsDir, youngest, p.ShardSize), fmt.Sprintf("%d", youngest))
	if err := fsfsio.RenameInto(txn.ProtoRevPath(), revPath, prevRevPath); err != nil {
		return 0, err
	}

	// From here on, failures are reported but the revision is already
	// reachable (or about to be) — they do not unwind the commit.

	// Step 9: release the proto-revision writer lock implicitly: the
	// lock file lived under the transaction directory removed in step 12.

	// Step 10: write revprops with svn:date injected.
	if err := p.writeRevprops(txn, n); err != nil {
		p.sink().Report(diag.Warning, "commit: writing revprops failed", map[string]interface{}{"revision": n, "error": err.Error()})
	}

	// Step 11: bump current.
	if err := p.BumpCurrent(n); err != nil {
		return 0, errors.Wrapf(err, "bumping current to %d", n)
	}

	// Step 12: purge the transaction directory.
	if err := os.RemoveAll(txn.Dir); err != nil {
		p.sink().Report(diag.Warning, "commit: purging transaction directory failed", map[string]interface{}{"revision": n, "error": err.Error()})
	}

	// Step 13: insert queued rep-cache rows; non-fatal on failure.
	if p.RepCache != nil {
		if err := p.RepCache.Insert(txn.Sharer.NewEntries()...); err != nil {
			p.sink().Report(diag.Warning, "commit: inserting rep-cache rows failed", map[string]interface{}{"revision": n, "error": err.Error()})
		}
	}

	return n, nil
}

func (p *Pipeline) verifyLocks(folded map[string]Folded) error {
	recursiveDone := make(map[string]bool)
	for _, path := range SortedPaths(folded) {
		f := folded[path]
		if coveredByAncestor(path, recursiveDone) {
			continue
		}
		recursive := f.Kind == transaction.ChangeAdd || f.Kind == transaction.ChangeDelete || f.Kind == transaction.ChangeReplace
		ok, err := p.locks().Covers(path, recursive)
		if err != nil {
			return errors.Wrapf(err, "checking lock coverage for %s", path)
		}
		if !ok {
			return errors.Wrapf(ErrLockRequired, "%s", path)
		}
		if recursive {
			recursiveDone[path] = true
		}
	}
	return nil
}

func coveredByAncestor(path string, done map[string]bool) bool {
	for anc := range done {
		if anc != path && len(path) > len(anc) && path[:len(anc)] == anc && path[len(anc)] == '/' {
			return true
		}
	}
	return false
}

// sortDeepestFirst orders nodes so every child precedes its parent:
// by path segment depth, then lexicographically as a tiebreaker.
func sortDeepestFirst(nodes []*noderev.NodeRevision) {
	depth := func(path string) int {
		if path == "/" {
			return 0
		}
		d := 0
		for _, r := range path {
			if r == '/' {
				d++
			}
		}
		return d
	}
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0; j-- {
			a, b := nodes[j-1], nodes[j]
			if depth(a.CreatedPath) < depth(b.CreatedPath) ||
				(depth(a.CreatedPath) == depth(b.CreatedPath) && a.CreatedPath > b.CreatedPath) {
				nodes[j-1], nodes[j] = nodes[j], nodes[j-1]
				continue
			}
			break
		}
	}
}

func (p *Pipeline) finalizeNode(txn *transaction.Transaction, node *noderev.NodeRevision, n int64, idRemap map[string]ids.ID) error {
	oldID := node.ID.String()

	if node.Kind == noderev.Dir {
		if err := p.finalizeDirectory(txn, node, idRemap); err != nil {
			return err
		}
	}

	if node.DataRep != nil && node.DataRep.IsMutable() {
		node.DataRep.Key.Revision = n
		node.DataRep.TxnID = ""
	}
	if node.PropRep != nil && node.PropRep.IsMutable() {
		node.PropRep.Key.Revision = n
		node.PropRep.TxnID = ""
	}

	// This engine only writes the no-global-IDs committed-ID scheme
	// (format >= 4): "<local-node-id>-<N>".
	offset, err := txn.ProtoRevFile().Seek(0, os.SEEK_END)
	if err != nil {
		return errors.Wrap(err, "seeking proto-revision file")
	}
	nodeID, copyID := node.ID.NodeID, node.ID.CopyID
	if ids.IsTxnScoped(nodeID) {
		nodeID = ids.Permanent(nodeID, n)
	}
	if ids.IsTxnScoped(copyID) {
		copyID = ids.Permanent(copyID, n)
	}
	node.ID = ids.Committed(nodeID, copyID, n, offset)
	idRemap[oldID] = node.ID

	if _, err := txn.ProtoRevFile().Write(node.Encode()); err != nil {
		return errors.Wrapf(err, "writing node-revision record for %s", node.CreatedPath)
	}
	return nil
}

// finalizeDirectory applies the transaction's pending children overlay,
// remaps child IDs to their just-finalized committed form, serializes
// the result, and writes it as the directory's data-rep.
func (p *Pipeline) finalizeDirectory(txn *transaction.Transaction, node *noderev.NodeRevision, idRemap map[string]ids.ID) error {
	dirID := node.ID.String()
	ops := txn.ChildrenOverlay(dirID)

	var base []noderev.DirEntry
	if node.PredecessorID != nil && p.ResolveNode != nil && p.ResolveBytes != nil {
		prev, err := p.ResolveNode(node.PredecessorID.String())
		if err == nil && prev.DataRep != nil {
			fulltext, err := p.ResolveBytes(prev.DataRep)
			if err == nil {
				base, _ = noderev.ParseDirEntries(fulltext)
			}
		}
	}

	entries := noderev.ApplyIncremental(base, ops)
	for i, e := range entries {
		if remapped, ok := idRemap[e.ID.String()]; ok {
			entries[i].ID = remapped
		}
	}

	newFulltext := noderev.SerializeDirEntries(entries)

	useDelta := false
	var baseFulltext []byte
	var baseRep *rep.Representation
	if p.DeltifyDirectories && node.PredecessorID != nil && p.ResolveNode != nil && p.ResolveBytes != nil {
		if prev, err := p.ResolveNode(node.PredecessorID.String()); err == nil && prev.DataRep != nil {
			plan := rep.SelectBase(prev.PredecessorCount+1, p.Deltification, nil)
			if !plan.UsePlain {
				if bytes, err := p.ResolveBytes(prev.DataRep); err == nil {
					useDelta = true
					baseFulltext = bytes
					baseRep = prev.DataRep
				}
			}
		}
	}

	newRep, err := txn.SetContents(useDelta, baseRep, baseFulltext, newFulltext, true)
	if err != nil {
		return errors.Wrapf(err, "writing directory data-rep for %s", node.CreatedPath)
	}
	node.DataRep = newRep
	return nil
}

func (p *Pipeline) writeChanges(txn *transaction.Transaction, folded map[string]Folded) (int64, error) {
	offset, err := txn.ProtoRevFile().Seek(0, os.SEEK_END)
	if err != nil {
		return 0, errors.Wrap(err, "seeking proto-revision file")
	}
	for _, path := range SortedPaths(folded) {
		f := folded[path]
		copyfromPath := f.CopyfromPath
		if copyfromPath == "" {
			copyfromPath = "-"
		}
		line := fmt.Sprintf("%s %s %s %s %v %v %s %d\n", f.ID, f.Kind, f.NodeKind, path, f.TextMod, f.PropMod, copyfromPath, f.CopyfromRev)
		if _, err := txn.ProtoRevFile().WriteString(line); err != nil {
			return 0, errors.Wrap(err, "writing changed-path record")
		}
	}
	return offset, nil
}

func (p *Pipeline) writeRevprops(txn *transaction.Transaction, n int64) error {
	path := filepath.Join(shardDir(p.RevpropsDir, n, p.ShardSize), fmt.Sprintf("%d", n))
	props, _ := txn.Proplist("_txnprops")
	if props == nil {
		props = map[string]string{}
	}
	props["svn:date"] = p.now().UTC().Format(time.RFC3339Nano)

	var body []byte
	for _, k := range sortedKeys(props) {
		v := props[k]
		body = append(body, []byte(fmt.Sprintf("K %d\n%s\nV %d\n%s\n", len(k), k, len(v), v))...)
	}
	body = append(body, []byte("END\n")...)
	return fsfsio.AtomicWriteFile(path, body, 0644)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
