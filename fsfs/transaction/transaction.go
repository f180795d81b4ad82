// Package transaction implements the transaction layer: the private
// mutable staging area for an in-progress commit.
package transaction

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"

	fsfsio "github.com/rcowham/svnfsfs/fsfs/ioutil"
	"github.com/rcowham/svnfsfs/fsfs/ids"
	"github.com/rcowham/svnfsfs/fsfs/noderev"
	"github.com/rcowham/svnfsfs/fsfs/rep"
	"github.com/rcowham/svnfsfs/fsfs/rep/svndiff"
)

// ChangeKind is the closed set of per-path change records a commit
// folds before writing a revision's changed-path list.
type ChangeKind int

const (
	ChangeAdd ChangeKind = iota
	ChangeDelete
	ChangeReplace
	ChangeModify
	ChangeReset
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdd:
		return "add"
	case ChangeDelete:
		return "delete"
	case ChangeReplace:
		return "replace"
	case ChangeModify:
		return "modify"
	case ChangeReset:
		return "reset"
	default:
		return "unknown"
	}
}

// ParseChangeKind reverses ChangeKind.String, for the revision reader
// parsing a committed changed-path record back into a Change.
func ParseChangeKind(s string) (ChangeKind, error) {
	switch s {
	case "add":
		return ChangeAdd, nil
	case "delete":
		return ChangeDelete, nil
	case "replace":
		return ChangeReplace, nil
	case "modify":
		return ChangeModify, nil
	case "reset":
		return ChangeReset, nil
	default:
		return 0, errors.Errorf("unknown change kind %q", s)
	}
}

// Change is one entry in a transaction's changes log.
type Change struct {
	Path         string
	ID           string // node-revision ID in unparse form, empty for Reset
	Kind         ChangeKind
	NodeKind     noderev.Kind
	TextMod      bool
	PropMod      bool
	CopyfromPath string
	CopyfromRev  int64
}

// Transaction is the staging area for one in-progress commit.
type Transaction struct {
	ID      string // "<base-rev>-<counter>"
	BaseRev int64
	Dir     string

	// RootID is the txn-scoped node-revision ID of this transaction's
	// root directory, fixed for the lifetime of the transaction.
	RootID string

	protoRevPath string
	protoRev     *os.File
	lock         *writerLock

	nextNodeID *ids.Counter
	nextCopyID *ids.Counter

	mu       sync.Mutex
	nodes    map[string]*noderev.NodeRevision  // keyed by txn-scoped node-rev ID unparse form
	children map[string][]noderev.IncrementalOp // keyed by directory node-rev ID
	props    map[string]map[string]string       // keyed by node-rev ID

	changes []Change

	Sharer *rep.Sharer
}

// Begin creates the transaction directory and its scratch files:
// an empty proto-revision file, its lock file, an empty changes file,
// and a next-ids file initialized to "0 0".
func Begin(txnsDir, txnID string, baseRev int64, root *noderev.NodeRevision, repoCache rep.Cache) (*Transaction, error) {
	dir := filepath.Join(txnsDir, txnID+".txn")
	if err := fsfsio.EnsureDir(dir); err != nil {
		return nil, err
	}

	protoRevPath := filepath.Join(dir, "rev")
	f, err := os.OpenFile(protoRevPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "creating proto-revision file %s", protoRevPath)
	}

	lockPath := filepath.Join(dir, "rev-lock")
	if _, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDONLY, 0644); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "creating proto-revision lock file %s", lockPath)
	}

	if err := os.WriteFile(filepath.Join(dir, "changes"), nil, 0644); err != nil {
		f.Close()
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "next-ids"), []byte("0 0\n"), 0644); err != nil {
		f.Close()
		return nil, err
	}

	t := &Transaction{
		ID:           txnID,
		BaseRev:      baseRev,
		Dir:          dir,
		protoRevPath: protoRevPath,
		protoRev:     f,
		lock:         newWriterLock(lockPath),
		nextNodeID:   ids.NewCounter(0),
		nextCopyID:   ids.NewCounter(0),
		nodes:        make(map[string]*noderev.NodeRevision),
		children:     make(map[string][]noderev.IncrementalOp),
		props:        make(map[string]map[string]string),
		Sharer:       rep.NewSharer(dir, repoCache),
	}

	if root != nil {
		t.RootID = root.ID.String()
		t.nodes[root.ID.String()] = root
	}
	return t, nil
}

// NewNodeID mints a fresh `_`-prefixed transaction-scoped node ID.
func (t *Transaction) NewNodeID() string {
	return ids.NewTxnScopedID(t.nextNodeID)
}

// NewCopyID mints a fresh `_`-prefixed transaction-scoped copy ID.
func (t *Transaction) NewCopyID() string {
	return ids.NewTxnScopedID(t.nextCopyID)
}

// PutNodeRevision stores (or replaces) the mutable node-revision
// record for id within this transaction.
func (t *Transaction) PutNodeRevision(n *noderev.NodeRevision) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[n.ID.String()] = n
}

// NodeRevision returns the mutable record for id, if any.
func (t *Transaction) NodeRevision(id string) (*noderev.NodeRevision, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	return n, ok
}

// AllNodeRevisions returns every node revision currently staged in
// this transaction, for the commit pipeline's tree walk.
func (t *Transaction) AllNodeRevisions() []*noderev.NodeRevision {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*noderev.NodeRevision, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedPath < out[j].CreatedPath })
	return out
}

// SetEntry appends an incremental add/delete to dirID's mutable
// children overlay.
func (t *Transaction) SetEntry(dirID, name string, child *noderev.DirEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if child == nil {
		t.children[dirID] = append(t.children[dirID], noderev.IncrementalOp{Delete: true, Name: name})
		return
	}
	t.children[dirID] = append(t.children[dirID], noderev.IncrementalOp{Entry: *child})
}

// ChildrenOverlay returns dirID's pending incremental ops, in the
// order they were appended.
func (t *Transaction) ChildrenOverlay(dirID string) []noderev.IncrementalOp {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]noderev.IncrementalOp(nil), t.children[dirID]...)
}

// SetProplist replaces id's pending property list for this transaction.
func (t *Transaction) SetProplist(id string, props map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.props[id] = props
}

// Proplist returns id's pending property list, if any.
func (t *Transaction) Proplist(id string) (map[string]string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.props[id]
	return p, ok
}

// AddChange appends a change record to the transaction's changes log.
func (t *Transaction) AddChange(c Change) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.changes = append(t.changes, c)
}

// Changes returns the raw (unfolded) change log in append order.
func (t *Transaction) Changes() []Change {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Change(nil), t.changes...)
}

// protoRevSize returns the proto-revision file's current length,
// i.e. the offset the next representation header will be written at.
func (t *Transaction) protoRevSize() (int64, error) {
	info, err := t.protoRev.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// SetContents writes a file's representation into the proto-revision
// file and consults rep-sharing. The delta-base decision
// (rep.SelectBase) is made by the
// caller, which alone has the predecessor chain and revision-file
// access needed to resolve a base's representation and fulltext;
// useDelta/base/baseFulltext here are that decision already applied.
//
// Returns ErrRepresentationBeingWritten, without writing anything, if
// another writer already holds this transaction's proto-revision lock.
func (t *Transaction) SetContents(useDelta bool, base *rep.Representation, baseFulltext, newFulltext []byte, isDirOrProp bool) (*rep.Representation, error) {
	release, err := t.lock.tryAcquire()
	if err != nil {
		return nil, err
	}
	defer release()

	offset, err := t.protoRevSize()
	if err != nil {
		return nil, errors.Wrap(err, "reading proto-revision size")
	}

	r := &rep.Representation{
		Key:        rep.Key{Revision: t.BaseRev + 1, Offset: offset},
		TxnID:      t.ID,
		Uniquifier: fmt.Sprintf("%s/new", t.ID),
		HasSHA1:    !isDirOrProp,
	}

	var payload []byte
	if !useDelta || base == nil {
		kind, body, err := rep.EncodePlainBody(newFulltext)
		if err != nil {
			return nil, errors.Wrap(err, "encoding representation body")
		}
		r.Kind = kind
		payload = body
	} else {
		r.Kind = rep.Delta
		r.Base = base.Key
		r.BaseLen = base.OnDiskSize
		ops := svndiff.Encode(baseFulltext, newFulltext)
		var buf bytes.Buffer
		if err := svndiff.WriteWindow(&buf, ops); err != nil {
			return nil, errors.Wrap(err, "encoding svndiff window")
		}
		payload = buf.Bytes()
	}

	if err := t.writeRepresentationBody(r, payload); err != nil {
		return nil, err
	}

	r.ExpandedSize = int64(len(newFulltext))
	r.MD5 = md5.Sum(newFulltext)
	sha := sha1.Sum(newFulltext)
	r.SHA1 = sha

	if !isDirOrProp && t.Sharer != nil {
		if existing, ok := t.Sharer.Lookup(sha); ok {
			if err := t.truncateTo(offset); err != nil {
				return nil, err
			}
			r.Kind = rep.Plain // the shared rep's own kind is whatever it was written as
			r.Key = existing.Key
			r.OnDiskSize = existing.OnDiskSize
			r.TxnID = "" // already committed: finalizeNode must not renumber its Key
			return r, nil
		}
		_ = t.Sharer.Remember(rep.Entry{SHA1: sha, Key: r.Key, OnDiskSize: r.OnDiskSize, ExpandedSize: r.ExpandedSize})
	}

	return r, nil
}

func (t *Transaction) writeRepresentationBody(r *rep.Representation, payload []byte) error {
	start, err := t.protoRevSize()
	if err != nil {
		return err
	}
	if _, err := t.protoRev.Seek(0, os.SEEK_END); err != nil {
		return err
	}
	header := r.HeaderLine() + "\n"
	if _, err := t.protoRev.WriteString(header); err != nil {
		return errors.Wrap(err, "writing representation header")
	}
	if _, err := t.protoRev.Write(payload); err != nil {
		return errors.Wrap(err, "writing representation payload")
	}
	if _, err := t.protoRev.WriteString(rep.EndRepSentinel + "\n"); err != nil {
		return errors.Wrap(err, "writing ENDREP sentinel")
	}
	end, err := t.protoRevSize()
	if err != nil {
		return err
	}
	r.OnDiskSize = end - start - int64(len(header)) - int64(len(rep.EndRepSentinel)+1)
	return nil
}

// truncateTo seeks-and-truncates the proto-revision file back to
// offset, discarding a representation body made redundant by a
// rep-sharing hit.
func (t *Transaction) truncateTo(offset int64) error {
	if err := t.protoRev.Truncate(offset); err != nil {
		return errors.Wrap(err, "truncating proto-revision file after rep-sharing hit")
	}
	_, err := t.protoRev.Seek(offset, os.SEEK_SET)
	return err
}

// ProtoRevPath exposes the proto-revision file's path for the commit
// pipeline, which appends the node-rev tree and changes list to it
// directly.
func (t *Transaction) ProtoRevPath() string { return t.protoRevPath }

// ProtoRevFile exposes the open proto-revision handle.
func (t *Transaction) ProtoRevFile() *os.File { return t.protoRev }

// Abort removes the transaction directory, its proto-revision, its
// lock file, and releases in-memory state.
func (t *Transaction) Abort() error {
	if t.protoRev != nil {
		t.protoRev.Close()
	}
	if err := os.RemoveAll(t.Dir); err != nil {
		return errors.Wrapf(err, "removing transaction directory %s", t.Dir)
	}
	return nil
}

// Close releases the open proto-revision handle without deleting the
// transaction directory; used once the commit pipeline has renamed
// the proto-revision into place.
func (t *Transaction) Close() error {
	if t.protoRev == nil {
		return nil
	}
	return t.protoRev.Close()
}
