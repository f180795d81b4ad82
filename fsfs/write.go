package fsfs

import (
	"errors"
	"path"
	"strings"

	"github.com/rcowham/svnfsfs/fsfs/ids"
	"github.com/rcowham/svnfsfs/fsfs/noderev"
	"github.com/rcowham/svnfsfs/fsfs/rep"
	"github.com/rcowham/svnfsfs/fsfs/transaction"
)

// WriteFile stages an add-or-replace of the file at p within txn:
// it creates any missing intermediate directories (mkdir -p style),
// clones every directory on the path down to p's parent into the
// transaction so its data-rep is rebuilt at commit time, and writes
// contents' representation. When a prior version of the same file
// exists at the transaction's base revision, the new representation's
// delta base is chosen by the same skip-delta selector
// (rep.SelectBase) the commit pipeline uses for directories — file
// content has no on/off toggle the way directory/property
// deltification does; every repeated write to the same path is a
// candidate for DELTA encoding based purely on predecessor-count.
func (fs *Filesystem) WriteFile(txn *transaction.Transaction, p string, contents []byte) error {
	clean := strings.Trim(path.Clean("/"+p), "/")
	if clean == "" {
		return newError(Corruption, "write-file", p, errors.New("cannot write the root as a file"))
	}

	dir, name := path.Split(clean)
	parentID, err := fs.ensureDir(txn, dir)
	if err != nil {
		return err
	}

	fullPath := "/" + clean
	base, statErr := fs.stat(txn.BaseRev, fullPath)
	switch {
	case statErr == nil:
		if base.Kind != noderev.File {
			return newError(Corruption, "write-file", fullPath, errors.New("existing entry is not a file"))
		}
	case isNoSuchRevision(statErr):
		base = nil
	default:
		return statErr
	}

	useDelta, baseRep, baseFulltext, err := fs.selectFileBase(base)
	if err != nil {
		return newError(IOFailure, "write-file", fullPath, err)
	}

	fileRep, err := txn.SetContents(useDelta, baseRep, baseFulltext, contents, false)
	if err != nil {
		return newError(IOFailure, "write-file", p, err)
	}

	var newNode *noderev.NodeRevision
	changeKind := transaction.ChangeAdd
	if base != nil {
		newNode = &noderev.NodeRevision{
			Kind:             noderev.File,
			ID:               ids.Transactional(base.ID.NodeID, base.ID.CopyID, txn.ID),
			PredecessorID:    &base.ID,
			PredecessorCount: base.PredecessorCount + 1,
			CreatedPath:      fullPath,
			CopyRoot:         base.CopyRoot,
			DataRep:          fileRep,
		}
		changeKind = transaction.ChangeModify
	} else {
		newNode = &noderev.NodeRevision{
			Kind:        noderev.File,
			ID:          ids.Transactional(txn.NewNodeID(), txn.NewCopyID(), txn.ID),
			CreatedPath: fullPath,
			DataRep:     fileRep,
		}
	}

	txn.PutNodeRevision(newNode)
	txn.SetEntry(parentID, name, &noderev.DirEntry{Name: name, Kind: noderev.File, ID: newNode.ID})
	txn.AddChange(transaction.Change{
		Path:     fullPath,
		ID:       newNode.ID.String(),
		Kind:     changeKind,
		NodeKind: noderev.File,
		TextMod:  true,
	})
	return nil
}

// selectFileBase decides whether a file write should be DELTA-encoded
// against a prior representation, mirroring the commit pipeline's
// finalizeDirectory: run the skip-delta selector over the new node's
// predecessor-count, then resolve whichever predecessor it names by
// walking the PredecessorID chain back BackSteps hops from base. base
// is nil for a brand-new file, which always yields a PLAIN write
// (predecessor-count 0 already short-circuits rep.SelectBase).
func (fs *Filesystem) selectFileBase(base *noderev.NodeRevision) (bool, *rep.Representation, []byte, error) {
	if base == nil {
		return false, nil, nil, nil
	}

	plan := rep.SelectBase(base.PredecessorCount+1, fs.deltification(), nil)
	if plan.UsePlain {
		return false, nil, nil, nil
	}

	target := base
	for step := 1; step < plan.BackSteps; step++ {
		if target.PredecessorID == nil {
			// Chain shorter than the selector expected; fall back to
			// PLAIN rather than basing against the wrong revision.
			return false, nil, nil, nil
		}
		next, err := fs.NodeRevisionByID(*target.PredecessorID)
		if err != nil {
			return false, nil, nil, err
		}
		target = next
	}
	if target.DataRep == nil {
		return false, nil, nil, nil
	}

	baseFulltext, err := fs.Fulltext(target.DataRep)
	if err != nil {
		return false, nil, nil, err
	}
	return true, target.DataRep, baseFulltext, nil
}

// DeleteEntry stages removal of the entry named by p's final
// component from its parent directory, which is cloned into the
// transaction like any other modified directory.
func (fs *Filesystem) DeleteEntry(txn *transaction.Transaction, p string) error {
	clean := strings.Trim(path.Clean("/"+p), "/")
	if clean == "" {
		return newError(Corruption, "delete-entry", p, errors.New("cannot delete the root"))
	}

	dir, name := path.Split(clean)
	parentID, err := fs.ensureDir(txn, dir)
	if err != nil {
		return err
	}

	txn.SetEntry(parentID, name, nil)
	txn.AddChange(transaction.Change{
		Path: "/" + clean,
		Kind: transaction.ChangeDelete,
	})
	return nil
}

// ensureDir returns the txn-scoped ID string of the directory at
// dirPath (a `/`-separated path relative to the transaction's root,
// possibly empty for the root itself), cloning or freshly creating
// every missing directory along the way and linking each into its
// parent's children overlay.
func (fs *Filesystem) ensureDir(txn *transaction.Transaction, dirPath string) (string, error) {
	clean := strings.Trim(path.Clean("/"+dirPath), "/")
	if clean == "" || clean == "." {
		return txn.RootID, nil
	}

	parentID := txn.RootID
	built := ""
	for _, name := range strings.Split(clean, "/") {
		built = built + "/" + name
		id, err := fs.dirNodeID(txn, parentID, built, name)
		if err != nil {
			return "", err
		}
		parentID = id
	}
	return parentID, nil
}

// dirNodeID returns the txn-scoped ID of the directory at fullPath
// (named name within its already-resolved parentID), staging it into
// the transaction if this is the first time this transaction touches
// it: cloned from the base revision's node of the same path if one
// exists there, or created fresh otherwise.
func (fs *Filesystem) dirNodeID(txn *transaction.Transaction, parentID, fullPath, name string) (string, error) {
	for _, n := range txn.AllNodeRevisions() {
		if n.CreatedPath == fullPath {
			return n.ID.String(), nil
		}
	}

	base, err := fs.stat(txn.BaseRev, fullPath)
	var newNode *noderev.NodeRevision
	switch {
	case err == nil:
		if base.Kind != noderev.Dir {
			return "", newError(Corruption, "write-file", fullPath, errors.New("existing entry is not a directory"))
		}
		newNode = &noderev.NodeRevision{
			Kind:             noderev.Dir,
			ID:               ids.Transactional(base.ID.NodeID, base.ID.CopyID, txn.ID),
			PredecessorID:    &base.ID,
			PredecessorCount: base.PredecessorCount + 1,
			CreatedPath:      fullPath,
			CopyRoot:         base.CopyRoot,
		}
	case isNoSuchRevision(err):
		newNode = &noderev.NodeRevision{
			Kind:        noderev.Dir,
			ID:          ids.Transactional(txn.NewNodeID(), txn.NewCopyID(), txn.ID),
			CreatedPath: fullPath,
		}
	default:
		return "", err
	}

	txn.PutNodeRevision(newNode)
	txn.SetEntry(parentID, name, &noderev.DirEntry{Name: name, Kind: noderev.Dir, ID: newNode.ID})
	return newNode.ID.String(), nil
}

func isNoSuchRevision(err error) bool {
	var fsErr *Error
	if errors.As(err, &fsErr) {
		return fsErr.Kind == NoSuchRevision
	}
	return false
}
