package fsfs

import (
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/rcowham/svnfsfs/fsfs/commit"
	"github.com/rcowham/svnfsfs/fsfs/ids"
	"github.com/rcowham/svnfsfs/fsfs/noderev"
	"github.com/rcowham/svnfsfs/fsfs/rep"
)

// ReadFile walks from rev's root down path's components and returns
// the file's fulltext. It fails with NoSuchRevision-category detail
// folded into a generic corruption error if any component is missing
// or is not a directory.
func (fs *Filesystem) ReadFile(rev int64, p string) ([]byte, error) {
	node, err := fs.stat(rev, p)
	if err != nil {
		return nil, err
	}
	if node.Kind != noderev.File {
		return nil, newError(Corruption, "read-file", p, errors.Errorf("%q is not a file", p))
	}
	data, err := fs.reader.Fulltext(node.DataRep)
	if err != nil {
		return nil, newError(Corruption, "read-file", p, err)
	}
	return data, nil
}

// DirEntries lists the immediate children of the directory at path p
// in revision rev.
func (fs *Filesystem) DirEntries(rev int64, p string) ([]noderev.DirEntry, error) {
	node, err := fs.stat(rev, p)
	if err != nil {
		return nil, err
	}
	if node.Kind != noderev.Dir {
		return nil, newError(Corruption, "dir-entries", p, errors.Errorf("%q is not a directory", p))
	}
	return fs.reader.DirEntries(node)
}

// ChangedPaths returns the folded changed-path list recorded for rev.
func (fs *Filesystem) ChangedPaths(rev int64) (map[string]commit.Folded, error) {
	youngest, err := fs.Youngest()
	if err != nil {
		return nil, err
	}
	rv, err := fs.reader.Open(rev, youngest)
	if err != nil {
		return nil, newError(NoSuchRevision, "changed-paths", "", err)
	}
	return fs.reader.ChangedPaths(rv)
}

// Revprops returns revision rev's property list.
func (fs *Filesystem) Revprops(rev int64) (map[string]string, error) {
	props, err := fs.revprops.Read(rev)
	if err != nil {
		return nil, newError(IOFailure, "revprops", "", err)
	}
	return props, nil
}

// Root returns the root node revision of rev.
func (fs *Filesystem) Root(rev int64) (*noderev.NodeRevision, error) {
	youngest, err := fs.Youngest()
	if err != nil {
		return nil, err
	}
	rv, err := fs.reader.Open(rev, youngest)
	if err != nil {
		return nil, newError(NoSuchRevision, "root", "", err)
	}
	return fs.reader.Root(rv)
}

// Fulltext reconstructs the fulltext a representation describes,
// walking its delta chain if necessary. Exported for callers (the
// history navigator) that already hold a *rep.Representation from a
// NodeAt result and need its bytes directly.
func (fs *Filesystem) Fulltext(r *rep.Representation) ([]byte, error) {
	data, err := fs.reader.Fulltext(r)
	if err != nil {
		return nil, newError(Corruption, "fulltext", "", err)
	}
	return data, nil
}

// NodeRevisionByID resolves a committed node-revision ID directly,
// without a directory walk. Used by the history navigator to follow
// a node's PredecessorID chain.
func (fs *Filesystem) NodeRevisionByID(id ids.ID) (*noderev.NodeRevision, error) {
	node, err := fs.reader.NodeRevisionAt(rep.Key{Revision: id.Rev, Offset: id.Offset})
	if err != nil {
		return nil, newError(Corruption, "node-revision", "", err)
	}
	return node, nil
}

// NodeAt resolves p within rev and returns its full node-revision
// record, for callers (the history navigator) that need more than
// ReadFile/DirEntries expose: the node's identity, predecessor chain,
// and copy provenance.
func (fs *Filesystem) NodeAt(rev int64, p string) (*noderev.NodeRevision, error) {
	return fs.stat(rev, p)
}

// stat resolves p (an absolute repository path, `/`-separated) against
// rev's root, one directory listing per path component.
func (fs *Filesystem) stat(rev int64, p string) (*noderev.NodeRevision, error) {
	youngest, err := fs.Youngest()
	if err != nil {
		return nil, err
	}
	rv, err := fs.reader.Open(rev, youngest)
	if err != nil {
		return nil, newError(NoSuchRevision, "stat", p, err)
	}
	node, err := fs.reader.Root(rv)
	if err != nil {
		return nil, newError(Corruption, "stat", p, err)
	}

	clean := strings.Trim(path.Clean("/"+p), "/")
	if clean == "" || clean == "." {
		return node, nil
	}

	for _, name := range strings.Split(clean, "/") {
		if node.Kind != noderev.Dir {
			return nil, newError(Corruption, "stat", p, errors.Errorf("%q is not a directory", node.CreatedPath))
		}
		entries, err := fs.reader.DirEntries(node)
		if err != nil {
			return nil, newError(Corruption, "stat", p, err)
		}
		child, ok := findEntry(entries, name)
		if !ok {
			return nil, newError(NoSuchRevision, "stat", p, errors.Errorf("no such entry %q", name))
		}
		node, err = fs.reader.NodeRevisionAt(rep.Key{Revision: child.ID.Rev, Offset: child.ID.Offset})
		if err != nil {
			return nil, newError(Corruption, "stat", p, err)
		}
	}
	return node, nil
}

func findEntry(entries []noderev.DirEntry, name string) (noderev.DirEntry, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}
	return noderev.DirEntry{}, false
}
