package commit

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/rcowham/svnfsfs/fsfs/noderev"
	"github.com/rcowham/svnfsfs/fsfs/transaction"
)

// Folded is one path's change record after folding.
type Folded struct {
	Path         string
	ID           string
	Kind         transaction.ChangeKind
	NodeKind     noderev.Kind
	TextMod      bool
	PropMod      bool
	CopyfromPath string
	CopyfromRev  int64
}

// Fold merges a transaction's raw (append-order) change log into one
// record per path. The same function backs both commit-time folding
// (prefolded=false, since the in-progress log still needs sub-path
// pruning under a delete/replace) and changed-paths-fetch folding of
// an already-committed, already-pruned stream (prefolded=true).
func Fold(changes []transaction.Change, prefolded bool) (map[string]Folded, error) {
	folded := make(map[string]Folded)

	for _, c := range changes {
		if c.Kind != transaction.ChangeReset && c.ID == "" {
			return nil, errors.Errorf("change on %q has no node-revision id", c.Path)
		}

		prev, havePrev := folded[c.Path]

		if havePrev && c.Kind != transaction.ChangeReset {
			if prev.ID != c.ID && prev.Kind != transaction.ChangeDelete {
				return nil, errors.Errorf("change on %q follows a non-delete change with a different node-revision id", c.Path)
			}
			switch c.Kind {
			case transaction.ChangeAdd:
				if prev.Kind != transaction.ChangeDelete {
					return nil, errors.Errorf("add on %q follows a change that is neither delete nor reset", c.Path)
				}
			case transaction.ChangeDelete:
				// two deletes collapse to one; falls through below.
			case transaction.ChangeReplace:
				// a replace may follow any change, a delete included.
			default:
				if prev.Kind == transaction.ChangeDelete {
					return nil, errors.Errorf("change on %q follows a delete with a kind other than add, replace, or reset", c.Path)
				}
			}
		}

		switch c.Kind {
		case transaction.ChangeReset:
			delete(folded, c.Path)
			continue
		case transaction.ChangeDelete:
			if havePrev && prev.Kind == transaction.ChangeAdd {
				// the path was introduced by this same transaction and
				// is now gone again: it never existed as far as the
				// folded record is concerned.
				delete(folded, c.Path)
				continue
			}
			folded[c.Path] = Folded{Path: c.Path, ID: c.ID, Kind: transaction.ChangeDelete, NodeKind: c.NodeKind}
		case transaction.ChangeModify:
			if havePrev && prev.Kind == transaction.ChangeModify {
				folded[c.Path] = Folded{
					Path: c.Path, ID: c.ID, Kind: transaction.ChangeModify, NodeKind: c.NodeKind,
					TextMod: prev.TextMod || c.TextMod, PropMod: prev.PropMod || c.PropMod,
				}
			} else {
				folded[c.Path] = Folded{Path: c.Path, ID: c.ID, Kind: c.Kind, NodeKind: c.NodeKind, TextMod: c.TextMod, PropMod: c.PropMod}
			}
		case transaction.ChangeAdd, transaction.ChangeReplace:
			kind := c.Kind
			if havePrev && prev.Kind == transaction.ChangeDelete {
				// delete then add on the same path folds to a replace.
				kind = transaction.ChangeReplace
			}
			folded[c.Path] = Folded{
				Path: c.Path, ID: c.ID, Kind: kind, NodeKind: c.NodeKind, TextMod: c.TextMod, PropMod: c.PropMod,
				CopyfromPath: c.CopyfromPath, CopyfromRev: c.CopyfromRev,
			}
		default:
			return nil, errors.Errorf("unknown change kind for %q", c.Path)
		}
	}

	if !prefolded {
		pruneDescendants(folded)
	}

	return folded, nil
}

// pruneDescendants removes every folded entry strictly beneath a
// delete or replace, since the ancestor's removal already accounts
// for them. Skipped when the caller says the stream is already
// pre-folded (the committed on-disk stream always is).
func pruneDescendants(folded map[string]Folded) {
	var prefixes []string
	for path, f := range folded {
		if f.Kind == transaction.ChangeDelete || f.Kind == transaction.ChangeReplace {
			prefixes = append(prefixes, path)
		}
	}
	if len(prefixes) == 0 {
		return
	}
	sort.Strings(prefixes)
	for path := range folded {
		for _, prefix := range prefixes {
			if path == prefix {
				continue
			}
			if strings.HasPrefix(path, prefix+"/") {
				delete(folded, path)
				break
			}
		}
	}
}

// SortedPaths returns folded's keys in lexicographic (depth-first
// equivalent) order, the order the commit pipeline's lock-verification
// step and serialization step both require.
func SortedPaths(folded map[string]Folded) []string {
	paths := make([]string, 0, len(folded))
	for p := range folded {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
