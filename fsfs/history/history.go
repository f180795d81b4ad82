// Package history implements the repository-level revision-hunt
// algorithms that navigate a committed tree without mutating it:
// dated-revision search, deleted-revision bisection, and
// file-revision enumeration across copies.
package history

import (
	"bytes"
	"time"

	"github.com/pkg/errors"

	"github.com/rcowham/svnfsfs/fsfs"
	"github.com/rcowham/svnfsfs/fsfs/rep/svndiff"
	"github.com/rcowham/svnfsfs/fsfs/revreader"
)

// DateFormat is the textual form svn:date is stamped in by the
// commit pipeline: time.RFC3339Nano, always UTC.
const DateFormat = time.RFC3339Nano

// DatedRevision returns the largest revision whose svn:date is at or
// before target, assuming dates are monotonic across revisions: 0 if
// target predates revision 1, youngest if it postdates the youngest
// commit.
func DatedRevision(fsRepo *fsfs.Filesystem, target time.Time) (int64, error) {
	youngest, err := fsRepo.Youngest()
	if err != nil {
		return 0, err
	}

	dateAt := func(rev int64) (time.Time, error) {
		props, err := fsRepo.Revprops(rev)
		if err != nil {
			return time.Time{}, err
		}
		return time.Parse(DateFormat, props["svn:date"])
	}

	lo, hi := int64(0), youngest
	loDate, err := dateAt(lo)
	if err != nil {
		return 0, err
	}
	if target.Before(loDate) {
		return 0, nil
	}
	hiDate, err := dateAt(hi)
	if err != nil {
		return 0, err
	}
	if !target.Before(hiDate) {
		return youngest, nil
	}

	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		midDate, err := dateAt(mid)
		if err != nil {
			return 0, err
		}
		if midDate.After(target) {
			hi = mid
		} else {
			lo = mid
		}
	}
	return lo, nil
}

// FindDeletionRevision finds the revision within [a, b] (reordered
// ascending) at which the entry at p was first deleted or replaced by
// an unrelated node, given that p exists at the lower bound and is
// absent (or unrelated) at the upper bound. It bisects on node-ID
// identity and copy provenance rather than reading every intervening
// revision's full tree.
func FindDeletionRevision(fsRepo *fsfs.Filesystem, p string, a, b int64) (int64, error) {
	start, end := a, b
	if start > end {
		start, end = end, start
	}

	startNode, err := fsRepo.NodeAt(start, p)
	if err != nil {
		return 0, errors.Wrapf(err, "path %q must exist at revision %d", p, start)
	}

	if endNode, err := fsRepo.NodeAt(end, p); err == nil && endNode.ID.NodeID == startNode.ID.NodeID {
		return 0, errors.Errorf("path %q is still present (same node) at revision %d", p, end)
	}

	lo, hi := start, end
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		node, err := fsRepo.NodeAt(mid, p)
		switch {
		case err != nil:
			// Path absent at mid: deleted at or before mid.
			hi = mid
		case node.ID.NodeID != startNode.ID.NodeID:
			// A different node occupies this path now: replaced at
			// or before mid.
			hi = mid
		case node.CopyRoot.Revision > start:
			// The surviving node arrived here via a copy that
			// postdates start, so the original was deleted first.
			hi = mid
		default:
			lo = mid
		}
	}
	return hi, nil
}

// Step is one point in a file's ancestry, emitted oldest-to-newest by
// FileRevisions.
type Step struct {
	Path           string
	Revision       int64
	Merged         bool
	RevisionProps  map[string]string
	NodeProps      map[string]string
	PropsChanged   map[string]string
	ContentChanged bool

	// TextDelta is an svndiff-encoded window transforming the
	// previous step's fulltext into this step's, or a from-empty
	// delta for the first step. Nil when ContentChanged is false.
	TextDelta []byte
}

// FileRevisions walks p's ancestry backward from headRev via each
// node-revision's PredecessorID (switching to CopyFromPath whenever a
// step was created by a copy), then replays the resulting steps
// oldest-to-newest computing prop-diffs and lazy text deltas.
//
// Merge-source tracking is not modeled by this engine beyond the
// HasMergeinfo flag (see DESIGN.md), so every emitted step carries
// Merged = false; a follow-merges mode would additionally walk each
// step's recorded merge sources.
func FileRevisions(fsRepo *fsfs.Filesystem, p string, headRev int64) ([]Step, error) {
	head, err := fsRepo.NodeAt(headRev, p)
	if err != nil {
		return nil, err
	}

	type tuple struct {
		path string
		rev  int64
	}

	var tuples []tuple
	path := p
	id := head.ID
	for {
		tuples = append(tuples, tuple{path: path, rev: id.Rev})
		node, err := fsRepo.NodeRevisionByID(id)
		if err != nil {
			return nil, err
		}
		if node.PredecessorID == nil {
			break
		}
		if node.CopyFromPath != "" {
			path = node.CopyFromPath
		}
		id = *node.PredecessorID
	}

	steps := make([]Step, len(tuples))
	var prevFulltext []byte
	havePrev := false
	for i := len(tuples) - 1; i >= 0; i-- {
		out := len(tuples) - 1 - i
		tup := tuples[i]

		revProps, err := fsRepo.Revprops(tup.rev)
		if err != nil {
			return nil, err
		}

		node, err := fsRepo.NodeAt(tup.rev, tup.path)
		if err != nil {
			return nil, err
		}

		nodeProps := map[string]string{}
		if node.PropRep != nil {
			data, err := fsRepo.Fulltext(node.PropRep)
			if err != nil {
				return nil, err
			}
			nodeProps, err = revreader.ParseRevprops(data)
			if err != nil {
				return nil, err
			}
		}

		var fulltext []byte
		if node.DataRep != nil {
			fulltext, err = fsRepo.Fulltext(node.DataRep)
			if err != nil {
				return nil, err
			}
		}

		step := Step{
			Path:          tup.path,
			Revision:      tup.rev,
			RevisionProps: revProps,
			NodeProps:     nodeProps,
		}
		if havePrev {
			step.PropsChanged = diffProps(steps[out-1].NodeProps, nodeProps)
			step.ContentChanged = !bytes.Equal(prevFulltext, fulltext)
		} else {
			step.ContentChanged = true
		}
		if step.ContentChanged {
			ops := svndiff.Encode(prevFulltext, fulltext)
			var buf bytes.Buffer
			if err := svndiff.WriteWindow(&buf, ops); err != nil {
				return nil, err
			}
			step.TextDelta = buf.Bytes()
		}

		steps[out] = step
		prevFulltext = fulltext
		havePrev = true
	}
	return steps, nil
}

func diffProps(prev, cur map[string]string) map[string]string {
	diff := map[string]string{}
	for k, v := range cur {
		if prevV, ok := prev[k]; !ok || prevV != v {
			diff[k] = v
		}
	}
	return diff
}
