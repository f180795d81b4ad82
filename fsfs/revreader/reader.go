package revreader

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/rcowham/svnfsfs/fsfs/commit"
	"github.com/rcowham/svnfsfs/fsfs/ids"
	"github.com/rcowham/svnfsfs/fsfs/noderev"
	"github.com/rcowham/svnfsfs/fsfs/rep"
	"github.com/rcowham/svnfsfs/fsfs/rep/svndiff"
	"github.com/rcowham/svnfsfs/fsfs/transaction"
)

// Store reads committed revisions out of a repository's revs tree. One
// Store is shared across every *Revision opened against the same
// repository, so its directory-listing cache actually pays off.
type Store struct {
	Locator Locator
	dirs    *dirCache
}

// NewStore builds a Store with a directory-listing cache sized
// dirCacheSize (DefaultDirCacheSize if <= 0).
func NewStore(locator Locator, dirCacheSize int) (*Store, error) {
	dirs, err := newDirCache(dirCacheSize)
	if err != nil {
		return nil, err
	}
	return &Store{Locator: locator, dirs: dirs}, nil
}

// Revision is one opened revision file: its trailer already parsed.
type Revision struct {
	Number        int64
	RootOffset    int64
	ChangesOffset int64
}

// Open locates and parses revision rev's trailer. youngest is the
// repository's current youngest revision, consulted for the
// "no such revision" bounds check spec'd for opening a revision.
func (s *Store) Open(rev, youngest int64) (*Revision, error) {
	if rev > youngest || rev < 0 {
		return nil, errors.Errorf("no such revision %d", rev)
	}
	section, closeFn, err := s.Locator.section(rev)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	root, changes, err := readTrailer(section)
	if err != nil {
		return nil, err
	}
	return &Revision{Number: rev, RootOffset: root, ChangesOffset: changes}, nil
}

// Root reads the revision's root node revision.
func (s *Store) Root(rv *Revision) (*noderev.NodeRevision, error) {
	return s.NodeRevisionAt(rep.Key{Revision: rv.Number, Offset: rv.RootOffset})
}

// NodeRevisionAt reads the node-revision record stored at key, within
// key.Revision's own revision file.
func (s *Store) NodeRevisionAt(key rep.Key) (*noderev.NodeRevision, error) {
	section, closeFn, err := s.Locator.section(key.Revision)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	br := bufio.NewReader(newOffsetReader(section, key.Offset))
	return noderev.Decode(br, s.dataRepOf, s.propRepOf)
}

// PredecessorResolver fetches an already-committed node revision by
// its unparse-form ID, for callers (chiefly fsfs/commit) that only
// know the committed form `node.copy.r<rev>/<offset>`.
func (s *Store) PredecessorResolver(id string) (*noderev.NodeRevision, error) {
	parsed, err := ids.Parse(id)
	if err != nil {
		return nil, err
	}
	if parsed.IsTransactional() {
		return nil, errors.Errorf("cannot resolve transaction-scoped id %s as a predecessor", id)
	}
	return s.NodeRevisionAt(rep.Key{Revision: parsed.Rev, Offset: parsed.Offset})
}

// FulltextResolver adapts Fulltext to the fsfs/commit.FulltextResolver
// function type.
func (s *Store) FulltextResolver(r *rep.Representation) ([]byte, error) {
	return s.Fulltext(r)
}

func (s *Store) dataRepOf(k rep.Key) (*rep.Representation, error) {
	return s.representationAt(k, true)
}

func (s *Store) propRepOf(k rep.Key) (*rep.Representation, error) {
	return s.representationAt(k, false)
}

// representationAt reads a representation's header and measures its
// on-disk payload size by scanning to the ENDREP sentinel. The node-rev
// record only stores (revision, offset); everything else about the
// representation is recovered from the representation stream itself.
func (s *Store) representationAt(key rep.Key, hasSHA1 bool) (*rep.Representation, error) {
	kind, base, baseLen, payload, err := s.readHeaderAndPayload(key)
	if err != nil {
		return nil, err
	}
	// ExpandedSize isn't recoverable from the on-disk stream alone for
	// a DELTA representation without applying its whole chain; callers
	// that need the true expanded size call Fulltext and measure it.
	// PlainCompressed is the one kind cheap to expand right here, so we
	// do, keeping ExpandedSize meaningful for gzipped bodies too.
	expanded := int64(len(payload))
	if kind == rep.PlainCompressed {
		fulltext, err := rep.DecodePlainBody(kind, payload)
		if err != nil {
			return nil, errors.Wrapf(err, "expanding gzipped representation at r%d/%d", key.Revision, key.Offset)
		}
		expanded = int64(len(fulltext))
	}
	return &rep.Representation{
		Key:          key,
		Kind:         kind,
		Base:         base,
		BaseLen:      baseLen,
		OnDiskSize:   int64(len(payload)),
		ExpandedSize: expanded,
		HasSHA1:      hasSHA1,
	}, nil
}

// readHeaderAndPayload reads key's header line and its full payload
// (everything up to but excluding the ENDREP sentinel).
func (s *Store) readHeaderAndPayload(key rep.Key) (kind rep.Kind, base rep.Key, baseLen int64, payload []byte, err error) {
	section, closeFn, err := s.Locator.section(key.Revision)
	if err != nil {
		return 0, rep.Key{}, 0, nil, err
	}
	defer closeFn()

	br := bufio.NewReader(newOffsetReader(section, key.Offset))
	headerLine, err := br.ReadString('\n')
	if err != nil {
		return 0, rep.Key{}, 0, nil, errors.Wrap(err, "reading representation header")
	}
	kind, base, baseLen, err = rep.ParseHeaderLine(headerLine)
	if err != nil {
		return 0, rep.Key{}, 0, nil, err
	}
	payload, err = readUntilEndRep(br)
	if err != nil {
		return 0, rep.Key{}, 0, nil, err
	}
	return kind, base, baseLen, payload, nil
}

// Fulltext reassembles r's fulltext, following its delta chain back to
// a PLAIN base and applying svndiff windows from root to leaf.
func (s *Store) Fulltext(r *rep.Representation) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	return s.fulltextAt(r.Key)
}

func (s *Store) fulltextAt(key rep.Key) ([]byte, error) {
	kind, base, _, payload, err := s.readHeaderAndPayload(key)
	if err != nil {
		return nil, err
	}
	if kind == rep.Plain || kind == rep.PlainCompressed {
		return rep.DecodePlainBody(kind, payload)
	}
	baseBytes, err := s.fulltextAt(base)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving delta base for representation at r%d/%d", key.Revision, key.Offset)
	}
	ops, err := svndiff.ReadWindow(bufio.NewReader(bytes.NewReader(payload)))
	if err != nil {
		return nil, errors.Wrap(err, "reading svndiff window")
	}
	return svndiff.Apply(baseBytes, ops)
}

// DirEntries returns node's directory listing, consulting (and
// populating) the per-process directory cache.
func (s *Store) DirEntries(node *noderev.NodeRevision) ([]noderev.DirEntry, error) {
	id := node.ID.String()
	if entries, ok := s.dirs.get(id); ok {
		return entries, nil
	}
	fulltext, err := s.Fulltext(node.DataRep)
	if err != nil {
		return nil, errors.Wrapf(err, "reassembling directory fulltext for %s", node.CreatedPath)
	}
	entries, err := noderev.ParseDirEntries(fulltext)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing directory entries for %s", node.CreatedPath)
	}
	s.dirs.put(id, entries)
	return entries, nil
}

// ChangedPaths parses and folds rv's committed change list.
// Committed streams are always pre-folded.
func (s *Store) ChangedPaths(rv *Revision) (map[string]commit.Folded, error) {
	changes, err := s.readChanges(rv)
	if err != nil {
		return nil, err
	}
	return commit.Fold(changes, true)
}

// readChanges parses every changed-path record between the changes
// offset and the trailer that always terminates the section.
func (s *Store) readChanges(rv *Revision) ([]transaction.Change, error) {
	section, closeFn, err := s.Locator.section(rv.Number)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	br := bufio.NewReader(newOffsetReader(section, rv.ChangesOffset))
	var lines []string
	for {
		line, err := br.ReadString('\n')
		line = strings.TrimRight(line, "\n")
		if line != "" {
			lines = append(lines, line)
		}
		if err != nil {
			break
		}
	}
	if len(lines) == 0 {
		return nil, errors.New("corrupt revision: missing trailer after changes list")
	}
	// the last line is always the trailer, not a changed-path record.
	lines = lines[:len(lines)-1]

	out := make([]transaction.Change, 0, len(lines))
	for _, line := range lines {
		c, err := parseChangeLine(line)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// parseChangeLine reverses the line format fsfs/commit.writeChanges
// writes: "id kind nodekind path textmod propmod copyfrompath copyfromrev".
func parseChangeLine(line string) (transaction.Change, error) {
	fields := strings.Fields(line)
	if len(fields) != 8 {
		return transaction.Change{}, errors.Errorf("corrupt changed-path record %q", line)
	}
	kind, err := transaction.ParseChangeKind(fields[1])
	if err != nil {
		return transaction.Change{}, err
	}
	nodeKind, err := noderev.ParseKind(fields[2])
	if err != nil {
		return transaction.Change{}, err
	}
	textMod, err1 := strconv.ParseBool(fields[4])
	propMod, err2 := strconv.ParseBool(fields[5])
	if err1 != nil || err2 != nil {
		return transaction.Change{}, errors.Errorf("corrupt changed-path record %q", line)
	}
	copyfromPath := fields[6]
	if copyfromPath == "-" {
		copyfromPath = ""
	}
	copyfromRev, err := strconv.ParseInt(fields[7], 10, 64)
	if err != nil {
		return transaction.Change{}, errors.Errorf("corrupt changed-path record %q", line)
	}
	return transaction.Change{
		ID: fields[0], Kind: kind, NodeKind: nodeKind, Path: fields[3],
		TextMod: textMod, PropMod: propMod,
		CopyfromPath: copyfromPath, CopyfromRev: copyfromRev,
	}, nil
}
