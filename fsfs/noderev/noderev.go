// Package noderev implements the node-revision layer: the immutable
// per-node metadata record, and the directory entries text format.
package noderev

import (
	"bufio"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rcowham/svnfsfs/fsfs/ids"
	"github.com/rcowham/svnfsfs/fsfs/rep"
)

// Kind is the closed set of filesystem entity kinds a node revision
// can describe.
type Kind int

const (
	File Kind = iota
	Dir
	Symlink
)

func (k Kind) String() string {
	switch k {
	case File:
		return "file"
	case Dir:
		return "dir"
	case Symlink:
		return "symlink"
	default:
		return "unknown"
	}
}

func ParseKind(s string) (Kind, error) {
	switch s {
	case "file":
		return File, nil
	case "dir":
		return Dir, nil
	case "symlink":
		return Symlink, nil
	default:
		return 0, errors.Errorf("unknown node kind %q", s)
	}
}

// CopyRoot names the nearest ancestor node created by a copy: the ID
// of that node revision and the revision it was created in.
type CopyRoot struct {
	NodeID   string
	CopyID   string
	Revision int64
}

// NodeRevision is the immutable record describing one
// version of one filesystem entity.
type NodeRevision struct {
	Kind Kind
	ID   ids.ID

	// PredecessorID is nil for a node revision with no history (the
	// very first revision of a freshly-created node).
	PredecessorID    *ids.ID
	PredecessorCount int

	CreatedPath string

	CopyRoot     CopyRoot
	CopyFromPath string // empty unless this node revision is a copy
	CopyFromRev  int64

	DataRep *rep.Representation
	PropRep *rep.Representation

	HasMergeinfo bool

	// FreshTxnRoot marks a node revision as the just-minted root of a
	// transaction; cleared at commit.
	FreshTxnRoot bool
}

// Encode serializes a node revision into the line-oriented record
// format this engine writes into revision and proto-revision files:
// one `key value` pair per line, terminated by END.
func (n *NodeRevision) Encode() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "kind %s\n", n.Kind)
	fmt.Fprintf(&b, "id %s\n", n.ID)
	if n.PredecessorID != nil {
		fmt.Fprintf(&b, "pred %s\n", n.PredecessorID)
	}
	fmt.Fprintf(&b, "predcount %d\n", n.PredecessorCount)
	fmt.Fprintf(&b, "createdpath %s\n", n.CreatedPath)
	fmt.Fprintf(&b, "copyroot %s %s %d\n", n.CopyRoot.NodeID, n.CopyRoot.CopyID, n.CopyRoot.Revision)
	if n.CopyFromPath != "" {
		fmt.Fprintf(&b, "copyfrom %s %d\n", n.CopyFromPath, n.CopyFromRev)
	}
	if n.DataRep != nil {
		fmt.Fprintf(&b, "datarep %d %d\n", n.DataRep.Revision, n.DataRep.Offset)
	}
	if n.PropRep != nil {
		fmt.Fprintf(&b, "proprep %d %d\n", n.PropRep.Revision, n.PropRep.Offset)
	}
	if n.HasMergeinfo {
		fmt.Fprintf(&b, "mergeinfo 1\n")
	}
	if n.FreshTxnRoot {
		fmt.Fprintf(&b, "freshtxnroot 1\n")
	}
	b.WriteString("END\n")
	return []byte(b.String())
}

// Decode parses the record Encode produces. dataRepOf/propRepOf
// resolve a bare (revision, offset) pair back to the full
// representation descriptor stored at that location; revreader
// supplies these since only it has revision-file access.
func Decode(r *bufio.Reader, dataRepOf, propRepOf func(rep.Key) (*rep.Representation, error)) (*NodeRevision, error) {
	n := &NodeRevision{}
	for {
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			return nil, errors.Wrap(err, "reading node-revision record")
		}
		line = strings.TrimRight(line, "\n")
		if line == "END" {
			break
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			return nil, errors.Errorf("corrupt node-revision line %q", line)
		}
		key, value := fields[0], fields[1]
		switch key {
		case "kind":
			k, err := ParseKind(value)
			if err != nil {
				return nil, err
			}
			n.Kind = k
		case "id":
			id, err := ids.Parse(value)
			if err != nil {
				return nil, err
			}
			n.ID = id
		case "pred":
			id, err := ids.Parse(value)
			if err != nil {
				return nil, err
			}
			n.PredecessorID = &id
		case "predcount":
			v, err := strconv.Atoi(value)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing predcount %q", value)
			}
			n.PredecessorCount = v
		case "createdpath":
			n.CreatedPath = value
		case "copyroot":
			parts := strings.Fields(value)
			if len(parts) != 3 {
				return nil, errors.Errorf("corrupt copyroot %q", value)
			}
			rev, err := strconv.ParseInt(parts[2], 10, 64)
			if err != nil {
				return nil, err
			}
			n.CopyRoot = CopyRoot{NodeID: parts[0], CopyID: parts[1], Revision: rev}
		case "copyfrom":
			parts := strings.Fields(value)
			if len(parts) != 2 {
				return nil, errors.Errorf("corrupt copyfrom %q", value)
			}
			rev, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return nil, err
			}
			n.CopyFromPath = parts[0]
			n.CopyFromRev = rev
		case "datarep":
			k, err := parseKeyPair(value)
			if err != nil {
				return nil, err
			}
			if dataRepOf != nil {
				dr, err := dataRepOf(k)
				if err != nil {
					return nil, err
				}
				n.DataRep = dr
			}
		case "proprep":
			k, err := parseKeyPair(value)
			if err != nil {
				return nil, err
			}
			if propRepOf != nil {
				pr, err := propRepOf(k)
				if err != nil {
					return nil, err
				}
				n.PropRep = pr
			}
		case "mergeinfo":
			n.HasMergeinfo = value == "1"
		case "freshtxnroot":
			n.FreshTxnRoot = value == "1"
		default:
			return nil, errors.Errorf("unknown node-revision field %q", key)
		}
	}
	return n, nil
}

func parseKeyPair(value string) (rep.Key, error) {
	parts := strings.Fields(value)
	if len(parts) != 2 {
		return rep.Key{}, errors.Errorf("corrupt representation reference %q", value)
	}
	rev, err1 := strconv.ParseInt(parts[0], 10, 64)
	off, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return rep.Key{}, errors.Errorf("corrupt representation reference %q", value)
	}
	return rep.Key{Revision: rev, Offset: off}, nil
}

// DirEntry is one (name -> child) mapping inside a directory's
// data-rep, serialized as an order-independent set but always written
// out sorted.
type DirEntry struct {
	Name string
	Kind Kind
	ID   ids.ID
}

// SerializeDirEntries writes the PLAIN text mapping format:
// `K name` / `V <kind> <id>` pairs per entry, `END` terminated,
// always emitted in sorted (lexicographic) name order.
func SerializeDirEntries(entries []DirEntry) []byte {
	sorted := append([]DirEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var b strings.Builder
	for _, e := range sorted {
		fmt.Fprintf(&b, "K %s\n", e.Name)
		fmt.Fprintf(&b, "V %s %s\n", e.Kind, e.ID)
	}
	b.WriteString("END\n")
	return []byte(b.String())
}

// ParseDirEntries reverses SerializeDirEntries.
func ParseDirEntries(data []byte) ([]DirEntry, error) {
	r := bufio.NewScanner(strings.NewReader(string(data)))
	var entries []DirEntry
	var pendingName string
	haveName := false
	for r.Scan() {
		line := r.Text()
		if line == "END" {
			break
		}
		if strings.HasPrefix(line, "K ") {
			pendingName = line[2:]
			haveName = true
			continue
		}
		if strings.HasPrefix(line, "V ") {
			if !haveName {
				return nil, errors.Errorf("directory entry value with no preceding name: %q", line)
			}
			fields := strings.SplitN(line[2:], " ", 2)
			if len(fields) != 2 {
				return nil, errors.Errorf("corrupt directory entry value %q", line)
			}
			kind, err := ParseKind(fields[0])
			if err != nil {
				return nil, err
			}
			id, err := ids.Parse(fields[1])
			if err != nil {
				return nil, err
			}
			entries = append(entries, DirEntry{Name: pendingName, Kind: kind, ID: id})
			haveName = false
			continue
		}
		return nil, errors.Errorf("corrupt directory entry line %q", line)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// IncrementalOp is one line of the mutable children overlay file a
// transaction appends to once a directory's data-rep becomes mutable:
// either an upsert (`K name / V ...`) or a deletion (`D name`).
type IncrementalOp struct {
	Delete bool
	Entry  DirEntry // valid when !Delete
	Name   string   // valid when Delete
}

// SerializeIncrementalOp renders one overlay line.
func SerializeIncrementalOp(op IncrementalOp) []byte {
	if op.Delete {
		return []byte(fmt.Sprintf("D %s\n", op.Name))
	}
	return []byte(fmt.Sprintf("K %s\nV %s %s\n", op.Entry.Name, op.Entry.Kind, op.Entry.ID))
}

// ApplyIncremental folds a sequence of incremental ops onto a base set
// of directory entries, returning the resulting entry set.
func ApplyIncremental(base []DirEntry, ops []IncrementalOp) []DirEntry {
	byName := make(map[string]DirEntry, len(base))
	order := make([]string, 0, len(base))
	for _, e := range base {
		if _, ok := byName[e.Name]; !ok {
			order = append(order, e.Name)
		}
		byName[e.Name] = e
	}
	for _, op := range ops {
		if op.Delete {
			delete(byName, op.Name)
			continue
		}
		if _, ok := byName[op.Entry.Name]; !ok {
			order = append(order, op.Entry.Name)
		}
		byName[op.Entry.Name] = op.Entry
	}
	result := make([]DirEntry, 0, len(byName))
	for _, name := range order {
		if e, ok := byName[name]; ok {
			result = append(result, e)
		}
	}
	return result
}

// ParseIncrementalOps reads a mutable children overlay file written
// as a sequence of SerializeIncrementalOp lines.
func ParseIncrementalOps(data []byte) ([]IncrementalOp, error) {
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	var ops []IncrementalOp
	var pendingName string
	haveName := false
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "D ") {
			ops = append(ops, IncrementalOp{Delete: true, Name: line[2:]})
			continue
		}
		if strings.HasPrefix(line, "K ") {
			pendingName = line[2:]
			haveName = true
			continue
		}
		if strings.HasPrefix(line, "V ") {
			if !haveName {
				return nil, errors.Errorf("overlay value with no preceding name: %q", line)
			}
			fields := strings.SplitN(line[2:], " ", 2)
			if len(fields) != 2 {
				return nil, errors.Errorf("corrupt overlay value %q", line)
			}
			kind, err := ParseKind(fields[0])
			if err != nil {
				return nil, err
			}
			id, err := ids.Parse(fields[1])
			if err != nil {
				return nil, err
			}
			ops = append(ops, IncrementalOp{Entry: DirEntry{Name: pendingName, Kind: kind, ID: id}})
			haveName = false
			continue
		}
		return nil, errors.Errorf("corrupt overlay line %q", line)
	}
	return ops, scanner.Err()
}
