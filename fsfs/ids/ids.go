// Package ids implements the repository's identifier and key scheme:
// base-36 monotonic counters, node/copy/transaction IDs, and the
// committed/transaction unparse forms of a node-revision ID.
package ids

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Counter is a base-36 monotonic counter. txn-current and a
// transaction's next-ids file are both instances of this: a value
// that is read, incremented, and written back under a lock.
type Counter struct {
	mu    sync.Mutex
	value uint64
}

// NewCounter creates a counter starting at start.
func NewCounter(start uint64) *Counter {
	return &Counter{value: start}
}

// Next atomically increments the counter and returns the
// pre-increment value, base-36 encoded.
func (c *Counter) Next() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.value
	c.value++
	return strconv.FormatUint(v, 36)
}

// Peek returns the current value without incrementing.
func (c *Counter) Peek() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// SetIfHigher advances the counter to v if v is larger than the
// current value; used when parsing a legacy `current` file that
// embeds next-node-id/next-copy-id tokens.
func (c *Counter) SetIfHigher(v uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v > c.value {
		c.value = v
	}
}

// txnNodeIDPrefix marks a node-ID or copy-ID minted inside a
// transaction and not yet rewritten to permanent form.
const txnNodeIDPrefix = "_"

// NewTxnScopedID mints a transaction-scoped ID from counter, prefixed
// with `_`.
func NewTxnScopedID(counter *Counter) string {
	return txnNodeIDPrefix + counter.Next()
}

// IsTxnScoped reports whether id still carries its `_` transaction
// prefix, i.e. has not yet been rewritten to permanent form at commit.
func IsTxnScoped(id string) bool {
	return strings.HasPrefix(id, txnNodeIDPrefix)
}

// Permanent rewrites a `_`-prefixed transaction-scoped ID to its
// no-global-IDs permanent form `<localID>-<rev>`.
func Permanent(txnScopedID string, rev int64) string {
	local := strings.TrimPrefix(txnScopedID, txnNodeIDPrefix)
	return fmt.Sprintf("%s-%d", local, rev)
}

// ID is the parsed (node-id, copy-id, revision-or-transaction) triple
// that addresses every node revision.
type ID struct {
	NodeID string
	CopyID string

	// Exactly one of (Rev set, TxnID set) holds: committed form
	// carries Rev (and Offset, for random access); transaction form
	// carries TxnID.
	Rev    int64 // -1 when unset
	Offset int64
	TxnID  string
}

// Committed builds the committed form of an ID: node.copy.r<rev>/<offset>.
func Committed(nodeID, copyID string, rev, offset int64) ID {
	return ID{NodeID: nodeID, CopyID: copyID, Rev: rev, Offset: offset, TxnID: ""}
}

// Transactional builds the transaction form of an ID: node.copy.t<txn>.
func Transactional(nodeID, copyID, txnID string) ID {
	return ID{NodeID: nodeID, CopyID: copyID, Rev: -1, TxnID: txnID}
}

// IsTransactional reports whether this ID is still in transaction
// form (no revision assigned yet).
func (id ID) IsTransactional() bool {
	return id.TxnID != ""
}

// String renders the unparse form:
// node-id.copy-id.[r<rev>/<offset> | t<txn>]
func (id ID) String() string {
	if id.IsTransactional() {
		return fmt.Sprintf("%s.%s.t%s", id.NodeID, id.CopyID, id.TxnID)
	}
	return fmt.Sprintf("%s.%s.r%d/%d", id.NodeID, id.CopyID, id.Rev, id.Offset)
}

// Parse reverses String, rejecting malformed identifiers with a
// wrapped error (callers in package fsfs report it as an error of
// kind Corruption).
func Parse(s string) (ID, error) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) != 3 {
		return ID{}, errors.Errorf("invalid identifier syntax %q", s)
	}
	nodeID, copyID, tail := parts[0], parts[1], parts[2]
	if nodeID == "" || copyID == "" || tail == "" {
		return ID{}, errors.Errorf("invalid identifier syntax %q", s)
	}
	switch tail[0] {
	case 't':
		txnID := tail[1:]
		if txnID == "" {
			return ID{}, errors.Errorf("invalid identifier syntax %q", s)
		}
		return Transactional(nodeID, copyID, txnID), nil
	case 'r':
		revOff := tail[1:]
		slash := strings.IndexByte(revOff, '/')
		if slash < 0 {
			return ID{}, errors.Errorf("invalid identifier syntax %q", s)
		}
		rev, err := strconv.ParseInt(revOff[:slash], 10, 64)
		if err != nil {
			return ID{}, errors.Wrapf(err, "invalid identifier syntax %q", s)
		}
		off, err := strconv.ParseInt(revOff[slash+1:], 10, 64)
		if err != nil {
			return ID{}, errors.Wrapf(err, "invalid identifier syntax %q", s)
		}
		return Committed(nodeID, copyID, rev, off), nil
	default:
		return ID{}, errors.Errorf("invalid identifier syntax %q", s)
	}
}

// TxnID is the `<base-rev>-<base36-counter>` transaction identifier
// format. The directory name adds a `.txn` suffix.
type TxnID struct {
	BaseRev int64
	Counter string
}

func (t TxnID) String() string {
	return fmt.Sprintf("%d-%s", t.BaseRev, t.Counter)
}

func (t TxnID) DirName() string {
	return t.String() + ".txn"
}

// ParseTxnID reverses TxnID.String.
func ParseTxnID(s string) (TxnID, error) {
	dash := strings.IndexByte(s, '-')
	if dash < 0 {
		return TxnID{}, errors.Errorf("invalid transaction id %q", s)
	}
	rev, err := strconv.ParseInt(s[:dash], 10, 64)
	if err != nil {
		return TxnID{}, errors.Wrapf(err, "invalid transaction id %q", s)
	}
	return TxnID{BaseRev: rev, Counter: s[dash+1:]}, nil
}
