package fsfs

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	fsfsio "github.com/rcowham/svnfsfs/fsfs/ioutil"
	"github.com/rcowham/svnfsfs/fsfs/ids"
	"github.com/rcowham/svnfsfs/fsfs/noderev"
	"github.com/rcowham/svnfsfs/fsfs/transaction"
)

// Begin starts a new transaction rooted at the repository's current
// youngest revision: a cloned root node revision carrying a
// predecessor link back to the youngest root, ready for the caller to
// populate via the returned Transaction's SetEntry/PutNodeRevision/
// SetContents/AddChange calls before passing it to Commit.
func (fs *Filesystem) Begin() (*transaction.Transaction, error) {
	youngest, err := fs.Youngest()
	if err != nil {
		return nil, err
	}

	rv, err := fs.reader.Open(youngest, youngest)
	if err != nil {
		return nil, err
	}
	baseRoot, err := fs.reader.Root(rv)
	if err != nil {
		return nil, err
	}

	txnID, err := fs.nextTxnID(youngest)
	if err != nil {
		return nil, err
	}

	rootNode := &noderev.NodeRevision{
		Kind:             noderev.Dir,
		ID:               ids.Transactional(baseRoot.ID.NodeID, baseRoot.ID.CopyID, txnID.String()),
		PredecessorID:    &baseRoot.ID,
		PredecessorCount: baseRoot.PredecessorCount + 1,
		CreatedPath:      "/",
		CopyRoot:         baseRoot.CopyRoot,
		DataRep:          baseRoot.DataRep,
		PropRep:          baseRoot.PropRep,
		FreshTxnRoot:     true,
	}

	return transaction.Begin(fs.txnsDir, txnID.String(), youngest, rootNode, fs.shared.repCache)
}

// Commit runs the commit pipeline against txn under the repository
// write lock, translating the pipeline's sentinel errors into this
// package's Kind taxonomy.
func (fs *Filesystem) Commit(txn *transaction.Transaction) (int64, error) {
	var n int64
	err := fs.withWriteLock(func() error {
		var commitErr error
		n, commitErr = fs.pipeline().Commit(txn)
		return commitErr
	})
	if err != nil {
		return 0, translateCommitError(err)
	}
	return n, nil
}

// nextTxnID allocates a transaction ID rooted at baseRev, advancing
// the repository-wide base-36 counter stored in db/txn-current. This
// counter is global (not per-base-revision), matching the format ≥ 3
// txn-current scheme named in the external-interfaces section.
func (fs *Filesystem) nextTxnID(baseRev int64) (ids.TxnID, error) {
	counter, err := readTxnCurrent(fs.txnCurrentDir)
	if err != nil {
		return ids.TxnID{}, err
	}
	next := counter.Next()
	if err := writeTxnCurrent(fs.txnCurrentDir, counter.Peek()); err != nil {
		return ids.TxnID{}, err
	}
	return ids.TxnID{BaseRev: baseRev, Counter: next}, nil
}

func readTxnCurrent(path string) (*ids.Counter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(IOFailure, "read-txn-current", path, err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "corrupt txn-current file %q", string(data))
	}
	return ids.NewCounter(v), nil
}

func writeTxnCurrent(path string, v uint64) error {
	if err := fsfsio.AtomicWriteFile(path, []byte(fmt.Sprintf("%d\n", v)), 0644); err != nil {
		return newError(IOFailure, "write-txn-current", path, err)
	}
	return nil
}
