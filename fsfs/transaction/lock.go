package transaction

import (
	"sync"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// ErrRepresentationBeingWritten is returned when a second writer
// tries to open the proto-revision for a transaction that is already
// being written to. Non-blocking by design:
// the caller is expected to retry later rather than wait.
var ErrRepresentationBeingWritten = errors.New("representation being written")

// writerLock coordinates proto-revision writers for one transaction:
// an intra-process mutex guarding a being-written flag (fast path,
// avoids a syscall for the common single-process case) backed by an
// OS advisory file lock for cross-process exclusion.
type writerLock struct {
	mu           sync.Mutex
	beingWritten bool
	osLock       *flock.Flock
}

func newWriterLock(path string) *writerLock {
	return &writerLock{osLock: flock.New(path)}
}

// tryAcquire attempts to take the lock without blocking, returning
// ErrRepresentationBeingWritten immediately on contention.
func (l *writerLock) tryAcquire() (func(), error) {
	l.mu.Lock()
	if l.beingWritten {
		l.mu.Unlock()
		return nil, ErrRepresentationBeingWritten
	}
	l.beingWritten = true
	l.mu.Unlock()

	ok, err := l.osLock.TryLock()
	if err != nil {
		l.release()
		return nil, errors.Wrap(err, "acquiring proto-revision lock")
	}
	if !ok {
		l.release()
		return nil, ErrRepresentationBeingWritten
	}
	return l.release, nil
}

func (l *writerLock) release() {
	_ = l.osLock.Unlock()
	l.mu.Lock()
	l.beingWritten = false
	l.mu.Unlock()
}
