package rep

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// Entry is a rep-cache row: a SHA-1 digest mapped to where its bytes
// live on disk.
type Entry struct {
	SHA1         [sha1.Size]byte
	Key          Key
	OnDiskSize   int64
	ExpandedSize int64
}

// Cache is the repository-level rep-cache index keyed by SHA-1.
// Implementations must tolerate being unavailable: a failing Cache
// degrades to "no sharing" rather than failing the commit.
type Cache interface {
	Lookup(sha1 [sha1.Size]byte) (Entry, bool, error)
	Insert(entries ...Entry) error
	Close() error
}

var repCacheBucket = []byte("rep-cache")

// BoltCache is a Cache backed by bbolt, the embedded key-value store
// two independent repositories in the reference pack already depend
// on. Point lookups and inserts keyed by a fixed-width digest are
// exactly bbolt's bucket/key/value model; no SQL layer is needed.
type BoltCache struct {
	db *bolt.DB
}

// OpenBoltCache opens (creating if necessary) the rep-cache database
// at path.
func OpenBoltCache(path string) (*BoltCache, error) {
	db, err := bolt.Open(path, 0644, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "opening rep-cache at %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(repCacheBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initializing rep-cache bucket")
	}
	return &BoltCache{db: db}, nil
}

func encodeEntry(e Entry) []byte {
	buf := make([]byte, 8*4)
	binary.BigEndian.PutUint64(buf[0:8], uint64(e.Key.Revision))
	binary.BigEndian.PutUint64(buf[8:16], uint64(e.Key.Offset))
	binary.BigEndian.PutUint64(buf[16:24], uint64(e.OnDiskSize))
	binary.BigEndian.PutUint64(buf[24:32], uint64(e.ExpandedSize))
	return buf
}

func decodeEntry(sha [sha1.Size]byte, buf []byte) (Entry, error) {
	if len(buf) != 32 {
		return Entry{}, errors.Errorf("corrupt rep-cache row (%d bytes)", len(buf))
	}
	return Entry{
		SHA1:         sha,
		Key:          Key{Revision: int64(binary.BigEndian.Uint64(buf[0:8])), Offset: int64(binary.BigEndian.Uint64(buf[8:16]))},
		OnDiskSize:   int64(binary.BigEndian.Uint64(buf[16:24])),
		ExpandedSize: int64(binary.BigEndian.Uint64(buf[24:32])),
	}, nil
}

func (c *BoltCache) Lookup(sha [sha1.Size]byte) (Entry, bool, error) {
	var entry Entry
	var found bool
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(repCacheBucket)
		v := b.Get(sha[:])
		if v == nil {
			return nil
		}
		var err error
		entry, err = decodeEntry(sha, v)
		found = err == nil
		return err
	})
	return entry, found, err
}

func (c *BoltCache) Insert(entries ...Entry) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(repCacheBucket)
		for _, e := range entries {
			if err := b.Put(e.SHA1[:], encodeEntry(e)); err != nil {
				return err
			}
		}
		return nil
	})
}

// PurgeAbove deletes every row whose revision exceeds maxRev. Used by
// hot-copy step 10.
func (c *BoltCache) PurgeAbove(maxRev int64) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(repCacheBucket)
		cur := b.Cursor()
		var toDelete [][]byte
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			if len(v) >= 8 && int64(binary.BigEndian.Uint64(v[0:8])) > maxRev {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *BoltCache) Close() error {
	return c.db.Close()
}

// Sharer implements the three-step lookup order:
// the in-transaction hash, the intra-transaction SHA-1 sidecar files
// (for recovery after retries), then the repository-level Cache.
type Sharer struct {
	mu         sync.Mutex
	inTxn      map[[sha1.Size]byte]Entry
	newEntries []Entry
	sidecarDir string
	repoCache  Cache // may be nil: sharing then degrades to "no sharing"
}

// NewSharer builds a Sharer for one in-progress transaction.
// sidecarDir is the transaction's directory for SHA-1-named sidecar
// files; repoCache may be nil.
func NewSharer(sidecarDir string, repoCache Cache) *Sharer {
	return &Sharer{inTxn: make(map[[sha1.Size]byte]Entry), sidecarDir: sidecarDir, repoCache: repoCache}
}

// Lookup performs the 1-2-3 ordered search. An error from the sidecar
// or the repository cache is non-fatal: Lookup treats it as "not
// found" and does not report it.
func (s *Sharer) Lookup(sha [sha1.Size]byte) (Entry, bool) {
	s.mu.Lock()
	if e, ok := s.inTxn[sha]; ok {
		s.mu.Unlock()
		return e, true
	}
	s.mu.Unlock()

	if e, ok, err := s.lookupSidecar(sha); err == nil && ok {
		return e, true
	}

	if s.repoCache != nil {
		if e, ok, err := s.repoCache.Lookup(sha); err == nil && ok {
			return e, true
		}
	}
	return Entry{}, false
}

// Remember records a representation this transaction just finished
// writing, making it available to later set-contents calls in the
// same transaction (lookup step 1) and, via the sidecar file, to a
// retried write of the same content (lookup step 2).
func (s *Sharer) Remember(e Entry) error {
	s.mu.Lock()
	s.inTxn[e.SHA1] = e
	s.newEntries = append(s.newEntries, e)
	s.mu.Unlock()
	return s.writeSidecar(e)
}

// NewEntries returns the representations this Sharer has not found
// anywhere else (lookup steps 1-3 all missed) — the rows the commit
// pipeline should insert into the repository-level Cache after the
// revision is durable.
func (s *Sharer) NewEntries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.newEntries...)
}

func (s *Sharer) sidecarPath(sha [sha1.Size]byte) string {
	return filepath.Join(s.sidecarDir, fmt.Sprintf("%x", sha))
}

func (s *Sharer) writeSidecar(e Entry) error {
	if s.sidecarDir == "" {
		return nil
	}
	return os.WriteFile(s.sidecarPath(e.SHA1), encodeEntry(e), 0644)
}

func (s *Sharer) lookupSidecar(sha [sha1.Size]byte) (Entry, bool, error) {
	if s.sidecarDir == "" {
		return Entry{}, false, nil
	}
	data, err := os.ReadFile(s.sidecarPath(sha))
	if err != nil {
		return Entry{}, false, nil //nolint:nilerr // absent sidecar just means "not found"
	}
	e, err := decodeEntry(sha, data)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}
