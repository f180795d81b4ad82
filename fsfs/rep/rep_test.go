package rep

import (
	"crypto/sha1"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sha1Of(s string) [sha1.Size]byte {
	return sha1.Sum([]byte(s))
}

func TestBoltCacheInsertLookupPurge(t *testing.T) {
	dir := t.TempDir()
	cache, err := OpenBoltCache(filepath.Join(dir, "rep-cache.db"))
	assert.NoError(t, err)
	defer cache.Close()

	e1 := Entry{SHA1: sha1Of("payload"), Key: Key{Revision: 1, Offset: 100}, OnDiskSize: 7, ExpandedSize: 7}
	e2 := Entry{SHA1: sha1Of("other"), Key: Key{Revision: 5, Offset: 200}, OnDiskSize: 5, ExpandedSize: 5}
	assert.NoError(t, cache.Insert(e1, e2))

	got, found, err := cache.Lookup(e1.SHA1)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, e1.Key, got.Key)

	_, found, err = cache.Lookup(sha1Of("nonexistent"))
	assert.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, cache.PurgeAbove(1))
	_, found, err = cache.Lookup(e2.SHA1)
	assert.NoError(t, err)
	assert.False(t, found, "rev 5 entry should be purged when destination youngest is 1")

	_, found, err = cache.Lookup(e1.SHA1)
	assert.NoError(t, err)
	assert.True(t, found, "rev 1 entry should survive purge above rev 1")
}

func TestSharerInTransactionHit(t *testing.T) {
	s := NewSharer(t.TempDir(), nil)
	sha := sha1Of("payload")
	e := Entry{SHA1: sha, Key: Key{Revision: 2, Offset: 40}}
	assert.NoError(t, s.Remember(e))

	got, ok := s.Lookup(sha)
	assert.True(t, ok)
	assert.Equal(t, e.Key, got.Key)
}

func TestSharerSidecarSurvivesNewSharerInstance(t *testing.T) {
	dir := t.TempDir()
	sha := sha1Of("payload")
	e := Entry{SHA1: sha, Key: Key{Revision: 3, Offset: 77}}

	s1 := NewSharer(dir, nil)
	assert.NoError(t, s1.Remember(e))

	// Simulate a retry after the in-memory transaction record is gone:
	// a fresh Sharer over the same directory still finds the sidecar.
	s2 := NewSharer(dir, nil)
	got, ok := s2.Lookup(sha)
	assert.True(t, ok)
	assert.Equal(t, e.Key, got.Key)
}

func TestSharerFallsBackToRepoCache(t *testing.T) {
	dir := t.TempDir()
	cache, err := OpenBoltCache(filepath.Join(dir, "rep-cache.db"))
	assert.NoError(t, err)
	defer cache.Close()

	sha := sha1Of("payload")
	assert.NoError(t, cache.Insert(Entry{SHA1: sha, Key: Key{Revision: 9, Offset: 1}}))

	s := NewSharer(t.TempDir(), cache)
	got, ok := s.Lookup(sha)
	assert.True(t, ok)
	assert.Equal(t, int64(9), got.Key.Revision)
}

func TestSharerMissWhenNoCacheConfigured(t *testing.T) {
	s := NewSharer("", nil)
	_, ok := s.Lookup(sha1Of("anything"))
	assert.False(t, ok)
}

func TestRepresentationIsMutable(t *testing.T) {
	r := &Representation{}
	assert.False(t, r.IsMutable())
	r.TxnID = "6-1a"
	assert.True(t, r.IsMutable())
}
