package revreader

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/rcowham/svnfsfs/fsfs/noderev"
)

// DefaultDirCacheSize is the per-process directory-listing cache's
// default entry count, sized for a long-lived *Filesystem handle that
// may open many revisions over its lifetime (unlike a one-shot batch
// process, which could get away with an unbounded map).
const DefaultDirCacheSize = 4096

// dirCache short-circuits repeated directory listings, keyed by the
// directory node-revision's committed-form ID.
type dirCache struct {
	cache *lru.Cache
}

func newDirCache(size int) (*dirCache, error) {
	if size <= 0 {
		size = DefaultDirCacheSize
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &dirCache{cache: c}, nil
}

func (d *dirCache) get(id string) ([]noderev.DirEntry, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d.cache.Get(id)
	if !ok {
		return nil, false
	}
	return v.([]noderev.DirEntry), true
}

func (d *dirCache) put(id string, entries []noderev.DirEntry) {
	if d == nil {
		return
	}
	d.cache.Add(id, entries)
}
