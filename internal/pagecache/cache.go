// Package pagecache implements the page-mapping cache described in
// spec.md §4.4: a bounded, backend-mediated cache of mapped guest
// frames. The cache owns the mapping once inserted; eviction releases
// it through the backend, the same "owning cache, releasing callback"
// shape as the teacher's binary/symbol caches in the rest of the pack.
package pagecache

import (
	lru "github.com/hashicorp/golang-lru"
)

// Releaser releases a previously mapped frame. It is satisfied by
// driver.Driver.ReleaseFrame; kept as its own interface so this package
// does not import internal/driver.
type Releaser interface {
	ReleaseFrame(page []byte) error
}

// Cache maps frame numbers to mapped host pages. A Cap of 0 means
// unbounded: hashicorp/golang-lru requires a strictly positive size, so
// a zero-cap cache is backed by a plain map instead and never evicts.
type Cache struct {
	cap       int
	rel       Releaser
	lru       *lru.Cache
	unbounded map[uint64][]byte
}

// New builds a cache of the given capacity (in frames). cap == 0 means
// unbounded, matching the file backend's "never evict" use from
// spec.md §4.4.
func New(cap int, rel Releaser) *Cache {
	c := &Cache{cap: cap, rel: rel}

	if cap <= 0 {
		c.unbounded = make(map[uint64][]byte)
		return c
	}

	evict := func(key interface{}, value interface{}) {
		page := value.([]byte)
		_ = rel.ReleaseFrame(page)
	}

	l, err := lru.NewWithEvict(cap, evict)
	if err != nil {
		// cap was validated > 0 above; NewWithEvict only fails on a
		// non-positive size.
		panic(err)
	}
	c.lru = l

	return c
}

// Get returns the cached page for pfn, if present.
func (c *Cache) Get(pfn uint64) ([]byte, bool) {
	if c.unbounded != nil {
		page, ok := c.unbounded[pfn]
		return page, ok
	}

	v, ok := c.lru.Get(pfn)
	if !ok {
		return nil, false
	}

	return v.([]byte), true
}

// Insert adds pfn's mapped page to the cache. If pfn is already
// present, the old page is released and replaced.
func (c *Cache) Insert(pfn uint64, page []byte) {
	if c.unbounded != nil {
		if old, ok := c.unbounded[pfn]; ok && !samePage(old, page) {
			_ = c.rel.ReleaseFrame(old)
		}
		c.unbounded[pfn] = page
		return
	}

	if old, ok := c.lru.Peek(pfn); ok && !samePage(old.([]byte), page) {
		_ = c.rel.ReleaseFrame(old.([]byte))
	}
	c.lru.Add(pfn, page)
}

// Remove evicts pfn from the cache, releasing its mapping. A no-op if
// pfn is not cached.
func (c *Cache) Remove(pfn uint64) {
	if c.unbounded != nil {
		if page, ok := c.unbounded[pfn]; ok {
			delete(c.unbounded, pfn)
			_ = c.rel.ReleaseFrame(page)
		}
		return
	}

	c.lru.Remove(pfn)
}

// Flush evicts every cached frame, releasing every mapping. Used during
// Driver.Destroy.
func (c *Cache) Flush() {
	if c.unbounded != nil {
		for pfn, page := range c.unbounded {
			delete(c.unbounded, pfn)
			_ = c.rel.ReleaseFrame(page)
		}
		return
	}

	c.lru.Purge()
}

// Len returns the number of frames currently cached.
func (c *Cache) Len() int {
	if c.unbounded != nil {
		return len(c.unbounded)
	}

	return c.lru.Len()
}

func samePage(a, b []byte) bool {
	return len(a) > 0 && len(b) > 0 && &a[0] == &b[0]
}
