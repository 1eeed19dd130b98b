package resolver

import (
	"github.com/xperimental/upstream-watch/internal/gitrepo"
)

type cacheKey struct {
	remote string
	ref    string
	path   string
}

// Cache stores resolved remote commits for the duration of one pass over a
// repository. It is not safe for concurrent use.
type Cache struct {
	entries map[cacheKey][]gitrepo.Commit
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[cacheKey][]gitrepo.Commit),
	}
}

// Len returns the number of cached results.
func (c *Cache) Len() int {
	return len(c.entries)
}

func (c *Cache) get(key cacheKey) ([]gitrepo.Commit, bool) {
	commits, ok := c.entries[key]
	return commits, ok
}

func (c *Cache) put(key cacheKey, commits []gitrepo.Commit) {
	c.entries[key] = commits
}
