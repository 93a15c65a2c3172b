package rag

import (
	"sync"

	"github.com/xhad/becabot/pkg/store"
)

// Cache keeps retrieval pipelines between questions. Entries are only a
// shortcut: a miss reattaches the index and yields the same answers.
type Cache interface {
	Get(session string) (*store.Retriever, bool)
	Put(session string, r *store.Retriever)
	Invalidate(session string)
	Purge()
}

// MemoryCache is a process-local Cache keyed by session.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]*store.Retriever
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]*store.Retriever)}
}

func (c *MemoryCache) Get(session string) (*store.Retriever, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.items[session]
	return r, ok
}

func (c *MemoryCache) Put(session string, r *store.Retriever) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[session] = r
}

func (c *MemoryCache) Invalidate(session string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, session)
}

func (c *MemoryCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.items)
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// NoCache never keeps anything.
type NoCache struct{}

func (NoCache) Get(string) (*store.Retriever, bool) { return nil, false }
func (NoCache) Put(string, *store.Retriever)        {}
func (NoCache) Invalidate(string)                   {}
func (NoCache) Purge()                              {}
