// Package idempotency remembers ledger entries by their (kind, reference)
// key so replays can be answered without touching the store.
package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/fadedpez/pointledger/pkg/entities"
)

// Cache is a best-effort lookaside in front of the ledger store. A miss is
// never authoritative; the store still enforces uniqueness.
type Cache interface {
	Get(ctx context.Context, kind entities.EntryKind, referenceID string) (*entities.LedgerEntry, bool, error)
	Put(ctx context.Context, entry *entities.LedgerEntry) error
}

func key(kind entities.EntryKind, referenceID string) string {
	return string(kind) + ":" + referenceID
}

type memoryItem struct {
	entry   entities.LedgerEntry
	expires time.Time
}

// MemoryCache keeps entries in process until their TTL passes
type MemoryCache struct {
	items map[string]memoryItem
	ttl   time.Duration
	mu    sync.Mutex
	now   func() time.Time
}

// NewMemoryCache creates a cache whose entries live for ttl
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		items: make(map[string]memoryItem),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get returns a cached entry if it has not expired
func (c *MemoryCache) Get(ctx context.Context, kind entities.EntryKind, referenceID string) (*entities.LedgerEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(kind, referenceID)
	item, ok := c.items[k]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(item.expires) {
		delete(c.items, k)
		return nil, false, nil
	}
	entry := item.entry
	return &entry, true, nil
}

// Put stores an entry
func (c *MemoryCache) Put(ctx context.Context, entry *entities.LedgerEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key(entry.Kind, entry.ReferenceID)] = memoryItem{entry: *entry, expires: c.now().Add(c.ttl)}
	return nil
}

// Purge drops expired entries and reports how many were removed
func (c *MemoryCache) Purge(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, item := range c.items {
		if !now.Before(item.expires) {
			delete(c.items, k)
			removed++
		}
	}
	return removed, nil
}

// Len reports how many entries are held
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
