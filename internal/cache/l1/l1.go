// Package l1 implements the hot, in-memory tier of the tiered extraction
// cache: a bounded LRU keyed by normalized cache key, with both an item-
// count cap and a byte-budget cap, and an optional remote KV tier for
// sharing entries across orchestrator processes.
package l1

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultMaxItems and DefaultMaxBytes are the item-count and byte-budget
// ceilings applied when a Config leaves them at zero.
const (
	DefaultMaxItems = 5000
	DefaultMaxBytes = 200 << 20 // 200MB
)

// Entry is a single cached payload plus its TTL metadata.
type Entry struct {
	Value     []byte
	StoredAt  time.Time
	TTL       time.Duration
	SizeBytes int
}

func (e Entry) expired(now time.Time) bool {
	return e.TTL > 0 && now.After(e.StoredAt.Add(e.TTL))
}

// Config configures the L1 store.
type Config struct {
	// MaxItems bounds entry count (default DefaultMaxItems).
	MaxItems int
	// MaxBytes bounds total entry size (default DefaultMaxBytes).
	MaxBytes int
	// Remote, if non-nil, backs this tier with a shared KV store so that
	// multiple orchestrator processes can observe each other's writes.
	Remote *redis.Client
	// RemoteKeyPrefix namespaces keys written to Remote.
	RemoteKeyPrefix string
}

// Store is the bounded, MRU-promoting in-memory L1 adapter.
type Store struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	order    *list.List // front = most recently used
	maxItems int
	maxBytes int
	curBytes int

	remote       *redis.Client
	remotePrefix string

	hits   atomic.Uint64
	misses atomic.Uint64
	evicts atomic.Uint64
}

type node struct {
	key   string
	entry Entry
}

// New constructs an L1 store with the given configuration.
func New(cfg Config) *Store {
	maxItems := cfg.MaxItems
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Store{
		items:        make(map[string]*list.Element),
		order:        list.New(),
		maxItems:     maxItems,
		maxBytes:     maxBytes,
		remote:       cfg.Remote,
		remotePrefix: cfg.RemoteKeyPrefix,
	}
}

// Get returns the cached value for key, promoting it to most-recently-used.
// Falls through to the remote KV tier (if configured) on a local miss.
func (s *Store) Get(ctx context.Context, key string) (Entry, bool) {
	s.mu.Lock()
	if el, ok := s.items[key]; ok {
		n := el.Value.(*node)
		if !n.entry.expired(time.Now()) {
			s.order.MoveToFront(el)
			s.hits.Add(1)
			entry := n.entry
			s.mu.Unlock()
			return entry, true
		}
		s.removeElementLocked(el)
	}
	s.mu.Unlock()

	if s.remote == nil {
		s.misses.Add(1)
		return Entry{}, false
	}

	raw, err := s.remote.Get(ctx, s.remoteKey(key)).Bytes()
	if err != nil {
		s.misses.Add(1)
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		s.misses.Add(1)
		return Entry{}, false
	}
	if entry.expired(time.Now()) {
		s.misses.Add(1)
		return Entry{}, false
	}
	s.hits.Add(1)
	s.setLocal(key, entry)
	return entry, true
}

// Set stores value under key with the given TTL, evicting by LRU and byte
// budget as needed, and mirroring to the remote tier if configured.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	entry := Entry{
		Value:     value,
		StoredAt:  time.Now(),
		TTL:       ttl,
		SizeBytes: len(value),
	}
	s.setLocal(key, entry)

	if s.remote != nil {
		if raw, err := json.Marshal(entry); err == nil {
			s.remote.Set(ctx, s.remoteKey(key), raw, ttl)
		}
	}
}

func (s *Store) setLocal(key string, entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		old := el.Value.(*node)
		s.curBytes -= old.entry.SizeBytes
		old.entry = entry
		s.curBytes += entry.SizeBytes
		s.order.MoveToFront(el)
	} else {
		el := s.order.PushFront(&node{key: key, entry: entry})
		s.items[key] = el
		s.curBytes += entry.SizeBytes
	}

	for (s.maxItems > 0 && len(s.items) > s.maxItems) || (s.maxBytes > 0 && s.curBytes > s.maxBytes) {
		back := s.order.Back()
		if back == nil {
			break
		}
		s.removeElementLocked(back)
		s.evicts.Add(1)
	}
}

func (s *Store) removeElementLocked(el *list.Element) {
	n := el.Value.(*node)
	s.curBytes -= n.entry.SizeBytes
	delete(s.items, n.key)
	s.order.Remove(el)
}

// Delete removes key from both tiers.
func (s *Store) Delete(ctx context.Context, key string) {
	s.mu.Lock()
	if el, ok := s.items[key]; ok {
		s.removeElementLocked(el)
	}
	s.mu.Unlock()

	if s.remote != nil {
		s.remote.Del(ctx, s.remoteKey(key))
	}
}

func (s *Store) remoteKey(key string) string {
	if s.remotePrefix == "" {
		return key
	}
	return s.remotePrefix + ":" + key
}

// Stats reports current cache occupancy and hit-rate statistics.
type Stats struct {
	Items   int
	Bytes   int
	Hits    uint64
	Misses  uint64
	Evicts  uint64
	HitRate float64
}

// Stats returns current statistics.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	items := len(s.items)
	bytes := s.curBytes
	s.mu.Unlock()

	hits := s.hits.Load()
	misses := s.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Items:   items,
		Bytes:   bytes,
		Hits:    hits,
		Misses:  misses,
		Evicts:  s.evicts.Load(),
		HitRate: rate,
	}
}
