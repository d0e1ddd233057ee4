package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"scanguard/internal/metrics"
)

// DefaultMaxEntries bounds a MemoryStore created with a non-positive size.
const DefaultMaxEntries = 10000

// MemoryStore is an in-process LRU store with per-entry TTL. Expired entries
// are dropped when they are read or when they fall off the LRU tail; there is
// no background sweeper.
type MemoryStore struct {
	maxSize int
	now     func() time.Time
	items   map[string]*memoryItem
	lruList *list.List
	mu      sync.Mutex
	closed  bool
	hits    uint64
	misses  uint64
}

// Stats is a point-in-time view of a MemoryStore.
type Stats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

type memoryItem struct {
	key       string
	value     []byte
	element   *list.Element
	expiresAt time.Time
}

type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(maxSize int, opts ...MemoryOption) *MemoryStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxEntries
	}
	s := &MemoryStore{
		maxSize: maxSize,
		now:     time.Now,
		items:   make(map[string]*memoryItem),
		lruList: list.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, ErrUnavailable
	}
	item, ok := s.items[key]
	if !ok {
		s.misses++
		return nil, false, nil
	}
	if !s.now().Before(item.expiresAt) {
		s.removeItem(item)
		s.misses++
		metrics.CacheEvictions.WithLabelValues("expired").Inc()
		return nil, false, nil
	}
	s.lruList.MoveToFront(item.element)
	s.hits++
	return item.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrUnavailable
	}
	expiresAt := s.now().Add(ttl)
	if existing, ok := s.items[key]; ok {
		existing.value = val
		existing.expiresAt = expiresAt
		s.lruList.MoveToFront(existing.element)
		return nil
	}

	item := &memoryItem{key: key, value: val, expiresAt: expiresAt}
	item.element = s.lruList.PushFront(item)
	s.items[key] = item

	if len(s.items) > s.maxSize {
		if oldest := s.lruList.Back(); oldest != nil {
			s.removeItem(oldest.Value.(*memoryItem))
			metrics.CacheEvictions.WithLabelValues("capacity").Inc()
		}
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item, ok := s.items[key]; ok {
		s.removeItem(item)
	}
	return nil
}

func (s *MemoryStore) removeItem(item *memoryItem) {
	delete(s.items, item.key)
	s.lruList.Remove(item.element)
}

// Len counts stored entries, including expired ones not yet read.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *MemoryStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Entries: len(s.items), Hits: s.hits, Misses: s.misses}
}

// Close drops all entries. Later calls fail with ErrUnavailable.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*memoryItem)
	s.lruList.Init()
	s.closed = true
	return nil
}
