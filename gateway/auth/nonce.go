package auth

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

const (
	defaultNonceTTL      = 10 * time.Minute
	maxNonceTTL          = time.Hour
	defaultNonceCapacity = 4096
	maxNonceCapacity     = 65536
)

// NonceStore performs the atomic first-use check for signed nonces.
// Reserve returns true when the nonce was unused and is now consumed,
// false when it was already seen inside the TTL window. Nonces are scoped
// to the signing address.
type NonceStore interface {
	Reserve(ctx context.Context, address, nonce string, now time.Time) (bool, error)
}

func nonceKey(address, nonce string) string {
	return strings.ToLower(strings.TrimSpace(address)) + "|" + strings.TrimSpace(nonce)
}

// MemoryNonceStore is a single-process nonce store with TTL expiry and a
// bounded LRU. Suitable for one API replica; use the Redis store when
// replay protection must span replicas.
type MemoryNonceStore struct {
	ttl      time.Duration
	capacity int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
}

type memoryNonceEntry struct {
	key string
	ts  time.Time
}

// NewMemoryNonceStore builds a store with the given TTL and capacity,
// clamped to sane bounds. Zero values select the defaults.
func NewMemoryNonceStore(ttl time.Duration, capacity int) *MemoryNonceStore {
	if ttl <= 0 {
		ttl = defaultNonceTTL
	}
	if ttl > maxNonceTTL {
		ttl = maxNonceTTL
	}
	if capacity <= 0 {
		capacity = defaultNonceCapacity
	}
	if capacity > maxNonceCapacity {
		capacity = maxNonceCapacity
	}
	return &MemoryNonceStore{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Reserve consumes the nonce if unseen. Check and insert happen under one
// lock, so concurrent replays of the same nonce cannot both pass.
func (s *MemoryNonceStore) Reserve(_ context.Context, address, nonce string, now time.Time) (bool, error) {
	key := nonceKey(address, nonce)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpired(now.Add(-s.ttl))
	if _, exists := s.entries[key]; exists {
		return false, nil
	}
	s.insertLocked(key, now)
	return true, nil
}

func (s *MemoryNonceStore) insertLocked(key string, now time.Time) {
	if elem, exists := s.entries[key]; exists {
		elem.Value = memoryNonceEntry{key: key, ts: now}
		s.order.MoveToBack(elem)
		return
	}
	for s.order.Len() >= s.capacity {
		s.evictFront()
	}
	elem := s.order.PushBack(memoryNonceEntry{key: key, ts: now})
	s.entries[key] = elem
}

func (s *MemoryNonceStore) evictExpired(cutoff time.Time) {
	for {
		front := s.order.Front()
		if front == nil {
			return
		}
		entry := front.Value.(memoryNonceEntry)
		if !entry.ts.Before(cutoff) {
			return
		}
		s.order.Remove(front)
		delete(s.entries, entry.key)
	}
}

func (s *MemoryNonceStore) evictFront() {
	front := s.order.Front()
	if front == nil {
		return
	}
	entry := front.Value.(memoryNonceEntry)
	s.order.Remove(front)
	delete(s.entries, entry.key)
}
