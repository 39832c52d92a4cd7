// Package idempotency replays responses of payment-creating endpoints for repeated Idempotency-Key requests.
package idempotency

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Response is a cached endpoint response.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	// Fingerprint identifies the request body the response was produced for.
	Fingerprint string
	CachedAt    time.Time
}

// Store caches responses and tracks requests still being handled.
type Store interface {
	Get(ctx context.Context, key string) (*Response, bool)
	Set(ctx context.Context, key string, response *Response, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Reserve marks key as in flight. It returns false if another request holds it.
	Reserve(ctx context.Context, key string) bool
	Release(ctx context.Context, key string)
}

// DefaultMaxEntries bounds the memory store.
const DefaultMaxEntries = 10000

// MemoryStore is an LRU-bounded in-memory Store.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List
	inflight map[string]struct{}
	maxSize  int
	now      func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type entry struct {
	key      string
	response *Response
	expires  time.Time
}

// NewMemoryStore returns a store holding up to DefaultMaxEntries responses.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithSize(DefaultMaxEntries)
}

// NewMemoryStoreWithSize returns a store holding up to maxSize responses.
// Expired entries are swept every five minutes until Stop is called.
func NewMemoryStoreWithSize(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxEntries
	}
	s := &MemoryStore{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		inflight: make(map[string]struct{}),
		maxSize:  maxSize,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.sweepLoop(5 * time.Minute)
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Response, bool) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if now.After(e.expires) {
		s.removeLocked(el)
		return nil, false
	}
	s.order.MoveToFront(el)
	return e.response, true
}

func (s *MemoryStore) Set(_ context.Context, key string, response *Response, ttl time.Duration) error {
	expires := s.now().Add(ttl)
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		e := el.Value.(*entry)
		e.response = response
		e.expires = expires
		s.order.MoveToFront(el)
		return nil
	}
	for len(s.entries) >= s.maxSize {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		s.removeLocked(oldest)
	}
	s.entries[key] = s.order.PushFront(&entry{key: key, response: response, expires: expires})
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[key]; ok {
		s.removeLocked(el)
	}
	return nil
}

func (s *MemoryStore) Reserve(_ context.Context, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[key]; busy {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *MemoryStore) Release(_ context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, key)
}

// Len returns the number of cached responses, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// caller holds s.mu
func (s *MemoryStore) removeLocked(el *list.Element) {
	s.order.Remove(el)
	delete(s.entries, el.Value.(*entry).key)
}

func (s *MemoryStore) sweep() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for el := s.order.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*entry).expires) {
			s.removeLocked(el)
		}
		el = prev
	}
}

func (s *MemoryStore) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// Stop ends the sweep goroutine. It is safe to call more than once.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// Close implements io.Closer for lifecycle registration.
func (s *MemoryStore) Close() error {
	s.Stop()
	return nil
}
