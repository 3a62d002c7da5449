// Package ratelimit keeps per-key failure budgets in a bounded, process-local store.
package ratelimit

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config sizes a Store.
type Config struct {
	// Capacity bounds the number of tracked keys. The least recently used key
	// that is not blocked is evicted when a new key arrives at capacity. Blocked
	// keys go only when every tracked key is blocked.
	Capacity int
	// Limit failures are allowed per Window before a key is blocked.
	Limit  int
	Window time.Duration
	Now    func() time.Time
}

// Store tracks failures per key with a token bucket refilling Limit tokens per Window.
type Store struct {
	mu       sync.Mutex
	capacity int
	limit    int
	every    rate.Limit
	now      func() time.Time
	order    *list.List
	index    map[string]*list.Element
}

type entry struct {
	key     string
	limiter *rate.Limiter
}

// New constructs a Store. Non-positive values fall back to 10000 keys, 5 failures and 15 minutes.
func New(cfg Config) *Store {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10000
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		capacity: cfg.Capacity,
		limit:    cfg.Limit,
		every:    rate.Every(cfg.Window / time.Duration(cfg.Limit)),
		now:      cfg.Now,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Blocked reports whether key exhausted its budget and how long until one more attempt is allowed.
func (s *Store) Blocked(key string) (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.index[key]
	if !ok {
		return false, 0
	}
	s.order.MoveToFront(el)
	now := s.now()
	tokens := el.Value.(*entry).limiter.TokensAt(now)
	if tokens >= 1 {
		return false, 0
	}
	wait := time.Duration((1 - tokens) / float64(s.every) * float64(time.Second))
	return true, wait
}

// Fail records one failure for key and reports whether key is now blocked.
func (s *Store) Fail(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	lim := s.limiterLocked(key)
	lim.AllowN(now, 1)
	return lim.TokensAt(now) < 1
}

// Reset forgets key, for example after a successful login.
func (s *Store) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.index[key]; ok {
		s.order.Remove(el)
		delete(s.index, key)
	}
}

// Len returns the number of tracked keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

func (s *Store) limiterLocked(key string) *rate.Limiter {
	if el, ok := s.index[key]; ok {
		s.order.MoveToFront(el)
		return el.Value.(*entry).limiter
	}
	for s.order.Len() >= s.capacity {
		s.evictLocked()
	}
	lim := rate.NewLimiter(s.every, s.limit)
	s.index[key] = s.order.PushFront(&entry{key: key, limiter: lim})
	return lim
}

func (s *Store) evictLocked() {
	now := s.now()
	victim := s.order.Back()
	for el := victim; el != nil; el = el.Prev() {
		if el.Value.(*entry).limiter.TokensAt(now) >= 1 {
			victim = el
			break
		}
	}
	s.order.Remove(victim)
	delete(s.index, victim.Value.(*entry).key)
}
