package repository

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"account-relay/internal/session/domain"
)

type cacheEntry struct {
	session   *domain.Session
	expiresAt time.Time
}

// CachedRepository keeps recently used sessions in memory in front of a durable store.
// Writes go to the durable store first and are cached only once they succeed, so the cache
// never holds state the store does not. Concurrent misses for one account share a single read.
// A read that overlaps a write to the same account is returned but not cached.
type CachedRepository struct {
	inner Repository
	ttl   time.Duration
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]cacheEntry
	// gens records the write sequence number last seen per account; seq only grows.
	gens map[string]uint64
	seq  uint64
	nowF func() time.Time
}

// NewCachedRepository wraps inner with a cache holding each session for ttl.
func NewCachedRepository(inner Repository, ttl time.Duration) *CachedRepository {
	return &CachedRepository{
		inner:   inner,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		gens:    make(map[string]uint64),
		nowF:    time.Now,
	}
}

// loaded is a durable read and the write generation it started under.
type loaded struct {
	session *domain.Session
	gen     uint64
}

func (r *CachedRepository) Get(ctx context.Context, accountID string) (*domain.Session, error) {
	if s, ok := r.lookup(accountID); ok {
		return s, nil
	}
	start := r.generation(accountID)
	v, err, _ := r.group.Do(accountID, func() (interface{}, error) {
		gen := r.generation(accountID)
		s, err := r.inner.Get(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if s != nil {
			r.storeIfUnchanged(s, gen)
		}
		return loaded{session: s, gen: gen}, nil
	})
	if err != nil {
		return nil, err
	}
	res, _ := v.(loaded)
	if res.gen != start {
		// Joined a read that began before a write this caller already follows.
		return r.inner.Get(ctx, accountID)
	}
	return res.session.Clone(), nil
}

func (r *CachedRepository) Put(ctx context.Context, s *domain.Session) error {
	if err := r.inner.Put(ctx, s); err != nil {
		r.evict(s.AccountID)
		return err
	}
	r.store(s)
	return nil
}

func (r *CachedRepository) Delete(ctx context.Context, accountID string) error {
	r.evict(accountID)
	err := r.inner.Delete(ctx, accountID)
	r.evict(accountID)
	return err
}

// Len returns the number of cached sessions, expired ones included until next touched.
func (r *CachedRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *CachedRepository) lookup(accountID string) (*domain.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[accountID]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.After(r.nowF()) {
		delete(r.entries, accountID)
		return nil, false
	}
	return e.session.Clone(), true
}

func (r *CachedRepository) generation(accountID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gens[accountID]
}

// bumpLocked marks a write to accountID so in-flight reads of it are not cached.
func (r *CachedRepository) bumpLocked(accountID string) {
	r.seq++
	r.gens[accountID] = r.seq
}

// store caches s after a successful write.
func (r *CachedRepository) store(s *domain.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bumpLocked(s.AccountID)
	if r.ttl <= 0 {
		return
	}
	r.entries[s.AccountID] = cacheEntry{session: s.Clone(), expiresAt: r.nowF().Add(r.ttl)}
}

// storeIfUnchanged caches a durable read unless a write happened since gen was taken.
func (r *CachedRepository) storeIfUnchanged(s *domain.Session, gen uint64) {
	if r.ttl <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gens[s.AccountID] != gen {
		return
	}
	r.entries[s.AccountID] = cacheEntry{session: s.Clone(), expiresAt: r.nowF().Add(r.ttl)}
}

func (r *CachedRepository) evict(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bumpLocked(accountID)
	delete(r.entries, accountID)
}
