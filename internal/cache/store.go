// Package cache implements the bounded, time-aware-LRU local cache
// store: two independent maps, one for entries whose region matches
// the node's own, one for everything else, each with its own hit/miss
// counters.
package cache

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Expiry bounds a client may request via a PUT's expiry parameter.
const (
	DefaultExpirySeconds = 3600
	MinExpirySeconds     = 1
	MaxExpirySeconds     = 99_999_999
)

// ClampExpirySeconds enforces the [MinExpirySeconds, MaxExpirySeconds]
// bound on an already-parsed expiry. Parse failures are the caller's
// concern; a malformed expiry falls back to DefaultExpirySeconds
// entirely, bypassing this clamp.
func ClampExpirySeconds(seconds int) int {
	if seconds < MinExpirySeconds {
		return MinExpirySeconds
	}
	if seconds > MaxExpirySeconds {
		return MaxExpirySeconds
	}
	return seconds
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Info is the small diagnostic document the /local_cache_info and
// /remote_cache_info endpoints return.
type Info struct {
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
	MaxSize  int    `json:"maxsize"`
	CurrSize int    `json:"currsize"`
}

// Store holds the own-region and foreign-region maps for one node. Both
// are backed by hashicorp/golang-lru's expirable LRU, capped at
// MaxExpirySeconds. That bound is a backstop; the actual per-entry
// expiry (which varies per PUT) is tracked in the entry itself and
// checked on every lookup, since the library only supports one fixed TTL
// per cache instance.
type Store struct {
	selfRegion string

	own     *lru.LRU[string, entry]
	foreign *lru.LRU[string, entry]

	ownCap, foreignCap           int
	ownHits, ownMisses           uint64
	foreignHits, foreignMisses   uint64
}

// NewStore creates a Store for a node whose own region is selfRegion,
// with capacity ownCap for same-region entries and foreignCap (expected
// to be >= ownCap, since a node fields requests for far more foreign
// regions than its own) for everything else.
func NewStore(selfRegion string, ownCap, foreignCap int) *Store {
	backstop := time.Duration(MaxExpirySeconds) * time.Second
	return &Store{
		selfRegion: selfRegion,
		own:        lru.NewLRU[string, entry](ownCap, nil, backstop),
		foreign:    lru.NewLRU[string, entry](foreignCap, nil, backstop),
		ownCap:     ownCap,
		foreignCap: foreignCap,
	}
}

func (s *Store) storeFor(region string) *lru.LRU[string, entry] {
	if region == s.selfRegion {
		return s.own
	}
	return s.foreign
}

// Lookup returns the value for (region, key) and whether it was found.
// Expired entries are treated as absent and removed when a lookup finds
// them. Hit/miss
// counters are updated regardless of which underlying store is used.
func (s *Store) Lookup(region, key string) ([]byte, bool) {
	c := s.storeFor(region)
	e, ok := c.Get(key)
	if ok && time.Now().After(e.expiresAt) {
		c.Remove(key)
		ok = false
	}
	s.countLookup(region, ok)
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Store writes value under (region, key) with the given expiry in
// seconds, already clamped/defaulted by the caller (the transport layer
// owns malformed-input handling).
func (s *Store) Store(region, key string, value []byte, expirySeconds int) {
	c := s.storeFor(region)
	c.Add(key, entry{value: value, expiresAt: time.Now().Add(time.Duration(expirySeconds) * time.Second)})
}

// Remove deletes (region, key), returning whether it was present and
// unexpired; an already-expired entry is reported as not-found, same as
// Lookup.
func (s *Store) Remove(region, key string) bool {
	c := s.storeFor(region)
	e, ok := c.Peek(key)
	if !ok {
		return false
	}
	if time.Now().After(e.expiresAt) {
		c.Remove(key)
		return false
	}
	return c.Remove(key)
}

func (s *Store) countLookup(region string, hit bool) {
	if region == s.selfRegion {
		if hit {
			atomic.AddUint64(&s.ownHits, 1)
		} else {
			atomic.AddUint64(&s.ownMisses, 1)
		}
		return
	}
	if hit {
		atomic.AddUint64(&s.foreignHits, 1)
	} else {
		atomic.AddUint64(&s.foreignMisses, 1)
	}
}

// LocalInfo reports diagnostics for the own-region store.
func (s *Store) LocalInfo() Info {
	return Info{
		Hits:     atomic.LoadUint64(&s.ownHits),
		Misses:   atomic.LoadUint64(&s.ownMisses),
		MaxSize:  s.ownCap,
		CurrSize: s.own.Len(),
	}
}

// RemoteInfo reports diagnostics for the foreign-region store.
func (s *Store) RemoteInfo() Info {
	return Info{
		Hits:     atomic.LoadUint64(&s.foreignHits),
		Misses:   atomic.LoadUint64(&s.foreignMisses),
		MaxSize:  s.foreignCap,
		CurrSize: s.foreign.Len(),
	}
}
