// Package seedcache caches expanded BIP39 seeds keyed by the SHA-256 of
// their mnemonic.
//
// Seed expansion runs 2048 rounds of PBKDF2-HMAC-SHA512, which dominates the
// cost of every HD derivation. Cached seeds are returned by copy, expire a
// fixed TTL after insertion and are zeroed whenever they leave the cache.
//
// Misses are computed outside the cache lock; concurrent misses for the same
// mnemonic share one computation through singleflight, so a slow derivation
// never blocks readers of other entries.
package seedcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/ruteri/tee-wallet-kms/security"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultCapacity = 10
	DefaultTTL      = 300 * time.Second
	SeedSize        = 64
)

// ComputeFunc expands a mnemonic into its 64-byte seed.
type ComputeFunc func(mnemonic string) ([SeedSize]byte, error)

type Options struct {
	Capacity int
	TTL      time.Duration
	Now      func() time.Time
}

type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
	Max       int    `json:"max"`
}

// HitRate is the percentage of lookups served from the cache.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

type entry struct {
	seed         [SeedSize]byte
	createdAt    time.Time
	lastAccessed time.Time
}

type Cache struct {
	// A plain mutex: every lookup reorders the LRU list.
	mu      sync.Mutex
	lru     *simplelru.LRU[[32]byte, *entry]
	group   singleflight.Group
	ttl     time.Duration
	max     int
	now     func() time.Time
	hits    uint64
	misses  uint64
	evicted uint64
}

func New(opts Options) (*Cache, error) {
	if opts.Capacity == 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.TTL == 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Capacity < 0 || opts.TTL < 0 {
		return nil, fmt.Errorf("invalid seed cache options: capacity=%d ttl=%s", opts.Capacity, opts.TTL)
	}

	lru, err := simplelru.NewLRU[[32]byte, *entry](opts.Capacity, func(_ [32]byte, e *entry) {
		security.SecureZero(e.seed[:])
	})
	if err != nil {
		return nil, err
	}
	return &Cache{lru: lru, ttl: opts.TTL, max: opts.Capacity, now: opts.Now}, nil
}

// GetOrCompute returns a copy of the seed for mnemonic, calling fn on a miss
// or after the cached entry expired.
func (c *Cache) GetOrCompute(mnemonic string, fn ComputeFunc) ([SeedSize]byte, error) {
	key := sha256.Sum256([]byte(mnemonic))

	if seed, ok := c.lookup(key); ok {
		return seed, nil
	}

	v, err, _ := c.group.Do(hex.EncodeToString(key[:]), func() (interface{}, error) {
		seed, err := fn(mnemonic)
		if err != nil {
			return nil, err
		}
		c.insert(key, seed)
		// Handed to every waiter; the backing slice is zeroed once unreachable.
		out := security.CopySecureBytes(seed[:])
		security.SecureZero(seed[:])
		return out, nil
	})
	if err != nil {
		return [SeedSize]byte{}, err
	}

	var seed [SeedSize]byte
	copy(seed[:], v.(*security.SecureBytes).Bytes())
	return seed, nil
}

func (c *Cache) lookup(key [32]byte) ([SeedSize]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e, ok := c.lru.Get(key)
	if ok && now.Sub(e.createdAt) >= c.ttl {
		c.lru.Remove(key)
		ok = false
	}
	if !ok {
		c.misses++
		return [SeedSize]byte{}, false
	}
	c.hits++
	e.lastAccessed = now
	return e.seed, true
}

func (c *Cache) insert(key [32]byte, seed [SeedSize]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Add swaps an existing value without the evict callback.
	if old, ok := c.lru.Peek(key); ok {
		security.SecureZero(old.seed[:])
	}
	now := c.now()
	if c.lru.Add(key, &entry{seed: seed, createdAt: now, lastAccessed: now}) {
		c.evicted++
	}
}

// WarmUp computes and caches the seeds for mnemonics, stopping at the first
// failure.
func (c *Cache) WarmUp(mnemonics []string, fn ComputeFunc) error {
	for _, m := range mnemonics {
		seed, err := c.GetOrCompute(m, fn)
		security.SecureZero(seed[:])
		if err != nil {
			return err
		}
	}
	return nil
}

// Clear zeroes and removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evicted,
		Size:      c.lru.Len(),
		Max:       c.max,
	}
}
