// Package addr converts raw binary account keys into their canonical base58
// form. A bounded cache sits in front of the encoder; it is an optimization
// only and never changes a returned value.
package addr

import (
	"errors"
	"sync"

	"github.com/mr-tron/base58"
)

const (
	// KeyLength is the size of a raw account key in bytes.
	KeyLength = 32

	// Undefined is the resolution of empty input. It is a sentinel, not a
	// failure: callers decide per field whether an absent address matters.
	Undefined = ""

	// DefaultCacheSize bounds the resolution cache when no capacity is given.
	DefaultCacheSize = 4096
)

// ErrInvalidAddress reports input that is non-empty but not a valid raw key.
var ErrInvalidAddress = errors.New("addr: raw key is not 32 bytes")

// Codec resolves raw account keys to canonical strings. Safe for concurrent
// use; the cache uses a single coarse mutex.
type Codec struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]string
	order    []string // insertion order, oldest first

	hits      uint64
	misses    uint64
	evictions uint64
}

// CacheStats is a point-in-time view of cache effectiveness.
type CacheStats struct {
	Size      int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// NewCodec creates a codec whose cache holds at most capacity entries.
// capacity <= 0 selects DefaultCacheSize.
func NewCodec(capacity int) *Codec {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &Codec{
		capacity: capacity,
		entries:  make(map[string]string, capacity),
	}
}

// Resolve returns the canonical form of raw. Empty input resolves to
// Undefined without error; input of any other length than KeyLength returns
// ErrInvalidAddress.
func (c *Codec) Resolve(raw []byte) (string, error) {
	if len(raw) == 0 {
		return Undefined, nil
	}
	if len(raw) != KeyLength {
		return "", ErrInvalidAddress
	}

	key := string(raw)

	c.mu.Lock()
	defer c.mu.Unlock()

	if addr, ok := c.entries[key]; ok {
		c.hits++
		return addr, nil
	}
	c.misses++

	addr := base58.Encode(raw)
	if len(c.entries) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
		c.evictions++
	}
	c.entries[key] = addr
	c.order = append(c.order, key)
	return addr, nil
}

// Len returns the number of cached entries.
func (c *Codec) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache counters since creation.
func (c *Codec) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Size:      len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
