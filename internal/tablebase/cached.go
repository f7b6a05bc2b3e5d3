package tablebase

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/notnil/chess"
)

// PositionKey is the fixed-width cache key of a position: the 64-bit
// hash of its normalized FEN.
func PositionKey(fen string) uint64 {
	return xxhash.Sum64String(NormalizeFEN(fen))
}

// CachedProber wraps another prober with a bounded in-memory cache of
// WDL probes. Root probes pass through uncached.
type CachedProber struct {
	inner   Prober
	mu      sync.RWMutex
	cache   map[uint64]ProbeResult
	maxSize int
	hits    uint64
	misses  uint64
}

// NewCachedProber wraps inner with a cache of at most cacheSize
// entries.
func NewCachedProber(inner Prober, cacheSize int) *CachedProber {
	return &CachedProber{
		inner:   inner,
		cache:   make(map[uint64]ProbeResult, cacheSize),
		maxSize: cacheSize,
	}
}

func (cp *CachedProber) Probe(pos *chess.Position) ProbeResult {
	key := PositionKey(pos.String())

	cp.mu.RLock()
	result, ok := cp.cache[key]
	cp.mu.RUnlock()
	if ok {
		cp.mu.Lock()
		cp.hits++
		cp.mu.Unlock()
		return result
	}

	result = cp.inner.Probe(pos)

	cp.mu.Lock()
	cp.misses++
	if result.Found {
		if len(cp.cache) >= cp.maxSize {
			// Simple eviction: drop half the cache.
			i := 0
			for k := range cp.cache {
				if i >= cp.maxSize/2 {
					break
				}
				delete(cp.cache, k)
				i++
			}
		}
		cp.cache[key] = result
	}
	cp.mu.Unlock()
	return result
}

func (cp *CachedProber) ProbeRoot(pos *chess.Position) RootResult {
	return cp.inner.ProbeRoot(pos)
}

func (cp *CachedProber) MaxPieces() int { return cp.inner.MaxPieces() }

func (cp *CachedProber) Available() bool { return cp.inner.Available() }

// HitRate returns the fraction of probes answered from the cache.
func (cp *CachedProber) HitRate() float64 {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	total := cp.hits + cp.misses
	if total == 0 {
		return 0
	}
	return float64(cp.hits) / float64(total)
}

// Size returns the number of cached entries.
func (cp *CachedProber) Size() int {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return len(cp.cache)
}

// Clear drops every cached entry.
func (cp *CachedProber) Clear() {
	cp.mu.Lock()
	cp.cache = make(map[uint64]ProbeResult, cp.maxSize)
	cp.mu.Unlock()
}
