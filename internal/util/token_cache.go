package util

import (
	"hash"
	"hash/fnv"
	"sync"
	"sync/atomic"
)

const (
	numShards          = 16
	maxEntriesPerShard = 64
)

type tokenCacheEntry struct {
	hash   uint64
	tokens int
}

// tokenCacheShard is a fixed-size ring; next is the slot overwritten on insert.
type tokenCacheShard struct {
	mu      sync.RWMutex
	entries []tokenCacheEntry
	next    int
}

// TokenCache is a small sharded cache of token counts keyed by an FNV-64a hash of
// the counted text. Each shard overwrites its oldest entry when full.
type TokenCache struct {
	shards [numShards]*tokenCacheShard
	hits   atomic.Int64
	misses atomic.Int64
}

var (
	hasherPool = sync.Pool{
		New: func() any { return fnv.New64a() },
	}
	// PromptTokenCache holds counts for system prompts and repeated user content.
	PromptTokenCache = NewTokenCache()
)

func NewTokenCache() *TokenCache {
	tc := &TokenCache{}
	for i := range tc.shards {
		tc.shards[i] = &tokenCacheShard{
			entries: make([]tokenCacheEntry, 0, maxEntriesPerShard),
		}
	}
	return tc
}

func hashContent(s string) uint64 {
	h := hasherPool.Get().(hash.Hash64)
	h.Reset()
	_, _ = h.Write([]byte(s))
	sum := h.Sum64()
	hasherPool.Put(h)
	return sum
}

func (tc *TokenCache) shard(sum uint64) *tokenCacheShard {
	return tc.shards[sum%numShards]
}

func (tc *TokenCache) Get(content string) (int, bool) {
	sum := hashContent(content)
	shard := tc.shard(sum)

	shard.mu.RLock()
	defer shard.mu.RUnlock()

	for _, e := range shard.entries {
		if e.hash == sum {
			tc.hits.Add(1)
			return e.tokens, true
		}
	}
	tc.misses.Add(1)
	return 0, false
}

func (tc *TokenCache) Set(content string, tokens int) {
	sum := hashContent(content)
	shard := tc.shard(sum)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	for i, e := range shard.entries {
		if e.hash == sum {
			shard.entries[i].tokens = tokens
			return
		}
	}
	entry := tokenCacheEntry{hash: sum, tokens: tokens}
	if len(shard.entries) < maxEntriesPerShard {
		shard.entries = append(shard.entries, entry)
		return
	}
	shard.entries[shard.next] = entry
	shard.next = (shard.next + 1) % maxEntriesPerShard
}

// Len returns the number of cached counts.
func (tc *TokenCache) Len() int {
	n := 0
	for _, shard := range tc.shards {
		shard.mu.RLock()
		n += len(shard.entries)
		shard.mu.RUnlock()
	}
	return n
}

// Stats returns the hit and miss counters since creation.
func (tc *TokenCache) Stats() (hits, misses int64) {
	return tc.hits.Load(), tc.misses.Load()
}
