package util

import (
	"fmt"
	"testing"
)

func TestTokenCacheGetSet(t *testing.T) {
	tc := NewTokenCache()
	if _, ok := tc.Get("missing"); ok {
		t.Fatal("empty cache should miss")
	}
	tc.Set("notes", 7)
	if got, ok := tc.Get("notes"); !ok || got != 7 {
		t.Fatalf("Get = %d, %v; want 7, true", got, ok)
	}
	tc.Set("notes", 9)
	if got, _ := tc.Get("notes"); got != 9 {
		t.Errorf("update lost: got %d", got)
	}
	if tc.Len() != 1 {
		t.Errorf("Len = %d, want 1", tc.Len())
	}
	hits, misses := tc.Stats()
	if hits != 2 || misses != 1 {
		t.Errorf("Stats = %d/%d, want 2/1", hits, misses)
	}
}

func TestTokenCacheBounded(t *testing.T) {
	tc := NewTokenCache()
	for i := 0; i < numShards*maxEntriesPerShard*3; i++ {
		tc.Set(fmt.Sprintf("entry-%d", i), i)
	}
	if got, max := tc.Len(), numShards*maxEntriesPerShard; got > max {
		t.Errorf("Len = %d, exceeds bound %d", got, max)
	}
}
