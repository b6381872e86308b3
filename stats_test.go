package refmap

import (
	"strings"
	"testing"
)

func TestMap_Stats(t *testing.T) {
	m := newTestMap[int, int](t, WithConcurrencyLevel(4), WithInitialCapacity(64))
	stats := m.Stats()
	if stats.Segments != 4 {
		t.Fatalf("unexpected segments: %d", stats.Segments)
	}
	if stats.TotalBuckets != 64 {
		t.Fatalf("unexpected total buckets: %d", stats.TotalBuckets)
	}
	if stats.EmptyBuckets != 64 || stats.MinEntries != 0 || stats.MaxEntries != 0 {
		t.Fatalf("unexpected empty stats: %s", stats.ToString())
	}

	for i := 0; i < 10; i++ {
		m.Put(i, i)
	}
	m.Release(4)
	stats = m.Stats()
	if stats.Counter != 10 || stats.Size != 9 || stats.Stale != 1 {
		t.Fatalf("unexpected stats after release: %s", stats.ToString())
	}
	if stats.MaxEntries < 1 {
		t.Fatalf("unexpected max chain: %d", stats.MaxEntries)
	}

	m.PurgeStale()
	stats = m.Stats()
	if stats.Counter != 9 || stats.Size != 9 || stats.Stale != 0 {
		t.Fatalf("unexpected stats after purge: %s", stats.ToString())
	}
	if stats.TotalPurged != 1 {
		t.Fatalf("unexpected purged total: %d", stats.TotalPurged)
	}
}

func TestMapStats_ToString(t *testing.T) {
	m := newTestMap[string, int](t)
	m.Put("a", 1)
	s := m.Stats().ToString()
	for _, want := range []string{"MapStats{", "Segments:       16", "Counter:        1", "TotalReclaimed: 0"} {
		if !strings.Contains(s, want) {
			t.Fatalf("%q missing from:\n%s", want, s)
		}
	}
}
