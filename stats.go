package refmap

import (
	"fmt"
	"strings"
)

// MapStats is Map statistics.
//
// Warning: map statistics are intended to be used for diagnostic
// purposes, not for production code. This means that breaking changes
// may be introduced into this struct even between minor releases.
type MapStats struct {
	// Segments is the number of segments.
	Segments int
	// TotalBuckets is the sum of the bucket array lengths of all segments.
	TotalBuckets int
	// EmptyBuckets is the number of buckets whose chain is empty.
	EmptyBuckets int
	// Counter is the sum of the segment counters, as reported by Size.
	// It includes severed references that have not been purged yet.
	Counter int
	// Size is the number of live entries found by walking the chains.
	// In case of concurrent map modifications this number may be
	// different from Counter.
	Size int
	// Stale is the number of severed references still linked in a chain.
	Stale int
	// MinEntries is the minimum number of references in a chain.
	MinEntries int
	// MaxEntries is the maximum number of references in a chain.
	MaxEntries int
	// TotalGrowths is the number of times a segment's bucket array doubled.
	TotalGrowths uint32
	// TotalPurged is the number of severed references discounted by purges.
	TotalPurged uint64
	// TotalReclaimed is the number of references severed by Reclaim.
	TotalReclaimed uint64
}

// ToString returns string representation of map stats.
func (s *MapStats) ToString() string {
	var sb strings.Builder
	sb.WriteString("MapStats{\n")
	sb.WriteString(fmt.Sprintf("Segments:       %d\n", s.Segments))
	sb.WriteString(fmt.Sprintf("TotalBuckets:   %d\n", s.TotalBuckets))
	sb.WriteString(fmt.Sprintf("EmptyBuckets:   %d\n", s.EmptyBuckets))
	sb.WriteString(fmt.Sprintf("Counter:        %d\n", s.Counter))
	sb.WriteString(fmt.Sprintf("Size:           %d\n", s.Size))
	sb.WriteString(fmt.Sprintf("Stale:          %d\n", s.Stale))
	sb.WriteString(fmt.Sprintf("MinEntries:     %d\n", s.MinEntries))
	sb.WriteString(fmt.Sprintf("MaxEntries:     %d\n", s.MaxEntries))
	sb.WriteString(fmt.Sprintf("TotalGrowths:   %d\n", s.TotalGrowths))
	sb.WriteString(fmt.Sprintf("TotalPurged:    %d\n", s.TotalPurged))
	sb.WriteString(fmt.Sprintf("TotalReclaimed: %d\n", s.TotalReclaimed))
	sb.WriteString("}\n")
	return sb.String()
}

// Stats returns statistics for the Map. Just like other map
// methods, this one is thread-safe. Yet it's an O(N) operation,
// so it should be used only for diagnostics or debugging purposes.
func (m *Map[K, V]) Stats() *MapStats {
	stats := &MapStats{
		Segments:       len(m.segments),
		MinEntries:     int(^uint(0) >> 1),
		TotalReclaimed: m.reclaimed.Load(),
	}
	for i := range m.segments {
		s := &m.segments[i]
		stats.Counter += s.size()
		stats.TotalGrowths += s.growths.Load()
		stats.TotalPurged += s.purged.Load()

		b := s.buckets.Load()
		stats.TotalBuckets += len(b.heads)
		for j := range b.heads {
			n := 0
			for r := b.heads[j].Load(); r != nil; r = r.next {
				n++
				if r.get() != nil {
					stats.Size++
				} else {
					stats.Stale++
				}
			}
			if n == 0 {
				stats.EmptyBuckets++
			}
			stats.MinEntries = min(stats.MinEntries, n)
			stats.MaxEntries = max(stats.MaxEntries, n)
		}
	}
	return stats
}
