// Package refmap provides a segmented concurrent map whose entries are held
// through reclaimable references.
//
// The table is split into a fixed number of independently locked segments.
// Reads walk a segment's current bucket array without taking any lock;
// writers serialize on the segment lock. Every entry is reached through a
// reference of kind [WeakReference] or [SoftReference]. A reference can be
// severed at any time by [Map.Release] or by the reclaimer ([Map.Reclaim],
// or the optional GC-cycle trigger enabled with [WithGCReclaim]). A severed
// reference is never unlinked at that moment: it is queued on its segment and
// purged by the next mutation of that segment, or by [Map.PurgeStale].
//
// Usage:
//
//	m, err := refmap.NewMap[string, *Session](
//		refmap.WithConcurrencyLevel(32),
//		refmap.WithReferenceType(refmap.WeakReference),
//	)
//	if err != nil {
//		return err
//	}
//	m.Put("key", session)
//	s, ok := m.Get("key")
//
// Guarantees are per segment only. Size, Clear and iteration visit segments
// one after another and are not atomic across the whole table.
package refmap
