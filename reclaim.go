package refmap

import (
	"runtime"
	"runtime/metrics"
	"sync/atomic"
	"weak"

	"go.uber.org/zap"
)

// Reclaim severs every reference the reclamation policy allows: weak
// references always, soft references only when pressure is set. Severed
// keys read as absent at once; their slots are unlinked and discounted
// from Size by the next write or PurgeStale on their segment.
//
// Reclaim does not lock; it walks a snapshot of each segment's bucket
// array. It returns the number of references severed.
func (m *Map[K, V]) Reclaim(pressure bool) int {
	n := 0
	for i := range m.segments {
		b := m.segments[i].buckets.Load()
		for j := range b.heads {
			for r := b.heads[j].Load(); r != nil; r = r.next {
				if r.handle.reclaimable(pressure) && r.release() {
					n++
				}
			}
		}
	}
	if n > 0 {
		m.reclaimed.Add(uint64(n))
		m.logger.Debug("references reclaimed",
			zap.Int("count", n),
			zap.Bool("pressure", pressure))
	}
	return n
}

const heapLiveMetric = "/gc/heap/live:bytes"

// heapLive returns the heap bytes marked live by the last GC, or 0 when
// the runtime does not report it.
func heapLive() uint64 {
	sample := []metrics.Sample{{Name: heapLiveMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}

// gcTrigger runs cycle once per garbage collection. It arms a cleanup on
// a throwaway sentinel; when the collector frees the sentinel the cleanup
// runs cycle and arms a new one.
type gcTrigger struct {
	cycle   func() bool
	stopped atomic.Bool
	cycles  atomic.Uint64
}

type gcSentinel struct {
	_ *byte // pointerful, so it is never batched by the tiny allocator
}

func (t *gcTrigger) arm() {
	runtime.AddCleanup(&gcSentinel{}, (*gcTrigger).fire, t)
}

func (t *gcTrigger) fire() {
	if t.stopped.Load() {
		return
	}
	t.cycles.Add(1)
	if t.cycle() {
		t.arm()
	}
}

func (t *gcTrigger) stop() {
	t.stopped.Store(true)
}

// startGCReclaim holds m weakly, so an unreachable map is still collected
// and the trigger then disarms itself.
func startGCReclaim[K comparable, V any](m *Map[K, V], softHeapLimit uint64) *gcTrigger {
	wp := weak.Make(m)
	t := &gcTrigger{}
	t.cycle = func() bool {
		m := wp.Value()
		if m == nil {
			return false
		}
		pressure := softHeapLimit > 0 && heapLive() > softHeapLimit
		m.Reclaim(pressure)
		return true
	}
	t.arm()
	return t
}
