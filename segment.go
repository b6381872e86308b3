package refmap

import (
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sys/cpu"
)

const (
	// maximumSegmentSize caps the bucket array length of one segment.
	maximumSegmentSize = 1 << 30
)

type taskOption uint8

const (
	// restructureBefore purges (and possibly resizes) before the key is
	// looked up, so a stale entry for the key never masks a fresh insert.
	restructureBefore taskOption = 1 << iota
	// restructureAfter purges once the task is done; used by removals,
	// which must be evaluated against the unpurged chain.
	restructureAfter
	// skipIfEmpty runs the task with no entry, without locking, when the
	// segment holds nothing.
	skipIfEmpty
	// resizeAllowed lets the restructure double the bucket array.
	resizeAllowed
)

// taskFunc is the read-modify-write body run under the segment lock.
// ref and e are nil when the key is absent. insert links a new entry for
// the key; it is nil when the task runs without the lock.
type taskFunc[K comparable, V any] func(ref *reference[K, V], e *Entry[K, V], insert func(value V))

// bucketArray is the chain-head table of a segment. Heads are stored
// atomically because readers load them without the segment lock.
type bucketArray[K comparable, V any] struct {
	heads []atomic.Pointer[reference[K, V]]
}

func newBucketArray[K comparable, V any](n int) *bucketArray[K, V] {
	return &bucketArray[K, V]{heads: make([]atomic.Pointer[reference[K, V]], n)}
}

func (b *bucketArray[K, V]) index(hash uint32) int {
	return int(hash & uint32(len(b.heads)-1))
}

// segment is one independently locked shard of the table.
type segment[K comparable, V any] struct {
	mu        sync.Mutex
	buckets   atomic.Pointer[bucketArray[K, V]]
	count     atomic.Int64 // upper bound of live entries
	threshold atomic.Int64
	queue     reclaimQueue[K, V]
	gen       uint64 // bumped by clear; guarded by mu

	initialLen int
	loadFactor float64
	kind       ReferenceType
	index      int
	logger     *zap.Logger

	growths atomic.Uint32
	purged  atomic.Uint64

	_ cpu.CacheLinePad // keeps neighbouring segment locks off one cache line
}

func (s *segment[K, V]) init(index, initialCapacity int, loadFactor float64, kind ReferenceType, logger *zap.Logger) {
	s.index = index
	s.loadFactor = loadFactor
	s.kind = kind
	s.logger = logger
	s.initialLen = 1 << calcShift(initialCapacity, maximumSegmentSize)
	s.setBuckets(newBucketArray[K, V](s.initialLen))
}

func (s *segment[K, V]) setBuckets(b *bucketArray[K, V]) {
	s.buckets.Store(b)
	s.threshold.Store(thresholdFor(len(b.heads), s.loadFactor))
}

// thresholdFor saturates at MaxInt64 so a huge load factor disables
// growth instead of wrapping to a negative threshold.
func thresholdFor(n int, loadFactor float64) int64 {
	t := float64(n) * loadFactor
	if t >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(t)
}

// getReference returns the reference for key, or nil. With purge set, a
// pending reclamation queue is drained first (never resizing).
func (s *segment[K, V]) getReference(key *K, hash uint32, purge bool) *reference[K, V] {
	if purge {
		s.restructureIfNecessary(false)
	}
	if s.count.Load() == 0 {
		return nil
	}
	b := s.buckets.Load()
	return findInChain(b.heads[b.index(hash)].Load(), key, hash)
}

func findInChain[K comparable, V any](ref *reference[K, V], key *K, hash uint32) *reference[K, V] {
	for r := ref; r != nil; r = r.next {
		if r.hash != hash {
			continue
		}
		if e := r.get(); e != nil && e.key == *key {
			return r
		}
	}
	return nil
}

// doTask runs fn for key under the segment lock, surrounded by the
// restructure passes that opts ask for. Exactly one of the found or
// absent branches of fn runs per call.
func (s *segment[K, V]) doTask(hash uint32, key *K, opts taskOption, fn taskFunc[K, V]) {
	resize := opts&resizeAllowed != 0
	if opts&restructureBefore != 0 {
		s.restructureIfNecessary(resize)
	}
	if opts&skipIfEmpty != 0 && s.count.Load() == 0 {
		fn(nil, nil, nil)
		return
	}
	s.lockedTask(hash, key, fn)
	if opts&restructureAfter != 0 {
		s.restructureIfNecessary(resize)
	}
}

func (s *segment[K, V]) lockedTask(hash uint32, key *K, fn taskFunc[K, V]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.buckets.Load()
	idx := b.index(hash)
	head := b.heads[idx].Load()
	ref := findInChain(head, key, hash)
	var e *Entry[K, V]
	if ref != nil {
		e = ref.get()
	}
	fn(ref, e, func(value V) {
		b.heads[idx].Store(s.newReference(newEntry(*key, value), hash, head))
		s.count.Add(1)
	})
}

// newReference must be called with the lock held.
func (s *segment[K, V]) newReference(e *Entry[K, V], hash uint32, next *reference[K, V]) *reference[K, V] {
	h := &handle[K, V]{queue: &s.queue, gen: s.gen, kind: s.kind}
	h.entry.Store(e)
	return &reference[K, V]{handle: h, hash: hash, next: next}
}

func (s *segment[K, V]) needsResize(count int64) bool {
	return count > 0 && count >= s.threshold.Load()
}

// restructureIfNecessary purges severed references and, when allowResize
// is set and the threshold is reached, doubles the bucket array. It takes
// the lock only if there is something to do.
func (s *segment[K, V]) restructureIfNecessary(allowResize bool) {
	if !s.queue.pending() && !(allowResize && s.needsResize(s.count.Load())) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restructure(allowResize)
}

// restructure must be called with the lock held.
func (s *segment[K, V]) restructure(allowResize bool) {
	purge, purged := s.drain()
	live := s.count.Load() - int64(purged)

	old := s.buckets.Load()
	n := len(old.heads)
	resizing := false
	if allowResize && s.needsResize(live) && n < maximumSegmentSize {
		n <<= 1
		resizing = true
	}

	switch {
	case resizing:
		b := newBucketArray[K, V](n)
		for i := range old.heads {
			for r := old.heads[i].Load(); r != nil; r = r.next {
				if r.dead(purge) {
					continue
				}
				j := b.index(r.hash)
				b.heads[j].Store(r.relink(b.heads[j].Load()))
			}
		}
		// published only once fully built
		s.setBuckets(b)
		s.growths.Add(1)
		s.logger.Debug("segment resized",
			zap.Int("segment", s.index),
			zap.Int("buckets", n),
			zap.Int64("entries", live))
	case len(purge) > 0:
		for i := range old.heads {
			head := old.heads[i].Load()
			if !chainHasDead(head, purge) {
				continue
			}
			// survivors keep their newest-first order
			var survivors []*reference[K, V]
			for r := head; r != nil; r = r.next {
				if !r.dead(purge) {
					survivors = append(survivors, r)
				}
			}
			var rebuilt *reference[K, V]
			for j := len(survivors) - 1; j >= 0; j-- {
				rebuilt = survivors[j].relink(rebuilt)
			}
			old.heads[i].Store(rebuilt)
		}
	}

	if purged > 0 {
		s.purged.Add(uint64(purged))
		s.logger.Debug("segment purged",
			zap.Int("segment", s.index),
			zap.Int("purged", purged))
	}
	s.count.Store(max(live, 0))
}

// drain empties the reclamation queue. purged counts only handles created
// since the last clear; older ones were already discounted.
func (s *segment[K, V]) drain() (purge map[*handle[K, V]]struct{}, purged int) {
	h := s.queue.pollAll()
	if h == nil {
		return nil, 0
	}
	purge = make(map[*handle[K, V]]struct{})
	for ; h != nil; h = h.qnext {
		purge[h] = struct{}{}
		if h.gen == s.gen {
			purged++
		}
	}
	return purge, purged
}

func chainHasDead[K comparable, V any](head *reference[K, V], purge map[*handle[K, V]]struct{}) bool {
	for r := head; r != nil; r = r.next {
		if r.dead(purge) {
			return true
		}
	}
	return false
}

// clear drops every chain and resets the bucket array to its initial
// length. Handles queued before the clear are discarded.
func (s *segment[K, V]) clear() {
	if s.count.Load() == 0 && !s.queue.pending() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.queue.pollAll()
	s.setBuckets(newBucketArray[K, V](s.initialLen))
	s.count.Store(0)
	s.logger.Debug("segment cleared", zap.Int("segment", s.index))
}

func (s *segment[K, V]) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.count.Load())
}
