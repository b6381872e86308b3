package refmap

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// ReferenceType selects how eagerly the reclaimer may sever a reference.
type ReferenceType uint8

const (
	// SoftReference entries are severed only under memory pressure
	// (Reclaim(true)) or by an explicit Release.
	SoftReference ReferenceType = iota
	// WeakReference entries are severed on every reclaim cycle.
	WeakReference
)

// String implements fmt.Stringer.
func (t ReferenceType) String() string {
	switch t {
	case SoftReference:
		return "soft"
	case WeakReference:
		return "weak"
	default:
		return fmt.Sprintf("ReferenceType(%d)", uint8(t))
	}
}

// ParseReferenceType parses "soft" or "weak", case-insensitively.
func ParseReferenceType(s string) (ReferenceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "soft", "":
		return SoftReference, nil
	case "weak":
		return WeakReference, nil
	}
	return 0, fmt.Errorf("%w: unknown reference type %q", ErrInvalidArgument, s)
}

// MarshalText implements encoding.TextMarshaler.
func (t ReferenceType) MarshalText() ([]byte, error) {
	if t > WeakReference {
		return nil, fmt.Errorf("%w: unknown reference type %d", ErrInvalidArgument, uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ReferenceType) UnmarshalText(text []byte) error {
	v, err := ParseReferenceType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Entry is a key-value pair stored in the map.
// The key never changes; the value is replaced atomically, so readers
// never observe a partially written value.
type Entry[K comparable, V any] struct {
	key   K
	value atomic.Pointer[V]
}

func newEntry[K comparable, V any](key K, value V) *Entry[K, V] {
	e := &Entry[K, V]{key: key}
	e.value.Store(&value)
	return e
}

// Key returns the entry key.
func (e *Entry[K, V]) Key() K {
	return e.key
}

// Value returns the current value.
func (e *Entry[K, V]) Value() V {
	return *e.value.Load()
}

// SetValue stores value and returns the previous one.
func (e *Entry[K, V]) SetValue(value V) (previous V) {
	return *e.value.Swap(&value)
}

// String implements fmt.Stringer.
func (e *Entry[K, V]) String() string {
	return fmt.Sprintf("%v=%v", e.key, e.Value())
}

// handle is the reclaimable part of a reference. It is shared by every
// chain node that links the same entry, so relinking during a restructure
// never duplicates a queue registration.
type handle[K comparable, V any] struct {
	entry    atomic.Pointer[Entry[K, V]]
	queue    *reclaimQueue[K, V]
	qnext    *handle[K, V] // written once, before the handle is pushed
	gen      uint64        // segment generation at creation
	kind     ReferenceType
	enqueued atomic.Bool
}

// release severs the entry and queues the handle for purging.
// Only the first call has any effect.
func (h *handle[K, V]) release() bool {
	if !h.enqueued.CompareAndSwap(false, true) {
		return false
	}
	h.entry.Store(nil)
	h.queue.push(h)
	return true
}

func (h *handle[K, V]) reclaimable(pressure bool) bool {
	return h.kind == WeakReference || pressure
}

// reference is one node of a bucket chain. Nodes are immutable once
// linked: a restructure builds new nodes instead of rewriting next, so a
// lock-free reader always walks a consistent chain.
type reference[K comparable, V any] struct {
	handle *handle[K, V]
	hash   uint32
	next   *reference[K, V]
}

// get returns the entry, or nil once the reference has been severed.
func (r *reference[K, V]) get() *Entry[K, V] {
	return r.handle.entry.Load()
}

func (r *reference[K, V]) release() bool {
	return r.handle.release()
}

// relink returns a copy of r in front of next.
func (r *reference[K, V]) relink(next *reference[K, V]) *reference[K, V] {
	return &reference[K, V]{handle: r.handle, hash: r.hash, next: next}
}

func (r *reference[K, V]) dead(purge map[*handle[K, V]]struct{}) bool {
	if _, ok := purge[r.handle]; ok {
		return true
	}
	return r.get() == nil
}

// reclaimQueue is a lock-free stack of severed handles awaiting purge.
// Producers are Release, Remove and the reclaimer; the single consumer is
// the owning segment, under its lock.
type reclaimQueue[K comparable, V any] struct {
	head atomic.Pointer[handle[K, V]]
}

func (q *reclaimQueue[K, V]) push(h *handle[K, V]) {
	for {
		head := q.head.Load()
		h.qnext = head
		if q.head.CompareAndSwap(head, h) {
			return
		}
	}
}

// pollAll detaches every queued handle and returns the list head.
func (q *reclaimQueue[K, V]) pollAll() *handle[K, V] {
	return q.head.Swap(nil)
}

func (q *reclaimQueue[K, V]) pending() bool {
	return q.head.Load() != nil
}
