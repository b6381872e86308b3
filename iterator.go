package refmap

import (
	"iter"
)

// EntryIterator walks the live entries of a Map. It is weakly consistent:
// it never fails because of concurrent modification, and it may or may
// not observe entries inserted or removed after it was created. Each
// segment's bucket array is snapshotted when the walk reaches it.
//
// An EntryIterator is not safe for concurrent use.
type EntryIterator[K comparable, V any] struct {
	m       *Map[K, V]
	seg     int
	buckets *bucketArray[K, V]
	bucket  int
	ref     *reference[K, V]
	next    *Entry[K, V]
	last    *Entry[K, V]
}

func newEntryIterator[K comparable, V any](m *Map[K, V]) *EntryIterator[K, V] {
	it := &EntryIterator[K, V]{m: m, seg: -1}
	it.advance()
	return it
}

// advance moves to the next reference that is still live.
func (it *EntryIterator[K, V]) advance() {
	it.next = nil
	for {
		for it.ref != nil {
			r := it.ref
			it.ref = r.next
			if e := r.get(); e != nil {
				it.next = e
				return
			}
		}
		if it.buckets != nil && it.bucket < len(it.buckets.heads) {
			it.ref = it.buckets.heads[it.bucket].Load()
			it.bucket++
			continue
		}
		it.seg++
		if it.seg >= len(it.m.segments) {
			it.buckets = nil
			return
		}
		it.buckets = it.m.segments[it.seg].buckets.Load()
		it.bucket = 0
	}
}

// HasNext reports whether Next will return an entry.
func (it *EntryIterator[K, V]) HasNext() bool {
	return it.next != nil
}

// Next returns the next entry, or ErrExhaustedIterator.
func (it *EntryIterator[K, V]) Next() (*Entry[K, V], error) {
	if it.next == nil {
		return nil, ErrExhaustedIterator
	}
	e := it.next
	it.last = e
	it.advance()
	return e, nil
}

// Remove deletes the key of the entry last returned by Next from the map.
// It returns ErrInvalidState if Next has not been called, or Remove was
// already called after the last Next.
func (it *EntryIterator[K, V]) Remove() error {
	if it.last == nil {
		return ErrInvalidState
	}
	it.m.Remove(it.last.key)
	it.last = nil
	return nil
}

// EntrySet is a live view of a Map's entries. Removals through the view
// write through to the map.
type EntrySet[K comparable, V any] struct {
	m *Map[K, V]
}

// Iterator returns a new weakly consistent iterator over the entries.
func (s *EntrySet[K, V]) Iterator() *EntryIterator[K, V] {
	return newEntryIterator(s.m)
}

// Contains reports whether the map holds key with a value equal to value.
func (s *EntrySet[K, V]) Contains(key K, value V) bool {
	s.m.requireValEqual("EntrySet.Contains")
	e := s.m.getEntry(&key, false)
	if e == nil {
		return false
	}
	current := e.Value()
	return s.m.equal(&current, &value)
}

// Remove deletes key only if it is mapped to value.
func (s *EntrySet[K, V]) Remove(key K, value V) bool {
	return s.m.RemoveIf(key, value)
}

// Size returns the size of the map.
func (s *EntrySet[K, V]) Size() int {
	return s.m.Size()
}

// Clear clears the map.
func (s *EntrySet[K, V]) Clear() {
	s.m.Clear()
}

// All returns an iterator over the live key-value pairs, with the same
// consistency guarantees as EntryIterator.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return m.Range
}

// Keys returns an iterator over the live keys.
func (m *Map[K, V]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		m.Range(func(k K, _ V) bool {
			return yield(k)
		})
	}
}

// Values returns an iterator over the live values.
func (m *Map[K, V]) Values() iter.Seq[V] {
	return func(yield func(V) bool) {
		m.Range(func(_ K, v V) bool {
			return yield(v)
		})
	}
}

// Range calls yield for each live key and value, stopping early when
// yield returns false. yield runs without any segment lock held, so it may
// modify the map.
func (m *Map[K, V]) Range(yield func(key K, value V) bool) {
	for it := newEntryIterator(m); it.HasNext(); {
		e, _ := it.Next()
		if !yield(e.key, e.Value()) {
			return
		}
	}
}
