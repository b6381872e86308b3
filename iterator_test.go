package refmap

import (
	"errors"
	"strconv"
	"testing"
)

func TestEntryIterator_VisitsEveryEntryOnce(t *testing.T) {
	const numEntries = 1000
	m := newTestMap[string, int](t)
	for i := 0; i < numEntries; i++ {
		m.Put(strconv.Itoa(i), i)
	}
	met := make(map[string]int)
	it := m.Entries().Iterator()
	for it.HasNext() {
		e, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if e.Key() != strconv.Itoa(e.Value()) {
			t.Fatalf("unexpected entry: %v", e)
		}
		met[e.Key()]++
	}
	if len(met) != numEntries {
		t.Fatalf("unexpected number of entries: %d", len(met))
	}
	for k, c := range met {
		if c != 1 {
			t.Fatalf("key %s visited %d times", k, c)
		}
	}
	if _, err := it.Next(); !errors.Is(err, ErrExhaustedIterator) {
		t.Fatalf("expected ErrExhaustedIterator, got %v", err)
	}
}

func TestEntryIterator_Empty(t *testing.T) {
	m := newTestMap[int, int](t)
	it := m.Entries().Iterator()
	if it.HasNext() {
		t.Fatalf("empty map has entries")
	}
	if _, err := it.Next(); !errors.Is(err, ErrExhaustedIterator) {
		t.Fatalf("expected ErrExhaustedIterator, got %v", err)
	}
}

func TestEntryIterator_SkipsSeveredReferences(t *testing.T) {
	m := newTestMap[int, int](t)
	for i := 0; i < 10; i++ {
		m.Put(i, i)
	}
	m.Release(3)
	m.Release(7)
	n := 0
	for it := m.Entries().Iterator(); it.HasNext(); {
		e, _ := it.Next()
		if e.Key() == 3 || e.Key() == 7 {
			t.Fatalf("severed entry %d returned", e.Key())
		}
		n++
	}
	if n != 8 {
		t.Fatalf("unexpected count: %d", n)
	}
	// iteration does not purge
	if m.Size() != 10 {
		t.Fatalf("unexpected size: %d", m.Size())
	}
}

func TestEntryIterator_Remove(t *testing.T) {
	m := newTestMap[int, int](t)
	for i := 0; i < 100; i++ {
		m.Put(i, i)
	}
	it := m.Entries().Iterator()
	if err := it.Remove(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState before Next, got %v", err)
	}
	for it.HasNext() {
		e, _ := it.Next()
		if e.Value()%2 == 0 {
			if err := it.Remove(); err != nil {
				t.Fatalf("Remove: %v", err)
			}
			if err := it.Remove(); !errors.Is(err, ErrInvalidState) {
				t.Fatalf("expected ErrInvalidState on second Remove, got %v", err)
			}
		}
	}
	if m.Size() != 50 {
		t.Fatalf("unexpected size: %d", m.Size())
	}
	for i := 0; i < 100; i++ {
		if m.ContainsKey(i) != (i%2 == 1) {
			t.Fatalf("key %d: unexpected presence", i)
		}
	}
}

func TestEntryIterator_SetValueWritesThrough(t *testing.T) {
	m := newTestMap[string, int](t)
	m.Put("a", 1)
	it := m.Entries().Iterator()
	e, err := it.Next()
	if err != nil {
		t.Fatal(err)
	}
	if prev := e.SetValue(2); prev != 1 {
		t.Fatalf("unexpected previous value: %d", prev)
	}
	if v, _ := m.Get("a"); v != 2 {
		t.Fatalf("SetValue not visible: %d", v)
	}
	if s := e.String(); s != "a=2" {
		t.Fatalf("unexpected string: %s", s)
	}
}

func TestEntryIterator_ConcurrentResize(t *testing.T) {
	m := newTestMap[int, int](t, WithConcurrencyLevel(1), WithInitialCapacity(2))
	for i := 0; i < 8; i++ {
		m.Put(i, i)
	}
	it := m.Entries().Iterator()
	seen := make(map[int]bool)
	first := true
	for it.HasNext() {
		e, _ := it.Next()
		seen[e.Key()] = true
		if first {
			// grows the table under the iterator
			for i := 100; i < 200; i++ {
				m.Put(i, i)
			}
			first = false
		}
	}
	for i := 0; i < 8; i++ {
		if !seen[i] {
			t.Fatalf("key %d missed after resize", i)
		}
	}
}

func TestEntrySet(t *testing.T) {
	m := newTestMap[string, int](t)
	es := m.Entries()
	if es != m.Entries() {
		t.Fatalf("entry set is not cached")
	}
	m.Put("a", 1)
	m.Put("b", 2)
	if es.Size() != 2 {
		t.Fatalf("unexpected size: %d", es.Size())
	}
	if !es.Contains("a", 1) {
		t.Fatalf("Contains missed a matching entry")
	}
	if es.Contains("a", 2) {
		t.Fatalf("Contains matched a different value")
	}
	if es.Contains("c", 0) {
		t.Fatalf("Contains matched a missing key")
	}
	if es.Remove("a", 2) {
		t.Fatalf("removed with a different value")
	}
	if !es.Remove("a", 1) {
		t.Fatalf("Remove failed")
	}
	if m.ContainsKey("a") {
		t.Fatalf("Remove did not write through")
	}
	es.Clear()
	if !m.IsEmpty() {
		t.Fatalf("Clear did not write through")
	}
}

func TestMap_Range(t *testing.T) {
	const numEntries = 1000
	m := newTestMap[string, int](t)
	for i := 0; i < numEntries; i++ {
		m.Put(strconv.Itoa(i), i)
	}
	iters := 0
	met := make(map[string]int)
	m.Range(func(key string, value int) bool {
		if key != strconv.Itoa(value) {
			t.Fatalf("got unexpected key/value for iteration %d: %v/%v", iters, key, value)
			return false
		}
		met[key] += 1
		iters++
		return true
	})
	if iters != numEntries {
		t.Fatalf("got unexpected number of iterations: %d", iters)
	}
	for i := 0; i < numEntries; i++ {
		if c := met[strconv.Itoa(i)]; c != 1 {
			t.Fatalf("range did not iterate correctly over %d: %d", i, c)
		}
	}
}

func TestMap_Range_FalseReturned(t *testing.T) {
	m := newTestMap[string, int](t)
	for i := 0; i < 100; i++ {
		m.Put(strconv.Itoa(i), i)
	}
	iters := 0
	m.Range(func(key string, value int) bool {
		iters++
		return iters != 13
	})
	if iters != 13 {
		t.Fatalf("got unexpected number of iterations: %d", iters)
	}
}

func TestMap_Range_NestedDelete(t *testing.T) {
	const numEntries = 256
	m := newTestMap[string, int](t)
	for i := 0; i < numEntries; i++ {
		m.Put(strconv.Itoa(i), i)
	}
	m.Range(func(key string, value int) bool {
		m.Remove(key)
		return true
	})
	for i := 0; i < numEntries; i++ {
		if _, ok := m.Get(strconv.Itoa(i)); ok {
			t.Fatalf("value found for %d", i)
		}
	}
	if !m.IsEmpty() {
		t.Fatalf("unexpected size: %d", m.Size())
	}
}

func TestMap_AllKeysValues(t *testing.T) {
	m := newTestMap[int, int](t)
	for i := 0; i < 10; i++ {
		m.Put(i, i*10)
	}
	sum := 0
	for k, v := range m.All() {
		if v != k*10 {
			t.Fatalf("unexpected pair %d/%d", k, v)
		}
		sum += k
	}
	if sum != 45 {
		t.Fatalf("unexpected key sum: %d", sum)
	}
	sum = 0
	for k := range m.Keys() {
		sum += k
	}
	if sum != 45 {
		t.Fatalf("unexpected key sum: %d", sum)
	}
	sum = 0
	for v := range m.Values() {
		sum += v
		if sum >= 100 {
			break
		}
	}
	if sum < 100 {
		t.Fatalf("unexpected value sum: %d", sum)
	}
}
