package refmap

import (
	"fmt"
	"testing"
)

var (
	benchData      [128]string
	benchDataLarge [128 << 10]string
)

func init() {
	for i := range benchData {
		benchData[i] = fmt.Sprintf("%b", i)
	}
	for i := range benchDataLarge {
		benchDataLarge[i] = fmt.Sprintf("%b", i)
	}
}

func BenchmarkMapGet(b *testing.B) {
	benchmarkMapGet(b, benchData[:])
}

func BenchmarkMapGetLarge(b *testing.B) {
	benchmarkMapGet(b, benchDataLarge[:])
}

func benchmarkMapGet(b *testing.B, data []string) {
	b.ReportAllocs()
	m := newTestMap[string, int](b)
	for i := range data {
		m.Put(data[i], i)
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_, _ = m.Get(data[i])
			i++
			if i >= len(data) {
				i = 0
			}
		}
	})
}

func BenchmarkMapPutIfAbsent(b *testing.B) {
	benchmarkMapPutIfAbsent(b, benchData[:])
}

func BenchmarkMapPutIfAbsentLarge(b *testing.B) {
	benchmarkMapPutIfAbsent(b, benchDataLarge[:])
}

func benchmarkMapPutIfAbsent(b *testing.B, data []string) {
	b.ReportAllocs()
	m := newTestMap[string, int](b)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_, _ = m.PutIfAbsent(data[i], i)
			i++
			if i >= len(data) {
				i = 0
			}
		}
	})
}

func BenchmarkMapPutRemove(b *testing.B) {
	b.ReportAllocs()
	m := newTestMap[string, int](b)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if i&1 == 0 {
				m.Put(benchData[i], i)
			} else {
				m.Remove(benchData[i-1])
			}
			i++
			if i >= len(benchData) {
				i = 0
			}
		}
	})
}

func BenchmarkMapReleasePurge(b *testing.B) {
	b.ReportAllocs()
	m := newTestMap[int, int](b, WithReferenceType(WeakReference))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Put(i&1023, i)
		if i&1023 == 1023 {
			m.Reclaim(false)
			m.PurgeStale()
		}
	}
}
