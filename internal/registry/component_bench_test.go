package registry

import (
	"fmt"
	"testing"
	"time"

	"github.com/conneroisu/wasmscope/internal/testutils"
)

func BenchmarkComponentRegistry_MarkAnalyzed(b *testing.B) {
	registry := NewComponentRegistry()
	a := analysis("d")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = registry.MarkAnalyzed(fmt.Sprintf("component-%d", i), a)
	}
}

func BenchmarkComponentRegistry_Get(b *testing.B) {
	registry := NewComponentRegistry()
	for i := 0; i < 1000; i++ {
		_, _ = registry.Upsert(testutils.SampleRecord(fmt.Sprintf("component-%d", i)))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = registry.Get(fmt.Sprintf("component-%d", i%1000))
	}
}

func BenchmarkComponentRegistry_List(b *testing.B) {
	registry := NewComponentRegistry()
	for i := 0; i < 100; i++ {
		_, _ = registry.Upsert(testutils.SampleRecord(fmt.Sprintf("component-%d", i)))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = registry.List()
	}
}

func BenchmarkComponentRegistry_ConcurrentReadWrite(b *testing.B) {
	registry := NewComponentRegistry()
	for i := 0; i < 100; i++ {
		_, _ = registry.Upsert(testutils.SampleRecord(fmt.Sprintf("component-%d", i)))
	}
	a := analysis("d")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			name := fmt.Sprintf("component-%d", i%100)
			if i%10 == 0 {
				_, _, _ = registry.MarkAnalyzed(name, a)
			} else {
				_, _ = registry.Get(name)
			}
			i++
		}
	})
}

func BenchmarkComponentRegistry_Evict(b *testing.B) {
	now := time.Now()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		registry := NewComponentRegistry()
		for j := 0; j < 100; j++ {
			name := fmt.Sprintf("component-%d", j)
			_, _, _ = registry.MarkAnalyzed(name, analysis("d"))
			_, _, _ = registry.MarkStale(name, now)
		}
		b.StartTimer()
		registry.Evict(now.Add(time.Hour), EvictionPolicy{GracePeriod: time.Minute})
	}
}
