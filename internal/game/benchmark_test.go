package game

import (
	"testing"

	"horde/internal/scheduler"
)

// =============================================================================
// BENCHMARK SUITE: CRITICAL PATH PERFORMANCE TESTS
// Run with: go test -bench=. -benchmem ./internal/game/...
// =============================================================================

// -----------------------------------------------------------------------------
// WORLD STEP BENCHMARKS
// -----------------------------------------------------------------------------

func BenchmarkWorldStep_500Enemies(b *testing.B)  { benchmarkWorldStep(b, 500) }
func BenchmarkWorldStep_2000Enemies(b *testing.B) { benchmarkWorldStep(b, 2000) }
func BenchmarkWorldStep_5000Enemies(b *testing.B) { benchmarkWorldStep(b, 5000) }

func benchmarkWorldStep(b *testing.B, enemies int) {
	opts := quietOptions()
	opts.World.InitialEnemies = enemies
	opts.World.PatrolRadius = 40
	w, err := NewWorld(opts)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		w.Step()
	}
}

// -----------------------------------------------------------------------------
// BLAST BENCHMARKS
// -----------------------------------------------------------------------------

func BenchmarkBlast_100Victims(b *testing.B) {
	opts := quietOptions()
	w, err := NewWorld(opts)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		w.SpawnEnemies(100, 10)
		b.StartTimer()
		w.Blast(scheduler.Vec3{}, 20)
		w.Step()
	}
}

// -----------------------------------------------------------------------------
// SNAPSHOT READ BENCHMARK
// -----------------------------------------------------------------------------

func BenchmarkGetSnapshot(b *testing.B) {
	opts := quietOptions()
	opts.World.InitialEnemies = 1000
	w, err := NewWorld(opts)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = w.GetSnapshot()
	}
}
