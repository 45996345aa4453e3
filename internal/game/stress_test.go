package game

import (
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"horde/internal/scheduler"
)

// =============================================================================
// STRESS TEST SUITE: LARGE HORDES UNDER BURSTS
// Run with: go test -v -run=TestStress -timeout=60s ./internal/game/...
// =============================================================================

// StressTestResult contains metrics from stress tests
type StressTestResult struct {
	TotalTicks     int
	AvgTickTime    time.Duration
	MaxTickTime    time.Duration
	P99TickTime    time.Duration
	PeakEnemies    int
	MaxEffectsTick int
	MaxPhysicsTick int
	MaxAudioTick   int
	MaxVisitedTick int
	Kills          int
}

func runStress(t *testing.T, opts Options, ticks int) StressTestResult {
	t.Helper()

	w, err := NewWorld(opts)
	if err != nil {
		t.Fatalf("NewWorld failed: %v", err)
	}

	var result StressTestResult
	tickTimes := make([]time.Duration, 0, ticks)
	var total time.Duration

	for i := 0; i < ticks; i++ {
		start := time.Now()
		r := w.Step()
		elapsed := time.Since(start)

		tickTimes = append(tickTimes, elapsed)
		total += elapsed
		result.MaxTickTime = max(result.MaxTickTime, elapsed)
		result.MaxEffectsTick = max(result.MaxEffectsTick, r.EffectsSpawned)
		result.MaxPhysicsTick = max(result.MaxPhysicsTick, r.PhysicsApplied)
		result.MaxAudioTick = max(result.MaxAudioTick, r.AudioPlayed)
		result.MaxVisitedTick = max(result.MaxVisitedTick, r.Visited)
		result.PeakEnemies = max(result.PeakEnemies, w.EnemyCount())
	}

	sort.Slice(tickTimes, func(i, j int) bool { return tickTimes[i] < tickTimes[j] })
	result.TotalTicks = ticks
	result.AvgTickTime = total / time.Duration(ticks)
	result.P99TickTime = tickTimes[len(tickTimes)*99/100]
	result.Kills = w.GetSnapshot().TotalKills
	return result
}

// -----------------------------------------------------------------------------
// STRESS TEST: MASS KILLS STAY WITHIN BUDGETS
// -----------------------------------------------------------------------------

func TestStress_MassKills(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	opts := quietOptions()
	opts.World.InitialEnemies = 4000
	opts.World.Radius = 80
	opts.World.BlastEveryTicks = 10
	opts.World.BlastRadius = 45
	opts.World.WaveEveryTicks = 20
	opts.World.WaveSize = 200
	opts.World.PatrolRadius = 30

	result := runStress(t, opts, 600)
	cfg := opts.Scheduler

	if result.MaxEffectsTick > cfg.MaxEffectsPerTick {
		t.Errorf("Effects per tick %d exceeded budget %d", result.MaxEffectsTick, cfg.MaxEffectsPerTick)
	}
	if result.MaxPhysicsTick > cfg.MaxPhysicsOpsPerTick {
		t.Errorf("Physics per tick %d exceeded budget %d", result.MaxPhysicsTick, cfg.MaxPhysicsOpsPerTick)
	}
	if result.MaxAudioTick > cfg.MaxAudioPerTick {
		t.Errorf("Audio per tick %d exceeded cap %d", result.MaxAudioTick, cfg.MaxAudioPerTick)
	}
	if result.MaxVisitedTick > cfg.ChecksPerTick {
		t.Errorf("Classifier visited %d in one tick, budget %d", result.MaxVisitedTick, cfg.ChecksPerTick)
	}
	if result.Kills == 0 {
		t.Error("Expected blasts to kill something")
	}

	t.Logf("Mass Kill Results:")
	t.Logf("  Total Ticks: %d", result.TotalTicks)
	t.Logf("  Avg Tick Time: %v", result.AvgTickTime)
	t.Logf("  P99 Tick Time: %v", result.P99TickTime)
	t.Logf("  Max Tick Time: %v", result.MaxTickTime)
	t.Logf("  Peak Enemies: %d", result.PeakEnemies)
	t.Logf("  Kills: %d", result.Kills)
}

// -----------------------------------------------------------------------------
// STRESS TEST: CONCURRENT PRODUCERS
// -----------------------------------------------------------------------------

func TestStress_ConcurrentProducers(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	opts := quietOptions()
	opts.World.InitialEnemies = 500
	w, err := NewWorld(opts)
	if err != nil {
		t.Fatal(err)
	}
	w.Start()
	defer w.Stop()

	var wg sync.WaitGroup
	var accepted, rejected atomic.Int64

	numWorkers := 8
	opsPerWorker := 500

	for n := 0; n < numWorkers; n++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			in := w.Submitter()
			for i := 0; i < opsPerWorker; i++ {
				var ok bool
				switch i % 4 {
				case 0:
					ok = in.TrySubmitEffect(scheduler.EffectRequest{Prefab: "spark"})
				case 1:
					ok = in.TrySubmitAudio(scheduler.AudioRequest{Volume: 0.5})
				case 2:
					ids := w.SpawnEnemies(1, 50)
					ok = len(ids) == 1
				case 3:
					ok = w.Blast(scheduler.Vec3{X: float64(worker)}, 5) >= 0
				}
				if ok {
					accepted.Add(1)
				} else {
					rejected.Add(1)
				}
			}
		}(n)
	}
	wg.Wait()

	// Let the loop drain whatever the inbox still holds
	time.Sleep(200 * time.Millisecond)

	snap := w.GetSnapshot()
	if snap.Scheduler.Inbox.Pending != 0 {
		t.Errorf("Expected empty inbox after draining, got %d", snap.Scheduler.Inbox.Pending)
	}
	if snap.Scheduler.Faults != 0 {
		t.Errorf("Expected no faults, got %d", snap.Scheduler.Faults)
	}

	t.Logf("Concurrent Producers:")
	t.Logf("  Accepted: %d", accepted.Load())
	t.Logf("  Rejected: %d", rejected.Load())
	t.Logf("  Ticks: %d", snap.Tick)
}
