package game

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/time/rate"

	"horde/internal/scheduler"
)

// =============================================================================
// BODIES
// =============================================================================

func TestBodySetTorqueAndExpiry(t *testing.T) {
	b := NewBodySet(3)
	h := b.Spawn(scheduler.Vec3{X: 1})

	if !b.ApplyTorque(h, scheduler.Vec3{X: 10}) {
		t.Fatal("Expected torque on a live body to apply")
	}
	b.Step(0.1)

	pos, ok := b.Position(h)
	if !ok {
		t.Fatal("Body should still be alive")
	}
	if pos.Y <= 0 {
		t.Errorf("Expected the body to pop upward, got Y=%f", pos.Y)
	}

	b.Step(0.1)
	b.Step(0.1)
	if b.Len() != 0 {
		t.Errorf("Expected body to expire after 3 ticks, got %d live", b.Len())
	}

	// Impulse arriving after the corpse is gone is a counted no-op
	if b.ApplyTorque(h, scheduler.Vec3{X: 1}) {
		t.Error("Torque on an expired body should fail")
	}

	stats := b.Stats()
	if stats.Applied != 1 || stats.Missed != 1 || stats.Expired != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestBodySetRestingBodiesStayPut(t *testing.T) {
	b := NewBodySet(0)
	h := b.Spawn(scheduler.Vec3{X: 4, Z: 2})

	for i := 0; i < 10; i++ {
		b.Step(0.1)
	}

	pos, _ := b.Position(h)
	if pos != (scheduler.Vec3{X: 4, Z: 2}) {
		t.Errorf("Resting body moved to %+v", pos)
	}
}

// =============================================================================
// EFFECTS
// =============================================================================

func TestEffectPoolCap(t *testing.T) {
	tick := uint64(7)
	p := NewEffectPool(2, func() uint64 { return tick })

	a, ok := p.SpawnEffect(scheduler.EffectRequest{Prefab: "spark"})
	if !ok {
		t.Fatal("Expected first spawn to succeed")
	}
	if _, ok := p.SpawnEffect(scheduler.EffectRequest{Prefab: "spark"}); !ok {
		t.Fatal("Expected second spawn to succeed")
	}
	if _, ok := p.SpawnEffect(scheduler.EffectRequest{Prefab: "smoke"}); ok {
		t.Error("Expected spawn beyond cap to be rejected")
	}

	p.DespawnEffect(a)
	p.DespawnEffect(a) // double cleanup is harmless

	stats := p.Stats()
	if stats.Live != 1 || stats.Spawned != 2 || stats.Rejected != 1 || stats.Cleaned != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.ByPrefab["spark"] != 1 {
		t.Errorf("Expected 1 live spark, got %d", stats.ByPrefab["spark"])
	}

	tick = 10
	snaps := p.appendSnapshots(nil, 8)
	if len(snaps) != 1 || snaps[0].Age != 3 {
		t.Errorf("Expected one effect aged 3 ticks, got %+v", snaps)
	}
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func TestSnapshotPoolPublishesLatest(t *testing.T) {
	pool := NewSnapshotPool(SnapshotLimits{MaxEnemies: 4, MaxBodies: 4, MaxEffects: 4})

	for i := uint64(1); i <= 5; i++ {
		pool.Write(func(s *WorldSnapshot) {
			s.Tick = i
			s.Enemies = append(s.Enemies, EnemySnapshot{ID: i})
		})
	}

	snap := pool.Read()
	if snap.Tick != 5 || snap.Sequence != 5 {
		t.Errorf("Expected tick 5 / sequence 5, got %d / %d", snap.Tick, snap.Sequence)
	}
	if len(snap.Enemies) != 1 || snap.Enemies[0].ID != 5 {
		t.Errorf("Slot slices must be reset between writes, got %+v", snap.Enemies)
	}

	// Reader copies are detached from the pool
	snap.Enemies[0].ID = 99
	if again := pool.Read(); again.Enemies[0].ID != 5 {
		t.Error("Mutating a read snapshot leaked into the pool")
	}
}

// =============================================================================
// EVENT LOG
// =============================================================================

func TestEventLogWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	el := NewEventLog()
	if el.Emit(NewEvent(EventTypeSpawn, 1, "test", SpawnPayload{Count: 1})) {
		t.Error("Emit before Start should be refused")
	}

	if err := el.Start(path); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	el.EmitSimple(EventTypeKill, 3, "test", KillPayload{EnemyID: 42, X: 1, Z: 2})
	el.EmitSimple(EventTypeBlast, 3, "test", BlastPayload{Radius: 10, Kills: 1})
	el.Stop()

	stats := el.GetStats()
	if stats.Total != 2 || stats.Written != 2 || stats.Running {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("Invalid JSON line %q: %v", sc.Text(), err)
		}
		events = append(events, e)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(events))
	}
	if events[0].Type != EventTypeKill || events[0].TickNum != 3 {
		t.Errorf("Unexpected first event: %+v", events[0])
	}

	var kill KillPayload
	if err := json.Unmarshal(events[0].Payload, &kill); err != nil || kill.EnemyID != 42 {
		t.Errorf("Expected kill payload for enemy 42, got %+v (%v)", kill, err)
	}
}

func TestEventLogRingDropsOldest(t *testing.T) {
	el := NewEventLog()
	el.globalLimiter = rate.NewLimiter(rate.Inf, 0)
	el.running.Store(true) // no writer: the ring fills up

	for i := 0; i < EventBufferSize+10; i++ {
		el.Emit(Event{Type: EventTypeSpawn})
	}

	stats := el.GetStats()
	if stats.Pending != EventBufferSize {
		t.Errorf("Expected %d pending, got %d", EventBufferSize, stats.Pending)
	}
	if stats.Dropped != 10 {
		t.Errorf("Expected 10 dropped, got %d", stats.Dropped)
	}
}
