package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"horde/internal/config"
)

// =============================================================================
// FIXTURES
// =============================================================================

// testWorld is an arena with an avatar at the origin acting as reference point.
type testWorld struct {
	arena  *Arena
	avatar Handle

	// visits records entity handles (not the avatar) in the order the
	// scheduler asked for their position.
	visits []Handle
	record bool
}

func newTestWorld() *testWorld {
	w := &testWorld{arena: NewArena(64)}
	w.avatar = w.arena.Spawn(Vec3{})
	return w
}

func (w *testWorld) Position(h Handle) (Vec3, bool) {
	if w.record && h != w.avatar {
		w.visits = append(w.visits, h)
	}
	return w.arena.Position(h)
}

func (w *testWorld) Locate() (Handle, bool) {
	if !w.arena.Alive(w.avatar) {
		return Handle{}, false
	}
	return w.avatar, true
}

func (w *testWorld) at(d float64) Handle {
	return w.arena.Spawn(Vec3{X: d})
}

func (w *testWorld) move(h Handle, d float64) {
	w.arena.SetPosition(h, Vec3{X: d})
}

func testConfig() config.SchedulerConfig {
	cfg := config.DefaultScheduler()
	cfg.NearDistance = 25
	cfg.MidDistance = 60
	cfg.HysteresisBand = 5
	cfg.ReferenceResolveInterval = time.Second
	return cfg
}

func newTestScheduler(t *testing.T, cfg config.SchedulerConfig, w *testWorld, deps Deps) *Scheduler {
	t.Helper()
	deps.Positions = w
	if deps.Locator == nil {
		deps.Locator = w
	}
	s, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

type recordingSpawner struct {
	spawned   []EffectRequest
	despawned []EffectID
	nextID    EffectID
	panicOn   string
}

func (r *recordingSpawner) SpawnEffect(req EffectRequest) (EffectID, bool) {
	if req.Prefab == r.panicOn {
		panic("spawner exploded")
	}
	r.nextID++
	r.spawned = append(r.spawned, req)
	return r.nextID, true
}

func (r *recordingSpawner) DespawnEffect(id EffectID) {
	r.despawned = append(r.despawned, id)
}

type recordingPhysics struct {
	applied []PhysicsRequest
}

func (r *recordingPhysics) ApplyTorque(body Handle, torque Vec3) bool {
	r.applied = append(r.applied, PhysicsRequest{Body: body, Torque: torque})
	return true
}

type countingAudio struct {
	played int
}

func (c *countingAudio) PlayAt(AudioRequest) { c.played++ }

// =============================================================================
// CONSTRUCTION
// =============================================================================

func TestNewRejectsInvalidConfig(t *testing.T) {
	w := newTestWorld()

	cfg := testConfig()
	cfg.ChecksPerTick = 0
	if _, err := New(cfg, Deps{Positions: w}); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for zero budget, got %v", err)
	}

	if _, err := New(testConfig(), Deps{}); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig without a position source, got %v", err)
	}
}

// =============================================================================
// EXAMPLE SCENARIOS
// =============================================================================

// TestHysteresisScenario walks one entity 24 -> 28 -> 31 with near=25, band=5.
func TestHysteresisScenario(t *testing.T) {
	w := newTestWorld()
	s := newTestScheduler(t, testConfig(), w, Deps{})

	e := w.at(24)
	s.Register(e)
	if tier, _ := s.Tier(e); tier != TierNear {
		t.Fatalf("Expected Near at distance 24, got %s", tier)
	}

	w.move(e, 28)
	s.Tick()
	if tier, _ := s.Tier(e); tier != TierNear {
		t.Errorf("Expected to stay Near at 28 (exit is 30), got %s", tier)
	}

	w.move(e, 31)
	s.Tick()
	if tier, _ := s.Tier(e); tier != TierMid {
		t.Errorf("Expected Mid at 31, got %s", tier)
	}
}

// TestAudioCapScenario queues five sounds against a cap of three.
func TestAudioCapScenario(t *testing.T) {
	w := newTestWorld()
	audio := &countingAudio{}
	cfg := testConfig()
	cfg.MaxAudioPerTick = 3
	s := newTestScheduler(t, cfg, w, Deps{Audio: audio})

	admitted := 0
	for i := 0; i < 5; i++ {
		if s.QueueAudio(Vec3{X: float64(i)}, 1) {
			admitted++
		}
	}
	if admitted != 3 {
		t.Errorf("Expected 3 admitted, got %d", admitted)
	}

	r := s.Tick()
	if audio.played != 3 || r.AudioPlayed != 3 {
		t.Errorf("Expected 3 sounds played, got sink=%d report=%d", audio.played, r.AudioPlayed)
	}
	if r.AudioDropped != 2 {
		t.Errorf("Expected 2 dropped, got %d", r.AudioDropped)
	}
	if s.audio.count() != 0 {
		t.Errorf("Expected counter reset after tick, got %d", s.audio.count())
	}

	r = s.Tick()
	if r.AudioPlayed != 0 || audio.played != 3 {
		t.Errorf("Dropped sounds must not carry over, played %d next tick", r.AudioPlayed)
	}

	// The next tick window admits the full cap again
	for i := 0; i < 3; i++ {
		if !s.QueueAudio(Vec3{}, 1) {
			t.Fatalf("Request %d should be admitted in a fresh tick", i)
		}
	}
}

// TestFairnessScenario: budget 2, five entities, three ticks.
func TestFairnessScenario(t *testing.T) {
	w := newTestWorld()
	cfg := testConfig()
	cfg.ChecksPerTick = 2
	s := newTestScheduler(t, cfg, w, Deps{})

	var hs []Handle
	for i := 0; i < 5; i++ {
		h := w.at(float64(10 * i))
		hs = append(hs, h)
		s.Register(h)
	}

	w.record = true
	for i := 0; i < 3; i++ {
		s.Tick()
	}

	seen := map[Handle]int{}
	for _, h := range w.visits {
		seen[h]++
	}
	for i, h := range hs {
		if seen[h] == 0 {
			t.Errorf("Entity %d not visited within ceil(5/2)=3 ticks", i)
		}
	}
}

// TestUnregisterAtCursorScenario removes the entity under the cursor and checks
// that the entity swapped into that slot is the next one visited.
func TestUnregisterAtCursorScenario(t *testing.T) {
	w := newTestWorld()
	cfg := testConfig()
	cfg.ChecksPerTick = 2
	s := newTestScheduler(t, cfg, w, Deps{})

	var hs []Handle
	for i := 0; i < 5; i++ {
		h := w.at(float64(10 * i))
		hs = append(hs, h)
		s.Register(h)
	}

	s.Tick() // visits hs[0], hs[1]
	if s.reg.cursor != 2 {
		t.Fatalf("Expected cursor 2, got %d", s.reg.cursor)
	}

	under := s.reg.entries[s.reg.cursor].handle
	s.Unregister(under)

	w.record = true
	s.Tick()

	if len(w.visits) != 2 {
		t.Fatalf("Expected 2 visits, got %d", len(w.visits))
	}
	if w.visits[0] != hs[4] {
		t.Errorf("Expected swapped-in tail entity to be visited first, got %+v", w.visits[0])
	}
	if w.visits[1] != hs[3] {
		t.Errorf("Expected hs[3] second, got %+v", w.visits[1])
	}
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestHysteresisSuppressesOscillation(t *testing.T) {
	w := newTestWorld()
	changes := 0
	s := newTestScheduler(t, testConfig(), w, Deps{
		OnTierChange: func(Handle, Tier) { changes++ },
	})

	e := w.at(24)
	s.Register(e)

	// Wobble across the raw near boundary (25) but inside the band (20..30)
	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			w.move(e, 29)
		} else {
			w.move(e, 21)
		}
		s.Tick()
	}
	if changes != 0 {
		t.Errorf("Expected no tier changes inside the band, got %d", changes)
	}

	// A full sweep out and back crosses each boundary band exactly once per way
	for d := 0.0; d <= 100; d += 0.5 {
		w.move(e, d)
		s.Tick()
	}
	for d := 100.0; d >= 0; d -= 0.5 {
		w.move(e, d)
		s.Tick()
	}
	if changes != 4 {
		t.Errorf("Expected 4 transitions for an out-and-back sweep, got %d", changes)
	}
}

func TestRoundRobinCycle(t *testing.T) {
	const n, budget = 7, 3

	w := newTestWorld()
	cfg := testConfig()
	cfg.ChecksPerTick = budget
	s := newTestScheduler(t, cfg, w, Deps{})

	for i := 0; i < n; i++ {
		s.Register(w.at(float64(i)))
	}

	w.record = true
	for i := 0; i < 2*n; i++ {
		s.Tick()
	}

	// Every window of n consecutive visits is a permutation of the population
	for start := 0; start+n <= len(w.visits); start += n {
		seen := map[Handle]bool{}
		for _, h := range w.visits[start : start+n] {
			if seen[h] {
				t.Fatalf("Entity %+v visited twice within cycle starting at %d", h, start)
			}
			seen[h] = true
		}
	}
}

func TestRegisterUnregisterRoundTrip(t *testing.T) {
	w := newTestWorld()
	cfg := testConfig()
	cfg.ChecksPerTick = 2
	s := newTestScheduler(t, cfg, w, Deps{})

	for i := 0; i < 5; i++ {
		s.Register(w.at(float64(i)))
	}
	s.Tick()

	size, cursor := s.Len(), s.reg.cursor

	h := w.at(40)
	if !s.Register(h) {
		t.Fatal("Register should add a new handle")
	}
	if s.Register(h) {
		t.Error("Second Register should be a no-op")
	}
	s.Unregister(h)
	if s.Unregister(h) {
		t.Error("Second Unregister should be a no-op")
	}

	if s.Len() != size || s.reg.cursor != cursor {
		t.Errorf("Expected size=%d cursor=%d, got size=%d cursor=%d", size, cursor, s.Len(), s.reg.cursor)
	}
}

func TestImmediateClassification(t *testing.T) {
	w := newTestWorld()
	s := newTestScheduler(t, testConfig(), w, Deps{})

	tests := []struct {
		dist float64
		want Tier
	}{
		{0, TierNear},
		{24, TierNear},
		{40, TierMid},
		{59, TierMid},
		{61, TierFar},
		{500, TierFar},
	}
	for _, tt := range tests {
		h := w.at(tt.dist)
		s.Register(h)
		got, ok := s.Tier(h)
		if !ok || got != tt.want {
			t.Errorf("dist %g: expected %s, got %s (ok=%v)", tt.dist, tt.want, got, ok)
		}
	}

	counts := s.Stats().Tiers
	if counts.Near != 2 || counts.Mid != 2 || counts.Far != 2 {
		t.Errorf("Unexpected tier counts %+v", counts)
	}
}

func TestRegisterWithoutReferenceDefaultsFar(t *testing.T) {
	w := newTestWorld()
	w.arena.Despawn(w.avatar)
	s := newTestScheduler(t, testConfig(), w, Deps{})

	h := w.at(1)
	s.Register(h)
	if tier, _ := s.Tier(h); tier != TierFar {
		t.Errorf("Expected Far without a reference point, got %s", tier)
	}

	r := s.Tick()
	if r.Resolved || r.Visited != 0 {
		t.Errorf("Expected a no-op pass while unresolved, got %+v", r)
	}
}

func TestStaleHandlesRemovedLazily(t *testing.T) {
	w := newTestWorld()
	cfg := testConfig()
	cfg.ChecksPerTick = 10
	s := newTestScheduler(t, cfg, w, Deps{})

	var hs []Handle
	for i := 0; i < 4; i++ {
		h := w.at(10)
		hs = append(hs, h)
		s.Register(h)
	}
	w.arena.Despawn(hs[1])
	w.arena.Despawn(hs[2])

	r := s.Tick()
	if r.StaleRemoved != 2 {
		t.Errorf("Expected 2 stale removals, got %d", r.StaleRemoved)
	}
	if s.Len() != 2 {
		t.Errorf("Expected 2 registered, got %d", s.Len())
	}
	if got := s.Stats().Tiers.Near; got != 2 {
		t.Errorf("Expected tier count to follow removals, got near=%d", got)
	}
	if _, ok := s.Tier(hs[1]); ok {
		t.Error("Stale handle should no longer be tracked")
	}
}

func TestReclassify(t *testing.T) {
	w := newTestWorld()
	var got []Tier
	cfg := testConfig()
	cfg.ChecksPerTick = 1
	s := newTestScheduler(t, cfg, w, Deps{
		OnTierChange: func(_ Handle, tier Tier) { got = append(got, tier) },
	})

	h := w.at(5)
	s.Register(h)
	w.move(h, 200)

	tier, ok := s.Reclassify(h)
	if !ok || tier != TierFar {
		t.Errorf("Expected Far after teleport, got %s ok=%v", tier, ok)
	}
	if len(got) != 1 || got[0] != TierFar {
		t.Errorf("Expected one callback with Far, got %v", got)
	}

	if _, ok := s.Reclassify(Handle{Index: 99, Gen: 1}); ok {
		t.Error("Reclassify of an unknown handle should report false")
	}
}

// =============================================================================
// REFERENCE RESOLUTION
// =============================================================================

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestResolverRetriesOnInterval(t *testing.T) {
	w := newTestWorld()
	w.arena.Despawn(w.avatar)

	clock := &fakeClock{now: time.Unix(1000, 0)}
	calls := 0
	locator := LocatorFunc(func() (Handle, bool) {
		calls++
		return w.Locate()
	})

	s := newTestScheduler(t, testConfig(), w, Deps{Locator: locator, Clock: clock.Now})

	s.Tick()
	s.Tick()
	if calls != 1 {
		t.Fatalf("Expected 1 lookup within the interval, got %d", calls)
	}

	clock.Advance(time.Second)
	s.Tick()
	if calls != 2 {
		t.Fatalf("Expected a retry after the interval, got %d lookups", calls)
	}

	// Anchor appears; the next eligible attempt resolves it
	w.avatar = w.arena.Spawn(Vec3{})
	clock.Advance(time.Second)
	if r := s.Tick(); !r.Resolved {
		t.Fatal("Expected resolution once the anchor exists")
	}

	// While the cached anchor is alive no lookups happen
	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		s.Tick()
	}
	if calls != 3 {
		t.Errorf("Expected cached anchor to suppress lookups, got %d", calls)
	}

	// Losing the anchor triggers a new attempt (interval already elapsed)
	w.arena.Despawn(w.avatar)
	s.Tick()
	if calls != 4 {
		t.Errorf("Expected re-resolution after the anchor died, got %d", calls)
	}
	if s.Stats().ResolveAttempts != 4 {
		t.Errorf("Expected 4 resolve attempts in stats, got %d", s.Stats().ResolveAttempts)
	}
}

// =============================================================================
// DEFERRED CHANNELS
// =============================================================================

func TestEffectDrainBudgetAndOrder(t *testing.T) {
	w := newTestWorld()
	sp := &recordingSpawner{}
	cfg := testConfig()
	cfg.MaxEffectsPerTick = 4
	cfg.EffectLifetimeTicks = 0
	s := newTestScheduler(t, cfg, w, Deps{Effects: sp})

	for i := 0; i < 10; i++ {
		s.QueueEffect(fmt.Sprintf("fx-%d", i), Vec3{}, IdentityQuat())
	}

	want := []int{4, 4, 2, 0}
	for i, n := range want {
		r := s.Tick()
		if r.EffectsSpawned != n {
			t.Errorf("Tick %d: expected %d spawned, got %d", i+1, n, r.EffectsSpawned)
		}
	}

	for i, req := range sp.spawned {
		if req.Prefab != fmt.Sprintf("fx-%d", i) {
			t.Fatalf("Expected FIFO order, position %d got %s", i, req.Prefab)
		}
	}
	if len(sp.despawned) != 0 {
		t.Error("Lifetime 0 must not schedule cleanups")
	}
}

func TestPhysicsDrainBudget(t *testing.T) {
	w := newTestWorld()
	ph := &recordingPhysics{}
	cfg := testConfig()
	cfg.MaxPhysicsOpsPerTick = 3
	s := newTestScheduler(t, cfg, w, Deps{Physics: ph})

	for i := 0; i < 7; i++ {
		s.QueuePhysics(Handle{Index: uint32(i), Gen: 1}, Vec3{Y: 1})
	}

	for tick := 0; tick < 5; tick++ {
		if r := s.Tick(); r.PhysicsApplied > 3 {
			t.Fatalf("Tick drained %d > budget 3", r.PhysicsApplied)
		}
	}
	if len(ph.applied) != 7 {
		t.Fatalf("Expected all 7 requests applied eventually, got %d", len(ph.applied))
	}
	for i, req := range ph.applied {
		if req.Body.Index != uint32(i) {
			t.Errorf("Expected FIFO order at %d, got body %d", i, req.Body.Index)
		}
	}
}

func TestInterBatchDelay(t *testing.T) {
	w := newTestWorld()
	cfg := testConfig()
	cfg.MaxEffectsPerTick = 2
	cfg.InterBatchDelayTicks = 2
	s := newTestScheduler(t, cfg, w, Deps{Effects: &recordingSpawner{}})

	for i := 0; i < 6; i++ {
		s.QueueEffect("fx", Vec3{}, Quat{})
	}

	type step struct {
		spawned int
		state   ChannelState
	}
	want := []step{
		{2, ChannelCoolingDown},
		{0, ChannelCoolingDown},
		{0, ChannelIdle},
		{2, ChannelCoolingDown},
	}
	for i, exp := range want {
		r := s.Tick()
		st := s.Stats().Effects.State
		if r.EffectsSpawned != exp.spawned || st != exp.state {
			t.Errorf("Tick %d: expected spawned=%d state=%s, got spawned=%d state=%s",
				i+1, exp.spawned, exp.state, r.EffectsSpawned, st)
		}
	}
}

func TestEffectAutoCleanup(t *testing.T) {
	w := newTestWorld()
	sp := &recordingSpawner{}
	cfg := testConfig()
	cfg.EffectLifetimeTicks = 3
	s := newTestScheduler(t, cfg, w, Deps{Effects: sp})

	s.QueueEffect("burst", Vec3{}, Quat{})
	s.Tick() // tick 1: spawned, due at tick 4

	for tick := 2; tick <= 3; tick++ {
		s.Tick()
		if len(sp.despawned) != 0 {
			t.Fatalf("Effect cleaned up early at tick %d", tick)
		}
	}
	if s.Stats().LiveEffects != 1 {
		t.Errorf("Expected 1 live effect, got %d", s.Stats().LiveEffects)
	}

	r := s.Tick()
	if r.EffectsCleaned != 1 || len(sp.despawned) != 1 || sp.despawned[0] != 1 {
		t.Errorf("Expected effect 1 cleaned at tick 4, got report=%d despawned=%v", r.EffectsCleaned, sp.despawned)
	}
}

func TestOverflowPolicies(t *testing.T) {
	tests := []struct {
		policy string
		want   []string
	}{
		{config.OverflowDropOldest, []string{"fx-2", "fx-3", "fx-4", "fx-5"}},
		{config.OverflowDropNewest, []string{"fx-0", "fx-1", "fx-2", "fx-3"}},
	}

	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			w := newTestWorld()
			sp := &recordingSpawner{}
			cfg := testConfig()
			cfg.MaxPendingEffects = 4
			cfg.MaxEffectsPerTick = 8
			cfg.OverflowPolicy = tt.policy
			s := newTestScheduler(t, cfg, w, Deps{Effects: sp})

			for i := 0; i < 6; i++ {
				s.QueueEffect(fmt.Sprintf("fx-%d", i), Vec3{}, Quat{})
			}
			if d := s.Stats().Effects.Dropped; d != 2 {
				t.Errorf("Expected 2 dropped, got %d", d)
			}

			s.Tick()
			if len(sp.spawned) != len(tt.want) {
				t.Fatalf("Expected %d spawned, got %d", len(tt.want), len(sp.spawned))
			}
			for i, req := range sp.spawned {
				if req.Prefab != tt.want[i] {
					t.Errorf("Position %d: expected %s, got %s", i, tt.want[i], req.Prefab)
				}
			}
		})
	}
}

// =============================================================================
// FAILURE ISOLATION
// =============================================================================

func TestCollaboratorPanicsAreContained(t *testing.T) {
	w := newTestWorld()
	sp := &recordingSpawner{panicOn: "bad"}
	cfg := testConfig()
	cfg.MaxEffectsPerTick = 8
	s := newTestScheduler(t, cfg, w, Deps{
		Effects:      sp,
		OnTierChange: func(Handle, Tier) { panic("callback exploded") },
	})

	h := w.at(5)
	s.Register(h)
	w.move(h, 200)

	s.QueueEffect("ok-1", Vec3{}, Quat{})
	s.QueueEffect("bad", Vec3{}, Quat{})
	s.QueueEffect("ok-2", Vec3{}, Quat{})

	r := s.Tick()
	if r.Faults != 2 {
		t.Errorf("Expected 2 faults (callback + spawner), got %d", r.Faults)
	}
	if len(sp.spawned) != 2 {
		t.Errorf("Expected the batch to continue past the panic, spawned %d", len(sp.spawned))
	}
	if tier, _ := s.Tier(h); tier != TierFar {
		t.Errorf("Tier must be updated even if the callback panics, got %s", tier)
	}
	if s.Stats().Faults != 2 {
		t.Errorf("Expected Stats.Faults=2, got %d", s.Stats().Faults)
	}
}

// faultyPositions panics when asked for one specific handle.
type faultyPositions struct {
	*testWorld
	bad   Handle
	armed bool
}

func (f *faultyPositions) Position(h Handle) (Vec3, bool) {
	if f.armed && h == f.bad {
		panic("position lookup exploded")
	}
	return f.testWorld.Position(h)
}

func TestPositionPanicDoesNotStallClassifier(t *testing.T) {
	w := newTestWorld()
	cfg := testConfig()
	cfg.ChecksPerTick = 2

	var ids []Handle
	for i := 0; i < 5; i++ {
		ids = append(ids, w.at(5))
	}
	positions := &faultyPositions{testWorld: w, bad: ids[0]}
	s, err := New(cfg, Deps{Positions: positions, Locator: w})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for _, h := range ids {
		s.Register(h)
	}

	positions.armed = true
	for _, h := range ids[1:] {
		w.move(h, 200)
	}

	visited := 0
	for i := 0; i < 10; i++ {
		r := s.Tick()
		visited += r.Visited
		if r.Visited+r.Faults != 2 {
			t.Errorf("Tick %d: expected 2 units of budget used, got visited=%d faults=%d", r.Tick, r.Visited, r.Faults)
		}
	}

	if visited != 16 {
		t.Errorf("Expected 16 healthy visits over 10 ticks, got %d", visited)
	}
	for _, h := range ids[1:] {
		if tier, _ := s.Tier(h); tier != TierFar {
			t.Errorf("Expected healthy entity %v to reach far, got %s", h, tier)
		}
	}
	if tier, _ := s.Tier(ids[0]); tier != TierNear {
		t.Errorf("Faulting entity should keep its tier, got %s", tier)
	}
	if faults := s.Stats().Faults; faults != 4 {
		t.Errorf("Expected 4 faults, got %d", faults)
	}
}

type recordingObserver struct {
	reports []TickReport
}

func (o *recordingObserver) ObserveTick(r TickReport, _ Stats) {
	o.reports = append(o.reports, r)
}

func TestObserverReceivesReports(t *testing.T) {
	w := newTestWorld()
	obs := &recordingObserver{}
	s := newTestScheduler(t, testConfig(), w, Deps{Observer: obs})

	for i := 0; i < 3; i++ {
		s.Tick()
	}
	if len(obs.reports) != 3 || obs.reports[2].Tick != 3 {
		t.Errorf("Expected 3 reports ending at tick 3, got %+v", obs.reports)
	}
}

// =============================================================================
// INBOX
// =============================================================================

func TestInboxAppliesSubmissionsInOrder(t *testing.T) {
	const producers, perProducer = 4, 200

	w := newTestWorld()
	sp := &recordingSpawner{}
	cfg := testConfig()
	cfg.InboxCapacity = producers * perProducer
	cfg.MaxPendingEffects = producers * perProducer
	cfg.MaxEffectsPerTick = producers * perProducer
	s := newTestScheduler(t, cfg, w, Deps{Effects: sp})

	in := s.Submitter()
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if !in.TrySubmitEffect(EffectRequest{Prefab: fmt.Sprintf("%d:%d", p, i)}) {
					t.Errorf("Producer %d: submission %d rejected", p, i)
				}
			}
		}(p)
	}
	wg.Wait()

	r := s.Tick()
	if r.InboxApplied != producers*perProducer {
		t.Fatalf("Expected %d applied, got %d", producers*perProducer, r.InboxApplied)
	}

	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	for _, req := range sp.spawned {
		var p, i int
		if _, err := fmt.Sscanf(req.Prefab, "%d:%d", &p, &i); err != nil {
			t.Fatalf("Bad prefab %q: %v", req.Prefab, err)
		}
		if i <= last[p] {
			t.Fatalf("Producer %d out of order: %d after %d", p, i, last[p])
		}
		last[p] = i
	}
}

func TestInboxFull(t *testing.T) {
	in := NewInbox(4)
	for i := 0; i < 4; i++ {
		if !in.TrySubmitAudio(AudioRequest{Volume: 1}) {
			t.Fatalf("Submission %d should fit", i)
		}
	}
	if in.TrySubmitAudio(AudioRequest{}) {
		t.Error("Expected full inbox to reject")
	}
	if in.Dropped() != 1 {
		t.Errorf("Expected 1 dropped, got %d", in.Dropped())
	}

	// Draining frees slots for the next lap
	for i := 0; i < 4; i++ {
		if _, ok := in.pop(); !ok {
			t.Fatalf("Expected op %d", i)
		}
	}
	if _, ok := in.pop(); ok {
		t.Error("Expected empty inbox")
	}
	if !in.TrySubmitAudio(AudioRequest{}) {
		t.Error("Expected slot reuse after drain")
	}
}

func TestInboxRegisterAndUnregister(t *testing.T) {
	w := newTestWorld()
	s := newTestScheduler(t, testConfig(), w, Deps{})

	h := w.at(10)
	in := s.Submitter()
	in.TrySubmitRegister(h)
	if s.Len() != 0 {
		t.Fatal("Submissions must not apply before the next tick")
	}

	s.Tick()
	if tier, ok := s.Tier(h); !ok || tier != TierNear {
		t.Errorf("Expected registered Near entity, got %s ok=%v", tier, ok)
	}

	in.TrySubmitUnregister(h)
	s.Tick()
	if s.Len() != 0 {
		t.Errorf("Expected unregister via inbox, len=%d", s.Len())
	}
}

// =============================================================================
// BENCHMARKS
// =============================================================================

func BenchmarkTick10k(b *testing.B) {
	w := newTestWorld()
	cfg := testConfig()
	cfg.ChecksPerTick = 256
	s, err := New(cfg, Deps{Positions: w, Locator: w})
	if err != nil {
		b.Fatal(err)
	}
	for i := 0; i < 10000; i++ {
		s.Register(w.at(float64(i % 100)))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Tick()
	}
}
