// Package game runs a headless horde simulation on top of the scheduler.
//
// Enemies chase an avatar; their behavior cadence follows the tier the
// scheduler assigns them. Blasts kill every enemy in a radius and turn each
// death into deferred effect, physics and audio requests, which is exactly
// the kind of burst the scheduler's channels exist to absorb.
package game

import (
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"horde/internal/config"
	"horde/internal/game/spatial"
	"horde/internal/scheduler"
)

const (
	// DeathBurstPrefab is the effect spawned for every kill
	DeathBurstPrefab = "death_burst"

	// MaxPendingTierChanges bounds the feed buffer between drains
	MaxPendingTierChanges = 4096

	deathTorque = 6.0
	deathVolume = 0.8

	gridCellSize = 16.0
)

// TierChange is one classifier transition, fed to WebSocket clients
type TierChange struct {
	EnemyID uint64         `json:"enemyId"`
	Tier    scheduler.Tier `json:"tier"`
	Tick    uint64         `json:"tick"`
}

// EnemyInfo describes one enemy for the API
type EnemyInfo struct {
	ID       uint64         `json:"id"`
	Position scheduler.Vec3 `json:"position"`
	Tier     scheduler.Tier `json:"tier"`
	Distance float64        `json:"distance"`
}

// Listener is implemented by audio sinks that attenuate by distance
type Listener interface {
	SetListener(pos scheduler.Vec3)
}

// Options configures a World
type Options struct {
	Scheduler config.SchedulerConfig
	World     config.WorldConfig

	// Audio receives admitted sounds (nil plays nothing)
	Audio scheduler.AudioSink

	// Observer receives every tick report (metrics)
	Observer scheduler.Observer
}

// World is the simulation engine. All state is guarded by mu; the scheduler is
// only ever touched while mu is held, which serializes it the way its
// single-threaded contract requires.
type World struct {
	mu sync.RWMutex

	cfg   config.WorldConfig
	sched *scheduler.Scheduler

	arena   *scheduler.Arena
	horde   *horde
	grid    *spatial.Grid // rebuilt after movement; blast broad phase
	bodies  *BodySet
	effects *EffectPool
	audio   scheduler.AudioSink

	avatar      scheduler.Handle
	patrol      bool
	patrolAngle float64

	pendingChanges []TierChange
	droppedChanges uint64

	lastReport scheduler.TickReport
	totalKills int
	tickCount  uint64
	rng        *rand.Rand

	running  bool
	ticker   *time.Ticker
	stopChan chan struct{}
	loopDone chan struct{}

	snapshotPool *SnapshotPool
	eventLog     *EventLog
}

// NewWorld builds the world, its scheduler and the initial horde
func NewWorld(opts Options) (*World, error) {
	if err := opts.World.Validate(); err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}

	seed := opts.World.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	w := &World{
		cfg:          opts.World,
		arena:        scheduler.NewArena(opts.World.MaxEnemies + 1),
		horde:        newHorde(opts.World.MaxEnemies),
		grid:         spatial.NewGrid(gridCellSize, opts.World.MaxEnemies),
		bodies:       NewBodySet(opts.World.CorpseTicks),
		audio:        opts.Audio,
		patrol:       true,
		rng:          rand.New(rand.NewSource(seed)),
		snapshotPool: NewSnapshotPool(DefaultSnapshotLimits),
		eventLog:     NewEventLog(),
	}
	w.effects = NewEffectPool(opts.World.MaxLiveEffects, func() uint64 { return w.tickCount })

	sched, err := scheduler.New(opts.Scheduler, scheduler.Deps{
		Positions:    w.arena,
		Locator:      scheduler.LocatorFunc(w.locateAvatar),
		Effects:      w.effects,
		Physics:      w.bodies,
		Audio:        opts.Audio,
		OnTierChange: w.onTierChange,
		Observer:     opts.Observer,
	})
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	w.sched = sched

	w.avatar = w.arena.Spawn(ringPoint(scheduler.Vec3{}, w.cfg.PatrolRadius, 0))
	w.spawnLocked(w.cfg.InitialEnemies, w.cfg.Radius, "world")
	w.produceSnapshotLocked()

	return w, nil
}

// Start begins the tick loop
func (w *World) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	// New channel per run: Stop closes it
	w.ticker = time.NewTicker(time.Second / time.Duration(w.cfg.TickRate))
	w.stopChan = make(chan struct{})
	w.loopDone = make(chan struct{})
	ticker, stop, done := w.ticker, w.stopChan, w.loopDone
	w.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-ticker.C:
				w.Step()
			case <-stop:
				return
			}
		}
	}()

	log.Printf("🎮 World started at %d TPS (%d enemies)", w.cfg.TickRate, w.EnemyCount())
}

// Stop stops the tick loop and waits for an in-flight Step to finish
func (w *World) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}

	w.running = false
	w.ticker.Stop()
	close(w.stopChan)
	done := w.loopDone
	w.mu.Unlock()

	<-done
	log.Println("🛑 World stopped")
}

// Step advances the simulation by one tick
func (w *World) Step() scheduler.TickReport {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.tickCount++
	dt := 1.0 / float64(w.cfg.TickRate)

	w.updateAvatarLocked(dt)

	if w.cfg.WaveEveryTicks > 0 && w.tickCount%uint64(w.cfg.WaveEveryTicks) == 0 {
		w.spawnLocked(w.cfg.WaveSize, w.cfg.Radius, "world")
	}
	if w.cfg.BlastEveryTicks > 0 && w.tickCount%uint64(w.cfg.BlastEveryTicks) == 0 {
		if pos, ok := w.arena.Position(w.avatar); ok {
			w.blastLocked(pos, w.cfg.BlastRadius, "world")
		}
	}

	if target, ok := w.arena.Position(w.avatar); ok {
		w.horde.step(w.tickCount, w.arena, target, w.cfg.EnemySpeed, dt)
	}
	w.rebuildGridLocked()

	w.lastReport = w.sched.Tick()
	w.bodies.Step(dt)

	if l, ok := w.audio.(Listener); ok {
		if pos, alive := w.arena.Position(w.avatar); alive {
			l.SetListener(pos)
		}
	}

	w.produceSnapshotLocked()
	return w.lastReport
}

// =============================================================================
// PRODUCERS
// =============================================================================

// SpawnEnemies adds up to count enemies on a ring of the given radius around
// the avatar (or the origin). Returns the new enemy IDs.
func (w *World) SpawnEnemies(count int, radius float64) []uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	handles := w.spawnLocked(count, radius, "api")
	ids := make([]uint64, len(handles))
	for i, h := range handles {
		ids[i] = h.ID()
	}
	return ids
}

func (w *World) spawnLocked(count int, radius float64, source string) []scheduler.Handle {
	if room := w.cfg.MaxEnemies - w.horde.len(); count > room {
		count = room
	}
	if count <= 0 {
		return nil
	}
	if radius <= 0 {
		radius = w.cfg.Radius
	}

	center, ok := w.arena.Position(w.avatar)
	if !ok {
		center = scheduler.Vec3{}
	}

	handles := make([]scheduler.Handle, 0, count)
	for i := 0; i < count; i++ {
		r := radius * (0.5 + 0.5*w.rng.Float64())
		h := w.arena.Spawn(ringPoint(center, r, w.rng.Float64()*2*math.Pi))

		w.sched.Register(h)
		tier, _ := w.sched.Tier(h)
		w.horde.add(&enemy{handle: h, tier: tier, phase: uint64(w.rng.Intn(16))})
		pos, _ := w.arena.Position(h)
		w.grid.Insert(h.ID(), pos.X, pos.Z)
		handles = append(handles, h)
	}

	w.eventLog.EmitSimple(EventTypeSpawn, w.tickCount, source, SpawnPayload{
		Count: count,
		Total: w.horde.len(),
		Ring:  radius,
	})
	return handles
}

// DespawnEnemy removes an enemy without killing it
func (w *World) DespawnEnemy(id uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	h := scheduler.HandleFromID(id)
	if _, ok := w.horde.remove(h); !ok {
		return false
	}
	w.sched.Unregister(h)
	w.arena.Despawn(h)
	w.eventLog.EmitSimple(EventTypeDespawn, w.tickCount, "api", DespawnPayload{EnemyID: id})
	return true
}

// Blast kills every enemy within radius of center. Each death spawns a
// corpse and queues its burst effect, ragdoll torque and death sound.
func (w *World) Blast(center scheduler.Vec3, radius float64) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.blastLocked(center, radius, "api")
}

func (w *World) blastLocked(center scheduler.Vec3, radius float64, source string) int {
	r2 := radius * radius
	var victims []scheduler.Handle
	for _, id := range w.grid.QueryRadius(center.X, center.Z, radius) {
		h := scheduler.HandleFromID(id)
		if _, alive := w.horde.all[h]; !alive {
			continue // killed since the last rebuild
		}
		pos, ok := w.arena.Position(h)
		if ok && scheduler.SqrDist(pos, center) <= r2 {
			victims = append(victims, h)
		}
	}

	for _, h := range victims {
		pos, _ := w.arena.Position(h)

		w.horde.remove(h)
		w.sched.Unregister(h)
		w.arena.Despawn(h)

		corpse := w.bodies.Spawn(pos)
		away := pos.Sub(center)
		away.Y = 0
		if l := away.Len(); l > 0 {
			away = away.Scale(1 / l)
		}
		torque := scheduler.Vec3{X: -away.Z, Y: w.rng.Float64() - 0.5, Z: away.X}.Scale(deathTorque)

		w.sched.QueueEffect(DeathBurstPrefab, pos, scheduler.YawQuat(w.rng.Float64()*2*math.Pi))
		w.sched.QueuePhysics(corpse, torque)
		w.sched.QueueAudio(pos, deathVolume)

		w.eventLog.EmitSimple(EventTypeKill, w.tickCount, source, KillPayload{
			EnemyID: h.ID(),
			BodyID:  corpse.ID(),
			X:       pos.X,
			Z:       pos.Z,
		})
	}

	w.totalKills += len(victims)
	w.eventLog.EmitSimple(EventTypeBlast, w.tickCount, source, BlastPayload{
		X: center.X, Y: center.Y, Z: center.Z,
		Radius: radius,
		Kills:  len(victims),
	})
	return len(victims)
}

func (w *World) rebuildGridLocked() {
	w.grid.Clear()
	for h := range w.horde.all {
		if pos, ok := w.arena.Position(h); ok {
			w.grid.Insert(h.ID(), pos.X, pos.Z)
		}
	}
}

// =============================================================================
// AVATAR (REFERENCE POINT)
// =============================================================================

func (w *World) locateAvatar() (scheduler.Handle, bool) {
	if !w.arena.Alive(w.avatar) {
		return scheduler.Handle{}, false
	}
	return w.avatar, true
}

func (w *World) updateAvatarLocked(dt float64) {
	if !w.patrol || !w.arena.Alive(w.avatar) || w.cfg.PatrolRadius <= 0 {
		return
	}
	w.patrolAngle += w.cfg.PatrolSpeed * dt
	w.arena.SetPosition(w.avatar, ringPoint(scheduler.Vec3{}, w.cfg.PatrolRadius, w.patrolAngle))
}

// MoveAvatar teleports the avatar, respawning it if needed. patrol resumes the
// circular walk from the new position's next patrol step.
func (w *World) MoveAvatar(pos scheduler.Vec3, patrol bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.arena.SetPosition(w.avatar, pos) {
		w.avatar = w.arena.Spawn(pos)
	}
	w.patrol = patrol
	w.eventLog.EmitSimple(EventTypeAvatarMove, w.tickCount, "api", AvatarPayload{X: pos.X, Y: pos.Y, Z: pos.Z})
}

// DespawnAvatar removes the reference point; the scheduler keeps tiers frozen
// until the avatar is back and re-resolved
func (w *World) DespawnAvatar() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.arena.Despawn(w.avatar) {
		return false
	}
	w.eventLog.EmitSimple(EventTypeAvatarLost, w.tickCount, "api", AvatarPayload{})
	return true
}

// =============================================================================
// TIER FEED
// =============================================================================

// onTierChange runs inside Scheduler.Tick with mu held
func (w *World) onTierChange(h scheduler.Handle, t scheduler.Tier) {
	if !w.horde.setTier(h, t) {
		return
	}
	if len(w.pendingChanges) < MaxPendingTierChanges {
		w.pendingChanges = append(w.pendingChanges, TierChange{EnemyID: h.ID(), Tier: t, Tick: w.tickCount})
	} else {
		w.droppedChanges++
	}
	w.eventLog.EmitSimple(EventTypeTierChange, w.tickCount, "classifier", TierChangePayload{
		EnemyID: h.ID(),
		Tier:    t.String(),
	})
}

// DrainTierChanges returns and clears the transitions since the last drain
func (w *World) DrainTierChanges() []TierChange {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pendingChanges) == 0 {
		return nil
	}
	out := make([]TierChange, len(w.pendingChanges))
	copy(out, w.pendingChanges)
	w.pendingChanges = w.pendingChanges[:0]
	return out
}

// =============================================================================
// QUERIES
// =============================================================================

// Enemy returns one enemy's state
func (w *World) Enemy(id uint64) (EnemyInfo, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	h := scheduler.HandleFromID(id)
	e, ok := w.horde.all[h]
	if !ok {
		return EnemyInfo{}, false
	}
	pos, _ := w.arena.Position(h)
	info := EnemyInfo{ID: id, Position: pos, Tier: e.tier, Distance: -1}
	if ref, ok := w.arena.Position(w.avatar); ok {
		info.Distance = math.Sqrt(scheduler.SqrDist(pos, ref))
	}
	return info, true
}

// EnemyCount returns the live horde size
func (w *World) EnemyCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.horde.len()
}

// SchedulerConfig returns the effective scheduler configuration
func (w *World) SchedulerConfig() config.SchedulerConfig {
	return w.sched.Config()
}

// Submitter exposes the scheduler inbox; it is safe to use without the lock
func (w *World) Submitter() *scheduler.Inbox {
	return w.sched.Submitter()
}

// GetSnapshot returns a copy of the latest snapshot (no world lock)
func (w *World) GetSnapshot() WorldSnapshot {
	return w.snapshotPool.Read()
}

func (w *World) produceSnapshotLocked() {
	w.snapshotPool.Write(func(s *WorldSnapshot) {
		s.Tick = w.tickCount
		s.Avatar, s.AvatarAlive = w.arena.Position(w.avatar)

		limits := w.snapshotPool.GetLimits()
		for h, e := range w.horde.all {
			if len(s.Enemies) >= limits.MaxEnemies {
				break
			}
			pos, _ := w.arena.Position(h)
			s.Enemies = append(s.Enemies, EnemySnapshot{ID: h.ID(), Position: pos, Tier: e.tier})
		}
		s.Bodies = w.bodies.appendSnapshots(s.Bodies, limits.MaxBodies)
		s.Effects = w.effects.appendSnapshots(s.Effects, limits.MaxEffects)

		stats := w.sched.Stats()
		s.EnemyCount = w.horde.len()
		s.TotalKills = w.totalKills
		s.Tiers = stats.Tiers
		s.LastTick = w.lastReport
		s.Scheduler = stats
		s.BodyStats = w.bodies.Stats()
		s.EffectStats = w.effects.Stats()
	})
}

// =============================================================================
// EVENT LOG
// =============================================================================

// StartEventLog starts the JSONL event log
func (w *World) StartEventLog(filePath string) error {
	return w.eventLog.Start(filePath)
}

// StopEventLog flushes and stops the event log
func (w *World) StopEventLog() {
	w.eventLog.Stop()
}

// GetEventLogStats returns event log counters
func (w *World) GetEventLogStats() EventLogStats {
	return w.eventLog.GetStats()
}
