package game

import (
	"sync"
	"sync/atomic"
	"time"

	"horde/internal/scheduler"
)

// SnapshotLimits caps every slice in a snapshot so a huge horde cannot blow up
// the API payload
type SnapshotLimits struct {
	MaxEnemies int
	MaxBodies  int
	MaxEffects int
}

// DefaultSnapshotLimits provides safe defaults
var DefaultSnapshotLimits = SnapshotLimits{
	MaxEnemies: 512,
	MaxBodies:  128,
	MaxEffects: 128,
}

// EnemySnapshot is an immutable copy of one enemy
type EnemySnapshot struct {
	ID       uint64         `json:"id"`
	Position scheduler.Vec3 `json:"position"`
	Tier     scheduler.Tier `json:"tier"`
}

// BodySnapshot is an immutable corpse
type BodySnapshot struct {
	ID       uint64         `json:"id"`
	Position scheduler.Vec3 `json:"position"`
	Spin     float64        `json:"spin"`
	Falling  bool           `json:"falling"`
}

// EffectSnapshot is an immutable live effect
type EffectSnapshot struct {
	ID       uint64         `json:"id"`
	Prefab   string         `json:"prefab"`
	Position scheduler.Vec3 `json:"position"`
	Age      int            `json:"age"`
}

// WorldSnapshot is a complete copy of the world for readers outside the tick
type WorldSnapshot struct {
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Tick      uint64    `json:"tick"`

	Avatar      scheduler.Vec3 `json:"avatar"`
	AvatarAlive bool           `json:"avatarAlive"`

	// Capped slices (never grow beyond limits)
	Enemies []EnemySnapshot  `json:"enemies"`
	Bodies  []BodySnapshot   `json:"bodies"`
	Effects []EffectSnapshot `json:"effects"`

	// Aggregates
	EnemyCount  int                  `json:"enemyCount"`
	TotalKills  int                  `json:"totalKills"`
	Tiers       scheduler.TierCounts `json:"tiers"`
	LastTick    scheduler.TickReport `json:"lastTick"`
	Scheduler   scheduler.Stats      `json:"scheduler"`
	BodyStats   BodyStats            `json:"bodyStats"`
	EffectStats EffectStats          `json:"effectStats"`
}

// clone deep-copies the slices so the result can leave the pool
func (s *WorldSnapshot) clone() WorldSnapshot {
	out := *s
	out.Enemies = append([]EnemySnapshot(nil), s.Enemies...)
	out.Bodies = append([]BodySnapshot(nil), s.Bodies...)
	out.Effects = append([]EffectSnapshot(nil), s.Effects...)
	return out
}

// SnapshotPool triple-buffers snapshots with pre-allocated slices.
// The writer always fills a slot other than the published one; each slot has
// its own lock so a slow reader only ever delays the writer by one slot.
type SnapshotPool struct {
	slots    [3]snapshotSlot
	limits   SnapshotLimits
	readIdx  atomic.Uint32
	sequence atomic.Uint64
}

type snapshotSlot struct {
	mu   sync.RWMutex
	snap WorldSnapshot
}

// NewSnapshotPool creates a pool with pre-allocated slices
func NewSnapshotPool(limits SnapshotLimits) *SnapshotPool {
	pool := &SnapshotPool{limits: limits}
	for i := range pool.slots {
		pool.slots[i].snap = WorldSnapshot{
			Enemies: make([]EnemySnapshot, 0, limits.MaxEnemies),
			Bodies:  make([]BodySnapshot, 0, limits.MaxBodies),
			Effects: make([]EffectSnapshot, 0, limits.MaxEffects),
		}
	}
	return pool
}

// Write fills the slot after the published one and publishes it.
// Single writer (the tick goroutine).
func (p *SnapshotPool) Write(fill func(s *WorldSnapshot)) {
	idx := (p.readIdx.Load() + 1) % 3

	slot := &p.slots[idx]
	slot.mu.Lock()
	snap := &slot.snap
	snap.Enemies = snap.Enemies[:0]
	snap.Bodies = snap.Bodies[:0]
	snap.Effects = snap.Effects[:0]
	snap.Sequence = p.sequence.Add(1)
	snap.Timestamp = time.Now()
	fill(snap)
	slot.mu.Unlock()

	p.readIdx.Store(idx)
}

// Read returns a deep copy of the latest published snapshot
func (p *SnapshotPool) Read() WorldSnapshot {
	slot := &p.slots[p.readIdx.Load()%3]
	slot.mu.RLock()
	defer slot.mu.RUnlock()
	return slot.snap.clone()
}

// GetLimits returns the snapshot caps
func (p *SnapshotPool) GetLimits() SnapshotLimits {
	return p.limits
}
