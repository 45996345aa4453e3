package game

import (
	"horde/internal/scheduler"
)

// liveEffect is a spawned visual effect awaiting cleanup
type liveEffect struct {
	prefab   string
	position scheduler.Vec3
	rotation scheduler.Quat
	born     uint64
}

// EffectPool tracks live visual effects and implements scheduler.EffectSpawner.
// The pool enforces a hard cap so a burst can never create unbounded effects.
type EffectPool struct {
	live     map[scheduler.EffectID]*liveEffect
	byPrefab map[string]int
	maxLive  int
	nextID   scheduler.EffectID
	now      func() uint64

	spawned  uint64
	rejected uint64
	cleaned  uint64
}

// EffectStats reports effect activity
type EffectStats struct {
	Live     int            `json:"live"`
	ByPrefab map[string]int `json:"byPrefab"`
	Spawned  uint64         `json:"spawned"`
	Rejected uint64         `json:"rejected"`
	Cleaned  uint64         `json:"cleaned"`
}

// NewEffectPool creates a pool. now reports the current world tick.
func NewEffectPool(maxLive int, now func() uint64) *EffectPool {
	return &EffectPool{
		live:     make(map[scheduler.EffectID]*liveEffect, maxLive),
		byPrefab: make(map[string]int),
		maxLive:  maxLive,
		now:      now,
	}
}

// SpawnEffect implements scheduler.EffectSpawner
func (p *EffectPool) SpawnEffect(req scheduler.EffectRequest) (scheduler.EffectID, bool) {
	if len(p.live) >= p.maxLive {
		p.rejected++
		return 0, false
	}

	p.nextID++
	p.live[p.nextID] = &liveEffect{
		prefab:   req.Prefab,
		position: req.Position,
		rotation: req.Rotation,
		born:     p.now(),
	}
	p.byPrefab[req.Prefab]++
	p.spawned++
	return p.nextID, true
}

// DespawnEffect implements scheduler.EffectSpawner
func (p *EffectPool) DespawnEffect(id scheduler.EffectID) {
	fx, ok := p.live[id]
	if !ok {
		return
	}
	delete(p.live, id)
	if p.byPrefab[fx.prefab]--; p.byPrefab[fx.prefab] <= 0 {
		delete(p.byPrefab, fx.prefab)
	}
	p.cleaned++
}

// Len returns the number of live effects
func (p *EffectPool) Len() int {
	return len(p.live)
}

// Stats returns effect counters
func (p *EffectPool) Stats() EffectStats {
	byPrefab := make(map[string]int, len(p.byPrefab))
	for k, v := range p.byPrefab {
		byPrefab[k] = v
	}
	return EffectStats{
		Live:     len(p.live),
		ByPrefab: byPrefab,
		Spawned:  p.spawned,
		Rejected: p.rejected,
		Cleaned:  p.cleaned,
	}
}

func (p *EffectPool) appendSnapshots(dst []EffectSnapshot, limit int) []EffectSnapshot {
	tick := p.now()
	for id, fx := range p.live {
		if len(dst) >= limit {
			break
		}
		dst = append(dst, EffectSnapshot{
			ID:       uint64(id),
			Prefab:   fx.prefab,
			Position: fx.position,
			Age:      int(tick - fx.born),
		})
	}
	return dst
}
