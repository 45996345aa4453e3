package game

import (
	"math"

	"horde/internal/scheduler"
)

// Behavior cadence per tier: Near enemies think every tick, Mid every 4th,
// Far every 16th. Movement is scaled by the stride so average speed holds.
var tierStride = [...]uint64{
	scheduler.TierNear: 1,
	scheduler.TierMid:  4,
	scheduler.TierFar:  16,
}

// minApproach keeps enemies from stacking on the avatar
const minApproach = 2.0

// enemy is per-entity behavior state; position lives in the arena
type enemy struct {
	handle scheduler.Handle
	tier   scheduler.Tier
	phase  uint64 // spreads Mid/Far updates across ticks
}

// horde groups enemies by tier so each tick only walks the tiers that are due
type horde struct {
	all    map[scheduler.Handle]*enemy
	byTier [4]map[scheduler.Handle]*enemy
}

func newHorde(capacity int) *horde {
	h := &horde{all: make(map[scheduler.Handle]*enemy, capacity)}
	for t := range h.byTier {
		h.byTier[t] = make(map[scheduler.Handle]*enemy)
	}
	return h
}

func (h *horde) add(e *enemy) {
	h.all[e.handle] = e
	h.byTier[e.tier][e.handle] = e
}

func (h *horde) remove(handle scheduler.Handle) (*enemy, bool) {
	e, ok := h.all[handle]
	if !ok {
		return nil, false
	}
	delete(h.all, handle)
	delete(h.byTier[e.tier], handle)
	return e, true
}

func (h *horde) setTier(handle scheduler.Handle, t scheduler.Tier) bool {
	e, ok := h.all[handle]
	if !ok || e.tier == t {
		return false
	}
	delete(h.byTier[e.tier], handle)
	e.tier = t
	h.byTier[t][handle] = e
	return true
}

func (h *horde) len() int { return len(h.all) }

// step moves every enemy whose tier is due this tick toward target
func (h *horde) step(tick uint64, arena *scheduler.Arena, target scheduler.Vec3, speed, dt float64) int {
	moved := 0
	for _, t := range []scheduler.Tier{scheduler.TierNear, scheduler.TierMid, scheduler.TierFar} {
		stride := tierStride[t]
		for _, e := range h.byTier[t] {
			if (tick+e.phase)%stride != 0 {
				continue
			}
			pos, ok := arena.Position(e.handle)
			if !ok {
				continue
			}
			arena.SetPosition(e.handle, approach(pos, target, speed*dt*float64(stride)))
			moved++
		}
	}
	return moved
}

// approach moves pos up to step units toward target on the ground plane
func approach(pos, target scheduler.Vec3, step float64) scheduler.Vec3 {
	d := target.Sub(pos)
	d.Y = 0
	dist := d.Len()
	if dist <= minApproach {
		return pos
	}
	step = math.Min(step, dist-minApproach)
	return pos.Add(d.Scale(step / dist))
}

// ringPoint returns a point on the ground at distance r and angle a from center
func ringPoint(center scheduler.Vec3, r, a float64) scheduler.Vec3 {
	s, c := math.Sincos(a)
	return scheduler.Vec3{X: center.X + r*c, Y: 0, Z: center.Z + r*s}
}
