package game

import (
	"horde/internal/scheduler"
)

const (
	gravity      = 9.8
	angularDrag  = 0.92
	torqueToLift = 0.15 // Upward pop per unit of torque when a body goes limp
)

// body is a corpse ragdoll. It rests until a deferred torque impulse arrives,
// then tumbles under gravity until it settles or expires.
type body struct {
	vel     scheduler.Vec3
	spin    scheduler.Vec3
	gravity bool
	age     int
}

// BodySet owns corpse ragdolls and implements scheduler.PhysicsSink.
// Callers serialize access (the World holds its lock).
type BodySet struct {
	arena    *scheduler.Arena
	bodies   map[scheduler.Handle]*body
	lifetime int

	applied uint64
	missed  uint64 // impulses that arrived after the body expired
	expired uint64
}

// BodyStats reports ragdoll activity
type BodyStats struct {
	Live    int    `json:"live"`
	Applied uint64 `json:"applied"`
	Missed  uint64 `json:"missed"`
	Expired uint64 `json:"expired"`
}

// NewBodySet creates a body set whose corpses live for lifetime ticks
func NewBodySet(lifetime int) *BodySet {
	return &BodySet{
		arena:    scheduler.NewArena(256),
		bodies:   make(map[scheduler.Handle]*body, 256),
		lifetime: lifetime,
	}
}

// Spawn places a resting corpse and returns its handle
func (b *BodySet) Spawn(pos scheduler.Vec3) scheduler.Handle {
	h := b.arena.Spawn(pos)
	b.bodies[h] = &body{}
	return h
}

// ApplyTorque implements scheduler.PhysicsSink: spin the body and enable its
// gravity response. A stale handle is a no-op.
func (b *BodySet) ApplyTorque(h scheduler.Handle, torque scheduler.Vec3) bool {
	bd, ok := b.bodies[h]
	if !ok || !b.arena.Alive(h) {
		b.missed++
		return false
	}
	bd.spin = bd.spin.Add(torque)
	bd.vel.Y += torque.Len() * torqueToLift
	bd.gravity = true
	b.applied++
	return true
}

// Step integrates every body by dt and expires old corpses
func (b *BodySet) Step(dt float64) {
	for h, bd := range b.bodies {
		bd.age++
		if b.lifetime > 0 && bd.age >= b.lifetime {
			b.arena.Despawn(h)
			delete(b.bodies, h)
			b.expired++
			continue
		}
		if !bd.gravity {
			continue
		}

		pos, _ := b.arena.Position(h)
		bd.vel.Y -= gravity * dt
		pos = pos.Add(bd.vel.Scale(dt))
		if pos.Y <= 0 {
			pos.Y = 0
			bd.vel = scheduler.Vec3{}
		}
		bd.spin = bd.spin.Scale(angularDrag)
		b.arena.SetPosition(h, pos)
	}
}

// Position implements scheduler.PositionSource for corpses
func (b *BodySet) Position(h scheduler.Handle) (scheduler.Vec3, bool) {
	return b.arena.Position(h)
}

// Len returns the number of live corpses
func (b *BodySet) Len() int {
	return len(b.bodies)
}

// Stats returns body counters
func (b *BodySet) Stats() BodyStats {
	return BodyStats{
		Live:    len(b.bodies),
		Applied: b.applied,
		Missed:  b.missed,
		Expired: b.expired,
	}
}

// appendSnapshots writes up to limit bodies into dst
func (b *BodySet) appendSnapshots(dst []BodySnapshot, limit int) []BodySnapshot {
	for h, bd := range b.bodies {
		if len(dst) >= limit {
			break
		}
		pos, _ := b.arena.Position(h)
		dst = append(dst, BodySnapshot{
			ID:       h.ID(),
			Position: pos,
			Spin:     bd.spin.Len(),
			Falling:  bd.gravity && pos.Y > 0,
		})
	}
	return dst
}
