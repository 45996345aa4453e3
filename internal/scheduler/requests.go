package scheduler

// EffectRequest asks for a visual effect to be spawned.
type EffectRequest struct {
	Prefab   string `json:"prefab"`
	Position Vec3   `json:"position"`
	Rotation Quat   `json:"rotation"`
}

// PhysicsRequest asks for a torque impulse on a body. The body may be gone by the
// time the request drains; the sink treats that as a no-op.
type PhysicsRequest struct {
	Body   Handle `json:"body"`
	Torque Vec3   `json:"torque"`
}

// AudioRequest asks for a positional one-shot sound.
type AudioRequest struct {
	Position Vec3    `json:"position"`
	Volume   float64 `json:"volume"`
}

// EffectID identifies a spawned effect instance so it can be cleaned up later.
type EffectID uint64

// EffectSpawner creates and destroys visual effects.
// SpawnEffect returns ok=false if the effect could not be created; no cleanup is
// scheduled in that case.
type EffectSpawner interface {
	SpawnEffect(req EffectRequest) (id EffectID, ok bool)
	DespawnEffect(id EffectID)
}

// PhysicsSink applies impulses to bodies and enables their gravity response.
// Returns false if the body no longer exists.
type PhysicsSink interface {
	ApplyTorque(body Handle, torque Vec3) bool
}

// AudioSink plays positional sounds.
type AudioSink interface {
	PlayAt(req AudioRequest)
}

type nopEffects struct{}

func (nopEffects) SpawnEffect(EffectRequest) (EffectID, bool) { return 0, false }
func (nopEffects) DespawnEffect(EffectID)                     {}

type nopPhysics struct{}

func (nopPhysics) ApplyTorque(Handle, Vec3) bool { return false }

type nopAudio struct{}

func (nopAudio) PlayAt(AudioRequest) {}
