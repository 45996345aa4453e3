// Package scheduler implements an amortized per-tick update scheduler.
//
// It classifies a dynamic population of entities into Near/Mid/Far tiers by
// distance to a moving reference point, visiting only a budgeted round-robin
// slice per tick with hysteresis on every boundary. Expensive side effects of
// bursty events (effects, physics impulses, audio) are routed through capped
// deferred channels so no single tick pays for the whole burst.
//
// A Scheduler is single-threaded: every method except those on the Inbox
// returned by Submitter must be called from the goroutine that calls Tick.
package scheduler

import (
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"

	"horde/internal/config"
)

// Observer receives a report after every tick (metrics, feeds).
type Observer interface {
	ObserveTick(report TickReport, stats Stats)
}

// Deps are the external collaborators. Positions is required; nil sinks are
// replaced with no-ops.
type Deps struct {
	Positions    PositionSource
	Locator      ReferenceLocator
	Effects      EffectSpawner
	Physics      PhysicsSink
	Audio        AudioSink
	OnTierChange func(h Handle, tier Tier)
	Observer     Observer
	Clock        func() time.Time
}

// TickReport describes the work done by a single Tick.
type TickReport struct {
	Tick           uint64        `json:"tick"`
	Resolved       bool          `json:"resolved"`
	InboxApplied   int           `json:"inboxApplied"`
	Visited        int           `json:"visited"`
	StaleRemoved   int           `json:"staleRemoved"`
	TierChanges    int           `json:"tierChanges"`
	EffectsCleaned int           `json:"effectsCleaned"`
	EffectsSpawned int           `json:"effectsSpawned"`
	PhysicsApplied int           `json:"physicsApplied"`
	AudioPlayed    int           `json:"audioPlayed"`
	AudioDropped   int           `json:"audioDropped"`
	Faults         int           `json:"faults"`
	Duration       time.Duration `json:"duration"`
}

// ChannelStats describes one deferred FIFO channel.
type ChannelStats struct {
	State    ChannelState `json:"state"`
	Pending  int          `json:"pending"`
	Capacity int          `json:"capacity"`
	Budget   int          `json:"budget"`
	Drained  uint64       `json:"drained"`
	Dropped  uint64       `json:"dropped"`
}

// AudioStats describes the audio admission gate.
type AudioStats struct {
	Cap      int    `json:"cap"`
	Admitted uint64 `json:"admitted"`
	Dropped  uint64 `json:"dropped"`
	Played   uint64 `json:"played"`
}

// InboxStats describes the cross-goroutine submission inbox.
type InboxStats struct {
	Pending  int    `json:"pending"`
	Capacity int    `json:"capacity"`
	Dropped  uint64 `json:"dropped"`
}

// Stats is a point-in-time view of the scheduler with cumulative counters.
type Stats struct {
	Ticks           uint64       `json:"ticks"`
	Registered      int          `json:"registered"`
	Cursor          int          `json:"cursor"`
	Tiers           TierCounts   `json:"tiers"`
	Resolved        bool         `json:"resolved"`
	ResolveAttempts uint64       `json:"resolveAttempts"`
	Visited         uint64       `json:"visited"`
	StaleRemoved    uint64       `json:"staleRemoved"`
	TierChanges     uint64       `json:"tierChanges"`
	Effects         ChannelStats `json:"effects"`
	LiveEffects     int          `json:"liveEffects"`
	Physics         ChannelStats `json:"physics"`
	Audio           AudioStats   `json:"audio"`
	Inbox           InboxStats   `json:"inbox"`
	Faults          uint64       `json:"faults"`
}

type pendingCleanup struct {
	id  EffectID
	due uint64
}

// Scheduler is the tick driver and the owner of all scheduling state.
type Scheduler struct {
	cfg config.SchedulerConfig

	reg   *registry
	res   *resolver
	class *classifier

	effects *channel[EffectRequest]
	physics *channel[PhysicsRequest]
	audio   *audioGate
	inbox   *Inbox

	cleanups    []pendingCleanup
	cleanupHead int

	spawner      EffectSpawner
	physicsSink  PhysicsSink
	audioSink    AudioSink
	onTierChange func(Handle, Tier)
	observer     Observer

	tick           uint64
	faults         uint64
	lastAudioDrops uint64

	// Log the 1st and every 100th occurrence
	faultLog    rate.Sometimes
	overflowLog rate.Sometimes
}

// New creates a scheduler. The configuration is validated; that is the only
// error New can return.
func New(cfg config.SchedulerConfig, deps Deps) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Positions == nil {
		return nil, fmt.Errorf("%w: a position source is required", config.ErrInvalidConfig)
	}
	th, err := NewThresholds(cfg.NearDistance, cfg.MidDistance, cfg.HysteresisBand)
	if err != nil {
		return nil, err
	}

	if deps.Effects == nil {
		deps.Effects = nopEffects{}
	}
	if deps.Physics == nil {
		deps.Physics = nopPhysics{}
	}
	if deps.Audio == nil {
		deps.Audio = nopAudio{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	reg := newRegistry(256)
	res := newResolver(deps.Locator, deps.Positions, cfg.ReferenceResolveInterval, deps.Clock)

	s := &Scheduler{
		cfg:          cfg,
		reg:          reg,
		res:          res,
		class:        newClassifier(reg, res, deps.Positions, th, cfg.ChecksPerTick),
		effects:      newChannel[EffectRequest](cfg.MaxEffectsPerTick, cfg.InterBatchDelayTicks, cfg.MaxPendingEffects, cfg.OverflowPolicy),
		physics:      newChannel[PhysicsRequest](cfg.MaxPhysicsOpsPerTick, cfg.InterBatchDelayTicks, cfg.MaxPendingPhysics, cfg.OverflowPolicy),
		audio:        newAudioGate(cfg.MaxAudioPerTick),
		inbox:        NewInbox(cfg.InboxCapacity),
		spawner:      deps.Effects,
		physicsSink:  deps.Physics,
		audioSink:    deps.Audio,
		onTierChange: deps.OnTierChange,
		observer:     deps.Observer,
		faultLog:     rate.Sometimes{First: 1, Every: 100},
		overflowLog:  rate.Sometimes{First: 1, Every: 100},
	}
	return s, nil
}

// Config returns the configuration the scheduler was built with.
func (s *Scheduler) Config() config.SchedulerConfig { return s.cfg }

// Thresholds returns the derived squared-distance boundaries.
func (s *Scheduler) Thresholds() Thresholds { return s.class.th }

// Submitter returns the inbox other goroutines use to submit work.
func (s *Scheduler) Submitter() *Inbox { return s.inbox }

// Register starts tracking h and classifies it immediately. Registering an
// already tracked handle (or the zero handle) is a no-op that returns false.
// The tier-change callback is not invoked for the initial tier; use Tier.
func (s *Scheduler) Register(h Handle) bool {
	if h.IsZero() {
		return false
	}
	_, added := s.class.add(h)
	return added
}

// Unregister stops tracking h. Safe for handles that were never registered.
func (s *Scheduler) Unregister(h Handle) bool {
	return s.class.remove(h)
}

// Reclassify applies the hysteresis rule to h right now, outside the budget.
// Useful after a teleport. The callback fires if the tier changes.
func (s *Scheduler) Reclassify(h Handle) (Tier, bool) {
	t, changed, ok := s.class.reclassify(h)
	if changed {
		s.notify(h, t)
	}
	return t, ok
}

// Tier returns the current tier of h.
func (s *Scheduler) Tier(h Handle) (Tier, bool) {
	return s.reg.tier(h)
}

// Len returns the number of registered entities.
func (s *Scheduler) Len() int { return s.reg.len() }

// QueueEffect defers an effect spawn. Returns false if the bounded queue had to
// drop a request to honor the overflow policy.
func (s *Scheduler) QueueEffect(prefab string, pos Vec3, rot Quat) bool {
	ok := s.effects.enqueue(EffectRequest{Prefab: prefab, Position: pos, Rotation: rot})
	if !ok {
		s.overflowLog.Do(func() {
			log.Printf("⚠️ Scheduler: effect queue full (%d pending, policy=%s, dropped=%d)",
				s.effects.pending(), s.cfg.OverflowPolicy, s.effects.dropped)
		})
	}
	return ok
}

// QueuePhysics defers a torque impulse on body.
func (s *Scheduler) QueuePhysics(body Handle, torque Vec3) bool {
	ok := s.physics.enqueue(PhysicsRequest{Body: body, Torque: torque})
	if !ok {
		s.overflowLog.Do(func() {
			log.Printf("⚠️ Scheduler: physics queue full (%d pending, policy=%s, dropped=%d)",
				s.physics.pending(), s.cfg.OverflowPolicy, s.physics.dropped)
		})
	}
	return ok
}

// QueueAudio admits a sound for this tick or drops it if the per-tick cap is
// reached. Admitted sounds play at the end of the current (or next) Tick.
func (s *Scheduler) QueueAudio(pos Vec3, volume float64) bool {
	return s.audio.admit(AudioRequest{Position: pos, Volume: volume})
}

// Tick runs one scheduling step: inbox, classifier pass, effect channel,
// physics channel, audio flush. It never fails; collaborator panics are
// recovered and counted.
func (s *Scheduler) Tick() TickReport {
	start := time.Now()
	s.tick++
	faultsBefore := s.faults

	r := TickReport{Tick: s.tick}
	r.InboxApplied = s.drainInbox()

	s.guard("classifier", func() {
		p := s.class.pass(s.notify, s.guard)
		r.Resolved = p.resolved
		r.Visited = p.visited
		r.StaleRemoved = p.stale
		r.TierChanges = p.changes
	})

	r.EffectsCleaned = s.runCleanups()
	r.EffectsSpawned = s.effects.step(s.spawnEffect)
	r.PhysicsApplied = s.physics.step(s.applyPhysics)
	r.AudioPlayed = s.audio.flush(s.playAudio)

	r.AudioDropped = int(s.audio.dropped - s.lastAudioDrops)
	s.lastAudioDrops = s.audio.dropped
	r.Faults = int(s.faults - faultsBefore)
	r.Duration = time.Since(start)

	if s.observer != nil {
		s.guard("observer", func() { s.observer.ObserveTick(r, s.Stats()) })
	}
	return r
}

// Stats returns counters and current depths.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:           s.tick,
		Registered:      s.reg.len(),
		Cursor:          s.reg.cursor,
		Tiers:           s.class.tierCounts(),
		Resolved:        s.res.resolved(),
		ResolveAttempts: s.res.lookups,
		Visited:         s.class.visited,
		StaleRemoved:    s.class.staleRemoved,
		TierChanges:     s.class.changes,
		Effects:         channelStats(s.effects),
		LiveEffects:     len(s.cleanups) - s.cleanupHead,
		Physics:         channelStats(s.physics),
		Audio: AudioStats{
			Cap:      s.audio.limit,
			Admitted: s.audio.admitted,
			Dropped:  s.audio.dropped,
			Played:   s.audio.played,
		},
		Inbox: InboxStats{
			Pending:  s.inbox.Len(),
			Capacity: s.inbox.Cap(),
			Dropped:  s.inbox.Dropped(),
		},
		Faults: s.faults,
	}
}

func channelStats[T any](c *channel[T]) ChannelStats {
	return ChannelStats{
		State:    c.state,
		Pending:  c.pending(),
		Capacity: len(c.queue.buf),
		Budget:   c.budget,
		Drained:  c.drained,
		Dropped:  c.dropped,
	}
}

// drainInbox applies the submissions visible when the tick started. Later
// submissions wait for the next tick so producers cannot stall the tick.
func (s *Scheduler) drainInbox() int {
	n := s.inbox.Len()
	applied := 0
	for ; applied < n; applied++ {
		o, ok := s.inbox.pop()
		if !ok {
			break
		}
		switch o.kind {
		case opRegister:
			s.Register(o.handle)
		case opUnregister:
			s.Unregister(o.handle)
		case opReclassify:
			s.Reclassify(o.handle)
		case opEffect:
			s.QueueEffect(o.effect.Prefab, o.effect.Position, o.effect.Rotation)
		case opPhysics:
			s.QueuePhysics(o.physics.Body, o.physics.Torque)
		case opAudio:
			s.QueueAudio(o.audio.Position, o.audio.Volume)
		}
	}
	return applied
}

func (s *Scheduler) notify(h Handle, t Tier) {
	if s.onTierChange == nil {
		return
	}
	s.guard("tier-change callback", func() { s.onTierChange(h, t) })
}

func (s *Scheduler) spawnEffect(req EffectRequest) {
	s.guard("effect spawner", func() {
		id, ok := s.spawner.SpawnEffect(req)
		if ok && s.cfg.EffectLifetimeTicks > 0 {
			s.cleanups = append(s.cleanups, pendingCleanup{id: id, due: s.tick + uint64(s.cfg.EffectLifetimeTicks)})
		}
	})
}

// runCleanups despawns effects whose lifetime has elapsed, oldest first.
func (s *Scheduler) runCleanups() int {
	n := 0
	for s.cleanupHead < len(s.cleanups) && s.cleanups[s.cleanupHead].due <= s.tick {
		id := s.cleanups[s.cleanupHead].id
		s.cleanupHead++
		n++
		s.guard("effect cleanup", func() { s.spawner.DespawnEffect(id) })
	}

	// Compact once the consumed prefix dominates
	if s.cleanupHead > 64 && s.cleanupHead*2 >= len(s.cleanups) {
		rest := copy(s.cleanups, s.cleanups[s.cleanupHead:])
		s.cleanups = s.cleanups[:rest]
		s.cleanupHead = 0
	}
	return n
}

func (s *Scheduler) applyPhysics(req PhysicsRequest) {
	s.guard("physics sink", func() { s.physicsSink.ApplyTorque(req.Body, req.Torque) })
}

func (s *Scheduler) playAudio(req AudioRequest) {
	s.guard("audio sink", func() { s.audioSink.PlayAt(req) })
}

// guard runs fn and converts a panic into a counted, throttled log line.
func (s *Scheduler) guard(what string, fn func()) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			s.faults++
			ok = false
			faults := s.faults
			s.faultLog.Do(func() {
				log.Printf("⚠️ Scheduler: recovered panic in %s: %v (faults=%d)", what, rec, faults)
			})
		}
	}()
	fn()
	return true
}
