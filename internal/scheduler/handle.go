package scheduler

// Handle is a generation-counted reference to an entity slot. A handle becomes
// stale as soon as its slot is released; staleness is a generation compare, never
// a probe into the owning system. The zero Handle is never valid.
type Handle struct {
	Index uint32 `json:"index"`
	Gen   uint32 `json:"gen"`
}

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool {
	return h.Gen == 0
}

// ID packs the handle into a single integer (generation in the high word).
func (h Handle) ID() uint64 {
	return uint64(h.Gen)<<32 | uint64(h.Index)
}

// HandleFromID reverses Handle.ID.
func HandleFromID(id uint64) Handle {
	return Handle{Index: uint32(id), Gen: uint32(id >> 32)}
}

// PositionSource resolves a handle to its current position. ok is false when the
// handle is stale; the scheduler never owns entity lifetime.
type PositionSource interface {
	Position(h Handle) (pos Vec3, ok bool)
}

type arenaSlot struct {
	pos   Vec3
	gen   uint32
	alive bool
}

// Arena is a generational slot arena holding entity positions.
// Not safe for concurrent use; the owner serializes access.
type Arena struct {
	slots []arenaSlot
	free  []uint32
	live  int
}

// NewArena creates an arena with room for capacity entities before growing.
func NewArena(capacity int) *Arena {
	return &Arena{
		slots: make([]arenaSlot, 0, capacity),
	}
}

// Spawn allocates a slot at pos and returns its handle.
func (a *Arena) Spawn(pos Vec3) Handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, arenaSlot{})
	}

	s := &a.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1 // wrapped; zero is reserved for the invalid handle
	}
	s.pos = pos
	s.alive = true
	a.live++

	return Handle{Index: idx, Gen: s.gen}
}

// Despawn releases the slot. Every outstanding copy of h becomes stale.
// Returns false if h was already stale.
func (a *Arena) Despawn(h Handle) bool {
	s := a.slot(h)
	if s == nil {
		return false
	}
	s.alive = false
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	a.free = append(a.free, h.Index)
	a.live--
	return true
}

// Alive reports whether h still refers to a live slot.
func (a *Arena) Alive(h Handle) bool {
	return a.slot(h) != nil
}

// Position implements PositionSource.
func (a *Arena) Position(h Handle) (Vec3, bool) {
	s := a.slot(h)
	if s == nil {
		return Vec3{}, false
	}
	return s.pos, true
}

// SetPosition moves a live entity. Returns false if h is stale.
func (a *Arena) SetPosition(h Handle, pos Vec3) bool {
	s := a.slot(h)
	if s == nil {
		return false
	}
	s.pos = pos
	return true
}

// Len returns the number of live entities.
func (a *Arena) Len() int {
	return a.live
}

func (a *Arena) slot(h Handle) *arenaSlot {
	if h.Gen == 0 || int(h.Index) >= len(a.slots) {
		return nil
	}
	s := &a.slots[h.Index]
	if !s.alive || s.gen != h.Gen {
		return nil
	}
	return s
}
