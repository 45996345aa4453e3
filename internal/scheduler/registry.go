package scheduler

type entry struct {
	handle Handle
	tier   Tier
}

// registry is the dense, swap-remove population the classifier walks.
//
// Invariant: entries[:cursor] were visited in the current round-robin cycle and
// entries[cursor:] are still due. Removal keeps that split intact so a removal
// never makes the cursor skip or revisit anyone.
type registry struct {
	entries []entry
	index   map[Handle]int
	cursor  int
}

func newRegistry(capacity int) *registry {
	return &registry{
		entries: make([]entry, 0, capacity),
		index:   make(map[Handle]int, capacity),
	}
}

func (r *registry) len() int { return len(r.entries) }

func (r *registry) contains(h Handle) bool {
	_, ok := r.index[h]
	return ok
}

func (r *registry) tier(h Handle) (Tier, bool) {
	i, ok := r.index[h]
	if !ok {
		return TierUnknown, false
	}
	return r.entries[i].tier, true
}

func (r *registry) setTier(i int, t Tier) {
	r.entries[i].tier = t
}

// add appends h. New entries land in the due region.
func (r *registry) add(h Handle, t Tier) bool {
	if _, ok := r.index[h]; ok {
		return false
	}
	r.index[h] = len(r.entries)
	r.entries = append(r.entries, entry{handle: h, tier: t})
	return true
}

// remove drops h and returns its last tier.
func (r *registry) remove(h Handle) (Tier, bool) {
	i, ok := r.index[h]
	if !ok {
		return TierUnknown, false
	}
	return r.removeAt(i).tier, true
}

// removeAt deletes slot i in O(1) and retargets the cursor.
func (r *registry) removeAt(i int) entry {
	removed := r.entries[i]
	delete(r.index, removed.handle)
	last := len(r.entries) - 1

	if i < r.cursor {
		// Hole is in the visited region: backfill it with the last visited entry,
		// then move the tail (still due) into the slot that entry vacated.
		c := r.cursor - 1
		if i != c {
			r.move(c, i)
		}
		if c != last {
			r.move(last, c)
		}
		r.cursor = c
	} else if i != last {
		r.move(last, i)
	}

	r.entries[last] = entry{}
	r.entries = r.entries[:last]

	if r.cursor >= len(r.entries) {
		r.cursor = 0
	}
	return removed
}

func (r *registry) move(from, to int) {
	r.entries[to] = r.entries[from]
	r.index[r.entries[to].handle] = to
}

// advance moves the cursor past slot i, wrapping to start a new cycle.
func (r *registry) advance(i int) {
	r.cursor = i + 1
	if r.cursor >= len(r.entries) {
		r.cursor = 0
	}
}
