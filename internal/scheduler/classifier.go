package scheduler

// TierCounts is the registered population per tier.
type TierCounts struct {
	Near int `json:"near"`
	Mid  int `json:"mid"`
	Far  int `json:"far"`
}

// classifier walks a budgeted slice of the registry per tick and applies the
// hysteresis rule. Tier-change notification is left to the caller via notify so
// the scheduler can isolate callback panics.
type classifier struct {
	reg       *registry
	res       *resolver
	positions PositionSource
	th        Thresholds
	checks    int
	counts    [tierCount]int

	visited      uint64
	staleRemoved uint64
	changes      uint64
}

func newClassifier(reg *registry, res *resolver, positions PositionSource, th Thresholds, checks int) *classifier {
	return &classifier{
		reg:       reg,
		res:       res,
		positions: positions,
		th:        th,
		checks:    checks,
	}
}

// initial computes the tier for an entity with no history. Far when either the
// reference point or the entity position is unavailable.
func (c *classifier) initial(h Handle) Tier {
	ref, ok := c.res.point()
	if !ok {
		return TierFar
	}
	pos, ok := c.positions.Position(h)
	if !ok {
		return TierFar
	}
	return c.th.Initial(SqrDist(pos, ref))
}

func (c *classifier) add(h Handle) (Tier, bool) {
	if c.reg.contains(h) {
		return TierUnknown, false
	}
	t := c.initial(h)
	c.reg.add(h, t)
	c.counts[t]++
	return t, true
}

func (c *classifier) remove(h Handle) bool {
	t, ok := c.reg.remove(h)
	if ok {
		c.counts[t]--
	}
	return ok
}

// reclassify runs the hysteresis rule for one entity outside the budget. When
// the reference point or the entity position is unavailable the tier is kept.
func (c *classifier) reclassify(h Handle) (t Tier, changed, ok bool) {
	i, ok := c.reg.index[h]
	if !ok {
		return TierUnknown, false, false
	}
	cur := c.reg.entries[i].tier
	ref, ok := c.res.point()
	if !ok {
		return cur, false, true
	}
	pos, ok := c.positions.Position(h)
	if !ok {
		return cur, false, true
	}
	t, changed = c.apply(i, SqrDist(pos, ref))
	return t, changed, true
}

// apply moves entry i to its next tier. changed is false if the tier held.
func (c *classifier) apply(i int, sqrDist float64) (next Tier, changed bool) {
	cur := c.reg.entries[i].tier
	next = c.th.Next(cur, sqrDist)
	if next == cur {
		return next, false
	}
	c.reg.setTier(i, next)
	c.counts[cur]--
	c.counts[next]++
	c.changes++
	return next, true
}

// passResult summarizes one budgeted pass.
type passResult struct {
	resolved bool
	visited  int
	stale    int
	faulted  int
	changes  int
}

// pass visits at most min(checks, size) slots starting at the cursor. A stale
// handle is removed where it is found and still consumes a unit of budget; the
// entity swapped into its slot is visited next. Each position lookup runs under
// guard; a lookup that panics skips that entity, keeps its tier and still moves
// the cursor past it.
func (c *classifier) pass(notify func(Handle, Tier), guard func(string, func()) bool) passResult {
	var r passResult

	ref, ok := c.res.point()
	if !ok {
		return r
	}
	r.resolved = true

	budget := min(c.checks, c.reg.len())
	for n := 0; n < budget && c.reg.len() > 0; n++ {
		i := c.reg.cursor
		e := c.reg.entries[i]

		var pos Vec3
		var ok bool
		if !guard("position source", func() { pos, ok = c.positions.Position(e.handle) }) {
			c.reg.advance(i)
			r.faulted++
			continue
		}
		if !ok {
			c.reg.removeAt(i)
			c.counts[e.tier]--
			c.staleRemoved++
			r.stale++
			continue
		}

		c.reg.advance(i)
		r.visited++

		if next, changed := c.apply(i, SqrDist(pos, ref)); changed {
			r.changes++
			notify(e.handle, next)
		}
	}

	c.visited += uint64(r.visited)
	return r
}

func (c *classifier) tierCounts() TierCounts {
	return TierCounts{
		Near: c.counts[TierNear],
		Mid:  c.counts[TierMid],
		Far:  c.counts[TierFar],
	}
}
