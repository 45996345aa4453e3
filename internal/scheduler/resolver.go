package scheduler

import "time"

// ReferenceLocator finds the moving anchor (e.g. the controlled avatar) that
// distances are measured against. It may fail while the anchor does not exist.
type ReferenceLocator interface {
	Locate() (Handle, bool)
}

// LocatorFunc adapts a function to ReferenceLocator.
type LocatorFunc func() (Handle, bool)

// Locate implements ReferenceLocator.
func (f LocatorFunc) Locate() (Handle, bool) { return f() }

// resolver caches the anchor handle and only retries Locate once the cached
// anchor is gone and the retry interval has elapsed.
type resolver struct {
	locator   ReferenceLocator
	positions PositionSource
	interval  time.Duration
	clock     func() time.Time

	anchor      Handle
	haveAnchor  bool
	lastAttempt time.Time
	attempted   bool
	lookups     uint64
}

func newResolver(locator ReferenceLocator, positions PositionSource, interval time.Duration, clock func() time.Time) *resolver {
	return &resolver{
		locator:   locator,
		positions: positions,
		interval:  interval,
		clock:     clock,
	}
}

// point returns the current reference position, or ok=false if unresolved.
func (r *resolver) point() (Vec3, bool) {
	if r.haveAnchor {
		if p, ok := r.positions.Position(r.anchor); ok {
			return p, true
		}
		r.haveAnchor = false
	}

	if r.locator == nil {
		return Vec3{}, false
	}

	now := r.clock()
	if r.attempted && now.Sub(r.lastAttempt) < r.interval {
		return Vec3{}, false
	}
	r.attempted = true
	r.lastAttempt = now
	r.lookups++

	h, ok := r.locator.Locate()
	if !ok {
		return Vec3{}, false
	}
	p, ok := r.positions.Position(h)
	if !ok {
		return Vec3{}, false
	}

	r.anchor = h
	r.haveAnchor = true
	return p, true
}

func (r *resolver) resolved() bool { return r.haveAnchor }
