package scheduler

import "horde/internal/config"

// ChannelState is the drain state of a deferred channel.
type ChannelState uint8

const (
	ChannelIdle ChannelState = iota
	ChannelDraining
	ChannelCoolingDown
)

func (s ChannelState) String() string {
	switch s {
	case ChannelDraining:
		return "draining"
	case ChannelCoolingDown:
		return "cooling_down"
	default:
		return "idle"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ChannelState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name; unrecognized names become ChannelIdle.
func (s *ChannelState) UnmarshalText(text []byte) error {
	*s = ChannelIdle
	for _, c := range [...]ChannelState{ChannelDraining, ChannelCoolingDown} {
		if c.String() == string(text) {
			*s = c
		}
	}
	return nil
}

// ring is a bounded FIFO. When full, push applies the overflow policy.
type ring[T any] struct {
	buf        []T
	head       int
	size       int
	dropOldest bool
}

func newRing[T any](capacity int, policy string) *ring[T] {
	return &ring[T]{
		buf:        make([]T, capacity),
		dropOldest: policy != config.OverflowDropNewest,
	}
}

// push appends v. dropped is true if an item was discarded to make room (or v
// itself was rejected under drop-newest).
func (r *ring[T]) push(v T) (dropped bool) {
	if len(r.buf) == 0 {
		return true
	}
	if r.size == len(r.buf) {
		if !r.dropOldest {
			return true
		}
		var zero T
		r.buf[r.head] = zero
		r.head = (r.head + 1) % len(r.buf)
		r.size--
		dropped = true
	}
	r.buf[(r.head+r.size)%len(r.buf)] = v
	r.size++
	return dropped
}

func (r *ring[T]) pop() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return v, true
}

func (r *ring[T]) len() int { return r.size }

// channel is one deferred FIFO with a per-tick drain budget and an idle delay
// between batches. State advances only inside step.
type channel[T any] struct {
	queue  *ring[T]
	budget int
	delay  int

	state    ChannelState
	cooldown int
	dropped  uint64
	drained  uint64
}

func newChannel[T any](budget, delay, capacity int, policy string) *channel[T] {
	return &channel[T]{
		queue:  newRing[T](capacity, policy),
		budget: budget,
		delay:  delay,
	}
}

// enqueue adds a request. Returns false if the overflow policy discarded
// something.
func (c *channel[T]) enqueue(v T) bool {
	if c.queue.push(v) {
		c.dropped++
		return false
	}
	return true
}

// step runs one tick of the channel: either one cooldown tick or one batch of at
// most budget items, oldest first. exec is called per item and must not panic
// out; the caller wraps collaborator calls.
func (c *channel[T]) step(exec func(T)) int {
	if c.cooldown > 0 {
		c.cooldown--
		if c.cooldown == 0 {
			c.state = ChannelIdle
		} else {
			c.state = ChannelCoolingDown
		}
		return 0
	}

	if c.queue.len() == 0 {
		c.state = ChannelIdle
		return 0
	}

	c.state = ChannelDraining
	n := 0
	for n < c.budget {
		v, ok := c.queue.pop()
		if !ok {
			break
		}
		exec(v)
		n++
	}
	c.drained += uint64(n)

	if c.delay > 0 {
		c.cooldown = c.delay
		c.state = ChannelCoolingDown
	} else {
		c.state = ChannelIdle
	}
	return n
}

func (c *channel[T]) pending() int { return c.queue.len() }
