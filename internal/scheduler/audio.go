package scheduler

// audioGate admits at most limit requests per tick and drops the rest.
// Nothing is ever carried into the next tick.
type audioGate struct {
	limit   int
	pending []AudioRequest

	admitted uint64
	dropped  uint64
	played   uint64
}

func newAudioGate(limit int) *audioGate {
	return &audioGate{
		limit:   limit,
		pending: make([]AudioRequest, 0, limit),
	}
}

// admit accepts req if this tick's count is below the cap.
func (g *audioGate) admit(req AudioRequest) bool {
	if len(g.pending) >= g.limit {
		g.dropped++
		return false
	}
	g.pending = append(g.pending, req)
	g.admitted++
	return true
}

// count is the number of requests admitted so far this tick.
func (g *audioGate) count() int { return len(g.pending) }

// flush plays every admitted request and resets the counter for the next tick.
func (g *audioGate) flush(play func(AudioRequest)) int {
	n := len(g.pending)
	for i := range g.pending {
		play(g.pending[i])
		g.pending[i] = AudioRequest{}
	}
	g.pending = g.pending[:0]
	g.played += uint64(n)
	return n
}
