// Package audio plays positional death sounds through a beep mixer.
//
// The Engine is the scheduler's AudioSink: it only ever sees sounds that
// survived the per-tick admission cap. It adds its own voice cap and distance
// culling on top, and runs either on the system speaker or headless with a
// pump goroutine that drains the mixer at real-time pace.
package audio

import (
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"

	"horde/internal/config"
	"horde/internal/scheduler"
)

const (
	// minAudibleGain culls voices too quiet to matter
	minAudibleGain = 0.01

	pumpInterval = 50 * time.Millisecond
)

// Stats reports mixer activity
type Stats struct {
	Voices   int    `json:"voices"`
	Played   uint64 `json:"played"`
	Culled   uint64 `json:"culled"`   // too far away
	Rejected uint64 `json:"rejected"` // voice cap reached
	Clip     bool   `json:"clip"`     // true if an OGG clip is loaded
	Speaker  bool   `json:"speaker"`
}

// Engine mixes death sounds and implements scheduler.AudioSink
type Engine struct {
	mu  sync.Mutex // guards mixer and listener when headless
	cfg config.AudioConfig

	rate     beep.SampleRate
	mixer    *beep.Mixer
	clip     *beep.Buffer
	listener scheduler.Vec3

	speakerOn atomic.Bool
	running   bool
	stopChan  chan struct{}
	wg        sync.WaitGroup

	played   atomic.Uint64
	culled   atomic.Uint64
	rejected atomic.Uint64
}

// NewEngine creates an engine. A clip that fails to load falls back to the
// synthesized thud instead of failing.
func NewEngine(cfg config.AudioConfig) *Engine {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = config.DefaultAudio().SampleRate
	}

	e := &Engine{
		cfg:      cfg,
		rate:     beep.SampleRate(cfg.SampleRate),
		mixer:    &beep.Mixer{},
		stopChan: make(chan struct{}),
	}

	if cfg.ClipPath != "" {
		clip, err := loadClip(cfg.ClipPath, e.rate)
		if err != nil {
			log.Printf("⚠️ Death clip disabled, using synth: %v", err)
		} else {
			e.clip = clip
			log.Printf("✅ Death clip loaded: %s (%v)", cfg.ClipPath, e.rate.D(clip.Len()))
		}
	}

	return e
}

// Start opens the speaker when enabled, otherwise starts the headless pump.
// Speaker failure is not fatal: the engine keeps running headless.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true

	if e.cfg.Enabled {
		if err := speaker.Init(e.rate, e.rate.N(100*time.Millisecond)); err != nil {
			log.Printf("⚠️ Speaker unavailable, running headless: %v", err)
		} else {
			e.speakerOn.Store(true)
		}
	}
	speakerOn := e.speakerOn.Load()
	e.mu.Unlock()

	if speakerOn {
		speaker.Play(e.mixer)
		log.Printf("🔊 Audio started on speaker at %d Hz", e.rate)
		return
	}

	e.wg.Add(1)
	go e.pump()
	log.Printf("🔇 Audio started headless at %d Hz", e.rate)
}

// Stop silences every voice and stops output
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	speakerOn := e.speakerOn.Load()
	e.mu.Unlock()

	if speakerOn {
		speaker.Clear()
		speaker.Close()
		e.speakerOn.Store(false)
	} else {
		close(e.stopChan)
		e.wg.Wait()
	}

	e.withMixer(func() { e.mixer.Clear() })
}

// pump drains the mixer at real-time pace so headless voices finish
func (e *Engine) pump() {
	defer e.wg.Done()

	ticker := time.NewTicker(pumpInterval)
	defer ticker.Stop()

	buf := make([][2]float64, e.rate.N(pumpInterval))
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.Render(buf)
		}
	}
}

// withMixer runs fn with exclusive access to the mixer. With the speaker on,
// the mixer belongs to the speaker goroutine and must be touched under its lock.
func (e *Engine) withMixer(fn func()) {
	if e.speakerOn.Load() {
		speaker.Lock()
		defer speaker.Unlock()
		fn()
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}

// SetListener moves the point sounds are attenuated against
func (e *Engine) SetListener(pos scheduler.Vec3) {
	e.withMixer(func() { e.listener = pos })
}

// PlayAt implements scheduler.AudioSink
func (e *Engine) PlayAt(req scheduler.AudioRequest) {
	e.withMixer(func() {
		dist := math.Sqrt(scheduler.SqrDist(req.Position, e.listener))
		gain := req.Volume * e.cfg.Volume * attenuate(dist, e.cfg.Falloff)
		if gain < minAudibleGain {
			e.culled.Add(1)
			return
		}
		if e.cfg.MaxVoices > 0 && e.mixer.Len() >= e.cfg.MaxVoices {
			e.rejected.Add(1)
			return
		}

		voice, err := e.voice()
		if err != nil {
			e.rejected.Add(1)
			return
		}
		e.mixer.Add(withGain(voice, gain))
		e.played.Add(1)
	})
}

func (e *Engine) voice() (beep.Streamer, error) {
	if e.clip != nil {
		return e.clip.Streamer(0, e.clip.Len()), nil
	}
	return thud(e.rate, e.cfg.FrequencyHz, time.Duration(e.cfg.DurationMs)*time.Millisecond)
}

// Render pulls len(buf) samples from the mixer. Used by the headless pump and
// by callers that want the mixed signal (tests, recorders).
func (e *Engine) Render(buf [][2]float64) {
	if e.speakerOn.Load() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range buf {
		buf[i] = [2]float64{}
	}
	e.mixer.Stream(buf)
}

// Stats returns mixer counters
func (e *Engine) Stats() Stats {
	var voices int
	e.withMixer(func() { voices = e.mixer.Len() })
	return Stats{
		Voices:   voices,
		Played:   e.played.Load(),
		Culled:   e.culled.Load(),
		Rejected: e.rejected.Load(),
		Clip:     e.clip != nil,
		Speaker:  e.speakerOn.Load(),
	}
}
