package audio

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"horde/internal/config"
	"horde/internal/scheduler"
)

func testEngine(maxVoices int) *Engine {
	cfg := config.DefaultAudio()
	cfg.MaxVoices = maxVoices
	return NewEngine(cfg)
}

// drain renders until every voice finished or gives up after 2s of audio
func drain(t *testing.T, e *Engine) {
	t.Helper()
	buf := make([][2]float64, 4096)
	for i := 0; i < 25 && e.Stats().Voices > 0; i++ {
		e.Render(buf)
	}
}

func TestPlayAtProducesSignal(t *testing.T) {
	e := testEngine(4)
	e.PlayAt(scheduler.AudioRequest{Volume: 1})

	if stats := e.Stats(); stats.Played != 1 || stats.Voices != 1 {
		t.Fatalf("Expected one live voice, got %+v", stats)
	}

	buf := make([][2]float64, 2048)
	e.Render(buf)

	peak := 0.0
	for _, s := range buf {
		peak = math.Max(peak, math.Abs(s[0]))
	}
	if peak == 0 {
		t.Error("Expected a non-silent render")
	}
	if peak > 1 {
		t.Errorf("Expected gain below unity, got peak %f", peak)
	}

	drain(t, e)
	if v := e.Stats().Voices; v != 0 {
		t.Errorf("Expected voice to finish, %d still live", v)
	}
}

func TestDistanceAttenuation(t *testing.T) {
	tests := []struct {
		name    string
		dist    float64
		falloff float64
		want    float64
	}{
		{"at listener", 0, 40, 1},
		{"at falloff", 40, 40, 0.5},
		{"three falloffs", 120, 40, 0.25},
		{"no falloff", 500, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := attenuate(tt.dist, tt.falloff); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Expected %f, got %f", tt.want, got)
			}
		})
	}
}

func TestFarSoundsAreCulled(t *testing.T) {
	e := testEngine(4)
	e.SetListener(scheduler.Vec3{X: 10})

	e.PlayAt(scheduler.AudioRequest{Position: scheduler.Vec3{X: 10_000}, Volume: 1})
	e.PlayAt(scheduler.AudioRequest{Position: scheduler.Vec3{X: 12}, Volume: 1})

	stats := e.Stats()
	if stats.Culled != 1 || stats.Played != 1 {
		t.Errorf("Expected 1 culled and 1 played, got %+v", stats)
	}
}

func TestVoiceCap(t *testing.T) {
	e := testEngine(2)
	for i := 0; i < 5; i++ {
		e.PlayAt(scheduler.AudioRequest{Volume: 1})
	}

	stats := e.Stats()
	if stats.Voices != 2 || stats.Rejected != 3 {
		t.Errorf("Expected 2 voices and 3 rejected, got %+v", stats)
	}

	drain(t, e)
	e.PlayAt(scheduler.AudioRequest{Volume: 1})
	if stats := e.Stats(); stats.Played != 3 {
		t.Errorf("Expected room after voices finished, got %+v", stats)
	}
}

func TestMissingClipFallsBackToSynth(t *testing.T) {
	cfg := config.DefaultAudio()
	cfg.ClipPath = filepath.Join(t.TempDir(), "missing.ogg")
	e := NewEngine(cfg)

	if e.Stats().Clip {
		t.Error("Expected no clip for a missing file")
	}
	e.PlayAt(scheduler.AudioRequest{Volume: 1})
	if e.Stats().Played != 1 {
		t.Error("Synth fallback should still play")
	}
}

func TestHeadlessStartStop(t *testing.T) {
	e := testEngine(4)
	e.Start()
	e.PlayAt(scheduler.AudioRequest{Volume: 1})

	// The pump drains a 180ms voice in real time
	deadline := time.Now().Add(2 * time.Second)
	for e.Stats().Voices > 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if v := e.Stats().Voices; v != 0 {
		t.Errorf("Expected pump to finish the voice, %d live", v)
	}

	e.Stop()
	e.Stop() // idempotent
	if e.Stats().Speaker {
		t.Error("Headless engine must not report a speaker")
	}
}
