package audio

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/generators"
	"github.com/gopxl/beep/vorbis"
)

// loadClip decodes an OGG Vorbis file fully into memory at the target rate.
// Death sounds are short and replayed constantly, so decoding once beats
// streaming from disk per voice.
func loadClip(path string, rate beep.SampleRate) (*beep.Buffer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	streamer, format, err := vorbis.Decode(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	defer streamer.Close()

	var src beep.Streamer = streamer
	if format.SampleRate != rate {
		src = beep.Resample(4, format.SampleRate, rate, streamer)
	}

	buf := beep.NewBuffer(beep.Format{SampleRate: rate, NumChannels: 2, Precision: 2})
	buf.Append(src)
	if buf.Len() == 0 {
		return nil, fmt.Errorf("clip %s is empty", path)
	}
	return buf, nil
}

// thud synthesizes the fallback death sound: a low sine with a short attack
// and an exponential tail
func thud(rate beep.SampleRate, freq float64, d time.Duration) (beep.Streamer, error) {
	tone, err := generators.SineTone(rate, freq)
	if err != nil {
		return nil, err
	}
	total := rate.N(d)
	return &decay{
		streamer: beep.Take(total, tone),
		attack:   rate.N(5 * time.Millisecond),
		total:    total,
	}, nil
}

// decay shapes a streamer with a linear attack and exponential release
type decay struct {
	streamer beep.Streamer
	position int
	attack   int
	total    int
}

func (d *decay) Stream(samples [][2]float64) (n int, ok bool) {
	n, ok = d.streamer.Stream(samples)
	for i := 0; i < n; i++ {
		vol := math.Exp(-4 * float64(d.position) / float64(d.total))
		if d.position < d.attack {
			vol *= float64(d.position) / float64(d.attack)
		}
		samples[i][0] *= vol
		samples[i][1] *= vol
		d.position++
	}
	return n, ok
}

func (d *decay) Err() error { return d.streamer.Err() }

// withGain wraps s in a linear gain. math.Log2(0) is -Inf, so zero is silent.
func withGain(s beep.Streamer, gain float64) beep.Streamer {
	if gain <= 0 {
		return &effects.Volume{Streamer: s, Base: 2, Silent: true}
	}
	return &effects.Volume{Streamer: s, Base: 2, Volume: math.Log2(gain)}
}

// attenuate returns the distance gain: 1 at the listener, 0.5 at falloff
func attenuate(dist, falloff float64) float64 {
	if falloff <= 0 {
		return 1
	}
	return falloff / (falloff + dist)
}
