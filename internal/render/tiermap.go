// Package render draws a top-down debug view of the horde coloured by tier.
package render

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"log"
	"math"
	"sync"

	"horde/internal/config"
	"horde/internal/game"
	"horde/internal/scheduler"

	"github.com/fogleman/gg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// Size bounds for a rendered map (pixels per side)
const (
	MinSize     = 128
	MaxSize     = 1024
	DefaultSize = 512
)

// Palette
var (
	ColorBackground = color.RGBA{12, 12, 28, 255}
	ColorGrid       = color.RGBA{30, 30, 45, 255}
	ColorNear       = color.RGBA{255, 69, 58, 255}
	ColorMid        = color.RGBA{255, 149, 0, 255}
	ColorFar        = color.RGBA{120, 120, 140, 255}
	ColorAvatar     = color.RGBA{83, 255, 69, 255}
	ColorBody       = color.RGBA{90, 60, 60, 255}
	ColorEffect     = color.NRGBA{100, 180, 255, 160}
)

// TierMap renders snapshots to images. The default-size context is reused
// between renders; other sizes get a fresh context.
type TierMap struct {
	mu   sync.Mutex
	dc   *gg.Context
	face font.Face
}

// NewTierMap creates a renderer with the embedded Go font loaded once
func NewTierMap() *TierMap {
	m := &TierMap{dc: gg.NewContext(DefaultSize, DefaultSize)}

	parsed, err := opentype.Parse(goregular.TTF)
	if err == nil {
		m.face, err = opentype.NewFace(parsed, &opentype.FaceOptions{
			Size:    14,
			DPI:     72,
			Hinting: font.HintingFull,
		})
	}
	if err != nil {
		log.Printf("⚠️ Tier map font unavailable, legend disabled: %v", err)
	}
	return m
}

// ClampSize forces size into [MinSize, MaxSize]; zero means DefaultSize
func ClampSize(size int) int {
	switch {
	case size == 0:
		return DefaultSize
	case size < MinSize:
		return MinSize
	case size > MaxSize:
		return MaxSize
	}
	return size
}

// view maps world XZ onto pixels, origin at the image centre
type view struct {
	half  float64
	scale float64
}

func (v view) px(x, z float64) (float64, float64) {
	return v.half + x*v.scale, v.half + z*v.scale
}

// Render draws snap and returns a copy of the frame. worldRadius is the
// distance from the origin to the image edge.
func (m *TierMap) Render(snap game.WorldSnapshot, sched config.SchedulerConfig, worldRadius float64, size int) image.Image {
	m.mu.Lock()
	defer m.mu.Unlock()

	dc := m.context(ClampSize(size))
	m.draw(dc, snap, sched, worldRadius)

	src := dc.Image()
	out := image.NewRGBA(src.Bounds())
	copy(out.Pix, src.(*image.RGBA).Pix)
	return out
}

// WritePNG renders snap and encodes it as PNG
func (m *TierMap) WritePNG(w io.Writer, snap game.WorldSnapshot, sched config.SchedulerConfig, worldRadius float64, size int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dc := m.context(ClampSize(size))
	m.draw(dc, snap, sched, worldRadius)
	return dc.EncodePNG(w)
}

func (m *TierMap) context(size int) *gg.Context {
	if size == DefaultSize {
		return m.dc
	}
	return gg.NewContext(size, size)
}

func (m *TierMap) draw(dc *gg.Context, snap game.WorldSnapshot, sched config.SchedulerConfig, worldRadius float64) {
	size := float64(dc.Width())
	if worldRadius <= 0 {
		worldRadius = sched.MidDistance * 2
	}
	v := view{half: size / 2, scale: size / (2 * worldRadius)}

	dc.SetColor(ColorBackground)
	dc.DrawRectangle(0, 0, size, size)
	dc.Fill()
	drawGrid(dc, v, worldRadius)

	if snap.AvatarAlive {
		drawTierRings(dc, v, snap, sched)
	}

	for _, b := range snap.Bodies {
		x, y := v.px(b.Position.X, b.Position.Z)
		dc.SetColor(ColorBody)
		dc.SetLineWidth(2)
		dc.DrawLine(x-3, y-3, x+3, y+3)
		dc.DrawLine(x-3, y+3, x+3, y-3)
		dc.Stroke()
	}

	for _, e := range snap.Enemies {
		x, y := v.px(e.Position.X, e.Position.Z)
		dc.SetColor(tierColor(e.Tier))
		dc.DrawCircle(x, y, 3)
		dc.Fill()
	}

	dc.SetColor(ColorEffect)
	dc.SetLineWidth(1)
	for _, e := range snap.Effects {
		x, y := v.px(e.Position.X, e.Position.Z)
		dc.DrawCircle(x, y, 4+float64(e.Age%8))
		dc.Stroke()
	}

	if snap.AvatarAlive {
		x, y := v.px(snap.Avatar.X, snap.Avatar.Z)
		dc.SetColor(ColorAvatar)
		dc.DrawCircle(x, y, 6)
		dc.Fill()
		dc.SetColor(color.White)
		dc.SetLineWidth(2)
		dc.DrawCircle(x, y, 6)
		dc.Stroke()
	}

	m.drawLegend(dc, snap)
}

func drawGrid(dc *gg.Context, v view, worldRadius float64) {
	dc.SetColor(ColorGrid)
	dc.SetLineWidth(1)

	step := math.Max(10, math.Round(worldRadius/5))
	for d := 0.0; d <= worldRadius; d += step {
		for _, s := range [...]float64{d, -d} {
			x, _ := v.px(s, 0)
			_, y := v.px(0, s)
			dc.DrawLine(x, 0, x, 2*v.half)
			dc.DrawLine(0, y, 2*v.half, y)
		}
	}
	dc.Stroke()
}

// drawTierRings outlines the enter and exit edge of each band around the avatar
func drawTierRings(dc *gg.Context, v view, snap game.WorldSnapshot, sched config.SchedulerConfig) {
	x, y := v.px(snap.Avatar.X, snap.Avatar.Z)
	rings := []struct {
		radius float64
		c      color.RGBA
	}{
		{sched.NearDistance - sched.HysteresisBand, ColorNear},
		{sched.NearDistance + sched.HysteresisBand, ColorNear},
		{sched.MidDistance - sched.HysteresisBand, ColorMid},
		{sched.MidDistance + sched.HysteresisBand, ColorMid},
	}

	dc.SetLineWidth(1)
	for _, r := range rings {
		if r.radius <= 0 {
			continue
		}
		dc.SetColor(color.NRGBA{r.c.R, r.c.G, r.c.B, 90})
		dc.DrawCircle(x, y, r.radius*v.scale)
		dc.Stroke()
	}
}

func (m *TierMap) drawLegend(dc *gg.Context, snap game.WorldSnapshot) {
	if m.face == nil {
		return
	}
	dc.SetFontFace(m.face)

	lines := []struct {
		text string
		c    color.Color
	}{
		{fmt.Sprintf("tick %d  enemies %d  kills %d", snap.Tick, snap.EnemyCount, snap.TotalKills), color.White},
		{fmt.Sprintf("near %d", snap.Tiers.Near), ColorNear},
		{fmt.Sprintf("mid %d", snap.Tiers.Mid), ColorMid},
		{fmt.Sprintf("far %d", snap.Tiers.Far), ColorFar},
	}
	for i, l := range lines {
		dc.SetColor(l.c)
		dc.DrawString(l.text, 8, 18+float64(i)*16)
	}
}

func tierColor(t scheduler.Tier) color.RGBA {
	switch t {
	case scheduler.TierNear:
		return ColorNear
	case scheduler.TierMid:
		return ColorMid
	default:
		return ColorFar
	}
}
