// Package dashboard renders the server's live tier feed in a terminal.
package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"

	"horde/internal/game"
	"horde/internal/scheduler"

	"github.com/gdamore/tcell/v2"
	"github.com/gorilla/websocket"
)

// MaxRecentChanges bounds the tier change history kept for display
const MaxRecentChanges = 12

// message is the hub's envelope
type message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Stats mirrors the scheduler:stats payload
type Stats struct {
	Tick       uint64               `json:"tick"`
	EnemyCount int                  `json:"enemyCount"`
	TotalKills int                  `json:"totalKills"`
	Tiers      scheduler.TierCounts `json:"tiers"`
	LastTick   scheduler.TickReport `json:"lastTick"`
	Scheduler  scheduler.Stats      `json:"scheduler"`
}

// State is everything the dashboard draws. Not safe for concurrent use; the
// UI loop owns it.
type State struct {
	Stats        Stats
	Recent       []game.TierChange // newest last
	TotalChanges uint64
	Messages     uint64
	Connected    bool
	Err          string
}

// Apply decodes one feed message into the state. Unknown events are ignored.
func (s *State) Apply(raw []byte) error {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	s.Messages++

	switch msg.Event {
	case "scheduler:stats":
		var st Stats
		if err := json.Unmarshal(msg.Data, &st); err != nil {
			return fmt.Errorf("decode stats: %w", err)
		}
		s.Stats = st

	case "tier:changes":
		var changes []game.TierChange
		if err := json.Unmarshal(msg.Data, &changes); err != nil {
			return fmt.Errorf("decode tier changes: %w", err)
		}
		s.TotalChanges += uint64(len(changes))
		s.Recent = append(s.Recent, changes...)
		if over := len(s.Recent) - MaxRecentChanges; over > 0 {
			s.Recent = append(s.Recent[:0], s.Recent[over:]...)
		}
	}
	return nil
}

// Dial connects to the feed. The Origin header is required by the hub's
// origin check.
func Dial(url string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Origin", "http://localhost")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

// Pump forwards every frame from conn to out until the connection fails.
// The final error is sent on errs.
func Pump(conn *websocket.Conn, out chan<- []byte, errs chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			errs <- err
			return
		}
		out <- data
	}
}

// =============================================================================
// DRAWING
// =============================================================================

var (
	styleTitle = tcell.StyleDefault.Foreground(tcell.ColorWhite).Bold(true)
	styleLabel = tcell.StyleDefault.Foreground(tcell.ColorSilver)
	styleNear  = tcell.StyleDefault.Foreground(tcell.ColorRed)
	styleMid   = tcell.StyleDefault.Foreground(tcell.ColorOrange)
	styleFar   = tcell.StyleDefault.Foreground(tcell.ColorGray)
	styleOK    = tcell.StyleDefault.Foreground(tcell.ColorGreen)
	styleBad   = tcell.StyleDefault.Foreground(tcell.ColorRed).Bold(true)
)

// Draw renders s onto screen and shows it
func Draw(screen tcell.Screen, s *State) {
	screen.Clear()
	width, _ := screen.Size()

	status, statusStyle := "connected", styleOK
	if !s.Connected {
		status, statusStyle = "disconnected", styleBad
	}
	st := s.Stats
	title := fmt.Sprintf("HORDE  tick %d  enemies %d  kills %d  ", st.Tick, st.EnemyCount, st.TotalKills)
	drawText(screen, 0, 0, styleTitle, title)
	drawText(screen, len(title), 0, statusStyle, "["+status+"]")

	total := st.Tiers.Near + st.Tiers.Mid + st.Tiers.Far
	barWidth := width - 16
	drawBar(screen, 2, "near", st.Tiers.Near, total, barWidth, styleNear)
	drawBar(screen, 3, "mid", st.Tiers.Mid, total, barWidth, styleMid)
	drawBar(screen, 4, "far", st.Tiers.Far, total, barWidth, styleFar)

	sc := st.Scheduler
	rows := []string{
		fmt.Sprintf("effects  pending %d/%d  drained %d  dropped %d", sc.Effects.Pending, sc.Effects.Capacity, sc.Effects.Drained, sc.Effects.Dropped),
		fmt.Sprintf("physics  pending %d/%d  drained %d  dropped %d", sc.Physics.Pending, sc.Physics.Capacity, sc.Physics.Drained, sc.Physics.Dropped),
		fmt.Sprintf("audio    cap %d  played %d  dropped %d", sc.Audio.Cap, sc.Audio.Played, sc.Audio.Dropped),
		fmt.Sprintf("inbox    pending %d/%d  dropped %d", sc.Inbox.Pending, sc.Inbox.Capacity, sc.Inbox.Dropped),
		fmt.Sprintf("tick     visited %d  took %s  faults %d", st.LastTick.Visited, st.LastTick.Duration, sc.Faults),
	}
	for i, row := range rows {
		drawText(screen, 0, 6+i, styleLabel, row)
	}

	y := 6 + len(rows) + 1
	drawText(screen, 0, y, styleTitle, fmt.Sprintf("tier changes (%d total)", s.TotalChanges))
	for i := len(s.Recent) - 1; i >= 0; i-- {
		y++
		c := s.Recent[i]
		drawText(screen, 2, y, tierStyle(c.Tier), fmt.Sprintf("#%-6d -> %-4s @ tick %d", c.EnemyID, c.Tier, c.Tick))
	}

	if s.Err != "" {
		y += 2
		drawText(screen, 0, y, styleBad, s.Err)
	}
	drawText(screen, 0, y+2, styleLabel, "q / Esc to quit")

	screen.Show()
}

func drawBar(screen tcell.Screen, y int, label string, count, total, width int, style tcell.Style) {
	drawText(screen, 0, y, style, fmt.Sprintf("%-5s %6d ", label, count))
	if total <= 0 || width <= 0 {
		return
	}
	n := count * width / total
	for x := 0; x < n; x++ {
		screen.SetContent(13+x, y, '█', nil, style)
	}
}

func drawText(screen tcell.Screen, x, y int, style tcell.Style, text string) {
	for _, r := range text {
		screen.SetContent(x, y, r, nil, style)
		x++
	}
}

func tierStyle(t scheduler.Tier) tcell.Style {
	switch t {
	case scheduler.TierNear:
		return styleNear
	case scheduler.TierMid:
		return styleMid
	default:
		return styleFar
	}
}
