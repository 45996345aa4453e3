// hordetop shows the live tier feed of a running horde server.
package main

import (
	"flag"
	"log"
	"time"

	"horde/internal/dashboard"

	"github.com/gdamore/tcell/v2"
)

func main() {
	url := flag.String("url", "ws://localhost:3000/ws", "tier feed WebSocket URL")
	flag.Parse()

	conn, err := dashboard.Dial(*url)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer conn.Close()

	screen, err := tcell.NewScreen()
	if err != nil {
		log.Fatalf("❌ Terminal unavailable: %v", err)
	}
	if err := screen.Init(); err != nil {
		log.Fatalf("❌ Terminal init failed: %v", err)
	}
	defer screen.Fini()

	state := &dashboard.State{Connected: true}

	frames := make(chan []byte, 64)
	feedErr := make(chan error, 1)
	go dashboard.Pump(conn, frames, feedErr)

	events := make(chan tcell.Event, 16)
	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				return
			}
			events <- ev
		}
	}()

	redraw := time.NewTicker(250 * time.Millisecond)
	defer redraw.Stop()

	for {
		select {
		case ev := <-events:
			switch ev := ev.(type) {
			case *tcell.EventKey:
				if ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC ||
					(ev.Key() == tcell.KeyRune && ev.Rune() == 'q') {
					return
				}
			case *tcell.EventResize:
				screen.Sync()
				dashboard.Draw(screen, state)
			}

		case data := <-frames:
			if err := state.Apply(data); err != nil {
				state.Err = err.Error()
			}

		case err := <-feedErr:
			state.Connected = false
			state.Err = err.Error()
			dashboard.Draw(screen, state)

		case <-redraw.C:
			dashboard.Draw(screen, state)
		}
	}
}
