package serve

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"camstream/video/source"
)

const (
	// Time allowed to write message to the client
	writeWait  = 10 * time.Second
	pingPeriod = 10 * time.Second
)

// FrameEvent is the websocket message sent for each delivered frame.
type FrameEvent struct {
	Seq         uint64  `json:"seq"`
	TimestampMs float64 `json:"timestamp_ms"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Min         uint16  `json:"min"`
	Max         uint16  `json:"max"`
}

func newFrameEvent(f source.Frame) FrameEvent {
	ev := FrameEvent{
		Seq:         f.Seq,
		TimestampMs: float64(f.Timestamp) / float64(time.Millisecond),
		Width:       f.Image.Width,
		Height:      f.Image.Height,
	}
	for i, v := range f.Image.Samples {
		if i == 0 || v < ev.Min {
			ev.Min = v
		}
		if v > ev.Max {
			ev.Max = v
		}
	}
	return ev
}

// FrameFeed is a Destination that publishes a FrameEvent for every frame to
// all connected websocket clients. Clients that fall behind miss events;
// Deliver never blocks and never fails.
type FrameFeed struct {
	upgrader websocket.Upgrader
	cs       map[chan []byte]bool
	addc     chan chan []byte
	delc     chan chan []byte
	notify   chan []byte
	done     <-chan struct{}
	clients  atomic.Int32
}

// NewFrameFeed starts the feed's fan-out goroutine, which runs until ctx is
// done.
func NewFrameFeed(ctx context.Context) *FrameFeed {
	m := &FrameFeed{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		cs:     make(map[chan []byte]bool),
		addc:   make(chan chan []byte),
		delc:   make(chan chan []byte),
		notify: make(chan []byte, 1),
		done:   ctx.Done(),
	}
	go func() {
		for {
			select {
			case c := <-m.addc:
				m.cs[c] = true
			case c := <-m.delc:
				delete(m.cs, c)
			case msg := <-m.notify:
				for c := range m.cs {
					select {
					case c <- msg:
					default:
					}
				}
			case <-m.done:
				return
			}
		}
	}()
	return m
}

// Clients returns the number of connected websocket clients.
func (m *FrameFeed) Clients() int {
	return int(m.clients.Load())
}

func (m *FrameFeed) Deliver(f source.Frame) error {
	if m.Clients() == 0 {
		return nil
	}
	msg, err := json.Marshal(newFrameEvent(f))
	if err != nil {
		log.Errorf("Failed to encode event for frame %d: %v", f.Seq, err)
		return nil
	}
	select {
	case m.notify <- msg:
	default:
	}
	return nil
}

func (m *FrameFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if _, ok := err.(websocket.HandshakeError); !ok {
			log.WithField("addr", r.RemoteAddr).Errorf("Websocket handshake failed for frame feed: %v", err)
		}
		return
	}
	go m.serve(ws)
}

func (m *FrameFeed) serve(ws *websocket.Conn) {
	clog := log.WithField("addr", ws.RemoteAddr())
	clog.Info("connected to frame feed")
	defer func() {
		ws.Close()
		clog.Info("disconnected from frame feed")
	}()
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	msgc := make(chan []byte, 1)
	select {
	case m.addc <- msgc:
	case <-m.done:
		return
	}
	m.clients.Add(1)
	defer func() {
		m.clients.Add(-1)
		select {
		case m.delc <- msgc:
		case <-m.done:
		}
	}()

	// Even though we don't care about incoming messages, we need to read from
	// the socket in order to process control messages.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				ws.Close()
				return
			}
		}
	}()

	for {
		select {
		case msg := <-msgc:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-pingTicker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		case <-closed:
			return
		case <-m.done:
			return
		}
	}
}
