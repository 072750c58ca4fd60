package serve

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"camstream/video/source"
)

func testFrame(seq uint64, samples ...uint16) source.Frame {
	return source.Frame{
		Seq:       seq,
		Timestamp: 1500 * time.Microsecond,
		Image: source.Image{
			Format:  source.Mono16,
			Width:   len(samples),
			Height:  1,
			Samples: samples,
		},
	}
}

func TestNewFrameEvent(t *testing.T) {
	ev := newFrameEvent(testFrame(3, 7, 2, 9, 4))
	want := FrameEvent{Seq: 3, TimestampMs: 1.5, Width: 4, Height: 1, Min: 2, Max: 9}
	if ev != want {
		t.Errorf("newFrameEvent() = %+v, want %+v", ev, want)
	}
}

func TestFrameFeed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed := NewFrameFeed(ctx)

	// Without clients frames are ignored.
	if err := feed.Deliver(testFrame(1, 1)); err != nil {
		t.Fatalf("Deliver() = %v", err)
	}

	srv := httptest.NewServer(feed)
	defer srv.Close()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer ws.Close()
	eventually(t, "client registration", func() bool { return feed.Clients() == 1 })

	if err := feed.Deliver(testFrame(2, 5, 6)); err != nil {
		t.Fatalf("Deliver() = %v", err)
	}
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() failed: %v", err)
	}
	var ev FrameEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("bad event %q: %v", msg, err)
	}
	if ev.Seq != 2 || ev.Min != 5 || ev.Max != 6 || ev.Width != 2 {
		t.Errorf("event = %+v", ev)
	}

	ws.Close()
	eventually(t, "client removal", func() bool { return feed.Clients() == 0 })
}
