package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"camstream/video/source"
)

func frame(seq uint64) source.Frame {
	return source.Frame{
		Seq: seq,
		Image: source.Image{
			Format:  source.Mono16,
			Width:   2,
			Height:  2,
			Samples: []uint16{0, 1, 2, 3},
		},
	}
}

func TestChan(t *testing.T) {
	c := NewChan(2)
	for i := uint64(1); i <= 2; i++ {
		if err := c.Deliver(frame(i)); err != nil {
			t.Fatalf("Deliver(%d) = %v", i, err)
		}
	}
	if err := c.Deliver(frame(3)); !errors.Is(err, ErrFull) {
		t.Errorf("Deliver() to full chan = %v, want ErrFull", err)
	}
	if f := <-c.C(); f.Seq != 1 {
		t.Errorf("received seq %d, want 1", f.Seq)
	}

	c.Close()
	c.Close()
	if err := c.Deliver(frame(4)); !errors.Is(err, ErrClosed) {
		t.Errorf("Deliver() after Close = %v, want ErrClosed", err)
	}
	// Buffered frames survive Close.
	if f, ok := <-c.C(); !ok || f.Seq != 2 {
		t.Errorf("received %d %v, want 2 true", f.Seq, ok)
	}
	if _, ok := <-c.C(); ok {
		t.Error("channel not closed")
	}
}

func TestLossyChan(t *testing.T) {
	c := NewLossyChan(1)
	for i := uint64(1); i <= 3; i++ {
		if err := c.Deliver(frame(i)); err != nil {
			t.Fatalf("Deliver(%d) = %v", i, err)
		}
	}
	if c.Dropped() != 2 {
		t.Errorf("dropped %d, want 2", c.Dropped())
	}
	if f := <-c.C(); f.Seq != 1 {
		t.Errorf("received seq %d, want 1", f.Seq)
	}
}

func TestTee(t *testing.T) {
	var got []string
	record := func(name string, err error) source.Destination {
		return source.DestinationFunc(func(source.Frame) error {
			got = append(got, name)
			return err
		})
	}
	boom := errors.New("boom")

	tee := Tee{record("a", nil), Discard, record("b", boom), record("c", nil)}
	if err := tee.Deliver(frame(1)); !errors.Is(err, boom) {
		t.Errorf("Deliver() = %v, want %v", err, boom)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("delivered to %v, want [a b]", got)
	}
}

func TestLEBytes(t *testing.T) {
	b := leBytes([]uint16{0x0102, 0xff00})
	want := []byte{0x02, 0x01, 0x00, 0xff}
	if string(b) != string(want) {
		t.Errorf("leBytes() = %x, want %x", b, want)
	}
}

func TestMJPEGServerErrors(t *testing.T) {
	s := NewMJPEGServer()
	st := s.NewStream(MJPEGID{Name: "preview"})
	defer st.Close()

	tests := []struct {
		url  string
		code int
	}{
		{"/mjpeg", http.StatusBadRequest},
		{"/mjpeg?name=other", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.url, nil))
			if rec.Code != tt.code {
				t.Errorf("GET %s = %d, want %d", tt.url, rec.Code, tt.code)
			}
		})
	}
}

func TestMJPEGStreamWithoutListeners(t *testing.T) {
	s := NewMJPEGServer()
	st := s.NewStream(MJPEGID{Name: "preview"})
	if st.Listeners() != 0 {
		t.Fatalf("listeners = %d", st.Listeners())
	}
	// Nothing is encoded, and delivery never fails.
	if err := st.Deliver(frame(1)); err != nil {
		t.Errorf("Deliver() = %v", err)
	}
	st.Close()
	if s.getStream(MJPEGID{Name: "preview"}) != nil {
		t.Error("stream still registered after Close")
	}
	// The name can be reused.
	s.NewStream(MJPEGID{Name: "preview"}).Close()
}

func TestToMat8(t *testing.T) {
	img := source.Image{
		Format:  source.Mono16,
		Width:   2,
		Height:  2,
		Samples: []uint16{0, 256, 512, 65535},
	}
	tests := []struct {
		name         string
		samples      []uint16
		autoContrast bool
		want         []uint8
	}{
		{"upper byte", img.Samples, false, []uint8{0, 1, 2, 255}},
		{"auto contrast", []uint16{100, 100, 100, 200}, true, []uint8{0, 0, 0, 255}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := img
			in.Samples = tt.samples
			mat, err := toMat8(in, tt.autoContrast)
			if err != nil {
				t.Fatalf("toMat8() = %v", err)
			}
			defer mat.Close()
			if mat.Rows() != 2 || mat.Cols() != 2 {
				t.Fatalf("mat is %dx%d", mat.Cols(), mat.Rows())
			}
			for i, want := range tt.want {
				if got := mat.GetUCharAt(i/2, i%2); got != want {
					t.Errorf("pixel %d = %d, want %d", i, got, want)
				}
			}
		})
	}

	bad := img
	bad.Samples = bad.Samples[:3]
	if _, err := toMat8(bad, false); err == nil {
		t.Error("toMat8() accepted a short image")
	}
	bad = img
	bad.Format = source.PixelFormat(7)
	if _, err := toMat8(bad, false); err == nil {
		t.Error("toMat8() accepted an unknown format")
	}
}

func TestMJPEGStreamServesJPEG(t *testing.T) {
	s := NewMJPEGServer()
	st := s.NewStream(MJPEGID{Name: "preview"})
	defer st.Close()
	srv := httptest.NewServer(s)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/mjpeg?name=preview", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET = %v", err)
	}
	defer resp.Body.Close()

	mt, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mt != "multipart/x-mixed-replace" || params["boundary"] != boundaryWord {
		t.Fatalf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}

	// A listener not yet waiting for a frame skips it, so keep feeding frames.
	done := make(chan struct{})
	fed := make(chan struct{})
	go func() {
		defer close(fed)
		for seq := uint64(1); ; seq++ {
			f := frame(seq)
			f.Timestamp = time.Duration(seq) * time.Millisecond
			st.Deliver(f)
			select {
			case <-done:
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	}()
	defer func() {
		close(done)
		<-fed
	}()

	part, err := multipart.NewReader(resp.Body, boundaryWord).NextPart()
	if err != nil {
		t.Fatalf("NextPart() = %v", err)
	}
	if ct := part.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("part Content-Type = %q", ct)
	}
	if part.Header.Get("Content-Length") == "" || part.Header.Get("X-Timestamp") == "" {
		t.Errorf("part header = %v", part.Header)
	}
	soi := make([]byte, 2)
	if _, err := io.ReadFull(part, soi); err != nil {
		t.Fatalf("reading JPEG = %v", err)
	}
	if soi[0] != 0xff || soi[1] != 0xd8 {
		t.Errorf("JPEG starts with %x, want ffd8", soi)
	}
	if st.Listeners() != 1 {
		t.Errorf("listeners = %d, want 1", st.Listeners())
	}
}

func TestTeeCopiesSamples(t *testing.T) {
	var first, second source.Frame
	tee := Tee{
		source.DestinationFunc(func(f source.Frame) error {
			first = f
			return nil
		}),
		source.DestinationFunc(func(f source.Frame) error {
			second = f
			f.Image.Samples[0] = 99
			return nil
		}),
	}
	if err := tee.Deliver(frame(1)); err != nil {
		t.Fatalf("Deliver() = %v", err)
	}
	if first.Image.Samples[0] != 0 {
		t.Errorf("second branch wrote through to the first: %v", first.Image.Samples)
	}
	if second.Seq != 1 || second.Image.Width != 2 {
		t.Errorf("second branch got %+v", second)
	}
}

func TestRateLimit(t *testing.T) {
	var got []uint64
	rec := source.DestinationFunc(func(f source.Frame) error {
		got = append(got, f.Seq)
		return nil
	})
	r := NewRateLimit(rec, 10)
	// Stream time in ms for seq 1..6.
	for i, ms := range []int{0, 40, 100, 150, 390, 399} {
		f := frame(uint64(i + 1))
		f.Timestamp = time.Duration(ms) * time.Millisecond
		if err := r.Deliver(f); err != nil {
			t.Fatalf("Deliver() = %v", err)
		}
	}
	want := []uint64{1, 3, 5}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("delivered %v, want %v", got, want)
	}
	if r.Dropped() != 3 {
		t.Errorf("dropped %d, want 3", r.Dropped())
	}

	// A restarted stream starts over.
	got = nil
	r.Deliver(frame(7))
	if len(got) != 1 {
		t.Errorf("frame from new session dropped")
	}

	got = nil
	all := NewRateLimit(rec, 0)
	all.Deliver(frame(1))
	all.Deliver(frame(2))
	if len(got) != 2 {
		t.Errorf("unlimited delivered %v", got)
	}
}
