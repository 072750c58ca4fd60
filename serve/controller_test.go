package serve

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"camstream/dcam"
	"camstream/dcam/sim"
	"camstream/video/source"
)

// counter is a Destination that counts frames.
type counter struct {
	n atomic.Int64
}

func (c *counter) Deliver(source.Frame) error {
	c.n.Add(1)
	return nil
}

func newTestController(t *testing.T, cams ...sim.Camera) (*Controller, *sim.Driver, *counter, *counter) {
	t.Helper()
	if len(cams) == 0 {
		cams = []sim.Camera{{Model: dcam.C11440_22CU, Frames: -1, Interval: time.Millisecond}}
	}
	d := sim.New(cams...)
	src := source.NewSource(d, dcam.C11440_22CU, source.Params{
		Exposure:     0.01,
		Resolution:   image.Pt(8, 8),
		BufferFrames: 4,
		WaitTimeout:  20 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	c := NewController(ctx, src)
	a, b := &counter{}, &counter{}
	c.Register("a", a)
	c.Register("b", b)
	t.Cleanup(func() {
		c.Shutdown()
		cancel()
	})
	return c, d, a, b
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestControllerLifecycle(t *testing.T) {
	c, d, a, b := newTestController(t)

	if err := c.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop() before Start() = %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if err := c.Start(); !errors.Is(err, ErrRunning) {
		t.Errorf("second Start() = %v, want ErrRunning", err)
	}
	eventually(t, "frames on a", func() bool { return a.n.Load() > 0 })

	if err := c.SetConsumer("nope"); !errors.Is(err, ErrUnknownDestination) {
		t.Errorf("SetConsumer(nope) = %v", err)
	}
	if err := c.SetConsumer("b"); err != nil {
		t.Fatalf("SetConsumer(b) = %v", err)
	}
	eventually(t, "frames on b", func() bool { return b.n.Load() > 0 })

	st := c.Status()
	if !st.Running || st.Consumer != "b" || st.State != "capturing" || st.Session == "" {
		t.Errorf("status = %+v", st)
	}
	if st.Settings == nil || st.Settings.Resolution != image.Pt(8, 8) {
		t.Errorf("settings = %+v", st.Settings)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if d.IsOpen(0) {
		t.Error("camera open after Stop()")
	}
	st = c.Status()
	if st.Running || st.State != "stopped" || st.Stats == nil {
		t.Errorf("status after stop = %+v", st)
	}
}

func TestControllerRestart(t *testing.T) {
	c, _, a, _ := newTestController(t)
	if err := c.Restart(); err != nil {
		t.Fatalf("Restart() without session = %v", err)
	}
	if c.Status().Running {
		t.Fatal("Restart() started a session")
	}

	if err := c.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	first := c.Status().Session
	if err := c.Restart(); err != nil {
		t.Fatalf("Restart() = %v", err)
	}
	st := c.Status()
	if !st.Running || st.Session == first {
		t.Errorf("status after restart = %+v", st)
	}
	eventually(t, "frames after restart", func() bool { return a.n.Load() > 0 })
}

func TestControllerReapsFailedSession(t *testing.T) {
	c, d, _, _ := newTestController(t, sim.Camera{
		Model:     dcam.C11440_22CU,
		Frames:    -1,
		Interval:  time.Millisecond,
		WaitErr:   dcam.ErrNotStable,
		FailAfter: 2,
	})
	if err := c.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	eventually(t, "fault", func() bool { return !c.Status().Running })

	st := c.Status()
	if !strings.Contains(st.LastError, "acquisition") {
		t.Errorf("last error = %q", st.LastError)
	}
	if d.IsOpen(0) {
		t.Error("camera open after fault")
	}
	// A failed session does not block a new one.
	if err := c.Start(); err != nil {
		t.Errorf("Start() after fault = %v", err)
	}
}

func TestControllerHTTP(t *testing.T) {
	c, _, _, _ := newTestController(t)
	h := c.Handler()

	do := func(method, url string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(method, url, nil))
		return rec
	}

	tests := []struct {
		method string
		url    string
		code   int
	}{
		{http.MethodGet, "/start", http.StatusMethodNotAllowed},
		{http.MethodPost, "/stop", http.StatusConflict},
		{http.MethodGet, "/info", http.StatusOK},
		{http.MethodPost, "/start", http.StatusOK},
		{http.MethodPost, "/start", http.StatusConflict},
		{http.MethodGet, "/info", http.StatusConflict},
		{http.MethodPost, "/consumer?name=b", http.StatusOK},
		{http.MethodPost, "/consumer?name=zzz", http.StatusNotFound},
		{http.MethodPost, "/restart", http.StatusOK},
		{http.MethodPost, "/stop", http.StatusOK},
	}
	for _, tt := range tests {
		if rec := do(tt.method, tt.url); rec.Code != tt.code {
			t.Fatalf("%s %s = %d (%s), want %d", tt.method, tt.url, rec.Code, rec.Body, tt.code)
		}
	}

	rec := do(http.MethodGet, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /status = %d", rec.Code)
	}
	var st Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("bad status JSON: %v", err)
	}
	if st.Running || st.Consumer != "b" || len(st.Destinations) != 2 {
		t.Errorf("status = %+v", st)
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{ErrRunning, http.StatusConflict},
		{source.ErrConnection, http.StatusServiceUnavailable},
		{source.ErrConfiguration, http.StatusUnprocessableEntity},
		{source.ErrAcquisition, http.StatusInternalServerError},
		{errors.Join(source.ErrConnection, dcam.ErrBusy), http.StatusConflict},
	}
	for _, tt := range tests {
		if got := statusCode(tt.err); got != tt.code {
			t.Errorf("statusCode(%v) = %d, want %d", tt.err, got, tt.code)
		}
	}
}
