// Package serve exposes the streaming session over HTTP.
package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"camstream/dcam"
	"camstream/video/source"
)

var (
	ErrRunning            = errors.New("a session is already running")
	ErrNotRunning         = errors.New("no session is running")
	ErrUnknownDestination = errors.New("unknown destination")
)

// Status describes the controller and its current session.
type Status struct {
	Running      bool
	Session      string `json:",omitempty"`
	State        string
	Consumer     string
	Destinations []string

	// Settings and Stats belong to the current or last session.
	Settings *source.Settings `json:",omitempty"`
	Stats    *source.Stats    `json:",omitempty"`

	LastError string `json:",omitempty"`
}

// Controller owns a Source and at most one running Stream, and routes the
// stream to one of a set of named destinations.
type Controller struct {
	ctx context.Context
	src *source.Source

	mu       sync.Mutex
	dests    map[string]source.Destination
	consumer string
	stream   *source.Stream
	last     *source.Stream
	lastErr  error
}

// NewController returns a controller whose sessions end when ctx is done.
func NewController(ctx context.Context, src *source.Source) *Controller {
	return &Controller{
		ctx:   ctx,
		src:   src,
		dests: make(map[string]source.Destination),
	}
}

// Register adds a named destination. The first one registered is the initial
// consumer.
func (c *Controller) Register(name string, d source.Destination) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.dests[name]; ok {
		log.Panicf("Destination %q already registered", name)
	}
	c.dests[name] = d
	if c.consumer == "" {
		c.consumer = name
	}
}

// reapLocked collects a session that ended on its own.
func (c *Controller) reapLocked() {
	if c.stream == nil {
		return
	}
	select {
	case <-c.stream.Done():
		c.lastErr = c.stream.Stop()
		c.last = c.stream
		c.stream = nil
	default:
	}
}

// Start starts a session delivering to the current consumer.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reapLocked()
	if c.stream != nil {
		return ErrRunning
	}
	dest, ok := c.dests[c.consumer]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownDestination, c.consumer)
	}
	s, err := c.src.Start(c.ctx, dest)
	if err != nil {
		c.lastErr = err
		return err
	}
	c.stream = s
	c.lastErr = nil
	return nil
}

// Stop stops the running session and returns the fault that ended it early,
// if any.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return ErrNotRunning
	}
	err := c.stream.Stop()
	c.last = c.stream
	c.stream = nil
	c.lastErr = err
	return err
}

// Restart stops the running session, if any, and starts a new one with the
// source's current parameters. Without a running session it does nothing.
func (c *Controller) Restart() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reapLocked()
	if c.stream == nil {
		return nil
	}
	if err := c.stream.Stop(); err != nil {
		log.Warnf("Session %s had failed before restart: %v", c.stream.ID(), err)
	}
	c.last = c.stream
	c.stream = nil

	dest := c.dests[c.consumer]
	s, err := c.src.Start(c.ctx, dest)
	if err != nil {
		c.lastErr = err
		return err
	}
	c.stream = s
	c.lastErr = nil
	return nil
}

// SetConsumer routes frames to the named destination, immediately if a
// session is running.
func (c *Controller) SetConsumer(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	dest, ok := c.dests[name]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownDestination, name)
	}
	c.reapLocked()
	c.consumer = name
	if c.stream != nil && !c.stream.ChangeConsumer(dest) {
		// Ended between the reap and the change.
		c.reapLocked()
	}
	return nil
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reapLocked()

	st := Status{
		Running:  c.stream != nil,
		State:    source.StateStopped.String(),
		Consumer: c.consumer,
	}
	for name := range c.dests {
		st.Destinations = append(st.Destinations, name)
	}
	sort.Strings(st.Destinations)

	s := c.stream
	if s == nil {
		s = c.last
	}
	if s != nil {
		settings, stats := s.Settings(), s.Stats()
		st.Session = s.ID()
		st.State = s.State().String()
		st.Settings = &settings
		st.Stats = &stats
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// Shutdown stops the running session, if any.
func (c *Controller) Shutdown() {
	if err := c.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		log.Warnf("Session ended with error: %v", err)
	}
}

// Handler returns the control endpoints.
func (c *Controller) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", c.post(func(*http.Request) error {
		return c.Start()
	}))
	mux.HandleFunc("/stop", c.post(func(*http.Request) error {
		// A session fault is reported through the status, not as a failed stop.
		if err := c.Stop(); errors.Is(err, ErrNotRunning) {
			return err
		}
		return nil
	}))
	mux.HandleFunc("/restart", c.post(func(*http.Request) error {
		return c.Restart()
	}))
	mux.HandleFunc("/consumer", c.post(func(r *http.Request) error {
		return c.SetConsumer(r.Form.Get("name"))
	}))
	mux.HandleFunc("/status", c.serveStatus)
	mux.HandleFunc("/info", c.serveInfo)
	return mux
}

func (c *Controller) post(action func(r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := action(r); err != nil {
			log.WithField("addr", r.RemoteAddr).Warnf("%s failed: %v", r.URL.Path, err)
			http.Error(w, err.Error(), statusCode(err))
			return
		}
		c.serveStatus(w, r)
	}
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, ErrRunning), errors.Is(err, ErrNotRunning), errors.Is(err, dcam.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, ErrUnknownDestination):
		return http.StatusNotFound
	case errors.Is(err, source.ErrConnection):
		return http.StatusServiceUnavailable
	case errors.Is(err, source.ErrConfiguration):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (c *Controller) serveStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, c.Status())
}

func (c *Controller) serveInfo(w http.ResponseWriter, r *http.Request) {
	info, err := c.src.Describe()
	if err != nil {
		http.Error(w, err.Error(), statusCode(err))
		return
	}
	writeJSON(w, info)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	js, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(js)
}
