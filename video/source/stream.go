package source

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"camstream/util"
)

// Destination receives the frames of a Stream.
type Destination interface {
	// Deliver hands over f, which the destination then owns. It is called
	// from the acquisition goroutine, so it should not block for long; an
	// error ends the session.
	Deliver(f Frame) error
}

// DestinationFunc adapts a function to a Destination.
type DestinationFunc func(f Frame) error

func (fn DestinationFunc) Deliver(f Frame) error {
	return fn(f)
}

// State is the acquisition loop state.
type State int32

const (
	StateConfiguring State = iota
	StateCapturing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConfiguring:
		return "configuring"
	case StateCapturing:
		return "capturing"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

type msgKind int

const (
	msgStop msgKind = iota
	msgRedirect
)

type message struct {
	kind msgKind
	dest Destination
}

// mailbox is an unbounded FIFO of control messages. Posting never blocks.
type mailbox struct {
	mu   sync.Mutex
	msgs []message
}

func (m *mailbox) post(msg message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
}

func (m *mailbox) drain() []message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.msgs
	m.msgs = nil
	return msgs
}

// Settings are the values a session actually applied to the device.
type Settings struct {
	Camera       int
	Exposure     float64
	Resolution   image.Point
	FrameBytes   int
	BufferFrames int
	WaitTimeout  time.Duration
}

// Stats counts session activity.
type Stats struct {
	Delivered uint64
	Skipped   uint64
	Timeouts  uint64
}

// Stream is the handle of a running session. Stop is the only way to tear
// the session down deterministically.
type Stream struct {
	id       string
	settings Settings
	control  mailbox
	cancel   context.CancelFunc
	exited   *util.Event

	stopped atomic.Bool
	state   atomic.Int32

	delivered atomic.Uint64
	skipped   atomic.Uint64
	timeouts  atomic.Uint64

	mu  sync.Mutex
	err error
}

func newStream(id string, settings Settings, cancel context.CancelFunc) *Stream {
	return &Stream{
		id:       id,
		settings: settings,
		cancel:   cancel,
		exited:   util.NewEvent(),
	}
}

// ID returns the session id.
func (s *Stream) ID() string {
	return s.id
}

func (s *Stream) Settings() Settings {
	return s.settings
}

func (s *Stream) State() State {
	return State(s.state.Load())
}

func (s *Stream) Stats() Stats {
	return Stats{
		Delivered: s.delivered.Load(),
		Skipped:   s.skipped.Load(),
		Timeouts:  s.timeouts.Load(),
	}
}

// ChangeConsumer redirects subsequent frames to dest. It returns immediately;
// the acquisition loop picks the change up before its next wait. It panics if
// Stop was called. Once the session has ended on its own (see Done) the change
// is discarded and ChangeConsumer reports false.
func (s *Stream) ChangeConsumer(dest Destination) bool {
	if dest == nil {
		panic("stream " + s.id + ": nil destination")
	}
	if s.stopped.Load() {
		panic("stream " + s.id + ": ChangeConsumer after Stop")
	}
	if s.exited.HasBeenNotified() {
		return false
	}
	s.control.post(message{kind: msgRedirect, dest: dest})
	return true
}

// Stop asks the acquisition loop to exit and waits until it has, at which
// point the device and frame buffer are released. It returns the error that
// ended the session early, if any. Stop panics if called twice.
func (s *Stream) Stop() error {
	if !s.stopped.CompareAndSwap(false, true) {
		panic("stream " + s.id + ": Stop called twice")
	}
	s.control.post(message{kind: msgStop})
	s.exited.Wait()
	s.cancel()
	return s.Err()
}

// Done is closed once the acquisition loop has exited and released the
// hardware, however the session ended.
func (s *Stream) Done() <-chan struct{} {
	return s.exited.Done()
}

// Err returns the fault that ended the session, or nil.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.state.Store(int32(StateStopped))
	s.exited.Notify()
}
