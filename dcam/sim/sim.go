// Package sim implements a simulated dcam driver. Each successful Wait
// captures the next frame into the attached buffer, so frame delivery is
// deterministic; every device call is recorded in a journal that tests use to
// check call ordering.
package sim

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"camstream/dcam"
)

// Camera configures one simulated camera.
type Camera struct {
	Model dcam.Model

	// Frames is the number of frames produced per capture; < 0 is unlimited.
	// Once they are used up Wait blocks until its timeout.
	Frames int
	// Interval is the time between frames.
	Interval time.Duration

	// Fault injection.
	OpenErr     error
	AttachErr   error
	StartErr    error
	TransferErr error
	// ReleaseErr is returned by Release after the buffer was detached.
	ReleaseErr error
	// WaitErr is returned by every Wait once FailAfter frames were produced.
	WaitErr   error
	FailAfter int

	Serial string
}

// Event is one journal entry.
type Event struct {
	Camera int
	Op     string
	Err    error
}

func (e Event) String() string {
	if e.Err != nil {
		return fmt.Sprintf("cam%d:%s(%v)", e.Camera, e.Op, e.Err)
	}
	return fmt.Sprintf("cam%d:%s", e.Camera, e.Op)
}

// Driver is a simulated vendor API connection.
type Driver struct {
	cams []Camera

	mu         sync.Mutex
	open       []*Device
	closed     bool
	events     []Event
	violations []string
}

// New returns a driver with the given cameras. With no cameras it simulates a
// single unlimited C11440-22CU.
func New(cams ...Camera) *Driver {
	if len(cams) == 0 {
		cams = []Camera{{Model: dcam.C11440_22CU, Frames: -1, Interval: 10 * time.Millisecond}}
	}
	return &Driver{
		cams: cams,
		open: make([]*Device, len(cams)),
	}
}

func (d *Driver) Count() int {
	return len(d.cams)
}

func (d *Driver) Open(index int) (dcam.Device, error) {
	if index < 0 || index >= len(d.cams) {
		return nil, dcam.ErrInvalidCamera
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, dcam.ErrNotReady
	}
	cfg := d.cams[index]
	if cfg.OpenErr != nil {
		d.recordLocked(index, "open", cfg.OpenErr)
		return nil, cfg.OpenErr
	}
	if d.open[index] != nil {
		d.recordLocked(index, "open", dcam.ErrBusy)
		return nil, dcam.ErrBusy
	}
	dev := newDevice(d, index, cfg)
	d.open[index] = dev
	d.recordLocked(index, "open", nil)
	log.WithField("camera", index).Debugf("Simulated %s opened", cfg.Model.Name)
	return dev, nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, dev := range d.open {
		if dev != nil {
			d.violations = append(d.violations, fmt.Sprintf("cam%d: driver closed with device open", i))
		}
	}
	d.closed = true
	return nil
}

// Events returns a copy of the journal.
func (d *Driver) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Event(nil), d.events...)
}

// Ops returns the journal operations of one camera, in order.
func (d *Driver) Ops(camera int) []string {
	var ops []string
	for _, e := range d.Events() {
		if e.Camera == camera {
			ops = append(ops, e.Op)
		}
	}
	return ops
}

// Violations returns misuse the simulator detected, such as releasing the
// buffer while a wait is in flight.
func (d *Driver) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.violations...)
}

// IsOpen reports whether camera index currently has an open handle.
func (d *Driver) IsOpen(index int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open[index] != nil
}

func (d *Driver) record(camera int, op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recordLocked(camera, op, err)
}

func (d *Driver) recordLocked(camera int, op string, err error) {
	d.events = append(d.events, Event{Camera: camera, Op: op, Err: err})
}

func (d *Driver) violation(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Errorf("Simulator: %s", msg)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.violations = append(d.violations, msg)
}

func (d *Driver) closeDevice(index int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open[index] = nil
	d.recordLocked(index, "close", nil)
}
