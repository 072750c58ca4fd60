// Package sink provides destinations for frame streams.
package sink

import (
	"errors"
	"sync"
	"sync/atomic"

	"camstream/video/source"
)

var (
	// ErrFull is returned by a strict Chan whose buffer is full.
	ErrFull = errors.New("sink: channel full")
	// ErrClosed is returned after a Chan was closed.
	ErrClosed = errors.New("sink: closed")
)

// Chan is a Destination backed by a buffered channel. Deliver never blocks:
// when the buffer is full a lossy Chan drops the frame, a strict one fails,
// which ends the session.
type Chan struct {
	c     chan source.Frame
	lossy bool

	dropped atomic.Uint64

	mu     sync.Mutex
	closed bool
}

// NewChan returns a strict Chan buffering size frames.
func NewChan(size int) *Chan {
	return &Chan{c: make(chan source.Frame, size)}
}

// NewLossyChan returns a Chan that drops frames while its reader is behind.
func NewLossyChan(size int) *Chan {
	return &Chan{c: make(chan source.Frame, size), lossy: true}
}

func (c *Chan) Deliver(f source.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.c <- f:
		return nil
	default:
	}
	if c.lossy {
		c.dropped.Add(1)
		return nil
	}
	return ErrFull
}

// C returns the receive side. It is closed by Close.
func (c *Chan) C() <-chan source.Frame {
	return c.c
}

// Dropped returns the number of frames a lossy Chan discarded.
func (c *Chan) Dropped() uint64 {
	return c.dropped.Load()
}

// Close closes the channel. Later deliveries fail with ErrClosed.
func (c *Chan) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.c)
	}
}

// Tee delivers every frame to each of its destinations in order, stopping at
// the first error. Every destination after the first gets its own copy of the
// samples.
type Tee []source.Destination

func (t Tee) Deliver(f source.Frame) error {
	for i, d := range t {
		g := f
		if i > 0 {
			g.Image = f.Image.Clone()
		}
		if err := d.Deliver(g); err != nil {
			return err
		}
	}
	return nil
}

// Discard accepts and drops every frame.
var Discard source.Destination = source.DestinationFunc(func(source.Frame) error {
	return nil
})
