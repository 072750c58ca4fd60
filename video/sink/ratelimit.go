package sink

import (
	"time"

	"camstream/video/source"
)

// RateLimit wraps another Destination so that it sees at most fps frames per
// second of stream time. Frames arriving before the next slot are dropped;
// when frames arrive late the slot grid skips ahead rather than bursting.
type RateLimit struct {
	// dest is the wrapped Destination which will receive the limited stream.
	dest source.Destination

	frameDur time.Duration
	next     time.Duration
	last     time.Duration
	started  bool
	dropped  uint64
}

// NewRateLimit wraps dest at the given frame rate. A rate <= 0 passes every
// frame through.
func NewRateLimit(dest source.Destination, fps int) *RateLimit {
	r := &RateLimit{dest: dest}
	if fps > 0 {
		r.frameDur = time.Second / time.Duration(fps)
	}
	return r
}

func (r *RateLimit) Deliver(f source.Frame) error {
	if r.frameDur == 0 {
		return r.dest.Deliver(f)
	}
	// Stream time going backwards means a new session.
	if r.started && f.Timestamp < r.last {
		r.started = false
	}
	r.last = f.Timestamp
	if r.started && f.Timestamp < r.next {
		// Don't need a new frame yet. Ignore.
		r.dropped++
		return nil
	}
	if !r.started {
		r.next = f.Timestamp
		r.started = true
	}
	for r.next <= f.Timestamp {
		r.next += r.frameDur
	}
	return r.dest.Deliver(f)
}

// Dropped returns the number of frames withheld from the wrapped destination.
// It must be called from the delivering goroutine.
func (r *RateLimit) Dropped() uint64 {
	return r.dropped
}
