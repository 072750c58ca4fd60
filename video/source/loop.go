package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"camstream/dcam"
)

// session is the state owned by one acquisition goroutine. Nothing else
// touches cam, buf or wait once run has started.
type session struct {
	stream *Stream
	ctx    context.Context
	log    *log.Entry

	cam  *dcam.Camera
	buf  *FrameBuffer
	wait dcam.Waiter
	dest Destination

	start time.Time
	// last is the device frame count of the last copied frame.
	last int
}

func (s *session) run() {
	sessionsActive.Inc()
	s.stream.state.Store(int32(StateCapturing))

	err := s.capture()
	s.release()

	sessionsActive.Dec()
	st := s.stream.Stats()
	if err != nil {
		sessionFaults.WithLabelValues(errorKind(err)).Inc()
		s.log.WithError(err).Errorf("Capture ended by fault after %d frames", st.Delivered)
	} else {
		s.log.Infof("Capture stopped after %d frames (%d skipped)", st.Delivered, st.Skipped)
	}
	s.stream.finish(err)
}

// capture runs until the session is stopped or fails.
func (s *session) capture() error {
	timeout := s.stream.settings.WaitTimeout
	for {
		if s.drain() {
			return nil
		}

		err := s.wait.Wait(timeout)
		if errors.Is(err, dcam.ErrTimeout) {
			waitTimeouts.Inc()
			s.stream.timeouts.Add(1)
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: wait for frame: %w", ErrAcquisition, err)
		}

		f, ok, err := s.grab()
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		// Whatever destination is bound now gets the frame.
		if err := s.dest.Deliver(f); err != nil {
			return fmt.Errorf("%w: frame %d: %w", ErrDelivery, f.Seq, err)
		}
		framesDelivered.Inc()
		s.stream.delivered.Add(1)
	}
}

// drain applies pending control messages and reports whether the loop
// should stop.
func (s *session) drain() bool {
	for _, m := range s.stream.control.drain() {
		switch m.kind {
		case msgStop:
			s.log.Debug("Stop requested")
			return true
		case msgRedirect:
			s.dest = m.dest
			s.log.Debug("Destination changed")
		}
	}
	select {
	case <-s.ctx.Done():
		s.log.Debugf("Context done: %v", s.ctx.Err())
		return true
	default:
	}
	return false
}

// grab copies the newest frame out of the buffer. It returns false if the
// device has not completed a frame since the last call.
func (s *session) grab() (Frame, bool, error) {
	idx, count, err := s.buf.MostRecent()
	if err != nil {
		return Frame{}, false, err
	}
	if count <= s.last {
		return Frame{}, false, nil
	}
	if skipped := count - s.last - 1; skipped > 0 {
		framesSkipped.Add(float64(skipped))
		s.stream.skipped.Add(uint64(skipped))
		s.log.Debugf("Skipped %d frame(s) before frame %d", skipped, count)
	}
	s.last = count

	res := s.stream.settings.Resolution
	img, err := decode(s.buf.Copy(idx), res.X, res.Y)
	if err != nil {
		return Frame{}, false, err
	}
	return Frame{
		Seq:       uint64(count),
		Timestamp: time.Since(s.start),
		Image:     img,
	}, true, nil
}

// release stops capture and frees the hardware. The buffer is deregistered
// before the device is closed, and only after capture has returned.
func (s *session) release() {
	if err := s.cam.StopCapture(); err != nil {
		s.log.Warnf("Failed to stop capture: %v", err)
	}
	if err := s.wait.Close(); err != nil {
		s.log.Warnf("Failed to close wait handle: %v", err)
	}
	if err := s.buf.Release(); err != nil {
		s.log.Warnf("Failed to release frame buffer: %v", err)
	}
	if err := s.cam.Close(); err != nil {
		s.log.Warnf("Failed to close camera: %v", err)
	}
}
