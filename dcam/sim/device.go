package sim

import (
	"fmt"
	"sync"
	"time"

	"camstream/dcam"
)

// Device is a simulated open camera.
type Device struct {
	d     *Driver
	index int
	cfg   Camera

	mu        sync.Mutex
	props     map[dcam.Property]float64
	slots     [][]uint16
	capturing bool
	closed    bool
	frames    int
	newest    int
	nextAt    time.Time
	waiting   int
	abort     chan struct{}
}

func newDevice(d *Driver, index int, cfg Camera) *Device {
	m := cfg.Model
	return &Device{
		d:     d,
		index: index,
		cfg:   cfg,
		props: map[dcam.Property]float64{
			dcam.PropExposureTime:  m.DefaultExposure,
			dcam.PropSubarrayMode:  dcam.ModeOff,
			dcam.PropSubarrayHSize: float64(m.DefaultSize),
			dcam.PropSubarrayVSize: float64(m.DefaultSize),
		},
		newest: -1,
	}
}

// size returns the image size implied by the subarray properties. Must be
// called with mu held.
func (v *Device) size() (int, int) {
	if v.props[dcam.PropSubarrayMode] != dcam.ModeOn {
		return v.cfg.Model.DefaultSize, v.cfg.Model.DefaultSize
	}
	return int(v.props[dcam.PropSubarrayHSize]), int(v.props[dcam.PropSubarrayVSize])
}

func (v *Device) Property(id dcam.Property) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return 0, dcam.ErrInvalidCamera
	}
	w, h := v.size()
	switch id {
	case dcam.PropImageWidth:
		return float64(w), nil
	case dcam.PropImageHeight:
		return float64(h), nil
	case dcam.PropFrameBytes:
		return float64(w * h * 2), nil
	}
	val, ok := v.props[id]
	if !ok {
		return 0, dcam.ErrInvalidParam
	}
	return val, nil
}

func (v *Device) SetProperty(id dcam.Property, value float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return dcam.ErrInvalidCamera
	}
	if v.capturing {
		return dcam.ErrBusy
	}
	m := v.cfg.Model
	switch id {
	case dcam.PropExposureTime:
		if value < m.ExposureMin || value > m.ExposureMax {
			return dcam.ErrInvalidValue
		}
	case dcam.PropSubarrayMode:
		if value != dcam.ModeOn && value != dcam.ModeOff {
			return dcam.ErrInvalidValue
		}
	case dcam.PropSubarrayHSize, dcam.PropSubarrayVSize:
		size := int(value)
		if size < m.SizeMin || size > m.SizeMax || (m.SizeStep > 1 && size%m.SizeStep != 0) {
			return dcam.ErrInvalidValue
		}
	default:
		return dcam.ErrInvalidParam
	}
	v.props[id] = value
	return nil
}

func (v *Device) String(id dcam.StringID) (string, error) {
	switch id {
	case dcam.StrModel:
		return v.cfg.Model.Name, nil
	case dcam.StrCameraID:
		if v.cfg.Serial != "" {
			return v.cfg.Serial, nil
		}
		return fmt.Sprintf("S/N: SIM%04d", v.index), nil
	case dcam.StrAPIVersion:
		return "4.00", nil
	}
	return "", dcam.ErrInvalidParam
}

func (v *Device) Attach(slots [][]uint16) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cfg.AttachErr != nil {
		v.d.record(v.index, "attach", v.cfg.AttachErr)
		return v.cfg.AttachErr
	}
	if v.capturing || v.slots != nil {
		v.d.record(v.index, "attach", dcam.ErrBusy)
		return dcam.ErrBusy
	}
	w, h := v.size()
	if len(slots) == 0 {
		return dcam.ErrInvalidParam
	}
	for _, s := range slots {
		if len(s) < w*h {
			v.d.record(v.index, "attach", dcam.ErrInvalidParam)
			return dcam.ErrInvalidParam
		}
	}
	v.slots = slots
	v.d.record(v.index, "attach", nil)
	return nil
}

func (v *Device) Release() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.capturing {
		v.d.record(v.index, "release", dcam.ErrBusy)
		return dcam.ErrBusy
	}
	if v.waiting > 0 {
		v.d.violation("cam%d: buffer released with %d wait(s) in flight", v.index, v.waiting)
	}
	v.slots = nil
	v.d.record(v.index, "release", v.cfg.ReleaseErr)
	return v.cfg.ReleaseErr
}

func (v *Device) TransferInfo() (dcam.TransferInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cfg.TransferErr != nil {
		v.d.record(v.index, "transfer", v.cfg.TransferErr)
		return dcam.TransferInfo{}, v.cfg.TransferErr
	}
	if v.slots == nil {
		return dcam.TransferInfo{}, dcam.ErrNotReady
	}
	v.d.record(v.index, "transfer", nil)
	return dcam.TransferInfo{NewestIndex: v.newest, FrameCount: v.frames}, nil
}

func (v *Device) OpenWait() (dcam.Waiter, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.slots == nil {
		return nil, dcam.ErrNotReady
	}
	v.d.record(v.index, "waitopen", nil)
	return &waiter{dev: v}, nil
}

func (v *Device) StartCapture() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cfg.StartErr != nil {
		v.d.record(v.index, "start", v.cfg.StartErr)
		return v.cfg.StartErr
	}
	if v.slots == nil {
		return dcam.ErrNotReady
	}
	if v.capturing {
		return dcam.ErrBusy
	}
	v.capturing = true
	v.frames = 0
	v.newest = -1
	v.nextAt = time.Now().Add(v.cfg.Interval)
	v.abort = make(chan struct{})
	v.d.record(v.index, "start", nil)
	return nil
}

func (v *Device) StopCapture() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.capturing {
		v.capturing = false
		close(v.abort)
	}
	v.d.record(v.index, "stop", nil)
	return nil
}

func (v *Device) Close() error {
	v.mu.Lock()
	if v.closed {
		v.d.violation("cam%d: device closed twice", v.index)
		v.mu.Unlock()
		return dcam.ErrInvalidCamera
	}
	if v.slots != nil {
		v.d.violation("cam%d: device closed with buffer attached", v.index)
	}
	if v.capturing {
		v.capturing = false
		close(v.abort)
	}
	v.closed = true
	v.mu.Unlock()
	v.d.closeDevice(v.index)
	return nil
}

// capture writes frame number n into its slot; every sample holds n. Must be
// called with mu held.
func (v *Device) capture() {
	n := v.frames
	slot := n % len(v.slots)
	w, h := v.size()
	s := v.slots[slot][:w*h]
	for i := range s {
		s[i] = uint16(n)
	}
	v.frames++
	v.newest = slot
	v.nextAt = time.Now().Add(v.cfg.Interval)
}

type waiter struct {
	dev    *Device
	closed bool
}

func (w *waiter) Wait(timeout time.Duration) error {
	v := w.dev
	v.mu.Lock()
	if w.closed || !v.capturing {
		v.mu.Unlock()
		return dcam.ErrNotReady
	}
	if v.cfg.WaitErr != nil && v.frames >= v.cfg.FailAfter {
		v.mu.Unlock()
		v.d.record(v.index, "wait", v.cfg.WaitErr)
		return v.cfg.WaitErr
	}
	v.waiting++
	abort := v.abort
	exhausted := v.cfg.Frames >= 0 && v.frames >= v.cfg.Frames
	delay := time.Until(v.nextAt)
	v.mu.Unlock()

	err := w.block(abort, exhausted, delay, timeout)

	v.mu.Lock()
	if err == nil {
		if v.capturing {
			v.capture()
		} else {
			err = dcam.ErrAborted
		}
	}
	v.waiting--
	v.mu.Unlock()
	v.d.record(v.index, "wait", err)
	return err
}

func (w *waiter) block(abort <-chan struct{}, exhausted bool, delay, timeout time.Duration) error {
	var expire <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expire = t.C
	}
	var ready <-chan time.Time
	if !exhausted {
		if delay <= 0 {
			return nil
		}
		t := time.NewTimer(delay)
		defer t.Stop()
		ready = t.C
	}
	select {
	case <-ready:
		return nil
	case <-expire:
		return dcam.ErrTimeout
	case <-abort:
		return dcam.ErrAborted
	}
}

func (w *waiter) Close() error {
	w.dev.mu.Lock()
	w.closed = true
	w.dev.mu.Unlock()
	w.dev.d.record(w.dev.index, "waitclose", nil)
	return nil
}
