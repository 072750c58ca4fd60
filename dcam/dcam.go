// Package dcam describes what the streaming core needs from a vendor camera
// API. Hardware bindings and the simulator in dcam/sim both implement these
// interfaces.
package dcam

import (
	"time"
)

// Property identifies a numeric device property.
type Property int32

const (
	PropExposureTime Property = iota + 1
	PropImageWidth
	PropImageHeight
	PropFrameBytes
	PropSubarrayMode
	PropSubarrayHSize
	PropSubarrayVSize
)

func (p Property) String() string {
	switch p {
	case PropExposureTime:
		return "EXPOSURETIME"
	case PropImageWidth:
		return "IMAGE_WIDTH"
	case PropImageHeight:
		return "IMAGE_HEIGHT"
	case PropFrameBytes:
		return "BUFFER_FRAMEBYTES"
	case PropSubarrayMode:
		return "SUBARRAYMODE"
	case PropSubarrayHSize:
		return "SUBARRAYHSIZE"
	case PropSubarrayVSize:
		return "SUBARRAYVSIZE"
	}
	return "UNKNOWN"
}

// Values for PropSubarrayMode.
const (
	ModeOff = 1.0
	ModeOn  = 2.0
)

// StringID identifies a device information string.
type StringID int32

const (
	StrModel StringID = iota + 1
	StrCameraID
	StrAPIVersion
)

// TransferInfo reports the slot holding the newest completed frame and the
// number of frames captured since capture started.
type TransferInfo struct {
	NewestIndex int
	FrameCount  int
}

// Driver is a connection to the vendor API.
type Driver interface {
	// Count returns the number of cameras the API detected.
	Count() int

	// Open returns an exclusive handle to camera index. Opening a camera that
	// is already open fails with ErrBusy.
	Open(index int) (Device, error)

	// Close uninitializes the API.
	Close() error
}

// Device is an open camera. It is not safe for concurrent use; exactly one
// goroutine owns it at a time.
type Device interface {
	Property(id Property) (float64, error)
	SetProperty(id Property, value float64) error
	String(id StringID) (string, error)

	// Attach registers the slots the device writes frames into. Each slot
	// must stay valid until Release returns.
	Attach(slots [][]uint16) error
	// Release deregisters the slots given to Attach.
	Release() error

	TransferInfo() (TransferInfo, error)

	// OpenWait returns a handle for waiting on frame events. A buffer must be
	// attached first.
	OpenWait() (Waiter, error)

	StartCapture() error
	StopCapture() error

	// Close releases the device. It must be the last call on the handle.
	Close() error
}

// Waiter blocks until the device signals that a frame landed in the attached
// buffer.
type Waiter interface {
	// Wait returns nil once a new frame is ready, ErrTimeout if timeout
	// elapses first and ErrAborted if capture stops. A timeout <= 0 waits
	// without a bound.
	Wait(timeout time.Duration) error
	Close() error
}
