package dcam

import "fmt"

// Status is a vendor API result code. Every failing call returns one, so
// callers can match on the sentinels below with errors.Is.
type Status int32

const (
	StatusSuccess       Status = 1
	StatusBusy          Status = -0x7FFFFFFF
	StatusNotReady      Status = -0x7FFFFFFD
	StatusNotStable     Status = -0x7FFFFFFC
	StatusTimeout       Status = -0x7FFFFFFA
	StatusAborted       Status = -0x7FFFFFF9
	StatusInvalidCamera Status = -0x7FFFF7FF
	StatusInvalidValue  Status = -0x7FFFF7FE
	StatusInvalidParam  Status = -0x7FFFF7FC
	StatusNoMemory      Status = -0x7FFFFEFF
	StatusFailOpen      Status = -0x7FFFEFED
)

var (
	ErrBusy          error = StatusBusy
	ErrNotReady      error = StatusNotReady
	ErrNotStable     error = StatusNotStable
	ErrTimeout       error = StatusTimeout
	ErrAborted       error = StatusAborted
	ErrInvalidCamera error = StatusInvalidCamera
	ErrInvalidValue  error = StatusInvalidValue
	ErrInvalidParam  error = StatusInvalidParam
	ErrNoMemory      error = StatusNoMemory
	ErrFailOpen      error = StatusFailOpen
)

func (s Status) Error() string {
	switch s {
	case StatusSuccess:
		return "dcam: success"
	case StatusBusy:
		return "dcam: device busy"
	case StatusNotReady:
		return "dcam: not ready"
	case StatusNotStable:
		return "dcam: not stable"
	case StatusTimeout:
		return "dcam: timeout"
	case StatusAborted:
		return "dcam: aborted"
	case StatusInvalidCamera:
		return "dcam: invalid camera"
	case StatusInvalidValue:
		return "dcam: invalid value"
	case StatusInvalidParam:
		return "dcam: invalid parameter"
	case StatusNoMemory:
		return "dcam: out of memory"
	case StatusFailOpen:
		return "dcam: failed to open device"
	}
	return fmt.Sprintf("dcam: error code %#x", uint32(s))
}
