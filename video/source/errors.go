package source

import (
	"errors"
)

// Error kinds. Errors returned by this package wrap exactly one of these, and
// the underlying dcam status when there is one.
var (
	// ErrConnection means the camera could not be opened.
	ErrConnection = errors.New("connection error")
	// ErrConfiguration means a parameter was rejected or the frame buffer
	// could not be attached. It is always returned by Start.
	ErrConfiguration = errors.New("configuration error")
	// ErrAcquisition means waiting for or copying a frame failed mid-session.
	ErrAcquisition = errors.New("acquisition error")
	// ErrDelivery means the destination refused a frame.
	ErrDelivery = errors.New("delivery error")
)

// errorKind returns a short label for metrics.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrAcquisition):
		return "acquisition"
	case errors.Is(err, ErrDelivery):
		return "delivery"
	}
	return "unknown"
}
