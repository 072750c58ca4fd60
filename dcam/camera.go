package dcam

import (
	"fmt"
	"image"

	log "github.com/sirupsen/logrus"
)

// Camera pairs an open device with the limits of its model.
type Camera struct {
	Device
	Model Model

	index int
}

// Open opens camera index on the driver.
func Open(d Driver, index int, m Model) (*Camera, error) {
	if index < 0 || index >= d.Count() {
		return nil, fmt.Errorf("camera index %d out of range (%d cameras): %w", index, d.Count(), ErrInvalidCamera)
	}
	dev, err := d.Open(index)
	if err != nil {
		return nil, err
	}
	log.WithField("camera", index).Debugf("Opened %s", m.Name)
	return &Camera{Device: dev, Model: m, index: index}, nil
}

// Index returns the API index the camera was opened with.
func (c *Camera) Index() int {
	return c.index
}

func (c *Camera) Exposure() (float64, error) {
	return c.Property(PropExposureTime)
}

// SetExposure clamps exposure to the model limits, applies it and returns the
// value that was set.
func (c *Camera) SetExposure(exposure float64) (float64, error) {
	v := c.Model.ClampExposure(exposure)
	if err := c.SetProperty(PropExposureTime, v); err != nil {
		return 0, fmt.Errorf("set %v to %v: %w", PropExposureTime, v, err)
	}
	if v != exposure {
		log.WithField("camera", c.index).Debugf("Exposure %v adjusted to %v", exposure, v)
	}
	return v, nil
}

// Resolution returns the current image size.
func (c *Camera) Resolution() (image.Point, error) {
	w, err := c.Property(PropImageWidth)
	if err != nil {
		return image.Point{}, err
	}
	h, err := c.Property(PropImageHeight)
	if err != nil {
		return image.Point{}, err
	}
	return image.Point{X: int(w), Y: int(h)}, nil
}

// SetResolution enables subarray mode and applies the clamped size. It
// returns the size that was applied.
func (c *Camera) SetResolution(res image.Point) (image.Point, error) {
	size := c.Model.ClampResolution(res)
	// Subarray sizes are ignored unless the mode is on.
	if err := c.SetProperty(PropSubarrayMode, ModeOn); err != nil {
		return image.Point{}, fmt.Errorf("set %v: %w", PropSubarrayMode, err)
	}
	if err := c.SetProperty(PropSubarrayHSize, float64(size.X)); err != nil {
		return image.Point{}, fmt.Errorf("set %v to %d: %w", PropSubarrayHSize, size.X, err)
	}
	if err := c.SetProperty(PropSubarrayVSize, float64(size.Y)); err != nil {
		return image.Point{}, fmt.Errorf("set %v to %d: %w", PropSubarrayVSize, size.Y, err)
	}
	return size, nil
}

// FrameBytes returns the size of one frame with the current settings.
func (c *Camera) FrameBytes() (int, error) {
	v, err := c.Property(PropFrameBytes)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

func (c *Camera) ModelName() (string, error) {
	return c.String(StrModel)
}

func (c *Camera) SerialNumber() (string, error) {
	return c.String(StrCameraID)
}

func (c *Camera) APIVersion() (string, error) {
	return c.String(StrAPIVersion)
}
