package source

import (
	"fmt"
	"time"
)

// PixelFormat describes the layout of Image samples.
type PixelFormat int

const (
	// Mono16 is one unsigned 16-bit sample per pixel.
	Mono16 PixelFormat = iota
)

func (p PixelFormat) String() string {
	switch p {
	case Mono16:
		return "mono16"
	}
	return "unknown"
}

// Image is a decoded frame, row major.
type Image struct {
	Format  PixelFormat
	Width   int
	Height  int
	Samples []uint16
}

// At returns the sample at (x, y).
func (i Image) At(x, y int) uint16 {
	return i.Samples[y*i.Width+x]
}

// Clone returns a copy of i that shares no samples with it.
func (i Image) Clone() Image {
	i.Samples = append([]uint16(nil), i.Samples...)
	return i
}

// Frame is one image delivered by a Stream. The receiver owns it.
type Frame struct {
	// Seq is the number of frames the device had captured when this one was
	// copied, starting at 1.
	Seq uint64
	// Timestamp is the time since the stream started.
	Timestamp time.Duration
	Image     Image
}

// decode wraps raw slot samples as a width x height image. Slots may carry
// trailing padding, which is dropped.
func decode(samples []uint16, width, height int) (Image, error) {
	n := width * height
	if width <= 0 || height <= 0 || len(samples) < n {
		return Image{}, fmt.Errorf("%w: %d samples do not hold a %dx%d image", ErrAcquisition, len(samples), width, height)
	}
	return Image{
		Format:  Mono16,
		Width:   width,
		Height:  height,
		Samples: samples[:n:n],
	}, nil
}
