package dcam

import (
	"image"
	"math"
)

// Model holds the property limits of one camera model. Values requested by
// callers are clamped to these limits before they reach the device.
type Model struct {
	Name string

	// Exposure limits in seconds. Accepted exposures are ExposureMin plus a
	// whole number of ExposureStep.
	ExposureMin, ExposureMax, ExposureStep float64
	DefaultExposure                        float64

	// Subarray size limits in pixels, per dimension. Sizes are multiples of
	// SizeStep.
	SizeMin, SizeMax, SizeStep int
	DefaultSize                int
}

// C11440_22CU is the ORCA-Flash4.0 LT.
var C11440_22CU = Model{
	Name:            "C11440-22CU",
	ExposureMin:     0.001003669,
	ExposureMax:     10.0,
	ExposureStep:    0.00000001,
	DefaultExposure: 0.00999771,
	SizeMin:         4,
	SizeMax:         2044,
	SizeStep:        4,
	DefaultSize:     2048,
}

// ClampExposure returns the exposure the device will accept for the requested
// value: out-of-range requests yield the nearest limit, in-range requests are
// rounded to the nearest step above the minimum.
func (m Model) ClampExposure(exposure float64) float64 {
	if exposure <= m.ExposureMin || math.IsNaN(exposure) {
		return m.ExposureMin
	}
	if exposure >= m.ExposureMax {
		return m.ExposureMax
	}
	if m.ExposureStep <= 0 {
		return exposure
	}
	steps := math.Round((exposure - m.ExposureMin) / m.ExposureStep)
	v := m.ExposureMin + steps*m.ExposureStep
	if v > m.ExposureMax {
		v = m.ExposureMax
	}
	return v
}

// ClampSize clamps one subarray dimension and rounds it down to SizeStep.
func (m Model) ClampSize(size int) int {
	if size < m.SizeMin {
		size = m.SizeMin
	}
	if size > m.SizeMax {
		size = m.SizeMax
	}
	if m.SizeStep > 1 {
		size = size / m.SizeStep * m.SizeStep
	}
	return size
}

// ClampResolution applies ClampSize to both dimensions.
func (m Model) ClampResolution(res image.Point) image.Point {
	return image.Point{X: m.ClampSize(res.X), Y: m.ClampSize(res.Y)}
}
