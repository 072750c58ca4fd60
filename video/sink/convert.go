package sink

import (
	"fmt"

	"gocv.io/x/gocv"

	"camstream/video/source"
)

// leBytes lays samples out as little-endian bytes, the in-memory layout of a
// CV_16UC1 Mat.
func leBytes(samples []uint16) []byte {
	b := make([]byte, 2*len(samples))
	for i, v := range samples {
		b[2*i] = byte(v)
		b[2*i+1] = byte(v >> 8)
	}
	return b
}

// toMat8 converts a mono16 image to an 8-bit single channel Mat. The caller
// closes it.
func toMat8(img source.Image, autoContrast bool) (gocv.Mat, error) {
	if img.Format != source.Mono16 {
		return gocv.Mat{}, fmt.Errorf("unsupported pixel format %v", img.Format)
	}
	if img.Width*img.Height != len(img.Samples) || len(img.Samples) == 0 {
		return gocv.Mat{}, fmt.Errorf("%dx%d image with %d samples", img.Width, img.Height, len(img.Samples))
	}
	src, err := gocv.NewMatFromBytes(img.Height, img.Width, gocv.MatTypeCV16UC1, leBytes(img.Samples))
	if err != nil {
		return gocv.Mat{}, err
	}
	defer src.Close()

	if autoContrast {
		gocv.Normalize(src, &src, 0, 65535, gocv.NormMinMax)
	}
	dst := gocv.NewMat()
	src.ConvertToWithParams(&dst, gocv.MatTypeCV8UC1, 1.0/256, 0)
	return dst, nil
}
