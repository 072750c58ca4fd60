package source

import (
	"fmt"

	"camstream/dcam"
)

// FrameBuffer is a fixed number of equally sized frame slots registered with
// a device, which writes new frames directly into them. While a session runs
// only its acquisition goroutine reads the slots; Release must not be called
// until that goroutine has stopped waiting and copying.
type FrameBuffer struct {
	dev       dcam.Device
	frameSize int
	numFrames int

	// samples is the backing storage for all slots.
	samples  []uint16
	slots    [][]uint16
	released bool
}

// Attach allocates numFrames slots of frameSize bytes and registers them with
// the device.
func Attach(dev dcam.Device, frameSize, numFrames int) (*FrameBuffer, error) {
	if frameSize <= 0 || frameSize%2 != 0 {
		return nil, fmt.Errorf("%w: invalid frame size %d", ErrConfiguration, frameSize)
	}
	if numFrames <= 0 {
		return nil, fmt.Errorf("%w: invalid buffer depth %d", ErrConfiguration, numFrames)
	}
	per := frameSize / 2
	b := &FrameBuffer{
		dev:       dev,
		frameSize: frameSize,
		numFrames: numFrames,
		samples:   make([]uint16, per*numFrames),
		slots:     make([][]uint16, numFrames),
	}
	for i := range b.slots {
		// Cap each slot at its own end so no slot can grow into the next.
		b.slots[i] = b.samples[i*per : (i+1)*per : (i+1)*per]
	}
	if err := dev.Attach(b.slots); err != nil {
		return nil, fmt.Errorf("%w: attach %d x %d byte buffer: %w", ErrConfiguration, numFrames, frameSize, err)
	}
	return b, nil
}

// Len returns the number of slots.
func (b *FrameBuffer) Len() int {
	return b.numFrames
}

// FrameSize returns the size of one slot in bytes.
func (b *FrameBuffer) FrameSize() int {
	return b.frameSize
}

// Slot returns slot i. It panics unless 0 <= i < Len().
func (b *FrameBuffer) Slot(i int) []uint16 {
	if i < 0 || i >= b.numFrames {
		panic(fmt.Sprintf("frame buffer slot %d out of range [0, %d)", i, b.numFrames))
	}
	return b.slots[i]
}

// MostRecent asks the device which slot holds the newest frame and how many
// frames it has captured in total.
func (b *FrameBuffer) MostRecent() (index, count int, err error) {
	ti, err := b.dev.TransferInfo()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: transfer info: %w", ErrAcquisition, err)
	}
	if ti.FrameCount > 0 && (ti.NewestIndex < 0 || ti.NewestIndex >= b.numFrames) {
		return 0, 0, fmt.Errorf("%w: device reported slot %d of %d", ErrAcquisition, ti.NewestIndex, b.numFrames)
	}
	return ti.NewestIndex, ti.FrameCount, nil
}

// Copy returns a copy of slot i that later device writes do not affect.
func (b *FrameBuffer) Copy(i int) []uint16 {
	return append([]uint16(nil), b.Slot(i)...)
}

// OpenWait opens a wait handle for frames landing in this buffer.
func (b *FrameBuffer) OpenWait() (dcam.Waiter, error) {
	w, err := b.dev.OpenWait()
	if err != nil {
		return nil, fmt.Errorf("%w: open wait handle: %w", ErrConfiguration, err)
	}
	return w, nil
}

// Release deregisters the buffer from the device. It panics if called twice.
func (b *FrameBuffer) Release() error {
	if b.released {
		panic("frame buffer already released")
	}
	b.released = true
	return b.dev.Release()
}
