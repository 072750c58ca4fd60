package source

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"camstream/dcam"
)

// DefaultWaitTimeout bounds how long a stop request can go unnoticed while the
// loop waits for a frame.
const DefaultWaitTimeout = 200 * time.Millisecond

// DefaultBufferFrames is the number of frame slots registered with the device.
const DefaultBufferFrames = 16

// Params are the settings applied when a session starts.
type Params struct {
	Camera       int
	Exposure     float64
	Resolution   image.Point
	BufferFrames int
	WaitTimeout  time.Duration
}

// DefaultParams returns the power-on settings of model m for camera 0.
func DefaultParams(m dcam.Model) Params {
	return Params{
		Exposure:     m.DefaultExposure,
		Resolution:   image.Pt(m.DefaultSize, m.DefaultSize),
		BufferFrames: DefaultBufferFrames,
		WaitTimeout:  DefaultWaitTimeout,
	}
}

// Info identifies a camera.
type Info struct {
	Model      string
	Serial     string
	APIVersion string
}

// Source starts streaming sessions on one camera. Setters only change the
// parameters used by the next Start.
type Source struct {
	driver dcam.Driver
	model  dcam.Model

	mu     sync.Mutex
	params Params
}

func NewSource(driver dcam.Driver, model dcam.Model, params Params) *Source {
	return &Source{
		driver: driver,
		model:  model,
		params: params,
	}
}

func (s *Source) Model() dcam.Model {
	return s.model
}

// Params returns a copy of the pending parameters.
func (s *Source) Params() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// SetParams replaces all pending parameters.
func (s *Source) SetParams(p Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = p
}

func (s *Source) SetCamera(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params.Camera = index
}

func (s *Source) Camera() int {
	return s.Params().Camera
}

// SetExposure sets the requested exposure in seconds. It is clamped to the
// model limits when the session starts.
func (s *Source) SetExposure(exposure float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params.Exposure = exposure
}

func (s *Source) Exposure() float64 {
	return s.Params().Exposure
}

// SetResolution sets the requested subarray size. It is clamped to the model
// limits when the session starts.
func (s *Source) SetResolution(res image.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params.Resolution = res
}

func (s *Source) Resolution() image.Point {
	return s.Params().Resolution
}

func (s *Source) SetBufferFrames(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params.BufferFrames = n
}

func (s *Source) BufferFrames() int {
	return s.Params().BufferFrames
}

func (s *Source) SetWaitTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params.WaitTimeout = d
}

func (s *Source) WaitTimeout() time.Duration {
	return s.Params().WaitTimeout
}

// Describe opens the camera long enough to read its identification strings.
func (s *Source) Describe() (Info, error) {
	idx := s.Camera()
	cam, err := dcam.Open(s.driver, idx, s.model)
	if err != nil {
		return Info{}, fmt.Errorf("%w: open camera %d: %w", ErrConnection, idx, err)
	}
	defer cam.Close()

	var info Info
	if info.Model, err = cam.ModelName(); err != nil {
		return Info{}, fmt.Errorf("%w: model name: %w", ErrConnection, err)
	}
	if info.Serial, err = cam.SerialNumber(); err != nil {
		return Info{}, fmt.Errorf("%w: serial number: %w", ErrConnection, err)
	}
	if info.APIVersion, err = cam.APIVersion(); err != nil {
		return Info{}, fmt.Errorf("%w: API version: %w", ErrConnection, err)
	}
	return info, nil
}

// Start configures the camera and spawns the acquisition goroutine, which
// delivers frames to dest until the returned Stream is stopped or ctx is
// done. Configuration errors are returned here, with the device closed again.
func (s *Source) Start(ctx context.Context, dest Destination) (*Stream, error) {
	if dest == nil {
		return nil, fmt.Errorf("%w: nil destination", ErrConfiguration)
	}
	p := s.Params()
	if p.BufferFrames <= 0 {
		return nil, fmt.Errorf("%w: buffer depth %d", ErrConfiguration, p.BufferFrames)
	}

	id := uuid.NewString()
	logger := log.WithFields(log.Fields{"session": id, "camera": p.Camera})

	cam, err := dcam.Open(s.driver, p.Camera, s.model)
	if err != nil {
		return nil, fmt.Errorf("%w: open camera %d: %w", ErrConnection, p.Camera, err)
	}
	sess, settings, err := configure(cam, p, logger)
	if err != nil {
		if cerr := cam.Close(); cerr != nil {
			logger.Warnf("Failed to close camera: %v", cerr)
		}
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	st := newStream(id, settings, cancel)
	sess.stream = st
	sess.ctx = ctx
	sess.log = logger
	sess.dest = dest
	sess.start = time.Now()

	logger.Infof("Capture started: exposure %v, %dx%d, %d frame buffer",
		settings.Exposure, settings.Resolution.X, settings.Resolution.Y, settings.BufferFrames)
	go sess.run()
	return st, nil
}

// configure applies p to an open camera, registers the frame buffer and starts
// capture. On failure everything but the camera itself is undone.
func configure(cam *dcam.Camera, p Params, logger *log.Entry) (*session, Settings, error) {
	exposure, err := cam.SetExposure(p.Exposure)
	if err != nil {
		return nil, Settings{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if _, err := cam.SetResolution(p.Resolution); err != nil {
		return nil, Settings{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	// The device has the final say on the image size.
	res, err := cam.Resolution()
	if err != nil {
		return nil, Settings{}, fmt.Errorf("%w: read resolution: %w", ErrConfiguration, err)
	}
	frameBytes, err := cam.FrameBytes()
	if err != nil {
		return nil, Settings{}, fmt.Errorf("%w: read frame bytes: %w", ErrConfiguration, err)
	}

	buf, err := Attach(cam, frameBytes, p.BufferFrames)
	if err != nil {
		return nil, Settings{}, err
	}
	wait, err := buf.OpenWait()
	if err != nil {
		if rerr := buf.Release(); rerr != nil {
			logger.Warnf("Failed to release frame buffer: %v", rerr)
		}
		return nil, Settings{}, err
	}
	if err := cam.StartCapture(); err != nil {
		if cerr := wait.Close(); cerr != nil {
			logger.Warnf("Failed to close wait handle: %v", cerr)
		}
		if rerr := buf.Release(); rerr != nil {
			logger.Warnf("Failed to release frame buffer: %v", rerr)
		}
		return nil, Settings{}, fmt.Errorf("%w: start capture: %w", ErrConfiguration, err)
	}

	settings := Settings{
		Camera:       cam.Index(),
		Exposure:     exposure,
		Resolution:   res,
		FrameBytes:   frameBytes,
		BufferFrames: p.BufferFrames,
		WaitTimeout:  p.WaitTimeout,
	}
	return &session{cam: cam, buf: buf, wait: wait}, settings, nil
}
