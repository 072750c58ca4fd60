package config

import (
	"fmt"
	"image"
	"time"

	log "github.com/sirupsen/logrus"
)

type Config struct {
	// Camera is the API index of the camera to stream from.
	Camera int

	// Simulate streams from the built-in simulated driver instead of
	// hardware. SimFrames < 0 produces frames until stopped.
	Simulate      bool
	SimFrames     int
	SimIntervalMs int

	// Exposure in seconds and subarray size in pixels. Both are clamped to
	// the camera model's limits when a session starts.
	Exposure float64
	Width    int
	Height   int

	BufferFrames  int
	WaitTimeoutMs int

	// PreviewFPS caps the MJPEG preview frame rate; 0 is unlimited.
	PreviewFPS int

	Port     int
	LogLevel string
}

// Default returns the configuration used for fields missing from the file.
func Default() Config {
	return Config{
		Simulate:      true,
		SimFrames:     -1,
		SimIntervalMs: 50,
		Exposure:      0.00999771,
		Width:         2048,
		Height:        2048,
		BufferFrames:  16,
		WaitTimeoutMs: 200,
		PreviewFPS:    10,
		Port:          8080,
		LogLevel:      "info",
	}
}

func (c *Config) Validate() error {
	if c.Camera < 0 {
		return fmt.Errorf("camera index %d is negative", c.Camera)
	}
	if c.Exposure <= 0 {
		return fmt.Errorf("exposure %v must be positive", c.Exposure)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("resolution %dx%d must be positive", c.Width, c.Height)
	}
	if c.BufferFrames <= 0 {
		return fmt.Errorf("buffer of %d frames", c.BufferFrames)
	}
	if c.WaitTimeoutMs <= 0 {
		return fmt.Errorf("wait timeout %dms must be positive", c.WaitTimeoutMs)
	}
	if c.SimIntervalMs < 0 {
		return fmt.Errorf("simulator interval %dms is negative", c.SimIntervalMs)
	}
	if c.PreviewFPS < 0 {
		return fmt.Errorf("preview rate %d is negative", c.PreviewFPS)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}

func (c *Config) Resolution() image.Point {
	return image.Pt(c.Width, c.Height)
}

func (c *Config) WaitTimeout() time.Duration {
	return time.Duration(c.WaitTimeoutMs) * time.Millisecond
}

func (c *Config) SimInterval() time.Duration {
	return time.Duration(c.SimIntervalMs) * time.Millisecond
}
