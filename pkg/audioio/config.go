// Package audioio provides the duplex audio device used by the voice engine.
//
// A Device owns one capture Source and one playback Sink. Capture is a
// blocking, fixed-size read; playback is a non-blocking enqueue drained in
// FIFO order by a single goroutine.
//
// Backends:
//   - ALSA (Linux/robot) via arecord/aplay
//   - PortAudio (build tag "portaudio") for development machines
//   - RTP (playback only) streaming Opus to a remote speaker
//   - Mock for CI and tests
package audioio

import (
	"errors"
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto selects the best available backend for the platform.
	BackendAuto Backend = "auto"
	// BackendALSA uses the ALSA command line tools.
	BackendALSA Backend = "alsa"
	// BackendPortAudio uses PortAudio for cross-platform audio I/O.
	BackendPortAudio Backend = "portaudio"
	// BackendRTP streams playback as Opus over RTP. Capture is not supported.
	BackendRTP Backend = "rtp"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// DefaultSampleRate is shared by capture, playback and the wire protocol.
const DefaultSampleRate = 24000

// Config holds audio configuration.
type Config struct {
	// Backend selects the capture backend, and the playback backend unless
	// SinkBackend is set.
	Backend Backend `yaml:"backend" json:"backend"`

	// SinkBackend optionally overrides the playback backend (e.g. "rtp").
	SinkBackend Backend `yaml:"sink_backend" json:"sink_backend"`

	// SampleRate is the audio sample rate in Hz.
	// Default: 24000 (required by OpenAI Realtime)
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// BufferDuration is the size of backend read/write buffers.
	// Default: 20ms (480 samples at 24kHz)
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration"`

	// ReadTimeout bounds a single backend read inside Capture. When it
	// expires the frame is zero-padded.
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// Device is the capture device identifier ("default", "plughw:1,0").
	Device string `yaml:"device" json:"device"`

	// SinkDevice is the playback device identifier. For the RTP backend it
	// is the "host:port" destination.
	SinkDevice string `yaml:"sink_device" json:"sink_device"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     DefaultSampleRate,
		BufferDuration: 20 * time.Millisecond,
		ReadTimeout:    500 * time.Millisecond,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate))
	}
	if c.BufferDuration <= 0 {
		errs = append(errs, fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration))
	}
	if c.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("read_timeout must be positive, got %v", c.ReadTimeout))
	}
	if c.Backend == BackendRTP {
		errs = append(errs, errors.New("backend rtp cannot capture; set it as sink_backend"))
	}
	return errors.Join(errs...)
}

// BufferSize returns the number of samples per backend buffer.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes returns the size of a backend buffer in bytes.
func (c *Config) BufferBytes() int {
	return c.BufferSize() * 2
}

// sinkBackend returns the backend used for playback.
func (c *Config) sinkBackend() Backend {
	if c.SinkBackend != "" {
		return c.SinkBackend
	}
	return c.Backend
}

// sinkDevice returns the device used for playback.
func (c *Config) sinkDevice() string {
	if c.SinkDevice != "" {
		return c.SinkDevice
	}
	return c.Device
}
