package audioio

import (
	"context"
	"io"
	"time"
)

// Frame is a buffer of signed 16-bit mono PCM samples.
type Frame struct {
	// Samples contains PCM16 audio samples.
	Samples []int16

	// SampleRate is the sample rate of this frame.
	SampleRate int
}

// Bytes returns the little-endian PCM16 encoding of the frame.
func (f Frame) Bytes() []byte {
	return SamplesToBytes(f.Samples)
}

// FrameFromBytes decodes little-endian PCM16 bytes. A trailing odd byte is
// dropped.
func FrameFromBytes(data []byte, sampleRate int) Frame {
	return Frame{
		Samples:    BytesToSamples(data),
		SampleRate: sampleRate,
	}
}

// Len returns the number of samples in the frame.
func (f Frame) Len() int {
	return len(f.Samples)
}

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Source captures audio from a microphone or other input device.
type Source interface {
	// Start begins audio capture. Calling Start on a running source is a
	// no-op.
	Start(ctx context.Context) error

	// Stop halts audio capture.
	// It is safe to call Stop multiple times.
	Stop() error

	// Read returns the next chunk of captured audio, blocking until one is
	// available. Returns io.EOF when the source is stopped.
	Read(ctx context.Context) (Frame, error)

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name (e.g., "alsa", "portaudio", "mock").
	Name() string

	// Close releases all resources.
	// After Close, the source cannot be restarted.
	io.Closer
}

// SourceStats contains statistics about the audio source.
type SourceStats struct {
	ChunksRead  int64  `json:"chunks_read"`
	SamplesRead int64  `json:"samples_read"`
	Overruns    int64  `json:"overruns"`
	Running     bool   `json:"running"`
	Backend     string `json:"backend"`
}

// SourceWithStats extends Source with statistics.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}
