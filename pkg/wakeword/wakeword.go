// Package wakeword gates conversations behind a spoken keyword.
//
// A Detector pulls fixed-size frames from the audio device, resamples them
// to the rate the keyword classifier expects and feeds them to a
// Classifier until one reports a detection. The acoustic model itself lives
// behind the Classifier interface; CommandClassifier runs it as a helper
// process.
package wakeword

import (
	"context"
	"errors"
	"time"

	"github.com/teslashibe/go-deskman/pkg/audioio"
)

// DefaultSensitivity is used for keywords without an explicit sensitivity.
const DefaultSensitivity = 0.5

var (
	// ErrUnavailable is returned by Listen when the classifier failed to
	// initialize.
	ErrUnavailable = errors.New("wakeword: detector unavailable")

	// ErrListening is returned when Listen is called while another Listen
	// is in progress.
	ErrListening = errors.New("wakeword: already listening")
)

// Result is the outcome of a Listen call.
type Result int

const (
	// Cancelled means Listen stopped before a keyword was heard.
	Cancelled Result = iota
	// Detected means a keyword was heard.
	Detected
)

func (r Result) String() string {
	switch r {
	case Detected:
		return "detected"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Event describes a completed Listen call.
type Event struct {
	Result    Result
	Keyword   int
	Name      string
	Timestamp time.Time
}

// Classifier scores one frame of audio at a time.
type Classifier interface {
	// Process consumes exactly FrameLength samples and reports whether a
	// keyword was heard, and which one.
	Process(pcm []int16) (keyword int, detected bool, err error)

	// FrameLength is the number of samples Process expects.
	FrameLength() int

	// SampleRate is the rate Process expects, in Hz.
	SampleRate() int

	Close() error
}

// FrameSource supplies captured audio. *audioio.Device implements it.
type FrameSource interface {
	Capture(ctx context.Context, n int) (audioio.Frame, error)
}

var _ FrameSource = (*audioio.Device)(nil)
