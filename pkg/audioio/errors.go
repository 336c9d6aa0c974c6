package audioio

import (
	"errors"
	"fmt"
)

var (
	// ErrCaptureDisabled is returned when the capture stream failed to open
	// earlier in the process lifetime.
	ErrCaptureDisabled = errors.New("audioio: capture disabled")

	// ErrPlaybackDisabled is returned when the playback stream failed to
	// open earlier in the process lifetime.
	ErrPlaybackDisabled = errors.New("audioio: playback disabled")

	// ErrUnsupported is returned for backends not available in this build.
	ErrUnsupported = errors.New("audioio: backend not supported")
)

// DeviceError reports a failure to open or configure an audio stream.
type DeviceError struct {
	// Op is "capture" or "playback".
	Op      string
	Backend string
	Err     error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audioio: %s device (%s): %v", e.Op, e.Backend, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Is reports the matching disabled sentinel so callers can test with
// errors.Is(err, ErrCaptureDisabled).
func (e *DeviceError) Is(target error) bool {
	switch target {
	case ErrCaptureDisabled:
		return e.Op == "capture"
	case ErrPlaybackDisabled:
		return e.Op == "playback"
	}
	return false
}
