//go:build !portaudio

package audioio

import (
	"fmt"
	"log/slog"
)

// newPortAudioSource returns an error when built without the portaudio tag.
func newPortAudioSource(cfg Config, logger *slog.Logger) (Source, error) {
	return nil, fmt.Errorf("%w: rebuild with -tags portaudio", ErrUnsupported)
}

// newPortAudioSink returns an error when built without the portaudio tag.
func newPortAudioSink(cfg Config, logger *slog.Logger) (Sink, error) {
	return nil, fmt.Errorf("%w: rebuild with -tags portaudio", ErrUnsupported)
}
