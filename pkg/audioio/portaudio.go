//go:build portaudio

package audioio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// portaudio.Initialize/Terminate are process-wide; capture and playback
// share one reference count.
var (
	paMu   sync.Mutex
	paRefs int
)

func paAcquire() error {
	paMu.Lock()
	defer paMu.Unlock()

	if paRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("portaudio: initialize: %w", err)
		}
	}
	paRefs++
	return nil
}

func paRelease() {
	paMu.Lock()
	defer paMu.Unlock()

	if paRefs == 0 {
		return
	}
	paRefs--
	if paRefs == 0 {
		_ = portaudio.Terminate()
	}
}

// PortAudioSource captures from the default input device using a blocking
// PortAudio stream.
type PortAudioSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	stream   *portaudio.Stream
	buf      []int16
	streamCh chan Frame
	stopCh   chan struct{}
	done     chan struct{}

	chunksRead atomic.Int64
	overruns   atomic.Int64
}

func newPortAudioSource(cfg Config, logger *slog.Logger) (Source, error) {
	return &PortAudioSource{
		cfg:    cfg,
		logger: logger.With("component", "audioio.portaudio", "stream", "capture"),
	}, nil
}

// Start opens the default input stream.
func (s *PortAudioSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	if err := paAcquire(); err != nil {
		return err
	}

	s.buf = make([]int16, s.cfg.BufferSize())
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(s.cfg.SampleRate), len(s.buf), s.buf)
	if err != nil {
		paRelease()
		return fmt.Errorf("portaudio: open input: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		paRelease()
		return fmt.Errorf("portaudio: start input: %w", err)
	}

	s.stream = stream
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.streamCh = make(chan Frame, 10)

	go s.captureLoop(stream, s.stopCh, s.done, s.streamCh)

	s.logger.Info("PortAudio capture started", "sample_rate", s.cfg.SampleRate)
	return nil
}

func (s *PortAudioSource) captureLoop(stream *portaudio.Stream, stopCh, done chan struct{}, out chan Frame) {
	defer close(done)
	defer close(out)

	for {
		err := stream.Read()
		select {
		case <-stopCh:
			return
		default:
		}
		if err != nil && !errors.Is(err, portaudio.InputOverflowed) {
			s.logger.Warn("PortAudio capture ended", "error", err)
			return
		}
		if err != nil {
			s.overruns.Add(1)
		}

		samples := make([]int16, len(s.buf))
		copy(samples, s.buf)

		select {
		case out <- Frame{Samples: samples, SampleRate: s.cfg.SampleRate}:
			s.chunksRead.Add(1)
		default:
			s.overruns.Add(1)
		}
	}
}

// Stop aborts the stream and waits for the reader goroutine.
func (s *PortAudioSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	close(s.stopCh)

	abortErr := s.stream.Abort()
	<-s.done
	closeErr := s.stream.Close()
	s.stream = nil
	paRelease()

	return errors.Join(abortErr, closeErr)
}

// Read returns the next captured chunk.
func (s *PortAudioSource) Read(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	ch := s.streamCh
	s.mu.Unlock()

	if ch == nil {
		return Frame{}, io.EOF
	}

	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case f, ok := <-ch:
		if !ok {
			return Frame{}, io.EOF
		}
		return f, nil
	}
}

// Config returns the audio configuration.
func (s *PortAudioSource) Config() Config { return s.cfg }

// Name returns "portaudio".
func (s *PortAudioSource) Name() string { return "portaudio" }

// Close stops capture and prevents restarts.
func (s *PortAudioSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// PortAudioSink plays to the default output device.
type PortAudioSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	stream  *portaudio.Stream
	buf     []int16

	chunksWritten atomic.Int64
}

func newPortAudioSink(cfg Config, logger *slog.Logger) (Sink, error) {
	return &PortAudioSink{
		cfg:    cfg,
		logger: logger.With("component", "audioio.portaudio", "stream", "playback"),
	}, nil
}

// Start opens the default output stream.
func (s *PortAudioSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	if err := paAcquire(); err != nil {
		return err
	}

	s.buf = make([]int16, s.cfg.BufferSize())
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(s.cfg.SampleRate), len(s.buf), s.buf)
	if err != nil {
		paRelease()
		return fmt.Errorf("portaudio: open output: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		paRelease()
		return fmt.Errorf("portaudio: start output: %w", err)
	}

	s.stream = stream
	s.running = true
	s.logger.Info("PortAudio playback started", "sample_rate", s.cfg.SampleRate)
	return nil
}

// Write plays a frame in buffer-sized pieces, zero-padding the last one.
func (s *PortAudioSink) Write(ctx context.Context, frame Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return io.ErrClosedPipe
	}

	samples := frame.Samples
	for len(samples) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(s.buf, samples)
		clear(s.buf[n:])
		samples = samples[n:]

		if err := s.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return fmt.Errorf("portaudio: write: %w", err)
		}
	}
	s.chunksWritten.Add(1)
	return nil
}

// Stop drains and closes the output stream.
func (s *PortAudioSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	stopErr := s.stream.Stop()
	closeErr := s.stream.Close()
	s.stream = nil
	paRelease()

	return errors.Join(stopErr, closeErr)
}

// Config returns the audio configuration.
func (s *PortAudioSink) Config() Config { return s.cfg }

// Name returns "portaudio".
func (s *PortAudioSink) Name() string { return "portaudio" }

// Close stops playback and prevents restarts.
func (s *PortAudioSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}
