//go:build linux

package audioio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
)

// ALSASource captures audio through the ALSA arecord tool, reading raw
// S16_LE mono PCM from its stdout.
type ALSASource struct {
	cfg    Config
	logger *slog.Logger
	device string

	mu       sync.Mutex
	running  bool
	closed   bool
	cmd      *exec.Cmd
	streamCh chan Frame
	stopCh   chan struct{}

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// newALSASource creates a new ALSA audio source.
func newALSASource(cfg Config, logger *slog.Logger) (Source, error) {
	if _, err := exec.LookPath("arecord"); err != nil {
		return nil, fmt.Errorf("alsa: arecord not found: %w", err)
	}

	device := cfg.Device
	if device == "" {
		device = "default"
	}

	return &ALSASource{
		cfg:    cfg,
		logger: logger.With("component", "audioio.alsa", "stream", "capture"),
		device: device,
	}, nil
}

func alsaArgs(device string, sampleRate int) []string {
	return []string{
		"-q",
		"-D", device,
		"-t", "raw",
		"-f", "S16_LE",
		"-r", strconv.Itoa(sampleRate),
		"-c", "1",
	}
}

// Start launches arecord and the reader goroutine.
func (s *ALSASource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	cmd := exec.CommandContext(ctx, "arecord", alsaArgs(s.device, s.cfg.SampleRate)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("alsa: capture pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("alsa: start arecord: %w", err)
	}

	s.cmd = cmd
	s.running = true
	s.stopCh = make(chan struct{})
	s.streamCh = make(chan Frame, 10)

	go s.captureLoop(bufio.NewReaderSize(stdout, s.cfg.BufferBytes()*4), s.stopCh, s.streamCh)

	s.logger.Info("ALSA capture started", "device", s.device, "sample_rate", s.cfg.SampleRate)
	return nil
}

func (s *ALSASource) captureLoop(r io.Reader, stopCh chan struct{}, out chan Frame) {
	defer close(out)

	buf := make([]byte, s.cfg.BufferBytes())
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			select {
			case <-stopCh:
			default:
				s.logger.Warn("ALSA capture ended", "error", err)
			}
			return
		}

		chunk := FrameFromBytes(buf, s.cfg.SampleRate)
		select {
		case out <- chunk:
			s.chunksRead.Add(1)
			s.samplesRead.Add(int64(len(chunk.Samples)))
		case <-stopCh:
			return
		default:
			s.overruns.Add(1)
		}
	}
}

// Stop terminates arecord.
func (s *ALSASource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	close(s.stopCh)

	return stopCommand(s.cmd)
}

// Read returns the next captured chunk.
func (s *ALSASource) Read(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	ch := s.streamCh
	s.mu.Unlock()

	if ch == nil {
		return Frame{}, io.EOF
	}

	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case chunk, ok := <-ch:
		if !ok {
			return Frame{}, io.EOF
		}
		return chunk, nil
	}
}

// Config returns the audio configuration.
func (s *ALSASource) Config() Config { return s.cfg }

// Name returns "alsa".
func (s *ALSASource) Name() string { return "alsa" }

// Close stops capture and prevents restarts.
func (s *ALSASource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns source statistics.
func (s *ALSASource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     "alsa",
	}
}

var _ SourceWithStats = (*ALSASource)(nil)

// ALSASink plays audio by piping raw PCM into aplay.
type ALSASink struct {
	cfg    Config
	logger *slog.Logger
	device string

	mu      sync.Mutex
	running bool
	closed  bool
	cmd     *exec.Cmd
	stdin   io.WriteCloser

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
}

// newALSASink creates a new ALSA audio sink.
func newALSASink(cfg Config, logger *slog.Logger) (Sink, error) {
	if _, err := exec.LookPath("aplay"); err != nil {
		return nil, fmt.Errorf("alsa: aplay not found: %w", err)
	}

	device := cfg.sinkDevice()
	if device == "" {
		device = "default"
	}

	return &ALSASink{
		cfg:    cfg,
		logger: logger.With("component", "audioio.alsa", "stream", "playback"),
		device: device,
	}, nil
}

// Start launches aplay.
func (s *ALSASink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	cmd := exec.CommandContext(ctx, "aplay", alsaArgs(s.device, s.cfg.SampleRate)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("alsa: playback pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("alsa: start aplay: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.running = true

	s.logger.Info("ALSA playback started", "device", s.device, "sample_rate", s.cfg.SampleRate)
	return nil
}

// Write pipes a frame into aplay. The pipe applies device backpressure.
func (s *ALSASink) Write(ctx context.Context, frame Frame) error {
	s.mu.Lock()
	stdin := s.stdin
	running := s.running
	s.mu.Unlock()

	if !running || stdin == nil {
		return io.ErrClosedPipe
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := stdin.Write(frame.Bytes()); err != nil {
		return fmt.Errorf("alsa: write: %w", err)
	}
	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(frame.Samples)))
	return nil
}

// Stop closes aplay's stdin and waits for it to finish playing.
func (s *ALSASink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	closeErr := s.stdin.Close()
	waitErr := s.cmd.Wait()
	s.stdin = nil
	s.cmd = nil

	return errors.Join(closeErr, ignoreExit(waitErr))
}

// Config returns the audio configuration.
func (s *ALSASink) Config() Config { return s.cfg }

// Name returns "alsa".
func (s *ALSASink) Name() string { return "alsa" }

// Close stops playback and prevents restarts.
func (s *ALSASink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns sink statistics.
func (s *ALSASink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SinkStats{
		ChunksWritten:  s.chunksWritten.Load(),
		SamplesWritten: s.samplesWritten.Load(),
		Running:        running,
		Backend:        "alsa",
	}
}

var _ SinkWithStats = (*ALSASink)(nil)

// stopCommand kills a running capture process and reaps it.
func stopCommand(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	_ = cmd.Process.Kill()
	return ignoreExit(cmd.Wait())
}

// ignoreExit drops the error a killed or closed child reports on exit.
func ignoreExit(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
