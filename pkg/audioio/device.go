package audioio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Device is a duplex audio device: a blocking fixed-size capture path and
// a non-blocking playback path drained by one goroutine.
//
// Capture is meant for a single caller (the conversation control loop).
// EnqueuePlayback is safe from any goroutine.
type Device struct {
	cfg    Config
	logger *slog.Logger
	source Source
	sink   Sink

	ctx    context.Context
	cancel context.CancelFunc

	// capture stream state
	stateMu        sync.Mutex
	captureRunning bool
	captureErr     error

	// readMu serializes Capture calls and guards pending
	readMu  sync.Mutex
	pending []int16

	queue            *PlaybackQueue
	playMu           sync.Mutex
	playing          bool
	playDone         chan struct{}
	playbackErr      error
	playbackDisabled atomic.Bool

	capturedFrames atomic.Int64
	underruns      atomic.Int64
	playedFrames   atomic.Int64
	droppedFrames  atomic.Int64
}

// DeviceStats is a snapshot of device counters.
type DeviceStats struct {
	CapturedFrames  int64 `json:"captured_frames"`
	Underruns       int64 `json:"underruns"`
	PlayedFrames    int64 `json:"played_frames"`
	DroppedFrames   int64 `json:"dropped_frames"`
	QueuedFrames    int   `json:"queued_frames"`
	CaptureEnabled  bool  `json:"capture_enabled"`
	PlaybackEnabled bool  `json:"playback_enabled"`
	PlaybackRunning bool  `json:"playback_running"`
	CaptureRunning  bool  `json:"capture_running"`
}

// NewDevice wraps an already constructed source and sink. A nil source or
// sink leaves the matching capability disabled.
func NewDevice(cfg Config, source Source, sink Sink, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	d := &Device{
		cfg:    cfg,
		logger: logger.With("component", "audioio.device"),
		source: source,
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
		queue:  NewPlaybackQueue(),
	}
	if source == nil {
		d.captureErr = &DeviceError{Op: "capture", Backend: string(cfg.Backend), Err: errors.New("no capture source")}
	}
	if sink == nil {
		d.playbackErr = &DeviceError{Op: "playback", Backend: string(cfg.sinkBackend()), Err: errors.New("no playback sink")}
		d.playbackDisabled.Store(true)
	}
	return d
}

// OpenDevice builds the configured backends and wraps them in a Device.
//
// A backend that cannot be created does not fail the call: the device is
// returned with that capability disabled, together with the DeviceError
// describing it, so the caller can report it once and degrade.
func OpenDevice(cfg Config, logger *slog.Logger) (*Device, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var errs []error
	src, err := NewSource(cfg, logger)
	if err != nil {
		errs = append(errs, &DeviceError{Op: "capture", Backend: string(cfg.Backend), Err: err})
		src = nil
	}
	sink, err := NewSink(cfg, logger)
	if err != nil {
		errs = append(errs, &DeviceError{Op: "playback", Backend: string(cfg.sinkBackend()), Err: err})
		sink = nil
	}

	d := NewDevice(cfg, src, sink, logger)
	for _, e := range errs {
		var de *DeviceError
		if errors.As(e, &de) {
			if de.Op == "capture" {
				d.captureErr = de
			} else {
				d.playbackErr = de
			}
		}
	}
	return d, errors.Join(errs...)
}

// Config returns the device configuration.
func (d *Device) Config() Config {
	return d.cfg
}

// StartCapture opens the capture stream. It is idempotent. A failure
// disables capture for the lifetime of the device.
func (d *Device) StartCapture() error {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.startCaptureLocked()
}

func (d *Device) startCaptureLocked() error {
	if d.captureErr != nil {
		return d.captureErr
	}
	if d.captureRunning {
		return nil
	}
	if err := d.source.Start(d.ctx); err != nil {
		d.captureErr = &DeviceError{Op: "capture", Backend: d.source.Name(), Err: err}
		d.logger.Error("capture stream failed to open, capture disabled", "error", err)
		return d.captureErr
	}
	d.captureRunning = true
	return nil
}

// StopCapture closes the capture stream. Capture reopens it on demand.
func (d *Device) StopCapture() error {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	if !d.captureRunning {
		return nil
	}
	d.captureRunning = false
	return d.source.Stop()
}

var errEmptyRead = errors.New("backend returned no samples")

// Capture reads exactly n samples from the capture stream.
//
// Samples left over from the previous backend chunk are used first. If a
// backend read times out or fails transiently, the remainder of the frame
// is zero-filled. Only context cancellation or a disabled capture path
// produce an error.
func (d *Device) Capture(ctx context.Context, n int) (Frame, error) {
	if n <= 0 {
		return Frame{SampleRate: d.cfg.SampleRate}, nil
	}

	if err := d.StartCapture(); err != nil {
		return Frame{}, err
	}

	d.readMu.Lock()
	defer d.readMu.Unlock()

	out := make([]int16, 0, n)
	if len(d.pending) > 0 {
		take := min(n, len(d.pending))
		out = append(out, d.pending[:take]...)
		d.pending = d.pending[take:]
	}

	for len(out) < n {
		readCtx, cancel := context.WithTimeout(ctx, d.cfg.ReadTimeout)
		chunk, err := d.source.Read(readCtx)
		cancel()
		if err == nil && len(chunk.Samples) == 0 {
			err = errEmptyRead
		}

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Frame{}, ctxErr
			}
			if errors.Is(err, io.EOF) && d.captureStoppedUnexpectedly() {
				return Frame{}, d.disableCapture(fmt.Errorf("capture stream ended: %w", err))
			}
			d.underruns.Add(1)
			d.logger.Debug("capture underrun, zero-filling frame",
				"missing", n-len(out),
				"error", err,
			)
			out = append(out, make([]int16, n-len(out))...)
			break
		}

		need := n - len(out)
		if len(chunk.Samples) > need {
			out = append(out, chunk.Samples[:need]...)
			d.pending = append(d.pending, chunk.Samples[need:]...)
		} else {
			out = append(out, chunk.Samples...)
		}
	}

	d.capturedFrames.Add(1)
	return Frame{Samples: out, SampleRate: d.cfg.SampleRate}, nil
}

// captureStoppedUnexpectedly reports whether the stream ended while the
// device still considers it running.
func (d *Device) captureStoppedUnexpectedly() bool {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.captureRunning
}

func (d *Device) disableCapture(err error) error {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	if d.captureErr == nil {
		d.captureErr = &DeviceError{Op: "capture", Backend: d.source.Name(), Err: err}
		d.logger.Error("capture disabled", "error", err)
	}
	d.captureRunning = false
	return d.captureErr
}

// StartPlayback opens the output device and starts the playback goroutine.
// Calling it while playback is running is a no-op.
func (d *Device) StartPlayback() error {
	d.playMu.Lock()
	defer d.playMu.Unlock()

	if d.playbackErr != nil {
		return d.playbackErr
	}
	if d.playing {
		return nil
	}

	if err := d.sink.Start(d.ctx); err != nil {
		d.playbackErr = &DeviceError{Op: "playback", Backend: d.sink.Name(), Err: err}
		d.playbackDisabled.Store(true)
		dropped := d.queue.Clear()
		d.droppedFrames.Add(int64(dropped))
		d.logger.Error("playback stream failed to open, playback disabled", "error", err)
		return d.playbackErr
	}

	d.queue.Open()
	d.playing = true
	d.playDone = make(chan struct{})
	go d.playbackLoop(d.playDone)

	d.logger.Debug("playback started", "backend", d.sink.Name())
	return nil
}

func (d *Device) playbackLoop(done chan struct{}) {
	defer close(done)

	for {
		f, ok := d.queue.Pop()
		if !ok {
			return
		}
		if err := d.sink.Write(d.ctx, f); err != nil {
			d.droppedFrames.Add(1)
			d.logger.Warn("playback write failed", "error", err, "samples", len(f.Samples))
			continue
		}
		d.playedFrames.Add(1)
	}
}

// StopPlayback stops the playback goroutine after it has played every
// queued frame, then stops the sink. It blocks until the goroutine exited.
func (d *Device) StopPlayback() error {
	d.playMu.Lock()
	defer d.playMu.Unlock()

	if !d.playing {
		return nil
	}
	d.playing = false

	d.queue.Close()
	<-d.playDone

	return d.sink.Stop()
}

// EnqueuePlayback appends a frame to the playback queue without blocking.
// Frames enqueued before StartPlayback wait in the queue. When playback is
// disabled the frame is dropped.
func (d *Device) EnqueuePlayback(f Frame) {
	if d.playbackDisabled.Load() {
		d.droppedFrames.Add(1)
		return
	}
	if f.SampleRate == 0 {
		f.SampleRate = d.cfg.SampleRate
	}
	d.queue.Push(f)
}

// ClearPlayback drops every queued frame. Frames already handed to the
// sink still play.
func (d *Device) ClearPlayback() int {
	n := d.queue.Clear()
	d.droppedFrames.Add(int64(n))
	return n
}

// PlaybackEnabled reports whether the output device is usable.
func (d *Device) PlaybackEnabled() bool {
	return !d.playbackDisabled.Load()
}

// CaptureEnabled reports whether the input device is usable.
func (d *Device) CaptureEnabled() bool {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.captureErr == nil
}

// Stats returns a snapshot of device counters.
func (d *Device) Stats() DeviceStats {
	d.stateMu.Lock()
	captureEnabled := d.captureErr == nil
	captureRunning := d.captureRunning
	d.stateMu.Unlock()

	d.playMu.Lock()
	playing := d.playing
	d.playMu.Unlock()

	return DeviceStats{
		CapturedFrames:  d.capturedFrames.Load(),
		Underruns:       d.underruns.Load(),
		PlayedFrames:    d.playedFrames.Load(),
		DroppedFrames:   d.droppedFrames.Load(),
		QueuedFrames:    d.queue.Len(),
		CaptureEnabled:  captureEnabled,
		PlaybackEnabled: !d.playbackDisabled.Load(),
		PlaybackRunning: playing,
		CaptureRunning:  captureRunning,
	}
}

// Close stops playback and capture and releases both backends.
func (d *Device) Close() error {
	var errs []error
	if err := d.StopPlayback(); err != nil {
		errs = append(errs, err)
	}
	if d.source != nil {
		if err := d.StopCapture(); err != nil {
			errs = append(errs, err)
		}
	}
	d.cancel()

	if d.source != nil {
		if err := d.source.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.sink != nil {
		if err := d.sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
