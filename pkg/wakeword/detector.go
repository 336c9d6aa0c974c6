package wakeword

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-deskman/pkg/audioio"
)

// Detector listens for keywords on a FrameSource.
type Detector struct {
	src     FrameSource
	clf     Classifier
	names   []string
	initErr error
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc

	detections int64
}

// NewDetector returns a detector feeding src into clf. names labels the
// keyword indices reported by the classifier and may be shorter than the
// keyword list.
func NewDetector(src FrameSource, clf Classifier, names []string, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		src:    src,
		clf:    clf,
		names:  names,
		logger: logger.With("component", "wakeword"),
	}
}

// NewUnavailable returns a detector whose classifier could not be created.
// Listen always fails with ErrUnavailable wrapping err.
func NewUnavailable(err error, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "wakeword")
	logger.Warn("wake word detection unavailable, conversations must be started externally", "error", err)
	return &Detector{
		initErr: err,
		logger:  logger,
	}
}

// Available reports whether the detector has a working classifier.
func (d *Detector) Available() bool {
	return d.clf != nil && d.initErr == nil
}

// Listen blocks until a keyword is detected, Stop is called or ctx ends.
//
// Stop yields Event{Result: Cancelled} with a nil error. A cancelled ctx
// yields the same event together with ctx.Err().
func (d *Detector) Listen(ctx context.Context) (Event, error) {
	if !d.Available() {
		if d.initErr != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrUnavailable, d.initErr)
		}
		return Event{}, ErrUnavailable
	}

	listenCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		cancel()
		return Event{}, ErrListening
	}
	d.cancel = cancel
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.cancel = nil
		d.mu.Unlock()
		cancel()
	}()

	frameLen := d.clf.FrameLength()
	clfRate := d.clf.SampleRate()

	d.logger.Debug("listening for wake word", "frame_length", frameLen, "sample_rate", clfRate)

	for {
		pcm, err := d.nextFrame(listenCtx, frameLen, clfRate)
		if err != nil {
			if listenCtx.Err() != nil {
				return Event{Result: Cancelled, Timestamp: time.Now()}, ctx.Err()
			}
			return Event{}, err
		}

		keyword, detected, err := d.clf.Process(pcm)
		if err != nil {
			return Event{}, fmt.Errorf("wakeword: classify: %w", err)
		}
		if !detected {
			continue
		}

		ev := Event{
			Result:    Detected,
			Keyword:   keyword,
			Name:      d.keywordName(keyword),
			Timestamp: time.Now(),
		}
		d.mu.Lock()
		d.detections++
		d.mu.Unlock()
		d.logger.Info("wake word detected", "keyword", ev.Name, "index", keyword)
		return ev, nil
	}
}

// nextFrame captures enough audio to produce exactly frameLen samples at
// the classifier rate.
func (d *Detector) nextFrame(ctx context.Context, frameLen, clfRate int) ([]int16, error) {
	f, err := d.src.Capture(ctx, frameLen)
	if err != nil {
		return nil, err
	}
	if f.SampleRate == 0 || f.SampleRate == clfRate {
		return f.Samples, nil
	}

	need := audioio.ResampledLength(frameLen, f.SampleRate, clfRate)
	if extra := need - len(f.Samples); extra > 0 {
		more, err := d.src.Capture(ctx, extra)
		if err != nil {
			return nil, err
		}
		f.Samples = append(f.Samples, more.Samples...)
	}

	out := audioio.Resample(f.Samples, f.SampleRate, clfRate)
	switch {
	case len(out) > frameLen:
		out = out[:frameLen]
	case len(out) < frameLen:
		out = append(out, make([]int16, frameLen-len(out))...)
	}
	return out, nil
}

func (d *Detector) keywordName(i int) string {
	if i >= 0 && i < len(d.names) && d.names[i] != "" {
		return d.names[i]
	}
	return fmt.Sprintf("keyword-%d", i)
}

// Stop cancels an in-progress Listen. It is a no-op when idle.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
}

// Detections returns how many keywords were heard.
func (d *Detector) Detections() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.detections
}

// Close releases the classifier.
func (d *Detector) Close() error {
	d.Stop()
	if d.clf == nil {
		return nil
	}
	return d.clf.Close()
}
