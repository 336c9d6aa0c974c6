package assistant

import (
	"errors"
	"log/slog"
	"time"

	"github.com/teslashibe/go-deskman/internal/observe"
	"github.com/teslashibe/go-deskman/pkg/robot"
)

// Config holds orchestrator settings.
type Config struct {
	// FramesPerTurn is how many capture frames a turn records before it is
	// committed.
	FramesPerTurn int

	// FrameSamples is the size of one capture frame in samples.
	FrameSamples int

	// Greeting asks the service to speak first when the wake word is heard.
	Greeting bool

	// AutoListen starts listening for the wake word again whenever the
	// orchestrator is idle. It has no effect without an available detector.
	AutoListen bool

	// ServerVAD means the session uses server turn detection: on
	// speech_stopped the service commits and responds by itself, so the
	// orchestrator does not send commit or response.create for that turn.
	ServerVAD bool

	// ResponseTimeout bounds AwaitingResponse and Playing.
	ResponseTimeout time.Duration

	// ReadyTimeout bounds waiting for session.updated after a connect.
	ReadyTimeout time.Duration

	// Reconnect policy: exponential backoff from ReconnectBase up to
	// ReconnectMax, at most ReconnectAttempts tries per outage.
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int

	Logger   *slog.Logger
	Metrics  *observe.Metrics
	Face     robot.FaceController
	Observer func(Snapshot)
}

// Option configures the orchestrator.
type Option func(*Config)

// DefaultConfig returns the default settings: 20 frames of 5120 samples
// per turn, a greeting, a 30s response timeout and 1s..30s backoff over 10
// attempts.
func DefaultConfig() Config {
	return Config{
		FramesPerTurn:     20,
		FrameSamples:      5120,
		Greeting:          true,
		ResponseTimeout:   30 * time.Second,
		ReadyTimeout:      15 * time.Second,
		ReconnectBase:     time.Second,
		ReconnectMax:      30 * time.Second,
		ReconnectAttempts: 10,
	}
}

// Validate checks the settings.
func (c *Config) Validate() error {
	var errs []error
	if c.FramesPerTurn <= 0 {
		errs = append(errs, errors.New("assistant: frames per turn must be positive"))
	}
	if c.FrameSamples <= 0 {
		errs = append(errs, errors.New("assistant: frame samples must be positive"))
	}
	if c.ResponseTimeout <= 0 {
		errs = append(errs, errors.New("assistant: response timeout must be positive"))
	}
	if c.ReconnectBase <= 0 || c.ReconnectMax < c.ReconnectBase {
		errs = append(errs, errors.New("assistant: reconnect backoff must satisfy 0 < base <= max"))
	}
	if c.ReconnectAttempts <= 0 {
		errs = append(errs, errors.New("assistant: reconnect attempts must be positive"))
	}
	return errors.Join(errs...)
}

// backoff returns the delay before the given retry (1-based).
func (c *Config) backoff(attempt int) time.Duration {
	d := c.ReconnectBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.ReconnectMax {
			return c.ReconnectMax
		}
	}
	return d
}

// WithFramesPerTurn sets the number of frames recorded per turn.
func WithFramesPerTurn(n int) Option {
	return func(c *Config) { c.FramesPerTurn = n }
}

// WithFrameSamples sets the capture frame size.
func WithFrameSamples(n int) Option {
	return func(c *Config) { c.FrameSamples = n }
}

// WithGreeting enables or disables the greeting response.
func WithGreeting(enabled bool) Option {
	return func(c *Config) { c.Greeting = enabled }
}

// WithAutoListen re-arms the wake word after every turn.
func WithAutoListen(enabled bool) Option {
	return func(c *Config) { c.AutoListen = enabled }
}

// WithServerVAD tells the orchestrator the service commits on silence.
func WithServerVAD(enabled bool) Option {
	return func(c *Config) { c.ServerVAD = enabled }
}

// WithResponseTimeout sets the response timeout.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *Config) { c.ResponseTimeout = d }
}

// WithReadyTimeout sets how long a connect waits for session.updated.
func WithReadyTimeout(d time.Duration) Option {
	return func(c *Config) { c.ReadyTimeout = d }
}

// WithReconnect sets the reconnect backoff.
func WithReconnect(base, maxDelay time.Duration, attempts int) Option {
	return func(c *Config) {
		c.ReconnectBase = base
		c.ReconnectMax = maxDelay
		c.ReconnectAttempts = attempts
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithFace drives the mouth shape from response transcripts.
func WithFace(f robot.FaceController) Option {
	return func(c *Config) { c.Face = f }
}

// WithObserver registers a callback for snapshots after each state change
// and finished transcript. It runs on the control goroutine and must not
// block.
func WithObserver(fn func(Snapshot)) Option {
	return func(c *Config) { c.Observer = fn }
}
