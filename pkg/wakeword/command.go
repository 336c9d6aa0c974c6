package wakeword

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-deskman/pkg/audioio"
)

// Config describes a wake word engine run as a helper process.
//
// The helper receives the model and keyword files as flags, prints
// "READY <frame_length> <sample_rate>" once initialized, then reads frames
// of raw little-endian PCM16 from stdin and answers each with one line:
// the detected keyword index, or -1.
type Config struct {
	Command       string        `yaml:"command" json:"command"`
	Args          []string      `yaml:"args" json:"args"`
	ModelPath     string        `yaml:"model_path" json:"model_path"`
	KeywordPaths  []string      `yaml:"keyword_paths" json:"keyword_paths"`
	KeywordNames  []string      `yaml:"keyword_names" json:"keyword_names"`
	Sensitivities []float64     `yaml:"sensitivities" json:"sensitivities"`
	StartTimeout  time.Duration `yaml:"start_timeout" json:"start_timeout"`

	// Env is appended to the current environment of the helper.
	Env []string `yaml:"-" json:"-"`
}

// DefaultConfig returns a config with no helper command. Such a config
// produces an unavailable detector.
func DefaultConfig() Config {
	return Config{
		StartTimeout: 5 * time.Second,
	}
}

// Validate checks the keyword and sensitivity lists.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Command) == "" {
		errs = append(errs, errors.New("wakeword: command is required"))
	}
	if len(c.KeywordPaths) == 0 {
		errs = append(errs, errors.New("wakeword: at least one keyword path is required"))
	}
	if len(c.Sensitivities) > 0 && len(c.Sensitivities) != len(c.KeywordPaths) {
		errs = append(errs, fmt.Errorf("wakeword: %d sensitivities for %d keywords",
			len(c.Sensitivities), len(c.KeywordPaths)))
	}
	for i, s := range c.Sensitivities {
		if s < 0 || s > 1 {
			errs = append(errs, fmt.Errorf("wakeword: sensitivity[%d] = %v, must be within [0, 1]", i, s))
		}
	}
	return errors.Join(errs...)
}

// Names returns display names for the keywords, derived from the keyword
// file names when not configured.
func (c *Config) Names() []string {
	names := make([]string, len(c.KeywordPaths))
	for i, p := range c.KeywordPaths {
		if i < len(c.KeywordNames) && c.KeywordNames[i] != "" {
			names[i] = c.KeywordNames[i]
			continue
		}
		base := filepath.Base(p)
		names[i] = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return names
}

func (c *Config) helperArgs() []string {
	args := append([]string{}, c.Args...)
	if c.ModelPath != "" {
		args = append(args, "--model", c.ModelPath)
	}
	for i, p := range c.KeywordPaths {
		s := DefaultSensitivity
		if i < len(c.Sensitivities) {
			s = c.Sensitivities[i]
		}
		args = append(args,
			"--keyword", p,
			"--sensitivity", strconv.FormatFloat(s, 'f', -1, 64),
		)
	}
	return args
}

// CommandClassifier is a Classifier backed by a helper process.
type CommandClassifier struct {
	logger *slog.Logger

	mu          sync.Mutex
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stdout      *bufio.Reader
	frameLength int
	sampleRate  int
	closed      bool
}

// NewCommandClassifier starts the helper and waits for its READY line.
// Any failure here is an initialization failure: the helper is killed and
// an error returned.
func NewCommandClassifier(cfg Config, logger *slog.Logger) (*CommandClassifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultConfig().StartTimeout
	}
	logger = logger.With("component", "wakeword.command")

	cmd := exec.Command(cfg.Command, cfg.helperArgs()...)
	cmd.Env = append(os.Environ(), cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("wakeword: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("wakeword: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("wakeword: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("wakeword: start %s: %w", cfg.Command, err)
	}
	go logLines(logger, stderr)

	c := &CommandClassifier{
		logger: logger,
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
	}

	if err := c.handshake(cfg.StartTimeout); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}

	logger.Info("wake word engine ready",
		"command", cfg.Command,
		"keywords", cfg.Names(),
		"frame_length", c.frameLength,
		"sample_rate", c.sampleRate,
	)
	return c, nil
}

func (c *CommandClassifier) handshake(timeout time.Duration) error {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := c.stdout.ReadString('\n')
		ch <- result{line, err}
	}()

	var r result
	select {
	case r = <-ch:
	case <-time.After(timeout):
		return fmt.Errorf("wakeword: helper not ready after %v", timeout)
	}
	if r.err != nil {
		return fmt.Errorf("wakeword: read handshake: %w", r.err)
	}

	frameLength, sampleRate, err := parseReady(r.line)
	if err != nil {
		return err
	}
	c.frameLength = frameLength
	c.sampleRate = sampleRate
	return nil
}

func parseReady(line string) (frameLength, sampleRate int, err error) {
	fields := strings.Fields(line)
	if len(fields) != 3 || fields[0] != "READY" {
		return 0, 0, fmt.Errorf("wakeword: unexpected handshake %q", strings.TrimSpace(line))
	}
	frameLength, err = strconv.Atoi(fields[1])
	if err != nil || frameLength <= 0 {
		return 0, 0, fmt.Errorf("wakeword: bad frame length %q", fields[1])
	}
	sampleRate, err = strconv.Atoi(fields[2])
	if err != nil || sampleRate <= 0 {
		return 0, 0, fmt.Errorf("wakeword: bad sample rate %q", fields[2])
	}
	return frameLength, sampleRate, nil
}

// Process sends one frame and reads the verdict.
func (c *CommandClassifier) Process(pcm []int16) (int, bool, error) {
	if len(pcm) != c.frameLength {
		return -1, false, fmt.Errorf("wakeword: frame has %d samples, want %d", len(pcm), c.frameLength)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return -1, false, io.ErrClosedPipe
	}
	if _, err := c.stdin.Write(audioio.SamplesToBytes(pcm)); err != nil {
		return -1, false, fmt.Errorf("wakeword: write frame: %w", err)
	}

	line, err := c.stdout.ReadString('\n')
	if err != nil {
		return -1, false, fmt.Errorf("wakeword: read verdict: %w", err)
	}
	idx, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return -1, false, fmt.Errorf("wakeword: bad verdict %q", strings.TrimSpace(line))
	}
	return idx, idx >= 0, nil
}

// FrameLength returns the frame size announced by the helper.
func (c *CommandClassifier) FrameLength() int { return c.frameLength }

// SampleRate returns the sample rate announced by the helper.
func (c *CommandClassifier) SampleRate() int { return c.sampleRate }

// Close closes the helper's stdin and waits for it to exit.
func (c *CommandClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	_ = c.stdin.Close()
	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()

	select {
	case err := <-done:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
		return err
	case <-time.After(2 * time.Second):
		_ = c.cmd.Process.Kill()
		<-done
		return nil
	}
}

// Open builds a detector from cfg. A config without a command, or a
// helper that fails to start, yields an unavailable detector rather than
// an error so the assistant can still run without wake gating.
func Open(cfg Config, src FrameSource, logger *slog.Logger) *Detector {
	if strings.TrimSpace(cfg.Command) == "" {
		return NewUnavailable(errors.New("no wake word command configured"), logger)
	}
	clf, err := NewCommandClassifier(cfg, logger)
	if err != nil {
		return NewUnavailable(err, logger)
	}
	return NewDetector(src, clf, cfg.Names(), logger)
}

func logLines(logger *slog.Logger, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		logger.Debug("helper", "line", line)
	}
}

var _ Classifier = (*CommandClassifier)(nil)
