// Package config loads go-deskman settings.
//
// Settings are layered: built-in defaults, then an optional YAML file, then
// environment variables (a .env file in the working directory is loaded
// first if present).
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-deskman/pkg/audioio"
	"github.com/teslashibe/go-deskman/pkg/realtime"
	"github.com/teslashibe/go-deskman/pkg/robot"
	"github.com/teslashibe/go-deskman/pkg/wakeword"
)

// DefaultPath is read when no file is given and it exists.
const DefaultPath = "deskman.yaml"

// Environment variables that override file settings.
const (
	EnvAPIKey          = "OPENAI_API_KEY"
	EnvLogLevel        = "DESKMAN_LOG_LEVEL"
	EnvAudioBackend    = "DESKMAN_AUDIO_BACKEND"
	EnvServoURL        = "DESKMAN_SERVO_URL"
	EnvDashboardAddr   = "DESKMAN_DASHBOARD_ADDR"
	EnvWakewordCommand = "DESKMAN_WAKEWORD_COMMAND"
)

// Config is the full process configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Audio     audioio.Config  `yaml:"audio"`
	Wakeword  wakeword.Config `yaml:"wakeword"`
	Assistant AssistantConfig `yaml:"assistant"`
	Robot     RobotConfig     `yaml:"robot"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// RealtimeConfig configures the voice service connection. The API key only
// comes from the environment.
type RealtimeConfig struct {
	APIKey         string        `yaml:"-"`
	URL            string        `yaml:"url"`
	Model          string        `yaml:"model"`
	Voice          string        `yaml:"voice"`
	Instructions   string        `yaml:"instructions"`
	Temperature    float64       `yaml:"temperature"`
	ServerVAD      bool          `yaml:"server_vad"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	SendInterval   time.Duration `yaml:"send_interval"`
}

// AssistantConfig configures turn taking.
type AssistantConfig struct {
	FramesPerTurn     int           `yaml:"frames_per_turn"`
	FrameSamples      int           `yaml:"frame_samples"`
	Greeting          bool          `yaml:"greeting"`
	ResponseTimeout   time.Duration `yaml:"response_timeout"`
	ReconnectBase     time.Duration `yaml:"reconnect_base"`
	ReconnectMax      time.Duration `yaml:"reconnect_max"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
}

// RobotConfig configures the actuators. An empty ServoURL logs head moves
// instead of sending them.
type RobotConfig struct {
	ServoURL   string `yaml:"servo_url"`
	ServoSpeed int    `yaml:"servo_speed"`
	ServoAcc   int    `yaml:"servo_acc"`
}

// DashboardConfig configures the web dashboard. An empty Addr disables it.
type DashboardConfig struct {
	Addr string `yaml:"addr"`
}

// ConfigError describes one invalid setting.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ErrMissingAPIKey is wrapped by the ConfigError for an absent API key.
var ErrMissingAPIKey = errors.New(EnvAPIKey + " is not set")

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Realtime: RealtimeConfig{
			URL:            realtime.DefaultURL,
			Model:          realtime.DefaultModel,
			Voice:          realtime.VoiceAsh,
			Instructions:   realtime.DefaultInstructions,
			Temperature:    0.6,
			ConnectTimeout: 10 * time.Second,
		},
		Audio:    audioio.DefaultConfig(),
		Wakeword: wakeword.DefaultConfig(),
		Assistant: AssistantConfig{
			FramesPerTurn:     20,
			FrameSamples:      5120,
			Greeting:          true,
			ResponseTimeout:   30 * time.Second,
			ReconnectBase:     time.Second,
			ReconnectMax:      30 * time.Second,
			ReconnectAttempts: 10,
		},
		Robot: RobotConfig{
			ServoSpeed: robot.DefaultServoSpeed,
			ServoAcc:   robot.DefaultServoAcc,
		},
		Dashboard: DashboardConfig{
			Addr: ":8181",
		},
	}
}

// Load builds the configuration. path may be empty, in which case
// DefaultPath is used if it exists.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultPath); err == nil {
			path = DefaultPath
		}
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := cfg.decode(f); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML from r over the defaults. It neither consults the
// environment nor validates; Load does both.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(r); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// ApplyEnv overrides settings from the environment. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvAPIKey); ok {
		c.Realtime.APIKey = v
	}
	if v, ok := get(EnvLogLevel); ok {
		c.LogLevel = v
	}
	if v, ok := get(EnvAudioBackend); ok {
		c.Audio.Backend = audioio.Backend(v)
	}
	if v, ok := get(EnvServoURL); ok {
		c.Robot.ServoURL = v
	}
	if v, ok := lookup(EnvDashboardAddr); ok {
		// Set but empty disables the dashboard.
		c.Dashboard.Addr = strings.TrimSpace(v)
	}
	if v, ok := get(EnvWakewordCommand); ok {
		c.Wakeword.Command = v
	}
}

var validLevels = []string{"debug", "info", "warn", "warning", "error"}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(field string, err error) {
		errs = append(errs, &ConfigError{Field: field, Err: err})
	}

	if c.Realtime.APIKey == "" {
		bad("realtime.api_key", ErrMissingAPIKey)
	}
	if !isValidLevel(c.LogLevel) {
		bad("log_level", fmt.Errorf("%q is invalid; valid values: debug, info, warn, error", c.LogLevel))
	}
	if c.Realtime.Temperature < 0.6 || c.Realtime.Temperature > 1.2 {
		bad("realtime.temperature", fmt.Errorf("%.2f is out of range [0.6, 1.2]", c.Realtime.Temperature))
	}
	if err := c.Audio.Validate(); err != nil {
		bad("audio", err)
	}
	if c.Wakeword.Command != "" {
		if err := c.Wakeword.Validate(); err != nil {
			bad("wakeword", err)
		}
	}

	a := c.Assistant
	if a.FramesPerTurn <= 0 {
		bad("assistant.frames_per_turn", fmt.Errorf("must be positive, got %d", a.FramesPerTurn))
	}
	if a.FrameSamples <= 0 {
		bad("assistant.frame_samples", fmt.Errorf("must be positive, got %d", a.FrameSamples))
	}
	if a.ResponseTimeout <= 0 {
		bad("assistant.response_timeout", fmt.Errorf("must be positive, got %v", a.ResponseTimeout))
	}
	if a.ReconnectBase <= 0 || a.ReconnectMax < a.ReconnectBase {
		bad("assistant.reconnect_base", fmt.Errorf("need 0 < reconnect_base <= reconnect_max, got %v and %v", a.ReconnectBase, a.ReconnectMax))
	}
	if a.ReconnectAttempts <= 0 {
		bad("assistant.reconnect_attempts", fmt.Errorf("must be positive, got %d", a.ReconnectAttempts))
	}

	if c.Robot.ServoURL != "" && !strings.HasPrefix(c.Robot.ServoURL, "http://") && !strings.HasPrefix(c.Robot.ServoURL, "https://") {
		bad("robot.servo_url", fmt.Errorf("%q must be an http(s) URL", c.Robot.ServoURL))
	}

	return errors.Join(errs...)
}

func isValidLevel(level string) bool {
	level = strings.ToLower(strings.TrimSpace(level))
	for _, l := range validLevels {
		if l == level {
			return true
		}
	}
	return false
}

// Session returns the realtime session settings. Server turn detection is
// only requested when ServerVAD is set.
func (c *Config) Session() realtime.SessionConfig {
	s := realtime.DefaultSession()
	s.Voice = c.Realtime.Voice
	s.Instructions = c.Realtime.Instructions
	s.Temperature = c.Realtime.Temperature
	if !c.Realtime.ServerVAD {
		s.TurnDetection = nil
		s.ManualTurns = true
	}
	return s
}
