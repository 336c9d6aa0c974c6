package realtime

import (
	"log/slog"
	"time"
)

const (
	// DefaultURL is the OpenAI Realtime websocket endpoint.
	DefaultURL = "wss://api.openai.com/v1/realtime"

	// DefaultModel is the realtime model the desk robot was tuned for.
	DefaultModel = "gpt-4o-realtime-preview-2024-10-01"

	// DefaultInstructions is the Deskman persona.
	DefaultInstructions = "You are Deskman, a friendly home assistance robot, with a physical appearance of a robot head and shoulders on a desk.\n" +
		"Call the provided tool function move_head() if asked to move your head in any direction.\n" +
		"Start by saying a simple quick 'hey' and no other words as the first response."
)

// OpenAI voices.
const (
	VoiceAlloy   = "alloy"
	VoiceAsh     = "ash"
	VoiceBallad  = "ballad"
	VoiceCoral   = "coral"
	VoiceEcho    = "echo"
	VoiceSage    = "sage"
	VoiceShimmer = "shimmer"
	VoiceVerse   = "verse"
)

// Config holds configuration for a Client.
type Config struct {
	// APIKey is the bearer token.
	APIKey string

	// URL is the websocket endpoint without the model query.
	URL string

	// Model is appended as ?model=.
	Model string

	// Session is sent as session.update right after connecting.
	Session SessionConfig

	// ConnectTimeout bounds the websocket handshake.
	ConnectTimeout time.Duration

	// WriteTimeout bounds a single websocket write.
	WriteTimeout time.Duration

	// PingInterval is how often keepalive pings are sent.
	PingInterval time.Duration

	// SendInterval spaces consecutive audio appends. Zero disables it.
	SendInterval time.Duration

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultSession returns the Deskman session: voice ash, pcm16 in and
// out, whisper transcription and server VAD.
func DefaultSession() SessionConfig {
	return SessionConfig{
		Modalities:        []string{"text", "audio"},
		Instructions:      DefaultInstructions,
		Voice:             VoiceAsh,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		InputAudioTranscription: &Transcription{
			Model: "whisper-1",
		},
		TurnDetection: &TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
		},
		ToolChoice:  "auto",
		Temperature: 0.6,
	}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		URL:            DefaultURL,
		Model:          DefaultModel,
		Session:        DefaultSession(),
		ConnectTimeout: 10 * time.Second,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		Logger:         slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// Option is a functional option for configuring a Client.
type Option func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithURL overrides the websocket endpoint.
func WithURL(url string) Option {
	return func(c *Config) {
		c.URL = url
	}
}

// WithModel sets the realtime model.
func WithModel(model string) Option {
	return func(c *Config) {
		c.Model = model
	}
}

// WithSession replaces the session configuration.
func WithSession(s SessionConfig) Option {
	return func(c *Config) {
		c.Session = s
	}
}

// WithInstructions sets the system instructions.
func WithInstructions(text string) Option {
	return func(c *Config) {
		c.Session.Instructions = text
	}
}

// WithVoice sets the output voice.
func WithVoice(voice string) Option {
	return func(c *Config) {
		c.Session.Voice = voice
	}
}

// WithTemperature sets the response temperature.
func WithTemperature(temp float64) Option {
	return func(c *Config) {
		c.Session.Temperature = temp
	}
}

// WithTools sets the tools advertised in the session.
func WithTools(tools ...Tool) Option {
	return func(c *Config) {
		c.Session.Tools = tools
	}
}

// WithConnectTimeout bounds the websocket handshake.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ConnectTimeout = d
	}
}

// WithPingInterval sets the keepalive interval.
func WithPingInterval(d time.Duration) Option {
	return func(c *Config) {
		c.PingInterval = d
	}
}

// WithSendInterval spaces consecutive audio appends.
func WithSendInterval(d time.Duration) Option {
	return func(c *Config) {
		c.SendInterval = d
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
