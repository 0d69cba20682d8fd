package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the full runtime configuration for the bridge. Every knob has
// a default so a deployment only needs to set the credentials and endpoints
// it actually uses.
type Config struct {
	// Discord transport
	DiscordToken   string `envconfig:"DISCORD_BOT_TOKEN" required:"true"`
	GuildID        string `envconfig:"GUILD_ID" default:""`
	VoiceChannelID string `envconfig:"VOICE_CHANNEL_ID" default:""`

	// Speech engines
	STTBaseURL string `envconfig:"STT_BASE_URL" default:"http://127.0.0.1:9000"`
	TTSBaseURL string `envconfig:"TTS_BASE_URL" default:"http://127.0.0.1:5002"`
	STTTimeout int    `envconfig:"STT_TIMEOUT_MS" default:"30000"` // milliseconds
	TTSTimeout int    `envconfig:"TTS_TIMEOUT_MS" default:"30000"` // milliseconds
	Language   string `envconfig:"STT_LANGUAGE" default:""`        // optional hint

	TTSVoice string  `envconfig:"TTS_VOICE" default:""`
	TTSSpeed float64 `envconfig:"TTS_SPEED" default:"1.0"`

	HealthPollInterval int `envconfig:"ENGINE_HEALTH_POLL_SECONDS" default:"15"`

	// Voice pipeline
	WakeWord             string  `envconfig:"WAKE_WORD" default:"computer"`
	SilenceEndMs         int     `envconfig:"SILENCE_END_MS" default:"1500"`
	ForceFlushMs         int     `envconfig:"FORCE_FLUSH_MS" default:"6000"`
	MinUtteranceSeconds  float64 `envconfig:"MIN_UTTERANCE_SECONDS" default:"1.0"`
	SilenceTrimThreshold float64 `envconfig:"SILENCE_TRIM_THRESHOLD" default:"0.005"`

	// Audio formats. The transport delivers 48 kHz stereo; the STT engine
	// wants 16 kHz mono; synthesized replies arrive as 24 kHz mono.
	SourceSampleRate   int `envconfig:"SOURCE_SAMPLE_RATE" default:"48000"`
	STTSampleRate      int `envconfig:"STT_SAMPLE_RATE" default:"16000"`
	PlaybackSampleRate int `envconfig:"PLAYBACK_SAMPLE_RATE" default:"48000"`

	// Conversation engine
	OpenAIBaseURL       string `envconfig:"OPENAI_BASE_URL" default:"http://127.0.0.1:8000/v1"`
	OpenAIKey           string `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIModel         string `envconfig:"OPENAI_MODEL" default:"local"`
	OpenAIFallbackModel string `envconfig:"OPENAI_FALLBACK_MODEL" default:""`
	MaxHistoryTurns     int    `envconfig:"MAX_HISTORY_TURNS" default:"20"`

	// Control plane
	IPCPort int `envconfig:"IPC_PORT" default:"9002"`

	// Observability
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads configuration from the environment, first merging an optional
// .env file if one is present in the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.DiscordToken == "" {
		return nil, fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}
	return &cfg, nil
}

// SilenceEnd returns the silence-end delay as a duration.
func (c *Config) SilenceEnd() time.Duration {
	return time.Duration(c.SilenceEndMs) * time.Millisecond
}

// ForceFlush returns the force-flush threshold as a duration.
func (c *Config) ForceFlush() time.Duration {
	return time.Duration(c.ForceFlushMs) * time.Millisecond
}

// HealthPoll returns the engine health poll interval as a duration.
func (c *Config) HealthPoll() time.Duration {
	return time.Duration(c.HealthPollInterval) * time.Second
}
