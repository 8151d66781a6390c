// Package config loads application configuration from environment variables
// and the YAML channel list.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/blockedby/channel-relay/internal/message"
)

// Config holds all application configuration.
type Config struct {
	// source platform
	BotToken string `envconfig:"RELAY_BOT_TOKEN"`

	// pull strategy: "local" polls the source platform directly,
	// "remote" delegates to the aggregation service
	PullMode string `envconfig:"RELAY_PULL_MODE" default:"local"`

	// remote aggregation service
	RemoteBaseURL string        `envconfig:"RELAY_REMOTE_URL"`
	RemoteRoot    string        `envconfig:"RELAY_REMOTE_ROOT"` // shared download root for exported files
	RemoteTimeout time.Duration `envconfig:"RELAY_REMOTE_TIMEOUT" default:"60s"`

	// cloud link-resolution service
	CloudEnabled   bool          `envconfig:"RELAY_CLOUD_ENABLED" default:"false"`
	CloudBaseURL   string        `envconfig:"RELAY_CLOUD_URL"`
	CloudToken     string        `envconfig:"RELAY_CLOUD_TOKEN"`
	CloudTimeout   time.Duration `envconfig:"RELAY_CLOUD_TIMEOUT" default:"30s"`
	CloudMaxSize   int64         `envconfig:"RELAY_CLOUD_MAX_SIZE" default:"104857600"` // cloud routing ceiling, bytes
	CloudMaxBatch  int           `envconfig:"RELAY_CLOUD_MAX_BATCH" default:"20"`
	FallbackLocal  bool          `envconfig:"RELAY_FALLBACK_LOCAL" default:"true"`
	HealthInterval time.Duration `envconfig:"RELAY_HEALTH_INTERVAL" default:"30s"`

	// downloads
	DownloadDir   string `envconfig:"RELAY_DOWNLOAD_DIR" default:"./downloads"`
	MaxFileSize   int64  `envconfig:"RELAY_MAX_FILE_SIZE" default:"52428800"` // per-attachment cap, bytes
	Concurrency   int    `envconfig:"RELAY_CONCURRENCY" default:"3"`
	RetentionDays int    `envconfig:"RELAY_RETENTION_DAYS" default:"7"` // 0 disables the sweep

	// state
	StateFile  string `envconfig:"RELAY_STATE_FILE" default:"./data/relay_state.json"`
	MirrorFile string `envconfig:"RELAY_MIRROR_FILE"` // remote agent's digest file, empty disables mirroring
	UseLock    bool   `envconfig:"RELAY_STATE_LOCK" default:"false"`

	// channel list
	ChannelsFile string `envconfig:"RELAY_CHANNELS_FILE" default:"./channels.yaml"`

	// http surface
	HTTPPort int `envconfig:"RELAY_HTTP_PORT" default:"3200"`

	// logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile  string `envconfig:"LOG_FILE"`
}

// Load reads configuration from the environment, honoring a .env file when
// present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	return &cfg, nil
}

// channelsDoc is the YAML channel list shape.
type channelsDoc struct {
	Channels []message.Channel `yaml:"channels"`
}

// LoadChannels parses the channel list file and resolves each channel's
// delivery target.
func LoadChannels(path string) ([]message.Channel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read channels file: %w", err)
	}

	var doc channelsDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse channels file: %w", err)
	}

	for i := range doc.Channels {
		ch := &doc.Channels[i]
		ch.Target = message.Target{UserID: ch.ToUser, GroupID: ch.ToGroup}
		if !ch.Target.Valid() {
			return nil, fmt.Errorf("channel %q: exactly one of to_user or to_group must be set", ch.Label())
		}
	}
	return doc.Channels, nil
}
