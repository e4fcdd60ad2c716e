package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	YouTube  YouTubeConfig  `yaml:"youtube"`
	Twitch   TwitchConfig   `yaml:"twitch"`
	Kick     KickConfig     `yaml:"kick"`
	S3       S3Config       `yaml:"s3"`
	Recorder RecorderConfig `yaml:"recorder"`
	Uploader UploaderConfig `yaml:"uploader"`
	Health   HealthConfig   `yaml:"health"`
	Log      LogConfig      `yaml:"log"`
}

// YouTubeConfig holds YouTube live chat configuration
type YouTubeConfig struct {
	VideoIDs                []string `yaml:"video_ids" env:"YOUTUBE_VIDEO_IDS"`
	PollIntervalSeconds     int      `yaml:"poll_interval_seconds"`
	RequestTimeoutSeconds   int      `yaml:"request_timeout_seconds"`
	ScheduledRecheckSeconds int      `yaml:"scheduled_recheck_seconds"`
	MaxConsecutiveFailures  int      `yaml:"max_consecutive_failures"` // 0 retries forever
	BaseURL                 string   `yaml:"base_url"`
	UserAgent               string   `yaml:"user_agent"`
}

// PollInterval returns the configured interval between polls.
func (c YouTubeConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// RequestTimeout returns the bound applied to each outbound request.
func (c YouTubeConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ScheduledRecheck returns how often a scheduled stream is re-resolved.
func (c YouTubeConfig) ScheduledRecheck() time.Duration {
	return time.Duration(c.ScheduledRecheckSeconds) * time.Second
}

// TwitchConfig holds Twitch-specific configuration
type TwitchConfig struct {
	Username string   `yaml:"username"`
	OAuth    string   `yaml:"oauth" env:"TWITCH_OAUTH"`
	Channels []string `yaml:"channels"`
}

// KickConfig holds Kick-specific configuration
type KickConfig struct {
	Enabled  bool                `yaml:"enabled"`
	Channels []KickChannelConfig `yaml:"channels"`
}

// KickChannelConfig is a Kick channel with an optional pre-resolved chatroom ID
type KickChannelConfig struct {
	Slug       string `yaml:"slug"`
	ChatroomID int    `yaml:"chatroom_id"`
}

// S3Config holds S3 upload configuration
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	RoleARN         string `yaml:"role_arn" env:"AWS_ROLE_ARN"`                   // IAM role ARN for OIDC authentication
	AccessKeyID     string `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID"`         // Legacy: static credentials
	SecretAccessKey string `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY"` // Legacy: static credentials
	Endpoint        string `yaml:"endpoint"`                                     // For S3-compatible services
}

// Enabled reports whether uploads are configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// RecorderConfig holds recorder configuration
type RecorderConfig struct {
	OutputDir       string `yaml:"output_dir"`
	RotateMinutes   int    `yaml:"rotate_minutes"`
	RotateMegabytes int    `yaml:"rotate_megabytes"`
	BufferSize      int    `yaml:"buffer_size"`
}

// UploaderConfig holds uploader configuration
type UploaderConfig struct {
	DeleteAfterUpload bool `yaml:"delete_after_upload"`
	MaxRetries        int  `yaml:"max_retries"`
}

// HealthConfig holds the status server configuration
type HealthConfig struct {
	Addr string `yaml:"addr" env:"HEALTH_ADDR"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"LOG_FORMAT"` // text, json
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a configuration from YAML, then applies environment
// overrides, defaults and validation.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	// Only variables that are set override the file.
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.YouTube.PollIntervalSeconds == 0 {
		c.YouTube.PollIntervalSeconds = 5
	}
	if c.YouTube.RequestTimeoutSeconds == 0 {
		c.YouTube.RequestTimeoutSeconds = 10
	}
	if c.YouTube.ScheduledRecheckSeconds == 0 {
		c.YouTube.ScheduledRecheckSeconds = 60
	}
	if c.YouTube.BaseURL == "" {
		c.YouTube.BaseURL = "https://www.youtube.com"
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = 100
	}
	if c.Recorder.RotateMinutes == 0 {
		c.Recorder.RotateMinutes = 60
	}
	if c.Recorder.RotateMegabytes == 0 {
		c.Recorder.RotateMegabytes = 100
	}
	if c.Recorder.OutputDir == "" {
		c.Recorder.OutputDir = "./data"
	}
	if c.Uploader.MaxRetries == 0 {
		c.Uploader.MaxRetries = 3
	}
	if c.Health.Addr == "" {
		c.Health.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	kickOn := c.Kick.Enabled && len(c.Kick.Channels) > 0
	if len(c.YouTube.VideoIDs) == 0 && len(c.Twitch.Channels) == 0 && !kickOn {
		return fmt.Errorf("at least one youtube video, twitch channel or kick channel is required")
	}
	if c.YouTube.PollIntervalSeconds < 0 || c.YouTube.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("youtube intervals must not be negative")
	}
	if c.YouTube.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("youtube.max_consecutive_failures must not be negative")
	}

	if len(c.Twitch.Channels) > 0 {
		if c.Twitch.Username == "" {
			return fmt.Errorf("twitch.username is required")
		}
		if c.Twitch.OAuth == "" {
			return fmt.Errorf("twitch.oauth is required (or set TWITCH_OAUTH env var)")
		}
	}

	// S3 is optional; without a bucket rotated files stay on disk.
	if !c.S3.Enabled() {
		return nil
	}
	if c.S3.Region == "" {
		return fmt.Errorf("s3.region is required")
	}
	if c.S3.RoleARN == "" && c.S3.AccessKeyID == "" {
		return fmt.Errorf("either s3.role_arn (OIDC) or s3.access_key_id (legacy) is required")
	}
	if c.S3.AccessKeyID != "" && c.S3.SecretAccessKey == "" {
		return fmt.Errorf("s3.secret_access_key is required when using access_key_id")
	}
	return nil
}
