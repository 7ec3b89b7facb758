package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/chen-zeong/dtv/internal/message"
)

// Config holds the application configuration
type Config struct {
	Rooms     []RoomConfig    `yaml:"rooms"`
	Listener  ListenerConfig  `yaml:"listener"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	S3        S3Config        `yaml:"s3"`
	Uploader  UploaderConfig  `yaml:"uploader"`
	Health    HealthConfig    `yaml:"health"`
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Cookies   CookiesConfig   `yaml:"cookies"`
}

// RoomConfig names one room to listen to
type RoomConfig struct {
	Platform message.Platform `yaml:"platform"`
	Room     string           `yaml:"room"` // room id, web rid or room URL
}

// ListenerConfig tunes the listener registry
type ListenerConfig struct {
	SinkBuffer              int `yaml:"sink_buffer"`
	QueueSize               int `yaml:"queue_size"`
	HandshakeTimeoutSeconds int `yaml:"handshake_timeout_seconds"`
}

// ReconnectConfig controls the exponential backoff after a listener fails
type ReconnectConfig struct {
	Enabled        *bool `yaml:"enabled"` // defaults to true
	InitialSeconds int   `yaml:"initial_seconds"`
	MaxSeconds     int   `yaml:"max_seconds"`
}

// RecorderConfig holds recorder configuration
type RecorderConfig struct {
	OutputDir       string `yaml:"output_dir"`
	RotateMinutes   int    `yaml:"rotate_minutes"`
	RotateMegabytes int    `yaml:"rotate_megabytes"`
	BufferSize      int    `yaml:"buffer_size"`
}

// S3Config holds S3 upload configuration
type S3Config struct {
	Bucket               string `yaml:"bucket"`
	Region               string `yaml:"region"`
	Endpoint             string `yaml:"endpoint"`                // For S3-compatible services
	AccessKeyID          string `yaml:"access_key_id"`           // Static credentials, optional
	SecretAccessKey      string `yaml:"secret_access_key"`       // Required with access_key_id
	RoleARN              string `yaml:"role_arn"`                // Assumed with a web identity token
	WebIdentityTokenFile string `yaml:"web_identity_token_file"` // Required with role_arn
}

// UploaderConfig holds uploader configuration
type UploaderConfig struct {
	Enabled           bool `yaml:"enabled"`
	DeleteAfterUpload bool `yaml:"delete_after_upload"`
	MaxRetries        int  `yaml:"max_retries"`
	QueueSize         int  `yaml:"queue_size"`
}

// HealthConfig holds the health server address
type HealthConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig selects the log level and encoder
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// HTTPConfig applies to every bootstrap request
type HTTPConfig struct {
	UserAgent      string `yaml:"user_agent"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// CookiesConfig holds optional logged-in cookies per platform
type CookiesConfig struct {
	Douyin   string `yaml:"douyin"`
	Bilibili string `yaml:"bilibili"`
}

// LoadDotEnv loads a .env file into the environment. A missing file is not
// an error and variables already set are left alone.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	// Apply environment variable overrides
	if ua := os.Getenv("DANMAKU_USER_AGENT"); ua != "" {
		cfg.HTTP.UserAgent = ua
	}
	if addr := os.Getenv("DANMAKU_HEALTH_ADDR"); addr != "" {
		cfg.Health.Addr = addr
	}
	if level := os.Getenv("DANMAKU_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if cookie := os.Getenv("DOUYIN_COOKIE"); cookie != "" {
		cfg.Cookies.Douyin = cookie
	}
	if cookie := os.Getenv("BILIBILI_COOKIE"); cookie != "" {
		cfg.Cookies.Bilibili = cookie
	}
	if roleARN := os.Getenv("S3_ROLE_ARN"); roleARN != "" {
		cfg.S3.RoleARN = roleARN
	}
	if keyID := os.Getenv("S3_ACCESS_KEY_ID"); keyID != "" {
		cfg.S3.AccessKeyID = keyID
	}
	if secretKey := os.Getenv("S3_SECRET_ACCESS_KEY"); secretKey != "" {
		cfg.S3.SecretAccessKey = secretKey
	}

	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Listener.SinkBuffer == 0 {
		c.Listener.SinkBuffer = 256
	}
	if c.Listener.QueueSize == 0 {
		c.Listener.QueueSize = 16
	}
	if c.Listener.HandshakeTimeoutSeconds == 0 {
		c.Listener.HandshakeTimeoutSeconds = 10
	}
	if c.Reconnect.Enabled == nil {
		enabled := true
		c.Reconnect.Enabled = &enabled
	}
	if c.Reconnect.InitialSeconds == 0 {
		c.Reconnect.InitialSeconds = 2
	}
	if c.Reconnect.MaxSeconds == 0 {
		c.Reconnect.MaxSeconds = 120
	}
	if c.Recorder.OutputDir == "" {
		c.Recorder.OutputDir = "./data"
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
	if c.Uploader.MaxRetries == 0 {
		c.Uploader.MaxRetries = 3
	}
	if c.Uploader.QueueSize == 0 {
		c.Uploader.QueueSize = 100
	}
	if c.Health.Addr == "" {
		c.Health.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.HTTP.TimeoutSeconds == 0 {
		c.HTTP.TimeoutSeconds = 10
	}
}

func (c *Config) validate() error {
	if len(c.Rooms) == 0 {
		return fmt.Errorf("at least one room is required")
	}
	seen := make(map[string]bool, len(c.Rooms))
	for i := range c.Rooms {
		r := &c.Rooms[i]
		p, err := message.ParsePlatform(string(r.Platform))
		if err != nil {
			return fmt.Errorf("rooms[%d].platform: %w", i, err)
		}
		r.Platform = p
		if r.Room == "" {
			return fmt.Errorf("rooms[%d].room is required", i)
		}
		key := string(p) + "/" + r.Room
		if seen[key] {
			return fmt.Errorf("rooms[%d]: duplicate room %s", i, key)
		}
		seen[key] = true
	}
	if c.Listener.SinkBuffer < 0 || c.Listener.QueueSize < 0 || c.Listener.HandshakeTimeoutSeconds < 0 {
		return fmt.Errorf("listener sizes and timeouts must not be negative")
	}
	if c.Reconnect.InitialSeconds < 0 || c.Reconnect.MaxSeconds < c.Reconnect.InitialSeconds {
		return fmt.Errorf("reconnect.max_seconds must be at least reconnect.initial_seconds")
	}
	if c.Uploader.Enabled {
		if err := c.validateS3(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateS3() error {
	if c.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required")
	}
	if c.S3.Region == "" {
		return fmt.Errorf("s3.region is required")
	}
	if c.S3.AccessKeyID != "" && c.S3.SecretAccessKey == "" {
		return fmt.Errorf("s3.secret_access_key is required when using access_key_id")
	}
	if c.S3.RoleARN != "" && c.S3.WebIdentityTokenFile == "" {
		return fmt.Errorf("s3.web_identity_token_file is required when using role_arn")
	}
	if c.Uploader.MaxRetries < 0 || c.Uploader.QueueSize < 0 {
		return fmt.Errorf("uploader.max_retries and uploader.queue_size must not be negative")
	}
	return nil
}

// ReconnectEnabled reports whether failed listeners are restarted.
func (c *Config) ReconnectEnabled() bool {
	return c.Reconnect.Enabled == nil || *c.Reconnect.Enabled
}

// HandshakeTimeout returns the WebSocket handshake timeout.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Listener.HandshakeTimeoutSeconds) * time.Second
}

// HTTPTimeout returns the bootstrap request timeout.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
