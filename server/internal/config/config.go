package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort         = 5000
	DefaultGRPCPort         = 50051
	DefaultLogLevel         = "info"
	DefaultSource           = "simulated"
	DefaultSampleRateHz     = 10
	DefaultStopTimeout      = time.Second
	DefaultPushBuffer       = 512
	DefaultMaxLen           = 50
	DefaultChannels         = 10
	DefaultClip             = 5.0
	DefaultDrawingSize      = 32
	DefaultHistoryTTL       = 24 * time.Hour
	DefaultHistoryRestore   = 100
	DefaultCorrectorURL     = "http://127.0.0.1:11434"
	DefaultCorrectorModel   = "mistral"
	DefaultCorrectorTemp    = 0.1
	DefaultCorrectorTimeout = 30 * time.Second
	DefaultStreamInterval   = time.Second
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml. The `agent:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API and WebSocket hub listen on (default 5000).
	HTTPPort int `yaml:"http_port"`

	// GRPCPort is the port the gRPC health service listens on (default 50051).
	GRPCPort int `yaml:"grpc_port"`

	// LogLevel is one of debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	// Auth configures how the server authenticates incoming gRPC and REST clients.
	Auth AuthConfig `yaml:"auth"`

	CORS       CORSConfig       `yaml:"cors"`
	Collection CollectionConfig `yaml:"collection"`
	Normalize  NormalizeConfig  `yaml:"normalize"`
	Models     ModelsConfig     `yaml:"models"`
	History    HistoryConfig    `yaml:"history"`
	Corrector  CorrectorConfig  `yaml:"corrector"`
	Stream     StreamConfig     `yaml:"stream"`
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key (and HTTP header name) to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// CORSConfig lists origins allowed to call the HTTP API from a browser.
// An empty list allows any origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// CollectionConfig controls IMU collection sessions.
type CollectionConfig struct {
	// DataDir receives imu_data_*.txt recordings. Empty means os.TempDir().
	DataDir string `yaml:"data_dir"`

	// Source is "simulated" (replayed trajectory) or "push" (samples POSTed
	// by the agent to /api/v1/samples).
	Source string `yaml:"source"`

	// SampleRateHz is the simulated source's output rate (default 10).
	SampleRateHz int `yaml:"sample_rate_hz"`

	// StopTimeout bounds how long /stop waits for the worker (default 1s).
	StopTimeout time.Duration `yaml:"stop_timeout"`

	// PushBuffer is the push source's capacity in samples (default 512).
	PushBuffer int `yaml:"push_buffer"`
}

// NormalizeConfig sets the IMU tensor shape.
type NormalizeConfig struct {
	MaxLen   int     `yaml:"max_len"`
	Channels int     `yaml:"channels"`
	Clip     float64 `yaml:"clip"`
}

// ModelsConfig selects the classifiers.
type ModelsConfig struct {
	IMU     ModelConfig `yaml:"imu"`
	Drawing ModelConfig `yaml:"drawing"`
}

// ModelConfig describes one classifier. An empty Path selects the simulated
// classifier.
type ModelConfig struct {
	Path string `yaml:"path"`

	// Labels names the label set: upper | lower | english_malayalam.
	Labels string `yaml:"labels"`

	// InputSize is the square image side for drawing models (default 32).
	InputSize int `yaml:"input_size"`
}

// HistoryConfig controls prediction retention.
type HistoryConfig struct {
	// TTL is how long predictions stay in memory. Zero keeps them forever.
	TTL time.Duration `yaml:"ttl"`

	// SQLitePath enables persistent history when set.
	SQLitePath string `yaml:"sqlite_path"`

	// Restore is how many archived predictions are loaded at startup.
	Restore int `yaml:"restore"`
}

// CorrectorConfig points the word corrector at a local LLM.
type CorrectorConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// StreamConfig controls the websocket status feed.
type StreamConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Level returns the slog level for LogLevel. Unknown values map to Info;
// validate rejects them before this is reached.
func (s ServerConfig) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config { return defaults() }

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			GRPCPort: DefaultGRPCPort,
			LogLevel: DefaultLogLevel,
			Collection: CollectionConfig{
				Source:       DefaultSource,
				SampleRateHz: DefaultSampleRateHz,
				StopTimeout:  DefaultStopTimeout,
				PushBuffer:   DefaultPushBuffer,
			},
			Normalize: NormalizeConfig{
				MaxLen:   DefaultMaxLen,
				Channels: DefaultChannels,
				Clip:     DefaultClip,
			},
			Models: ModelsConfig{
				IMU:     ModelConfig{Labels: "upper"},
				Drawing: ModelConfig{Labels: "upper", InputSize: DefaultDrawingSize},
			},
			History: HistoryConfig{
				TTL:     DefaultHistoryTTL,
				Restore: DefaultHistoryRestore,
			},
			Corrector: CorrectorConfig{
				Endpoint:    DefaultCorrectorURL,
				Model:       DefaultCorrectorModel,
				Temperature: DefaultCorrectorTemp,
				Timeout:     DefaultCorrectorTimeout,
			},
			Stream: StreamConfig{Interval: DefaultStreamInterval},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.GRPCPort <= 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [1, 65535]", s.GRPCPort)
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return fmt.Errorf("server.log_level %q unknown: want debug|info|warn|error", s.LogLevel)
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	if s.Auth.Mode == "apikey" && s.Auth.KeyEnv == "" {
		return fmt.Errorf("server.auth.key_env is required when mode is apikey")
	}
	switch s.Collection.Source {
	case "simulated", "push":
	default:
		return fmt.Errorf("server.collection.source %q unknown: want simulated|push", s.Collection.Source)
	}
	if s.Collection.SampleRateHz <= 0 {
		return fmt.Errorf("server.collection.sample_rate_hz must be positive")
	}
	if s.Collection.StopTimeout <= 0 {
		return fmt.Errorf("server.collection.stop_timeout must be positive")
	}
	if s.Collection.PushBuffer <= 0 {
		return fmt.Errorf("server.collection.push_buffer must be positive")
	}
	if s.Normalize.MaxLen <= 0 {
		return fmt.Errorf("server.normalize.max_len must be positive")
	}
	if s.Normalize.Channels < 6 {
		return fmt.Errorf("server.normalize.channels %d must be at least 6", s.Normalize.Channels)
	}
	if s.Normalize.Clip <= 0 {
		return fmt.Errorf("server.normalize.clip must be positive")
	}
	for name, m := range map[string]ModelConfig{"imu": s.Models.IMU, "drawing": s.Models.Drawing} {
		switch m.Labels {
		case "upper", "lower", "english_malayalam":
		default:
			return fmt.Errorf("server.models.%s.labels %q unknown: want upper|lower|english_malayalam", name, m.Labels)
		}
	}
	if s.Models.Drawing.InputSize <= 0 {
		return fmt.Errorf("server.models.drawing.input_size must be positive")
	}
	if s.History.TTL < 0 {
		return fmt.Errorf("server.history.ttl must not be negative")
	}
	if s.Corrector.Temperature < 0 {
		return fmt.Errorf("server.corrector.temperature must not be negative")
	}
	if s.Stream.Interval <= 0 {
		return fmt.Errorf("server.stream.interval must be positive")
	}
	return nil
}
