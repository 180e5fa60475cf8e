package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultServerURL      = "http://127.0.0.1:5000"
	DefaultServerEndpoint = "127.0.0.1:50051"
	DefaultSourceType     = "simulated"
	DefaultRateHz         = 50
	DefaultNoise          = 0.05
	DefaultBatchSize      = 25
	DefaultFlushInterval  = 500 * time.Millisecond
	DefaultBufferSize     = 1000
	DefaultHeader         = "x-api-key"
)

// Config is the top-level agent configuration.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ServerURL is the base URL of the airscribe-server HTTP API.
	ServerURL string `yaml:"server_url"`

	// ServerEndpoint is the gRPC address (host:port) probed for readiness.
	ServerEndpoint string `yaml:"server_endpoint"`

	// DeviceID identifies this agent in shipped batches. Defaults to the hostname.
	DeviceID string `yaml:"device_id"`

	// LogLevel is one of debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	// Source selects where IMU samples come from.
	Source SourceConfig `yaml:"source"`

	// BatchSize is the maximum number of samples per POST.
	BatchSize int `yaml:"batch_size"`

	// FlushInterval sends a partial batch after this long.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// BufferSize is the maximum number of samples held in memory when
	// the server is unreachable.
	BufferSize int `yaml:"buffer_size"`

	// ServerAuth configures how the agent authenticates to airscribe-server.
	ServerAuth AuthConfig `yaml:"server_auth"`
}

// SourceConfig describes the IMU sample reader.
type SourceConfig struct {
	// Type is one of: simulated | replay.
	Type string `yaml:"type"`

	// Path is the recording replayed when Type == "replay".
	Path string `yaml:"path"`

	// RateHz is the number of samples produced per second.
	RateHz int `yaml:"rate_hz"`

	// Noise is the standard deviation of the simulated sensor noise.
	Noise float64 `yaml:"noise"`
}

// AuthConfig specifies how the agent authenticates to the server.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header is the HTTP header and gRPC metadata key the API key is sent in.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header == "" {
		return DefaultHeader
	}
	return strings.ToLower(a.Header)
}

// Level maps LogLevel to a slog.Level, defaulting to info.
func (a AgentConfig) Level() slog.Level {
	switch strings.ToLower(a.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return defaults()
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "airscribe-agent"
	}
	return &Config{
		Agent: AgentConfig{
			ServerURL:      DefaultServerURL,
			ServerEndpoint: DefaultServerEndpoint,
			DeviceID:       host,
			LogLevel:       "info",
			Source: SourceConfig{
				Type:   DefaultSourceType,
				RateHz: DefaultRateHz,
				Noise:  DefaultNoise,
			},
			BatchSize:     DefaultBatchSize,
			FlushInterval: DefaultFlushInterval,
			BufferSize:    DefaultBufferSize,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.ServerURL == "" {
		return fmt.Errorf("agent.server_url is required")
	}
	if !strings.HasPrefix(a.ServerURL, "http://") && !strings.HasPrefix(a.ServerURL, "https://") {
		return fmt.Errorf("agent.server_url %q must start with http:// or https://", a.ServerURL)
	}
	if a.DeviceID == "" {
		return fmt.Errorf("agent.device_id must not be empty")
	}
	switch a.Source.Type {
	case "simulated":
	case "replay":
		if a.Source.Path == "" {
			return fmt.Errorf("agent.source.path is required for replay")
		}
	default:
		return fmt.Errorf("agent.source.type: unknown type %q", a.Source.Type)
	}
	if a.Source.RateHz <= 0 {
		return fmt.Errorf("agent.source.rate_hz must be positive")
	}
	if a.Source.Noise < 0 {
		return fmt.Errorf("agent.source.noise must not be negative")
	}
	if a.BatchSize <= 0 {
		return fmt.Errorf("agent.batch_size must be positive")
	}
	if a.FlushInterval <= 0 {
		return fmt.Errorf("agent.flush_interval must be positive")
	}
	if a.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	switch a.ServerAuth.Mode {
	case "none", "":
	case "apikey":
		if a.ServerAuth.KeyEnv == "" {
			return fmt.Errorf("agent.server_auth.key_env is required for apikey mode")
		}
	case "mtls":
		if a.ServerAuth.CertFile == "" || a.ServerAuth.KeyFile == "" {
			return fmt.Errorf("agent.server_auth: cert_file and key_file are required for mtls mode")
		}
	default:
		return fmt.Errorf("agent.server_auth: unknown mode %q", a.ServerAuth.Mode)
	}
	return nil
}
