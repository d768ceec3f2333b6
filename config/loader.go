package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete daemon configuration.
type Config struct {
	// Agent identifies this agent on the relay network.
	Agent AgentConfig `yaml:"agent" env:"AGENT"`

	// Project configures the project this agent serves.
	Project ProjectConfig `yaml:"project" env:"PROJECT"`

	// Relay configures the relay connection.
	Relay RelayConfig `yaml:"relay" env:"RELAY"`

	// Signer configures event signing.
	Signer SignerConfig `yaml:"signer" env:"SIGNER"`

	// Conversations configures the conversation store.
	Conversations ConversationsConfig `yaml:"conversations" env:"CONVERSATIONS"`

	// Database configures the durable project store.
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log configures logging.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry configures tracing and metrics export.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// AgentConfig identifies this agent.
type AgentConfig struct {
	// Slug is the human-readable agent name.
	Slug string `yaml:"slug" env:"SLUG"`
	// SeedHex is the hex-encoded ed25519 seed of the local signing key.
	// Ignored when a remote signer is configured.
	SeedHex string `yaml:"seed_hex" env:"SEED_HEX"`
}

// ProjectConfig configures the served project.
type ProjectConfig struct {
	ID   string `yaml:"id" env:"ID"`
	Name string `yaml:"name" env:"NAME"`
	// OwnerPubkey identifies the human project owner.
	OwnerPubkey string `yaml:"owner_pubkey" env:"OWNER_PUBKEY"`
	OwnerSlug   string `yaml:"owner_slug" env:"OWNER_SLUG"`
	// EscalationAgentSlug optionally routes ask calls through a proxy
	// agent before they reach the owner.
	EscalationAgentSlug string `yaml:"escalation_agent_slug" env:"ESCALATION_AGENT_SLUG"`
}

// RelayConfig configures the relay websocket client.
type RelayConfig struct {
	URL            string        `yaml:"url" env:"URL"`
	PublishTimeout time.Duration `yaml:"publish_timeout" env:"PUBLISH_TIMEOUT"`
	// PublishRate caps outgoing events per second.
	PublishRate  float64 `yaml:"publish_rate" env:"PUBLISH_RATE"`
	PublishBurst int     `yaml:"publish_burst" env:"PUBLISH_BURST"`
}

// SignerConfig configures event signing. A non-empty RemoteURL selects the
// remote signer; otherwise the agent's local seed is used.
type SignerConfig struct {
	RemoteURL    string        `yaml:"remote_url" env:"REMOTE_URL"`
	RemotePubkey string        `yaml:"remote_pubkey" env:"REMOTE_PUBKEY"`
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// ConversationsConfig configures the conversation store backend.
type ConversationsConfig struct {
	// Type selects the backend: memory or redis.
	Type string `yaml:"type" env:"TYPE"`
	// Redis applies when Type is redis.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
}

// RedisConfig configures the redis connection.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	PoolSize  int    `yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DatabaseConfig configures the sqlite-backed project store.
type DatabaseConfig struct {
	// Path is the sqlite database file; ":memory:" keeps it in-process.
	Path string `yaml:"path" env:"PATH"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths are zap sink URLs.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader loads configuration with builder-style options.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("agentmesh.yaml").
//	    Load()
//
// Precedence: defaults, then the YAML file, then environment variables.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the AGENTMESH env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "AGENTMESH",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a validation hook run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load builds the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg. A missing file is not an
// error; the defaults stand.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks the struct, overriding fields whose composed env
// key (PREFIX_SECTION_FIELD) is set.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}

// MustLoad loads configuration from path and panics on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []string

	if c.Agent.Slug == "" {
		errs = append(errs, "agent slug is required")
	}
	if c.Relay.URL == "" {
		errs = append(errs, "relay url is required")
	}
	if c.Relay.PublishRate <= 0 {
		errs = append(errs, "relay publish_rate must be positive")
	}
	if c.Signer.RemoteURL == "" && c.Agent.SeedHex == "" {
		errs = append(errs, "either a local seed or a remote signer is required")
	}
	if c.Signer.RemoteURL != "" && c.Signer.RemotePubkey == "" {
		errs = append(errs, "remote signer requires a pubkey")
	}
	switch c.Conversations.Type {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unknown conversation store type %q", c.Conversations.Type))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
