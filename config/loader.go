// =============================================================================
// imagerelay configuration loader
// =============================================================================
// YAML file plus environment variable overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("IMAGERELAY").
//	    Load()
//
// Priority: defaults → YAML file → environment variables
// =============================================================================
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

// =============================================================================
// Configuration structure
// =============================================================================

// Config is the complete imagerelay configuration.
type Config struct {
	// Server HTTP server settings
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Acquisition retry and fallback settings
	Acquisition AcquisitionConfig `yaml:"acquisition" env:"ACQUISITION"`

	// Providers ordered provider list; YAML only
	Providers []ProviderConfig `yaml:"providers" env:"-"`

	// Relay credential-hiding reverse proxy
	Relay RelayConfig `yaml:"relay" env:"RELAY"`

	// Journal Redis-backed failure journal
	Journal JournalConfig `yaml:"journal" env:"JOURNAL"`

	// Log logging settings
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry OpenTelemetry export
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig HTTP server settings.
type ServerConfig struct {
	HTTPPort           int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort        int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout        time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout       time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// RateLimitRPS per-IP inbound limit, 0 disables it
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// MaxBodyBytes upper bound on request bodies (source images included)
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
}

// AcquisitionConfig retry and fallback settings.
type AcquisitionConfig struct {
	// MaxAttempts per provider per request, first call included
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// DefaultBackoff wait used when a provider gives no hint
	DefaultBackoff time.Duration `yaml:"default_backoff" env:"DEFAULT_BACKOFF"`
	// MaxBackoff cap on any provider hint
	MaxBackoff time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
	// RequestTimeout per outbound call
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	// MaxConcurrent in-flight acquisitions, 0 is unbounded
	MaxConcurrent int `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	// Deadline for a whole acquisition; 必须小于 server.write_timeout
	Deadline time.Duration `yaml:"deadline" env:"DEADLINE"`
}

// ProviderConfig one external image source.
type ProviderConfig struct {
	Name      string `yaml:"name"`
	Adapter   string `yaml:"adapter"`
	Endpoint  string `yaml:"endpoint"`
	Model     string `yaml:"model"`
	EditModel string `yaml:"edit_model"`
	// Auth none or bearer
	Auth string `yaml:"auth"`
	// Credential literal secret; prefer CredentialEnv
	Credential    string `yaml:"credential"`
	CredentialEnv string `yaml:"credential_env"`
	// ResponseShape raw or json
	ResponseShape  string  `yaml:"response_shape"`
	Priority       int     `yaml:"priority"`
	Width          int     `yaml:"width"`
	Height         int     `yaml:"height"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// RelayConfig credential-hiding reverse proxy.
type RelayConfig struct {
	Enabled       bool   `yaml:"enabled" env:"ENABLED"`
	Prefix        string `yaml:"prefix" env:"PREFIX"`
	Target        string `yaml:"target" env:"TARGET"`
	Credential    string `yaml:"credential" env:"CREDENTIAL"`
	CredentialEnv string `yaml:"credential_env" env:"CREDENTIAL_ENV"`
}

// JournalConfig Redis failure journal.
type JournalConfig struct {
	Enabled    bool          `yaml:"enabled" env:"ENABLED"`
	Addr       string        `yaml:"addr" env:"ADDR"`
	Password   string        `yaml:"password" env:"PASSWORD"`
	DB         int           `yaml:"db" env:"DB"`
	TLS        bool          `yaml:"tls" env:"TLS"`
	Key        string        `yaml:"key" env:"KEY"`
	MaxEntries int64         `yaml:"max_entries" env:"MAX_ENTRIES"`
	TTL        time.Duration `yaml:"ttl" env:"TTL"`
}

// LogConfig logging settings.
type LogConfig struct {
	// Level debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format json, console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// Loader
// =============================================================================

// Loader builds a Config (builder pattern).
type Loader struct {
	configPath string
	envPrefix  string
	lookupEnv  func(string) string
	validators []func(*Config) error
}

// NewLoader creates a loader with the IMAGERELAY prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "IMAGERELAY",
		lookupEnv:  os.Getenv,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a validator run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load builds the configuration.
// Priority: defaults → YAML file → environment variables
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

	l.resolveCredentials(cfg)

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile reads YAML; a missing file keeps the defaults.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// A providers list in the file replaces the default list entirely.
	var probe struct {
		Providers []ProviderConfig `yaml:"providers"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if probe.Providers != nil {
		cfg.Providers = nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks struct fields recursively using their env tags.
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

		envValue := l.lookupEnv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// resolveCredentials fills empty credentials from their named variables.
// Credentials are resolved once here and never re-read.
func (l *Loader) resolveCredentials(cfg *Config) {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Credential == "" && p.CredentialEnv != "" {
			p.Credential = strings.TrimSpace(l.lookupEnv(p.CredentialEnv))
		}
	}
	if cfg.Relay.Credential == "" && cfg.Relay.CredentialEnv != "" {
		cfg.Relay.Credential = strings.TrimSpace(l.lookupEnv(cfg.Relay.CredentialEnv))
	}
}

// setFieldValue parses value into field according to its kind.
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

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

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
		// comma-separated string slices
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

// =============================================================================
// Helpers
// =============================================================================

// MustLoad loads the configuration and panics on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads defaults plus environment overrides only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

var (
	knownAdapters = map[string]bool{"huggingface": true, "hf": true, "pollinations": true, "unsplash": true, "relay": true}
	knownAuth     = map[string]bool{"": true, "none": true, "bearer": true}
	knownShapes   = map[string]bool{"": true, "raw": true, "json": true}
)

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.HTTPPort {
		errs = append(errs, "metrics port must differ from HTTP port")
	}

	if c.Acquisition.MaxAttempts < 1 {
		errs = append(errs, "acquisition.max_attempts must be at least 1")
	}
	if c.Acquisition.DefaultBackoff < 0 {
		errs = append(errs, "acquisition.default_backoff must not be negative")
	}
	if c.Acquisition.MaxBackoff > 0 && c.Acquisition.MaxBackoff < c.Acquisition.DefaultBackoff {
		errs = append(errs, "acquisition.max_backoff must not be below default_backoff")
	}
	if c.Acquisition.RequestTimeout < 0 || c.Acquisition.Deadline < 0 {
		errs = append(errs, "acquisition timeouts must not be negative")
	}
	if wt := c.Server.WriteTimeout; wt > 0 && (c.Acquisition.Deadline <= 0 || c.Acquisition.Deadline >= wt) {
		errs = append(errs, fmt.Sprintf("acquisition.deadline must be set below server.write_timeout (%s)", wt))
	}

	if len(c.Providers) == 0 {
		errs = append(errs, "at least one provider is required")
	}
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			errs = append(errs, fmt.Sprintf("providers[%d]: name is required", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Sprintf("providers[%d]: duplicate name %q", i, name))
		}
		seen[name] = true

		adapter := p.Adapter
		if adapter == "" {
			adapter = name
		}
		if !knownAdapters[strings.ToLower(adapter)] {
			errs = append(errs, fmt.Sprintf("provider %s: unknown adapter %q", name, adapter))
		}
		if !knownAuth[p.Auth] {
			errs = append(errs, fmt.Sprintf("provider %s: auth must be none or bearer", name))
		}
		if !knownShapes[p.ResponseShape] {
			errs = append(errs, fmt.Sprintf("provider %s: response_shape must be raw or json", name))
		}
		if strings.EqualFold(adapter, "relay") && p.Endpoint == "" {
			errs = append(errs, fmt.Sprintf("provider %s: relay adapter requires an endpoint", name))
		}
	}

	if c.Relay.Enabled {
		if !strings.HasPrefix(c.Relay.Prefix, "/") {
			errs = append(errs, "relay.prefix must start with /")
		}
		if c.Relay.Target == "" {
			errs = append(errs, "relay.target is required")
		}
	}

	if c.Journal.Enabled && c.Journal.Addr == "" {
		errs = append(errs, "journal.addr is required when the journal is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Redacted returns a copy safe to log.
func (c *Config) Redacted() Config {
	out := *c
	out.Providers = make([]ProviderConfig, len(c.Providers))
	for i, p := range c.Providers {
		if p.Credential != "" {
			p.Credential = "***"
		}
		out.Providers[i] = p
	}
	if out.Relay.Credential != "" {
		out.Relay.Credential = "***"
	}
	if out.Journal.Password != "" {
		out.Journal.Password = "***"
	}
	return out
}

