// Loader and default configuration tests.
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEnv(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

// --- defaults ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 3001, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 3, cfg.Acquisition.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Acquisition.DefaultBackoff)
	assert.Equal(t, 60*time.Second, cfg.Acquisition.RequestTimeout)
	assert.Equal(t, 150*time.Second, cfg.Acquisition.Deadline)
	assert.Less(t, cfg.Acquisition.Deadline, cfg.Server.WriteTimeout)

	require.Len(t, cfg.Providers, 3)
	assert.Equal(t, "huggingface", cfg.Providers[0].Name)
	assert.Equal(t, "bearer", cfg.Providers[0].Auth)
	assert.Equal(t, "pollinations", cfg.Providers[1].Name)
	assert.Equal(t, "unsplash", cfg.Providers[2].Name)

	assert.True(t, cfg.Relay.Enabled)
	assert.Equal(t, "/api/hf/", cfg.Relay.Prefix)
	assert.False(t, cfg.Journal.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)

	assert.NoError(t, cfg.Validate())
}

// --- loader ---

func TestLoader_LoadDefaults(t *testing.T) {
	l := NewLoader()
	l.lookupEnv = fakeEnv(nil)

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 3001, cfg.Server.HTTPPort)
	assert.Empty(t, cfg.Providers[0].Credential)
	assert.Empty(t, cfg.Providers[1].Credential)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
server:
  http_port: 8888
  read_timeout: 45s
  cors_allowed_origins: ["http://localhost:5173"]

acquisition:
  max_attempts: 5
  default_backoff: 2s

providers:
  - name: backup
    adapter: relay
    endpoint: http://backup.internal/api/generate
    response_shape: json
    priority: 1
  - name: pollinations
    priority: 2

log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o600))

	l := NewLoader().WithConfigPath(configPath)
	l.lookupEnv = fakeEnv(nil)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, 5, cfg.Acquisition.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Acquisition.DefaultBackoff)
	// unset keys keep defaults
	assert.Equal(t, 60*time.Second, cfg.Acquisition.MaxBackoff)

	// the file's provider list replaces the defaults
	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "backup", cfg.Providers[0].Name)
	assert.Equal(t, "json", cfg.Providers[0].ResponseShape)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_MissingFileKeepsDefaults(t *testing.T) {
	l := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml"))
	l.lookupEnv = fakeEnv(nil)

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 3001, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unclosed"), 0o600))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestLoader_EnvOverrides(t *testing.T) {
	l := NewLoader()
	l.lookupEnv = fakeEnv(map[string]string{
		"IMAGERELAY_SERVER_HTTP_PORT":            "9000",
		"IMAGERELAY_SERVER_RATE_LIMIT_RPS":       "2.5",
		"IMAGERELAY_SERVER_CORS_ALLOWED_ORIGINS": "http://a.test, http://b.test",
		"IMAGERELAY_ACQUISITION_DEFAULT_BACKOFF": "750ms",
		"IMAGERELAY_JOURNAL_ENABLED":             "true",
		"IMAGERELAY_TELEMETRY_SAMPLE_RATE":       "1",
		"HF_TOKEN":                               " hf_abc ",
		"UNSPLASH_ACCESS_KEY":                    "unsplash-key",
	})

	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 2.5, cfg.Server.RateLimitRPS)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, 750*time.Millisecond, cfg.Acquisition.DefaultBackoff)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, 1.0, cfg.Telemetry.SampleRate)

	assert.Equal(t, "hf_abc", cfg.Providers[0].Credential)
	assert.Equal(t, "unsplash-key", cfg.Providers[2].Credential)
	assert.Equal(t, "hf_abc", cfg.Relay.Credential)
}

func TestLoader_EnvParseError(t *testing.T) {
	l := NewLoader()
	l.lookupEnv = fakeEnv(map[string]string{"IMAGERELAY_ACQUISITION_MAX_ATTEMPTS": "many"})

	_, err := l.Load()
	assert.Error(t, err)
}

func TestLoader_Validators(t *testing.T) {
	l := NewLoader().WithValidator(func(c *Config) error { return c.Validate() })
	l.lookupEnv = fakeEnv(map[string]string{"IMAGERELAY_ACQUISITION_MAX_ATTEMPTS": "0"})

	_, err := l.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_attempts")
}

// --- validation ---

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.HTTPPort = 0
	cfg.Server.MetricsPort = 0
	cfg.Providers = append(cfg.Providers,
		ProviderConfig{Name: "pollinations"},
		ProviderConfig{Name: "mystery"},
		ProviderConfig{Name: "proxy", Adapter: "relay", Auth: "basic", ResponseShape: "xml"},
	)
	cfg.Journal.Enabled = true
	cfg.Journal.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "invalid HTTP port")
	assert.Contains(t, msg, `duplicate name "pollinations"`)
	assert.Contains(t, msg, `unknown adapter "mystery"`)
	assert.Contains(t, msg, "auth must be none or bearer")
	assert.Contains(t, msg, "response_shape must be raw or json")
	assert.Contains(t, msg, "relay adapter requires an endpoint")
	assert.Contains(t, msg, "journal.addr")
}

func TestConfig_ValidateDeadlineBelowWriteTimeout(t *testing.T) {
	tests := []struct {
		name     string
		write    time.Duration
		deadline time.Duration
		wantErr  bool
	}{
		{name: "defaults", write: 3 * time.Minute, deadline: 150 * time.Second},
		{name: "no deadline", write: 3 * time.Minute, deadline: 0, wantErr: true},
		{name: "deadline equals write timeout", write: time.Minute, deadline: time.Minute, wantErr: true},
		{name: "deadline beyond write timeout", write: time.Minute, deadline: 2 * time.Minute, wantErr: true},
		{name: "write timeout disabled", write: 0, deadline: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Server.WriteTimeout = tt.write
			cfg.Acquisition.Deadline = tt.deadline

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "acquisition.deadline")
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConfig_Redacted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers[0].Credential = "hf_secret"
	cfg.Relay.Credential = "hf_secret"
	cfg.Journal.Password = "pw"

	red := cfg.Redacted()
	assert.Equal(t, "***", red.Providers[0].Credential)
	assert.Equal(t, "***", red.Relay.Credential)
	assert.Equal(t, "***", red.Journal.Password)
	// the original is untouched
	assert.Equal(t, "hf_secret", cfg.Providers[0].Credential)
}
