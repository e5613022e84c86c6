// =============================================================================
// imagerelay default configuration
// =============================================================================
package config

import "time"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:      DefaultServerConfig(),
		Acquisition: DefaultAcquisitionConfig(),
		Providers:   DefaultProviders(),
		Relay:       DefaultRelayConfig(),
		Journal:     DefaultJournalConfig(),
		Log:         DefaultLogConfig(),
		Telemetry:   DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default HTTP server settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        3001,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    3 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    10,
		RateLimitBurst:  20,
		MaxBodyBytes:    10 << 20,
	}
}

// DefaultAcquisitionConfig returns the default retry and fallback settings.
func DefaultAcquisitionConfig() AcquisitionConfig {
	return AcquisitionConfig{
		MaxAttempts:    3,
		DefaultBackoff: 5 * time.Second,
		MaxBackoff:     60 * time.Second,
		RequestTimeout: 60 * time.Second,
		MaxConcurrent:  16,
		Deadline:       150 * time.Second,
	}
}

// DefaultProviders returns Hugging Face first, then the keyless providers.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			Name:          "huggingface",
			Adapter:       "huggingface",
			Model:         "runwayml/stable-diffusion-v1-5",
			EditModel:     "lllyasviel/control_v1p_sd15_brightness",
			Auth:          "bearer",
			CredentialEnv: "HF_TOKEN",
			ResponseShape: "raw",
			Priority:      1,
		},
		{
			Name:          "pollinations",
			Adapter:       "pollinations",
			Auth:          "none",
			ResponseShape: "raw",
			Priority:      2,
			Width:         512,
			Height:        512,
		},
		{
			Name:          "unsplash",
			Adapter:       "unsplash",
			Auth:          "none",
			CredentialEnv: "UNSPLASH_ACCESS_KEY",
			ResponseShape: "raw",
			Priority:      3,
		},
	}
}

// DefaultRelayConfig returns the default relay settings.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Enabled:       true,
		Prefix:        "/api/hf/",
		Target:        "https://router.huggingface.co/hf-inference/",
		CredentialEnv: "HF_TOKEN",
	}
}

// DefaultJournalConfig returns the default journal settings.
func DefaultJournalConfig() JournalConfig {
	return JournalConfig{
		Enabled:    false,
		Addr:       "localhost:6379",
		DB:         0,
		Key:        "imagerelay:failures",
		MaxEntries: 200,
		TTL:        24 * time.Hour,
	}
}

// DefaultLogConfig returns the default logging settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns the default telemetry settings.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "imagerelay",
		SampleRate:   0.1,
	}
}
