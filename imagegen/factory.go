package imagegen

import (
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Adapter names accepted by NewProvider.
const (
	AdapterHuggingFace  = "huggingface"
	AdapterPollinations = "pollinations"
	AdapterUnsplash     = "unsplash"
	AdapterRelay        = "relay"
)

// NewProvider creates a Provider from its spec. spec.Adapter selects the
// implementation and defaults to spec.Name.
//
// Supported adapters: huggingface, pollinations, unsplash, relay.
func NewProvider(spec ProviderSpec, client *http.Client, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(spec.Name) == "" {
		return nil, fmt.Errorf("provider name is required")
	}

	adapter := strings.ToLower(spec.Adapter)
	if adapter == "" {
		adapter = strings.ToLower(spec.Name)
	}

	switch adapter {
	case AdapterHuggingFace, "hf":
		return NewHuggingFaceProvider(spec, client, logger), nil
	case AdapterPollinations:
		return NewPollinationsProvider(spec, client, logger), nil
	case AdapterUnsplash:
		return NewUnsplashProvider(spec, client, logger), nil
	case AdapterRelay:
		if spec.Endpoint == "" {
			return nil, fmt.Errorf("provider %q: relay adapter requires an endpoint", spec.Name)
		}
		return NewRelayProvider(spec, client, logger), nil
	default:
		return nil, fmt.Errorf("provider %q: unknown adapter %q", spec.Name, adapter)
	}
}

// NewProviders creates every provider in specs, stopping at the first error.
func NewProviders(specs []ProviderSpec, client *http.Client, logger *zap.Logger) ([]Provider, error) {
	providers := make([]Provider, 0, len(specs))
	for _, spec := range specs {
		p, err := NewProvider(spec, client, logger)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, nil
}
