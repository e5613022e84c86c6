package tlsutil

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// aeadSuites are the TLS 1.2 suites offered. TLS 1.3 suites are not
// configurable and are all AEAD.
var aeadSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// TransportConfig tunes an outbound transport.
type TransportConfig struct {
	// DialTimeout bounds TCP connection setup
	DialTimeout time.Duration
	// ResponseHeaderTimeout bounds the wait for response headers; 0 disables it
	ResponseHeaderTimeout time.Duration
	// MaxIdleConnsPerHost idle connections kept per provider host
	MaxIdleConnsPerHost int
}

// DefaultTransportConfig returns the settings used for provider traffic.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		DialTimeout:         10 * time.Second,
		MaxIdleConnsPerHost: 8,
	}
}

// DefaultTLSConfig returns a hardened client TLS configuration.
func DefaultTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: append([]uint16(nil), aeadSuites...),
	}
}

// RedisTLSConfig returns the TLS config for the journal's Redis connection,
// or nil when TLS is off.
func RedisTLSConfig(enabled bool, serverName string) *tls.Config {
	if !enabled {
		return nil
	}
	cfg := DefaultTLSConfig()
	if host, _, err := net.SplitHostPort(serverName); err == nil {
		serverName = host
	}
	cfg.ServerName = serverName
	return cfg
}

// NewTransport returns an http.Transport with TLS hardening.
func NewTransport(cfg TransportConfig) *http.Transport {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultTransportConfig().DialTimeout
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = DefaultTransportConfig().MaxIdleConnsPerHost
	}
	return &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: DefaultTLSConfig(),
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// NewClient returns an http.Client on a hardened transport. It sets no
// overall Timeout: each attempt carries its own context deadline.
func NewClient(cfg TransportConfig) *http.Client {
	return &http.Client{Transport: NewTransport(cfg)}
}
