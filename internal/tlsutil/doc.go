// Package tlsutil builds the hardened outbound transports used to reach image
// providers, the relay upstream, and Redis: TLS 1.2 or newer with AEAD-only
// cipher suites.
package tlsutil
