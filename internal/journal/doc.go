// Package journal records terminal image-acquisition failures in a bounded
// Redis list for the diagnostics endpoint.
package journal
