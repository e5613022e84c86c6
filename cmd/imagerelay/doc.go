// Command imagerelay serves POST /api/generate, which acquires an image from
// a prioritized chain of providers (Hugging Face, Pollinations, Unsplash or a
// JSON relay) with per-provider retries and fallback.
//
// Subcommands: serve, health, version, help. Metrics are exposed on a
// separate port at /metrics.
package main
