// Package api holds the wire types of the imagerelay HTTP API.
//
// # Endpoints
//
//   - POST /api/generate: acquire an image from a text prompt or edit a source image
//   - ANY /api/hf/*: relay to the Hugging Face router with the server-side token
//   - GET /api/v1/diagnostics/failures: recent terminal failures (journal enabled)
//   - GET /health, /healthz, /ready, /version
//
// Errors share one body:
//
//	{"success": false, "error": "...", "code": "PROVIDERS_EXHAUSTED", "attempts": [...]}
package api
