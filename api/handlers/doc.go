/*
Package handlers implements the imagerelay HTTP endpoints.

  - GenerateHandler: POST /api/generate, JSON or multipart, text or image edit
  - HealthHandler: /health, /healthz, /ready (pluggable HealthCheck) and /version
  - DiagnosticsHandler: recent terminal failures from the Redis journal

Every error is written as an api.ErrorResponse whose status is derived from
its types.ErrorCode. Terminal acquisition failures map to 500 (missing
credential), 502 (providers exhausted), 503 with Retry-After (transient) and
422 (unsupported).
*/
package handlers
