/*
Package types holds the error envelope shared by the HTTP boundary.

# Core types

  - ErrorCode: stable machine-readable code returned to clients.
  - Error: code + message + HTTP status + retryable flag, chainable through WithCause.
*/
package types
