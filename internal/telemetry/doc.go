// Package telemetry wires the OpenTelemetry SDK: OTLP gRPC exporters for
// traces and metrics, registered as the global providers. When telemetry is
// disabled nothing is exported and no connection is made.
package telemetry
