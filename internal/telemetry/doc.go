// Package telemetry wraps OpenTelemetry SDK initialization, providing the
// daemon's TracerProvider and MeterProvider. When telemetry is disabled the
// globals stay noop and no external connection is made.
package telemetry
