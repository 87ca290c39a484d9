// Package observe provides the telemetry surface shared by the resilience
// components: a structured JSON logger, OpenTelemetry metrics for recovery
// executions, breaker transitions, DLQ events, and quota decisions, and an
// Observer that wires up SDK providers and exporters.
package observe
