// Package telemetry provides structured logging and metrics for archstrap.
//
// Logging builds on zerolog. Every sink, console and file alike, is wrapped
// in a RedactingWriter that masks registered secret values before the bytes
// leave the process, so no log path can leak a credential. Metrics are
// Prometheus collectors fed by the engine through the Observer interface.
package telemetry
