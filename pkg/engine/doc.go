// Package engine implements the provisioning pipeline: a registry of
// ordered steps, a batch scheduler with bounded parallelism, retry with
// exponential backoff, a stale-lock guard for the shared package database
// and the run report.
//
// Steps are described declaratively through Descriptor values and collected
// in a Registry. The Scheduler groups registered steps into batches by
// order value and executes batches strictly in sequence. Within a batch,
// parallel-safe steps share a worker pool while the rest run serially.
// Before a step executes it passes two gates: the applicability gate (does
// this step make sense for the current context) and the idempotency gate
// (has its effect already been achieved). Steps that clear both gates run
// under the retry policy; only errors classified as transient are retried.
//
// Steps that mutate the system package database are serialized through the
// LockGuard, which also recovers from lock files left behind by crashed
// processes by checking whether the recorded holder is still alive.
//
// A run always produces a RunSummary with one Result per registered step in
// canonical order. Individual step failures never abort the run unless the
// step is marked critical; cancellation stops dispatch, grants in-flight
// steps a bounded grace period and sweeps registered temporary paths.
package engine
