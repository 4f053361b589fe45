// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces the harvest coordinator uses to report run progress. Events are
// batched on a background goroutine and fanned out to pluggable sinks such as
// Prometheus metrics, structured logs, or the in-memory run tracker behind the
// status server.
package progress
