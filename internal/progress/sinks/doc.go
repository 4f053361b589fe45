// Package sinks implements concrete progress consumers: Prometheus collectors,
// structured logging, and the in-memory run tracker read by the status server.
// Each sink satisfies the progress.Sink interface and is safe for repeated
// Consume/Close cycles.
package sinks
