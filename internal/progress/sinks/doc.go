// Package sinks implements concrete job log consumers: the job log tables,
// the structured logger and Prometheus. Each sink satisfies progress.Sink and
// is safe for repeated Consume/Close cycles.
package sinks
