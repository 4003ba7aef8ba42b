// Package progress carries job log lines from running tasks to their sinks.
// Emit never blocks the task; a background goroutine batches events and fans
// them out to sinks that persist them to the job log tables, write them to
// the structured log, or count them in Prometheus.
package progress
