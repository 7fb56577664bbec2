// Package metrics exposes the server's Prometheus collectors: probe results
// and latency, cycle durations, rolled-up statuses, notification deliveries,
// reporter traffic and supervisor restarts.
package metrics
