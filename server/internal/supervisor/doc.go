// Package supervisor keeps the poll, script and aggregation loops alive.
// A task that fails or panics is restarted after a short delay; only
// context cancellation stops it for good.
package supervisor
