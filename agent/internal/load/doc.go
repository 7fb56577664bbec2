// Package load samples host CPU and memory pressure for vigil-agent push
// reports.
package load
