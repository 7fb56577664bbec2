// Package prober actively checks poll and script replicas.
//
// Two loops (RunPoll, RunScript) each take a detached snapshot of their
// replicas from the store, split it into ceil(N/P) contiguous chunks and
// probe every chunk sequentially in its own goroutine. A cycle ends when all
// chunks are done; the loop then waits its interval before the next cycle.
//
// Poll protocols:
//   - icmp://host      echo every resolved address, slowest reply is the latency
//   - tcp://host:port  connect to the first resolved address
//   - http(s)://...    status range and optional body match, no redirects
//
// An unreachable poll replica is retried poll_retry times with a 500ms hold
// before each retry. A reachable replica slower than poll_delay_sick is sick,
// as is an HTTPS replica whose certificate expires within
// poll_tls_expiry_sick_within when that is set.
// Nodes that name a broker queue are further gated on the queue depth read
// from the broker's Prometheus endpoint.
//
// Scripts run with sh -c: exit 0 is healthy, 1 is sick, anything else dead.
//
// Results are written back one replica at a time with store.SetProbeResult.
package prober
