// Package store holds the runtime health tree: services (probes), their
// nodes, and each node's replicas, plus the reminder state and the time of
// the last dispatched notification.
//
// A single sync.RWMutex guards the whole tree. Readers (responder, prober
// snapshots) take the shared lock; writers (prober write-back, aggregator
// pass, reporter API) take the exclusive lock. The prober copies what it
// needs with PollTargets/ScriptTargets, releases the lock for I/O, and writes
// one replica at a time with SetProbeResult.
//
// The shape of the tree is fixed at New except for push and local nodes,
// whose replicas appear on their first report and can be flushed.
package store
