// Package api implements the HTTP responder and manager API for the vigil
// server.
//
// New(store, branding, gatherer) returns an http.Handler that serves:
//
//	GET /status/text     global status as a bare word (healthy|sick|dead)
//	GET /badge/{kind}    SVG badge of the global status; kinds icon|default
//	GET /api/v1/status   full tree: services, nodes, replicas, metrics
//	GET /api/v1/health   global status, per-status service counts, dead replicas
//	GET /metrics         Prometheus exposition (when a gatherer is given)
//
// NewManager(store) serves the operator API, mounted behind the manager token:
//
//	GET    /manager/prober/alerts/ignored  remaining reminder snooze
//	PUT    /manager/prober/alerts/ignored  snooze reminders {"reminders_seconds": N}
//	DELETE /manager/prober/alerts/ignored  lift the snooze
//
// The responder only reads the store under its shared lock. JSON types are
// defined in types.go. No external HTTP framework is used.
package api
