package api

import "github.com/obsidianstack/vigil/pkg/types"

// StatusResponse is the payload for GET /api/v1/status and the data of every
// WebSocket broadcast.
type StatusResponse struct {
	Status      types.Status    `json:"status"`
	Date        string          `json:"date"`
	Page        PageResponse    `json:"page"`
	Probes      []ProbeResponse `json:"probes"`
	GeneratedAt string          `json:"generated_at"` // RFC3339
}

// PageResponse carries the branding shown next to the status.
type PageResponse struct {
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

// ProbeResponse is one service in the status tree.
type ProbeResponse struct {
	ID     string         `json:"id"`
	Label  string         `json:"label"`
	Status types.Status   `json:"status"`
	Nodes  []NodeResponse `json:"nodes"`
}

// NodeResponse is one node of a service.
type NodeResponse struct {
	ID       string            `json:"id"`
	Label    string            `json:"label"`
	Mode     types.Mode        `json:"mode"`
	Status   types.Status      `json:"status"`
	Replicas []ReplicaResponse `json:"replicas"`
}

// ReplicaResponse is one replica of a node. Script bodies are never exposed.
type ReplicaResponse struct {
	ID         string          `json:"id"`
	Status     types.Status    `json:"status"`
	URL        string          `json:"url,omitempty"`
	LatencyMS  *int64          `json:"latency_ms,omitempty"`
	System     *SystemResponse `json:"system,omitempty"`
	Queue      *QueueResponse  `json:"queue,omitempty"`
	LastReport string          `json:"last_report,omitempty"` // RFC3339
}

// SystemResponse is the reported host load in percent.
type SystemResponse struct {
	CPU uint16 `json:"cpu"`
	RAM uint16 `json:"ram"`
}

// QueueResponse is the last observed queue depth.
type QueueResponse struct {
	Ready uint64 `json:"ready"`
	Nack  uint64 `json:"nack"`
}

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status       types.Status `json:"status"`
	Date         string       `json:"date"`
	ProbeCount   int          `json:"probe_count"`
	HealthyCount int          `json:"healthy_count"`
	SickCount    int          `json:"sick_count"`
	DeadCount    int          `json:"dead_count"`
	DeadReplicas []string     `json:"dead_replicas"`
}

// IgnoredRequest is the body of PUT /manager/prober/alerts/ignored.
type IgnoredRequest struct {
	RemindersSeconds uint64 `json:"reminders_seconds"`
}

// IgnoredResponse reports the active reminder snooze. RemindersSeconds is
// the time left, zero when reminders are not snoozed.
type IgnoredResponse struct {
	RemindersSeconds uint64 `json:"reminders_seconds"`
	Until            string `json:"until,omitempty"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
