package types

import (
	"math"
	"time"
)

// MaxSeconds is the largest whole number of seconds a time.Duration holds.
// Intervals and snoozes above it are rejected.
const MaxSeconds = uint64(math.MaxInt64 / int64(time.Second))

// ReportRequest is the body of POST /reporter/{probe}/{node}/.
//
// Push nodes send Load; Local nodes send Health. Interval is the number of
// seconds until the next report is due and drives staleness expiry.
type ReportRequest struct {
	Replica  string      `json:"replica"`
	Interval uint64      `json:"interval"`
	Load     *ReportLoad `json:"load,omitempty"`
	Health   *Status     `json:"health,omitempty"`
}

// ReportLoad is the host load snapshot sent by a push reporter.
// CPU and RAM are ratios where 1.0 means fully used.
type ReportLoad struct {
	CPU   float64          `json:"cpu"`
	RAM   float64          `json:"ram"`
	Queue *ReportLoadQueue `json:"queue,omitempty"`
}

// ReportLoadQueue carries the reporter's own view of its work queue.
type ReportLoadQueue struct {
	Loaded  bool `json:"loaded"`
	Stalled bool `json:"stalled"`
}
