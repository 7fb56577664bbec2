package types

import (
	"fmt"
)

// Status is the health severity of a replica, node, service or the whole
// monitor. Values are ordered: Healthy < Sick < Dead.
type Status int

const (
	StatusHealthy Status = iota
	StatusSick
	StatusDead
)

// String returns the lowercase name used in JSON, YAML and the text endpoint.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusSick:
		return "sick"
	case StatusDead:
		return "dead"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseStatus converts "healthy", "sick" or "dead" into a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "healthy":
		return StatusHealthy, nil
	case "sick":
		return StatusSick, nil
	case "dead":
		return StatusDead, nil
	default:
		return StatusHealthy, fmt.Errorf("unknown status %q", s)
	}
}

// Merge folds a child status into the current rollup value.
//
// A Dead candidate always wins; a Sick candidate wins unless the rollup is
// already Dead; a Healthy candidate never changes the result. Folding every
// child through Merge yields the maximum severity, and an already-Dead value
// can never be downgraded by a later sibling.
func (s Status) Merge(candidate Status) Status {
	switch {
	case candidate == StatusDead:
		return StatusDead
	case candidate == StatusSick && s != StatusDead:
		return StatusSick
	default:
		return s
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Mode determines how a node's replicas obtain their status.
type Mode string

const (
	// ModePoll replicas are actively checked over ICMP, TCP or HTTP.
	ModePoll Mode = "poll"
	// ModePush replicas report their own load and are expired when silent.
	ModePush Mode = "push"
	// ModeScript replicas are shell commands whose exit code is the status.
	ModeScript Mode = "script"
	// ModeLocal replicas report their own status and are expired when silent.
	ModeLocal Mode = "local"
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModePoll, ModePush, ModeScript, ModeLocal:
		return true
	}
	return false
}
