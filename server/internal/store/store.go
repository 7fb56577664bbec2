package store

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/obsidianstack/vigil/pkg/types"
	"github.com/obsidianstack/vigil/server/internal/config"
)

var (
	// ErrUnknownNode is returned when a report names a probe or node that is
	// not configured.
	ErrUnknownNode = errors.New("store: unknown probe or node")

	// ErrUnknownReplica is returned when flushing a replica that was never
	// reported.
	ErrUnknownReplica = errors.New("store: unknown replica")

	// ErrModeMismatch is returned when a report does not fit the node mode:
	// push nodes take load, local nodes take health, others take neither.
	ErrModeMismatch = errors.New("store: report not accepted for node mode")

	// ErrInvalidReport is returned for a report without a replica id or with
	// an interval too large to represent.
	ErrInvalidReport = errors.New("store: invalid report")
)

// Store is the single lock-guarded health tree shared by the prober, the
// aggregator, the reporter API and the responder. One RWMutex covers the
// whole tree; each lock acquisition is the transaction boundary.
type Store struct {
	mu       sync.RWMutex
	states   *ServiceStates
	notified time.Time // zero until the first notification
}

// New builds the tree from the probe configuration. Every entity starts
// Healthy. Poll nodes must declare replicas, script nodes must declare
// scripts, and neither may appear on any other mode.
func New(probe config.ProbeConfig) (*Store, error) {
	states := &ServiceStates{
		Status:   types.StatusHealthy,
		Probes:   make([]*Probe, 0, len(probe.Services)),
		Notifier: Notifier{ReminderBackoffCounter: 1},
	}

	for _, svc := range probe.Services {
		p := &Probe{
			ID:     svc.ID,
			Label:  svc.Label,
			Status: types.StatusHealthy,
			Nodes:  make([]*Node, 0, len(svc.Nodes)),
		}

		for _, nc := range svc.Nodes {
			node, err := buildNode(svc.ID, nc)
			if err != nil {
				return nil, err
			}
			p.Nodes = append(p.Nodes, node)
		}

		states.Probes = append(states.Probes, p)
		slog.Debug("store: loaded service", "probe", svc.ID, "nodes", len(p.Nodes))
	}

	return &Store{states: states}, nil
}

func buildNode(serviceID string, nc config.NodeConfig) (*Node, error) {
	node := &Node{
		ID:     nc.ID,
		Label:  nc.Label,
		Mode:   nc.Mode,
		Status: types.StatusHealthy,
		HTTP: HTTPOptions{
			Headers:     make(http.Header, len(nc.HTTPHeaders)),
			Method:      strings.ToUpper(nc.HTTPMethod),
			Body:        nc.HTTPBody,
			CacheBuster: !nc.HTTPNoCacheBuster,
		},
	}
	for k, v := range nc.HTTPHeaders {
		node.HTTP.Headers.Set(k, v)
	}
	if nc.HTTPBodyHealthyMatch != "" {
		re, err := regexp.Compile(nc.HTTPBodyHealthyMatch)
		if err != nil {
			return nil, fmt.Errorf("store: node %s:%s: body match: %w", serviceID, nc.ID, err)
		}
		node.HTTP.BodyMatch = re
	}
	if nc.Queue != "" {
		node.Queue = &QueueCheck{
			Queue:            nc.Queue,
			NackHealthyBelow: nc.QueueNackHealthyBelow,
			NackDeadAbove:    nc.QueueNackDeadAbove,
		}
	}

	switch {
	case len(nc.Replicas) > 0 && nc.Mode != types.ModePoll:
		return nil, fmt.Errorf("store: node %s:%s: non-poll node cannot have replicas", serviceID, nc.ID)
	case len(nc.Scripts) > 0 && nc.Mode != types.ModeScript:
		return nil, fmt.Errorf("store: node %s:%s: non-script node cannot have scripts", serviceID, nc.ID)
	case nc.Mode == types.ModePoll && len(nc.Replicas) == 0:
		return nil, fmt.Errorf("store: node %s:%s: poll node needs at least one replica", serviceID, nc.ID)
	case nc.Mode == types.ModeScript && len(nc.Scripts) == 0:
		return nil, fmt.Errorf("store: node %s:%s: script node needs at least one script", serviceID, nc.ID)
	}

	for _, raw := range nc.Replicas {
		if findReplica(node, raw) != nil {
			return nil, fmt.Errorf("store: node %s:%s: duplicate replica %q", serviceID, nc.ID, raw)
		}
		u, err := ParseReplicaURL(raw)
		if err != nil {
			return nil, fmt.Errorf("store: node %s:%s: %w", serviceID, nc.ID, err)
		}
		node.Replicas = append(node.Replicas, &Replica{
			ID:     raw,
			Status: types.StatusHealthy,
			URL:    u,
		})
	}
	for i, script := range nc.Scripts {
		node.Replicas = append(node.Replicas, &Replica{
			ID:     strconv.Itoa(i),
			Status: types.StatusHealthy,
			Script: script,
		})
	}
	return node, nil
}

// View calls fn under the shared lock. fn must not retain states or mutate
// it. notified is zero if nothing was ever notified.
func (s *Store) View(fn func(states *ServiceStates, notified time.Time)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.states, s.notified)
}

// Mutate calls fn under the exclusive lock for its whole duration.
func (s *Store) Mutate(fn func(states *ServiceStates, notified *time.Time)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.states, &s.notified)
}

// PollTargets returns detached copies of every poll replica, in tree order.
func (s *Store) PollTargets() []PollTarget {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []PollTarget
	for _, p := range s.states.Probes {
		for _, n := range p.Nodes {
			if n.Mode != types.ModePoll {
				continue
			}
			for _, r := range n.Replicas {
				if r.URL == nil {
					continue
				}
				t := PollTarget{
					Target: Target{Service: p.ID, Node: n.ID, Replica: r.ID},
					URL:    r.URL,
					HTTP:   n.HTTP.clone(),
				}
				if n.Queue != nil {
					q := *n.Queue
					t.Queue = &q
				}
				out = append(out, t)
			}
		}
	}
	return out
}

// ScriptTargets returns detached copies of every script replica, in tree order.
func (s *Store) ScriptTargets() []ScriptTarget {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ScriptTarget
	for _, p := range s.states.Probes {
		for _, n := range p.Nodes {
			if n.Mode != types.ModeScript {
				continue
			}
			for _, r := range n.Replicas {
				if r.Script == "" {
					continue
				}
				out = append(out, ScriptTarget{
					Target: Target{Service: p.ID, Node: n.ID, Replica: r.ID},
					Script: r.Script,
				})
			}
		}
	}
	return out
}

// SetProbeResult overwrites the status and latency of one replica, plus its
// queue counters when a queue check ran. Unknown targets are ignored.
func (s *Store) SetProbeResult(ref Target, res ProbeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.replica(ref)
	if r == nil {
		return
	}
	r.Status = res.Status
	r.Metrics.Latency = res.Latency
	if res.Queue != nil {
		q := *res.Queue
		r.Metrics.Queue = &q
	}
}

// Report records a push or local report for a replica, registering the
// replica on first sight.
func (s *Store) Report(probeID, nodeID string, req types.ReportRequest, now time.Time) error {
	if req.Replica == "" {
		return fmt.Errorf("%w: replica is required", ErrInvalidReport)
	}
	if req.Interval > types.MaxSeconds {
		return fmt.Errorf("%w: interval %ds out of range", ErrInvalidReport, req.Interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.node(probeID, nodeID)
	if n == nil {
		return ErrUnknownNode
	}

	switch n.Mode {
	case types.ModePush:
		if req.Load == nil {
			return fmt.Errorf("%w: push node %s:%s expects load", ErrModeMismatch, probeID, nodeID)
		}
	case types.ModeLocal:
		if req.Health == nil {
			return fmt.Errorf("%w: local node %s:%s expects health", ErrModeMismatch, probeID, nodeID)
		}
	default:
		return fmt.Errorf("%w: %s node %s:%s is not reported", ErrModeMismatch, n.Mode, probeID, nodeID)
	}

	r := findReplica(n, req.Replica)
	if r == nil {
		r = &Replica{ID: req.Replica, Status: types.StatusHealthy}
		n.Replicas = append(n.Replicas, r)
		slog.Info("store: registered reported replica",
			"probe", probeID, "node", nodeID, "replica", req.Replica)
	}

	r.Report = &Report{
		Time:     now,
		Interval: time.Duration(req.Interval) * time.Second,
	}

	if req.Load != nil {
		load := &Load{CPU: req.Load.CPU, RAM: req.Load.RAM}
		if req.Load.Queue != nil {
			load.Queue = QueueLoad{Loaded: req.Load.Queue.Loaded, Stalled: req.Load.Queue.Stalled}
		}
		r.Load = load
		r.Metrics.System = &SystemMetrics{
			CPU: percent(req.Load.CPU),
			RAM: percent(req.Load.RAM),
		}
	}
	if req.Health != nil {
		r.Status = *req.Health
	}
	return nil
}

// Flush removes a reported replica from a push or local node.
func (s *Store) Flush(probeID, nodeID, replicaID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.node(probeID, nodeID)
	if n == nil {
		return ErrUnknownNode
	}
	if n.Mode != types.ModePush && n.Mode != types.ModeLocal {
		return fmt.Errorf("%w: %s node %s:%s cannot be flushed", ErrModeMismatch, n.Mode, probeID, nodeID)
	}

	for i, r := range n.Replicas {
		if r.ID == replicaID {
			n.Replicas = append(n.Replicas[:i], n.Replicas[i+1:]...)
			return nil
		}
	}
	return ErrUnknownReplica
}

// IgnoreReminders snoozes reminders until the given time. A nil until clears
// the snooze.
func (s *Store) IgnoreReminders(until *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if until == nil {
		s.states.Notifier.ReminderIgnoreUntil = nil
		return
	}
	t := *until
	s.states.Notifier.ReminderIgnoreUntil = &t
}

// ReminderIgnoreUntil returns the active snooze deadline, if any.
func (s *Store) ReminderIgnoreUntil() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.states.Notifier.ReminderIgnoreUntil == nil {
		return nil
	}
	t := *s.states.Notifier.ReminderIgnoreUntil
	return &t
}

// Snapshot returns a deep copy of the tree, safe to read without the lock.
func (s *Store) Snapshot() *ServiceStates {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states.clone()
}

func (s *Store) node(probeID, nodeID string) *Node {
	for _, p := range s.states.Probes {
		if p.ID != probeID {
			continue
		}
		for _, n := range p.Nodes {
			if n.ID == nodeID {
				return n
			}
		}
	}
	return nil
}

func (s *Store) replica(ref Target) *Replica {
	n := s.node(ref.Service, ref.Node)
	if n == nil {
		return nil
	}
	return findReplica(n, ref.Replica)
}

func findReplica(n *Node, id string) *Replica {
	for _, r := range n.Replicas {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func percent(ratio float64) uint16 {
	switch {
	case ratio <= 0:
		return 0
	case ratio >= 655:
		return 65535
	}
	return uint16(ratio*100 + 0.5)
}

func (st *ServiceStates) clone() *ServiceStates {
	out := &ServiceStates{
		Status: st.Status,
		Date:   st.Date,
		Probes: make([]*Probe, 0, len(st.Probes)),
		Notifier: Notifier{
			ReminderBackoffCounter: st.Notifier.ReminderBackoffCounter,
		},
	}
	if st.Notifier.ReminderIgnoreUntil != nil {
		t := *st.Notifier.ReminderIgnoreUntil
		out.Notifier.ReminderIgnoreUntil = &t
	}

	for _, p := range st.Probes {
		cp := &Probe{ID: p.ID, Label: p.Label, Status: p.Status, Nodes: make([]*Node, 0, len(p.Nodes))}
		for _, n := range p.Nodes {
			cn := *n
			cn.HTTP = n.HTTP.clone()
			if n.Queue != nil {
				q := *n.Queue
				cn.Queue = &q
			}
			cn.Replicas = make([]*Replica, 0, len(n.Replicas))
			for _, r := range n.Replicas {
				cr := *r
				if r.Metrics.Latency != nil {
					l := *r.Metrics.Latency
					cr.Metrics.Latency = &l
				}
				if r.Metrics.System != nil {
					sys := *r.Metrics.System
					cr.Metrics.System = &sys
				}
				if r.Metrics.Queue != nil {
					q := *r.Metrics.Queue
					cr.Metrics.Queue = &q
				}
				if r.Load != nil {
					l := *r.Load
					cr.Load = &l
				}
				if r.Report != nil {
					rep := *r.Report
					cr.Report = &rep
				}
				cn.Replicas = append(cn.Replicas, &cr)
			}
			cp.Nodes = append(cp.Nodes, &cn)
		}
		out.Probes = append(out.Probes, cp)
	}
	return out
}
