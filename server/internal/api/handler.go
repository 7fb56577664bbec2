package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/obsidianstack/vigil/pkg/types"
	"github.com/obsidianstack/vigil/server/internal/config"
	"github.com/obsidianstack/vigil/server/internal/store"
)

// Handler is the read-only status page responder. It never mutates the store.
type Handler struct {
	store    *store.Store
	branding config.BrandingConfig
	mux      *http.ServeMux
}

// New creates a Handler wired to the given store and registers all routes.
// When gatherer is non-nil its metrics are exposed on /metrics.
func New(st *store.Store, branding config.BrandingConfig, gatherer prometheus.Gatherer) http.Handler {
	h := &Handler{store: st, branding: branding, mux: http.NewServeMux()}

	h.mux.HandleFunc("GET /status/text", h.statusText)
	h.mux.HandleFunc("GET /badge/{kind}", h.badge)
	h.mux.HandleFunc("GET /api/v1/status", h.status)
	h.mux.HandleFunc("GET /api/v1/health", h.health)
	if gatherer != nil {
		h.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// statusText returns GET /status/text: the bare global status word.
func (h *Handler) statusText(w http.ResponseWriter, r *http.Request) {
	var status types.Status
	h.store.View(func(s *store.ServiceStates, _ time.Time) {
		status = s.Status
	})
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(status.String())) //nolint:errcheck
}

// status returns GET /api/v1/status: the full tree.
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, BuildStatus(h.store, h.branding))
}

// health returns GET /api/v1/health: global status and per-status counts.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{DeadReplicas: []string{}}

	h.store.View(func(s *store.ServiceStates, _ time.Time) {
		resp.Status = s.Status
		resp.Date = s.Date
		resp.ProbeCount = len(s.Probes)

		for _, p := range s.Probes {
			switch p.Status {
			case types.StatusHealthy:
				resp.HealthyCount++
			case types.StatusSick:
				resp.SickCount++
			case types.StatusDead:
				resp.DeadCount++
			}
			for _, n := range p.Nodes {
				for _, r := range n.Replicas {
					if r.Status == types.StatusDead {
						resp.DeadReplicas = append(resp.DeadReplicas,
							store.Target{Service: p.ID, Node: n.ID, Replica: r.ID}.Path())
					}
				}
			}
		}
	})

	jsonResp(w, http.StatusOK, resp)
}

// --- helpers ----------------------------------------------------------------

// BuildStatus maps the store tree to its JSON representation under a read
// lock.
func BuildStatus(st *store.Store, branding config.BrandingConfig) StatusResponse {
	resp := StatusResponse{
		Page:        PageResponse{Title: branding.PageTitle, URL: branding.PageURL},
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}

	st.View(func(s *store.ServiceStates, _ time.Time) {
		resp.Status = s.Status
		resp.Date = s.Date
		resp.Probes = make([]ProbeResponse, 0, len(s.Probes))
		for _, p := range s.Probes {
			resp.Probes = append(resp.Probes, toProbeResponse(p))
		}
	})
	return resp
}

func toProbeResponse(p *store.Probe) ProbeResponse {
	nodes := make([]NodeResponse, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		replicas := make([]ReplicaResponse, 0, len(n.Replicas))
		for _, r := range n.Replicas {
			replicas = append(replicas, toReplicaResponse(r))
		}
		nodes = append(nodes, NodeResponse{
			ID:       n.ID,
			Label:    n.Label,
			Mode:     n.Mode,
			Status:   n.Status,
			Replicas: replicas,
		})
	}
	return ProbeResponse{ID: p.ID, Label: p.Label, Status: p.Status, Nodes: nodes}
}

func toReplicaResponse(r *store.Replica) ReplicaResponse {
	out := ReplicaResponse{ID: r.ID, Status: r.Status}
	if r.URL != nil {
		out.URL = r.URL.String()
	}
	if r.Metrics.Latency != nil {
		ms := r.Metrics.Latency.Milliseconds()
		out.LatencyMS = &ms
	}
	if sys := r.Metrics.System; sys != nil {
		out.System = &SystemResponse{CPU: sys.CPU, RAM: sys.RAM}
	}
	if q := r.Metrics.Queue; q != nil {
		out.Queue = &QueueResponse{Ready: q.Ready, Nack: q.Nack}
	}
	if r.Report != nil {
		out.LastReport = r.Report.Time.UTC().Format(time.RFC3339)
	}
	return out
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
