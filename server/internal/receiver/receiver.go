package receiver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/obsidianstack/vigil/pkg/types"
	"github.com/obsidianstack/vigil/server/internal/metrics"
	"github.com/obsidianstack/vigil/server/internal/store"
)

const maxBodyBytes = 64 << 10

// Receiver is the reporter API. It validates each incoming report and writes
// it to the store; it never touches statuses computed by the aggregator.
type Receiver struct {
	store   *store.Store
	metrics *metrics.Recorder
	mux     *http.ServeMux
	now     func() time.Time
}

// response confirms an accepted report.
type response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// New creates a Receiver that writes accepted reports to st. rec may be nil.
func New(st *store.Store, rec *metrics.Recorder) *Receiver {
	r := &Receiver{store: st, metrics: rec, mux: http.NewServeMux(), now: time.Now}

	r.mux.HandleFunc("POST /reporter/{probe}/{node}/{$}", r.report)
	r.mux.HandleFunc("POST /reporter/{probe}/{node}", r.report)
	r.mux.HandleFunc("DELETE /reporter/{probe}/{node}/{replica}/{$}", r.flush)
	r.mux.HandleFunc("DELETE /reporter/{probe}/{node}/{replica}", r.flush)

	return r
}

func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// report handles POST /reporter/{probe}/{node}/. Authentication is enforced
// upstream by the auth middleware, so the receiver only performs structural
// validation.
func (r *Receiver) report(w http.ResponseWriter, req *http.Request) {
	probe, node := req.PathValue("probe"), req.PathValue("node")

	var body types.ReportRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes)).Decode(&body); err != nil {
		r.metrics.ObserveReport(probe, node, err)
		reply(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := r.store.Report(probe, node, body, r.now())
	r.metrics.ObserveReport(probe, node, err)
	if err != nil {
		slog.Warn("receiver: report rejected",
			"probe", probe, "node", node, "replica", body.Replica, "err", err)
		reply(w, statusFor(err), err.Error())
		return
	}

	slog.Debug("receiver: report stored",
		"probe", probe,
		"node", node,
		"replica", body.Replica,
		"interval", body.Interval,
	)
	reply(w, http.StatusOK, "")
}

// flush handles DELETE /reporter/{probe}/{node}/{replica}/.
func (r *Receiver) flush(w http.ResponseWriter, req *http.Request) {
	probe, node, replica := req.PathValue("probe"), req.PathValue("node"), req.PathValue("replica")

	if err := r.store.Flush(probe, node, replica); err != nil {
		reply(w, statusFor(err), err.Error())
		return
	}

	slog.Info("receiver: replica flushed", "probe", probe, "node", node, "replica", replica)
	reply(w, http.StatusOK, "")
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrUnknownNode), errors.Is(err, store.ErrUnknownReplica):
		return http.StatusNotFound
	case errors.Is(err, store.ErrModeMismatch), errors.Is(err, store.ErrInvalidReport):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func reply(w http.ResponseWriter, code int, errMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(response{OK: errMsg == "", Error: errMsg}) //nolint:errcheck
}
