package shipper

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/obsidianstack/vigil/agent/internal/config"
	"github.com/obsidianstack/vigil/pkg/types"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second
)

// errPermanent marks a report the server refused for good (4xx).
var errPermanent = errors.New("shipper: report rejected")

// Shipper buffers reports and sends them to the vigil reporter API.
// Ship() is non-blocking; when the buffer is full the oldest report is evicted.
// Run() must be called in a goroutine to drain the buffer and handle retries.
type Shipper struct {
	cfg    config.AgentConfig
	buf    chan types.ReportRequest
	client *http.Client // injectable for tests
	wait   func(ctx context.Context, d time.Duration) bool
}

// New creates a Shipper using the given agent config.
func New(cfg config.AgentConfig) (*Shipper, error) {
	client, err := newClient(cfg.ServerAuth)
	if err != nil {
		return nil, err
	}
	return &Shipper{
		cfg:    cfg,
		buf:    make(chan types.ReportRequest, cfg.BufferSize),
		client: client,
		wait:   sleep,
	}, nil
}

// Ship enqueues a report. If the buffer is full the oldest entry is evicted
// to make room.
func (s *Shipper) Ship(rep types.ReportRequest) {
	select {
	case s.buf <- rep:
	default:
		// Buffer full: drop the oldest report, keep the newest.
		select {
		case <-s.buf:
			slog.Warn("shipper: buffer full, evicted oldest report",
				"replica", rep.Replica, "buffer_cap", cap(s.buf))
		default:
		}
		s.buf <- rep
	}
}

// Run drains the buffer, sending reports to the server. Failed sends are
// retried with exponential backoff. Run blocks until ctx is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff()

	for {
		select {
		case <-ctx.Done():
			return

		case rep := <-s.buf:
			err := s.send(ctx, rep)
			switch {
			case err == nil:
				bo.reset()
				slog.Debug("shipper: report delivered", "replica", rep.Replica)

			case errors.Is(err, errPermanent):
				slog.Error("shipper: permanent send error, discarding report",
					"replica", rep.Replica, "err", err)

			default:
				if ctx.Err() != nil {
					return
				}
				s.requeue(rep)
				wait := bo.next()
				slog.Warn("shipper: send failed, will retry",
					"server", s.cfg.ServerURL,
					"err", err,
					"retry_in", wait)
				if !s.wait(ctx, wait) {
					return
				}
			}
		}
	}
}

// Flush asks the server to forget this replica. Used on graceful shutdown.
func (s *Shipper) Flush(ctx context.Context) error {
	u := s.endpoint(url.PathEscape(s.cfg.ReplicaID) + "/")
	return s.do(ctx, http.MethodDelete, u, nil)
}

// requeue puts a failed report back unless a newer one is already waiting.
func (s *Shipper) requeue(rep types.ReportRequest) {
	if len(s.buf) > 0 {
		return
	}
	select {
	case s.buf <- rep:
	default:
	}
}

func (s *Shipper) send(ctx context.Context, rep types.ReportRequest) error {
	body, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", errPermanent, err)
	}
	return s.do(ctx, http.MethodPost, s.endpoint(""), body)
}

func (s *Shipper) do(ctx context.Context, method, u string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "vigil-agent")
	if key := s.cfg.ServerAuth.Key(); key != "" {
		req.SetBasicAuth("", key)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("shipper: %s %s: %w", method, u, err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s: %s", errPermanent, resp.Status, strings.TrimSpace(string(msg)))
	default:
		return fmt.Errorf("shipper: server returned %s", resp.Status)
	}
}

// endpoint builds /reporter/{probe}/{node}/{suffix}.
func (s *Shipper) endpoint(suffix string) string {
	return strings.TrimRight(s.cfg.ServerURL, "/") + "/reporter/" +
		url.PathEscape(s.cfg.ProbeID) + "/" + url.PathEscape(s.cfg.NodeID) + "/" + suffix
}

// newClient builds the HTTP client with TLS configured from auth.
func newClient(auth config.AuthConfig) (*http.Client, error) {
	tlsCfg, err := buildTLSConfig(auth)
	if err != nil {
		return nil, fmt.Errorf("shipper: build tls config: %w", err)
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = tlsCfg
	return &http.Client{Transport: tr}, nil
}

// buildTLSConfig loads the optional client certificate and CA.
func buildTLSConfig(auth config.AuthConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: auth.InsecureSkipVerify, //nolint:gosec // opt-in for dev CAs
	}

	if auth.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs in ca file %q", auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	return tlsCfg, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
