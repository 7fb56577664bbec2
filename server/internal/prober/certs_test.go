package prober

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/obsidianstack/vigil/pkg/types"
)

func TestCertExpiring(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	state := func(notAfter time.Time) *tls.ConnectionState {
		return &tls.ConnectionState{PeerCertificates: []*x509.Certificate{{NotAfter: notAfter}}}
	}

	left, soon := certExpiring(state(now.Add(10*24*time.Hour)), 30*24*time.Hour, now)
	assert.True(t, soon)
	assert.Equal(t, 10*24*time.Hour, left)

	_, soon = certExpiring(state(now.Add(90*24*time.Hour)), 30*24*time.Hour, now)
	assert.False(t, soon)

	_, soon = certExpiring(state(now.Add(-time.Hour)), 30*24*time.Hour, now)
	assert.True(t, soon, "expired certificate")

	_, soon = certExpiring(state(now), 0, now)
	assert.False(t, soon, "disabled window")

	_, soon = certExpiring(nil, time.Hour, now)
	assert.False(t, soon, "plain http")
}

func TestPoll_ExpiringCertificateIsSick(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	cfg := testConfig(pollService("web", "api", srv.URL+"/health"))
	cfg.Metrics.PollDelayDead = 2 * time.Second
	e, st := newEngine(t, cfg)
	e.client = srv.Client()

	e.cfg.PollTLSExpirySickWithin = 200 * 365 * 24 * time.Hour
	e.PollCycle(context.Background())
	assert.Equal(t, types.StatusSick, replicaStatus(t, st, "api", srv.URL+"/health"))

	e.cfg.PollTLSExpirySickWithin = 0
	e.PollCycle(context.Background())
	assert.Equal(t, types.StatusHealthy, replicaStatus(t, st, "api", srv.URL+"/health"))
}
