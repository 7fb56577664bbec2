package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/obsidianstack/vigil/pkg/types"
	"github.com/obsidianstack/vigil/server/internal/config"
	"github.com/obsidianstack/vigil/server/internal/store"
	wsHub "github.com/obsidianstack/vigil/server/internal/ws"
)

const testInterval = 20 * time.Millisecond

var branding = config.BrandingConfig{PageTitle: "Status"}

// --- helpers ----------------------------------------------------------------

func newStore(t *testing.T, services ...string) *store.Store {
	t.Helper()
	var probe config.ProbeConfig
	for _, id := range services {
		probe.Services = append(probe.Services, config.ServiceConfig{
			ID: id, Label: id,
			Nodes: []config.NodeConfig{{ID: "main", Label: "Main", Mode: types.ModePush}},
		})
	}
	st, err := store.New(probe)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return st
}

// pass simulates an aggregation pass stamping a new date and status.
func pass(st *store.Store, date string, status types.Status) {
	st.Mutate(func(s *store.ServiceStates, _ *time.Time) {
		s.Date = date
		s.Status = status
	})
}

// startHub starts a test HTTP server with the hub as its handler.
// The hub's Run loop is started with a cancellable context.
func startHub(t *testing.T, st *store.Store) (wsURL string, hub *wsHub.Hub, cancel func()) {
	t.Helper()

	hub = wsHub.New(st, branding, testInterval)
	ctx, cancelFn := context.WithCancel(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancelFn()
		srv.Close()
	})

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, hub, cancelFn
}

// dial connects a WebSocket client to wsURL and returns the connection.
func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readMessage reads one message from conn with a short deadline.
func readMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) (map[string]interface{}, error) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(msg, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m, nil
}

func mustRead(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	m, err := readMessage(t, conn, 2*time.Second)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	return m
}

// --- tests ------------------------------------------------------------------

func TestHub_Connect_ReceivesImmediateStatus(t *testing.T) {
	wsURL, _, _ := startHub(t, newStore(t, "web"))

	m := mustRead(t, dial(t, wsURL))

	if m["event"] != "status" {
		t.Errorf("event: got %v, want status", m["event"])
	}
	data, ok := m["data"].(map[string]interface{})
	if !ok {
		t.Fatal("data: missing or wrong type")
	}
	if data["status"] != "healthy" {
		t.Errorf("status: got %v, want healthy", data["status"])
	}
	if data["generated_at"] == nil || data["generated_at"] == "" {
		t.Error("generated_at: missing")
	}
}

func TestHub_MessageContainsProbes(t *testing.T) {
	wsURL, _, _ := startHub(t, newStore(t, "web", "db"))

	data := mustRead(t, dial(t, wsURL))["data"].(map[string]interface{})
	probes, ok := data["probes"].([]interface{})
	if !ok {
		t.Fatal("probes: missing or wrong type")
	}
	if len(probes) != 2 {
		t.Errorf("probes: got %d, want 2", len(probes))
	}
}

func TestHub_BroadcastsAfterPass(t *testing.T) {
	st := newStore(t, "web")
	wsURL, _, _ := startHub(t, st)

	conn := dial(t, wsURL)
	mustRead(t, conn)

	pass(st, "12:00:10 UTC+00:00", types.StatusDead)

	data := mustRead(t, conn)["data"].(map[string]interface{})
	if data["status"] != "dead" {
		t.Errorf("status: got %v, want dead", data["status"])
	}
	if data["date"] != "12:00:10 UTC+00:00" {
		t.Errorf("date: got %v", data["date"])
	}
}

func TestHub_NoBroadcastWithoutPass(t *testing.T) {
	st := newStore(t, "web")
	wsURL, _, _ := startHub(t, st)

	conn := dial(t, wsURL)
	mustRead(t, conn)

	// The first tick records the current revision; nothing changed after.
	pass(st, "12:00:10 UTC+00:00", types.StatusHealthy)
	mustRead(t, conn)

	if _, err := readMessage(t, conn, 10*testInterval); err == nil {
		t.Error("unexpected broadcast without a new pass")
	}
}

func TestHub_CountClients(t *testing.T) {
	wsURL, hub, _ := startHub(t, newStore(t))

	for i := 0; i < 3; i++ {
		mustRead(t, dial(t, wsURL))
	}

	time.Sleep(10 * time.Millisecond)
	if n := hub.Count(); n != 3 {
		t.Errorf("Count: got %d, want 3", n)
	}
}

func TestHub_CountClients_DecreasesOnDisconnect(t *testing.T) {
	wsURL, hub, _ := startHub(t, newStore(t))

	conn := dial(t, wsURL)
	mustRead(t, conn)
	time.Sleep(10 * time.Millisecond)

	if n := hub.Count(); n != 1 {
		t.Errorf("Count before disconnect: got %d, want 1", n)
	}

	conn.Close()
	time.Sleep(50 * time.Millisecond) // let readPump detect the close

	if n := hub.Count(); n != 0 {
		t.Errorf("Count after disconnect: got %d, want 0", n)
	}
}

func TestHub_CancelContextClosesConnections(t *testing.T) {
	wsURL, hub, cancel := startHub(t, newStore(t))

	mustRead(t, dial(t, wsURL))
	time.Sleep(10 * time.Millisecond)

	cancel()

	time.Sleep(50 * time.Millisecond)
	if n := hub.Count(); n != 0 {
		t.Errorf("Count after cancel: got %d, want 0", n)
	}
}

func TestHub_NonWebSocketRequest_Returns400(t *testing.T) {
	hub := wsHub.New(newStore(t), branding, testInterval)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}
