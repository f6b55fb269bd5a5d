package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{}

// echoServer is a minimal hub stand-in: it acks the connection, records
// inbound frames, and can refuse upgrades to simulate an outage.
type echoServer struct {
	*httptest.Server
	mu       sync.Mutex
	frames   [][]byte
	refusing bool
	conns    []*websocket.Conn
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()
	s := &echoServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		refusing := s.refusing
		s.mu.Unlock()
		if refusing {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		_ = conn.WriteJSON(map[string]string{
			"type":     "connection",
			"message":  "connected to command center",
			"clientId": "srv-assigned-1",
		})
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.frames = append(s.frames, raw)
			s.mu.Unlock()
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *echoServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *echoServer) refuse(v bool) {
	s.mu.Lock()
	s.refusing = v
	s.mu.Unlock()
}

func (s *echoServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = nil
}

func (s *echoServer) frameTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.frames))
	for _, raw := range s.frames {
		var head struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(raw, &head)
		out = append(out, head.Type)
	}
	return out
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestClient_ConnectRegistersAsViewing(t *testing.T) {
	srv := newEchoServer(t)
	c := New(Config{URL: srv.wsURL()}, zerolog.Nop())
	t.Cleanup(func() { _ = c.Disconnect() })

	var connected atomic.Bool
	c.OnConnect = func() { connected.Store(true) }

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !connected.Load() {
		t.Error("OnConnect not invoked")
	}

	waitUntil(t, func() bool {
		return len(srv.frameTypes()) >= 1
	}, "register frame never arrived")

	s := srv.frameTypes()
	if s[0] != "register" {
		t.Errorf("first frame should be register, got %q", s[0])
	}

	srv.mu.Lock()
	var reg struct {
		ClientType string `json:"clientType"`
	}
	_ = json.Unmarshal(srv.frames[0], &reg)
	srv.mu.Unlock()
	if reg.ClientType != "dashboard" {
		t.Errorf("expected dashboard registration, got %q", reg.ClientType)
	}
}

func TestClient_CapturesAssignedID(t *testing.T) {
	srv := newEchoServer(t)
	c := New(Config{URL: srv.wsURL()}, zerolog.Nop())
	t.Cleanup(func() { _ = c.Disconnect() })

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitUntil(t, func() bool { return c.ClientID() == "srv-assigned-1" }, "client id never captured")
}

func TestClient_SubscribeRequiresConnection(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1/ws", MaxAttempts: 1, BaseDelay: time.Hour}, zerolog.Nop())
	t.Cleanup(func() { _ = c.Disconnect() })

	if err := c.Subscribe("proc-1"); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestClient_ReconnectsAfterDropAndResetsCounter(t *testing.T) {
	srv := newEchoServer(t)
	c := New(Config{URL: srv.wsURL(), BaseDelay: 10 * time.Millisecond, MaxAttempts: 5}, zerolog.Nop())
	t.Cleanup(func() { _ = c.Disconnect() })

	var connects atomic.Int32
	c.OnConnect = func() { connects.Add(1) }

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitUntil(t, func() bool { return connects.Load() == 1 }, "initial connect missing")

	srv.dropAll()
	waitUntil(t, func() bool { return connects.Load() == 2 }, "client did not reconnect")

	c.mu.Lock()
	attempts := c.attempts
	c.mu.Unlock()
	if attempts != 0 {
		t.Errorf("attempt counter should reset after success, got %d", attempts)
	}
}

func TestClient_BackoffSchedule(t *testing.T) {
	c := New(Config{BaseDelay: time.Second, MaxDelay: 30 * time.Second}, zerolog.Nop())

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	for i, expected := range want {
		if got := c.backoff(i + 1); got != expected {
			t.Errorf("attempt %d: expected %s, got %s", i+1, expected, got)
		}
	}
}

func TestClient_BackoffCapped(t *testing.T) {
	c := New(Config{BaseDelay: time.Second, MaxDelay: 10 * time.Second}, zerolog.Nop())
	if got := c.backoff(5); got != 10*time.Second {
		t.Errorf("expected cap at 10s, got %s", got)
	}
	if got := c.backoff(20); got != 10*time.Second {
		t.Errorf("expected cap at 10s for large attempt, got %s", got)
	}
}

func TestClient_TerminalAfterMaxAttempts(t *testing.T) {
	// Nothing listens on this port, so every dial fails immediately.
	c := New(Config{
		URL:         "ws://127.0.0.1:1/ws",
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		DialTimeout: 100 * time.Millisecond,
	}, zerolog.Nop())
	t.Cleanup(func() { _ = c.Disconnect() })

	var lost atomic.Int32
	c.OnConnectionLost = func() { lost.Add(1) }

	if err := c.Connect(); err == nil {
		t.Fatal("expected dial failure")
	}

	waitUntil(t, func() bool { return lost.Load() >= 1 }, "loss callback never fired")

	// No further attempts after terminal state.
	time.Sleep(50 * time.Millisecond)
	if got := lost.Load(); got != 1 {
		t.Errorf("loss callback should fire exactly once, got %d", got)
	}
}

func TestClient_DisconnectSuppressesPendingRetry(t *testing.T) {
	srv := newEchoServer(t)
	c := New(Config{URL: srv.wsURL(), BaseDelay: 50 * time.Millisecond, MaxAttempts: 5}, zerolog.Nop())

	var connects atomic.Int32
	c.OnConnect = func() { connects.Add(1) }

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitUntil(t, func() bool { return connects.Load() == 1 }, "initial connect missing")

	// Drop the connection so a retry gets scheduled, then disconnect before
	// it fires.
	srv.refuse(true)
	srv.dropAll()
	time.Sleep(10 * time.Millisecond)
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	time.Sleep(150 * time.Millisecond)
	if got := connects.Load(); got != 1 {
		t.Errorf("retry fired after Disconnect, connects=%d", got)
	}

	if err := c.Connect(); err != ErrClientClosed {
		t.Errorf("expected ErrClientClosed after Disconnect, got %v", err)
	}
}

func TestClient_SubscribeSendsTaggedFrame(t *testing.T) {
	srv := newEchoServer(t)
	c := New(Config{URL: srv.wsURL()}, zerolog.Nop())
	t.Cleanup(func() { _ = c.Disconnect() })

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := c.Subscribe("proc-7"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	waitUntil(t, func() bool { return len(srv.frameTypes()) >= 2 }, "subscribe frame never arrived")

	s := srv.frameTypes()
	if s[1] != "subscribe_procedure" {
		t.Errorf("expected subscribe_procedure frame, got %q", s[1])
	}
}
