package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"commandcenter/pkg/interfaces"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsPair returns a server-side websocket connection and its client peer.
func wsPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	serverCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverCh <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	select {
	case server := <-serverCh:
		return server, client
	case <-time.After(time.Second):
		t.Fatal("server connection never arrived")
		return nil, nil
	}
}

func TestConnection_InterfaceCompliance(t *testing.T) {
	var _ interfaces.Conn = &Connection{}
}

func TestConnection_UniqueIDs(t *testing.T) {
	server1, _ := wsPair(t)
	server2, _ := wsPair(t)

	c1 := NewConnection(server1, 8, time.Second)
	defer c1.Close()
	c2 := NewConnection(server2, 8, time.Second)
	defer c2.Close()

	if c1.ID() == "" || c1.ID() == c2.ID() {
		t.Errorf("connection ids must be unique and non-empty: %q vs %q", c1.ID(), c2.ID())
	}
}

func TestConnection_SendDeliversFrame(t *testing.T) {
	server, client := wsPair(t)
	conn := NewConnection(server, 8, time.Second)
	defer conn.Close()

	if err := conn.Send(map[string]string{"type": "test", "payload": "hello"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("client read failed: %v", err)
	}

	var got map[string]string
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("frame not JSON: %v", err)
	}
	if got["payload"] != "hello" {
		t.Errorf("wrong frame: %v", got)
	}
}

func TestConnection_SendAfterClose(t *testing.T) {
	server, _ := wsPair(t)
	conn := NewConnection(server, 8, time.Second)

	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := conn.Send(map[string]string{"type": "test"}); err != ErrConnectionClosed {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}

	// Close is idempotent.
	_ = conn.Close()
}

func TestConnection_SendNeverBlocksWhenBufferFull(t *testing.T) {
	server, client := wsPair(t)
	conn := NewConnection(server, 1, time.Second)
	defer conn.Close()

	// The client never reads and the buffer holds one frame, so repeated
	// sends must eventually return ErrWriteBufferFull instead of blocking.
	_ = client // intentionally unread

	padding := strings.Repeat("x", 64*1024)
	done := make(chan error, 1)
	go func() {
		var last error
		for i := 0; i < 10000; i++ {
			if err := conn.Send(map[string]string{"pad": padding}); err != nil {
				last = err
				break
			}
		}
		done <- last
	}()

	select {
	case err := <-done:
		if err != ErrWriteBufferFull {
			t.Errorf("expected ErrWriteBufferFull, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send blocked on a saturated connection")
	}
}

func TestConnection_DoneClosedOnClose(t *testing.T) {
	server, _ := wsPair(t)
	conn := NewConnection(server, 8, time.Second)

	select {
	case <-conn.Done():
		t.Fatal("Done closed before Close")
	default:
	}

	_ = conn.Close()
	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Close")
	}
}
