package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"commandcenter/pkg/interfaces"
)

// Sink is the hub surface the handler feeds. Accept must return quickly;
// Inbound and Disconnect are called from the per-connection read goroutine.
type Sink interface {
	Accept(conn interfaces.Conn)
	Inbound(connID string, raw []byte)
	Disconnect(connID string)
}

// Options tunes per-connection transport behavior.
type Options struct {
	ReadTimeout  time.Duration // pong-refreshed read deadline
	WriteTimeout time.Duration // per-frame write deadline
	PingInterval time.Duration // heartbeat period
	BufferSize   int           // outbound queue depth per connection
}

var upgrader = websocket.Upgrader{
	// Origin checking is deferred to the deployment's reverse proxy.
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Handler upgrades HTTP requests to websocket connections and pumps their
// frames into the hub.
type Handler struct {
	sink Sink
	opts Options
	log  zerolog.Logger
}

func NewHandler(sink Sink, opts Options, log zerolog.Logger) *Handler {
	return &Handler{sink: sink, opts: opts, log: log.With().Str("component", "ws").Logger()}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := NewConnection(raw, h.opts.BufferSize, h.opts.WriteTimeout)
	h.sink.Accept(conn)
	go h.readPump(conn, raw)
}

// readPump owns the receive side of one connection: heartbeat bookkeeping
// plus forwarding frames to the hub. It unregisters the connection on any
// exit path.
func (h *Handler) readPump(conn *Connection, raw *websocket.Conn) {
	defer func() {
		h.sink.Disconnect(conn.ID())
		_ = conn.Close()
	}()

	if err := raw.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := raw.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Str("conn", conn.ID()).Msg("read failed")
			}
			return
		}
		if messageType == websocket.TextMessage {
			h.sink.Inbound(conn.ID(), data)
		}
	}
}
