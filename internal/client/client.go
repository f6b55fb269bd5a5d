// Package client implements the viewing-side connection protocol: register
// on open, bounded exponential backoff on loss, and an explicit terminal
// state once attempts are exhausted.
package client

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"commandcenter/pkg/types"
)

// Config tunes the reconnection schedule. The delay for attempt n is
// BaseDelay doubled n-1 times, capped at MaxDelay, with no jitter.
type Config struct {
	URL         string
	MaxAttempts int           // reconnect attempts before giving up
	BaseDelay   time.Duration // first retry delay
	MaxDelay    time.Duration // backoff ceiling
	DialTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxAttempts == 0 {
		out.MaxAttempts = 5
	}
	if out.BaseDelay == 0 {
		out.BaseDelay = time.Second
	}
	if out.MaxDelay == 0 {
		out.MaxDelay = 30 * time.Second
	}
	if out.DialTimeout == 0 {
		out.DialTimeout = 10 * time.Second
	}
	return out
}

// Client is a viewing client. Transport gives no ordering guarantee across a
// reconnect, and subscriptions are not replayed automatically: the owning
// application re-issues them from OnConnect.
type Client struct {
	cfg Config
	log zerolog.Logger

	// OnConnect runs after every successful open, once the register
	// message is on the wire.
	OnConnect func()
	// OnEnvelope receives every raw server frame.
	OnEnvelope func(raw []byte)
	// OnConnectionLost runs once when reconnection attempts are
	// exhausted. The client makes no further attempts after this.
	OnConnectionLost func()

	mu         sync.Mutex
	conn       *websocket.Conn
	writeMu    sync.Mutex
	attempts   int
	retryTimer *time.Timer
	closed     bool
	clientID   string
}

func New(cfg Config, log zerolog.Logger) *Client {
	return &Client{
		cfg: cfg.withDefaults(),
		log: log.With().Str("component", "client").Logger(),
	}
}

// Connect opens the channel. On success the attempt counter resets to zero
// and a register message with the viewing role is sent immediately. On
// failure the next attempt is scheduled.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	conn, _, err := dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		c.log.Warn().Err(err).Str("url", c.cfg.URL).Msg("dial failed")
		c.scheduleReconnect()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.attempts = 0
	c.mu.Unlock()

	if err := c.Send(&types.RegisterMsg{ClientType: types.RoleViewing}, types.MsgRegister); err != nil {
		c.log.Warn().Err(err).Msg("register send failed")
	}

	go c.readLoop(conn)

	if c.OnConnect != nil {
		c.OnConnect()
	}
	return nil
}

// Subscribe declares interest in one procedure record. Must be re-issued by
// the application after every reconnect.
func (c *Client) Subscribe(procedureID string) error {
	return c.Send(&types.SubscribeMsg{ProcedureID: procedureID}, types.MsgSubscribeProcedure)
}

// Send marshals payload with the given type tag and writes it to the
// current connection.
func (c *Client) Send(payload interface{}, msgType string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var tagged map[string]interface{}
	if err := json.Unmarshal(body, &tagged); err != nil {
		return err
	}
	tagged["type"] = msgType
	data, err := json.Marshal(tagged)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// ClientID returns the hub-assigned identifier, empty until the connection
// ack arrives.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.log.Warn().Err(err).Msg("connection lost")
				c.scheduleReconnect()
			}
			return
		}
		c.track(raw)
		if c.OnEnvelope != nil {
			c.OnEnvelope(raw)
		}
	}
}

// track captures the hub-assigned client id from the connection ack.
func (c *Client) track(raw []byte) {
	var ack types.ConnectionAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return
	}
	if ack.Type == types.MsgConnection && ack.ClientID != "" {
		c.mu.Lock()
		c.clientID = ack.ClientID
		c.mu.Unlock()
	}
}

// scheduleReconnect applies the fixed backoff schedule. When the attempt
// counter has reached the maximum the client goes terminal: the loss
// callback fires once and no further attempts are made.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.cfg.MaxAttempts {
		c.mu.Unlock()
		c.log.Error().Int("attempts", c.cfg.MaxAttempts).Msg("reconnect attempts exhausted")
		if c.OnConnectionLost != nil {
			c.OnConnectionLost()
		}
		return
	}
	c.attempts++
	delay := c.backoff(c.attempts)
	c.retryTimer = time.AfterFunc(delay, func() {
		_ = c.Connect()
	})
	c.mu.Unlock()

	c.log.Info().Int("attempt", c.attempts).Dur("delay", delay).Msg("reconnect scheduled")
}

// backoff returns BaseDelay * 2^(attempt-1), capped at MaxDelay.
func (c *Client) backoff(attempt int) time.Duration {
	delay := c.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.cfg.MaxDelay {
			return c.cfg.MaxDelay
		}
	}
	if delay > c.cfg.MaxDelay {
		return c.cfg.MaxDelay
	}
	return delay
}

// Disconnect closes the channel and suppresses any pending scheduled retry.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
