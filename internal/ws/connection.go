package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection wraps one client websocket. All writes go through a single
// writer goroutine fed by a buffered channel, so a send never races another
// send and never blocks the caller: a full buffer means the frame is dropped
// for this recipient only.
type Connection struct {
	id        string
	conn      *websocket.Conn
	writeCh   chan []byte
	writeWait time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection wraps conn with a process-unique identifier and starts its
// writer goroutine. bufferSize is the per-connection outbound queue depth.
func NewConnection(conn *websocket.Conn, bufferSize int, writeWait time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:        uuid.New().String(),
		conn:      conn,
		writeCh:   make(chan []byte, bufferSize),
		writeWait: writeWait,
		ctx:       ctx,
		cancel:    cancel,
	}
	go c.writeLoop()
	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// ID returns the connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// Send marshals v and queues it for the writer goroutine. Never blocks:
// a closed connection or a full outbound queue returns an error and the
// frame is dropped for this recipient.
func (c *Connection) Send(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrWriteBufferFull
	}
}

// Close tears down the writer goroutine and the underlying socket.
// Idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// Done is closed when the connection has been shut down.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}
