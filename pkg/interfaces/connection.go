package interfaces

// Conn is the hub's view of one live client channel. The concrete websocket
// wrapper implements it; tests substitute in-memory fakes.
type Conn interface {
	// ID returns the process-unique connection identifier.
	ID() string

	// Send queues v for delivery to the client. It must not block on the
	// client: a full buffer or closed channel returns an error and the
	// caller moves on.
	Send(v interface{}) error

	// Close releases the channel. Idempotent.
	Close() error
}
