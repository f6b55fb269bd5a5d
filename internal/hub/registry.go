package hub

import (
	"sync"
	"time"

	"commandcenter/pkg/interfaces"
	"commandcenter/pkg/types"
)

// client is one registered connection plus the metadata the hub tracks for
// it. Mutated only by the hub's run loop.
type client struct {
	conn        interfaces.Conn
	role        string
	procedureID string
	connectedAt time.Time
}

// Registry maps connection identifiers to clients. Writes come from the
// hub's single run loop; the RWMutex exists for concurrent readers (stats
// endpoint) outside that loop.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*client)}
}

// Add registers conn with an unclassified role. Duplicate identifiers are
// rejected.
func (r *Registry) Add(conn interfaces.Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[conn.ID()]; exists {
		return ErrDuplicateConnection
	}
	r.clients[conn.ID()] = &client{
		conn:        conn,
		role:        types.RoleUnclassified,
		connectedAt: time.Now(),
	}
	return nil
}

// Remove drops the connection. Removing an absent identifier is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
}

// SetRole classifies a connection. Reports whether the id was present.
func (r *Registry) SetRole(id, role string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if ok {
		c.role = role
	}
	return ok
}

// Subscribe records the connection's interest in one procedure record.
func (r *Registry) Subscribe(id, procedureID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if ok {
		c.procedureID = procedureID
	}
	return ok
}

// Role returns the connection's current role.
func (r *Registry) Role(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	if !ok {
		return "", false
	}
	return c.role, true
}

// Get returns the connection handle for id.
func (r *Registry) Get(id string) (interfaces.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	if !ok {
		return nil, false
	}
	return c.conn, true
}

// Viewing returns every connection currently classified as a viewing client.
// The slice is a snapshot: mutations after return do not affect it.
func (r *Registry) Viewing() []interfaces.Conn {
	return r.selectConns(func(c *client) bool {
		return c.role == types.RoleViewing
	})
}

// ViewingExcept returns viewing connections with the sender excluded.
func (r *Registry) ViewingExcept(senderID string) []interfaces.Conn {
	return r.selectConns(func(c *client) bool {
		return c.role == types.RoleViewing && c.conn.ID() != senderID
	})
}

// SubscribedTo returns every connection, regardless of role, subscribed to
// the given procedure record.
func (r *Registry) SubscribedTo(procedureID string) []interfaces.Conn {
	return r.selectConns(func(c *client) bool {
		return c.procedureID == procedureID
	})
}

func (r *Registry) selectConns(keep func(*client) bool) []interfaces.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []interfaces.Conn
	for _, c := range r.clients {
		if keep(c) {
			conns = append(conns, c.conn)
		}
	}
	return conns
}

// CloseAll closes every connection and empties the registry. Used on
// shutdown; clients are expected to reconnect after a restart.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		_ = c.conn.Close()
		delete(r.clients, id)
	}
}

// Stats reports connection counts for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := map[string]int{
		"total_connections": len(r.clients),
		"authoring":         0,
		"viewing":           0,
	}
	for _, c := range r.clients {
		switch c.role {
		case types.RoleAuthoring:
			stats["authoring"]++
		case types.RoleViewing:
			stats["viewing"]++
		}
	}
	return stats
}
