package hub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"commandcenter/pkg/interfaces"
	"commandcenter/pkg/types"
)

const persistTimeout = 5 * time.Second

// inboundFrame is one raw client frame with its sender attached.
type inboundFrame struct {
	connID string
	raw    []byte
}

// Hub owns the connection registry and routes every inbound event to the
// correct broadcast set. All registry mutation happens on the single run
// goroutine; Accept/Inbound/Disconnect only enqueue. Persistence is
// delegated to the procedure store; the hub holds no durable state and the
// registry is rebuilt from nothing on restart.
type Hub struct {
	registry *Registry
	store    interfaces.ProcedureStore
	log      zerolog.Logger

	inboundCh    chan inboundFrame
	acceptCh     chan interfaces.Conn
	disconnectCh chan string
	shutdownCh   chan struct{}

	running bool
	mu      sync.RWMutex
}

func New(registry *Registry, store interfaces.ProcedureStore, log zerolog.Logger) *Hub {
	return &Hub{
		registry:     registry,
		store:        store,
		log:          log.With().Str("component", "hub").Logger(),
		inboundCh:    make(chan inboundFrame, 1000),
		acceptCh:     make(chan interfaces.Conn, 100),
		disconnectCh: make(chan string, 100),
		shutdownCh:   make(chan struct{}),
	}
}

// Start launches the run loop.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	go h.run(ctx)
	return nil
}

// Stop shuts the run loop down; all live connections are closed.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownCh)
	return nil
}

// Accept hands a freshly upgraded connection to the hub. Never blocks on
// client behavior; if the hub is saturated the connection is closed.
func (h *Hub) Accept(conn interfaces.Conn) {
	select {
	case h.acceptCh <- conn:
	default:
		h.log.Error().Str("conn", conn.ID()).Msg("accept queue full, dropping connection")
		_ = conn.Close()
	}
}

// Inbound enqueues one raw frame from a connection.
func (h *Hub) Inbound(connID string, raw []byte) {
	select {
	case h.inboundCh <- inboundFrame{connID: connID, raw: raw}:
	default:
		h.log.Warn().Str("conn", connID).Msg("inbound queue full, frame dropped")
	}
}

// Disconnect removes the connection from the registry. Idempotent:
// disconnecting an unknown identifier is a no-op.
func (h *Hub) Disconnect(connID string) {
	select {
	case h.disconnectCh <- connID:
	default:
		h.log.Warn().Str("conn", connID).Msg("disconnect queue full")
	}
}

// Stats exposes registry counts for the health endpoint.
func (h *Hub) Stats() map[string]int {
	return h.registry.Stats()
}

func (h *Hub) run(ctx context.Context) {
	defer h.registry.CloseAll()

	for {
		select {
		case conn := <-h.acceptCh:
			h.handleAccept(conn)
		case frame := <-h.inboundCh:
			h.handleFrame(ctx, frame)
		case connID := <-h.disconnectCh:
			h.registry.Remove(connID)
			h.log.Debug().Str("conn", connID).Msg("disconnected")
		case <-h.shutdownCh:
			h.log.Info().Msg("hub shutting down")
			return
		case <-ctx.Done():
			h.log.Info().Msg("hub context cancelled")
			return
		}
	}
}

func (h *Hub) handleAccept(conn interfaces.Conn) {
	if err := h.registry.Add(conn); err != nil {
		h.log.Error().Err(err).Str("conn", conn.ID()).Msg("registration failed")
		_ = conn.Close()
		return
	}
	h.send(conn, &types.ConnectionAck{
		Type:     types.MsgConnection,
		Message:  "connected to command center",
		ClientID: conn.ID(),
	})
	h.log.Info().Str("conn", conn.ID()).Msg("connection accepted")
}

// handleFrame parses and dispatches one inbound frame. Malformed payloads
// are logged and dropped; they never reach other clients and never stop the
// loop.
func (h *Hub) handleFrame(ctx context.Context, frame inboundFrame) {
	in, err := types.ParseInbound(frame.raw)
	if err != nil {
		h.log.Warn().Err(err).Str("conn", frame.connID).Msg("dropping malformed frame")
		return
	}

	switch in.Type {
	case types.MsgRegister:
		h.handleRegister(frame.connID, in.Register)
	case types.MsgSubscribeProcedure:
		h.handleSubscribe(frame.connID, in.Subscribe)
	case types.MsgVoiceTranscription:
		h.handleTranscription(frame.connID, in.Transcription)
	case types.MsgVoiceCommand:
		h.handleCommand(frame.connID, in.Command)
	case types.MsgFieldUpdate:
		h.handleFieldUpdate(ctx, frame.connID, in.FieldUpdate)
	case types.MsgProcedureUpdate:
		h.handleProcedureUpdate(ctx, frame.connID, in.Update)
	}
}

func (h *Hub) handleRegister(connID string, msg *types.RegisterMsg) {
	conn, ok := h.registry.Get(connID)
	if !ok {
		return
	}
	if !types.IsValidClientType(msg.ClientType) {
		h.log.Warn().Str("conn", connID).Str("client_type", msg.ClientType).Msg("register with unknown client type")
		h.send(conn, &types.ErrorEvent{Type: types.MsgError, Message: "unknown client type"})
		return
	}
	h.registry.SetRole(connID, msg.ClientType)
	h.send(conn, &types.RegisteredAck{
		Type:       types.MsgRegistered,
		ClientID:   connID,
		ClientType: msg.ClientType,
	})
	h.log.Info().Str("conn", connID).Str("client_type", msg.ClientType).Msg("registered")
}

func (h *Hub) handleSubscribe(connID string, msg *types.SubscribeMsg) {
	conn, ok := h.registry.Get(connID)
	if !ok {
		return
	}
	h.registry.Subscribe(connID, msg.ProcedureID)
	h.send(conn, &types.SubscribedAck{
		Type:        types.MsgSubscribed,
		ProcedureID: msg.ProcedureID,
	})
}

// Voice traffic fans out to every viewing connection regardless of
// subscription: the system models a single shared theater session, matching
// the behavior the dictation clients expect.
func (h *Hub) handleTranscription(connID string, msg *types.TranscriptionMsg) {
	if !h.senderIsAuthoring(connID, "voice_transcription") {
		return
	}
	h.broadcast(h.registry.Viewing(), &types.TranscriptionEvent{
		Type:      types.MsgTranscription,
		Text:      msg.Text,
		Timestamp: time.Now(),
	})
}

func (h *Hub) handleCommand(connID string, msg *types.CommandMsg) {
	if !h.senderIsAuthoring(connID, "voice_command") {
		return
	}
	h.broadcast(h.registry.Viewing(), &types.CommandEvent{
		Type:      types.MsgCommand,
		Command:   msg.Command,
		Params:    msg.Params,
		Timestamp: time.Now(),
	})
}

// handleFieldUpdate persists the change first; only a successful write is
// broadcast, and never back to the sender.
func (h *Hub) handleFieldUpdate(ctx context.Context, connID string, msg *types.FieldUpdateMsg) {
	pctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	if err := h.store.UpdateField(pctx, msg.ProcedureID, msg.Field, msg.Value); err != nil {
		h.log.Error().Err(err).Str("conn", connID).Str("field", msg.Field).Msg("field update persist failed")
		h.sendError(connID, "field update could not be saved")
		return
	}

	h.broadcast(h.registry.ViewingExcept(connID), &types.FieldUpdatedEvent{
		Type:        types.MsgFieldUpdated,
		Field:       msg.Field,
		Value:       msg.Value,
		ProcedureID: msg.ProcedureID,
		Source:      connID,
	})
}

// handleProcedureUpdate persists the batch, acks the sender, then fans out
// to every connection subscribed to the record, regardless of role.
func (h *Hub) handleProcedureUpdate(ctx context.Context, connID string, msg *types.ProcedureUpdateMsg) {
	pctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	if err := h.store.UpdateProcedure(pctx, msg.ProcedureID, msg.Updates); err != nil {
		h.log.Error().Err(err).Str("conn", connID).Str("procedure", msg.ProcedureID).Msg("procedure update persist failed")
		h.sendError(connID, "procedure update could not be saved")
		return
	}

	if conn, ok := h.registry.Get(connID); ok {
		h.send(conn, &types.ProcedureSavedEvent{
			Type:        types.MsgProcedureSaved,
			ProcedureID: msg.ProcedureID,
			Message:     "procedure saved",
		})
	}

	h.broadcast(h.registry.SubscribedTo(msg.ProcedureID), &types.ProcedureUpdatedEvent{
		Type:        types.MsgProcedureUpdated,
		ProcedureID: msg.ProcedureID,
		Updates:     msg.Updates,
	})
}

func (h *Hub) senderIsAuthoring(connID, kind string) bool {
	role, ok := h.registry.Role(connID)
	if !ok || role != types.RoleAuthoring {
		h.log.Warn().Str("conn", connID).Str("kind", kind).Str("role", role).Msg("dropping voice event from non-authoring connection")
		return false
	}
	return true
}

// broadcast delivers one envelope to a registry snapshot. Per-recipient
// failures are logged and skipped; delivery to the rest continues.
func (h *Hub) broadcast(conns []interfaces.Conn, envelope interface{}) {
	for _, conn := range conns {
		h.send(conn, envelope)
	}
}

func (h *Hub) send(conn interfaces.Conn, envelope interface{}) {
	if err := conn.Send(envelope); err != nil {
		h.log.Warn().Err(err).Str("conn", conn.ID()).Msg("send failed")
	}
}

func (h *Hub) sendError(connID, message string) {
	if conn, ok := h.registry.Get(connID); ok {
		h.send(conn, &types.ErrorEvent{Type: types.MsgError, Message: message})
	}
}
