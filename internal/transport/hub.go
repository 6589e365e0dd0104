package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gfurtadoalmeida/deskhub/internal/bus"
	"github.com/gfurtadoalmeida/deskhub/internal/call"
	"github.com/gfurtadoalmeida/deskhub/internal/notify"
	"github.com/gfurtadoalmeida/deskhub/internal/persist"
	"github.com/gfurtadoalmeida/deskhub/internal/presence"
	"github.com/gfurtadoalmeida/deskhub/internal/relay"
	"github.com/gfurtadoalmeida/deskhub/internal/store"
	"github.com/gfurtadoalmeida/deskhub/internal/wire"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Profiles is the slice of the store the hub needs: identity upkeep and
// the identity's conversation memberships.
type Profiles interface {
	UpsertIdentity(id *store.Identity) error
	ConversationsFor(identityID string) ([]string, error)
}

// Hub accepts websocket connections and routes their frames through the
// realtime core.
type Hub struct {
	registry *presence.Registry
	relay    *relay.Relay
	notifier *notify.Aggregator
	signaler *call.Signaler
	profiles Profiles
	bus      *bus.Bus
	logger   *zap.Logger
	secret   string
	upgrader websocket.Upgrader
	cancel   context.CancelFunc
}

// NewHub creates a hub. allowedOrigins restricts websocket upgrades; an
// empty list allows any origin.
func NewHub(
	registry *presence.Registry,
	rl *relay.Relay,
	notifier *notify.Aggregator,
	signaler *call.Signaler,
	profiles Profiles,
	b *bus.Bus,
	logger *zap.Logger,
	secret string,
	allowedOrigins []string,
) *Hub {
	h := &Hub{
		registry: registry,
		relay:    rl,
		notifier: notifier,
		signaler: signaler,
		profiles: profiles,
		bus:      b,
		logger:   logger,
		secret:   secret,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
	return h
}

// Start subscribes the hub to the bus events it forwards to clients:
// presence snapshots to everyone, persistence receipts to the sender.
func (h *Hub) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)

	presenceCh, unsubPresence := h.bus.Subscribe("presence.", 64)
	storeCh, unsubStore := h.bus.Subscribe("store.", 256)

	go func() {
		defer unsubPresence()
		defer unsubStore()
		for {
			select {
			case evt := <-presenceCh:
				if snapshot, ok := evt.Payload.([]string); ok {
					h.broadcast(wire.Frame{
						Event: wire.EvtPresenceSnapshot,
						Data:  wire.PresenceSnapshot{Identities: snapshot},
					})
				}
			case evt := <-storeCh:
				h.forwardStoreEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the hub's bus forwarding.
func (h *Hub) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
}

// ServeWS upgrades an authenticated request and runs the connection
// until the transport drops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	claims, err := Authenticate(r, h.secret)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newConn(uuid.NewString(), claims, ws, h.logger)
	if err := h.registry.Register(claims.IdentityID, conn); err != nil {
		// Duplicate transport ids indicate an upstream bug; refuse loudly.
		h.logger.Error("registration failed",
			zap.String("identity", claims.IdentityID),
			zap.Error(err))
		_ = ws.Close()
		return
	}

	// Refresh the identity profile without holding up the connection.
	go func() {
		if err := h.profiles.UpsertIdentity(&store.Identity{
			ID:          claims.IdentityID,
			DisplayName: claims.DisplayName,
			Role:        claims.Role,
			TenantID:    claims.TenantID,
		}); err != nil {
			h.logger.Warn("identity upsert failed",
				zap.String("identity", claims.IdentityID),
				zap.Error(err))
		}
	}()

	go conn.writePump()
	h.readLoop(r.Context(), conn)
}

// readLoop consumes inbound frames until the socket closes, then runs
// the disconnect cascade exactly once.
func (h *Hub) readLoop(ctx context.Context, conn *Conn) {
	defer func() {
		conn.close()
		h.registry.Unregister(conn)
		h.signaler.OnPeerDisconnect(conn)
	}()

	conn.ws.SetReadLimit(maxMessageSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("transport error",
					zap.String("identity", conn.IdentityID()),
					zap.String("transport", conn.TransportID()),
					zap.Error(err))
			}
			return
		}
		env, err := wire.ParseEnvelope(raw)
		if err != nil {
			h.sendError(conn, wire.CodeBadRequest, err)
			continue
		}
		h.dispatch(ctx, conn, env)
	}
}

// Dispatch routes one inbound envelope. Handler failures become error
// frames on the same connection; the transport stays up.
func (h *Hub) dispatch(ctx context.Context, conn *Conn, env wire.Envelope) {
	switch env.Event {
	case wire.EvtAnnounce:
		h.handleAnnounce(conn)
	case wire.EvtViewConversation:
		h.handleViewConversation(conn, env)
	case wire.EvtSendMessage:
		h.handleSendMessage(ctx, conn, env)
	case wire.EvtAckNotification:
		h.handleAck(conn, env)
	case wire.EvtCallOffer:
		h.handleCallOffer(conn, env)
	case wire.EvtCallAccept:
		h.handleCallControl(conn, env, h.signaler.Accept)
	case wire.EvtCallDecline:
		h.handleCallControl(conn, env, h.signaler.Decline)
	case wire.EvtCallHangUp:
		h.handleCallControl(conn, env, h.signaler.HangUp)
	default:
		h.sendError(conn, wire.CodeBadRequest, errors.New("unknown event "+env.Event))
	}
}

func (h *Hub) handleAnnounce(conn *Conn) {
	// Registration happened at upgrade; re-announcing refreshes the
	// client's view of who is online and which rooms it belongs to.
	_ = conn.Deliver(wire.Frame{
		Event: wire.EvtPresenceSnapshot,
		Data:  wire.PresenceSnapshot{Identities: h.registry.Snapshot()},
	})

	convs, err := h.profiles.ConversationsFor(conn.IdentityID())
	if err != nil {
		h.sendError(conn, wire.CodeStorage, err)
		return
	}
	_ = conn.Deliver(wire.Frame{
		Event: wire.EvtConversationSnapshot,
		Data:  wire.ConversationSnapshot{ConversationIDs: convs},
	})
}

func (h *Hub) handleViewConversation(conn *Conn, env wire.Envelope) {
	payload, err := wire.Decode[wire.ViewConversation](env)
	if err != nil {
		h.sendError(conn, wire.CodeBadRequest, err)
		return
	}
	conn.SetActiveConversation(payload.ConversationID)
	if payload.ConversationID != "" {
		h.notifier.ClearConversation(conn.IdentityID(), payload.ConversationID)
	}
	h.deliverUnreadCounts(conn)
}

func (h *Hub) handleSendMessage(ctx context.Context, conn *Conn, env wire.Envelope) {
	payload, err := wire.Decode[wire.SendMessage](env)
	if err != nil {
		h.sendError(conn, wire.CodeBadRequest, err)
		return
	}

	msg := wire.Message{
		ID:             uuid.NewString(),
		ClientMsgID:    payload.ClientMsgID,
		ConversationID: payload.ConversationID,
		SenderID:       conn.IdentityID(),
		Body:           payload.Body,
		Kind:           payload.Kind,
		CreatedAt:      time.Now().UnixMilli(),
	}

	delivered, err := h.relay.Relay(ctx, msg, conn.Role())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.sendError(conn, wire.CodeNotFound, err)
		} else {
			h.sendError(conn, wire.CodeStorage, err)
		}
		return
	}

	// The sender learns how many live connections were reached; durable
	// storage is acknowledged separately once the writer reports in.
	_ = conn.Deliver(wire.Frame{
		Event: wire.EvtMessageRelayed,
		Data: wire.MessageRelayed{
			ClientMsgID: payload.ClientMsgID,
			MessageID:   msg.ID,
			Delivered:   delivered,
		},
	})
}

func (h *Hub) handleAck(conn *Conn, env wire.Envelope) {
	payload, err := wire.Decode[wire.AckNotification](env)
	if err != nil {
		h.sendError(conn, wire.CodeBadRequest, err)
		return
	}
	h.notifier.Acknowledge(conn.IdentityID(), notify.Scope{
		All:            payload.All,
		SenderID:       payload.SenderID,
		ConversationID: payload.ConversationID,
	})
	h.deliverUnreadCounts(conn)
}

func (h *Hub) handleCallOffer(conn *Conn, env wire.Envelope) {
	payload, err := wire.Decode[wire.CallOffer](env)
	if err != nil {
		h.sendError(conn, wire.CodeBadRequest, err)
		return
	}
	if _, err := h.signaler.Offer(conn.IdentityID(), payload.CalleeID); err != nil {
		h.sendError(conn, callErrorCode(err), err)
	}
}

func (h *Hub) handleCallControl(conn *Conn, env wire.Envelope, op func(sessionID, identity string) error) {
	payload, err := wire.Decode[wire.CallControl](env)
	if err != nil {
		h.sendError(conn, wire.CodeBadRequest, err)
		return
	}
	if err := op(payload.SessionID, conn.IdentityID()); err != nil {
		h.sendError(conn, callErrorCode(err), err)
	}
}

func callErrorCode(err error) string {
	switch {
	case errors.Is(err, call.ErrSessionNotFound):
		return wire.CodeNotFound
	case errors.Is(err, call.ErrSessionNotRinging), errors.Is(err, call.ErrInvalidTransition):
		return wire.CodeInvalidState
	case errors.Is(err, call.ErrCallerBusy), errors.Is(err, call.ErrCalleeBusy),
		errors.Is(err, call.ErrSelfCall), errors.Is(err, call.ErrNotParticipant):
		return wire.CodeConflict
	default:
		return wire.CodeBadRequest
	}
}

func (h *Hub) deliverUnreadCounts(conn *Conn) {
	counts := h.notifier.UnreadCounts(conn.IdentityID())
	_ = conn.Deliver(wire.Frame{
		Event: wire.EvtUnreadCounts,
		Data:  wire.UnreadCounts{Total: counts.Total, ByCategory: counts.ByCategory},
	})
}

func (h *Hub) forwardStoreEvent(evt bus.Event) {
	switch payload := evt.Payload.(type) {
	case persist.Saved:
		h.pushToIdentity(payload.SenderID, wire.Frame{
			Event: wire.EvtMessageSaved,
			Data:  wire.MessageSaved{ClientMsgID: payload.ClientMsgID, MessageID: payload.MessageID},
		})
	case persist.SaveFailed:
		h.pushToIdentity(payload.SenderID, wire.Frame{
			Event: wire.EvtMessageNotSaved,
			Data:  wire.MessageNotSaved{ClientMsgID: payload.ClientMsgID, Reason: payload.Reason},
		})
	}
}

func (h *Hub) pushToIdentity(identity string, frame wire.Frame) {
	for _, conn := range h.registry.Lookup(identity) {
		if err := conn.Deliver(frame); err != nil {
			h.logger.Warn("push failed",
				zap.String("identity", identity),
				zap.Error(err))
		}
	}
}

func (h *Hub) broadcast(frame wire.Frame) {
	for _, identity := range h.registry.Snapshot() {
		h.pushToIdentity(identity, frame)
	}
}

// sendError reports a failed operation without closing the connection.
func (h *Hub) sendError(conn *Conn, code string, err error) {
	h.logger.Info("client operation failed",
		zap.String("identity", conn.IdentityID()),
		zap.String("code", code),
		zap.Error(err))
	_ = conn.Deliver(wire.Frame{
		Event: wire.EvtError,
		Data:  wire.Error{Code: code, Message: err.Error()},
	})
}
