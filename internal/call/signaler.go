package call

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gfurtadoalmeida/deskhub/internal/bus"
	"github.com/gfurtadoalmeida/deskhub/internal/presence"
	"github.com/gfurtadoalmeida/deskhub/internal/wire"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Signaler exchanges call-setup events between two identities and owns
// every live Session. At most one non-terminal session exists per
// identity; a ringing session that is not accepted within the ring
// timeout auto-declines.
type Signaler struct {
	mu       sync.Mutex
	sessions map[string]*Session // session id → session, non-terminal only
	byParty  map[string]string   // identity id → session id

	registry    *presence.Registry
	bus         *bus.Bus
	logger      *zap.Logger
	ringTimeout time.Duration
}

// NewSignaler creates a signaler with no active sessions.
func NewSignaler(registry *presence.Registry, b *bus.Bus, logger *zap.Logger, ringTimeout time.Duration) *Signaler {
	return &Signaler{
		sessions:    make(map[string]*Session),
		byParty:     make(map[string]string),
		registry:    registry,
		bus:         b,
		logger:      logger,
		ringTimeout: ringTimeout,
	}
}

// Offer creates a Ringing session from caller to callee and pushes a
// ring event to every callee connection. Exactly one of two racing
// offers on the same party wins; the loser observes the busy error.
func (s *Signaler) Offer(callerID, calleeID string) (*Session, error) {
	if callerID == calleeID {
		return nil, ErrSelfCall
	}

	s.mu.Lock()
	if _, busy := s.byParty[callerID]; busy {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrCallerBusy, callerID)
	}
	if _, busy := s.byParty[calleeID]; busy {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrCalleeBusy, calleeID)
	}

	sess := &Session{
		ID:        uuid.NewString(),
		CallerID:  callerID,
		CalleeID:  calleeID,
		StartedAt: time.Now(),
		state:     Ringing,
	}
	s.sessions[sess.ID] = sess
	s.byParty[callerID] = sess.ID
	s.byParty[calleeID] = sess.ID
	if s.ringTimeout > 0 {
		id := sess.ID
		sess.ringTimer = time.AfterFunc(s.ringTimeout, func() { s.ringExpired(id) })
	}
	evt := sess.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("call offered",
		zap.String("session", sess.ID),
		zap.String("caller", callerID),
		zap.String("callee", calleeID))
	ring := wire.Frame{
		Event: wire.EvtCallRinging,
		Data:  wire.CallRinging{SessionID: sess.ID, CallerID: callerID},
	}
	s.push(calleeID, ring)
	// Mirrored to the caller's own devices so each learns the session id.
	s.push(callerID, ring)
	s.publish("call.ringing", evt)
	return sess, nil
}

// Accept transitions a Ringing session to Connected and notifies the
// caller. Only the callee may accept. Any non-Ringing session (including
// an already-ended, discarded one) is rejected, never retried.
func (s *Signaler) Accept(sessionID, identity string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if sess.state != Ringing {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrSessionNotRinging, sessionID, sess.state)
	}
	if identity != sess.CalleeID {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotParticipant, identity)
	}
	if err := sess.transition(Connected); err != nil {
		s.mu.Unlock()
		return err
	}
	if sess.ringTimer != nil {
		sess.ringTimer.Stop()
		sess.ringTimer = nil
	}
	callerID := sess.CallerID
	evt := sess.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("call accepted", zap.String("session", sessionID))
	s.push(callerID, wire.Frame{
		Event: wire.EvtCallConnected,
		Data:  wire.CallConnected{SessionID: sessionID},
	})
	s.publish("call.connected", evt)
	return nil
}

// Decline ends a session from the callee's side while Ringing; from the
// caller it is a cancel. The reason is resolved inside end's critical
// section against the session's current parties.
func (s *Signaler) Decline(sessionID, identity string) error {
	return s.end(sessionID, identity, ReasonDeclined, "")
}

// HangUp ends a Ringing or Connected session from either party.
func (s *Signaler) HangUp(sessionID, identity string) error {
	return s.end(sessionID, identity, ReasonHangUp, "")
}

// OnPeerDisconnect force-ends any non-terminal session a vanished party
// owns, so calls never hang because one side dropped. Called after the
// registry unregisters the connection; with other devices still
// connected the identity has not vanished and the session survives.
func (s *Signaler) OnPeerDisconnect(conn presence.Conn) {
	identity := conn.IdentityID()
	if s.registry.Online(identity) {
		return
	}

	s.mu.Lock()
	sessionID, ok := s.byParty[identity]
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := s.end(sessionID, identity, ReasonDisconnected, ""); err != nil {
		s.logger.Warn("disconnect cascade failed",
			zap.String("session", sessionID),
			zap.String("identity", identity),
			zap.Error(err))
	}
}

// SessionFor returns the id of the identity's non-terminal session, if
// any.
func (s *Signaler) SessionFor(identity string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byParty[identity]
	return id, ok
}

// end transitions a session to Ended, frees both busy slots exactly
// once, discards the record, and pushes the terminal event to both
// parties' connections. A non-empty onlyFrom rejects the end once the
// session has left that state, so a stale trigger (an expired ring timer
// racing an accept) cannot tear down a session that moved on. A decline
// coming from the caller is a cancel; that too is decided here, against
// the session's state under the lock.
func (s *Signaler) end(sessionID, identity string, reason Reason, onlyFrom State) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if !sess.hasParty(identity) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotParticipant, identity)
	}
	if onlyFrom != "" && sess.state != onlyFrom {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrSessionNotRinging, sessionID, sess.state)
	}
	if reason == ReasonDeclined && identity == sess.CallerID {
		reason = ReasonCancelled
	}
	if err := sess.transition(Ended); err != nil {
		s.mu.Unlock()
		return err
	}
	sess.endReason = reason
	if sess.ringTimer != nil {
		sess.ringTimer.Stop()
		sess.ringTimer = nil
	}
	delete(s.sessions, sessionID)
	delete(s.byParty, sess.CallerID)
	delete(s.byParty, sess.CalleeID)
	caller, callee := sess.CallerID, sess.CalleeID
	evt := sess.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("call ended",
		zap.String("session", sessionID),
		zap.String("reason", string(reason)))
	frame := wire.Frame{
		Event: wire.EvtCallEnded,
		Data:  wire.CallEnded{SessionID: sessionID, Reason: string(reason)},
	}
	s.push(caller, frame)
	s.push(callee, frame)
	s.publish("call.ended", evt)
	return nil
}

// ringExpired is the timer-driven auto-decline of an unanswered ring.
// The end is guarded on Ringing: once the callback has started, stopping
// the timer no longer helps, so an accept that slips in before the end
// must win and keep the session connected.
func (s *Signaler) ringExpired(sessionID string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.state != Ringing {
		s.mu.Unlock()
		return
	}
	identity := sess.CalleeID
	s.mu.Unlock()

	err := s.end(sessionID, identity, ReasonTimeout, Ringing)
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionNotRinging) {
		// The session was accepted or ended between the check and the end.
		return
	}
	if err != nil {
		s.logger.Warn("ring timeout cascade failed", zap.String("session", sessionID), zap.Error(err))
		return
	}
	s.logger.Info("ring timed out", zap.String("session", sessionID))
}

func (s *Signaler) push(identity string, frame wire.Frame) {
	for _, conn := range s.registry.Lookup(identity) {
		if err := conn.Deliver(frame); err != nil {
			s.logger.Warn("call event delivery failed",
				zap.String("identity", identity),
				zap.String("transport", conn.TransportID()),
				zap.Error(err))
		}
	}
}

func (s *Signaler) publish(kind string, evt SessionEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   evt,
	})
}

// SessionEvent is the bus payload for call lifecycle events.
type SessionEvent struct {
	SessionID string
	CallerID  string
	CalleeID  string
	State     State
	Reason    Reason
}
