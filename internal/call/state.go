// Package call owns call-setup signaling between two identities: who is
// calling whom and when the call is live. Media never passes through
// here; the peers negotiate it directly once connected.
package call

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// State is a call session lifecycle state. Idle is the absence of a
// session; Ended is terminal and absorbing.
type State string

const (
	Ringing   State = "RINGING"
	Connected State = "CONNECTED"
	Ended     State = "ENDED"
)

var validTransitions = map[State][]State{
	Ringing:   {Connected, Ended},
	Connected: {Ended},
	Ended:     {},
}

// Reason explains why a session reached Ended.
type Reason string

const (
	ReasonDeclined     Reason = "declined"
	ReasonCancelled    Reason = "cancelled"
	ReasonHangUp       Reason = "hangup"
	ReasonTimeout      Reason = "timeout"
	ReasonDisconnected Reason = "disconnected"
)

// Signaling errors.
var (
	ErrCallerBusy        = errors.New("caller already in a live session")
	ErrCalleeBusy        = errors.New("callee already in a live session")
	ErrSelfCall          = errors.New("caller and callee are the same identity")
	ErrSessionNotFound   = errors.New("unknown call session")
	ErrSessionNotRinging = errors.New("session is not ringing")
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrNotParticipant    = errors.New("identity is not a party of this session")
)

// Session is one attempted or active call between exactly two identities.
// All mutation happens under the signaler's lock.
type Session struct {
	ID        string
	CallerID  string
	CalleeID  string
	StartedAt time.Time

	state     State
	endReason Reason
	ringTimer *time.Timer
}

// State returns the session's current state.
func (s *Session) State() State { return s.state }

// EndReason returns why the session ended; empty while non-terminal.
func (s *Session) EndReason() Reason { return s.endReason }

// transition enforces the guarded state table. Caller holds the signaler
// lock.
func (s *Session) transition(to State) error {
	if !slices.Contains(validTransitions[s.state], to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
	}
	s.state = to
	return nil
}

// hasParty reports whether identity is the caller or callee.
func (s *Session) hasParty(identity string) bool {
	return identity == s.CallerID || identity == s.CalleeID
}

// snapshotLocked captures the session for bus publication. Caller holds
// the signaler lock.
func (s *Session) snapshotLocked() SessionEvent {
	return SessionEvent{
		SessionID: s.ID,
		CallerID:  s.CallerID,
		CalleeID:  s.CalleeID,
		State:     s.state,
		Reason:    s.endReason,
	}
}
