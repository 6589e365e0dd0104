package wire

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Inbound event names (client → server).
const (
	EvtAnnounce         = "announce"
	EvtViewConversation = "viewConversation"
	EvtSendMessage      = "sendMessage"
	EvtAckNotification  = "ackNotification"
	EvtCallOffer        = "callOffer"
	EvtCallAccept       = "callAccept"
	EvtCallDecline      = "callDecline"
	EvtCallHangUp       = "callHangUp"
)

// Outbound event names (server → client).
const (
	EvtPresenceSnapshot     = "presenceSnapshot"
	EvtConversationSnapshot = "conversationSnapshot"
	EvtMessageDelivered     = "messageDelivered"
	EvtMessageRelayed       = "messageRelayed"
	EvtMessageSaved         = "messageSaved"
	EvtMessageNotSaved      = "messageNotSaved"
	EvtNotificationRaised   = "notificationRaised"
	EvtUnreadCounts         = "unreadCounts"
	EvtCallRinging          = "callRinging"
	EvtCallConnected        = "callConnected"
	EvtCallEnded            = "callEnded"
	EvtError                = "error"
)

// Frame is an outbound event envelope. Data is marshaled as-is by the
// connection's write pump.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Envelope is an inbound event envelope with the payload left raw until
// the event name selects a concrete type.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ParseEnvelope decodes one inbound websocket text message.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("frame missing event name")
	}
	return env, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode unmarshals and validates an inbound payload.
func Decode[T any](env Envelope) (T, error) {
	var payload T
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return payload, fmt.Errorf("decode %s payload: %w", env.Event, err)
		}
	}
	if err := validate.Struct(&payload); err != nil {
		return payload, fmt.Errorf("invalid %s payload: %w", env.Event, err)
	}
	return payload, nil
}
