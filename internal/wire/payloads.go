package wire

// Message is a relayed chat message as it travels over the wire. CreatedAt
// is unix milliseconds. ID is assigned by the server at relay time; the
// ClientMsgID echoes the sender's own id so it can correlate receipts.
type Message struct {
	ID             string `json:"id"`
	ClientMsgID    string `json:"clientMsgId,omitempty"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Body           string `json:"body"`
	Kind           string `json:"kind"`
	CreatedAt      int64  `json:"createdAt"`
}

// Message kinds.
const (
	KindText  = "text"
	KindAudio = "audio"
	KindImage = "image"
)

// ViewConversation marks the conversation a connection currently has open.
// An empty id means no conversation is open.
type ViewConversation struct {
	ConversationID string `json:"conversationId"`
}

// SendMessage asks the server to relay a message to the conversation's
// other members.
type SendMessage struct {
	ClientMsgID    string `json:"clientMsgId" validate:"required"`
	ConversationID string `json:"conversationId" validate:"required"`
	Body           string `json:"body"`
	Kind           string `json:"kind" validate:"required,oneof=text audio image"`
}

// AckNotification acknowledges unread notifications. With All set, every
// record for the acknowledging identity is cleared; otherwise SenderID and
// ConversationID select a single record.
type AckNotification struct {
	All            bool   `json:"all,omitempty"`
	SenderID       string `json:"senderId,omitempty" validate:"required_unless=All true"`
	ConversationID string `json:"conversationId,omitempty" validate:"required_unless=All true"`
}

// CallOffer initiates a call to another identity.
type CallOffer struct {
	CalleeID string `json:"calleeId" validate:"required"`
}

// CallControl carries a session id for accept/decline/hang-up.
type CallControl struct {
	SessionID string `json:"sessionId" validate:"required,uuid4"`
}

// PresenceSnapshot is the full online identity list, broadcast on every
// presence change.
type PresenceSnapshot struct {
	Identities []string `json:"identities"`
}

// ConversationSnapshot lists the conversations the connecting identity
// belongs to, sent on announce so a reconnecting client relearns its
// rooms.
type ConversationSnapshot struct {
	ConversationIDs []string `json:"conversationIds"`
}

// MessageRelayed is the relay receipt sent back to the sender. Delivered
// counts recipient connections reached; zero means everyone was offline.
type MessageRelayed struct {
	ClientMsgID string `json:"clientMsgId"`
	MessageID   string `json:"messageId"`
	Delivered   int    `json:"delivered"`
}

// MessageSaved acknowledges durable storage of a relayed message.
type MessageSaved struct {
	ClientMsgID string `json:"clientMsgId"`
	MessageID   string `json:"messageId"`
}

// MessageNotSaved reports a persistence failure for an already-relayed
// message. Delivery is not undone.
type MessageNotSaved struct {
	ClientMsgID string `json:"clientMsgId"`
	Reason      string `json:"reason"`
}

// NotificationRaised tells a recipient about a new unread marker.
type NotificationRaised struct {
	SenderID       string `json:"senderId"`
	ConversationID string `json:"conversationId"`
	At             int64  `json:"at"`
}

// UnreadCounts is the projection of a recipient's unread records.
type UnreadCounts struct {
	Total      int            `json:"total"`
	ByCategory map[string]int `json:"byCategory"`
}

// CallRinging notifies the callee of an incoming call.
type CallRinging struct {
	SessionID string `json:"sessionId"`
	CallerID  string `json:"callerId"`
}

// CallConnected notifies the caller that the callee accepted.
type CallConnected struct {
	SessionID string `json:"sessionId"`
}

// CallEnded notifies the remaining party that a session reached its
// terminal state.
type CallEnded struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

// Error reports a failed inbound operation without closing the connection.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes, mirroring the sentinel errors of the core packages.
const (
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeInvalidState = "invalid_state"
	CodeStorage      = "storage_error"
	CodeBadRequest   = "bad_request"
)
