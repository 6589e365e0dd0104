package store

// Identity is one authenticated participant, agent or customer.
type Identity struct {
	ID          string
	DisplayName string
	Role        string // "agent" or "customer"
	TenantID    string
	CreatedAt   int64
	UpdatedAt   int64
}

// Conversation groups the participants allowed to message each other.
type Conversation struct {
	ID        string
	TenantID  string
	CreatedAt int64
}

// Message is a persisted chat message. Timestamps are unix milliseconds.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Body           string
	Kind           string
	CreatedAt      int64
}
