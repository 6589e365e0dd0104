package store

import (
	"context"
	"time"
)

// EnsureConversation creates the conversation if it does not exist yet.
func (db *DB) EnsureConversation(id, tenantID string) error {
	_, err := db.Exec(`
		INSERT INTO conversations (id, tenant_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id, tenantID, time.Now().UnixMilli())
	return err
}

// AddMember joins an identity to a conversation (idempotent).
func (db *DB) AddMember(conversationID, identityID string) error {
	_, err := db.Exec(`
		INSERT INTO conversation_members (conversation_id, identity_id, joined_at)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id, identity_id) DO NOTHING`,
		conversationID, identityID, time.Now().UnixMilli())
	return err
}

// Members returns the identity ids allowed in a conversation. An unknown
// conversation is ErrNotFound; a known conversation with no members is an
// empty list.
func (db *DB) Members(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT identity_id FROM conversation_members
		WHERE conversation_id = ?
		ORDER BY joined_at`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(members) == 0 {
		var exists int
		if err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM conversations WHERE id = ?`, conversationID).Scan(&exists); err != nil {
			return nil, err
		}
		if exists == 0 {
			return nil, ErrNotFound
		}
	}
	return members, nil
}

// ConversationsFor lists the conversation ids an identity belongs to,
// most recently joined first.
func (db *DB) ConversationsFor(identityID string) ([]string, error) {
	rows, err := db.Query(`
		SELECT conversation_id FROM conversation_members
		WHERE identity_id = ?
		ORDER BY joined_at DESC`, identityID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
