package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertIdentity inserts or refreshes an identity profile.
func (db *DB) UpsertIdentity(id *Identity) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO identities (id, display_name, role, tenant_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			role = excluded.role,
			tenant_id = excluded.tenant_id,
			updated_at = excluded.updated_at`,
		id.ID, id.DisplayName, id.Role, id.TenantID, now, now)
	return err
}

// FindIdentity returns the identity profile or ErrNotFound.
func (db *DB) FindIdentity(id string) (*Identity, error) {
	var ident Identity
	err := db.QueryRow(`
		SELECT id, display_name, role, tenant_id, created_at, updated_at
		FROM identities WHERE id = ?`, id).
		Scan(&ident.ID, &ident.DisplayName, &ident.Role, &ident.TenantID, &ident.CreatedAt, &ident.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("identity %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &ident, nil
}
