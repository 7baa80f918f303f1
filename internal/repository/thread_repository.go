package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/unclebandit/campaign-engine/internal/ids"
)

type ThreadRepositoryInterface interface {
	GetOrCreate(ctx context.Context, workspaceID, contactID string) (string, error)
	FindByContact(ctx context.Context, workspaceID, contactID string) (string, error)
}

type ThreadRepository struct {
	DB *sql.DB
}

// GetOrCreate inserts the thread or returns the existing one in a single statement.
// The no-op DO UPDATE makes RETURNING yield the surviving row on conflict.
func (r *ThreadRepository) GetOrCreate(ctx context.Context, workspaceID, contactID string) (string, error) {
	query := `
        INSERT INTO threads (id, workspace_id, contact_id, created_at, updated_at)
        VALUES ($1, $2, $3, NOW(), NOW())
        ON CONFLICT (workspace_id, contact_id)
        DO UPDATE SET updated_at = threads.updated_at
        RETURNING id
    `
	var id string
	err := r.DB.QueryRowContext(ctx, query, ids.New(ids.PrefixThread), workspaceID, contactID).Scan(&id)
	return id, err
}

// FindByContact returns "" when the pair has no thread yet.
func (r *ThreadRepository) FindByContact(ctx context.Context, workspaceID, contactID string) (string, error) {
	var id string
	err := r.DB.QueryRowContext(ctx,
		`SELECT id FROM threads WHERE workspace_id = $1 AND contact_id = $2`, workspaceID, contactID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

var _ ThreadRepositoryInterface = (*ThreadRepository)(nil)
