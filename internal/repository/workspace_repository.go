package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/unclebandit/campaign-engine/internal/model"
)

type WorkspaceRepositoryInterface interface {
	GetByWebhookID(ctx context.Context, webhookID string) (*model.Workspace, error)
	GetActiveSender(ctx context.Context, workspaceID string) (*model.Sender, error)
}

type WorkspaceRepository struct {
	DB *sql.DB
}

// GetByWebhookID returns nil when no workspace owns the identifier.
func (r *WorkspaceRepository) GetByWebhookID(ctx context.Context, webhookID string) (*model.Workspace, error) {
	query := `SELECT id, name, webhook_id, created_at FROM workspaces WHERE webhook_id = $1`
	var w model.Workspace
	err := r.DB.QueryRowContext(ctx, query, webhookID).Scan(&w.ID, &w.Name, &w.WebhookID, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetActiveSender returns nil when the workspace has no active sender.
func (r *WorkspaceRepository) GetActiveSender(ctx context.Context, workspaceID string) (*model.Sender, error) {
	query := `
        SELECT id, workspace_id, provider, phone_number, api_key, account_sid, daily_limit, active
        FROM senders
        WHERE workspace_id = $1 AND active
        ORDER BY provider
        LIMIT 1
    `
	var s model.Sender
	err := r.DB.QueryRowContext(ctx, query, workspaceID).Scan(
		&s.ID, &s.WorkspaceID, &s.Provider, &s.PhoneNumber, &s.APIKey, &s.AccountSID, &s.DailyLimit, &s.Active,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

var _ WorkspaceRepositoryInterface = (*WorkspaceRepository)(nil)
