package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/unclebandit/campaign-engine/internal/ids"
	"github.com/unclebandit/campaign-engine/internal/model"
)

// ContactRepositoryInterface defines methods used by service
type ContactRepositoryInterface interface {
	GetByID(ctx context.Context, workspaceID, id string) (*model.Contact, error)
	FindByPhone(ctx context.Context, workspaceID, number string) (*model.Contact, error)
	GetOrCreateByPhone(ctx context.Context, workspaceID, number string) (*model.Contact, error)
	SetPrimaryPhone(ctx context.Context, contactID, number string) error
}

// ContactRepository is the concrete implementation
type ContactRepository struct {
	DB *sql.DB
}

// GetByID fetches a contact and its phone numbers; nil when not found.
func (r *ContactRepository) GetByID(ctx context.Context, workspaceID, id string) (*model.Contact, error) {
	query := `
        SELECT id, workspace_id, first_name, last_name, email, created_at
        FROM contacts
        WHERE id = $1 AND workspace_id = $2
    `
	var c model.Contact
	err := r.DB.QueryRowContext(ctx, query, id, workspaceID).Scan(
		&c.ID, &c.WorkspaceID, &c.FirstName, &c.LastName, &c.Email, &c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	phones, err := r.phones(ctx, r.DB, c.ID)
	if err != nil {
		return nil, err
	}
	c.Phones = phones
	return &c, nil
}

// FindByPhone resolves the contact that owns number inside a workspace; nil when unknown.
func (r *ContactRepository) FindByPhone(ctx context.Context, workspaceID, number string) (*model.Contact, error) {
	var id string
	err := r.DB.QueryRowContext(ctx,
		`SELECT contact_id FROM contact_phones WHERE workspace_id = $1 AND number = $2 ORDER BY is_primary DESC LIMIT 1`,
		workspaceID, number,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, workspaceID, id)
}

// GetOrCreateByPhone creates a bare contact for an unknown inbound number.
// A transaction-scoped advisory lock on (workspace, number) serialises concurrent creators.
func (r *ContactRepository) GetOrCreateByPhone(ctx context.Context, workspaceID, number string) (*model.Contact, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2))`, workspaceID, number); err != nil {
		return nil, fmt.Errorf("lock contact number: %w", err)
	}

	var id string
	err = tx.QueryRowContext(ctx,
		`SELECT contact_id FROM contact_phones WHERE workspace_id = $1 AND number = $2 LIMIT 1`,
		workspaceID, number,
	).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = ids.New(ids.PrefixContact)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO contacts (id, workspace_id) VALUES ($1, $2)`, id, workspaceID,
		); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO contact_phones (contact_id, workspace_id, number, type, is_primary) VALUES ($1, $2, $3, 'mobile', TRUE)`,
			id, workspaceID, number,
		); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, workspaceID, id)
}

// SetPrimaryPhone makes number the only primary phone of the contact.
func (r *ContactRepository) SetPrimaryPhone(ctx context.Context, contactID, number string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE contact_phones SET is_primary = FALSE WHERE contact_id = $1 AND is_primary`, contactID,
	); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE contact_phones SET is_primary = TRUE WHERE contact_id = $1 AND number = $2`, contactID, number,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("contact %s has no phone %s", contactID, number)
	}
	return tx.Commit()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *ContactRepository) phones(ctx context.Context, q queryer, contactID string) ([]model.ContactPhone, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT number, type, is_primary FROM contact_phones WHERE contact_id = $1 ORDER BY is_primary DESC, number`,
		contactID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	phones := []model.ContactPhone{}
	for rows.Next() {
		var p model.ContactPhone
		if err := rows.Scan(&p.Number, &p.Type, &p.IsPrimary); err != nil {
			return nil, err
		}
		phones = append(phones, p)
	}
	return phones, rows.Err()
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
