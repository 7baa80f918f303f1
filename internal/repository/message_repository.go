package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
)

type MessageRepositoryInterface interface {
	CreateOutbound(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	GetByExternalID(ctx context.Context, externalID string) (*model.Message, error)
	MarkSent(ctx context.Context, id, externalID string) (bool, error)
	MarkFailed(ctx context.Context, id, reason string) (bool, error)
	Transition(ctx context.Context, id string, next model.MessageStatus) (bool, error)
	InsertInbound(ctx context.Context, m *model.Message) (bool, error)
	RecordProviderMessage(ctx context.Context, pm *model.ProviderMessage) error
	UpdateProviderStatus(ctx context.Context, externalID string, status model.MessageStatus) error
	ListStaleQueued(ctx context.Context, olderThan time.Time, limit int) ([]*model.Message, error)
	ListByThread(ctx context.Context, threadID string, limit int) ([]*model.Message, error)
	HoldReceipt(ctx context.Context, r *model.HeldReceipt) error
	TakeReceipt(ctx context.Context, externalID string) (*model.HeldReceipt, error)
	PurgeHeldReceipts(ctx context.Context, olderThan time.Time) (int64, error)
}

type MessageRepository struct {
	DB *sql.DB
}

const messageColumns = `id, thread_id, workspace_id, contact_id, campaign_id, direction, status, body,
        from_number, to_number, external_id, error, created_at, updated_at, sent_at, delivered_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*model.Message, error) {
	var m model.Message
	err := row.Scan(
		&m.ID, &m.ThreadID, &m.WorkspaceID, &m.ContactID, &m.CampaignID, &m.Direction, &m.Status, &m.Body,
		&m.FromNumber, &m.ToNumber, &m.ExternalID, &m.Error, &m.CreatedAt, &m.UpdatedAt, &m.SentAt, &m.DeliveredAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateOutbound persists a queued outbound message. This is the durability
// point of a send: nothing reaches the provider until it succeeds.
func (r *MessageRepository) CreateOutbound(ctx context.Context, m *model.Message) error {
	query := `
        INSERT INTO messages (id, thread_id, workspace_id, contact_id, campaign_id, direction, status, body, from_number, to_number)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING created_at, updated_at
    `
	err := r.DB.QueryRowContext(ctx, query,
		m.ID, m.ThreadID, m.WorkspaceID, m.ContactID, m.CampaignID, model.DirectionOutbound, model.StatusQueued,
		m.Body, m.FromNumber, m.ToNumber,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) && m.CampaignID != nil {
			return appErrors.ErrAlreadyDispatched
		}
		return err
	}
	m.Direction = model.DirectionOutbound
	m.Status = model.StatusQueued
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	m, err := scanMessage(r.DB.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (r *MessageRepository) GetByExternalID(ctx context.Context, externalID string) (*model.Message, error) {
	m, err := scanMessage(r.DB.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE external_id = $1`, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// MarkSent records the provider acknowledgement. Returns false when the
// message already moved past queued, e.g. a fast delivery receipt.
func (r *MessageRepository) MarkSent(ctx context.Context, id, externalID string) (bool, error) {
	query := `
        UPDATE messages
        SET status = $2, external_id = $3, sent_at = NOW(), updated_at = NOW()
        WHERE id = $1 AND status = ANY($4)
    `
	res, err := r.DB.ExecContext(ctx, query, id, model.StatusSent, externalID,
		messageStatuses(model.Predecessors(model.StatusSent)))
	if err != nil {
		return false, err
	}
	return affected(res)
}

// MarkFailed fails a message that never left queued.
func (r *MessageRepository) MarkFailed(ctx context.Context, id, reason string) (bool, error) {
	query := `
        UPDATE messages
        SET status = $2, error = $3, updated_at = NOW()
        WHERE id = $1 AND status = $4
    `
	res, err := r.DB.ExecContext(ctx, query, id, model.StatusFailed, reason, model.StatusQueued)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// Transition moves a message forward only if its stored status is still a
// legal predecessor of next. false means a duplicate or a regression.
func (r *MessageRepository) Transition(ctx context.Context, id string, next model.MessageStatus) (bool, error) {
	preds := model.Predecessors(next)
	if len(preds) == 0 {
		return false, nil
	}
	query := `
        UPDATE messages
        SET status = $2,
            updated_at = NOW(),
            sent_at = CASE WHEN $2 = 'sent' THEN NOW() ELSE sent_at END,
            delivered_at = CASE WHEN $2 = 'delivered' THEN NOW() ELSE delivered_at END
        WHERE id = $1 AND status = ANY($3)
    `
	res, err := r.DB.ExecContext(ctx, query, id, string(next), messageStatuses(preds))
	if err != nil {
		return false, err
	}
	return affected(res)
}

// InsertInbound stores a received message. Replays of the same external id
// converge on the first row and report false.
func (r *MessageRepository) InsertInbound(ctx context.Context, m *model.Message) (bool, error) {
	query := `
        INSERT INTO messages (id, thread_id, workspace_id, contact_id, direction, status, body, from_number, to_number, external_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (external_id) DO NOTHING
    `
	res, err := r.DB.ExecContext(ctx, query,
		m.ID, m.ThreadID, m.WorkspaceID, m.ContactID, model.DirectionInbound, model.StatusReceived,
		m.Body, m.FromNumber, m.ToNumber, m.ExternalID,
	)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *MessageRepository) RecordProviderMessage(ctx context.Context, pm *model.ProviderMessage) error {
	query := `
        INSERT INTO provider_messages (external_id, workspace_id, thread_id, message_id, provider, from_number, to_number, body, status, direction)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (external_id) DO NOTHING
    `
	_, err := r.DB.ExecContext(ctx, query,
		pm.ExternalID, pm.WorkspaceID, pm.ThreadID, pm.MessageID, pm.Provider,
		pm.FromNumber, pm.ToNumber, pm.Body, pm.Status, pm.Direction,
	)
	return err
}

func (r *MessageRepository) UpdateProviderStatus(ctx context.Context, externalID string, status model.MessageStatus) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE provider_messages SET status = $2, updated_at = NOW() WHERE external_id = $1`,
		externalID, status,
	)
	return err
}

// HoldReceipt parks an early provider status. A terminal status already held
// is kept, so the first terminal receipt wins as it does on messages.
func (r *MessageRepository) HoldReceipt(ctx context.Context, h *model.HeldReceipt) error {
	query := `
        INSERT INTO held_receipts (external_id, workspace_id, status)
        VALUES ($1, $2, $3)
        ON CONFLICT (external_id) DO UPDATE
        SET status = CASE WHEN held_receipts.status IN ('delivered', 'failed')
                          THEN held_receipts.status ELSE EXCLUDED.status END
    `
	_, err := r.DB.ExecContext(ctx, query, h.ExternalID, h.WorkspaceID, h.Status)
	return err
}

// TakeReceipt removes and returns the held receipt for externalID, or nil.
// Only one caller can take a given receipt.
func (r *MessageRepository) TakeReceipt(ctx context.Context, externalID string) (*model.HeldReceipt, error) {
	var h model.HeldReceipt
	err := r.DB.QueryRowContext(ctx,
		`DELETE FROM held_receipts WHERE external_id = $1 RETURNING external_id, workspace_id, status, received_at`,
		externalID,
	).Scan(&h.ExternalID, &h.WorkspaceID, &h.Status, &h.ReceivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *MessageRepository) PurgeHeldReceipts(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM held_receipts WHERE received_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListStaleQueued returns outbound messages stuck in queued since before olderThan.
func (r *MessageRepository) ListStaleQueued(ctx context.Context, olderThan time.Time, limit int) ([]*model.Message, error) {
	query := `SELECT ` + messageColumns + `
        FROM messages
        WHERE status = 'queued' AND direction = 'outbound' AND created_at < $1
        ORDER BY created_at
        LIMIT $2`
	return r.list(ctx, query, olderThan, limit)
}

// ListByThread returns the newest messages of a thread first.
func (r *MessageRepository) ListByThread(ctx context.Context, threadID string, limit int) ([]*model.Message, error) {
	query := `SELECT ` + messageColumns + `
        FROM messages
        WHERE thread_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2`
	return r.list(ctx, query, threadID, limit)
}

func (r *MessageRepository) list(ctx context.Context, query string, args ...any) ([]*model.Message, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*model.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var _ MessageRepositoryInterface = (*MessageRepository)(nil)
