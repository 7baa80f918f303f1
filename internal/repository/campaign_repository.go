package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
)

// BatchLogSkipped marks a recipient that can never be dispatched (no usable
// number). Skipped recipients are not picked again and count as finished.
const BatchLogSkipped = "skipped"

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, workspaceID string, offset, limit int, status string) ([]*model.Campaign, int, error)
	TargetListExists(ctx context.Context, workspaceID, listID string) (bool, error)

	// State machine
	TransitionStatus(ctx context.Context, id string, from []model.CampaignStatus, to model.CampaignStatus) (bool, error)
	ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error)

	// Batch selection
	NextRecipients(ctx context.Context, c *model.Campaign, limit int) ([]string, error)
	CountUnsentTargets(ctx context.Context, c *model.Campaign) (int, error)
	CountTargets(ctx context.Context, listID string) (int, error)
	CountSentSince(ctx context.Context, campaignID string, since time.Time) (int, error)
	CountUnfinishedTargets(ctx context.Context, c *model.Campaign) (int, error)
	AppendBatchLog(ctx context.Context, e *model.BatchLogEntry) error

	// Stats
	CountMessages(ctx context.Context, campaignID string) (*model.CampaignStats, error)
	SaveStats(ctx context.Context, s *model.CampaignStats) error
	GetStats(ctx context.Context, campaignID string) (*model.CampaignStats, error)
	CampaignsForThread(ctx context.Context, threadID string) ([]string, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, workspace_id, target_list_id, name, body_template, status, scheduled_for, daily_limit,
        started_at, completed_at, cancelled_at, created_at, updated_at`

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(&c.ID, &c.WorkspaceID, &c.TargetListID, &c.Name, &c.BodyTemplate, &c.Status, &c.ScheduledFor,
		&c.DailyLimit, &c.StartedAt, &c.CompletedAt, &c.CancelledAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.Status == "" {
		c.Status = model.CampaignScheduled
	}
	query := `
        INSERT INTO campaigns (id, workspace_id, target_list_id, name, body_template, status, scheduled_for, daily_limit)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING created_at
    `
	return r.DB.QueryRowContext(ctx, query,
		c.ID, c.WorkspaceID, c.TargetListID, c.Name, c.BodyTemplate, c.Status, c.ScheduledFor, c.DailyLimit,
	).Scan(&c.CreatedAt)
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return c, err
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, workspaceID string, offset, limit int, status string) ([]*model.Campaign, int, error) {
	where := ` WHERE workspace_id = $1`
	args := []interface{}{workspaceID}
	argPos := 2

	if status != "" {
		where += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, status)
		argPos++
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, total, rows.Err()
}

func (r *CampaignRepository) TargetListExists(ctx context.Context, workspaceID, listID string) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM target_lists WHERE id = $1 AND workspace_id = $2)`, listID, workspaceID,
	).Scan(&exists)
	return exists, err
}

// ====================== State machine ======================

// TransitionStatus is a compare-and-set on the stored status. It returns
// false when the campaign is no longer in any of the from states, or when a
// start is attempted before scheduled_for.
func (r *CampaignRepository) TransitionStatus(ctx context.Context, id string, from []model.CampaignStatus, to model.CampaignStatus) (bool, error) {
	query := `
        UPDATE campaigns
        SET status = $2,
            updated_at = NOW(),
            started_at = CASE WHEN $2 = 'running' THEN COALESCE(started_at, NOW()) ELSE started_at END,
            completed_at = CASE WHEN $2 = 'completed' THEN NOW() ELSE completed_at END,
            cancelled_at = CASE WHEN $2 = 'cancelled' THEN NOW() ELSE cancelled_at END
        WHERE id = $1
          AND status = ANY($3)
          AND ($2 <> 'running' OR status <> 'scheduled' OR scheduled_for IS NULL OR scheduled_for <= NOW())
    `
	res, err := r.DB.ExecContext(ctx, query, id, string(to), campaignStatuses(from))
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *CampaignRepository) ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE status = $1 ORDER BY created_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ====================== Batch selection ======================

const unsentTargets = `
        FROM target_list_members t
        WHERE t.list_id = $1
          AND NOT EXISTS (SELECT 1 FROM messages m WHERE m.campaign_id = $2 AND m.contact_id = t.contact_id)
          AND NOT EXISTS (SELECT 1 FROM campaign_batch_log b
                          WHERE b.campaign_id = $2 AND b.contact_id = t.contact_id AND b.kind = 'skipped')`

// NextRecipients returns list members that have no message for this campaign yet, in list order.
func (r *CampaignRepository) NextRecipients(ctx context.Context, c *model.Campaign, limit int) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT t.contact_id`+unsentTargets+` ORDER BY t.position, t.contact_id LIMIT $3`,
		c.TargetListID, c.ID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *CampaignRepository) CountUnsentTargets(ctx context.Context, c *model.Campaign) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*)`+unsentTargets, c.TargetListID, c.ID).Scan(&n)
	return n, err
}

func (r *CampaignRepository) CountTargets(ctx context.Context, listID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM target_list_members WHERE list_id = $1`, listID).Scan(&n)
	return n, err
}

// CountSentSince counts campaign messages created at or after since, queued ones included.
func (r *CampaignRepository) CountSentSince(ctx context.Context, campaignID string, since time.Time) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE campaign_id = $1 AND direction = 'outbound' AND created_at >= $2`,
		campaignID, since,
	).Scan(&n)
	return n, err
}

// CountUnfinishedTargets counts members without a delivered or failed campaign message.
func (r *CampaignRepository) CountUnfinishedTargets(ctx context.Context, c *model.Campaign) (int, error) {
	query := `
        SELECT COUNT(*)
        FROM target_list_members t
        WHERE t.list_id = $1
          AND NOT EXISTS (SELECT 1 FROM messages m
                          WHERE m.campaign_id = $2 AND m.contact_id = t.contact_id
                            AND m.status IN ('delivered', 'failed'))
          AND NOT EXISTS (SELECT 1 FROM campaign_batch_log b
                          WHERE b.campaign_id = $2 AND b.contact_id = t.contact_id AND b.kind = 'skipped')
    `
	var n int
	err := r.DB.QueryRowContext(ctx, query, c.TargetListID, c.ID).Scan(&n)
	return n, err
}

func (r *CampaignRepository) AppendBatchLog(ctx context.Context, e *model.BatchLogEntry) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO campaign_batch_log (campaign_id, contact_id, kind, detail) VALUES ($1, $2, $3, $4)`,
		e.CampaignID, e.ContactID, e.Kind, e.Detail,
	)
	return err
}

// ====================== Stats ======================

// CountMessages derives the raw counters from the messages table. Responses
// are inbound messages on threads the campaign wrote to, received after its message.
func (r *CampaignRepository) CountMessages(ctx context.Context, campaignID string) (*model.CampaignStats, error) {
	query := `
        SELECT
            COUNT(*) FILTER (WHERE status <> 'queued'),
            COUNT(*) FILTER (WHERE status = 'delivered'),
            COUNT(*) FILTER (WHERE status = 'failed')
        FROM messages
        WHERE campaign_id = $1 AND direction = 'outbound'
    `
	s := &model.CampaignStats{CampaignID: campaignID}
	if err := r.DB.QueryRowContext(ctx, query, campaignID).Scan(&s.SentCount, &s.DeliveredCount, &s.FailedCount); err != nil {
		return nil, err
	}

	responses := `
        SELECT COUNT(*)
        FROM messages i
        WHERE i.direction = 'inbound' AND i.status = 'received'
          AND EXISTS (SELECT 1 FROM messages o
                      WHERE o.campaign_id = $1 AND o.thread_id = i.thread_id AND o.created_at <= i.created_at)
    `
	if err := r.DB.QueryRowContext(ctx, responses, campaignID).Scan(&s.ResponseCount); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *CampaignRepository) SaveStats(ctx context.Context, s *model.CampaignStats) error {
	query := `
        INSERT INTO campaign_stats (campaign_id, total_messages, sent_count, delivered_count, failed_count, response_count, refreshed_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW())
        ON CONFLICT (campaign_id) DO UPDATE SET
            total_messages = EXCLUDED.total_messages,
            sent_count = EXCLUDED.sent_count,
            delivered_count = EXCLUDED.delivered_count,
            failed_count = EXCLUDED.failed_count,
            response_count = EXCLUDED.response_count,
            refreshed_at = EXCLUDED.refreshed_at
        RETURNING refreshed_at
    `
	return r.DB.QueryRowContext(ctx, query,
		s.CampaignID, s.TotalMessages, s.SentCount, s.DeliveredCount, s.FailedCount, s.ResponseCount,
	).Scan(&s.RefreshedAt)
}

// GetStats returns the cached counters, nil if never computed.
func (r *CampaignRepository) GetStats(ctx context.Context, campaignID string) (*model.CampaignStats, error) {
	var s model.CampaignStats
	err := r.DB.QueryRowContext(ctx, `
        SELECT campaign_id, total_messages, sent_count, delivered_count, failed_count, response_count, refreshed_at
        FROM campaign_stats WHERE campaign_id = $1`, campaignID,
	).Scan(&s.CampaignID, &s.TotalMessages, &s.SentCount, &s.DeliveredCount, &s.FailedCount, &s.ResponseCount, &s.RefreshedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CampaignsForThread lists campaigns that sent into a thread.
func (r *CampaignRepository) CampaignsForThread(ctx context.Context, threadID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT DISTINCT campaign_id FROM messages WHERE thread_id = $1 AND campaign_id IS NOT NULL`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
