// internal/model/campaign.go
package model

import "time"

type CampaignStatus string

const (
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignScheduled: {CampaignRunning, CampaignCancelled},
	CampaignRunning:   {CampaignPaused, CampaignCompleted, CampaignCancelled},
	CampaignPaused:    {CampaignRunning, CampaignCancelled},
}

func (s CampaignStatus) Terminal() bool {
	return s == CampaignCompleted || s == CampaignCancelled
}

func (s CampaignStatus) CanTransition(next CampaignStatus) bool {
	for _, n := range campaignTransitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// CampaignSources lists every status from which next is reachable.
func CampaignSources(next CampaignStatus) []CampaignStatus {
	out := []CampaignStatus{}
	for _, s := range []CampaignStatus{CampaignScheduled, CampaignRunning, CampaignPaused} {
		if s.CanTransition(next) {
			out = append(out, s)
		}
	}
	return out
}

type Campaign struct {
	ID           string         `db:"id" json:"id"`
	WorkspaceID  string         `db:"workspace_id" json:"workspace_id"`
	TargetListID string         `db:"target_list_id" json:"target_list_id"`
	Name         string         `db:"name" json:"name"`
	BodyTemplate string         `db:"body_template" json:"body_template"`
	Status       CampaignStatus `db:"status" json:"status"`
	ScheduledFor *time.Time     `db:"scheduled_for" json:"scheduled_for,omitempty"`
	DailyLimit   int            `db:"daily_limit" json:"daily_limit"`
	StartedAt    *time.Time     `db:"started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt  *time.Time     `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}

// Due reports whether a scheduled campaign may start at now.
func (c *Campaign) Due(now time.Time) bool {
	return c.ScheduledFor == nil || !c.ScheduledFor.After(now)
}

// CampaignStats is a cache derived from the messages table.
type CampaignStats struct {
	CampaignID     string    `db:"campaign_id" json:"campaign_id"`
	TotalMessages  int       `db:"total_messages" json:"total_messages"`
	SentCount      int       `db:"sent_count" json:"sent_count"`
	DeliveredCount int       `db:"delivered_count" json:"delivered_count"`
	FailedCount    int       `db:"failed_count" json:"failed_count"`
	ResponseCount  int       `db:"response_count" json:"response_count"`
	RefreshedAt    time.Time `db:"refreshed_at" json:"refreshed_at"`
}

// BatchLogEntry records one recipient failure inside a campaign batch.
type BatchLogEntry struct {
	CampaignID string    `db:"campaign_id" json:"campaign_id"`
	ContactID  string    `db:"contact_id" json:"contact_id"`
	Kind       string    `db:"kind" json:"kind"`
	Detail     string    `db:"detail" json:"detail"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
