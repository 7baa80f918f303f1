// internal/model/workspace.go
package model

import "time"

type Workspace struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	WebhookID string    `db:"webhook_id" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

const (
	ProviderSmrtphone = "smrtphone"
	ProviderTwilio    = "twilio"
)

// Sender is a workspace's outbound number plus the provider credential used with it.
type Sender struct {
	ID          string `db:"id" json:"id"`
	WorkspaceID string `db:"workspace_id" json:"workspace_id"`
	Provider    string `db:"provider" json:"provider"`
	PhoneNumber string `db:"phone_number" json:"phone_number"`
	APIKey      string `db:"api_key" json:"-"`
	AccountSID  string `db:"account_sid" json:"-"`
	DailyLimit  int    `db:"daily_limit" json:"daily_limit"`
	Active      bool   `db:"active" json:"active"`
}

// EffectiveLimit falls back to the service default when the sender has none.
func (s *Sender) EffectiveLimit(fallback int) int {
	if s.DailyLimit > 0 {
		return s.DailyLimit
	}
	return fallback
}
