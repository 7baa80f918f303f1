// internal/model/billing.go
package model

import "time"

const DefaultPlan = "basic"

type BillingRecord struct {
	WorkspaceID       string     `db:"workspace_id" json:"workspace_id"`
	StripeCustomerID  string     `db:"stripe_customer_id" json:"stripe_customer_id"`
	Status            string     `db:"subscription_status" json:"subscription_status"`
	Plan              string     `db:"subscription_plan" json:"subscription_plan"`
	PeriodEnd         *time.Time `db:"subscription_period_end" json:"subscription_period_end,omitempty"`
	CancelAtPeriodEnd bool       `db:"cancel_at_period_end" json:"cancel_at_period_end"`
}
