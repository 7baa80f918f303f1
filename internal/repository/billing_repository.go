package repository

import (
	"context"
	"database/sql"

	"github.com/unclebandit/campaign-engine/internal/model"
)

type BillingRepositoryInterface interface {
	UpdateSubscription(ctx context.Context, rec *model.BillingRecord) (bool, error)
}

type BillingRepository struct {
	DB *sql.DB
}

// UpdateSubscription overwrites the mirror row owned by the Stripe customer.
// false means no workspace is linked to that customer.
func (r *BillingRepository) UpdateSubscription(ctx context.Context, rec *model.BillingRecord) (bool, error) {
	query := `
        UPDATE workspace_billing
        SET subscription_status = $2,
            subscription_plan = $3,
            subscription_period_end = $4,
            cancel_at_period_end = $5
        WHERE stripe_customer_id = $1
    `
	res, err := r.DB.ExecContext(ctx, query,
		rec.StripeCustomerID, rec.Status, rec.Plan, rec.PeriodEnd, rec.CancelAtPeriodEnd)
	if err != nil {
		return false, err
	}
	return affected(res)
}

var _ BillingRepositoryInterface = (*BillingRepository)(nil)
