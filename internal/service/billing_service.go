package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/repository"
)

const subscriptionCanceled = "canceled"

// BillingService mirrors Stripe subscription state onto workspaces.
type BillingService struct {
	Billing       repository.BillingRepositoryInterface
	WebhookSecret string
	Logger        *zap.Logger
}

// HandleStripeEvent verifies the signature over the raw body and applies
// subscription lifecycle events. Other event types are acknowledged untouched.
func (s *BillingService) HandleStripeEvent(ctx context.Context, payload []byte, signature string) error {
	if s.WebhookSecret == "" {
		return appErrors.NewConfigError("", "stripe webhook secret is not set")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return appErrors.NewAuthError("invalid stripe signature: " + err.Error())
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
	default:
		s.Logger.Debug("stripe event ignored", zap.String("type", string(event.Type)))
		return nil
	}
	if event.Data == nil {
		return appErrors.NewValidationError("data", "event has no data")
	}

	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return appErrors.NewValidationError("data", "not a subscription object")
	}
	if sub.Customer == nil || sub.Customer.ID == "" {
		return appErrors.NewValidationError("customer", "subscription has no customer")
	}

	rec := subscriptionRecord(&sub)
	if event.Type == "customer.subscription.deleted" {
		rec = &model.BillingRecord{
			StripeCustomerID: sub.Customer.ID,
			Status:           subscriptionCanceled,
			Plan:             model.DefaultPlan,
		}
	}

	found, err := s.Billing.UpdateSubscription(ctx, rec)
	if err != nil {
		return err
	}
	if !found {
		s.Logger.Warn("stripe customer not linked to a workspace",
			zap.String("customer_id", rec.StripeCustomerID),
			zap.String("type", string(event.Type)),
		)
		return nil
	}
	s.Logger.Info("subscription mirrored",
		zap.String("customer_id", rec.StripeCustomerID),
		zap.String("status", rec.Status),
		zap.String("plan", rec.Plan),
	)
	return nil
}

func subscriptionRecord(sub *stripe.Subscription) *model.BillingRecord {
	rec := &model.BillingRecord{
		StripeCustomerID:  sub.Customer.ID,
		Status:            string(sub.Status),
		Plan:              model.DefaultPlan,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		if price := sub.Items.Data[0].Price; price != nil && price.Nickname != "" {
			rec.Plan = strings.ToLower(price.Nickname)
		}
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		rec.PeriodEnd = &end
	}
	return rec
}
