package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/ids"
	"github.com/unclebandit/campaign-engine/internal/metrics"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/provider"
	"github.com/unclebandit/campaign-engine/internal/queue"
	"github.com/unclebandit/campaign-engine/internal/ratelimit"
	"github.com/unclebandit/campaign-engine/internal/repository"
)

type SendRequest struct {
	WorkspaceID string  `json:"-"`
	ContactID   string  `json:"contact_id"`
	Body        string  `json:"body"`
	Recipient   string  `json:"recipient,omitempty"`
	CampaignID  *string `json:"-"`
}

// MessageSender is what the campaign scheduler needs from the dispatcher.
type MessageSender interface {
	Send(ctx context.Context, req SendRequest) (*model.Message, error)
}

// Dispatcher persists an outbound message and hands it to the workspace's provider.
type Dispatcher struct {
	Workspaces        repository.WorkspaceRepositoryInterface
	Contacts          repository.ContactRepositoryInterface
	Messages          repository.MessageRepositoryInterface
	Threads           *ThreadResolver
	Limiter           RateLimiter
	Providers         provider.Factory
	Queue             queue.Queue
	DefaultDailyLimit int
	Logger            *zap.Logger
	Now               func() time.Time
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Send never retries. When the provider rejects the message the stored
// failed message is returned together with the ProviderError.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) (*model.Message, error) {
	if strings.TrimSpace(req.Body) == "" {
		return nil, appErrors.NewValidationError("body", "message body is required")
	}
	if req.ContactID == "" {
		return nil, appErrors.NewValidationError("contact_id", "contact is required")
	}

	sender, err := d.Workspaces.GetActiveSender(ctx, req.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("load sender: %w", err)
	}
	if sender == nil {
		return nil, appErrors.NewConfigError(req.WorkspaceID, "no active sender")
	}
	client, err := d.Providers.For(sender)
	if err != nil {
		return nil, err
	}
	from, err := provider.Normalize(sender.PhoneNumber)
	if err != nil {
		return nil, appErrors.NewConfigError(req.WorkspaceID, "sender number is invalid")
	}

	contact, err := d.Contacts.GetByID(ctx, req.WorkspaceID, req.ContactID)
	if err != nil {
		return nil, fmt.Errorf("load contact: %w", err)
	}
	if contact == nil {
		return nil, appErrors.NewNotFound("contact", req.ContactID)
	}
	recipient := req.Recipient
	if recipient == "" {
		recipient = contact.PrimaryPhone()
	}
	to, err := provider.Normalize(recipient)
	if err != nil {
		return nil, err
	}

	now := d.now()
	limit := sender.EffectiveLimit(d.DefaultDailyLimit)
	allowed, _, err := d.Limiter.TryConsume(ctx, sender.ID, now, 1, limit)
	if err != nil {
		return nil, err
	}
	if allowed < 1 {
		metrics.RateLimitRejectionsTotal.Inc()
		return nil, appErrors.NewRateLimitExceeded(sender.ID, ratelimit.Day(now), limit)
	}

	// Until the message is persisted nothing is sent, so failures give the unit back.
	refund := func() {
		if err := d.Limiter.Refund(context.WithoutCancel(ctx), sender.ID, now, 1); err != nil {
			d.Logger.Warn("rate limit refund failed", zap.String("sender_id", sender.ID), zap.Error(err))
		}
	}

	threadID, err := d.Threads.GetOrCreateThread(ctx, req.WorkspaceID, contact.ID, model.DirectionOutbound)
	if err != nil {
		refund()
		return nil, err
	}

	msg := &model.Message{
		ID:          ids.New(ids.PrefixMessage),
		ThreadID:    threadID,
		WorkspaceID: req.WorkspaceID,
		ContactID:   contact.ID,
		CampaignID:  req.CampaignID,
		Direction:   model.DirectionOutbound,
		Status:      model.StatusQueued,
		Body:        req.Body,
		FromNumber:  from,
		ToNumber:    to,
	}
	if err := d.Messages.CreateOutbound(ctx, msg); err != nil {
		refund()
		if errors.Is(err, appErrors.ErrAlreadyDispatched) {
			return nil, err
		}
		return nil, fmt.Errorf("persist outbound message: %w", err)
	}

	start := time.Now()
	res, sendErr := client.Send(ctx, provider.SendRequest{From: from, To: to, Body: req.Body})
	metrics.ProviderSendDuration.WithLabelValues(client.Name()).Observe(time.Since(start).Seconds())

	// The provider call already happened; record its outcome even if the caller went away.
	wctx := context.WithoutCancel(ctx)
	if sendErr != nil {
		metrics.MessagesDispatchedTotal.WithLabelValues(client.Name(), "failed").Inc()
		if _, err := d.Messages.MarkFailed(wctx, msg.ID, sendErr.Error()); err != nil {
			d.Logger.Error("failed to record provider failure", zap.String("message_id", msg.ID), zap.Error(err))
		}
		msg.Status = model.StatusFailed
		msg.Error = sendErr.Error()
		d.publish(wctx, msg)
		d.Logger.Warn("provider rejected message",
			zap.String("message_id", msg.ID),
			zap.String("provider", client.Name()),
			zap.Error(sendErr),
		)
		return msg, sendErr
	}

	metrics.MessagesDispatchedTotal.WithLabelValues(client.Name(), "sent").Inc()
	applied, err := d.Messages.MarkSent(wctx, msg.ID, res.ExternalID)
	if err != nil {
		return msg, fmt.Errorf("record sent status for %s: %w", msg.ID, err)
	}
	if !applied {
		d.Logger.Warn("message left queued before send was recorded", zap.String("message_id", msg.ID))
	}
	msg.Status = model.StatusSent
	msg.ExternalID = &res.ExternalID

	audit := &model.ProviderMessage{
		ExternalID:  res.ExternalID,
		WorkspaceID: msg.WorkspaceID,
		ThreadID:    msg.ThreadID,
		MessageID:   msg.ID,
		Provider:    client.Name(),
		FromNumber:  from,
		ToNumber:    to,
		Body:        msg.Body,
		Status:      model.StatusSent,
		Direction:   model.DirectionOutbound,
	}
	if err := d.Messages.RecordProviderMessage(wctx, audit); err != nil {
		d.Logger.Error("failed to write provider audit row", zap.String("external_id", res.ExternalID), zap.Error(err))
	}
	// A receipt may have beaten the sent write.
	if _, err := applyHeldReceipt(wctx, d.Messages, msg, d.Logger); err != nil {
		d.Logger.Error("failed to apply held receipt", zap.String("external_id", res.ExternalID), zap.Error(err))
	}
	d.publish(wctx, msg)

	d.Logger.Info("message sent",
		zap.String("message_id", msg.ID),
		zap.String("external_id", res.ExternalID),
		zap.String("provider", client.Name()),
	)
	return msg, nil
}

// Resend dispatches a fresh standalone copy of a failed outbound message.
func (d *Dispatcher) Resend(ctx context.Context, workspaceID, messageID string) (*model.Message, error) {
	orig, err := d.Messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if orig == nil || orig.WorkspaceID != workspaceID {
		return nil, appErrors.NewNotFound("message", messageID)
	}
	if orig.Direction != model.DirectionOutbound || orig.Status != model.StatusFailed {
		return nil, appErrors.NewValidationError("status", "only failed outbound messages can be resent")
	}
	return d.Send(ctx, SendRequest{
		WorkspaceID: workspaceID,
		ContactID:   orig.ContactID,
		Body:        orig.Body,
		Recipient:   orig.ToNumber,
	})
}

func (d *Dispatcher) publish(ctx context.Context, msg *model.Message) {
	if d.Queue == nil {
		return
	}
	ev := queue.StatusEvent{
		MessageID:   msg.ID,
		WorkspaceID: msg.WorkspaceID,
		ThreadID:    msg.ThreadID,
		Direction:   msg.Direction,
		Status:      msg.Status,
		OccurredAt:  d.now(),
	}
	if msg.CampaignID != nil {
		ev.CampaignID = *msg.CampaignID
	}
	if err := queue.PublishStatus(ctx, d.Queue, ev); err != nil {
		metrics.QueuePublishFailuresTotal.WithLabelValues(queue.TopicMessageStatus).Inc()
		d.Logger.Warn("status event not published", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

var _ MessageSender = (*Dispatcher)(nil)
