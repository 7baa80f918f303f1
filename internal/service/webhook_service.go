package service

import (
	"context"
	"encoding/json"
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
	"github.com/unclebandit/campaign-engine/internal/repository"
)

type WebhookResult string

const (
	WebhookApplied   WebhookResult = "applied"
	WebhookCreated   WebhookResult = "created"
	WebhookDuplicate WebhookResult = "duplicate"
	WebhookIgnored   WebhookResult = "ignored"
	WebhookHeld      WebhookResult = "held"
)

// WebhookPayload is the provider callback body. Providers disagree on the
// id field name, so both are accepted.
type WebhookPayload struct {
	MessageID  json.RawMessage `json:"messageId"`
	ExternalID string          `json:"external_id"`
	From       string          `json:"from"`
	To         string          `json:"to"`
	Content    string          `json:"content"`
	Status     string          `json:"status"`
}

func (p *WebhookPayload) externalID() string {
	if p.ExternalID != "" {
		return p.ExternalID
	}
	id := strings.Trim(string(p.MessageID), `"`)
	if id == "null" {
		return ""
	}
	return id
}

var providerStatuses = map[string]model.MessageStatus{
	"":            model.StatusReceived,
	"received":    model.StatusReceived,
	"inbound":     model.StatusReceived,
	"queued":      model.StatusQueued,
	"sent":        model.StatusSent,
	"delivered":   model.StatusDelivered,
	"failed":      model.StatusFailed,
	"undelivered": model.StatusFailed,
}

type WebhookService struct {
	Workspaces repository.WorkspaceRepositoryInterface
	Contacts   repository.ContactRepositoryInterface
	Messages   repository.MessageRepositoryInterface
	Threads    *ThreadResolver
	Queue      queue.Queue
	Logger     *zap.Logger
}

// HandleEvent authenticates, then applies one provider callback exactly once.
// A DuplicateEvent error is an acknowledged no-op, not a failure.
func (s *WebhookService) HandleEvent(ctx context.Context, webhookID string, raw []byte) (result WebhookResult, err error) {
	defer func() {
		label := string(result)
		var dup *appErrors.DuplicateEvent
		switch {
		case errors.As(err, &dup):
			label = string(WebhookDuplicate)
		case err != nil:
			label = "rejected"
		}
		metrics.WebhookEventsTotal.WithLabelValues(label).Inc()
	}()

	if webhookID == "" {
		return "", appErrors.NewAuthError("missing webhook id")
	}
	ws, err := s.Workspaces.GetByWebhookID(ctx, webhookID)
	if err != nil {
		return "", fmt.Errorf("resolve webhook: %w", err)
	}
	if ws == nil {
		return "", appErrors.NewAuthError("invalid webhook")
	}

	var p WebhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", appErrors.NewValidationError("body", "malformed JSON payload")
	}
	externalID := p.externalID()
	if externalID == "" {
		return "", appErrors.NewValidationError("messageId", "missing message id")
	}
	status, ok := providerStatuses[strings.ToLower(strings.TrimSpace(p.Status))]
	if !ok {
		return "", appErrors.NewValidationError("status", "unknown status "+p.Status)
	}

	existing, err := s.Messages.GetByExternalID(ctx, externalID)
	if err != nil {
		return "", fmt.Errorf("lookup message: %w", err)
	}
	if existing != nil {
		if existing.WorkspaceID != ws.ID {
			return "", appErrors.NewAuthError("message belongs to another workspace")
		}
		return s.applyStatus(ctx, existing, externalID, status)
	}

	if status != model.StatusReceived {
		return s.holdReceipt(ctx, ws.ID, externalID, status)
	}
	return s.storeInbound(ctx, ws.ID, externalID, &p)
}

// holdReceipt parks a status for a send whose external id is not recorded yet.
// The dispatcher applies it right after recording the send.
func (s *WebhookService) holdReceipt(ctx context.Context, workspaceID, externalID string, status model.MessageStatus) (WebhookResult, error) {
	held := &model.HeldReceipt{ExternalID: externalID, WorkspaceID: workspaceID, Status: status}
	if err := s.Messages.HoldReceipt(ctx, held); err != nil {
		return "", fmt.Errorf("hold receipt: %w", err)
	}

	// The send may have been recorded between the first lookup and the hold.
	m, err := s.Messages.GetByExternalID(ctx, externalID)
	if err != nil {
		return "", fmt.Errorf("lookup message: %w", err)
	}
	if m == nil {
		s.Logger.Info("status held until the send is recorded",
			zap.String("workspace_id", workspaceID),
			zap.String("external_id", externalID),
			zap.String("status", string(status)),
		)
		return WebhookHeld, nil
	}
	applied, err := applyHeldReceipt(ctx, s.Messages, m, s.Logger)
	if err != nil {
		return "", fmt.Errorf("apply held status: %w", err)
	}
	if !applied {
		return WebhookHeld, nil
	}
	s.publish(ctx, m)
	return WebhookApplied, nil
}

// applyHeldReceipt takes the receipt held for m, if any, and moves m forward
// with the usual monotonic transition. It reports whether m.Status changed.
// Both the webhook and the dispatcher call it; TakeReceipt lets only one apply.
func applyHeldReceipt(ctx context.Context, messages repository.MessageRepositoryInterface, m *model.Message, logger *zap.Logger) (bool, error) {
	if m.ExternalID == nil {
		return false, nil
	}
	held, err := messages.TakeReceipt(ctx, *m.ExternalID)
	if err != nil || held == nil {
		return false, err
	}
	if held.WorkspaceID != m.WorkspaceID {
		logger.Warn("held receipt from another workspace dropped",
			zap.String("external_id", held.ExternalID),
			zap.String("workspace_id", held.WorkspaceID),
		)
		return false, nil
	}

	applied, err := messages.Transition(ctx, m.ID, held.Status)
	if err != nil {
		if herr := messages.HoldReceipt(ctx, held); herr != nil {
			logger.Error("held receipt lost", zap.String("external_id", held.ExternalID), zap.Error(herr))
		}
		return false, err
	}
	if !applied {
		return false, nil
	}
	if err := messages.UpdateProviderStatus(ctx, held.ExternalID, held.Status); err != nil {
		logger.Error("failed to update provider audit row", zap.String("external_id", held.ExternalID), zap.Error(err))
	}
	m.Status = held.Status
	logger.Info("held receipt applied",
		zap.String("message_id", m.ID),
		zap.String("external_id", held.ExternalID),
		zap.String("status", string(held.Status)),
	)
	return true, nil
}

func (s *WebhookService) applyStatus(ctx context.Context, m *model.Message, externalID string, next model.MessageStatus) (WebhookResult, error) {
	if m.Direction == model.DirectionInbound {
		return WebhookDuplicate, appErrors.NewDuplicateEvent(externalID, "inbound message already stored")
	}
	if next == model.StatusReceived {
		s.Logger.Warn("inbound status for outbound message ignored", zap.String("external_id", externalID))
		return WebhookIgnored, nil
	}

	applied, err := s.Messages.Transition(ctx, m.ID, next)
	if err != nil {
		return "", fmt.Errorf("apply status: %w", err)
	}
	if !applied {
		if m.Status != next {
			s.Logger.Warn("status regression rejected",
				zap.String("message_id", m.ID),
				zap.String("external_id", externalID),
				zap.String("current", string(m.Status)),
				zap.String("incoming", string(next)),
			)
		}
		return WebhookDuplicate, appErrors.NewDuplicateEvent(externalID, fmt.Sprintf("%s does not advance %s", next, m.Status))
	}

	if err := s.Messages.UpdateProviderStatus(ctx, externalID, next); err != nil {
		s.Logger.Error("failed to update provider audit row", zap.String("external_id", externalID), zap.Error(err))
	}
	m.Status = next
	s.publish(ctx, m)
	return WebhookApplied, nil
}

func (s *WebhookService) storeInbound(ctx context.Context, workspaceID, externalID string, p *WebhookPayload) (WebhookResult, error) {
	from, err := provider.Normalize(p.From)
	if err != nil {
		return "", appErrors.NewValidationError("from", "invalid sender number")
	}
	to := p.To
	if n, err := provider.Normalize(p.To); err == nil {
		to = n
	}

	contact, err := s.Contacts.FindByPhone(ctx, workspaceID, from)
	if err != nil {
		return "", fmt.Errorf("lookup contact: %w", err)
	}
	if contact == nil {
		if contact, err = s.Contacts.GetOrCreateByPhone(ctx, workspaceID, from); err != nil {
			return "", fmt.Errorf("create contact: %w", err)
		}
	}

	threadID, err := s.Threads.GetOrCreateThread(ctx, workspaceID, contact.ID, model.DirectionInbound)
	if err != nil {
		return "", err
	}

	m := &model.Message{
		ID:          ids.New(ids.PrefixMessage),
		ThreadID:    threadID,
		WorkspaceID: workspaceID,
		ContactID:   contact.ID,
		Direction:   model.DirectionInbound,
		Status:      model.StatusReceived,
		Body:        p.Content,
		FromNumber:  from,
		ToNumber:    to,
		ExternalID:  &externalID,
	}
	created, err := s.Messages.InsertInbound(ctx, m)
	if err != nil {
		return "", fmt.Errorf("store inbound message: %w", err)
	}
	if !created {
		return WebhookDuplicate, appErrors.NewDuplicateEvent(externalID, "inbound message already stored")
	}

	s.Logger.Info("inbound message stored",
		zap.String("message_id", m.ID),
		zap.String("thread_id", threadID),
		zap.String("contact_id", contact.ID),
	)
	s.publish(ctx, m)
	return WebhookCreated, nil
}

func (s *WebhookService) publish(ctx context.Context, m *model.Message) {
	if s.Queue == nil {
		return
	}
	ev := queue.StatusEvent{
		MessageID:   m.ID,
		WorkspaceID: m.WorkspaceID,
		ThreadID:    m.ThreadID,
		Direction:   m.Direction,
		Status:      m.Status,
		OccurredAt:  time.Now(),
	}
	if m.CampaignID != nil {
		ev.CampaignID = *m.CampaignID
	}
	if err := queue.PublishStatus(ctx, s.Queue, ev); err != nil {
		metrics.QueuePublishFailuresTotal.WithLabelValues(queue.TopicMessageStatus).Inc()
		s.Logger.Warn("status event not published", zap.String("message_id", m.ID), zap.Error(err))
	}
}
