package queue

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/model"
)

// TopicMessageStatus carries every accepted message status change.
const TopicMessageStatus = "message.status"

type StatusEvent struct {
	MessageID   string              `json:"message_id"`
	WorkspaceID string              `json:"workspace_id"`
	ThreadID    string              `json:"thread_id"`
	CampaignID  string              `json:"campaign_id,omitempty"`
	Direction   model.Direction     `json:"direction"`
	Status      model.MessageStatus `json:"status"`
	OccurredAt  time.Time           `json:"occurred_at"`
}

// StatusEventHandler reacts to a decoded status event.
type StatusEventHandler interface {
	HandleStatusEvent(ctx context.Context, ev StatusEvent) error
}

func PublishStatus(ctx context.Context, q Queue, ev StatusEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return q.Publish(ctx, TopicMessageStatus, payload)
}

// StartStatusSubscriber feeds status events to h. Undecodable payloads are
// dropped, handler errors are retried by the queue.
func StartStatusSubscriber(q Queue, h StatusEventHandler, logger *zap.Logger) error {
	return q.Subscribe(TopicMessageStatus, func(payload []byte) error {
		var ev StatusEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			logger.Warn("invalid status event", zap.ByteString("payload", payload), zap.Error(err))
			return nil
		}
		return h.HandleStatusEvent(context.Background(), ev)
	})
}
