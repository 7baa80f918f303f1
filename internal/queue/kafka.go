package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaQueue publishes to a topic of the same name and consumes through a consumer group.
type KafkaQueue struct {
	writer  *kafka.Writer
	brokers []string
	groupID string
	logger  *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	readers []*kafka.Reader
	wg      sync.WaitGroup
}

func NewKafkaQueue(brokers []string, groupID string, logger *zap.Logger) *KafkaQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &KafkaQueue{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
		brokers: brokers,
		groupID: groupID,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (q *KafkaQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := q.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Value: payload}); err != nil {
		return fmt.Errorf("failed to write message to %s: %w", topic, err)
	}
	return nil
}

// Subscribe commits an offset only after the handler succeeded or exhausted its retries.
func (q *KafkaQueue) Subscribe(topic string, handler func(payload []byte) error) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  q.brokers,
		Topic:    topic,
		GroupID:  q.groupID,
		MaxBytes: 10e6, // 10MB
	})
	q.mu.Lock()
	q.readers = append(q.readers, r)
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			m, err := r.FetchMessage(q.ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				q.logger.Error("kafka fetch failed", zap.String("topic", topic), zap.Error(err))
				time.Sleep(time.Second)
				continue
			}
			for attempt := 0; attempt <= defaultMaxRetries; attempt++ {
				if err = handler(m.Value); err == nil {
					break
				}
				q.logger.Warn("job failed", zap.String("topic", topic), zap.Int("attempt", attempt+1), zap.Error(err))
				time.Sleep(time.Duration(attempt+1) * 500 * time.Millisecond)
			}
			if err != nil {
				q.logger.Error("job permanently failed", zap.String("topic", topic), zap.Int64("offset", m.Offset))
			}
			if err := r.CommitMessages(q.ctx, m); err != nil && !errors.Is(err, context.Canceled) {
				q.logger.Error("kafka commit failed", zap.String("topic", topic), zap.Error(err))
			}
		}
	}()
	return nil
}

func (q *KafkaQueue) Close() error {
	q.cancel()
	q.wg.Wait()
	q.mu.Lock()
	defer q.mu.Unlock()
	var errs []error
	for _, r := range q.readers {
		errs = append(errs, r.Close())
	}
	errs = append(errs, q.writer.Close())
	return errors.Join(errs...)
}

var _ Queue = (*KafkaQueue)(nil)
