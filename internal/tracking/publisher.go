package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/mailtrack/internal/broker"
	"github.com/ignite/mailtrack/internal/pkg/logger"
)

const DefaultDeliveryTimeout = 30 * time.Second

// PublishError is returned when an event was not acknowledged by the
// broker. The event was either not written or its outcome is unknown; it is
// never retried here.
type PublishError struct {
	EmailID   string
	EventType EventType
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s event for %s: %v", e.EventType, e.EmailID, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Publisher writes tracking events to a topic keyed by email id, so all
// events for one email land on one partition in publish order.
type Publisher struct {
	sink    broker.Sink
	topic   string
	timeout time.Duration
}

// NewPublisher returns a publisher writing to topic. A non-positive timeout
// uses DefaultDeliveryTimeout.
func NewPublisher(sink broker.Sink, topic string, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}
	return &Publisher{sink: sink, topic: topic, timeout: timeout}
}

// Publish blocks until the broker acknowledges evt or the delivery timeout
// elapses.
func (p *Publisher) Publish(ctx context.Context, evt TrackingEvent) (broker.Receipt, error) {
	body, err := evt.Serialize()
	if err != nil {
		return broker.Receipt{}, &PublishError{EmailID: evt.EmailID, EventType: evt.EventType, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	receipt, err := p.sink.Produce(ctx, broker.Message{
		Topic: p.topic,
		Key:   evt.EmailID,
		Value: body,
		Headers: map[string]string{
			broker.HeaderEventType: string(evt.EventType),
			broker.HeaderTimestamp: evt.Timestamp.UTC().Format(time.RFC3339Nano),
			broker.HeaderEventID:   evt.EventID,
		},
	})
	if err != nil {
		logger.Error("tracking event publish failed",
			"email_id", evt.EmailID,
			"event_type", evt.EventType,
			"event_id", evt.EventID,
			"error", err,
		)
		return broker.Receipt{}, &PublishError{EmailID: evt.EmailID, EventType: evt.EventType, Err: err}
	}

	logger.Info("tracking event published",
		"email_id", evt.EmailID,
		"event_type", evt.EventType,
		"topic", receipt.Topic,
		"partition", receipt.Partition,
		"offset", receipt.Offset,
	)
	return receipt, nil
}

func (p *Publisher) PublishSent(ctx context.Context, emailID, toEmail, subject string) (broker.Receipt, error) {
	return p.Publish(ctx, SentEvent(emailID, toEmail, subject))
}

func (p *Publisher) PublishOpened(ctx context.Context, emailID, userAgent, ipAddress string) (broker.Receipt, error) {
	return p.Publish(ctx, OpenedEvent(emailID, userAgent, ipAddress))
}

func (p *Publisher) PublishClicked(ctx context.Context, emailID, userAgent, ipAddress string, metadata map[string]string) (broker.Receipt, error) {
	return p.Publish(ctx, ClickedEvent(emailID, userAgent, ipAddress, metadata))
}
