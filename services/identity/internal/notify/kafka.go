package notify

import (
	"context"
	"fmt"

	"github.com/sodmaq/NestMongo/libs/httpmiddleware"
	"github.com/sodmaq/NestMongo/libs/kafka"
)

const (
	EventTypeNotificationRequested = "identity.notification.requested"
	eventVersion                   = 1
)

// KafkaNotifier publishes each message as an enveloped event keyed by the
// recipient, so messages for one address stay ordered on a partition.
type KafkaNotifier struct {
	publisher kafka.Publisher
	topic     string
}

func NewKafkaNotifier(publisher kafka.Publisher, topic string) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher, topic: topic}
}

func (n *KafkaNotifier) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("notification recipient is required")
	}

	event, err := kafka.NewEvent(EventTypeNotificationRequested, eventVersion, httpmiddleware.RequestIDFromContext(ctx), msg)
	if err != nil {
		return err
	}
	if _, _, err := n.publisher.PublishJSON(ctx, n.topic, msg.To, event); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
