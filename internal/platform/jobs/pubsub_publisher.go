package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/storefront/internal/services"
)

const confirmationEventType = "order.confirmation"

// PubSubConfirmationSender publishes order confirmations to a Pub/Sub topic consumed by the mailer.
type PubSubConfirmationSender struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubConfirmationSender constructs a Pub/Sub backed confirmation sender.
func NewPubSubConfirmationSender(topic *pubsub.Topic) (*PubSubConfirmationSender, error) {
	if topic == nil {
		return nil, errors.New("pubsub confirmation sender: topic is required")
	}
	return &PubSubConfirmationSender{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// SendOrderConfirmation publishes the confirmation and waits for the server acknowledgement.
func (p *PubSubConfirmationSender) SendOrderConfirmation(ctx context.Context, msg services.OrderConfirmation) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub confirmation sender: not initialised")
	}

	data, err := p.marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal order confirmation: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: confirmationAttributes(msg),
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order confirmation: %w", err)
	}
	return nil
}

func confirmationAttributes(msg services.OrderConfirmation) map[string]string {
	attrs := map[string]string{"eventType": confirmationEventType}
	setAttr(attrs, "orderId", msg.OrderID)
	setAttr(attrs, "orderNumber", msg.OrderNumber)
	setAttr(attrs, "locale", msg.Locale)
	return attrs
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
