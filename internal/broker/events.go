package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"pos-gateway/internal/models"
	"pos-gateway/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// HeaderEventType carries the webhook event name on every message
const HeaderEventType = "event_type"

// EventPublisher queues webhook deliveries and dead letters
type EventPublisher struct {
	webhooks    *Producer
	deadLetters *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(webhooks, deadLetters *Producer) *EventPublisher {
	return &EventPublisher{webhooks: webhooks, deadLetters: deadLetters}
}

// PublishWebhook queues a signed delivery. Deliveries for one restaurant share a partition.
func (ep *EventPublisher) PublishWebhook(ctx context.Context, delivery *models.WebhookDelivery) error {
	key := fmt.Sprintf("restaurant-%s", delivery.RestaurantID)
	return ep.webhooks.PublishEvent(ctx, key, delivery, eventHeader(delivery.EventType))
}

// PublishDeadLetter records a delivery that will not be retried
func (ep *EventPublisher) PublishDeadLetter(ctx context.Context, dl *models.WebhookDeadLetter) error {
	key := fmt.Sprintf("restaurant-%s", dl.Delivery.RestaurantID)
	return ep.deadLetters.PublishEvent(ctx, key, dl, eventHeader(dl.Delivery.EventType))
}

func eventHeader(eventType string) kafka.Header {
	return kafka.Header{Key: HeaderEventType, Value: []byte(eventType)}
}

// ErrMalformedDelivery marks a message that can never be delivered
var ErrMalformedDelivery = errors.New("malformed webhook delivery")

// EventHandler decodes queued deliveries for a delivery callback
type EventHandler struct {
	onDelivery func(context.Context, *models.WebhookDelivery) error
	logger     *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnWebhookDelivery registers the delivery callback
func (eh *EventHandler) OnWebhookDelivery(handler func(context.Context, *models.WebhookDelivery) error) {
	eh.onDelivery = handler
}

// HandleMessage decodes msg and passes it to the delivery callback. Malformed
// messages are logged and acknowledged so they do not block the partition.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	delivery, err := DecodeDelivery(msg)
	if err != nil {
		eh.logger.Error("Dropping undeliverable message",
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}

	eh.logger.Debug("Handling webhook delivery",
		zap.String("event_id", delivery.EventID),
		zap.String("event", delivery.EventType))

	if eh.onDelivery == nil {
		return nil
	}
	return eh.onDelivery(ctx, delivery)
}

// DecodeDelivery parses a webhook delivery message
func DecodeDelivery(msg kafka.Message) (*models.WebhookDelivery, error) {
	var delivery models.WebhookDelivery
	if err := json.Unmarshal(msg.Value, &delivery); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDelivery, err)
	}
	if delivery.WebhookURL == "" || len(delivery.Body) == 0 || delivery.Signature == "" {
		return nil, fmt.Errorf("%w: missing url, body or signature", ErrMalformedDelivery)
	}
	return &delivery, nil
}
