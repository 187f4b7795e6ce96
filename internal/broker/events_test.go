package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"pos-gateway/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error { return nil }

func sampleDelivery() *models.WebhookDelivery {
	return &models.WebhookDelivery{
		BaseEvent: models.BaseEvent{
			EventID:   "evt-1",
			EventType: models.EventOrderCarbonCalculated,
			Timestamp: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		},
		RestaurantID: "R1",
		POSVendor:    "kry",
		WebhookURL:   "https://pos.example.com/hooks",
		Body:         json.RawMessage(`{"event":"order.carbon.calculated","timestamp":"2024-05-01T08:00:00.000Z","data":{"restaurantId":"R1"}}`),
		Signature:    "deadbeef",
	}
}

func TestPublishWebhook(t *testing.T) {
	hooks := &memWriter{}
	dlq := &memWriter{}
	pub := NewEventPublisher(NewProducerWithWriter(hooks, "pos.webhook.events"), NewProducerWithWriter(dlq, "pos.webhook.dlq"))

	require.NoError(t, pub.PublishWebhook(context.Background(), sampleDelivery()))
	require.Len(t, hooks.msgs, 1)
	assert.Empty(t, dlq.msgs)

	msg := hooks.msgs[0]
	assert.Equal(t, "restaurant-R1", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, HeaderEventType, msg.Headers[0].Key)
	assert.Equal(t, models.EventOrderCarbonCalculated, string(msg.Headers[0].Value))

	decoded, err := DecodeDelivery(msg)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", decoded.EventID)
	assert.Equal(t, "deadbeef", decoded.Signature)
	assert.JSONEq(t, string(sampleDelivery().Body), string(decoded.Body))
}

func TestPublishDeadLetter(t *testing.T) {
	hooks := &memWriter{}
	dlq := &memWriter{}
	pub := NewEventPublisher(NewProducerWithWriter(hooks, "h"), NewProducerWithWriter(dlq, "d"))

	dl := &models.WebhookDeadLetter{ID: "dl-1", Delivery: *sampleDelivery(), Reason: models.DeadLetterRetriesExhausted, Attempts: 5}
	require.NoError(t, pub.PublishDeadLetter(context.Background(), dl))
	require.Len(t, dlq.msgs, 1)
	assert.Empty(t, hooks.msgs)

	var got models.WebhookDeadLetter
	require.NoError(t, json.Unmarshal(dlq.msgs[0].Value, &got))
	assert.Equal(t, 5, got.Attempts)
	assert.Equal(t, models.DeadLetterRetriesExhausted, got.Reason)
}

func TestPublishWriterFailure(t *testing.T) {
	w := &memWriter{err: errors.New("leader not available")}
	err := NewProducerWithWriter(w, "t").PublishEvent(context.Background(), "k", map[string]string{"a": "b"})
	assert.ErrorContains(t, err, "leader not available")
}

func TestDecodeDeliveryRejectsMalformed(t *testing.T) {
	_, err := DecodeDelivery(kafka.Message{Value: []byte("not json")})
	assert.ErrorIs(t, err, ErrMalformedDelivery)

	_, err = DecodeDelivery(kafka.Message{Value: []byte(`{"event_id":"x","body":{}}`)})
	assert.ErrorIs(t, err, ErrMalformedDelivery)
}

func TestEventHandler(t *testing.T) {
	value, err := json.Marshal(sampleDelivery())
	require.NoError(t, err)

	var got *models.WebhookDelivery
	h := NewEventHandler()
	h.OnWebhookDelivery(func(_ context.Context, d *models.WebhookDelivery) error {
		got = d
		return nil
	})

	require.NoError(t, h.HandleMessage(context.Background(), kafka.Message{Value: value}))
	require.NotNil(t, got)
	assert.Equal(t, "R1", got.RestaurantID)

	// malformed messages are acknowledged without reaching the callback
	got = nil
	require.NoError(t, h.HandleMessage(context.Background(), kafka.Message{Value: []byte("{")}))
	assert.Nil(t, got)

	failing := NewEventHandler()
	failing.OnWebhookDelivery(func(context.Context, *models.WebhookDelivery) error { return errors.New("retry later") })
	assert.Error(t, failing.HandleMessage(context.Background(), kafka.Message{Value: value}))
}
