package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"pos-gateway/internal/auth"
	"pos-gateway/internal/models"
	"pos-gateway/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	defaultWebhookEnqueueTimeout = 10 * time.Second
	webhookTimestampLayout       = "2006-01-02T15:04:05.000Z"
)

// WebhookEvent is an outbound notification for a restaurant's POS
type WebhookEvent struct {
	Event        string
	RestaurantID string
	Data         map[string]any
}

// InboundWebhook is the handleWebhook action payload
type InboundWebhook struct {
	Event     string          `json:"event"`
	Timestamp json.RawMessage `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
}

// WebhookAck is returned for a processed inbound webhook
type WebhookAck struct {
	Event   string `json:"event"`
	OrderID string `json:"orderId,omitempty"`
	Status  string `json:"status,omitempty"`
}

type orderStatusUpdate struct {
	OrderID string `json:"orderId" validate:"required"`
	Status  string `json:"status" validate:"required,max=32"`
}

type menuReceipt struct {
	SyncID string `json:"syncId"`
	Status string `json:"status"`
}

// WebhookDispatcher signs outbound events for delivery and verifies inbound ones
type WebhookDispatcher struct {
	credentials auth.CredentialLookup
	publisher   WebhookPublisher
	orders      OrderStore
	syncLog     *SyncLogger
	timeout     time.Duration
	now         func() time.Time
	wg          sync.WaitGroup
	logger      *zap.Logger
}

var _ WebhookNotifier = (*WebhookDispatcher)(nil)

// NewWebhookDispatcher creates a new webhook dispatcher
func NewWebhookDispatcher(credentials auth.CredentialLookup, publisher WebhookPublisher, orders OrderStore, syncLog *SyncLogger) *WebhookDispatcher {
	return &WebhookDispatcher{
		credentials: credentials,
		publisher:   publisher,
		orders:      orders,
		syncLog:     syncLog,
		timeout:     defaultWebhookEnqueueTimeout,
		now:         time.Now,
		logger:      util.GetLogger(),
	}
}

// Send signs ev with the integration secret and queues it for delivery.
// ErrNoWebhookURL is returned without side effects when the integration has no target.
func (d *WebhookDispatcher) Send(ctx context.Context, ev WebhookEvent, cfg models.IntegrationConfig) (*models.WebhookDelivery, error) {
	ctx, span := util.StartSpan(ctx, "WebhookDispatcher.Send",
		attribute.String("event", ev.Event),
		attribute.String("restaurant_id", ev.RestaurantID))
	defer span.End()

	if cfg.WebhookURL == "" {
		return nil, ErrNoWebhookURL
	}

	logRequest := map[string]any{
		"event":      ev.Event,
		"webhookUrl": cfg.WebhookURL,
	}
	logCfg := withRestaurant(cfg, ev.RestaurantID)

	delivery, err := d.enqueue(ctx, ev, cfg)
	if err != nil {
		d.syncLog.Failure(models.ActionSendWebhook, logCfg, logRequest, err, 0)
		return nil, err
	}

	util.WebhooksEnqueuedTotal.WithLabelValues(ev.Event).Inc()
	logRequest["eventId"] = delivery.EventID
	d.syncLog.Info(models.ActionSendWebhook, logCfg, logRequest, map[string]any{"status": "queued"})

	d.logger.Info("Webhook queued",
		zap.String("event_id", delivery.EventID),
		zap.String("event", ev.Event),
		zap.String("restaurant_id", ev.RestaurantID))
	return delivery, nil
}

func (d *WebhookDispatcher) enqueue(ctx context.Context, ev WebhookEvent, cfg models.IntegrationConfig) (*models.WebhookDelivery, error) {
	secret, err := d.secretFor(ctx, cfg)
	if err != nil {
		return nil, err
	}

	data := make(map[string]any, len(ev.Data)+1)
	data["restaurantId"] = ev.RestaurantID
	for k, v := range ev.Data {
		data[k] = v
	}

	now := d.now()
	body, err := EncodeWebhookPayload(ev.Event, now, data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	delivery := &models.WebhookDelivery{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: ev.Event,
			Timestamp: now,
		},
		RestaurantID: ev.RestaurantID,
		POSVendor:    cfg.POSVendor,
		WebhookURL:   cfg.WebhookURL,
		Body:         body,
		Signature:    auth.Sign(secret, body),
	}

	if err := d.publisher.PublishWebhook(ctx, delivery); err != nil {
		return nil, fmt.Errorf("failed to queue webhook: %w", err)
	}
	return delivery, nil
}

// SendAsync runs Send in the background. Its outcome is only visible in the sync log.
func (d *WebhookDispatcher) SendAsync(ev WebhookEvent, cfg models.IntegrationConfig) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("Webhook dispatch panicked", zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		_, err := d.Send(ctx, ev, cfg)
		switch {
		case errors.Is(err, ErrNoWebhookURL):
			d.logger.Debug("No webhook URL configured, skipping",
				zap.String("event", ev.Event),
				zap.String("restaurant_id", ev.RestaurantID))
		case err != nil:
			d.logger.Error("Failed to send webhook",
				zap.String("event", ev.Event),
				zap.String("restaurant_id", ev.RestaurantID),
				zap.Error(err))
		}
	}()
}

// Wait blocks until background sends have finished
func (d *WebhookDispatcher) Wait() {
	d.wg.Wait()
}

// Handle verifies an inbound vendor webhook and dispatches it by event type
func (d *WebhookDispatcher) Handle(ctx context.Context, req *InboundWebhook, cfg models.IntegrationConfig) (*WebhookAck, error) {
	ctx, span := util.StartSpan(ctx, "WebhookDispatcher.Handle",
		attribute.String("event", req.Event))
	defer span.End()

	start := time.Now()
	logRequest := map[string]any{"event": req.Event}

	ack, err := d.handle(ctx, req, cfg)
	if err != nil {
		d.syncLog.Failure(models.ActionHandleWebhook, cfg, logRequest, err, time.Since(start))
		return nil, err
	}

	if ack.Event == models.EventMenuReceived {
		d.syncLog.Info(models.ActionHandleWebhook, cfg, logRequest, ack)
	} else {
		d.syncLog.Success(models.ActionHandleWebhook, cfg, logRequest, ack, time.Since(start))
	}
	return ack, nil
}

func (d *WebhookDispatcher) handle(ctx context.Context, req *InboundWebhook, cfg models.IntegrationConfig) (*WebhookAck, error) {
	secret, err := d.secretFor(ctx, cfg)
	if err != nil {
		return nil, Internal("failed to load integration", err)
	}

	body, err := canonicalJSON(models.WebhookPayload{
		Event:     req.Event,
		Timestamp: req.Timestamp,
		Data:      req.Data,
	})
	if err != nil {
		return nil, BadRequest("invalid webhook payload")
	}
	if !auth.Verify(secret, body, req.Signature) {
		d.logger.Warn("Webhook signature verification failed",
			zap.String("restaurant_id", cfg.RestaurantID),
			zap.String("event", req.Event))
		return nil, Unauthorized("webhook signature verification failed")
	}

	switch req.Event {
	case models.EventMenuReceived:
		return d.handleMenuReceived(req)
	case models.EventOrderStatusUpdated:
		return d.handleOrderStatusUpdated(ctx, req, cfg)
	default:
		return nil, BadRequest("unknown webhook event: %s", req.Event)
	}
}

func (d *WebhookDispatcher) handleMenuReceived(req *InboundWebhook) (*WebhookAck, error) {
	var receipt menuReceipt
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &receipt); err != nil {
			return nil, BadRequest("invalid webhook data")
		}
	}

	return &WebhookAck{Event: req.Event, Status: orDefault(receipt.Status, "received")}, nil
}

func (d *WebhookDispatcher) handleOrderStatusUpdated(ctx context.Context, req *InboundWebhook, cfg models.IntegrationConfig) (*WebhookAck, error) {
	var update orderStatusUpdate
	if err := json.Unmarshal(req.Data, &update); err != nil {
		return nil, BadRequest("invalid webhook data")
	}
	if err := validateRequest(&update); err != nil {
		return nil, err
	}

	found, err := d.orders.UpdateOrderStatus(ctx, update.OrderID, cfg.RestaurantID, update.Status)
	if err != nil {
		return nil, Internal("failed to update order status", err)
	}
	if !found {
		return nil, NotFound("order not found: %s", update.OrderID)
	}

	d.logger.Info("Order status updated by POS",
		zap.String("order_id", update.OrderID),
		zap.String("restaurant_id", cfg.RestaurantID),
		zap.String("status", update.Status))

	return &WebhookAck{Event: req.Event, OrderID: update.OrderID, Status: update.Status}, nil
}

// secretFor reloads the integration secret, which authenticated configs no longer carry
func (d *WebhookDispatcher) secretFor(ctx context.Context, cfg models.IntegrationConfig) (string, error) {
	full, err := d.credentials.FindActiveByAPIKey(ctx, cfg.APIKey)
	if err != nil {
		return "", fmt.Errorf("failed to look up integration: %w", err)
	}
	if full == nil {
		return "", fmt.Errorf("integration for restaurant %s is not active", cfg.RestaurantID)
	}
	return full.SecretKey, nil
}

// EncodeWebhookPayload builds the signed {event, timestamp, data} body
func EncodeWebhookPayload(event string, ts time.Time, data any) ([]byte, error) {
	rawData, err := canonicalJSON(data)
	if err != nil {
		return nil, err
	}
	rawTimestamp, err := canonicalJSON(ts.UTC().Format(webhookTimestampLayout))
	if err != nil {
		return nil, err
	}
	return canonicalJSON(models.WebhookPayload{
		Event:     event,
		Timestamp: rawTimestamp,
		Data:      rawData,
	})
}

// canonicalJSON encodes v compactly without HTML escaping, matching what
// vendors produce with a plain JSON serializer
func canonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
