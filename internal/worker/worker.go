package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"pos-gateway/internal/broker"
	"pos-gateway/internal/models"
	"pos-gateway/internal/service"
	"pos-gateway/internal/util"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Delivery headers sent with every webhook
const (
	HeaderWebhookEvent     = "X-Webhook-Event"
	HeaderWebhookSignature = "X-Webhook-Signature"
	HeaderWebhookID        = "X-Webhook-Id"
)

// Delivery outcomes
const (
	ResultDelivered    = "delivered"
	ResultRejected     = "rejected"
	ResultDeadLettered = "dead_lettered"
)

// DeadLetterPublisher records deliveries that will not be retried
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, dl *models.WebhookDeadLetter) error
}

// DeliveryConfig controls retries of a single delivery
type DeliveryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultDeliveryConfig returns the production retry policy
func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Timeout:        10 * time.Second,
	}
}

// WebhookWorker consumes queued webhook deliveries and POSTs them to the POS
type WebhookWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	client       *http.Client
	deadLetters  DeadLetterPublisher
	syncLog      *service.SyncLogger
	cfg          DeliveryConfig
	logger       *zap.Logger
}

// NewWebhookWorker creates a new webhook worker. consumer may be nil when
// deliveries are driven directly through Deliver.
func NewWebhookWorker(
	consumer *broker.Consumer,
	deadLetters DeadLetterPublisher,
	syncLog *service.SyncLogger,
	cfg DeliveryConfig,
) *WebhookWorker {
	defaults := DefaultDeliveryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaults.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = defaults.MaxBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	w := &WebhookWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		client:       &http.Client{Timeout: cfg.Timeout},
		deadLetters:  deadLetters,
		syncLog:      syncLog,
		cfg:          cfg,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnWebhookDelivery(w.Deliver)
	return w
}

// Start starts the worker
func (w *WebhookWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting webhook worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *WebhookWorker) Stop() error {
	w.logger.Info("Stopping webhook worker")
	return w.consumer.Close()
}

// rejectedError is a response the POS will keep giving, so retrying is pointless
type rejectedError struct {
	status int
}

func (e *rejectedError) Error() string {
	if e.status == 0 {
		return "webhook url is not a valid request target"
	}
	return fmt.Sprintf("webhook rejected with status %d", e.status)
}

// Deliver POSTs d with exponential backoff. Exhausted and rejected deliveries
// go to the dead-letter topic. An error is only returned when the outcome could
// not be recorded, so the consumer retries the message.
func (w *WebhookWorker) Deliver(ctx context.Context, d *models.WebhookDelivery) error {
	ctx, span := util.StartSpan(ctx, "WebhookWorker.Deliver",
		attribute.String("event_id", d.EventID),
		attribute.String("event", d.EventType))
	defer span.End()

	attempts := 0
	var lastStatus int
	op := func() error {
		attempts++
		status, err := w.post(ctx, d)
		lastStatus = status
		if err == nil {
			return nil
		}
		var rejected *rejectedError
		if errors.As(err, &rejected) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		w.logger.Warn("Webhook delivery attempt failed",
			zap.String("event_id", d.EventID),
			zap.Int("attempt", attempts),
			zap.Duration("retry_in", wait),
			zap.Error(err))
	}

	err := backoff.RetryNotify(op, w.policy(ctx), notify)
	if err == nil {
		util.WebhookDeliveriesTotal.WithLabelValues(ResultDelivered).Inc()
		w.syncLog.Info(models.ActionSendWebhook, logConfig(d), deliveryRequest(d, attempts),
			map[string]any{"status": ResultDelivered, "httpStatus": lastStatus})
		w.logger.Info("Webhook delivered",
			zap.String("event_id", d.EventID),
			zap.String("restaurant_id", d.RestaurantID),
			zap.Int("attempts", attempts))
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	reason := models.DeadLetterRetriesExhausted
	var rejected *rejectedError
	if errors.As(err, &rejected) {
		reason = models.DeadLetterRejected
		util.WebhookDeliveriesTotal.WithLabelValues(ResultRejected).Inc()
	}
	return w.deadLetter(ctx, d, reason, attempts, err)
}

func (w *WebhookWorker) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.InitialBackoff
	b.MaxInterval = w.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(w.cfg.MaxAttempts-1)), ctx)
}

func (w *WebhookWorker) post(ctx context.Context, d *models.WebhookDelivery) (int, error) {
	start := time.Now()
	defer func() {
		util.WebhookDeliveryLatency.Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(d.Body))
	if err != nil {
		return 0, &rejectedError{}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderWebhookEvent, d.EventType)
	req.Header.Set(HeaderWebhookSignature, d.Signature)
	req.Header.Set(HeaderWebhookID, d.EventID)

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp.StatusCode, nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return resp.StatusCode, fmt.Errorf("webhook target busy: status %d", resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return resp.StatusCode, &rejectedError{status: resp.StatusCode}
	default:
		return resp.StatusCode, fmt.Errorf("webhook target failed: status %d", resp.StatusCode)
	}
}

func (w *WebhookWorker) deadLetter(ctx context.Context, d *models.WebhookDelivery, reason string, attempts int, cause error) error {
	dl := &models.WebhookDeadLetter{
		ID:           uuid.New().String(),
		Delivery:     *d,
		Reason:       reason,
		ErrorMessage: cause.Error(),
		Attempts:     attempts,
		CreatedAt:    time.Now(),
	}
	if err := w.deadLetters.PublishDeadLetter(ctx, dl); err != nil {
		w.logger.Error("Failed to dead-letter webhook",
			zap.String("event_id", d.EventID),
			zap.Error(err))
		return fmt.Errorf("failed to dead-letter webhook %s: %w", d.EventID, err)
	}

	util.WebhookDeliveriesTotal.WithLabelValues(ResultDeadLettered).Inc()
	w.syncLog.Failure(models.ActionSendWebhook, logConfig(d), deliveryRequest(d, attempts), cause, 0)
	w.logger.Error("Webhook dead-lettered",
		zap.String("event_id", d.EventID),
		zap.String("restaurant_id", d.RestaurantID),
		zap.String("reason", reason),
		zap.Int("attempts", attempts),
		zap.Error(cause))
	return nil
}

func logConfig(d *models.WebhookDelivery) models.IntegrationConfig {
	return models.IntegrationConfig{RestaurantID: d.RestaurantID, POSVendor: d.POSVendor}
}

func deliveryRequest(d *models.WebhookDelivery, attempts int) map[string]any {
	return map[string]any{
		"event":      d.EventType,
		"eventId":    d.EventID,
		"webhookUrl": d.WebhookURL,
		"attempts":   attempts,
	}
}
