package models

import (
	"encoding/json"
	"time"
)

// Webhook event types
const (
	EventOrderCarbonCalculated = "order.carbon.calculated"
	EventMenuReceived          = "menu.received"
	EventOrderStatusUpdated    = "order.status.updated"
)

// BaseEvent contains common fields for all queued events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// WebhookPayload is the body exchanged with POS vendors in both directions.
// Its JSON encoding is the exact byte string that gets signed.
type WebhookPayload struct {
	Event     string          `json:"event"`
	Timestamp json.RawMessage `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// WebhookDelivery is queued on the webhook topic and delivered by the worker
type WebhookDelivery struct {
	BaseEvent
	RestaurantID string          `json:"restaurant_id"`
	POSVendor    string          `json:"pos_vendor"`
	WebhookURL   string          `json:"webhook_url"`
	Body         json.RawMessage `json:"body"`
	Signature    string          `json:"signature"`
}

// WebhookDeadLetter records a delivery that exhausted its retries
type WebhookDeadLetter struct {
	ID           string          `json:"id"`
	Delivery     WebhookDelivery `json:"delivery"`
	Reason       string          `json:"reason"`
	ErrorMessage string          `json:"error_message"`
	Attempts     int             `json:"attempts"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Dead letter reasons
const (
	DeadLetterRetriesExhausted = "retries_exhausted"
	DeadLetterRejected         = "rejected"
)
