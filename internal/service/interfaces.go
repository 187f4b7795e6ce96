package service

import (
	"context"
	"time"

	"pos-gateway/internal/models"
)

// MenuReader is the read model over restaurant menu items
type MenuReader interface {
	// ListActiveMenuItems returns active items of a restaurant. A non-empty ids
	// narrows the result to those items.
	ListActiveMenuItems(ctx context.Context, restaurantID string, ids []string) ([]models.MenuItemRecord, error)
	FindMenuItemsByIDs(ctx context.Context, restaurantID string, ids []string) ([]models.MenuItemRecord, error)
}

// OrderStore persists synced orders keyed by (orderId, restaurantId)
type OrderStore interface {
	// FindByOrderAndRestaurant returns nil, nil when the order does not exist
	FindByOrderAndRestaurant(ctx context.Context, orderID, restaurantID string) (*models.Order, error)
	UpsertOrder(ctx context.Context, order *models.Order) error
	// UpdateOrderStatus reports false when no order matched
	UpdateOrderStatus(ctx context.Context, orderID, restaurantID, status string) (bool, error)
}

// RestaurantReader returns the attributes used to pick a baseline
type RestaurantReader interface {
	// GetRestaurantProfile returns nil, nil for unknown restaurants
	GetRestaurantProfile(ctx context.Context, restaurantID string) (*models.RestaurantProfile, error)
}

// BaselineSource looks up a regional carbon baseline
type BaselineSource interface {
	// LookupBaseline returns nil, nil when no baseline matches
	LookupBaseline(ctx context.Context, mealType, region, energyType string) (*models.CarbonBaseline, error)
}

// SyncLogSink appends audit entries
type SyncLogSink interface {
	AppendSyncLog(ctx context.Context, entry *models.SyncLogEntry) error
}

// WebhookPublisher queues signed webhook deliveries
type WebhookPublisher interface {
	PublishWebhook(ctx context.Context, delivery *models.WebhookDelivery) error
}

// OrderLocker serialises concurrent syncs of one order across instances
type OrderLocker interface {
	// AcquireLock returns a token identifying this holder when ok is true
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// ReleaseLock only releases the lock while token still holds it
	ReleaseLock(ctx context.Context, key, token string) error
}
