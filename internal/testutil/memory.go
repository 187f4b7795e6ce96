// Package testutil provides in-memory collaborators for package tests.
package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"pos-gateway/internal/models"
)

// MemoryStore is an in-memory stand-in for the Postgres store
type MemoryStore struct {
	mu           sync.Mutex
	integrations map[string]models.IntegrationConfig
	menu         map[string][]models.MenuItemRecord
	orders       map[string]*models.Order
	restaurants  map[string]models.RestaurantProfile
	baselines    []models.CarbonBaseline
	logs         []models.SyncLogEntry
	nextOrderID  int64
	nextLogID    int64

	// BaselineErr makes LookupBaseline fail
	BaselineErr error
	// BaselineDelay delays LookupBaseline, honouring ctx
	BaselineDelay time.Duration
	// SyncLogErr makes AppendSyncLog fail
	SyncLogErr error
	// MenuErr makes menu reads fail
	MenuErr error
	// UpsertErr makes UpsertOrder fail for the given order id
	UpsertErr map[string]error

	upserts int
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		integrations: make(map[string]models.IntegrationConfig),
		menu:         make(map[string][]models.MenuItemRecord),
		orders:       make(map[string]*models.Order),
		restaurants:  make(map[string]models.RestaurantProfile),
		UpsertErr:    make(map[string]error),
	}
}

// AddIntegration registers an integration
func (m *MemoryStore) AddIntegration(cfg models.IntegrationConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.integrations[cfg.APIKey] = cfg
}

// AddMenuItems registers menu items for their restaurants
func (m *MemoryStore) AddMenuItems(items ...models.MenuItemRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		m.menu[it.RestaurantID] = append(m.menu[it.RestaurantID], it)
	}
}

// AddRestaurant registers a restaurant profile
func (m *MemoryStore) AddRestaurant(p models.RestaurantProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restaurants[p.ID] = p
}

// AddBaseline registers a baseline
func (m *MemoryStore) AddBaseline(b models.CarbonBaseline) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baselines = append(m.baselines, b)
}

// FindActiveByAPIKey implements the credential lookup
func (m *MemoryStore) FindActiveByAPIKey(_ context.Context, apiKey string) (*models.IntegrationConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.integrations[apiKey]
	if !ok || cfg.Status != models.IntegrationStatusActive {
		return nil, nil
	}
	return &cfg, nil
}

// ListActiveMenuItems implements service.MenuReader
func (m *MemoryStore) ListActiveMenuItems(_ context.Context, restaurantID string, ids []string) ([]models.MenuItemRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MenuErr != nil {
		return nil, m.MenuErr
	}

	var out []models.MenuItemRecord
	for _, it := range m.menu[restaurantID] {
		if it.Status != models.MenuItemStatusActive {
			continue
		}
		if len(ids) > 0 && !contains(ids, it.ID) {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

// FindMenuItemsByIDs implements service.MenuReader
func (m *MemoryStore) FindMenuItemsByIDs(_ context.Context, restaurantID string, ids []string) ([]models.MenuItemRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MenuErr != nil {
		return nil, m.MenuErr
	}

	var out []models.MenuItemRecord
	for _, it := range m.menu[restaurantID] {
		if contains(ids, it.ID) {
			out = append(out, it)
		}
	}
	return out, nil
}

// FindByOrderAndRestaurant implements service.OrderStore
func (m *MemoryStore) FindByOrderAndRestaurant(_ context.Context, orderID, restaurantID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderKey(orderID, restaurantID)]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

// UpsertOrder implements service.OrderStore
func (m *MemoryStore) UpsertOrder(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.UpsertErr[order.OrderID]; err != nil {
		return err
	}

	m.upserts++
	key := orderKey(order.OrderID, order.RestaurantID)
	now := time.Now()
	if existing, ok := m.orders[key]; ok {
		order.ID = existing.ID
		order.CreatedAt = existing.CreatedAt
	} else {
		m.nextOrderID++
		order.ID = m.nextOrderID
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	cp := *order
	m.orders[key] = &cp
	return nil
}

// UpdateOrderStatus implements service.OrderStore
func (m *MemoryStore) UpdateOrderStatus(_ context.Context, orderID, restaurantID, status string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderKey(orderID, restaurantID)]
	if !ok {
		return false, nil
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	return true, nil
}

// PutOrder stores an order as is
func (m *MemoryStore) PutOrder(order models.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextOrderID++
	order.ID = m.nextOrderID
	m.orders[orderKey(order.OrderID, order.RestaurantID)] = &order
}

// OrderCount returns the number of stored orders
func (m *MemoryStore) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// Upserts returns the number of successful UpsertOrder calls
func (m *MemoryStore) Upserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}

// GetRestaurantProfile implements service.RestaurantReader
func (m *MemoryStore) GetRestaurantProfile(_ context.Context, restaurantID string) (*models.RestaurantProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.restaurants[restaurantID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// LookupBaseline implements service.BaselineSource, falling back to the
// national average region like the Postgres store
func (m *MemoryStore) LookupBaseline(ctx context.Context, mealType, region, energyType string) (*models.CarbonBaseline, error) {
	m.mu.Lock()
	delay, failure := m.BaselineDelay, m.BaselineErr
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failure != nil {
		return nil, failure
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range []string{region, models.DefaultRegion} {
		for _, b := range m.baselines {
			if b.MealType == mealType && b.Region == r && b.EnergyType == energyType {
				cp := b
				return &cp, nil
			}
		}
	}
	return nil, nil
}

// AppendSyncLog implements service.SyncLogSink
func (m *MemoryStore) AppendSyncLog(_ context.Context, entry *models.SyncLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SyncLogErr != nil {
		return m.SyncLogErr
	}
	m.nextLogID++
	entry.ID = m.nextLogID
	m.logs = append(m.logs, *entry)
	return nil
}

// SyncLogs returns the written entries, optionally filtered by action
func (m *MemoryStore) SyncLogs(action string) []models.SyncLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SyncLogEntry
	for _, e := range m.logs {
		if action == "" || e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// ErrPublish is returned by a failing Publisher
var ErrPublish = errors.New("broker unavailable")

// Publisher records queued webhook deliveries
type Publisher struct {
	mu         sync.Mutex
	deliveries []models.WebhookDelivery
	Fail       bool
}

// PublishWebhook implements service.WebhookPublisher
func (p *Publisher) PublishWebhook(_ context.Context, d *models.WebhookDelivery) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Fail {
		return ErrPublish
	}
	p.deliveries = append(p.deliveries, *d)
	return nil
}

// Deliveries returns everything published so far
func (p *Publisher) Deliveries() []models.WebhookDelivery {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.WebhookDelivery, len(p.deliveries))
	copy(out, p.deliveries)
	return out
}

func orderKey(orderID, restaurantID string) string {
	return restaurantID + "/" + orderID
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
