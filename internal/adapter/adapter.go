// Package adapter maps POS vendors to the code that talks to them.
package adapter

import (
	"context"
	"strings"
	"sync"

	"pos-gateway/internal/models"
	"pos-gateway/internal/util"

	"go.uber.org/zap"
)

// VendorStandard is the vendor id of the built-in adapter
const VendorStandard = "standard"

// MenuBatch is a formatted menu pushed to a vendor
type MenuBatch struct {
	RestaurantID string            `json:"restaurantId"`
	SyncType     string            `json:"syncType"`
	MenuItems    []models.MenuItem `json:"menuItems"`
}

// FailedItem is a menu item a vendor refused
type FailedItem struct {
	ItemID string `json:"itemId"`
	Reason string `json:"reason"`
}

// PushResult is a vendor's answer to a menu push
type PushResult struct {
	Success      bool         `json:"success"`
	SuccessCount int          `json:"successCount"`
	FailedCount  int          `json:"failedCount"`
	FailedItems  []FailedItem `json:"failedItems"`
	Error        string       `json:"error,omitempty"`
}

// OrderResult is a vendor's answer to an order sync
type OrderResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Adapter is implemented once per POS vendor
type Adapter interface {
	Vendor() string
	PushMenu(ctx context.Context, batch MenuBatch, cfg models.IntegrationConfig) (*PushResult, error)
	SyncOrder(ctx context.Context, order *models.Order, cfg models.IntegrationConfig) (*OrderResult, error)
}

// VendorInfo describes a registered vendor id
type VendorInfo struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Registry resolves vendor ids to adapters, falling back to the standard adapter
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	vendors  []VendorInfo
	fallback Adapter
	logger   *zap.Logger
}

// NewRegistry creates a registry with the standard adapter and the known vendor aliases
func NewRegistry() *Registry {
	standard := NewStandardAdapter()
	r := &Registry{
		adapters: make(map[string]Adapter),
		fallback: standard,
		logger:   util.GetLogger(),
	}

	r.Register(VendorInfo{Value: VendorStandard, Label: "Standard adapter"}, standard)
	// Keruyun, 2dfire and Meituan have no dedicated adapter yet.
	r.Register(VendorInfo{Value: "kry", Label: "Keruyun"}, standard, "keruyun")
	r.Register(VendorInfo{Value: "e2f", Label: "2dfire"}, standard, "erweihuo")
	r.Register(VendorInfo{Value: "meituan", Label: "Meituan POS"}, standard)
	return r
}

// Register binds an adapter to a vendor id and optional aliases
func (r *Registry) Register(info VendorInfo, a Adapter, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.adapters[normalize(info.Value)] = a
	for _, alias := range aliases {
		r.adapters[normalize(alias)] = a
	}

	for i, v := range r.vendors {
		if v.Value == info.Value {
			r.vendors[i] = info
			return
		}
	}
	r.vendors = append(r.vendors, info)
}

// Resolve returns the adapter for vendor. Unknown or empty ids get the standard adapter.
func (r *Registry) Resolve(vendor string) Adapter {
	key := normalize(vendor)
	if key == "" {
		return r.fallback
	}

	r.mu.RLock()
	a, ok := r.adapters[key]
	r.mu.RUnlock()
	if ok {
		return a
	}

	r.logger.Warn("Unknown POS vendor, using standard adapter", zap.String("vendor", vendor))
	return r.fallback
}

// Supported lists the registered vendors
func (r *Registry) Supported() []VendorInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]VendorInfo, len(r.vendors))
	copy(out, r.vendors)
	return out
}

func normalize(vendor string) string {
	return strings.ToLower(strings.TrimSpace(vendor))
}
