package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"pos-gateway/internal/adapter"
	"pos-gateway/internal/carbon"
	"pos-gateway/internal/models"
	"pos-gateway/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultMaxBatchOrders caps batchSyncOrders
const DefaultMaxBatchOrders = 100

const (
	defaultOrderLockTTL  = 30 * time.Second
	orderLockRetryDelay  = 50 * time.Millisecond
	orderLockMaxAttempts = 10
	missingCarbonWarning = "carbon footprint data not found for menu item"
)

// Batch item statuses
const (
	BatchItemSuccess = "success"
	BatchItemFailed  = "failed"
)

// OrderItemRequest is one line of a submitted order
type OrderItemRequest struct {
	MenuItemID string `json:"menuItemId"`
	ItemName   string `json:"itemName"`
	Quantity   int    `json:"quantity" validate:"gte=0"`
}

// SyncOrderRequest is the syncOrder action payload
type SyncOrderRequest struct {
	OrderID      string             `json:"orderId" validate:"required"`
	RestaurantID string             `json:"restaurantId" validate:"required"`
	OrderTime    json.RawMessage    `json:"orderTime,omitempty"`
	Items        []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
	TotalAmount  float64            `json:"totalAmount"`
	CustomerInfo json.RawMessage    `json:"customerInfo,omitempty"`
	OrderType    string             `json:"orderType"`
}

// BatchSyncRequest is the batchSyncOrders action payload. Orders stay raw so a
// malformed entry fails on its own.
type BatchSyncRequest struct {
	RestaurantID string            `json:"restaurantId" validate:"required"`
	BatchID      string            `json:"batchId"`
	Orders       []json.RawMessage `json:"orders" validate:"required,min=1"`
}

// OrderSyncResult is returned by SyncOrder
type OrderSyncResult struct {
	OrderID      string              `json:"orderId"`
	CarbonImpact models.CarbonImpact `json:"carbonImpact"`
	Items        []models.OrderLine  `json:"items"`
	ProcessedAt  time.Time           `json:"processedAt"`
	Cached       bool                `json:"-"`
}

// BatchItemResult is the per-order outcome of a batch
type BatchItemResult struct {
	OrderID         string   `json:"orderId"`
	Status          string   `json:"status"`
	CarbonFootprint *float64 `json:"carbonFootprint,omitempty"`
	Reason          string   `json:"reason,omitempty"`
}

// BatchSyncResult is returned by BatchSyncOrders
type BatchSyncResult struct {
	BatchID      string            `json:"batchId"`
	TotalCount   int               `json:"totalCount"`
	SuccessCount int               `json:"successCount"`
	FailedCount  int               `json:"failedCount"`
	Results      []BatchItemResult `json:"results"`
	ProcessedAt  time.Time         `json:"processedAt"`
}

// WebhookNotifier fires webhook events without blocking
type WebhookNotifier interface {
	SendAsync(ev WebhookEvent, cfg models.IntegrationConfig)
}

// OrderSyncService ingests POS orders and computes their carbon impact
type OrderSyncService struct {
	orders    OrderStore
	menu      MenuReader
	baselines *BaselineService
	adapters  *adapter.Registry
	webhooks  WebhookNotifier
	syncLog   *SyncLogger
	locker    OrderLocker
	lockTTL   time.Duration
	maxBatch  int
	now       func() time.Time
	logger    *zap.Logger
}

// OrderSyncOption configures an OrderSyncService
type OrderSyncOption func(*OrderSyncService)

// WithOrderLocker serialises syncs of the same order through locker
func WithOrderLocker(locker OrderLocker, ttl time.Duration) OrderSyncOption {
	return func(s *OrderSyncService) {
		s.locker = locker
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// WithMaxBatchOrders overrides the batch size cap
func WithMaxBatchOrders(n int) OrderSyncOption {
	return func(s *OrderSyncService) {
		if n > 0 {
			s.maxBatch = n
		}
	}
}

// NewOrderSyncService creates a new order sync service
func NewOrderSyncService(
	orders OrderStore,
	menu MenuReader,
	baselines *BaselineService,
	adapters *adapter.Registry,
	webhooks WebhookNotifier,
	syncLog *SyncLogger,
	opts ...OrderSyncOption,
) *OrderSyncService {
	s := &OrderSyncService{
		orders:    orders,
		menu:      menu,
		baselines: baselines,
		adapters:  adapters,
		webhooks:  webhooks,
		syncLog:   syncLog,
		lockTTL:   defaultOrderLockTTL,
		maxBatch:  DefaultMaxBatchOrders,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncOrder computes and stores the carbon impact of one order. Re-submitting an
// order that was already fully processed returns the stored result unchanged.
func (s *OrderSyncService) SyncOrder(ctx context.Context, req *SyncOrderRequest, cfg models.IntegrationConfig) (*OrderSyncResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderSyncService.SyncOrder",
		attribute.String("order_id", req.OrderID),
		attribute.String("restaurant_id", req.RestaurantID))
	defer span.End()

	start := time.Now()
	logCfg := withRestaurant(cfg, req.RestaurantID)
	logRequest := map[string]any{
		"orderId":   req.OrderID,
		"itemCount": len(req.Items),
	}

	result, err := s.syncOrder(ctx, req, cfg)
	if err != nil {
		util.OrdersSyncedTotal.WithLabelValues("failed").Inc()
		s.syncLog.Failure(models.ActionSyncOrder, logCfg, logRequest, err, time.Since(start))
		return nil, err
	}

	if result.Cached {
		util.OrdersSyncedTotal.WithLabelValues("cached").Inc()
		logRequest["cached"] = true
	} else {
		util.OrdersSyncedTotal.WithLabelValues("new").Inc()
	}
	s.syncLog.Success(models.ActionSyncOrder, logCfg, logRequest,
		map[string]any{"carbonFootprint": result.CarbonImpact.TotalCarbonFootprint},
		time.Since(start))
	return result, nil
}

func (s *OrderSyncService) syncOrder(ctx context.Context, req *SyncOrderRequest, cfg models.IntegrationConfig) (*OrderSyncResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := authorizeRestaurant(cfg, req.RestaurantID); err != nil {
		return nil, err
	}

	orderTime, err := parseOrderTime(req.OrderTime, s.now())
	if err != nil {
		return nil, err
	}

	if s.locker != nil {
		release := s.lock(ctx, req.RestaurantID, req.OrderID)
		defer release()
	}

	existing, err := s.orders.FindByOrderAndRestaurant(ctx, req.OrderID, req.RestaurantID)
	if err != nil {
		return nil, Internal("failed to look up order", err)
	}
	if existing != nil && existing.CarbonImpact != nil {
		s.logger.Info("Order already processed, returning stored result",
			zap.String("order_id", req.OrderID),
			zap.String("restaurant_id", req.RestaurantID))
		return &OrderSyncResult{
			OrderID:      existing.OrderID,
			CarbonImpact: *existing.CarbonImpact,
			Items:        existing.Items,
			ProcessedAt:  existing.SyncedAt,
			Cached:       true,
		}, nil
	}

	order := &models.Order{
		OrderID:      req.OrderID,
		RestaurantID: req.RestaurantID,
		OrderTime:    orderTime,
		TotalAmount:  req.TotalAmount,
		CustomerInfo: nullIfEmpty(req.CustomerInfo),
		OrderType:    orDefault(req.OrderType, models.OrderTypeDineIn),
		Status:       models.OrderStatusReceived,
		SyncedFrom:   models.OrderSyncedFromPOS,
		POSSystem:    cfg.POSVendor,
	}
	if existing != nil {
		order.ID = existing.ID
		order.Status = orDefault(existing.Status, models.OrderStatusReceived)
	}

	vendorResult, err := s.adapters.Resolve(cfg.POSVendor).SyncOrder(ctx, order, cfg)
	if err != nil {
		return nil, Internal("vendor order sync failed", err)
	}
	if !vendorResult.Success {
		return nil, BadRequest("vendor rejected order: %s", orDefault(vendorResult.Error, "unknown reason"))
	}

	// resolve
	records, err := s.menu.FindMenuItemsByIDs(ctx, req.RestaurantID, menuItemIDs(req.Items))
	if err != nil {
		return nil, Internal("failed to load menu items", err)
	}
	byID := make(map[string]models.MenuItemRecord, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	// compute
	lines, total := computeLines(req.Items, byID)
	impact := s.computeImpact(ctx, req.RestaurantID, len(req.Items), total)

	// persist
	now := s.now()
	order.Items = lines
	order.CarbonImpact = &impact
	order.SyncedAt = now
	if err := s.orders.UpsertOrder(ctx, order); err != nil {
		return nil, Internal("failed to save order", err)
	}

	// notify
	if s.webhooks != nil {
		s.webhooks.SendAsync(WebhookEvent{
			Event:        models.EventOrderCarbonCalculated,
			RestaurantID: req.RestaurantID,
			Data: map[string]any{
				"orderId":         req.OrderID,
				"carbonFootprint": impact.TotalCarbonFootprint,
				"carbonLevel":     impact.CarbonLevel,
				"status":          "success",
			},
		}, cfg)
	}

	s.logger.Info("Order synced",
		zap.String("order_id", req.OrderID),
		zap.String("restaurant_id", req.RestaurantID),
		zap.Float64("carbon_footprint", total),
		zap.String("carbon_level", impact.CarbonLevel))

	return &OrderSyncResult{
		OrderID:      req.OrderID,
		CarbonImpact: impact,
		Items:        lines,
		ProcessedAt:  now,
	}, nil
}

func computeLines(items []OrderItemRequest, byID map[string]models.MenuItemRecord) ([]models.OrderLine, float64) {
	lines := make([]models.OrderLine, 0, len(items))
	var total float64

	for _, it := range items {
		qty := it.Quantity
		if qty <= 0 {
			qty = 1
		}
		line := models.OrderLine{
			MenuItemID: it.MenuItemID,
			ItemName:   it.ItemName,
			Quantity:   qty,
		}

		rec, ok := byID[it.MenuItemID]
		if ok && rec.Carbon != nil {
			line.CarbonFootprint = rec.Carbon.Value * float64(qty)
			line.CarbonLabel = carbon.Label(carbon.ResolveLevel(rec.Carbon.CarbonLevel, rec.Carbon.Value, rec.Carbon.Baseline))
			if line.ItemName == "" {
				line.ItemName = rec.Name
			}
			total += line.CarbonFootprint
		} else {
			line.Warning = missingCarbonWarning
		}
		lines = append(lines, line)
	}
	return lines, total
}

func (s *OrderSyncService) computeImpact(ctx context.Context, restaurantID string, itemCount int, total float64) models.CarbonImpact {
	impact := models.CarbonImpact{
		TotalCarbonFootprint: total,
		Unit:                 models.CarbonUnit,
		CarbonLevel:          carbon.LevelMedium,
	}

	baseline, err := s.baselines.Resolve(ctx, restaurantID, itemCount)
	if err != nil {
		util.BaselineDegradedTotal.Inc()
		s.logger.Warn("Baseline lookup failed, continuing without baseline",
			zap.String("restaurant_id", restaurantID),
			zap.Error(err))
		return impact
	}

	impact.Baseline = baseline
	impact.CarbonReduction = carbon.Reduction(total, baseline)
	impact.ReductionPercent = carbon.ReductionPercent(impact.CarbonReduction, baseline)
	impact.CarbonLevel = carbon.DetermineLevel(total, baseline)
	return impact
}

// lock takes the per-order lock, waiting briefly if another instance holds it.
// The sync proceeds either way since the order key is unique in storage.
func (s *OrderSyncService) lock(ctx context.Context, restaurantID, orderID string) func() {
	key := fmt.Sprintf("order:%s:%s", restaurantID, orderID)

	for attempt := 0; attempt < orderLockMaxAttempts; attempt++ {
		token, ok, err := s.locker.AcquireLock(ctx, key, s.lockTTL)
		if err != nil {
			s.logger.Warn("Failed to acquire order lock", zap.String("key", key), zap.Error(err))
			return func() {}
		}
		if ok {
			return func() {
				if err := s.locker.ReleaseLock(context.Background(), key, token); err != nil {
					s.logger.Warn("Failed to release order lock", zap.String("key", key), zap.Error(err))
				}
			}
		}

		select {
		case <-ctx.Done():
			return func() {}
		case <-time.After(orderLockRetryDelay):
		}
	}

	s.logger.Warn("Order lock still held, continuing", zap.String("key", key))
	return func() {}
}

// BatchSyncOrders runs SyncOrder for every order of the batch. Per-order failures
// are reported in the results and never fail the batch.
func (s *OrderSyncService) BatchSyncOrders(ctx context.Context, req *BatchSyncRequest, cfg models.IntegrationConfig) (*BatchSyncResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderSyncService.BatchSyncOrders",
		attribute.String("restaurant_id", req.RestaurantID),
		attribute.Int("orders", len(req.Orders)))
	defer span.End()

	start := time.Now()
	logCfg := withRestaurant(cfg, req.RestaurantID)
	logRequest := map[string]any{
		"batchId":    req.BatchID,
		"orderCount": len(req.Orders),
	}

	if err := s.validateBatch(req, cfg); err != nil {
		s.syncLog.Failure(models.ActionBatchSyncOrders, logCfg, logRequest, err, time.Since(start))
		return nil, err
	}

	result := &BatchSyncResult{
		BatchID:    req.BatchID,
		TotalCount: len(req.Orders),
		Results:    make([]BatchItemResult, 0, len(req.Orders)),
	}
	if result.BatchID == "" {
		result.BatchID = NewBatchID(s.now())
	}

	for _, raw := range req.Orders {
		item := s.syncBatchItem(ctx, req.RestaurantID, raw, cfg)
		if item.Status == BatchItemSuccess {
			result.SuccessCount++
		} else {
			result.FailedCount++
		}
		result.Results = append(result.Results, item)
	}
	result.ProcessedAt = s.now()

	s.logger.Info("Batch synced",
		zap.String("batch_id", result.BatchID),
		zap.String("restaurant_id", req.RestaurantID),
		zap.Int("total", result.TotalCount),
		zap.Int("failed", result.FailedCount))

	logRequest["batchId"] = result.BatchID
	s.syncLog.Success(models.ActionBatchSyncOrders, logCfg, logRequest, map[string]any{
		"successCount": result.SuccessCount,
		"failedCount":  result.FailedCount,
	}, time.Since(start))
	return result, nil
}

func (s *OrderSyncService) validateBatch(req *BatchSyncRequest, cfg models.IntegrationConfig) error {
	if err := validateRequest(req); err != nil {
		return err
	}
	if err := authorizeRestaurant(cfg, req.RestaurantID); err != nil {
		return err
	}
	if len(req.Orders) > s.maxBatch {
		return BadRequest("batch cannot exceed %d orders", s.maxBatch)
	}
	return nil
}

func (s *OrderSyncService) syncBatchItem(ctx context.Context, restaurantID string, raw json.RawMessage, cfg models.IntegrationConfig) (item BatchItemResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Batch order panicked", zap.String("order_id", item.OrderID), zap.Any("panic", r))
			item.Status = BatchItemFailed
			item.CarbonFootprint = nil
			item.Reason = "internal error"
		}
	}()

	var req SyncOrderRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return BatchItemResult{Status: BatchItemFailed, Reason: "invalid order payload"}
	}
	req.RestaurantID = restaurantID
	item.OrderID = req.OrderID

	res, err := s.SyncOrder(ctx, &req, cfg)
	if err != nil {
		return BatchItemResult{OrderID: req.OrderID, Status: BatchItemFailed, Reason: AsError(err).Message}
	}

	footprint := res.CarbonImpact.TotalCarbonFootprint
	return BatchItemResult{OrderID: req.OrderID, Status: BatchItemSuccess, CarbonFootprint: &footprint}
}

func menuItemIDs(items []OrderItemRequest) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if it.MenuItemID == "" {
			continue
		}
		if _, ok := seen[it.MenuItemID]; ok {
			continue
		}
		seen[it.MenuItemID] = struct{}{}
		ids = append(ids, it.MenuItemID)
	}
	return ids
}

var orderTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseOrderTime accepts an RFC 3339 string, a local date-time string or epoch
// milliseconds. A missing value means now.
func parseOrderTime(raw json.RawMessage, now time.Time) (time.Time, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return now, nil
	}

	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, BadRequest("invalid orderTime")
	}
	if s == "" {
		return now, nil
	}
	for _, layout := range orderTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, BadRequest("invalid orderTime: %s", s)
}

func nullIfEmpty(raw json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	return raw
}
