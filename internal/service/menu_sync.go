package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pos-gateway/internal/adapter"
	"pos-gateway/internal/carbon"
	"pos-gateway/internal/models"
	"pos-gateway/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Menu sync types
const (
	SyncTypeFull        = "full"
	SyncTypeIncremental = "incremental"
)

// PushMenuRequest is the pushMenu action payload
type PushMenuRequest struct {
	RestaurantID string   `json:"restaurantId" validate:"required"`
	SyncType     string   `json:"syncType" validate:"required,oneof=full incremental"`
	MenuItemIDs  []string `json:"menuItemIds"`
}

// MenuSyncResult is returned by PushMenu
type MenuSyncResult struct {
	SyncID       string               `json:"syncId"`
	TotalCount   int                  `json:"totalCount"`
	SuccessCount int                  `json:"successCount"`
	FailedCount  int                  `json:"failedCount"`
	FailedItems  []adapter.FailedItem `json:"failedItems"`
	SyncAt       time.Time            `json:"syncAt"`
}

// MenuSyncService pushes carbon-labelled menus to POS vendors
type MenuSyncService struct {
	menu     MenuReader
	adapters *adapter.Registry
	syncLog  *SyncLogger
	now      func() time.Time
	logger   *zap.Logger
}

// NewMenuSyncService creates a new menu sync service
func NewMenuSyncService(menu MenuReader, adapters *adapter.Registry, syncLog *SyncLogger) *MenuSyncService {
	return &MenuSyncService{
		menu:     menu,
		adapters: adapters,
		syncLog:  syncLog,
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// PushMenu formats the restaurant's active menu and hands it to the vendor adapter
func (s *MenuSyncService) PushMenu(ctx context.Context, req *PushMenuRequest, cfg models.IntegrationConfig) (*MenuSyncResult, error) {
	ctx, span := util.StartSpan(ctx, "MenuSyncService.PushMenu",
		attribute.String("restaurant_id", req.RestaurantID),
		attribute.String("sync_type", req.SyncType))
	defer span.End()

	start := time.Now()
	logRequest := map[string]any{
		"syncType":    req.SyncType,
		"menuItemIds": len(req.MenuItemIDs),
	}

	result, err := s.pushMenu(ctx, req, cfg, logRequest)
	if err != nil {
		s.syncLog.Failure(models.ActionPushMenu, withRestaurant(cfg, req.RestaurantID), logRequest, err, time.Since(start))
		return nil, err
	}

	s.syncLog.Success(models.ActionPushMenu, withRestaurant(cfg, req.RestaurantID), logRequest, result, time.Since(start))
	return result, nil
}

func (s *MenuSyncService) pushMenu(ctx context.Context, req *PushMenuRequest, cfg models.IntegrationConfig, logRequest map[string]any) (*MenuSyncResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := authorizeRestaurant(cfg, req.RestaurantID); err != nil {
		return nil, err
	}

	records, err := s.menu.ListActiveMenuItems(ctx, req.RestaurantID, req.MenuItemIDs)
	if err != nil {
		return nil, Internal("failed to load menu items", err)
	}
	logRequest["menuItemCount"] = len(records)

	now := s.now()
	if len(records) == 0 {
		s.logger.Info("No menu items to sync", zap.String("restaurant_id", req.RestaurantID))
		return &MenuSyncResult{
			SyncID:      NewSyncID(now),
			FailedItems: []adapter.FailedItem{},
			SyncAt:      now,
		}, nil
	}

	items := make([]models.MenuItem, 0, len(records))
	for _, rec := range records {
		items = append(items, FormatMenuItem(rec, now))
	}

	a := s.adapters.Resolve(cfg.POSVendor)
	pushed, err := a.PushMenu(ctx, adapter.MenuBatch{
		RestaurantID: req.RestaurantID,
		SyncType:     req.SyncType,
		MenuItems:    items,
	}, cfg)
	if err != nil {
		util.MenuItemsPushedTotal.WithLabelValues(a.Vendor(), "failed").Add(float64(len(items)))
		return nil, Internal("menu push failed", err)
	}
	if !pushed.Success {
		util.MenuItemsPushedTotal.WithLabelValues(a.Vendor(), "failed").Add(float64(len(items)))
		msg := pushed.Error
		if msg == "" {
			msg = "vendor rejected menu push"
		}
		return nil, &Error{Code: CodeInternal, Message: msg}
	}

	failedItems := pushed.FailedItems
	if failedItems == nil {
		failedItems = []adapter.FailedItem{}
	}

	util.MenuItemsPushedTotal.WithLabelValues(a.Vendor(), "success").Add(float64(pushed.SuccessCount))
	util.MenuItemsPushedTotal.WithLabelValues(a.Vendor(), "failed").Add(float64(pushed.FailedCount))

	s.logger.Info("Menu pushed",
		zap.String("restaurant_id", req.RestaurantID),
		zap.String("vendor", a.Vendor()),
		zap.Int("items", len(items)),
		zap.Int("failed", pushed.FailedCount))

	return &MenuSyncResult{
		SyncID:       NewSyncID(now),
		TotalCount:   len(items),
		SuccessCount: pushed.SuccessCount,
		FailedCount:  pushed.FailedCount,
		FailedItems:  failedItems,
		SyncAt:       now,
	}, nil
}

// FormatMenuItem converts a stored menu record into the canonical vendor schema
func FormatMenuItem(rec models.MenuItemRecord, now time.Time) models.MenuItem {
	item := models.MenuItem{
		ItemID:        rec.ID,
		ItemName:      rec.Name,
		Category:      orDefault(rec.Category, models.DefaultCategory),
		Price:         rec.Price,
		Unit:          orDefault(rec.Unit, models.DefaultUnit),
		Status:        models.MenuItemStatusInactive,
		Description:   nonEmpty(rec.Description),
		ImageURL:      nonEmpty(rec.ImageURL),
		Ingredients:   make([]models.Ingredient, 0, len(rec.Ingredients)),
		CookingMethod: nonEmpty(rec.CookingMethod),
		UpdatedAt:     now,
	}
	if rec.Status == models.MenuItemStatusActive {
		item.Status = models.MenuItemStatusActive
	}

	for _, ing := range rec.Ingredients {
		item.Ingredients = append(item.Ingredients, models.Ingredient{
			Name:     ing.Name,
			Quantity: ing.Quantity,
			Unit:     orDefault(ing.Unit, models.DefaultIngredientUOM),
		})
	}

	if rec.Carbon != nil {
		item.CarbonFootprint = formatCarbonFootprint(rec.Carbon, now)
		item.CarbonLabel = carbon.Label(item.CarbonFootprint.CarbonLevel)
	}

	switch {
	case rec.UpdatedAt != nil:
		item.UpdatedAt = *rec.UpdatedAt
	case rec.Carbon != nil && rec.Carbon.CalculatedAt != nil:
		item.UpdatedAt = *rec.Carbon.CalculatedAt
	}

	return item
}

func formatCarbonFootprint(c *models.CarbonRecord, now time.Time) *models.CarbonFootprint {
	fp := &models.CarbonFootprint{
		Value:            c.Value,
		Unit:             models.CarbonUnit,
		Baseline:         c.Baseline,
		Reduction:        carbon.Reduction(c.Value, c.Baseline),
		CarbonLevel:      carbon.ResolveLevel(c.CarbonLevel, c.Value, c.Baseline),
		CalculationLevel: orDefault(c.CalculationLevel, models.DefaultCalcLevel),
		Certification:    nonEmpty(c.Certification),
		CalculatedAt:     now,
	}
	if c.CalculatedAt != nil {
		fp.CalculatedAt = *c.CalculatedAt
	}
	return fp
}

// NewSyncID returns an id of the form sync_<unix ms>_<6 chars>
func NewSyncID(now time.Time) string {
	return fmt.Sprintf("sync_%d_%s", now.UnixMilli(), randomSuffix(6))
}

// NewBatchID returns an id of the form batch_<unix ms>_<6 chars>
func NewBatchID(now time.Time) string {
	return fmt.Sprintf("batch_%d_%s", now.UnixMilli(), randomSuffix(6))
}

func randomSuffix(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func nonEmpty(p *string) *string {
	if p == nil || *p == "" {
		return nil
	}
	return p
}

// withRestaurant fills the log restaurant id from the request when the
// integration carries none
func withRestaurant(cfg models.IntegrationConfig, restaurantID string) models.IntegrationConfig {
	if cfg.RestaurantID == "" {
		cfg.RestaurantID = restaurantID
	}
	return cfg
}
