package service

import (
	"testing"
	"time"

	"pos-gateway/internal/adapter"
	"pos-gateway/internal/models"
	"pos-gateway/internal/testutil"
)

const (
	testSecret     = "sk_live_secret"
	testAPIKey     = "ak_live"
	testWebhookURL = "https://pos.example.com/hooks"
)

type fixture struct {
	store    *testutil.MemoryStore
	pub      *testutil.Publisher
	syncLog  *SyncLogger
	webhooks *WebhookDispatcher
	menu     *MenuSyncService
	orders   *OrderSyncService
	cfg      models.IntegrationConfig
}

func strPtr(s string) *string { return &s }

func newFixture(t *testing.T, opts ...OrderSyncOption) *fixture {
	t.Helper()

	store := testutil.NewMemoryStore()
	full := models.IntegrationConfig{
		ID:           "int-1",
		RestaurantID: "R1",
		APIKey:       testAPIKey,
		SecretKey:    testSecret,
		POSVendor:    "standard",
		WebhookURL:   testWebhookURL,
		Status:       models.IntegrationStatusActive,
	}
	store.AddIntegration(full)

	store.AddRestaurant(models.RestaurantProfile{ID: "R1", Region: "east", EnergyType: "gas"})
	store.AddBaseline(models.CarbonBaseline{MealType: models.MealTypeSimple, Region: "east", EnergyType: "gas", Value: 5})
	store.AddBaseline(models.CarbonBaseline{MealType: models.MealTypeFull, Region: "east", EnergyType: "gas", Value: 10})
	store.AddBaseline(models.CarbonBaseline{MealType: models.MealTypeSimple, Region: models.DefaultRegion, EnergyType: models.DefaultEnergyType, Value: 4})

	store.AddMenuItems(
		models.MenuItemRecord{
			ID: "m1", RestaurantID: "R1", Name: "Tofu bowl", Category: "main", Price: 28, Status: models.MenuItemStatusActive,
			Ingredients: []models.Ingredient{{Name: "tofu", Quantity: 200}},
			Carbon:      &models.CarbonRecord{Value: 1, Baseline: 2},
		},
		models.MenuItemRecord{
			ID: "m2", RestaurantID: "R1", Name: "Beef noodles", Price: 36, Unit: "bowl", Status: models.MenuItemStatusActive,
			CookingMethod: strPtr("braised"),
			Carbon:        &models.CarbonRecord{Value: 3, Baseline: 2, CarbonLevel: "high", CalculationLevel: "L3", Certification: strPtr("cert-9")},
		},
		models.MenuItemRecord{
			ID: "m3", RestaurantID: "R1", Name: "Tea", Price: 8, Status: models.MenuItemStatusActive,
		},
		models.MenuItemRecord{
			ID: "m4", RestaurantID: "R1", Name: "Retired dish", Status: models.MenuItemStatusInactive,
			Carbon: &models.CarbonRecord{Value: 9, Baseline: 2},
		},
	)

	pub := &testutil.Publisher{}
	syncLog := NewSyncLogger(store)
	registry := adapter.NewRegistry()
	webhooks := NewWebhookDispatcher(store, pub, store, syncLog)
	baselines := NewBaselineService(store, store, 500*time.Millisecond)

	return &fixture{
		store:    store,
		pub:      pub,
		syncLog:  syncLog,
		webhooks: webhooks,
		menu:     NewMenuSyncService(store, registry, syncLog),
		orders:   NewOrderSyncService(store, store, baselines, registry, webhooks, syncLog, opts...),
		cfg:      full.Redacted(),
	}
}

// settle waits for background webhook sends and sync log writes
func (f *fixture) settle() {
	f.webhooks.Wait()
	f.syncLog.Wait()
}
