package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"pos-gateway/internal/auth"
	"pos-gateway/internal/carbon"
	"pos-gateway/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orderRequest(orderID string, items ...OrderItemRequest) *SyncOrderRequest {
	return &SyncOrderRequest{
		OrderID:      orderID,
		RestaurantID: "R1",
		Items:        items,
		TotalAmount:  64,
	}
}

func TestSyncOrderComputesImpact(t *testing.T) {
	f := newFixture(t)

	res, err := f.orders.SyncOrder(context.Background(), orderRequest("O1",
		OrderItemRequest{MenuItemID: "m1", Quantity: 1},
		OrderItemRequest{MenuItemID: "m2", ItemName: "Beef noodles (L)"},
	), f.cfg)
	require.NoError(t, err)

	// 1 + 3 against the meat_simple/east/gas baseline of 5
	assert.Equal(t, "O1", res.OrderID)
	assert.Equal(t, models.CarbonImpact{
		TotalCarbonFootprint: 4,
		Unit:                 models.CarbonUnit,
		Baseline:             5,
		CarbonReduction:      1,
		ReductionPercent:     20,
		CarbonLevel:          carbon.LevelMedium,
	}, res.CarbonImpact)
	assert.False(t, res.Cached)

	require.Len(t, res.Items, 2)
	assert.Equal(t, "Tofu bowl", res.Items[0].ItemName)
	assert.Equal(t, 1.0, res.Items[0].CarbonFootprint)
	assert.Equal(t, carbon.LevelLow, res.Items[0].CarbonLabel.Level)
	assert.Equal(t, "Beef noodles (L)", res.Items[1].ItemName)
	assert.Equal(t, 1, res.Items[1].Quantity)
	assert.Equal(t, carbon.LevelHigh, res.Items[1].CarbonLabel.Level)

	stored, err := f.store.FindByOrderAndRestaurant(context.Background(), "O1", "R1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.OrderTypeDineIn, stored.OrderType)
	assert.Equal(t, models.OrderSyncedFromPOS, stored.SyncedFrom)
	assert.Equal(t, "standard", stored.POSSystem)
	assert.Equal(t, models.OrderStatusReceived, stored.Status)

	f.settle()
	deliveries := f.pub.Deliveries()
	require.Len(t, deliveries, 1)
	d := deliveries[0]
	assert.Equal(t, models.EventOrderCarbonCalculated, d.EventType)
	assert.Equal(t, testWebhookURL, d.WebhookURL)
	assert.True(t, auth.Verify(testSecret, d.Body, d.Signature))

	var payload struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(d.Body, &payload))
	assert.Equal(t, models.EventOrderCarbonCalculated, payload.Event)
	assert.Equal(t, "O1", payload.Data["orderId"])
	assert.Equal(t, "R1", payload.Data["restaurantId"])
	assert.Equal(t, carbon.LevelMedium, payload.Data["carbonLevel"])

	assert.Len(t, f.store.SyncLogs(models.ActionSyncOrder), 1)
	assert.Len(t, f.store.SyncLogs(models.ActionSendWebhook), 1)
}

func TestSyncOrderIsIdempotent(t *testing.T) {
	f := newFixture(t)
	req := orderRequest("O1",
		OrderItemRequest{MenuItemID: "m1", Quantity: 2},
		OrderItemRequest{MenuItemID: "m2", Quantity: 1},
	)

	syncedAt := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	f.orders.now = func() time.Time { return syncedAt }
	first, err := f.orders.SyncOrder(context.Background(), req, f.cfg)
	require.NoError(t, err)

	f.orders.now = func() time.Time { return syncedAt.Add(time.Hour) }
	second, err := f.orders.SyncOrder(context.Background(), req, f.cfg)
	require.NoError(t, err)

	assert.Equal(t, first.CarbonImpact, second.CarbonImpact)
	assert.Equal(t, first.Items, second.Items)
	assert.Equal(t, syncedAt, second.ProcessedAt)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, f.store.OrderCount())
	assert.Equal(t, 1, f.store.Upserts())

	f.settle()
	assert.Len(t, f.pub.Deliveries(), 1)
}

func TestSyncOrderUpdatesIncompleteOrderInPlace(t *testing.T) {
	f := newFixture(t)
	f.store.PutOrder(models.Order{OrderID: "O2", RestaurantID: "R1", Status: "paid"})
	before, _ := f.store.FindByOrderAndRestaurant(context.Background(), "O2", "R1")

	res, err := f.orders.SyncOrder(context.Background(), orderRequest("O2", OrderItemRequest{MenuItemID: "m1"}), f.cfg)
	require.NoError(t, err)
	assert.False(t, res.Cached)

	after, err := f.store.FindByOrderAndRestaurant(context.Background(), "O2", "R1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.OrderCount())
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, "paid", after.Status)
	require.NotNil(t, after.CarbonImpact)
	assert.Equal(t, 1.0, after.CarbonImpact.TotalCarbonFootprint)
}

func TestSyncOrderBaselineUnavailable(t *testing.T) {
	f := newFixture(t)
	f.store.BaselineErr = errors.New("baseline service down")

	res, err := f.orders.SyncOrder(context.Background(), orderRequest("O1", OrderItemRequest{MenuItemID: "m2", Quantity: 1}), f.cfg)
	require.NoError(t, err)
	assert.Equal(t, 3.0, res.CarbonImpact.TotalCarbonFootprint)
	assert.Zero(t, res.CarbonImpact.Baseline)
	assert.Zero(t, res.CarbonImpact.CarbonReduction)
	assert.Zero(t, res.CarbonImpact.ReductionPercent)
	assert.Equal(t, carbon.LevelMedium, res.CarbonImpact.CarbonLevel)
}

func TestSyncOrderBaselineTimeout(t *testing.T) {
	store := newFixture(t).store
	store.BaselineDelay = time.Second

	baselines := NewBaselineService(store, store, 20*time.Millisecond)
	start := time.Now()
	_, err := baselines.Resolve(context.Background(), "R1", 1)
	assert.ErrorIs(t, err, ErrBaselineUnavailable)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSyncOrderUnresolvedItemWarns(t *testing.T) {
	f := newFixture(t)

	res, err := f.orders.SyncOrder(context.Background(), orderRequest("O1",
		OrderItemRequest{MenuItemID: "m1", Quantity: 1},
		OrderItemRequest{MenuItemID: "ghost", ItemName: "Unknown", Quantity: 3},
		OrderItemRequest{MenuItemID: "m3", Quantity: 1},
	), f.cfg)
	require.NoError(t, err)

	assert.Equal(t, 1.0, res.CarbonImpact.TotalCarbonFootprint)
	assert.Equal(t, 10.0, res.CarbonImpact.Baseline, "three lines use the meat_full baseline")
	assert.Empty(t, res.Items[0].Warning)
	assert.Equal(t, missingCarbonWarning, res.Items[1].Warning)
	assert.Zero(t, res.Items[1].CarbonFootprint)
	assert.Nil(t, res.Items[1].CarbonLabel)
	assert.Equal(t, missingCarbonWarning, res.Items[2].Warning)
}

func TestSyncOrderValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     *SyncOrderRequest
		message string
	}{
		{"missing order id", &SyncOrderRequest{RestaurantID: "R1", Items: []OrderItemRequest{{MenuItemID: "m1"}}}, "missing required parameter: orderId"},
		{"missing restaurant", &SyncOrderRequest{OrderID: "O1", Items: []OrderItemRequest{{MenuItemID: "m1"}}}, "missing required parameter: restaurantId"},
		{"missing items", &SyncOrderRequest{OrderID: "O1", RestaurantID: "R1"}, "missing required parameter: items"},
		{"empty items", &SyncOrderRequest{OrderID: "O1", RestaurantID: "R1", Items: []OrderItemRequest{}}, "missing required parameter: items"},
		{"negative quantity", orderRequest("O1", OrderItemRequest{MenuItemID: "m1", Quantity: -1}), "items[0].quantity must be greater than or equal to 0"},
		{"bad order time", &SyncOrderRequest{OrderID: "O1", RestaurantID: "R1", OrderTime: json.RawMessage(`"yesterday"`), Items: []OrderItemRequest{{MenuItemID: "m1"}}}, "invalid orderTime: yesterday"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.orders.SyncOrder(context.Background(), tt.req, f.cfg)
			require.Error(t, err)
			svcErr := AsError(err)
			assert.Equal(t, CodeBadRequest, svcErr.Code)
			assert.Equal(t, tt.message, svcErr.Message)
			assert.Zero(t, f.store.OrderCount())

			f.settle()
			logs := f.store.SyncLogs(models.ActionSyncOrder)
			require.Len(t, logs, 1)
			assert.Equal(t, models.SyncLogError, logs[0].Type)
			assert.Empty(t, f.pub.Deliveries())
		})
	}
}

func TestSyncOrderWithoutWebhookURL(t *testing.T) {
	f := newFixture(t)
	cfg := f.cfg
	cfg.WebhookURL = ""

	_, err := f.orders.SyncOrder(context.Background(), orderRequest("O1", OrderItemRequest{MenuItemID: "m1"}), cfg)
	require.NoError(t, err)

	f.settle()
	assert.Empty(t, f.pub.Deliveries())
	assert.Empty(t, f.store.SyncLogs(models.ActionSendWebhook))
}

func TestSyncOrderWebhookFailureDoesNotFailOrder(t *testing.T) {
	f := newFixture(t)
	f.pub.Fail = true

	res, err := f.orders.SyncOrder(context.Background(), orderRequest("O1", OrderItemRequest{MenuItemID: "m1"}), f.cfg)
	require.NoError(t, err)
	assert.Equal(t, "O1", res.OrderID)

	f.settle()
	logs := f.store.SyncLogs(models.ActionSendWebhook)
	require.Len(t, logs, 1)
	assert.Equal(t, models.SyncLogError, logs[0].Type)
}

func TestParseOrderTime(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	got, err := parseOrderTime(nil, now)
	require.NoError(t, err)
	assert.Equal(t, now, got)

	got, err = parseOrderTime(json.RawMessage(`"2024-04-30T18:30:00Z"`), now)
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 4, 30, 18, 30, 0, 0, time.UTC).Equal(got))

	got, err = parseOrderTime(json.RawMessage(`1714500000000`), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1714500000000), got.UnixMilli())

	_, err = parseOrderTime(json.RawMessage(`{}`), now)
	assert.Error(t, err)
}

type countingLocker struct {
	mu       sync.Mutex
	acquired []string
	released []string
}

func (l *countingLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	token := fmt.Sprintf("%s#%d", key, len(l.acquired))
	l.acquired = append(l.acquired, token)
	return token, true, nil
}

func (l *countingLocker) ReleaseLock(_ context.Context, _, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = append(l.released, token)
	return nil
}

func TestSyncOrderUsesLock(t *testing.T) {
	locker := &countingLocker{}
	f := newFixture(t, WithOrderLocker(locker, time.Second))

	_, err := f.orders.SyncOrder(context.Background(), orderRequest("O1", OrderItemRequest{MenuItemID: "m1"}), f.cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"order:R1:O1#0"}, locker.acquired)
	assert.Equal(t, locker.acquired, locker.released)
}

func rawOrders(t *testing.T, orders ...any) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(orders))
	for _, o := range orders {
		b, err := json.Marshal(o)
		require.NoError(t, err)
		out = append(out, b)
	}
	return out
}

func TestBatchSyncPartialFailure(t *testing.T) {
	f := newFixture(t)

	res, err := f.orders.BatchSyncOrders(context.Background(), &BatchSyncRequest{
		RestaurantID: "R1",
		Orders: rawOrders(t,
			map[string]any{"orderId": "B1", "items": []map[string]any{{"menuItemId": "m1", "quantity": 2}}},
			map[string]any{"orderId": "B2", "items": []map[string]any{{"menuItemId": "does-not-exist", "quantity": 1}}},
			map[string]any{"orderId": "B3", "items": []map[string]any{{"menuItemId": "m2", "quantity": 1}}},
		),
	}, f.cfg)
	require.NoError(t, err)

	assert.Equal(t, 3, res.TotalCount)
	require.Len(t, res.Results, 3)
	assert.Equal(t, []string{"B1", "B2", "B3"}, []string{res.Results[0].OrderID, res.Results[1].OrderID, res.Results[2].OrderID})
	assert.Equal(t, 2.0, *res.Results[0].CarbonFootprint)
	assert.Equal(t, 3.0, *res.Results[2].CarbonFootprint)

	b2, err := f.store.FindByOrderAndRestaurant(context.Background(), "B2", "R1")
	require.NoError(t, err)
	require.NotNil(t, b2)
	assert.Equal(t, missingCarbonWarning, b2.Items[0].Warning)
	assert.Zero(t, b2.CarbonImpact.TotalCarbonFootprint)
}

func TestBatchSyncIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	f.store.UpsertErr["B3"] = errors.New("deadlock detected")

	res, err := f.orders.BatchSyncOrders(context.Background(), &BatchSyncRequest{
		RestaurantID: "R1",
		BatchID:      "batch-from-pos",
		Orders: append(rawOrders(t,
			map[string]any{"orderId": "B1", "items": []map[string]any{{"menuItemId": "m1"}}},
			map[string]any{"orderId": "B2"},
			map[string]any{"orderId": "B3", "items": []map[string]any{{"menuItemId": "m1"}}},
		), json.RawMessage(`"not an order"`)),
	}, f.cfg)
	require.NoError(t, err)

	assert.Equal(t, "batch-from-pos", res.BatchID)
	assert.Equal(t, 4, res.TotalCount)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 3, res.FailedCount)

	assert.Equal(t, BatchItemSuccess, res.Results[0].Status)
	assert.Equal(t, BatchItemFailed, res.Results[1].Status)
	assert.Equal(t, "missing required parameter: items", res.Results[1].Reason)
	assert.Equal(t, BatchItemFailed, res.Results[2].Status)
	assert.Equal(t, "failed to save order", res.Results[2].Reason)
	assert.Nil(t, res.Results[2].CarbonFootprint)
	assert.Equal(t, BatchItemFailed, res.Results[3].Status)
	assert.Equal(t, "invalid order payload", res.Results[3].Reason)

	f.settle()
	batchLogs := f.store.SyncLogs(models.ActionBatchSyncOrders)
	require.Len(t, batchLogs, 1)
	assert.Equal(t, models.SyncLogSuccess, batchLogs[0].Type)
}

func TestBatchSyncOverridesRestaurant(t *testing.T) {
	f := newFixture(t)

	res, err := f.orders.BatchSyncOrders(context.Background(), &BatchSyncRequest{
		RestaurantID: "R1",
		Orders: rawOrders(t,
			map[string]any{"orderId": "B1", "restaurantId": "R9", "items": []map[string]any{{"menuItemId": "m1"}}},
		),
	}, f.cfg)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.BatchID, "batch_"))

	o, err := f.store.FindByOrderAndRestaurant(context.Background(), "B1", "R1")
	require.NoError(t, err)
	assert.NotNil(t, o)
}

func TestBatchSyncRejectsOversizedBatch(t *testing.T) {
	f := newFixture(t)

	orders := make([]any, 0, 101)
	for i := 0; i < 101; i++ {
		orders = append(orders, map[string]any{
			"orderId": fmt.Sprintf("O%d", i),
			"items":   []map[string]any{{"menuItemId": "m1"}},
		})
	}

	_, err := f.orders.BatchSyncOrders(context.Background(), &BatchSyncRequest{RestaurantID: "R1", Orders: rawOrders(t, orders...)}, f.cfg)
	require.Error(t, err)
	assert.Equal(t, CodeBadRequest, AsError(err).Code)
	assert.Equal(t, "batch cannot exceed 100 orders", AsError(err).Message)

	f.settle()
	assert.Zero(t, f.store.OrderCount())
	assert.Empty(t, f.store.SyncLogs(models.ActionSyncOrder))
	assert.Empty(t, f.pub.Deliveries())
}

func TestBatchSyncAcceptsExactlyMax(t *testing.T) {
	f := newFixture(t, WithMaxBatchOrders(3))

	res, err := f.orders.BatchSyncOrders(context.Background(), &BatchSyncRequest{
		RestaurantID: "R1",
		Orders: rawOrders(t,
			map[string]any{"orderId": "A", "items": []map[string]any{{"menuItemId": "m1"}}},
			map[string]any{"orderId": "B", "items": []map[string]any{{"menuItemId": "m1"}}},
			map[string]any{"orderId": "C", "items": []map[string]any{{"menuItemId": "m1"}}},
		),
	}, f.cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, res.SuccessCount)
}

func TestBatchSyncValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.orders.BatchSyncOrders(context.Background(), &BatchSyncRequest{RestaurantID: "R1"}, f.cfg)
	require.Error(t, err)
	assert.Equal(t, "missing required parameter: orders", AsError(err).Message)
}

func TestRequestsAreBoundToIntegrationRestaurant(t *testing.T) {
	f := newFixture(t)
	f.store.AddMenuItems(models.MenuItemRecord{
		ID: "x1", RestaurantID: "R2", Name: "Other kitchen", Status: models.MenuItemStatusActive,
		Carbon: &models.CarbonRecord{Value: 2, Baseline: 4},
	})
	ctx := context.Background()

	_, err := f.menu.PushMenu(ctx, &PushMenuRequest{RestaurantID: "R2", SyncType: SyncTypeFull}, f.cfg)
	require.Error(t, err)
	assert.Equal(t, CodeUnauthorized, AsError(err).Code)

	_, err = f.orders.SyncOrder(ctx, &SyncOrderRequest{
		OrderID:      "O-foreign",
		RestaurantID: "R2",
		Items:        []OrderItemRequest{{MenuItemID: "x1", Quantity: 1}},
	}, f.cfg)
	require.Error(t, err)
	assert.Equal(t, CodeUnauthorized, AsError(err).Code)
	assert.Equal(t, "integration is not authorized for restaurant R2", AsError(err).Message)

	_, err = f.orders.BatchSyncOrders(ctx, &BatchSyncRequest{
		RestaurantID: "R2",
		Orders:       rawOrders(t, map[string]any{"orderId": "B-foreign", "items": []map[string]any{{"menuItemId": "x1"}}}),
	}, f.cfg)
	require.Error(t, err)
	assert.Equal(t, CodeUnauthorized, AsError(err).Code)

	f.settle()
	assert.Zero(t, f.store.OrderCount())
	assert.Empty(t, f.pub.Deliveries())
	assert.Empty(t, f.store.SyncLogs(models.ActionSendWebhook))
	require.Len(t, f.store.SyncLogs(""), 3)
	for _, entry := range f.store.SyncLogs("") {
		assert.Equal(t, "R1", entry.RestaurantID)
		assert.Equal(t, models.SyncLogError, entry.Type)
	}
}
