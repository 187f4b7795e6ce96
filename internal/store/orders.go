package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pos-gateway/internal/models"

	"github.com/jmoiron/sqlx/types"
)

type orderRow struct {
	ID           int64          `db:"id"`
	OrderID      string         `db:"order_id"`
	RestaurantID string         `db:"restaurant_id"`
	OrderTime    time.Time      `db:"order_time"`
	Items        types.JSONText `db:"items"`
	TotalAmount  float64        `db:"total_amount"`
	CustomerInfo types.JSONText `db:"customer_info"`
	OrderType    string         `db:"order_type"`
	Status       string         `db:"status"`
	CarbonImpact types.JSONText `db:"carbon_impact"`
	SyncedAt     time.Time      `db:"synced_at"`
	SyncedFrom   string         `db:"synced_from"`
	POSSystem    string         `db:"pos_system"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

// FindByOrderAndRestaurant returns the stored order, or nil when it was never synced
func (s *Store) FindByOrderAndRestaurant(ctx context.Context, orderID, restaurantID string) (*models.Order, error) {
	var row orderRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, order_id, restaurant_id, order_time, items, total_amount,
		       COALESCE(customer_info, 'null'::jsonb) AS customer_info, order_type,
		       COALESCE(status, '') AS status, COALESCE(carbon_impact, 'null'::jsonb) AS carbon_impact,
		       synced_at, synced_from, pos_system, created_at, updated_at
		FROM orders
		WHERE order_id = $1 AND restaurant_id = $2`, orderID, restaurantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// UpsertOrder inserts the order or replaces the row with the same (order_id, restaurant_id)
func (s *Store) UpsertOrder(ctx context.Context, order *models.Order) error {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to encode order items: %w", err)
	}
	impact, err := json.Marshal(order.CarbonImpact)
	if err != nil {
		return fmt.Errorf("failed to encode carbon impact: %w", err)
	}

	query := `
		INSERT INTO orders (order_id, restaurant_id, order_time, items, total_amount, customer_info,
		                    order_type, status, carbon_impact, synced_at, synced_from, pos_system)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11, $12)
		ON CONFLICT (order_id, restaurant_id) DO UPDATE SET
			order_time = EXCLUDED.order_time,
			items = EXCLUDED.items,
			total_amount = EXCLUDED.total_amount,
			customer_info = EXCLUDED.customer_info,
			order_type = EXCLUDED.order_type,
			status = COALESCE(EXCLUDED.status, orders.status),
			carbon_impact = EXCLUDED.carbon_impact,
			synced_at = EXCLUDED.synced_at,
			synced_from = EXCLUDED.synced_from,
			pos_system = EXCLUDED.pos_system,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`

	return s.db.QueryRowxContext(ctx, query,
		order.OrderID, order.RestaurantID, order.OrderTime, types.JSONText(items), order.TotalAmount,
		jsonOrNull(order.CustomerInfo), order.OrderType, order.Status, types.JSONText(impact),
		order.SyncedAt, order.SyncedFrom, order.POSSystem,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
}

// UpdateOrderStatus sets the status reported by a POS webhook
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID, restaurantID, status string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE order_id = $2 AND restaurant_id = $3",
		status, orderID, restaurantID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r orderRow) toModel() (*models.Order, error) {
	o := &models.Order{
		ID:           r.ID,
		OrderID:      r.OrderID,
		RestaurantID: r.RestaurantID,
		OrderTime:    r.OrderTime,
		TotalAmount:  r.TotalAmount,
		OrderType:    r.OrderType,
		Status:       r.Status,
		SyncedAt:     r.SyncedAt,
		SyncedFrom:   r.SyncedFrom,
		POSSystem:    r.POSSystem,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Items, &o.Items); err != nil {
		return nil, fmt.Errorf("invalid items for order %s: %w", r.OrderID, err)
	}
	if err := json.Unmarshal(r.CarbonImpact, &o.CarbonImpact); err != nil {
		return nil, fmt.Errorf("invalid carbon impact for order %s: %w", r.OrderID, err)
	}
	if string(r.CustomerInfo) != "null" {
		o.CustomerInfo = json.RawMessage(r.CustomerInfo)
	}
	return o, nil
}

func jsonOrNull(raw json.RawMessage) types.NullJSONText {
	if len(raw) == 0 || string(raw) == "null" {
		return types.NullJSONText{}
	}
	return types.NullJSONText{JSONText: types.JSONText(raw), Valid: true}
}
