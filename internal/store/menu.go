package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"pos-gateway/internal/models"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
)

type menuItemRow struct {
	ID               string          `db:"id"`
	RestaurantID     string          `db:"restaurant_id"`
	Name             string          `db:"name"`
	Category         string          `db:"category"`
	Price            float64         `db:"price"`
	Unit             string          `db:"unit"`
	Status           string          `db:"status"`
	Description      sql.NullString  `db:"description"`
	ImageURL         sql.NullString  `db:"image_url"`
	Ingredients      types.JSONText  `db:"ingredients"`
	CookingMethod    sql.NullString  `db:"cooking_method"`
	CarbonValue      sql.NullFloat64 `db:"carbon_value"`
	CarbonBaseline   sql.NullFloat64 `db:"carbon_baseline"`
	CarbonLevel      sql.NullString  `db:"carbon_level"`
	CalculationLevel sql.NullString  `db:"calculation_level"`
	Certification    sql.NullString  `db:"certification"`
	CalculatedAt     sql.NullTime    `db:"calculated_at"`
	UpdatedAt        sql.NullTime    `db:"updated_at"`
}

const menuItemColumns = `
	id, restaurant_id, name, COALESCE(category, '') AS category, price,
	COALESCE(unit, '') AS unit, status, description, image_url,
	COALESCE(ingredients, '[]'::jsonb) AS ingredients, cooking_method,
	carbon_value, carbon_baseline, carbon_level, calculation_level,
	certification, calculated_at, updated_at`

// ListActiveMenuItems returns the active items of a restaurant, narrowed to ids when given
func (s *Store) ListActiveMenuItems(ctx context.Context, restaurantID string, ids []string) ([]models.MenuItemRecord, error) {
	query := `SELECT` + menuItemColumns + `
		FROM menu_items
		WHERE restaurant_id = $1 AND status = $2`
	args := []any{restaurantID, models.MenuItemStatusActive}
	if len(ids) > 0 {
		query += ` AND id = ANY($3)`
		args = append(args, pq.Array(ids))
	}
	query += ` ORDER BY id`

	var rows []menuItemRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return toMenuItems(rows)
}

// FindMenuItemsByIDs returns the restaurant's items among ids regardless of status
func (s *Store) FindMenuItemsByIDs(ctx context.Context, restaurantID string, ids []string) ([]models.MenuItemRecord, error) {
	if len(ids) == 0 {
		return []models.MenuItemRecord{}, nil
	}

	var rows []menuItemRow
	err := s.db.SelectContext(ctx, &rows, `SELECT`+menuItemColumns+`
		FROM menu_items
		WHERE restaurant_id = $1 AND id = ANY($2)`,
		restaurantID, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	return toMenuItems(rows)
}

func toMenuItems(rows []menuItemRow) ([]models.MenuItemRecord, error) {
	items := make([]models.MenuItemRecord, 0, len(rows))
	for _, r := range rows {
		item := models.MenuItemRecord{
			ID:            r.ID,
			RestaurantID:  r.RestaurantID,
			Name:          r.Name,
			Category:      r.Category,
			Price:         r.Price,
			Unit:          r.Unit,
			Status:        r.Status,
			Description:   nullString(r.Description),
			ImageURL:      nullString(r.ImageURL),
			CookingMethod: nullString(r.CookingMethod),
			UpdatedAt:     nullTime(r.UpdatedAt),
		}
		if err := json.Unmarshal(r.Ingredients, &item.Ingredients); err != nil {
			return nil, fmt.Errorf("invalid ingredients for menu item %s: %w", r.ID, err)
		}
		if r.CarbonValue.Valid {
			item.Carbon = &models.CarbonRecord{
				Value:            r.CarbonValue.Float64,
				Baseline:         r.CarbonBaseline.Float64,
				CarbonLevel:      r.CarbonLevel.String,
				CalculationLevel: r.CalculationLevel.String,
				Certification:    nullString(r.Certification),
				CalculatedAt:     nullTime(r.CalculatedAt),
			}
		}
		items = append(items, item)
	}
	return items, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	return &v.Time
}
