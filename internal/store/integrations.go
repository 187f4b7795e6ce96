package store

import (
	"context"
	"database/sql"
	"errors"

	"pos-gateway/internal/models"
)

// FindActiveByAPIKey returns the active integration owning apiKey, or nil
func (s *Store) FindActiveByAPIKey(ctx context.Context, apiKey string) (*models.IntegrationConfig, error) {
	var cfg models.IntegrationConfig
	err := s.db.GetContext(ctx, &cfg, `
		SELECT id, restaurant_id, api_key, secret_key, pos_vendor,
		       COALESCE(webhook_url, '') AS webhook_url, status, created_at, updated_at
		FROM pos_integrations
		WHERE api_key = $1 AND status = $2`,
		apiKey, models.IntegrationStatusActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetRestaurantProfile returns the region and energy type of a restaurant, or nil
func (s *Store) GetRestaurantProfile(ctx context.Context, restaurantID string) (*models.RestaurantProfile, error) {
	var p models.RestaurantProfile
	err := s.db.GetContext(ctx, &p, `
		SELECT id, COALESCE(region, '') AS region, COALESCE(energy_type, '') AS energy_type
		FROM restaurants
		WHERE id = $1`, restaurantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// LookupBaseline matches the exact region first and then the national average
// for the same meal class and energy type
func (s *Store) LookupBaseline(ctx context.Context, mealType, region, energyType string) (*models.CarbonBaseline, error) {
	var b models.CarbonBaseline
	err := s.db.GetContext(ctx, &b, `
		SELECT id, meal_type, region, energy_type, value
		FROM carbon_baselines
		WHERE meal_type = $1 AND energy_type = $3 AND region IN ($2, $4)
		ORDER BY (region = $2) DESC
		LIMIT 1`,
		mealType, region, energyType, models.DefaultRegion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}
