package service

import (
	"context"
	"fmt"
	"time"

	"pos-gateway/internal/models"
	"pos-gateway/internal/util"

	"go.opentelemetry.io/otel/attribute"
)

// DefaultBaselineTimeout bounds a single baseline resolution
const DefaultBaselineTimeout = 2 * time.Second

// MealClass derives the baseline meal class from the number of order lines
func MealClass(itemCount int) string {
	if itemCount <= 2 {
		return models.MealTypeSimple
	}
	return models.MealTypeFull
}

// BaselineService resolves the regional baseline for an order
type BaselineService struct {
	restaurants RestaurantReader
	source      BaselineSource
	timeout     time.Duration
}

// NewBaselineService creates a new baseline service. A non-positive timeout uses DefaultBaselineTimeout.
func NewBaselineService(restaurants RestaurantReader, source BaselineSource, timeout time.Duration) *BaselineService {
	if timeout <= 0 {
		timeout = DefaultBaselineTimeout
	}
	return &BaselineService{
		restaurants: restaurants,
		source:      source,
		timeout:     timeout,
	}
}

type baselineOutcome struct {
	value float64
	err   error
}

// Resolve returns the baseline value for a restaurant's order of itemCount lines.
// Any failure, including the timeout expiring, is reported as ErrBaselineUnavailable.
func (s *BaselineService) Resolve(ctx context.Context, restaurantID string, itemCount int) (float64, error) {
	ctx, span := util.StartSpan(ctx, "BaselineService.Resolve",
		attribute.String("restaurant_id", restaurantID))
	defer span.End()

	start := time.Now()
	defer func() {
		util.BaselineLookupLatency.Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan baselineOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- baselineOutcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		value, err := s.lookup(ctx, restaurantID, itemCount)
		done <- baselineOutcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBaselineUnavailable, out.err)
		}
		return out.value, nil
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %v", ErrBaselineUnavailable, ctx.Err())
	}
}

func (s *BaselineService) lookup(ctx context.Context, restaurantID string, itemCount int) (float64, error) {
	region := models.DefaultRegion
	energyType := models.DefaultEnergyType

	profile, err := s.restaurants.GetRestaurantProfile(ctx, restaurantID)
	if err != nil {
		return 0, fmt.Errorf("failed to load restaurant: %w", err)
	}
	if profile != nil {
		if profile.Region != "" {
			region = profile.Region
		}
		if profile.EnergyType != "" {
			energyType = profile.EnergyType
		}
	}

	baseline, err := s.source.LookupBaseline(ctx, MealClass(itemCount), region, energyType)
	if err != nil {
		return 0, err
	}
	if baseline == nil {
		return 0, fmt.Errorf("no baseline for %s/%s/%s", MealClass(itemCount), region, energyType)
	}
	return baseline.Value, nil
}
