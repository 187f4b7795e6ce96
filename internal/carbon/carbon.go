// Package carbon holds the carbon level classification shared by menu and order sync.
package carbon

import (
	"math"

	"pos-gateway/internal/models"
)

// Carbon levels
const (
	LevelLow    = "low"
	LevelMedium = "medium"
	LevelHigh   = "high"
)

const (
	lowRatio  = 0.8
	highRatio = 1.2
)

const iconBaseURL = "https://cdn.climate-restaurant.com/labels/"

var icons = map[string]string{
	LevelLow:    iconBaseURL + "low-carbon.png",
	LevelMedium: iconBaseURL + "medium-carbon.png",
	LevelHigh:   iconBaseURL + "high-carbon.png",
}

var descriptions = map[string]string{
	LevelLow:    "Low-carbon dish",
	LevelMedium: "Meets industry baseline",
	LevelHigh:   "Optimization recommended",
}

// DetermineLevel classifies value against baseline. A ratio below 0.8 is low,
// above 1.2 is high, anything else (including both bounds) is medium.
// Without a positive baseline the level is medium.
func DetermineLevel(value, baseline float64) string {
	if baseline <= 0 {
		return LevelMedium
	}

	ratio := value / baseline
	switch {
	case ratio < lowRatio:
		return LevelLow
	case ratio > highRatio:
		return LevelHigh
	default:
		return LevelMedium
	}
}

// ResolveLevel prefers a stored level and falls back to DetermineLevel
func ResolveLevel(stored string, value, baseline float64) string {
	if IsLevel(stored) {
		return stored
	}
	return DetermineLevel(value, baseline)
}

// IsLevel reports whether s is a known carbon level
func IsLevel(s string) bool {
	_, ok := icons[s]
	return ok
}

// Label builds the consumer-facing label for a level
func Label(level string) *models.CarbonLabel {
	if !IsLevel(level) {
		level = LevelMedium
	}
	return &models.CarbonLabel{
		Level:       level,
		Icon:        icons[level],
		Description: descriptions[level],
	}
}

// Reduction returns max(0, baseline - value)
func Reduction(value, baseline float64) float64 {
	return math.Max(0, baseline-value)
}

// ReductionPercent returns reduction as a percentage of baseline rounded to one decimal
func ReductionPercent(reduction, baseline float64) float64 {
	if baseline <= 0 {
		return 0
	}
	return RoundTo(reduction/baseline*100, 1)
}

// RoundTo rounds v to the given number of decimals
func RoundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
