package models

import (
	"encoding/json"
	"time"
)

// IntegrationConfig is a restaurant's POS integration record
type IntegrationConfig struct {
	ID           string    `db:"id" json:"id"`
	RestaurantID string    `db:"restaurant_id" json:"restaurantId"`
	APIKey       string    `db:"api_key" json:"apiKey"`
	SecretKey    string    `db:"secret_key" json:"-"`
	POSVendor    string    `db:"pos_vendor" json:"posVendor"`
	WebhookURL   string    `db:"webhook_url" json:"webhookUrl,omitempty"`
	Status       string    `db:"status" json:"status"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// Redacted returns a copy with the secret cleared
func (c IntegrationConfig) Redacted() IntegrationConfig {
	c.SecretKey = ""
	return c
}

// Integration statuses
const (
	IntegrationStatusActive   = "active"
	IntegrationStatusInactive = "inactive"
)

// Ingredient is one ingredient line of a menu item
type Ingredient struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
}

// MenuItemRecord is a menu item as stored by the menu service
type MenuItemRecord struct {
	ID            string
	RestaurantID  string
	Name          string
	Category      string
	Price         float64
	Unit          string
	Status        string
	Description   *string
	ImageURL      *string
	Ingredients   []Ingredient
	CookingMethod *string
	Carbon        *CarbonRecord
	UpdatedAt     *time.Time
}

// CarbonRecord is the stored carbon calculation for a menu item
type CarbonRecord struct {
	Value            float64
	Baseline         float64
	CarbonLevel      string
	CalculationLevel string
	Certification    *string
	CalculatedAt     *time.Time
}

// MenuItem is the canonical menu item pushed to POS vendors
type MenuItem struct {
	ItemID          string           `json:"itemId"`
	ItemName        string           `json:"itemName"`
	Category        string           `json:"category"`
	Price           float64          `json:"price"`
	Unit            string           `json:"unit"`
	Status          string           `json:"status"`
	Description     *string          `json:"description"`
	ImageURL        *string          `json:"imageUrl"`
	Ingredients     []Ingredient     `json:"ingredients"`
	CookingMethod   *string          `json:"cookingMethod"`
	CarbonFootprint *CarbonFootprint `json:"carbonFootprint"`
	CarbonLabel     *CarbonLabel     `json:"carbonLabel"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// CarbonFootprint is the canonical footprint block of a menu item
type CarbonFootprint struct {
	Value            float64   `json:"value"`
	Unit             string    `json:"unit"`
	Baseline         float64   `json:"baseline"`
	Reduction        float64   `json:"reduction"`
	CarbonLevel      string    `json:"carbonLevel"`
	CalculationLevel string    `json:"calculationLevel"`
	Certification    *string   `json:"certification"`
	CalculatedAt     time.Time `json:"calculatedAt"`
}

// CarbonLabel is the consumer-facing label derived from a carbon level
type CarbonLabel struct {
	Level       string  `json:"level"`
	Icon        string  `json:"icon"`
	Description string  `json:"description"`
	QRCode      *string `json:"qrCode"`
}

// Menu item statuses
const (
	MenuItemStatusActive   = "active"
	MenuItemStatusInactive = "inactive"
)

// OrderLine is one line of a synced order together with its computed footprint
type OrderLine struct {
	MenuItemID      string       `json:"menuItemId"`
	ItemName        string       `json:"itemName"`
	Quantity        int          `json:"quantity"`
	CarbonFootprint float64      `json:"carbonFootprint"`
	CarbonLabel     *CarbonLabel `json:"carbonLabel,omitempty"`
	Warning         string       `json:"warning,omitempty"`
}

// CarbonImpact is the derived carbon metric set of an order
type CarbonImpact struct {
	TotalCarbonFootprint float64 `json:"totalCarbonFootprint"`
	Unit                 string  `json:"unit"`
	Baseline             float64 `json:"baseline"`
	CarbonReduction      float64 `json:"carbonReduction"`
	ReductionPercent     float64 `json:"reductionPercent"`
	CarbonLevel          string  `json:"carbonLevel"`
}

// Order is a POS order synced into the platform, unique by (OrderID, RestaurantID)
type Order struct {
	ID           int64           `json:"id"`
	OrderID      string          `json:"orderId"`
	RestaurantID string          `json:"restaurantId"`
	OrderTime    time.Time       `json:"orderTime"`
	Items        []OrderLine     `json:"items"`
	TotalAmount  float64         `json:"totalAmount"`
	CustomerInfo json.RawMessage `json:"customerInfo,omitempty"`
	OrderType    string          `json:"orderType"`
	Status       string          `json:"status,omitempty"`
	CarbonImpact *CarbonImpact   `json:"carbonImpact,omitempty"`
	SyncedAt     time.Time       `json:"syncedAt"`
	SyncedFrom   string          `json:"syncedFrom"`
	POSSystem    string          `json:"posSystem"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Order statuses
const (
	OrderStatusReceived = "received"
)

// Order defaults
const (
	OrderTypeDineIn      = "dine_in"
	OrderSyncedFromPOS   = "pos_system"
	CarbonUnit           = "kg CO₂e"
	DefaultRegion        = "national_average"
	DefaultEnergyType    = "electric"
	MealTypeSimple       = "meat_simple"
	MealTypeFull         = "meat_full"
	DefaultCategory      = "other"
	DefaultUnit          = "portion"
	DefaultIngredientUOM = "g"
	DefaultCalcLevel     = "L2"
)

// RestaurantProfile holds the restaurant attributes used for baseline selection
type RestaurantProfile struct {
	ID         string `db:"id" json:"id"`
	Region     string `db:"region" json:"region"`
	EnergyType string `db:"energy_type" json:"energyType"`
}

// CarbonBaseline is a regional reference footprint for a meal class
type CarbonBaseline struct {
	ID         int64   `db:"id" json:"id"`
	MealType   string  `db:"meal_type" json:"mealType"`
	Region     string  `db:"region" json:"region"`
	EnergyType string  `db:"energy_type" json:"energyType"`
	Value      float64 `db:"value" json:"value"`
}

// SyncLogEntry is an immutable audit record of one synchronization attempt
type SyncLogEntry struct {
	ID           int64          `json:"id"`
	Type         string         `json:"type"`
	Action       string         `json:"action"`
	RestaurantID string         `json:"restaurantId,omitempty"`
	POSVendor    string         `json:"posVendor,omitempty"`
	RequestData  map[string]any `json:"requestData,omitempty"`
	ResponseData any            `json:"responseData,omitempty"`
	Error        string         `json:"error,omitempty"`
	Duration     time.Duration  `json:"duration"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Sync log types
const (
	SyncLogSuccess = "success"
	SyncLogError   = "error"
	SyncLogInfo    = "info"
)

// Gateway actions
const (
	ActionPushMenu        = "pushMenu"
	ActionSyncOrder       = "syncOrder"
	ActionBatchSyncOrders = "batchSyncOrders"
	ActionHandleWebhook   = "handleWebhook"
	ActionSendWebhook     = "sendWebhook"
	ActionAuthenticate    = "authenticate"
)
