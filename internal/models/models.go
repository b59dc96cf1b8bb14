package models

import "time"

type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	IsActive     bool
	IsVerified   bool
	IsDeleted    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// * CanLogin reports whether a known user may be issued tokens.
func (u *User) CanLogin() bool {
	return !u.IsDeleted && u.IsVerified && u.IsActive
}

type APIKey struct {
	ID          string     `json:"id"`
	ServiceName string     `json:"service_name"`
	KeyHash     string     `json:"-"`
	IsActive    bool       `json:"is_active"`
	Scopes      []string   `json:"scopes"`
	LastUsedAt  *time.Time `json:"last_used_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// LatestPrice is one row of the latest crop price view.
type LatestPrice struct {
	ID                      int64
	CropID                  int64
	Crop                    string
	Unit                    string
	CategoryID              int64
	EconomicCenterID        int64
	LanguageCode            string
	WholesalePriceToday     *float64
	WholesalePriceYesterday *float64
	RetailPriceToday        *float64
	RetailPriceYesterday    *float64
}

// DailyPrice is one row of the past week price view.
type DailyPrice struct {
	Date             time.Time
	CropID           int64
	EconomicCenterID int64
	WholesalePrice   *float64
	RetailPrice      *float64
}

// MetadataItem is one translated reference value, e.g. a crop name.
type MetadataItem struct {
	ID    int64
	Value string
}

// APIKeyEvent is published to the audit queue.
type APIKeyEvent struct {
	Type        string    `json:"type"`
	KeyID       string    `json:"key_id"`
	ServiceName string    `json:"service_name"`
	RequestID   string    `json:"request_id,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type LatestPriceFilter struct {
	LanguageCode     string
	EconomicCenterID int64
	CropIDs          []int64
	CategoryIDs      []int64
	// AfterID is nil on the first page.
	AfterID *int64
	Limit   int
}

type PriceHistoryFilter struct {
	EconomicCenterID int64
	CropID           int64
	// Before is nil on the first page.
	Before *time.Time
	Limit  int
}
