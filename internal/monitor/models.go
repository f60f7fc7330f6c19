package monitor

import (
	"time"

	"github.com/shopspring/decimal"

	"seatwatch/internal/scraping"
)

// Alert rule conditions.
const (
	ConditionAvailable  = "available"
	ConditionPriceBelow = "price_below"
	ConditionPriceAbove = "price_above"
)

// PriceInfo is one priced listing within a snapshot.
type PriceInfo struct {
	Platform string          `json:"platform"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
}

// Snapshot is the derived per-check summary of availability and price across
// all scraped platforms for one ticket.
type Snapshot struct {
	TicketID           string           `json:"ticket_id"`
	IsAvailable        bool             `json:"is_available"`
	TotalAvailable     int              `json:"total_available"`
	AvailablePlatforms []string         `json:"available_platforms"`
	PlatformCount      int              `json:"platform_count"`
	Prices             []PriceInfo      `json:"price_info"`
	BestPrice          *decimal.Decimal `json:"best_price,omitempty"`
	CheckedAt          time.Time        `json:"checked_at"`
	ScrapeSummary      scraping.Summary `json:"scraping_summary"`
}

// AvailabilityPoint is one entry of the bounded availability history.
type AvailabilityPoint struct {
	Timestamp     time.Time        `json:"timestamp"`
	Available     bool             `json:"available"`
	Count         int              `json:"count"`
	BestPrice     *decimal.Decimal `json:"best_price,omitempty"`
	PlatformCount int              `json:"platforms"`
}

// PricePoint is one entry of the bounded price history.
type PricePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
}

// AlertRule is a per-(ticket, condition) alert predicate.
type AlertRule struct {
	TicketID       string
	Condition      string
	Value          string
	Channels       []string
	CreatedAt      time.Time
	TriggeredCount int64
	LastTriggered  *time.Time
}

// Status summarises one monitored ticket.
type Status struct {
	TicketID            string
	Status              string
	Criteria            scraping.Criteria
	StartedAt           *time.Time
	LastCheck           *time.Time
	AlertCount          int64
	AvailabilityHistory []AvailabilityPoint
	PriceHistory        []PricePoint
	AlertRules          []AlertRule
}

// CheckOutcome is one ticket's result within a sweep.
type CheckOutcome struct {
	Snapshot Snapshot
	Err      string
}

// Statistics aggregates monitoring state for operators.
type Statistics struct {
	TotalMonitored  int
	RecentActivity  int
	TotalAlertsSent int64
	Health          string
	Timestamp       time.Time
}
