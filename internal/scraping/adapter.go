package scraping

import (
	"context"

	"github.com/shopspring/decimal"
)

// Criteria are opaque search parameters handed to every platform adapter.
type Criteria map[string]string

// Listing is one ticket offer returned by a platform.
type Listing struct {
	Price    *decimal.Decimal `json:"price,omitempty"`
	Currency string           `json:"currency,omitempty"`
	Section  string           `json:"section,omitempty"`
	URL      string           `json:"url,omitempty"`
	Extra    map[string]any   `json:"extra,omitempty"`
}

// Response is the envelope a platform adapter returns for one scrape.
type Response struct {
	Platform  string
	Listings  []Listing
	UserAgent string
	ProxyUsed string
}

// PlatformAdapter translates generic criteria into a platform-specific query.
// Implementations must return an error on failure rather than an empty
// success.
type PlatformAdapter interface {
	Scrape(ctx context.Context, criteria Criteria) (Response, error)
}
