package scraping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const defaultUserAgent = "seatwatch/1.0"

// HTTPAdapterOptions parameterise a generic JSON-endpoint adapter.
type HTTPAdapterOptions struct {
	Platform  string
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// HTTPAdapter queries a platform's JSON search endpoint. Criteria become
// query parameters; the endpoint is expected to return a listings array.
// Platform-specific parsing beyond that stays in dedicated adapters.
type HTTPAdapter struct {
	opts    HTTPAdapterOptions
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewHTTPAdapter constructs the adapter.
func NewHTTPAdapter(opts HTTPAdapterOptions, logger zerolog.Logger) *HTTPAdapter {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAdapter{
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		logger:  logger.With().Str("component", "adapter_"+opts.Platform).Logger(),
	}
}

// Scrape runs one search against the platform endpoint.
func (a *HTTPAdapter) Scrape(ctx context.Context, criteria Criteria) (Response, error) {
	if a.baseURL == "" {
		return Response{}, errors.New("adapter base url required")
	}

	query := url.Values{}
	for k, v := range criteria {
		query.Set(k, v)
	}

	endpoint := a.baseURL + "/search"
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Accept", "application/json")
	userAgent := strings.TrimSpace(a.opts.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, parsePlatformError(a.opts.Platform, resp.StatusCode, payload)
	}

	var body searchResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return Response{}, fmt.Errorf("decode %s response: %w", a.opts.Platform, err)
	}

	listings := make([]Listing, 0, len(body.Listings))
	for _, raw := range body.Listings {
		listing := Listing{
			Currency: raw.Currency,
			Section:  raw.Section,
			URL:      raw.URL,
			Extra:    raw.Extra,
		}
		if raw.Price != "" {
			price, err := decimal.NewFromString(raw.Price)
			if err == nil {
				listing.Price = &price
			}
		}
		listings = append(listings, listing)
	}

	return Response{
		Platform:  a.opts.Platform,
		Listings:  listings,
		UserAgent: userAgent,
		ProxyUsed: resp.Header.Get("X-Proxy-Used"),
	}, nil
}

type searchResponse struct {
	Listings []struct {
		Price    string         `json:"price"`
		Currency string         `json:"currency"`
		Section  string         `json:"section"`
		URL      string         `json:"url"`
		Extra    map[string]any `json:"extra"`
	} `json:"listings"`
}

type platformErrorResponse struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func parsePlatformError(platform string, status int, payload []byte) error {
	var apiErr platformErrorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("%s api error (%d): %s", platform, status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("%s api error (%d): %s", platform, status, apiErr.Message)
		}
		if apiErr.ErrorType != "" {
			return fmt.Errorf("%s api error (%d): %s", platform, status, apiErr.ErrorType)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("%s api error (%d): %s", platform, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%s api error (%d)", platform, status)
}

var _ PlatformAdapter = (*HTTPAdapter)(nil)
