package scraping

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"seatwatch/internal/store"
)

const metricsPrefix = "scraping:metrics:"

var (
	// ErrUnknownPlatform is returned for single-platform scrapes against a
	// platform that is not registered or not enabled.
	ErrUnknownPlatform = errors.New("scraping: unknown or disabled platform")
)

// PlatformOptions tune one registered platform.
type PlatformOptions struct {
	Enabled     bool
	MinInterval time.Duration
}

type platform struct {
	name    string
	adapter PlatformAdapter
	limiter *rateLimiter
	enabled bool
}

// PlatformResult captures one platform's outcome within a scrape.
type PlatformResult struct {
	Status    string
	Count     int
	Listings  []Listing
	Latency   time.Duration
	UserAgent string
	ProxyUsed string
	Error     string
}

// PlatformError pairs a platform with its failure message.
type PlatformError struct {
	Platform string
	Message  string
}

// Summary aggregates one ScrapeAllPlatforms invocation.
type Summary struct {
	PlatformsAttempted int
	PlatformsSucceeded int
	PlatformsFailed    int
	TotalListings      int
	Duration           time.Duration
	StartedAt          time.Time
}

// Report is the unified result envelope of a fan-out scrape.
type Report struct {
	Summary Summary
	Results map[string]PlatformResult
	Errors  []PlatformError
}

// PlatformMetrics are the persisted running metrics for one platform.
type PlatformMetrics struct {
	Platform          string
	TotalScrapes      int64
	SuccessfulScrapes int64
	TotalListings     int64
	SuccessRate       float64
	AvgListings       float64
}

// Healthy reports whether the platform's rolling success rate clears the
// 70% bar.
func (m PlatformMetrics) Healthy() bool {
	return m.TotalScrapes > 0 && m.SuccessRate > 0.7
}

// Health summarises orchestrator-wide scraping health.
type Health struct {
	Status           string
	TotalPlatforms   int
	HealthyPlatforms int
	Platforms        []PlatformMetrics
}

// Orchestrator fans criteria out to all enabled platform adapters, enforcing
// per-platform rate limits, and accumulates per-platform metrics in the
// store. One platform's failure never aborts its siblings.
type Orchestrator struct {
	mu        sync.RWMutex
	platforms map[string]*platform

	kv      store.KV
	timeout time.Duration
	logger  zerolog.Logger
}

// NewOrchestrator constructs an empty orchestrator.
func NewOrchestrator(kv store.KV, requestTimeout time.Duration, logger zerolog.Logger) *Orchestrator {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &Orchestrator{
		platforms: make(map[string]*platform),
		kv:        kv,
		timeout:   requestTimeout,
		logger:    logger.With().Str("component", "scraping").Logger(),
	}
}

// Register adds a named platform adapter.
func (o *Orchestrator) Register(name string, adapter PlatformAdapter, opts PlatformOptions) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.platforms[name] = &platform{
		name:    name,
		adapter: adapter,
		limiter: newRateLimiter(opts.MinInterval),
		enabled: opts.Enabled,
	}
}

// SetEnabled flips a platform's enabled state.
func (o *Orchestrator) SetEnabled(name string, enabled bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.platforms[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlatform, name)
	}
	p.enabled = enabled
	return nil
}

// Platforms lists registered platform names, enabled first by name.
func (o *Orchestrator) Platforms() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := make([]string, 0, len(o.platforms))
	for name := range o.platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (o *Orchestrator) enabledPlatforms() []*platform {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*platform, 0, len(o.platforms))
	for _, p := range o.platforms {
		if p.enabled {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// ScrapeAllPlatforms fans the criteria out to every enabled platform in
// parallel. Each worker honours its platform's rate limiter and the
// per-adapter timeout; failures are recorded per platform.
func (o *Orchestrator) ScrapeAllPlatforms(ctx context.Context, criteria Criteria) Report {
	started := time.Now().UTC()
	targets := o.enabledPlatforms()

	results := make(map[string]PlatformResult, len(targets))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, target := range targets {
		wg.Add(1)
		go func(p *platform) {
			defer wg.Done()
			result := o.scrapeOne(ctx, p, criteria)
			mu.Lock()
			results[p.name] = result
			mu.Unlock()
		}(target)
	}
	wg.Wait()

	report := Report{
		Summary: Summary{
			PlatformsAttempted: len(targets),
			StartedAt:          started,
			Duration:           time.Since(started),
		},
		Results: results,
	}
	for name, result := range results {
		if result.Status == "success" {
			report.Summary.PlatformsSucceeded++
			report.Summary.TotalListings += result.Count
		} else {
			report.Summary.PlatformsFailed++
			report.Errors = append(report.Errors, PlatformError{Platform: name, Message: result.Error})
		}
	}
	sort.Slice(report.Errors, func(i, j int) bool { return report.Errors[i].Platform < report.Errors[j].Platform })

	o.logger.Info().
		Int("attempted", report.Summary.PlatformsAttempted).
		Int("succeeded", report.Summary.PlatformsSucceeded).
		Int("listings", report.Summary.TotalListings).
		Dur("duration", report.Summary.Duration).
		Msg("scrape fan-out completed")

	return report
}

// ScrapePlatform performs the single-platform path.
func (o *Orchestrator) ScrapePlatform(ctx context.Context, name string, criteria Criteria) (PlatformResult, error) {
	o.mu.RLock()
	p, ok := o.platforms[name]
	o.mu.RUnlock()
	if !ok || !p.enabled {
		return PlatformResult{}, fmt.Errorf("%w: %s", ErrUnknownPlatform, name)
	}
	result := o.scrapeOne(ctx, p, criteria)
	return result, nil
}

func (o *Orchestrator) scrapeOne(ctx context.Context, p *platform, criteria Criteria) PlatformResult {
	if err := p.limiter.Wait(ctx); err != nil {
		result := PlatformResult{Status: "failed", Error: fmt.Sprintf("rate limit wait: %v", err)}
		o.recordMetrics(ctx, p.name, result)
		return result
	}

	scrapeCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	began := time.Now()
	resp, err := p.adapter.Scrape(scrapeCtx, criteria)
	latency := time.Since(began)

	var result PlatformResult
	if err != nil {
		result = PlatformResult{Status: "failed", Latency: latency, Error: err.Error()}
		o.logger.Warn().Err(err).Str("platform", p.name).Dur("latency", latency).Msg("platform scrape failed")
	} else {
		result = PlatformResult{
			Status:    "success",
			Count:     len(resp.Listings),
			Listings:  resp.Listings,
			Latency:   latency,
			UserAgent: resp.UserAgent,
			ProxyUsed: resp.ProxyUsed,
		}
	}

	o.recordMetrics(ctx, p.name, result)
	return result
}

func (o *Orchestrator) recordMetrics(ctx context.Context, name string, result PlatformResult) {
	if o.kv == nil {
		return
	}
	key := metricsPrefix + name

	total, err := o.kv.HIncrBy(ctx, key, "total_scrapes", 1)
	if err != nil {
		o.logger.Warn().Err(err).Str("platform", name).Msg("metrics update failed")
		return
	}
	var success, listings int64
	if result.Status == "success" {
		if success, err = o.kv.HIncrBy(ctx, key, "successful_scrapes", 1); err != nil {
			o.logger.Warn().Err(err).Str("platform", name).Msg("metrics update failed")
			return
		}
		if listings, err = o.kv.HIncrBy(ctx, key, "total_listings", int64(result.Count)); err != nil {
			o.logger.Warn().Err(err).Str("platform", name).Msg("metrics update failed")
			return
		}
	} else {
		if v, _, err := o.kv.HGet(ctx, key, "successful_scrapes"); err == nil && v != "" {
			success, _ = strconv.ParseInt(v, 10, 64)
		}
		if v, _, err := o.kv.HGet(ctx, key, "total_listings"); err == nil && v != "" {
			listings, _ = strconv.ParseInt(v, 10, 64)
		}
	}

	derived := map[string]string{
		"success_rate": "0",
		"avg_listings": "0",
	}
	if total > 0 {
		derived["success_rate"] = strconv.FormatFloat(float64(success)/float64(total), 'f', 4, 64)
	}
	if success > 0 {
		derived["avg_listings"] = strconv.FormatFloat(float64(listings)/float64(success), 'f', 2, 64)
	}
	if err := o.kv.HSet(ctx, key, derived); err != nil {
		o.logger.Warn().Err(err).Str("platform", name).Msg("metrics update failed")
	}
}

// Metrics loads the persisted running metrics for one platform.
func (o *Orchestrator) Metrics(ctx context.Context, name string) (PlatformMetrics, error) {
	if o.kv == nil {
		return PlatformMetrics{}, store.ErrNotConfigured
	}
	fields, err := o.kv.HGetAll(ctx, metricsPrefix+name)
	if err != nil {
		return PlatformMetrics{}, err
	}
	m := PlatformMetrics{Platform: name}
	m.TotalScrapes, _ = strconv.ParseInt(fields["total_scrapes"], 10, 64)
	m.SuccessfulScrapes, _ = strconv.ParseInt(fields["successful_scrapes"], 10, 64)
	m.TotalListings, _ = strconv.ParseInt(fields["total_listings"], 10, 64)
	m.SuccessRate, _ = strconv.ParseFloat(fields["success_rate"], 64)
	m.AvgListings, _ = strconv.ParseFloat(fields["avg_listings"], 64)
	return m, nil
}

// GetHealth classifies scraping health from the persisted platform metrics.
func (o *Orchestrator) GetHealth(ctx context.Context) (Health, error) {
	names := o.Platforms()
	health := Health{TotalPlatforms: len(names)}
	for _, name := range names {
		m, err := o.Metrics(ctx, name)
		if err != nil {
			return Health{}, err
		}
		if m.Healthy() {
			health.HealthyPlatforms++
		}
		health.Platforms = append(health.Platforms, m)
	}

	switch {
	case health.TotalPlatforms == 0:
		health.Status = "critical"
	default:
		fraction := float64(health.HealthyPlatforms) / float64(health.TotalPlatforms)
		switch {
		case fraction > 0.8:
			health.Status = "healthy"
		case fraction > 0.5:
			health.Status = "warning"
		default:
			health.Status = "critical"
		}
	}
	return health, nil
}
