package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"seatwatch/internal/effects"
	"seatwatch/internal/notify"
	"seatwatch/internal/scraping"
	"seatwatch/internal/store"
)

const (
	monitoringPrefix = "monitoring:"
	alertPrefix      = "alerts:"
	activeTicketsKey = monitoringPrefix + "active_tickets"
)

var (
	// ErrNotMonitored is returned when checking a ticket without a record.
	ErrNotMonitored = errors.New("monitor: ticket is not being monitored")
	// ErrUnknownCondition is returned for unsupported alert conditions.
	ErrUnknownCondition = errors.New("monitor: unknown alert condition")
)

// Options tune the monitoring engine.
type Options struct {
	RecordTTL      time.Duration
	HistoryLimit   int
	HealthWindow   time.Duration
	ActivityWindow time.Duration
}

// Engine owns the set of actively monitored tickets, maintains bounded
// availability and price histories, and fires threshold-based alerts.
type Engine struct {
	kv      store.KV
	scraper *scraping.Orchestrator
	effects *effects.Executor
	opts    Options
	logger  zerolog.Logger
	now     func() time.Time
}

// NewEngine constructs the monitoring engine.
func NewEngine(kv store.KV, scraper *scraping.Orchestrator, executor *effects.Executor, opts Options, logger zerolog.Logger) *Engine {
	if opts.RecordTTL <= 0 {
		opts.RecordTTL = 30 * 24 * time.Hour
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 100
	}
	if opts.HealthWindow <= 0 {
		opts.HealthWindow = 2 * time.Hour
	}
	if opts.ActivityWindow <= 0 {
		opts.ActivityWindow = time.Hour
	}
	if executor == nil {
		executor = effects.NewExecutor(nil, nil, logger)
	}
	return &Engine{
		kv:      kv,
		scraper: scraper,
		effects: executor,
		opts:    opts,
		logger:  logger.With().Str("component", "monitor").Logger(),
		now:     time.Now,
	}
}

func monitoringKey(ticketID string) string { return monitoringPrefix + ticketID }

func alertRuleKey(ticketID, condition string) string {
	return alertPrefix + "rule:" + ticketID + ":" + condition
}

func ticketAlertsKey(ticketID string) string { return alertPrefix + "ticket:" + ticketID }

// StartMonitoring creates an active monitoring record for a ticket,
// overwriting any prior state under the same key.
func (e *Engine) StartMonitoring(ctx context.Context, ticketID string, criteria scraping.Criteria) error {
	criteriaJSON, err := json.Marshal(criteria)
	if err != nil {
		return fmt.Errorf("marshal criteria: %w", err)
	}

	key := monitoringKey(ticketID)
	record := map[string]string{
		"ticket_id":            ticketID,
		"criteria":             string(criteriaJSON),
		"started_at":           e.now().UTC().Format(time.RFC3339),
		"status":               "active",
		"last_check":           "",
		"alert_count":          "0",
		"availability_history": "[]",
		"price_history":        "[]",
	}
	if err := e.kv.HSet(ctx, key, record); err != nil {
		return fmt.Errorf("persist monitoring record: %w", err)
	}
	if err := e.kv.Expire(ctx, key, e.opts.RecordTTL); err != nil {
		return fmt.Errorf("set monitoring ttl: %w", err)
	}
	if err := e.kv.SAdd(ctx, activeTicketsKey, ticketID); err != nil {
		return fmt.Errorf("index active ticket: %w", err)
	}

	e.logger.Info().Str("ticket_id", ticketID).Msg("monitoring started")
	e.effects.Dispatch(ctx, []effects.Effect{effects.TrackEventEffect{
		Name:       "ticket_monitoring_started",
		Properties: map[string]any{"ticket_id": ticketID},
	}})
	return nil
}

// StopMonitoring marks the record stopped and removes it from the active set.
func (e *Engine) StopMonitoring(ctx context.Context, ticketID string) error {
	key := monitoringKey(ticketID)
	update := map[string]string{
		"status":     "stopped",
		"stopped_at": e.now().UTC().Format(time.RFC3339),
	}
	if err := e.kv.HSet(ctx, key, update); err != nil {
		return fmt.Errorf("update monitoring record: %w", err)
	}
	if err := e.kv.SRem(ctx, activeTicketsKey, ticketID); err != nil {
		return fmt.Errorf("deindex active ticket: %w", err)
	}

	e.logger.Info().Str("ticket_id", ticketID).Msg("monitoring stopped")
	e.effects.Dispatch(ctx, []effects.Effect{effects.TrackEventEffect{
		Name:       "ticket_monitoring_stopped",
		Properties: map[string]any{"ticket_id": ticketID},
	}})
	return nil
}

// CheckTicketAvailability runs one monitoring tick for a ticket: scrape,
// derive a snapshot, append history, evaluate alert rules.
func (e *Engine) CheckTicketAvailability(ctx context.Context, ticketID string) (Snapshot, error) {
	key := monitoringKey(ticketID)
	record, err := e.kv.HGetAll(ctx, key)
	if err != nil {
		return Snapshot{}, err
	}
	if len(record) == 0 {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotMonitored, ticketID)
	}

	var criteria scraping.Criteria
	if raw := record["criteria"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &criteria); err != nil {
			return Snapshot{}, fmt.Errorf("decode criteria: %w", err)
		}
	}

	report := e.scraper.ScrapeAllPlatforms(ctx, criteria)
	snapshot := e.deriveSnapshot(ticketID, report)

	if err := e.kv.HSet(ctx, key, map[string]string{
		"last_check": snapshot.CheckedAt.Format(time.RFC3339),
	}); err != nil {
		return Snapshot{}, fmt.Errorf("update last check: %w", err)
	}
	if err := e.appendHistory(ctx, ticketID, snapshot); err != nil {
		return Snapshot{}, err
	}

	effs := e.evaluateAlertRules(ctx, ticketID, snapshot)
	e.effects.Dispatch(ctx, effs)

	return snapshot, nil
}

// CheckAllTickets sweeps the active set, continuing past per-ticket errors.
func (e *Engine) CheckAllTickets(ctx context.Context) (map[string]CheckOutcome, error) {
	ticketIDs, err := e.kv.SMembers(ctx, activeTicketsKey)
	if err != nil {
		return nil, err
	}
	sort.Strings(ticketIDs)

	results := make(map[string]CheckOutcome, len(ticketIDs))
	successful := 0
	for _, ticketID := range ticketIDs {
		snapshot, err := e.CheckTicketAvailability(ctx, ticketID)
		if err != nil {
			e.logger.Error().Err(err).Str("ticket_id", ticketID).Msg("ticket check failed")
			results[ticketID] = CheckOutcome{Err: err.Error()}
			continue
		}
		successful++
		results[ticketID] = CheckOutcome{Snapshot: snapshot}
	}

	e.effects.Dispatch(ctx, []effects.Effect{effects.TrackEventEffect{
		Name: "monitoring_check_completed",
		Properties: map[string]any{
			"total_tickets":     len(ticketIDs),
			"successful_checks": successful,
		},
	}})
	return results, nil
}

// SetAlertRule creates or replaces the (ticket, condition) alert rule.
func (e *Engine) SetAlertRule(ctx context.Context, ticketID, condition, value string, channels []string) error {
	if err := validateCondition(condition, value); err != nil {
		return err
	}
	if len(channels) == 0 {
		channels = []string{"email"}
	}
	channelsJSON, err := json.Marshal(channels)
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}

	ruleKey := alertRuleKey(ticketID, condition)
	rule := map[string]string{
		"ticket_id":       ticketID,
		"condition":       condition,
		"value":           value,
		"channels":        string(channelsJSON),
		"created_at":      e.now().UTC().Format(time.RFC3339),
		"triggered_count": "0",
		"last_triggered":  "",
	}
	if err := e.kv.HSet(ctx, ruleKey, rule); err != nil {
		return fmt.Errorf("persist alert rule: %w", err)
	}
	if err := e.kv.Expire(ctx, ruleKey, e.opts.RecordTTL); err != nil {
		return fmt.Errorf("set alert rule ttl: %w", err)
	}
	if err := e.kv.SAdd(ctx, ticketAlertsKey(ticketID), ruleKey); err != nil {
		return fmt.Errorf("index alert rule: %w", err)
	}

	e.logger.Info().
		Str("ticket_id", ticketID).
		Str("condition", condition).
		Str("value", value).
		Msg("alert rule set")
	return nil
}

// RemoveAlertRule deletes the (ticket, condition) alert rule.
func (e *Engine) RemoveAlertRule(ctx context.Context, ticketID, condition string) error {
	ruleKey := alertRuleKey(ticketID, condition)
	if err := e.kv.Del(ctx, ruleKey); err != nil {
		return fmt.Errorf("delete alert rule: %w", err)
	}
	if err := e.kv.SRem(ctx, ticketAlertsKey(ticketID), ruleKey); err != nil {
		return fmt.Errorf("deindex alert rule: %w", err)
	}
	return nil
}

// GetMonitoringStatus loads the full monitoring state of one ticket.
func (e *Engine) GetMonitoringStatus(ctx context.Context, ticketID string) (Status, error) {
	record, err := e.kv.HGetAll(ctx, monitoringKey(ticketID))
	if err != nil {
		return Status{}, err
	}
	if len(record) == 0 {
		return Status{TicketID: ticketID, Status: "not_monitored"}, nil
	}

	status := Status{
		TicketID:   ticketID,
		Status:     record["status"],
		AlertCount: parseInt(record["alert_count"]),
	}
	if raw := record["criteria"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &status.Criteria)
	}
	status.StartedAt = parseTime(record["started_at"])
	status.LastCheck = parseTime(record["last_check"])
	if raw := record["availability_history"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &status.AvailabilityHistory)
	}
	if raw := record["price_history"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &status.PriceHistory)
	}

	rules, err := e.ticketAlertRules(ctx, ticketID)
	if err != nil {
		return Status{}, err
	}
	status.AlertRules = rules
	return status, nil
}

// GetMonitoredTickets lists every active ticket's status.
func (e *Engine) GetMonitoredTickets(ctx context.Context) ([]Status, error) {
	ticketIDs, err := e.kv.SMembers(ctx, activeTicketsKey)
	if err != nil {
		return nil, err
	}
	sort.Strings(ticketIDs)

	statuses := make([]Status, 0, len(ticketIDs))
	for _, ticketID := range ticketIDs {
		status, err := e.GetMonitoringStatus(ctx, ticketID)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// GetStatistics aggregates monitoring activity and health.
func (e *Engine) GetStatistics(ctx context.Context) (Statistics, error) {
	ticketIDs, err := e.kv.SMembers(ctx, activeTicketsKey)
	if err != nil {
		return Statistics{}, err
	}

	now := e.now().UTC()
	stats := Statistics{
		TotalMonitored: len(ticketIDs),
		Timestamp:      now,
	}
	healthy := 0
	for _, ticketID := range ticketIDs {
		record, err := e.kv.HGetAll(ctx, monitoringKey(ticketID))
		if err != nil {
			return Statistics{}, err
		}
		stats.TotalAlertsSent += parseInt(record["alert_count"])
		lastCheck := parseTime(record["last_check"])
		if lastCheck == nil {
			continue
		}
		if lastCheck.After(now.Add(-e.opts.ActivityWindow)) {
			stats.RecentActivity++
		}
		if lastCheck.After(now.Add(-e.opts.HealthWindow)) {
			healthy++
		}
	}

	stats.Health = classifyHealth(healthy, len(ticketIDs))
	return stats, nil
}

// GetHealth reports monitoring health as the fraction of active tickets
// checked within the health window.
func (e *Engine) GetHealth(ctx context.Context) (string, error) {
	stats, err := e.GetStatistics(ctx)
	if err != nil {
		return "", err
	}
	return stats.Health, nil
}

func classifyHealth(healthy, total int) string {
	if total == 0 {
		return "no_monitoring"
	}
	fraction := float64(healthy) / float64(total)
	switch {
	case fraction > 0.8:
		return "healthy"
	case fraction > 0.5:
		return "warning"
	default:
		return "critical"
	}
}

func (e *Engine) deriveSnapshot(ticketID string, report scraping.Report) Snapshot {
	snapshot := Snapshot{
		TicketID:      ticketID,
		CheckedAt:     e.now().UTC(),
		ScrapeSummary: report.Summary,
	}

	platforms := make([]string, 0, len(report.Results))
	for name, result := range report.Results {
		if result.Status != "success" || result.Count == 0 {
			continue
		}
		snapshot.TotalAvailable += result.Count
		platforms = append(platforms, name)

		for _, listing := range result.Listings {
			if listing.Price == nil || listing.Price.Sign() <= 0 {
				continue
			}
			currency := listing.Currency
			if currency == "" {
				currency = "USD"
			}
			snapshot.Prices = append(snapshot.Prices, PriceInfo{
				Platform: name,
				Price:    *listing.Price,
				Currency: currency,
			})
			if snapshot.BestPrice == nil || listing.Price.LessThan(*snapshot.BestPrice) {
				price := *listing.Price
				snapshot.BestPrice = &price
			}
		}
	}
	sort.Strings(platforms)
	snapshot.AvailablePlatforms = platforms
	snapshot.PlatformCount = len(platforms)
	snapshot.IsAvailable = snapshot.TotalAvailable > 0
	return snapshot
}

// appendHistory appends one availability point (and a price point when a
// best price exists) under a per-key lock, truncating to the history limit.
func (e *Engine) appendHistory(ctx context.Context, ticketID string, snapshot Snapshot) error {
	key := monitoringKey(ticketID)
	release, err := e.kv.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("lock monitoring record: %w", err)
	}
	defer release()

	raw, _, err := e.kv.HGet(ctx, key, "availability_history")
	if err != nil {
		return err
	}
	var history []AvailabilityPoint
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &history); err != nil {
			return fmt.Errorf("decode availability history: %w", err)
		}
	}
	history = append(history, AvailabilityPoint{
		Timestamp:     snapshot.CheckedAt,
		Available:     snapshot.IsAvailable,
		Count:         snapshot.TotalAvailable,
		BestPrice:     snapshot.BestPrice,
		PlatformCount: snapshot.PlatformCount,
	})
	history = truncateAvailability(history, e.opts.HistoryLimit)

	encoded, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode availability history: %w", err)
	}
	if err := e.kv.HSet(ctx, key, map[string]string{"availability_history": string(encoded)}); err != nil {
		return err
	}

	if snapshot.BestPrice == nil {
		return nil
	}

	rawPrices, _, err := e.kv.HGet(ctx, key, "price_history")
	if err != nil {
		return err
	}
	var prices []PricePoint
	if rawPrices != "" {
		if err := json.Unmarshal([]byte(rawPrices), &prices); err != nil {
			return fmt.Errorf("decode price history: %w", err)
		}
	}
	prices = append(prices, PricePoint{Timestamp: snapshot.CheckedAt, Price: *snapshot.BestPrice})
	prices = truncatePrices(prices, e.opts.HistoryLimit)

	encodedPrices, err := json.Marshal(prices)
	if err != nil {
		return fmt.Errorf("encode price history: %w", err)
	}
	return e.kv.HSet(ctx, key, map[string]string{"price_history": string(encodedPrices)})
}

func truncateAvailability(history []AvailabilityPoint, limit int) []AvailabilityPoint {
	if len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}

func truncatePrices(history []PricePoint, limit int) []PricePoint {
	if len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}

// evaluateAlertRules checks every rule attached to the ticket against the
// snapshot. A firing rule's state updates happen before delivery effects are
// returned; delivery failures never roll back rule state.
func (e *Engine) evaluateAlertRules(ctx context.Context, ticketID string, snapshot Snapshot) []effects.Effect {
	rules, err := e.ticketAlertRules(ctx, ticketID)
	if err != nil {
		e.logger.Error().Err(err).Str("ticket_id", ticketID).Msg("load alert rules failed")
		return nil
	}

	var effs []effects.Effect
	for _, rule := range rules {
		fired, message := evaluateRule(rule, snapshot)
		if !fired {
			continue
		}
		if err := e.markRuleTriggered(ctx, ticketID, rule.Condition); err != nil {
			e.logger.Error().Err(err).
				Str("ticket_id", ticketID).
				Str("condition", rule.Condition).
				Msg("alert rule state update failed")
			continue
		}
		e.logger.Info().
			Str("ticket_id", ticketID).
			Str("condition", rule.Condition).
			Msg("alert rule fired")
		effs = append(effs, effects.TicketAlertEffect{
			Alert: notify.TicketAlert{
				TicketID:  ticketID,
				Condition: rule.Condition,
				Message:   message,
				Channels:  rule.Channels,
			},
			Priority: "high",
		})
	}
	return effs
}

func (e *Engine) markRuleTriggered(ctx context.Context, ticketID, condition string) error {
	ruleKey := alertRuleKey(ticketID, condition)
	if _, err := e.kv.HIncrBy(ctx, ruleKey, "triggered_count", 1); err != nil {
		return err
	}
	if err := e.kv.HSet(ctx, ruleKey, map[string]string{
		"last_triggered": e.now().UTC().Format(time.RFC3339),
	}); err != nil {
		return err
	}
	_, err := e.kv.HIncrBy(ctx, monitoringKey(ticketID), "alert_count", 1)
	return err
}

func evaluateRule(rule AlertRule, snapshot Snapshot) (bool, string) {
	switch rule.Condition {
	case ConditionAvailable:
		threshold := 1
		if rule.Value != "" {
			if parsed, err := strconv.Atoi(rule.Value); err == nil {
				threshold = parsed
			}
		}
		if snapshot.IsAvailable && snapshot.TotalAvailable >= threshold {
			return true, fmt.Sprintf("Tickets now available! Found %d tickets.", snapshot.TotalAvailable)
		}
	case ConditionPriceBelow:
		if snapshot.BestPrice == nil {
			return false, ""
		}
		threshold, err := decimal.NewFromString(rule.Value)
		if err != nil {
			return false, ""
		}
		if snapshot.BestPrice.LessThanOrEqual(threshold) {
			return true, fmt.Sprintf("Price alert! Best price is now %s (below your target of %s)",
				snapshot.BestPrice.StringFixed(2), threshold.StringFixed(2))
		}
	case ConditionPriceAbove:
		if snapshot.BestPrice == nil {
			return false, ""
		}
		threshold, err := decimal.NewFromString(rule.Value)
		if err != nil {
			return false, ""
		}
		if snapshot.BestPrice.GreaterThanOrEqual(threshold) {
			return true, fmt.Sprintf("Price alert! Best price is now %s (above your threshold of %s)",
				snapshot.BestPrice.StringFixed(2), threshold.StringFixed(2))
		}
	}
	return false, ""
}

func (e *Engine) ticketAlertRules(ctx context.Context, ticketID string) ([]AlertRule, error) {
	ruleKeys, err := e.kv.SMembers(ctx, ticketAlertsKey(ticketID))
	if err != nil {
		return nil, err
	}
	sort.Strings(ruleKeys)

	rules := make([]AlertRule, 0, len(ruleKeys))
	for _, ruleKey := range ruleKeys {
		fields, err := e.kv.HGetAll(ctx, ruleKey)
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			continue
		}
		rule := AlertRule{
			TicketID:       fields["ticket_id"],
			Condition:      fields["condition"],
			Value:          fields["value"],
			TriggeredCount: parseInt(fields["triggered_count"]),
			LastTriggered:  parseTime(fields["last_triggered"]),
		}
		if created := parseTime(fields["created_at"]); created != nil {
			rule.CreatedAt = *created
		}
		if raw := fields["channels"]; raw != "" {
			_ = json.Unmarshal([]byte(raw), &rule.Channels)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func validateCondition(condition, value string) error {
	switch condition {
	case ConditionAvailable:
		if value != "" {
			if _, err := strconv.Atoi(value); err != nil {
				return fmt.Errorf("parse available threshold: %w", err)
			}
		}
		return nil
	case ConditionPriceBelow, ConditionPriceAbove:
		if _, err := decimal.NewFromString(value); err != nil {
			return fmt.Errorf("parse price threshold: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCondition, condition)
	}
}

func parseInt(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
