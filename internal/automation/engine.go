package automation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"seatwatch/internal/crypto"
	"seatwatch/internal/effects"
	"seatwatch/internal/monitor"
	"seatwatch/internal/scraping"
	"seatwatch/internal/store"
)

const (
	automationPrefix = "automation:"
	queuePrefix      = "purchase_queue:"
	decisionPrefix   = "purchase_decisions:"

	allRulesKey     = automationPrefix + "rules"
	pendingQueueKey = queuePrefix + "pending"
)

var (
	// ErrRuleNotFound is returned when addressing a missing purchase rule.
	ErrRuleNotFound = errors.New("automation: purchase rule not found")
	// ErrPurchaseNotFound is returned when addressing a missing purchase.
	ErrPurchaseNotFound = errors.New("automation: purchase not found")
	// ErrUnknownCondition is returned for unsupported rule condition keys.
	ErrUnknownCondition = errors.New("automation: unknown rule condition")
)

// Options tune the automation engine.
type Options struct {
	RuleTTL             time.Duration
	DecisionTTL         time.Duration
	QueueTTL            time.Duration
	PurchaseTTL         time.Duration
	ConfidenceThreshold float64
	DefaultMaxAttempts  int
}

// Engine owns purchase rules, the purchase decision pipeline and the
// retryable purchase queue. The store is authoritative; the in-memory rule
// mirror is a write-through convenience rehydrated at startup.
type Engine struct {
	kv         store.KV
	enc        crypto.Encryptor
	chain      *Chain
	strategies *StrategyRegistry
	effects    *effects.Executor
	opts       Options
	logger     zerolog.Logger
	now        func() time.Time
	newID      func() string

	mu    sync.RWMutex
	rules map[string]PurchaseRule
}

// NewEngine constructs the automation engine. The strategy registry must
// already hold a default strategy.
func NewEngine(kv store.KV, enc crypto.Encryptor, chain *Chain, strategies *StrategyRegistry, executor *effects.Executor, opts Options, logger zerolog.Logger) (*Engine, error) {
	if err := strategies.Validate(); err != nil {
		return nil, err
	}
	if enc == nil {
		enc = crypto.Plaintext{}
	}
	if chain == nil {
		chain = NewDefaultChain()
	}
	if executor == nil {
		executor = effects.NewExecutor(nil, nil, logger)
	}
	if opts.RuleTTL <= 0 {
		opts.RuleTTL = 90 * 24 * time.Hour
	}
	if opts.DecisionTTL <= 0 {
		opts.DecisionTTL = 7 * 24 * time.Hour
	}
	if opts.QueueTTL <= 0 {
		opts.QueueTTL = 24 * time.Hour
	}
	if opts.PurchaseTTL <= 0 {
		opts.PurchaseTTL = 30 * 24 * time.Hour
	}
	if opts.ConfidenceThreshold <= 0 {
		opts.ConfidenceThreshold = 0.7
	}
	if opts.DefaultMaxAttempts <= 0 {
		opts.DefaultMaxAttempts = 3
	}
	return &Engine{
		kv:         kv,
		enc:        enc,
		chain:      chain,
		strategies: strategies,
		effects:    executor,
		opts:       opts,
		logger:     logger.With().Str("component", "automation").Logger(),
		now:        time.Now,
		newID:      uuid.NewString,
		rules:      make(map[string]PurchaseRule),
	}, nil
}

func ruleKey(ruleID string) string { return automationPrefix + "rule:" + ruleID }

func userRulesKey(userID string) string { return automationPrefix + "user:" + userID }

func purchaseKey(purchaseID string) string { return queuePrefix + "purchase:" + purchaseID }

// LoadState rehydrates the active-rule mirror from the store.
func (e *Engine) LoadState(ctx context.Context) error {
	ruleIDs, err := e.kv.SMembers(ctx, allRulesKey)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}

	loaded := make(map[string]PurchaseRule, len(ruleIDs))
	for _, ruleID := range ruleIDs {
		fields, err := e.kv.HGetAll(ctx, ruleKey(ruleID))
		if err != nil {
			return fmt.Errorf("load rule %s: %w", ruleID, err)
		}
		if len(fields) == 0 {
			continue
		}
		rule, err := e.decodeRule(fields)
		if err != nil {
			e.logger.Warn().Err(err).Str("rule_id", ruleID).Msg("skipping undecodable rule")
			continue
		}
		if rule.Status == RuleActive {
			loaded[rule.RuleID] = rule
		}
	}

	e.mu.Lock()
	e.rules = loaded
	e.mu.Unlock()

	e.logger.Info().Int("active_rules", len(loaded)).Msg("automation state loaded")
	return nil
}

// CreatePurchaseRule validates and persists an encrypted rule, indexes it by
// owning user, and mirrors it in memory.
func (e *Engine) CreatePurchaseRule(ctx context.Context, userID string, criteria scraping.Criteria, conditions map[string]any, prefs Preferences) (string, error) {
	if userID == "" {
		return "", errors.New("automation: user id is empty")
	}
	if err := validateConditions(conditions); err != nil {
		return "", err
	}

	rule := PurchaseRule{
		RuleID:      "rule_" + e.newID(),
		UserID:      userID,
		Criteria:    criteria,
		Conditions:  conditions,
		Preferences: prefs,
		Status:      RuleActive,
		CreatedAt:   e.now().UTC(),
	}
	if err := e.persistRule(ctx, rule); err != nil {
		return "", err
	}
	if err := e.kv.Expire(ctx, ruleKey(rule.RuleID), e.opts.RuleTTL); err != nil {
		return "", fmt.Errorf("set rule ttl: %w", err)
	}
	if err := e.kv.SAdd(ctx, allRulesKey, rule.RuleID); err != nil {
		return "", fmt.Errorf("index rule: %w", err)
	}
	if err := e.kv.SAdd(ctx, userRulesKey(userID), rule.RuleID); err != nil {
		return "", fmt.Errorf("index user rule: %w", err)
	}

	e.mu.Lock()
	e.rules[rule.RuleID] = rule
	e.mu.Unlock()

	e.logger.Info().Str("rule_id", rule.RuleID).Str("user_id", userID).Msg("purchase rule created")
	e.effects.Dispatch(ctx, []effects.Effect{effects.TrackEventEffect{
		Name: "purchase_rule_created",
		Properties: map[string]any{
			"rule_id": rule.RuleID,
			"user_id": userID,
		},
	}})
	return rule.RuleID, nil
}

// UpdatePurchaseRule merges a patch into a stored rule.
func (e *Engine) UpdatePurchaseRule(ctx context.Context, ruleID string, patch RulePatch) error {
	fields, err := e.kv.HGetAll(ctx, ruleKey(ruleID))
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
	}
	rule, err := e.decodeRule(fields)
	if err != nil {
		return err
	}

	if patch.Criteria != nil {
		rule.Criteria = patch.Criteria
	}
	if patch.Conditions != nil {
		if err := validateConditions(patch.Conditions); err != nil {
			return err
		}
		rule.Conditions = patch.Conditions
	}
	if patch.Preferences != nil {
		rule.Preferences = *patch.Preferences
	}
	if patch.Status != "" {
		rule.Status = patch.Status
	}
	updated := e.now().UTC()
	rule.UpdatedAt = &updated

	if err := e.persistRule(ctx, rule); err != nil {
		return err
	}

	e.mu.Lock()
	if rule.Status == RuleActive {
		e.rules[rule.RuleID] = rule
	} else {
		delete(e.rules, rule.RuleID)
	}
	e.mu.Unlock()

	e.logger.Info().Str("rule_id", ruleID).Str("status", rule.Status).Msg("purchase rule updated")
	return nil
}

// DeactivatePurchaseRule marks a rule inactive.
func (e *Engine) DeactivatePurchaseRule(ctx context.Context, ruleID string) error {
	return e.UpdatePurchaseRule(ctx, ruleID, RulePatch{Status: RuleInactive})
}

// GetUserPurchaseRules lists a user's rules, decrypted.
func (e *Engine) GetUserPurchaseRules(ctx context.Context, userID string) ([]PurchaseRule, error) {
	ruleIDs, err := e.kv.SMembers(ctx, userRulesKey(userID))
	if err != nil {
		return nil, err
	}
	sort.Strings(ruleIDs)

	rules := make([]PurchaseRule, 0, len(ruleIDs))
	for _, ruleID := range ruleIDs {
		fields, err := e.kv.HGetAll(ctx, ruleKey(ruleID))
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			continue
		}
		rule, err := e.decodeRule(fields)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// CheckAutomationTriggers evaluates every active rule against an
// availability snapshot. Qualifying rules run the purchase decision; per-rule
// failures are reported in the result, never aborting the sweep.
func (e *Engine) CheckAutomationTriggers(ctx context.Context, ticketID string, snapshot monitor.Snapshot) []TriggerResult {
	e.mu.RLock()
	active := make([]PurchaseRule, 0, len(e.rules))
	for _, rule := range e.rules {
		if rule.Status == RuleActive {
			active = append(active, rule)
		}
	}
	e.mu.RUnlock()
	sort.Slice(active, func(i, j int) bool { return active[i].RuleID < active[j].RuleID })

	var triggered []TriggerResult
	for _, rule := range active {
		if !evaluateRuleConditions(rule.Conditions, snapshot) {
			continue
		}
		triggered = append(triggered, e.triggerRule(ctx, rule, ticketID, snapshot))
	}
	return triggered
}

func (e *Engine) triggerRule(ctx context.Context, rule PurchaseRule, ticketID string, snapshot monitor.Snapshot) TriggerResult {
	result := TriggerResult{RuleID: rule.RuleID, TicketID: ticketID}

	decision, err := e.ProcessPurchaseDecision(ctx, ticketID, snapshot, rule.Preferences)
	if err != nil {
		e.logger.Error().Err(err).Str("rule_id", rule.RuleID).Msg("rule trigger failed")
		result.Err = err.Error()
		return result
	}
	if err := e.updateRuleStats(ctx, rule.RuleID, decision.Decision); err != nil {
		e.logger.Error().Err(err).Str("rule_id", rule.RuleID).Msg("rule stats update failed")
	}

	result.Triggered = true
	result.Decision = &decision
	return result
}

// ProcessPurchaseDecision runs the decision chain, persists the decision,
// and executes the purchase when the action is a sufficiently confident
// purchase.
func (e *Engine) ProcessPurchaseDecision(ctx context.Context, ticketID string, snapshot monitor.Snapshot, prefs Preferences) (DecisionResult, error) {
	decision := e.chain.Decide(DecisionInput{
		TicketID:    ticketID,
		Snapshot:    snapshot,
		Preferences: prefs,
	})

	now := e.now().UTC()
	decisionKey := decisionPrefix + ticketID + ":" + strconv.FormatInt(now.Unix(), 10)
	record := map[string]string{
		"ticket_id":  ticketID,
		"action":     decision.Action,
		"confidence": strconv.FormatFloat(decision.Confidence, 'f', -1, 64),
		"reason":     decision.Reason,
		"timestamp":  now.Format(time.RFC3339),
	}
	if err := e.kv.HSet(ctx, decisionKey, record); err != nil {
		return DecisionResult{}, fmt.Errorf("persist decision: %w", err)
	}
	if err := e.kv.Expire(ctx, decisionKey, e.opts.DecisionTTL); err != nil {
		return DecisionResult{}, fmt.Errorf("set decision ttl: %w", err)
	}

	e.logger.Info().
		Str("ticket_id", ticketID).
		Str("action", decision.Action).
		Float64("confidence", decision.Confidence).
		Msg("purchase decision")

	if decision.Action != ActionPurchase || decision.Confidence < e.opts.ConfidenceThreshold {
		return DecisionResult{Decision: decision}, nil
	}

	outcome, err := e.ExecutePurchase(ctx, ticketID, decision, prefs)
	if err != nil {
		return DecisionResult{}, err
	}
	return DecisionResult{Decision: decision, Executed: true, Purchase: &outcome}, nil
}

// ExecutePurchase queues a pending purchase request and persists its
// encrypted record. Immediate processing drains just that request.
func (e *Engine) ExecutePurchase(ctx context.Context, ticketID string, decision Decision, prefs Preferences) (PurchaseOutcome, error) {
	maxAttempts := prefs.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = e.opts.DefaultMaxAttempts
	}
	req := PurchaseRequest{
		PurchaseID:  "purchase_" + e.newID(),
		TicketID:    ticketID,
		Decision:    decision,
		Preferences: prefs,
		Status:      PurchasePending,
		CreatedAt:   e.now().UTC(),
		MaxAttempts: maxAttempts,
	}

	if err := e.persistPurchase(ctx, req); err != nil {
		return PurchaseOutcome{}, err
	}
	if err := e.kv.Expire(ctx, purchaseKey(req.PurchaseID), e.opts.PurchaseTTL); err != nil {
		return PurchaseOutcome{}, fmt.Errorf("set purchase ttl: %w", err)
	}

	if prefs.ImmediateProcessing {
		results, err := e.ProcessPurchaseQueue(ctx, req.PurchaseID)
		if err != nil {
			return PurchaseOutcome{}, err
		}
		processed := results[0]
		return PurchaseOutcome{
			PurchaseID: processed.PurchaseID,
			Status:     processed.Status,
			Message:    processed.Err,
			Result:     processed.Result,
		}, nil
	}

	if err := e.kv.LPush(ctx, pendingQueueKey, req.PurchaseID); err != nil {
		return PurchaseOutcome{}, fmt.Errorf("queue purchase: %w", err)
	}
	if err := e.kv.Expire(ctx, pendingQueueKey, e.opts.QueueTTL); err != nil {
		return PurchaseOutcome{}, fmt.Errorf("set queue ttl: %w", err)
	}
	e.logger.Info().
		Str("purchase_id", req.PurchaseID).
		Str("ticket_id", ticketID).
		Msg("purchase queued")

	return PurchaseOutcome{
		PurchaseID: req.PurchaseID,
		Status:     "queued",
		Message:    "purchase queued for processing",
	}, nil
}

// ProcessPurchaseQueue processes one named request, or drains the pending
// FIFO queue to empty. Per-item failures surface in that item's result and
// never abort a batch drain.
func (e *Engine) ProcessPurchaseQueue(ctx context.Context, purchaseID string) ([]ProcessResult, error) {
	var results []ProcessResult
	if purchaseID != "" {
		results = append(results, e.processSinglePurchase(ctx, purchaseID))
	} else {
		for {
			popped, ok, err := e.kv.RPop(ctx, pendingQueueKey)
			if err != nil {
				return results, fmt.Errorf("pop purchase queue: %w", err)
			}
			if !ok {
				break
			}
			results = append(results, e.processSinglePurchase(ctx, popped))
		}
	}

	successful := 0
	for _, result := range results {
		if result.Status == "success" {
			successful++
		}
	}
	e.effects.Dispatch(ctx, []effects.Effect{effects.TrackEventEffect{
		Name: "purchase_queue_processed",
		Properties: map[string]any{
			"total_processed": len(results),
			"successful":      successful,
		},
	}})
	return results, nil
}

// processSinglePurchase loads the decrypted request, executes the selected
// strategy and writes back the outcome. A strategy error consumes one
// attempt; remaining attempts requeue the request.
func (e *Engine) processSinglePurchase(ctx context.Context, purchaseID string) ProcessResult {
	fields, err := e.kv.HGetAll(ctx, purchaseKey(purchaseID))
	if err != nil {
		return ProcessResult{PurchaseID: purchaseID, Status: "error", Err: err.Error()}
	}
	if len(fields) == 0 {
		err := fmt.Errorf("%w: %s", ErrPurchaseNotFound, purchaseID)
		e.logger.Error().Err(err).Msg("purchase processing failed")
		return ProcessResult{PurchaseID: purchaseID, Status: "error", Err: err.Error()}
	}
	req, err := e.decodePurchase(fields)
	if err != nil {
		e.logger.Error().Err(err).Str("purchase_id", purchaseID).Msg("purchase processing failed")
		return ProcessResult{PurchaseID: purchaseID, Status: "error", Err: err.Error()}
	}

	strategy, err := e.strategies.Resolve(req.Preferences.Strategy)
	if err != nil {
		e.finishPurchase(ctx, req, PurchaseFailed, nil)
		e.logger.Error().Err(err).Str("purchase_id", purchaseID).Msg("purchase processing failed")
		return ProcessResult{PurchaseID: purchaseID, Status: "error", Err: err.Error()}
	}

	req.Attempts++
	result, err := strategy.Execute(ctx, req)
	if err != nil {
		if req.Attempts < req.MaxAttempts {
			req.Status = PurchasePending
			if persistErr := e.persistPurchase(ctx, req); persistErr != nil {
				e.logger.Error().Err(persistErr).Str("purchase_id", purchaseID).Msg("purchase writeback failed")
			}
			if pushErr := e.kv.LPush(ctx, pendingQueueKey, req.PurchaseID); pushErr != nil {
				e.logger.Error().Err(pushErr).Str("purchase_id", purchaseID).Msg("purchase requeue failed")
			}
			e.logger.Warn().Err(err).
				Str("purchase_id", purchaseID).
				Int("attempt", req.Attempts).
				Int("max_attempts", req.MaxAttempts).
				Msg("purchase attempt failed, requeued")
		} else {
			e.finishPurchase(ctx, req, PurchaseFailed, nil)
			e.logger.Error().Err(err).
				Str("purchase_id", purchaseID).
				Int("attempt", req.Attempts).
				Msg("purchase attempts exhausted")
		}
		return ProcessResult{PurchaseID: purchaseID, Status: "error", Err: err.Error()}
	}

	status := PurchaseCompleted
	itemStatus := "success"
	if !result.Success {
		status = PurchaseFailed
		itemStatus = "failed"
	}
	e.finishPurchase(ctx, req, status, &result)
	e.notifyPurchaseOutcome(ctx, req, result)

	return ProcessResult{PurchaseID: purchaseID, Status: itemStatus, Result: &result}
}

func (e *Engine) finishPurchase(ctx context.Context, req PurchaseRequest, status string, result *Result) {
	req.Status = status
	req.Result = result
	completed := e.now().UTC()
	req.CompletedAt = &completed
	if err := e.persistPurchase(ctx, req); err != nil {
		e.logger.Error().Err(err).Str("purchase_id", req.PurchaseID).Msg("purchase writeback failed")
	}
}

func (e *Engine) notifyPurchaseOutcome(ctx context.Context, req PurchaseRequest, result Result) {
	message := "Purchase completed successfully!"
	severity := "success"
	if !result.Success {
		message = "Purchase failed: " + result.Message
		severity = "error"
	}
	e.effects.Dispatch(ctx, []effects.Effect{effects.SystemNotificationEffect{
		Message:    message,
		Severity:   severity,
		Recipients: req.Preferences.Recipients,
		Metadata: map[string]any{
			"purchase_id": req.PurchaseID,
			"ticket_id":   req.TicketID,
		},
	}})
}

// GetPurchase loads one decrypted purchase record.
func (e *Engine) GetPurchase(ctx context.Context, purchaseID string) (PurchaseRequest, error) {
	fields, err := e.kv.HGetAll(ctx, purchaseKey(purchaseID))
	if err != nil {
		return PurchaseRequest{}, err
	}
	if len(fields) == 0 {
		return PurchaseRequest{}, fmt.Errorf("%w: %s", ErrPurchaseNotFound, purchaseID)
	}
	return e.decodePurchase(fields)
}

// GetUserStatistics aggregates one user's rule activity.
func (e *Engine) GetUserStatistics(ctx context.Context, userID string) (UserStatistics, error) {
	rules, err := e.GetUserPurchaseRules(ctx, userID)
	if err != nil {
		return UserStatistics{}, err
	}

	stats := UserStatistics{
		UserID:     userID,
		TotalRules: len(rules),
		Timestamp:  e.now().UTC(),
	}
	for _, rule := range rules {
		if rule.Status == RuleActive {
			stats.ActiveRules++
		}
		stats.TotalTriggered += rule.TriggeredCount
		stats.SuccessfulPurchases += rule.SuccessfulPurchases
		stats.TotalSpent = stats.TotalSpent.Add(rule.TotalSpent)
	}
	return stats, nil
}

// GetStatistics aggregates global automation state, including queue health.
func (e *Engine) GetStatistics(ctx context.Context) (Statistics, error) {
	depth, err := e.kv.LLen(ctx, pendingQueueKey)
	if err != nil {
		return Statistics{}, err
	}

	e.mu.RLock()
	total := len(e.rules)
	e.mu.RUnlock()

	return Statistics{
		TotalRules:  total,
		QueueDepth:  depth,
		QueueHealth: classifyQueueHealth(depth),
		Timestamp:   e.now().UTC(),
	}, nil
}

// QueueHealth classifies the pending queue depth.
func (e *Engine) QueueHealth(ctx context.Context) (string, error) {
	depth, err := e.kv.LLen(ctx, pendingQueueKey)
	if err != nil {
		return "", err
	}
	return classifyQueueHealth(depth), nil
}

func classifyQueueHealth(depth int64) string {
	switch {
	case depth > 100:
		return "critical"
	case depth > 50:
		return "warning"
	default:
		return "healthy"
	}
}

func (e *Engine) updateRuleStats(ctx context.Context, ruleID string, decision Decision) error {
	key := ruleKey(ruleID)
	if _, err := e.kv.HIncrBy(ctx, key, "triggered_count", 1); err != nil {
		return err
	}
	now := e.now().UTC()
	if err := e.kv.HSet(ctx, key, map[string]string{
		"last_triggered": now.Format(time.RFC3339),
	}); err != nil {
		return err
	}
	if decision.Action == ActionPurchase {
		if _, err := e.kv.HIncrBy(ctx, key, "successful_purchases", 1); err != nil {
			return err
		}
	}

	e.mu.Lock()
	if rule, ok := e.rules[ruleID]; ok {
		rule.TriggeredCount++
		rule.LastTriggered = &now
		if decision.Action == ActionPurchase {
			rule.SuccessfulPurchases++
		}
		e.rules[ruleID] = rule
	}
	e.mu.Unlock()
	return nil
}
