package automation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// persistRule writes a rule hash with its sensitive fields encrypted.
func (e *Engine) persistRule(ctx context.Context, rule PurchaseRule) error {
	criteria, err := e.enc.EncryptJSON(rule.Criteria)
	if err != nil {
		return fmt.Errorf("encrypt criteria: %w", err)
	}
	conditions, err := e.enc.EncryptJSON(rule.Conditions)
	if err != nil {
		return fmt.Errorf("encrypt conditions: %w", err)
	}
	preferences, err := e.enc.EncryptJSON(rule.Preferences)
	if err != nil {
		return fmt.Errorf("encrypt preferences: %w", err)
	}

	fields := map[string]string{
		"rule_id":              rule.RuleID,
		"user_id":              rule.UserID,
		"criteria":             criteria,
		"conditions":           conditions,
		"preferences":          preferences,
		"status":               rule.Status,
		"created_at":           rule.CreatedAt.Format(time.RFC3339),
		"triggered_count":      strconv.FormatInt(rule.TriggeredCount, 10),
		"successful_purchases": strconv.FormatInt(rule.SuccessfulPurchases, 10),
		"total_spent":          rule.TotalSpent.String(),
	}
	if rule.UpdatedAt != nil {
		fields["updated_at"] = rule.UpdatedAt.Format(time.RFC3339)
	}
	if rule.LastTriggered != nil {
		fields["last_triggered"] = rule.LastTriggered.Format(time.RFC3339)
	}

	if err := e.kv.HSet(ctx, ruleKey(rule.RuleID), fields); err != nil {
		return fmt.Errorf("persist rule: %w", err)
	}
	return nil
}

// decodeRule rebuilds a rule from its stored hash, decrypting sensitive
// fields.
func (e *Engine) decodeRule(fields map[string]string) (PurchaseRule, error) {
	rule := PurchaseRule{
		RuleID:              fields["rule_id"],
		UserID:              fields["user_id"],
		Status:              fields["status"],
		TriggeredCount:      parseInt(fields["triggered_count"]),
		SuccessfulPurchases: parseInt(fields["successful_purchases"]),
	}
	if created := parseTime(fields["created_at"]); created != nil {
		rule.CreatedAt = *created
	}
	rule.UpdatedAt = parseTime(fields["updated_at"])
	rule.LastTriggered = parseTime(fields["last_triggered"])
	if raw := fields["total_spent"]; raw != "" {
		if spent, err := decimal.NewFromString(raw); err == nil {
			rule.TotalSpent = spent
		}
	}

	if raw := fields["criteria"]; raw != "" {
		if err := e.enc.DecryptJSON(raw, &rule.Criteria); err != nil {
			return PurchaseRule{}, fmt.Errorf("decrypt criteria: %w", err)
		}
	}
	if raw := fields["conditions"]; raw != "" {
		if err := e.enc.DecryptJSON(raw, &rule.Conditions); err != nil {
			return PurchaseRule{}, fmt.Errorf("decrypt conditions: %w", err)
		}
	}
	if raw := fields["preferences"]; raw != "" {
		if err := e.enc.DecryptJSON(raw, &rule.Preferences); err != nil {
			return PurchaseRule{}, fmt.Errorf("decrypt preferences: %w", err)
		}
	}
	return rule, nil
}

// persistPurchase writes a purchase hash with its sensitive fields encrypted.
func (e *Engine) persistPurchase(ctx context.Context, req PurchaseRequest) error {
	decision, err := e.enc.EncryptJSON(req.Decision)
	if err != nil {
		return fmt.Errorf("encrypt decision: %w", err)
	}
	preferences, err := e.enc.EncryptJSON(req.Preferences)
	if err != nil {
		return fmt.Errorf("encrypt preferences: %w", err)
	}

	fields := map[string]string{
		"purchase_id":  req.PurchaseID,
		"ticket_id":    req.TicketID,
		"decision":     decision,
		"preferences":  preferences,
		"status":       req.Status,
		"created_at":   req.CreatedAt.Format(time.RFC3339),
		"attempts":     strconv.Itoa(req.Attempts),
		"max_attempts": strconv.Itoa(req.MaxAttempts),
	}
	if req.CompletedAt != nil {
		fields["completed_at"] = req.CompletedAt.Format(time.RFC3339)
	}
	if req.Result != nil {
		result, err := e.enc.EncryptJSON(req.Result)
		if err != nil {
			return fmt.Errorf("encrypt result: %w", err)
		}
		fields["result"] = result
	}

	if err := e.kv.HSet(ctx, purchaseKey(req.PurchaseID), fields); err != nil {
		return fmt.Errorf("persist purchase: %w", err)
	}
	return nil
}

// decodePurchase rebuilds a purchase from its stored hash, decrypting
// sensitive fields.
func (e *Engine) decodePurchase(fields map[string]string) (PurchaseRequest, error) {
	req := PurchaseRequest{
		PurchaseID:  fields["purchase_id"],
		TicketID:    fields["ticket_id"],
		Status:      fields["status"],
		Attempts:    int(parseInt(fields["attempts"])),
		MaxAttempts: int(parseInt(fields["max_attempts"])),
	}
	if created := parseTime(fields["created_at"]); created != nil {
		req.CreatedAt = *created
	}
	req.CompletedAt = parseTime(fields["completed_at"])

	if raw := fields["decision"]; raw != "" {
		if err := e.enc.DecryptJSON(raw, &req.Decision); err != nil {
			return PurchaseRequest{}, fmt.Errorf("decrypt decision: %w", err)
		}
	}
	if raw := fields["preferences"]; raw != "" {
		if err := e.enc.DecryptJSON(raw, &req.Preferences); err != nil {
			return PurchaseRequest{}, fmt.Errorf("decrypt preferences: %w", err)
		}
	}
	if raw := fields["result"]; raw != "" {
		if err := e.enc.DecryptJSON(raw, &req.Result); err != nil {
			return PurchaseRequest{}, fmt.Errorf("decrypt result: %w", err)
		}
	}
	return req, nil
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
