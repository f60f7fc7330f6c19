package automation

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"seatwatch/internal/monitor"
)

// validateConditions rejects unknown condition keys and malformed values at
// rule-creation time rather than silently skipping them during evaluation.
func validateConditions(conditions map[string]any) error {
	for key, value := range conditions {
		switch key {
		case CondMaxPrice:
			if _, ok := conditionDecimal(value); !ok {
				return fmt.Errorf("automation: %s wants a numeric value, got %T", key, value)
			}
		case CondMinAvailability:
			if _, ok := conditionInt(value); !ok {
				return fmt.Errorf("automation: %s wants an integer value, got %T", key, value)
			}
		case CondPreferredPlatforms:
			platforms, ok := conditionStrings(value)
			if !ok || len(platforms) == 0 {
				return fmt.Errorf("automation: %s wants a non-empty platform list", key)
			}
		default:
			return fmt.Errorf("%w: %s", ErrUnknownCondition, key)
		}
	}
	return nil
}

// evaluateRuleConditions applies every condition conjunctively,
// short-circuiting on the first failure.
func evaluateRuleConditions(conditions map[string]any, snapshot monitor.Snapshot) bool {
	for key, value := range conditions {
		switch key {
		case CondMaxPrice:
			limit, ok := conditionDecimal(value)
			if !ok {
				return false
			}
			if snapshot.BestPrice != nil && snapshot.BestPrice.GreaterThan(limit) {
				return false
			}
		case CondMinAvailability:
			minimum, ok := conditionInt(value)
			if !ok {
				return false
			}
			if snapshot.TotalAvailable < minimum {
				return false
			}
		case CondPreferredPlatforms:
			preferred, ok := conditionStrings(value)
			if !ok || !platformOverlap(snapshot.AvailablePlatforms, preferred) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func platformOverlap(available, preferred []string) bool {
	for _, platform := range available {
		for _, want := range preferred {
			if platform == want {
				return true
			}
		}
	}
	return false
}

// Condition values arrive from JSON decoding, so numbers may be float64,
// json.Number or strings.
func conditionDecimal(value any) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case float64:
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(v)
		return d, err == nil
	case decimal.Decimal:
		return v, true
	default:
		return decimal.Decimal{}, false
	}
}

func conditionInt(value any) (int, bool) {
	switch v := value.(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return 0, false
		}
		return int(d.IntPart()), true
	default:
		return 0, false
	}
}

func conditionStrings(value any) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
