package automation

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"seatwatch/internal/monitor"
)

func price(v string) *decimal.Decimal {
	d, _ := decimal.NewFromString(v)
	return &d
}

func TestChainSkipsWhenUnavailable(t *testing.T) {
	chain := NewDefaultChain()
	decision := chain.Decide(DecisionInput{
		TicketID: "42",
		Snapshot: monitor.Snapshot{TicketID: "42"},
	})
	if decision.Action != ActionSkip {
		t.Fatalf("无票时应 skip: %+v", decision)
	}
	if decision.Confidence < 0.9 {
		t.Fatalf("skip 置信度应很高: %v", decision.Confidence)
	}
}

func TestChainWaitsWithoutPrices(t *testing.T) {
	chain := NewDefaultChain()
	decision := chain.Decide(DecisionInput{
		TicketID: "42",
		Snapshot: monitor.Snapshot{
			TicketID:       "42",
			IsAvailable:    true,
			TotalAvailable: 3,
			PlatformCount:  1,
		},
	})
	if decision.Action != ActionWait {
		t.Fatalf("缺价格时应 wait: %+v", decision)
	}
}

func TestChainPurchaseConfidenceScales(t *testing.T) {
	chain := NewDefaultChain()

	strong := chain.Decide(DecisionInput{
		TicketID: "42",
		Snapshot: monitor.Snapshot{
			TicketID:       "42",
			IsAvailable:    true,
			TotalAvailable: 5,
			PlatformCount:  2,
			BestPrice:      price("80"),
		},
	})
	if strong.Action != ActionPurchase {
		t.Fatalf("有票有价应 purchase: %+v", strong)
	}
	if math.Abs(strong.Confidence-0.8) > 1e-9 {
		t.Fatalf("2 平台 5 张票置信度应为 0.8: %v", strong.Confidence)
	}

	weak := chain.Decide(DecisionInput{
		TicketID: "42",
		Snapshot: monitor.Snapshot{
			TicketID:       "42",
			IsAvailable:    true,
			TotalAvailable: 1,
			PlatformCount:  1,
			BestPrice:      price("80"),
		},
	})
	if weak.Action != ActionPurchase {
		t.Fatalf("动作仍应为 purchase: %+v", weak)
	}
	if math.Abs(weak.Confidence-0.62) > 1e-9 {
		t.Fatalf("1 平台 1 张票置信度应为 0.62: %v", weak.Confidence)
	}
}

func TestChainConfidenceCapped(t *testing.T) {
	chain := NewDefaultChain()
	decision := chain.Decide(DecisionInput{
		TicketID: "42",
		Snapshot: monitor.Snapshot{
			TicketID:       "42",
			IsAvailable:    true,
			TotalAvailable: 500,
			PlatformCount:  9,
			BestPrice:      price("80"),
		},
	})
	if decision.Confidence > 1 {
		t.Fatalf("置信度不应超过 1: %v", decision.Confidence)
	}
}

func TestChainFallbackWhenNoEvaluatorDecides(t *testing.T) {
	chain := NewChain()
	decision := chain.Decide(DecisionInput{TicketID: "42"})
	if decision.Action != ActionWait {
		t.Fatalf("空链应回落到 wait: %+v", decision)
	}
}
