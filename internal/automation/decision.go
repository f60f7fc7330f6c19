package automation

import (
	"fmt"
	"math"

	"seatwatch/internal/monitor"
)

// DecisionInput is what the chain evaluates: the current availability
// snapshot plus the owning rule's preferences.
type DecisionInput struct {
	TicketID    string
	Snapshot    monitor.Snapshot
	Preferences Preferences
}

// Evaluator is one link of the decision chain. A non-nil decision stops the
// chain; nil passes the input to the next evaluator.
type Evaluator interface {
	Name() string
	Evaluate(in DecisionInput) *Decision
}

// Chain runs evaluators in order. The last evaluator must always decide.
type Chain struct {
	evaluators []Evaluator
}

// NewChain builds a chain from ordered evaluators.
func NewChain(evaluators ...Evaluator) *Chain {
	return &Chain{evaluators: evaluators}
}

// NewDefaultChain is the standard chain: availability gate, pricing gate,
// then a platform-spread scorer that always decides.
func NewDefaultChain() *Chain {
	return NewChain(availabilityEvaluator{}, pricingEvaluator{}, spreadEvaluator{})
}

// Decide runs the chain. When no evaluator decides, the outcome is a
// zero-confidence wait.
func (c *Chain) Decide(in DecisionInput) Decision {
	for _, ev := range c.evaluators {
		if decision := ev.Evaluate(in); decision != nil {
			return *decision
		}
	}
	return Decision{Action: ActionWait, Reason: "no evaluator reached a decision"}
}

// availabilityEvaluator skips tickets with nothing to buy.
type availabilityEvaluator struct{}

func (availabilityEvaluator) Name() string { return "availability" }

func (availabilityEvaluator) Evaluate(in DecisionInput) *Decision {
	if in.Snapshot.TotalAvailable > 0 {
		return nil
	}
	return &Decision{
		Action:     ActionSkip,
		Confidence: 0.95,
		Reason:     "no listings available",
	}
}

// pricingEvaluator defers while listings carry no usable price.
type pricingEvaluator struct{}

func (pricingEvaluator) Name() string { return "pricing" }

func (pricingEvaluator) Evaluate(in DecisionInput) *Decision {
	if in.Snapshot.BestPrice != nil {
		return nil
	}
	return &Decision{
		Action:     ActionWait,
		Confidence: 0.6,
		Reason:     "listings lack usable prices",
	}
}

// spreadEvaluator always decides: confidence grows with the number of
// platforms carrying inventory and with total listing depth, so thin
// single-platform availability stays below the execution gate.
type spreadEvaluator struct{}

func (spreadEvaluator) Name() string { return "platform_spread" }

func (spreadEvaluator) Evaluate(in DecisionInput) *Decision {
	confidence := 0.5
	confidence += math.Min(float64(in.Snapshot.PlatformCount)*0.1, 0.2)
	confidence += math.Min(float64(in.Snapshot.TotalAvailable)*0.02, 0.2)
	if confidence > 1 {
		confidence = 1
	}
	best := "n/a"
	if in.Snapshot.BestPrice != nil {
		best = in.Snapshot.BestPrice.StringFixed(2)
	}
	return &Decision{
		Action:     ActionPurchase,
		Confidence: confidence,
		Reason: fmt.Sprintf("%d listings across %d platforms, best price %s",
			in.Snapshot.TotalAvailable, in.Snapshot.PlatformCount, best),
	}
}
