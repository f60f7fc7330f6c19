package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultStrategy is used when preferences name no strategy.
const DefaultStrategy = "default"

var (
	// ErrUnknownStrategy is returned when resolving an unregistered strategy.
	ErrUnknownStrategy = errors.New("automation: unknown purchase strategy")
	// ErrDuplicateStrategy is returned when registering a name twice.
	ErrDuplicateStrategy = errors.New("automation: strategy already registered")
)

// Strategy executes one purchase request against a platform.
type Strategy interface {
	Execute(ctx context.Context, req PurchaseRequest) (Result, error)
}

// StrategyRegistry maps strategy names to implementations. It is populated
// at wiring time and validated before the engine accepts work.
type StrategyRegistry struct {
	strategies map[string]Strategy
}

// NewStrategyRegistry returns an empty registry.
func NewStrategyRegistry() *StrategyRegistry {
	return &StrategyRegistry{strategies: make(map[string]Strategy)}
}

// Register adds a named strategy. Names are case-insensitive.
func (r *StrategyRegistry) Register(name string, strategy Strategy) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return errors.New("automation: strategy name is empty")
	}
	if strategy == nil {
		return fmt.Errorf("automation: strategy %q is nil", name)
	}
	if _, exists := r.strategies[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateStrategy, name)
	}
	r.strategies[name] = strategy
	return nil
}

// Resolve looks up a strategy by name, falling back to the default when the
// name is empty.
func (r *StrategyRegistry) Resolve(name string) (Strategy, error) {
	if name == "" {
		name = DefaultStrategy
	}
	strategy, ok := r.strategies[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	return strategy, nil
}

// Names lists the registered strategy names.
func (r *StrategyRegistry) Names() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	return names
}

// Validate ensures the registry can serve requests that name no strategy.
func (r *StrategyRegistry) Validate() error {
	if _, ok := r.strategies[DefaultStrategy]; !ok {
		return fmt.Errorf("%w: %s (no fallback registered)", ErrUnknownStrategy, DefaultStrategy)
	}
	return nil
}

// SimulatedStrategy completes purchases without touching a real platform.
// It stands in for platform-specific checkout flows.
type SimulatedStrategy struct {
	logger zerolog.Logger
}

// NewSimulatedStrategy constructs the simulated executor.
func NewSimulatedStrategy(logger zerolog.Logger) *SimulatedStrategy {
	return &SimulatedStrategy{logger: logger.With().Str("component", "purchase_strategy").Logger()}
}

// Execute records a simulated transaction for the request.
func (s *SimulatedStrategy) Execute(ctx context.Context, req PurchaseRequest) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	transactionID := "AUTO_" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	s.logger.Info().
		Str("purchase_id", req.PurchaseID).
		Str("ticket_id", req.TicketID).
		Str("transaction_id", transactionID).
		Msg("simulated purchase executed")

	return Result{
		Success:       true,
		TransactionID: transactionID,
		Message:       "purchase completed",
		Details: map[string]any{
			"ticket_id": req.TicketID,
			"simulated": true,
		},
	}, nil
}

var _ Strategy = (*SimulatedStrategy)(nil)
