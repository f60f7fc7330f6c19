// Package orchestrator wires the service graph: dependency-ordered
// construction, lazy initialization, health aggregation and best-effort
// shutdown.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrUnknownService is returned when addressing an unregistered service.
	ErrUnknownService = errors.New("orchestrator: unknown service")
	// ErrCircularDependency is returned when the dependency graph has a cycle.
	ErrCircularDependency = errors.New("orchestrator: circular dependency")
	// ErrDuplicateService is returned when registering a name twice.
	ErrDuplicateService = errors.New("orchestrator: service already registered")
)

// Service is a constructed service instance.
type Service any

// Starter is implemented by services with a post-construction hook.
type Starter interface {
	Start(ctx context.Context) error
}

// HealthReporter is implemented by services exposing a health probe.
type HealthReporter interface {
	Health(ctx context.Context) (string, error)
}

// Shutdowner is implemented by services needing cleanup.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Definition declares one service: its name, the services it depends on and
// its constructor. The constructor receives only already-constructed
// dependencies.
type Definition struct {
	Name         string
	Dependencies []string
	Build        func(ctx context.Context, deps map[string]Service) (Service, error)
}

// ServiceHealth is one service's probed state.
type ServiceHealth struct {
	Status string
	Err    string
}

// HealthStatus aggregates per-service health.
type HealthStatus struct {
	Overall   string
	Services  map[string]ServiceHealth
	Timestamp time.Time
}

// Orchestrator resolves the dependency graph and owns the constructed
// services.
type Orchestrator struct {
	logger zerolog.Logger
	now    func() time.Time

	mu          sync.Mutex
	definitions map[string]Definition
	order       []string
	services    map[string]Service
	initialized bool
}

// New constructs an empty orchestrator.
func New(logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		logger:      logger.With().Str("component", "orchestrator").Logger(),
		now:         time.Now,
		definitions: make(map[string]Definition),
		services:    make(map[string]Service),
	}
}

// Register declares a service. Registration order breaks ties in the
// construction order.
func (o *Orchestrator) Register(def Definition) error {
	if def.Name == "" {
		return errors.New("orchestrator: service name is empty")
	}
	if def.Build == nil {
		return fmt.Errorf("orchestrator: service %q has no constructor", def.Name)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.definitions[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateService, def.Name)
	}
	o.definitions[def.Name] = def
	o.order = append(o.order, def.Name)
	return nil
}

// Initialize resolves a construction order via depth-first topological sort
// and constructs every service. A cycle aborts before anything is built.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.initializeLocked(ctx)
}

func (o *Orchestrator) initializeLocked(ctx context.Context) error {
	if o.initialized {
		return nil
	}

	order, err := o.resolveOrder()
	if err != nil {
		return err
	}

	for _, name := range order {
		if _, ok := o.services[name]; ok {
			continue
		}
		if err := o.constructLocked(ctx, name); err != nil {
			return err
		}
	}
	o.initialized = true
	o.logger.Info().Int("services", len(order)).Msg("services initialized")
	return nil
}

// resolveOrder topologically sorts the graph. A node revisited while still
// in progress is a cycle.
func (o *Orchestrator) resolveOrder() ([]string, error) {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int, len(o.definitions))
	order := make([]string, 0, len(o.definitions))

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case inProgress:
			return fmt.Errorf("%w: %s", ErrCircularDependency, name)
		}
		def, ok := o.definitions[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownService, name)
		}
		state[name] = inProgress
		for _, dep := range def.Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}

	for _, name := range o.order {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func (o *Orchestrator) constructLocked(ctx context.Context, name string) error {
	def := o.definitions[name]
	deps := make(map[string]Service, len(def.Dependencies))
	for _, depName := range def.Dependencies {
		dep, ok := o.services[depName]
		if !ok {
			return fmt.Errorf("orchestrator: dependency %s of %s not constructed", depName, name)
		}
		deps[depName] = dep
	}

	service, err := def.Build(ctx, deps)
	if err != nil {
		return fmt.Errorf("construct %s: %w", name, err)
	}
	if starter, ok := service.(Starter); ok {
		if err := starter.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", name, err)
		}
	}
	o.services[name] = service
	o.logger.Debug().Str("service", name).Msg("service constructed")
	return nil
}

// GetService returns a constructed service, triggering Initialize on first
// use.
func (o *Orchestrator) GetService(ctx context.Context, name string) (Service, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.initialized {
		if err := o.initializeLocked(ctx); err != nil {
			return nil, err
		}
	}
	service, ok := o.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	return service, nil
}

// GetHealthStatus probes every constructed service. A panicking or failing
// probe is recorded as that service's error state without failing the
// aggregate call.
func (o *Orchestrator) GetHealthStatus(ctx context.Context) HealthStatus {
	o.mu.Lock()
	services := make(map[string]Service, len(o.services))
	for name, service := range o.services {
		services[name] = service
	}
	o.mu.Unlock()

	status := HealthStatus{
		Services:  make(map[string]ServiceHealth, len(services)),
		Timestamp: o.now().UTC(),
	}
	healthy := 0
	for name, service := range services {
		health := o.probeService(ctx, name, service)
		status.Services[name] = health
		if isHealthyStatus(health.Status) {
			healthy++
		}
	}
	status.Overall = classifyOverall(healthy, len(services))
	return status
}

func (o *Orchestrator) probeService(ctx context.Context, name string, service Service) (health ServiceHealth) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Str("service", name).Interface("panic", r).Msg("health probe panicked")
			health = ServiceHealth{Status: "error", Err: fmt.Sprintf("probe panic: %v", r)}
		}
	}()

	reporter, ok := service.(HealthReporter)
	if !ok {
		return ServiceHealth{Status: "running"}
	}
	state, err := reporter.Health(ctx)
	if err != nil {
		return ServiceHealth{Status: "error", Err: err.Error()}
	}
	return ServiceHealth{Status: state}
}

func isHealthyStatus(status string) bool {
	switch status {
	case "healthy", "running", "excellent", "no_monitoring":
		return true
	default:
		return false
	}
}

func classifyOverall(healthy, total int) string {
	if total == 0 {
		return "critical"
	}
	fraction := float64(healthy) / float64(total)
	switch {
	case fraction >= 0.9:
		return "excellent"
	case fraction >= 0.75:
		return "healthy"
	case fraction >= 0.5:
		return "warning"
	default:
		return "critical"
	}
}

// RestartService cleans up and reconstructs one service.
func (o *Orchestrator) RestartService(ctx context.Context, name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	service, ok := o.services[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	if closer, ok := service.(Shutdowner); ok {
		if err := closer.Shutdown(ctx); err != nil {
			o.logger.Warn().Err(err).Str("service", name).Msg("service cleanup failed")
		}
	}
	delete(o.services, name)

	if err := o.constructLocked(ctx, name); err != nil {
		return err
	}
	o.logger.Info().Str("service", name).Msg("service restarted")
	return nil
}

// Shutdown cleans up every service best-effort, then clears all state so a
// later Initialize starts fresh.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for name, service := range o.services {
		closer, ok := service.(Shutdowner)
		if !ok {
			continue
		}
		if err := closer.Shutdown(ctx); err != nil {
			o.logger.Warn().Err(err).Str("service", name).Msg("service cleanup failed")
		}
	}
	o.services = make(map[string]Service)
	o.initialized = false
	o.logger.Info().Msg("services shut down")
}
