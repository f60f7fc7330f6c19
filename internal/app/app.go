package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"seatwatch/internal/analytics"
	"seatwatch/internal/automation"
	"seatwatch/internal/config"
	"seatwatch/internal/crypto"
	"seatwatch/internal/effects"
	"seatwatch/internal/monitor"
	"seatwatch/internal/notify"
	"seatwatch/internal/orchestrator"
	"seatwatch/internal/scheduler"
	"seatwatch/internal/scraping"
	"seatwatch/internal/store"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// Components are the wired service instances behind one command invocation.
type Components struct {
	Orchestrator *orchestrator.Orchestrator
	KV           store.KV
	Scraper      *scraping.Orchestrator
	Monitor      *monitor.Engine
	Automation   *automation.Engine
}

// storeService adapts the key-value store for orchestrator-managed cleanup.
type storeService struct {
	store.KV
	close func()
}

func (s *storeService) Shutdown(context.Context) error {
	if s.close != nil {
		s.close()
	}
	return nil
}

// scrapingService exposes the orchestrator health probe.
type scrapingService struct {
	*scraping.Orchestrator
}

func (s scrapingService) Health(ctx context.Context) (string, error) {
	health, err := s.GetHealth(ctx)
	if err != nil {
		return "", err
	}
	return health.Status, nil
}

type monitorService struct {
	*monitor.Engine
}

func (s monitorService) Health(ctx context.Context) (string, error) {
	return s.GetHealth(ctx)
}

type automationService struct {
	*automation.Engine
}

func (s automationService) Start(ctx context.Context) error {
	return s.LoadState(ctx)
}

func (s automationService) Health(ctx context.Context) (string, error) {
	return s.QueueHealth(ctx)
}

func (a *App) openStore(ctx context.Context) (store.KV, func(), error) {
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory store")
		return store.NewMemory(), nil, nil
	}

	pool, err := store.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	pg := store.NewPostgres(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

func (a *App) newEncryptor() (crypto.Encryptor, error) {
	if a.Config.Encryption.Key == "" {
		a.Logger.Warn().Msg("encryption.key not configured; sensitive fields stored as plain JSON")
		return crypto.Plaintext{}, nil
	}
	return crypto.NewAESGCM(a.Config.Encryption.Key)
}

func (a *App) newNotifier() notify.Notifier {
	if a.Config.Notify.Enabled {
		return notify.NewWebhookNotifier(a.Config.Notify.WebhookURL, a.Config.Notify.RequestTimeout, a.Logger)
	}
	return notify.Nop{}
}

// buildComponents registers the service graph on an orchestrator, resolves
// it, and returns typed handles. The returned closer shuts every service
// down.
func (a *App) buildComponents(ctx context.Context) (*Components, func(), error) {
	comps := &Components{}
	orch := orchestrator.New(a.Logger)

	definitions := []orchestrator.Definition{
		{
			Name: "store",
			Build: func(ctx context.Context, _ map[string]orchestrator.Service) (orchestrator.Service, error) {
				kv, closeStore, err := a.openStore(ctx)
				if err != nil {
					return nil, err
				}
				comps.KV = kv
				return &storeService{KV: kv, close: closeStore}, nil
			},
		},
		{
			Name: "encryptor",
			Build: func(_ context.Context, _ map[string]orchestrator.Service) (orchestrator.Service, error) {
				return a.newEncryptor()
			},
		},
		{
			Name: "notifier",
			Build: func(_ context.Context, _ map[string]orchestrator.Service) (orchestrator.Service, error) {
				return a.newNotifier(), nil
			},
		},
		{
			Name: "analytics",
			Build: func(_ context.Context, _ map[string]orchestrator.Service) (orchestrator.Service, error) {
				return analytics.NewLogTracker(a.Logger), nil
			},
		},
		{
			Name:         "effects",
			Dependencies: []string{"notifier", "analytics"},
			Build: func(_ context.Context, deps map[string]orchestrator.Service) (orchestrator.Service, error) {
				notifier := deps["notifier"].(notify.Notifier)
				tracker := deps["analytics"].(analytics.Tracker)
				return effects.NewExecutor(notifier, tracker, a.Logger), nil
			},
		},
		{
			Name:         "scraping",
			Dependencies: []string{"store"},
			Build: func(_ context.Context, deps map[string]orchestrator.Service) (orchestrator.Service, error) {
				kv := deps["store"].(store.KV)
				scraper := scraping.NewOrchestrator(kv, a.Config.Scraping.RequestTimeout, a.Logger)
				for _, platform := range a.Config.Scraping.Platforms {
					adapter := scraping.NewHTTPAdapter(scraping.HTTPAdapterOptions{
						Platform:  platform.Name,
						BaseURL:   platform.BaseURL,
						UserAgent: platform.UserAgent,
						Timeout:   a.Config.Scraping.RequestTimeout,
					}, a.Logger)
					scraper.Register(platform.Name, adapter, scraping.PlatformOptions{
						Enabled:     platform.Enabled,
						MinInterval: platform.MinInterval,
					})
				}
				comps.Scraper = scraper
				return scrapingService{scraper}, nil
			},
		},
		{
			Name:         "monitor",
			Dependencies: []string{"store", "scraping", "effects"},
			Build: func(_ context.Context, deps map[string]orchestrator.Service) (orchestrator.Service, error) {
				kv := deps["store"].(store.KV)
				scraper := deps["scraping"].(scrapingService).Orchestrator
				executor := deps["effects"].(*effects.Executor)
				engine := monitor.NewEngine(kv, scraper, executor, monitor.Options{
					RecordTTL:      a.Config.Monitoring.RecordTTL,
					HistoryLimit:   a.Config.Monitoring.HistoryLimit,
					HealthWindow:   a.Config.Monitoring.HealthWindow,
					ActivityWindow: a.Config.Monitoring.ActivityWindow,
				}, a.Logger)
				comps.Monitor = engine
				return monitorService{engine}, nil
			},
		},
		{
			Name:         "automation",
			Dependencies: []string{"store", "encryptor", "effects"},
			Build: func(_ context.Context, deps map[string]orchestrator.Service) (orchestrator.Service, error) {
				kv := deps["store"].(store.KV)
				enc := deps["encryptor"].(crypto.Encryptor)
				executor := deps["effects"].(*effects.Executor)

				strategies := automation.NewStrategyRegistry()
				if err := strategies.Register(automation.DefaultStrategy, automation.NewSimulatedStrategy(a.Logger)); err != nil {
					return nil, err
				}

				engine, err := automation.NewEngine(kv, enc, automation.NewDefaultChain(), strategies, executor, automation.Options{
					RuleTTL:             a.Config.Automation.RuleTTL,
					DecisionTTL:         a.Config.Automation.DecisionTTL,
					QueueTTL:            a.Config.Automation.QueueTTL,
					PurchaseTTL:         a.Config.Automation.PurchaseTTL,
					ConfidenceThreshold: a.Config.Automation.ConfidenceThreshold,
					DefaultMaxAttempts:  a.Config.Automation.DefaultMaxAttempts,
				}, a.Logger)
				if err != nil {
					return nil, err
				}
				comps.Automation = engine
				return automationService{engine}, nil
			},
		},
	}
	for _, def := range definitions {
		if err := orch.Register(def); err != nil {
			return nil, nil, err
		}
	}

	if err := orch.Initialize(ctx); err != nil {
		return nil, nil, err
	}
	comps.Orchestrator = orch

	closer := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		orch.Shutdown(shutdownCtx)
	}
	return comps, closer, nil
}

// Run executes the long-running monitoring service: each sweep checks every
// monitored ticket, fires automation triggers for available ones, then
// drains the purchase queue.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	comps, closeComps, err := a.buildComponents(ctx)
	if err != nil {
		return err
	}
	defer closeComps()

	sched := scheduler.New(scheduler.Options{
		Interval:      a.Config.Scheduler.Interval,
		AlignToBucket: a.Config.Scheduler.AlignToBucket,
		StartupDelay:  a.Config.Scheduler.StartupDelay,
		RunOnStart:    true,
	}, a.Logger)

	a.Logger.Info().Msg("starting monitoring service")
	err = sched.Run(ctx, func(ctx context.Context, at time.Time) error {
		return a.sweep(ctx, comps)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

func (a *App) sweep(ctx context.Context, comps *Components) error {
	outcomes, err := comps.Monitor.CheckAllTickets(ctx)
	if err != nil {
		return fmt.Errorf("check tickets: %w", err)
	}

	for ticketID, outcome := range outcomes {
		if outcome.Err != "" || !outcome.Snapshot.IsAvailable {
			continue
		}
		triggered := comps.Automation.CheckAutomationTriggers(ctx, ticketID, outcome.Snapshot)
		for _, trigger := range triggered {
			event := a.Logger.Info().
				Str("ticket_id", ticketID).
				Str("rule_id", trigger.RuleID).
				Bool("triggered", trigger.Triggered)
			if trigger.Decision != nil {
				event = event.Str("action", trigger.Decision.Decision.Action)
			}
			event.Msg("automation rule evaluated")
		}
	}

	results, err := comps.Automation.ProcessPurchaseQueue(ctx, "")
	if err != nil {
		a.Logger.Error().Err(err).Msg("purchase queue drain failed")
	}
	if len(results) > 0 {
		a.Logger.Info().Int("processed", len(results)).Msg("purchase queue drained")
	}
	return nil
}

// withComponents runs a one-shot command against a freshly wired service
// graph.
func (a *App) withComponents(ctx context.Context, fn func(*Components) error) error {
	comps, closeComps, err := a.buildComponents(ctx)
	if err != nil {
		return err
	}
	defer closeComps()
	return fn(comps)
}

// ExportOptions hold parameters for exporting a ticket's price history.
type ExportOptions struct {
	TicketID  string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
