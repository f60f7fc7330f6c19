// Package effects separates best-effort side effects from the primary state
// changes of the engines. Engines return effect lists; the executor delivers
// them after the fact, swallowing delivery failures so the core pipeline's
// outcome never depends on a notification or telemetry channel.
package effects

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"seatwatch/internal/analytics"
	"seatwatch/internal/notify"
)

// Effect is a deferred side effect produced by a business operation.
type Effect interface {
	EffectType() string
}

// TicketAlertEffect delivers a monitoring alert to the notification channel.
type TicketAlertEffect struct {
	Alert      notify.TicketAlert
	Recipients []string
	Priority   string
}

// EffectType identifies the effect.
func (TicketAlertEffect) EffectType() string { return "ticket_alert" }

// SystemNotificationEffect delivers an operational notification.
type SystemNotificationEffect struct {
	Message    string
	Severity   string
	Recipients []string
	Metadata   map[string]any
}

// EffectType identifies the effect.
func (SystemNotificationEffect) EffectType() string { return "system_notification" }

// TrackEventEffect records a telemetry event.
type TrackEventEffect struct {
	Name       string
	Properties map[string]any
}

// EffectType identifies the effect.
func (TrackEventEffect) EffectType() string { return "track_event" }

// Executor dispatches effects through the external collaborators.
type Executor struct {
	notifier notify.Notifier
	tracker  analytics.Tracker
	logger   zerolog.Logger
}

// NewExecutor wires the collaborators into an executor.
func NewExecutor(notifier notify.Notifier, tracker analytics.Tracker, logger zerolog.Logger) *Executor {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if tracker == nil {
		tracker = analytics.Nop{}
	}
	return &Executor{
		notifier: notifier,
		tracker:  tracker,
		logger:   logger.With().Str("component", "effects").Logger(),
	}
}

// Dispatch delivers every effect, logging and continuing past failures.
func (e *Executor) Dispatch(ctx context.Context, effs []Effect) {
	for _, eff := range effs {
		if err := e.dispatchOne(ctx, eff); err != nil {
			e.logger.Warn().Err(err).Str("effect", eff.EffectType()).Msg("effect delivery failed")
		}
	}
}

func (e *Executor) dispatchOne(ctx context.Context, eff Effect) error {
	switch typed := eff.(type) {
	case TicketAlertEffect:
		return e.notifier.SendTicketAlert(ctx, typed.Alert, typed.Recipients, typed.Priority)
	case SystemNotificationEffect:
		return e.notifier.SendSystemNotification(ctx, typed.Message, typed.Severity, typed.Recipients, typed.Metadata)
	case TrackEventEffect:
		return e.tracker.TrackEvent(ctx, typed.Name, typed.Properties)
	default:
		return fmt.Errorf("unknown effect type %T", eff)
	}
}
