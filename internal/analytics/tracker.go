package analytics

import (
	"context"

	"github.com/rs/zerolog"
)

// Tracker records operational telemetry events. Tracking never affects the
// control flow of the calling operation.
type Tracker interface {
	TrackEvent(ctx context.Context, name string, properties map[string]any) error
}

// LogTracker emits events to the structured log.
type LogTracker struct {
	logger zerolog.Logger
}

// NewLogTracker builds a log-backed tracker.
func NewLogTracker(logger zerolog.Logger) *LogTracker {
	return &LogTracker{logger: logger.With().Str("component", "analytics").Logger()}
}

// TrackEvent logs the event with its properties.
func (t *LogTracker) TrackEvent(_ context.Context, name string, properties map[string]any) error {
	t.logger.Info().Str("event", name).Fields(properties).Msg("analytics event")
	return nil
}

// Nop discards events.
type Nop struct{}

// TrackEvent discards the event.
func (Nop) TrackEvent(context.Context, string, map[string]any) error { return nil }

var (
	_ Tracker = (*LogTracker)(nil)
	_ Tracker = Nop{}
)
