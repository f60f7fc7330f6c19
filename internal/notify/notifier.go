package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TicketAlert carries the payload of a monitoring alert.
type TicketAlert struct {
	TicketID  string         `json:"ticket_id"`
	Condition string         `json:"condition"`
	Message   string         `json:"message"`
	Channels  []string       `json:"channels,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Notifier is the outbound notification collaborator. Delivery is
// fire-and-forget from the engines' perspective.
type Notifier interface {
	SendTicketAlert(ctx context.Context, alert TicketAlert, recipients []string, priority string) error
	SendSystemNotification(ctx context.Context, message, severity string, recipients []string, metadata map[string]any) error
}

// WebhookNotifier posts notifications to a single HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookNotifier constructs the webhook channel.
func NewWebhookNotifier(url string, timeout time.Duration, logger zerolog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    strings.TrimRight(url, "/"),
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "notify_webhook").Logger(),
	}
}

// SendTicketAlert delivers a ticket alert.
func (n *WebhookNotifier) SendTicketAlert(ctx context.Context, alert TicketAlert, recipients []string, priority string) error {
	body := map[string]any{
		"type":       "ticket_alert",
		"priority":   priority,
		"recipients": recipients,
		"alert":      alert,
	}
	if err := n.post(ctx, body); err != nil {
		return err
	}
	n.logger.Info().
		Str("ticket_id", alert.TicketID).
		Str("condition", alert.Condition).
		Str("priority", priority).
		Msg("ticket alert delivered")
	return nil
}

// SendSystemNotification delivers an operational notification.
func (n *WebhookNotifier) SendSystemNotification(ctx context.Context, message, severity string, recipients []string, metadata map[string]any) error {
	body := map[string]any{
		"type":       "system",
		"severity":   severity,
		"message":    message,
		"recipients": recipients,
		"metadata":   metadata,
	}
	if err := n.post(ctx, body); err != nil {
		return err
	}
	n.logger.Info().Str("severity", severity).Msg("system notification delivered")
	return nil
}

func (n *WebhookNotifier) post(ctx context.Context, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Nop swallows all notifications. Used when notifications are disabled.
type Nop struct{}

// SendTicketAlert discards the alert.
func (Nop) SendTicketAlert(context.Context, TicketAlert, []string, string) error { return nil }

// SendSystemNotification discards the notification.
func (Nop) SendSystemNotification(context.Context, string, string, []string, map[string]any) error {
	return nil
}

var (
	_ Notifier = (*WebhookNotifier)(nil)
	_ Notifier = Nop{}
)
