package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"seatwatch/internal/automation"
	"seatwatch/internal/scraping"
)

// StartMonitoring begins monitoring a ticket with the given search criteria.
func (a *App) StartMonitoring(ctx context.Context, ticketID string, criteria scraping.Criteria) error {
	return a.withComponents(ctx, func(comps *Components) error {
		if err := comps.Monitor.StartMonitoring(ctx, ticketID, criteria); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "monitoring started for ticket %s\n", ticketID)
		return nil
	})
}

// StopMonitoring stops monitoring a ticket.
func (a *App) StopMonitoring(ctx context.Context, ticketID string) error {
	return a.withComponents(ctx, func(comps *Components) error {
		if err := comps.Monitor.StopMonitoring(ctx, ticketID); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "monitoring stopped for ticket %s\n", ticketID)
		return nil
	})
}

// CheckTicket runs a single availability check for a ticket and prints the
// resulting snapshot.
func (a *App) CheckTicket(ctx context.Context, ticketID string) error {
	return a.withComponents(ctx, func(comps *Components) error {
		snapshot, err := comps.Monitor.CheckTicketAvailability(ctx, ticketID)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "ticket %s: available=%v listings=%d platforms=%s\n",
			ticketID, snapshot.IsAvailable, snapshot.TotalAvailable,
			strings.Join(snapshot.AvailablePlatforms, ","))
		if snapshot.BestPrice != nil {
			fmt.Fprintf(os.Stdout, "best price: %s\n", snapshot.BestPrice.StringFixed(2))
		}
		return nil
	})
}

// ListMonitored prints the status of every monitored ticket.
func (a *App) ListMonitored(ctx context.Context) error {
	return a.withComponents(ctx, func(comps *Components) error {
		statuses, err := comps.Monitor.GetMonitoredTickets(ctx)
		if err != nil {
			return err
		}
		if len(statuses) == 0 {
			fmt.Fprintln(os.Stdout, "no tickets monitored")
			return nil
		}

		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Ticket\tStatus\tLast Check (UTC)\tAlerts\tHistory")
		for _, status := range statuses {
			lastCheck := "never"
			if status.LastCheck != nil {
				lastCheck = status.LastCheck.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%d\n",
				status.TicketID, status.Status, lastCheck,
				status.AlertCount, len(status.AvailabilityHistory))
		}
		return writer.Flush()
	})
}

// SetAlertRule creates or replaces an alert rule for a ticket.
func (a *App) SetAlertRule(ctx context.Context, ticketID, condition, value string, channels []string) error {
	return a.withComponents(ctx, func(comps *Components) error {
		if err := comps.Monitor.SetAlertRule(ctx, ticketID, condition, value, channels); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "alert rule %s set for ticket %s\n", condition, ticketID)
		return nil
	})
}

// RemoveAlertRule deletes an alert rule from a ticket.
func (a *App) RemoveAlertRule(ctx context.Context, ticketID, condition string) error {
	return a.withComponents(ctx, func(comps *Components) error {
		if err := comps.Monitor.RemoveAlertRule(ctx, ticketID, condition); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "alert rule %s removed from ticket %s\n", condition, ticketID)
		return nil
	})
}

// RuleOptions parameterise purchase rule creation.
type RuleOptions struct {
	UserID         string
	CriteriaJSON   string
	ConditionsJSON string
	Strategy       string
	MaxAttempts    int
	Immediate      bool
	Recipients     []string
}

// CreatePurchaseRule creates an automated purchase rule for a user.
func (a *App) CreatePurchaseRule(ctx context.Context, opts RuleOptions) error {
	var criteria scraping.Criteria
	if opts.CriteriaJSON != "" {
		if err := json.Unmarshal([]byte(opts.CriteriaJSON), &criteria); err != nil {
			return fmt.Errorf("invalid criteria: %w", err)
		}
	}
	var conditions map[string]any
	if opts.ConditionsJSON != "" {
		if err := json.Unmarshal([]byte(opts.ConditionsJSON), &conditions); err != nil {
			return fmt.Errorf("invalid conditions: %w", err)
		}
	}
	prefs := automation.Preferences{
		Strategy:            opts.Strategy,
		MaxAttempts:         opts.MaxAttempts,
		ImmediateProcessing: opts.Immediate,
		Recipients:          opts.Recipients,
	}

	return a.withComponents(ctx, func(comps *Components) error {
		ruleID, err := comps.Automation.CreatePurchaseRule(ctx, opts.UserID, criteria, conditions, prefs)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "purchase rule created: %s\n", ruleID)
		return nil
	})
}

// ListPurchaseRules prints a user's purchase rules.
func (a *App) ListPurchaseRules(ctx context.Context, userID string) error {
	return a.withComponents(ctx, func(comps *Components) error {
		rules, err := comps.Automation.GetUserPurchaseRules(ctx, userID)
		if err != nil {
			return err
		}
		if len(rules) == 0 {
			fmt.Fprintln(os.Stdout, "no purchase rules found")
			return nil
		}

		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Rule\tStatus\tTriggered\tPurchases\tCreated (UTC)")
		for _, rule := range rules {
			fmt.Fprintf(writer, "%s\t%s\t%d\t%d\t%s\n",
				rule.RuleID, rule.Status, rule.TriggeredCount,
				rule.SuccessfulPurchases, rule.CreatedAt.UTC().Format(time.RFC3339))
		}
		return writer.Flush()
	})
}

// DeactivatePurchaseRule marks a purchase rule inactive.
func (a *App) DeactivatePurchaseRule(ctx context.Context, ruleID string) error {
	return a.withComponents(ctx, func(comps *Components) error {
		if err := comps.Automation.DeactivatePurchaseRule(ctx, ruleID); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "purchase rule deactivated: %s\n", ruleID)
		return nil
	})
}

// ProcessQueue drains the purchase queue, or processes a single purchase.
func (a *App) ProcessQueue(ctx context.Context, purchaseID string) error {
	return a.withComponents(ctx, func(comps *Components) error {
		results, err := comps.Automation.ProcessPurchaseQueue(ctx, purchaseID)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Fprintln(os.Stdout, "purchase queue is empty")
			return nil
		}

		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Purchase\tStatus\tDetail")
		for _, result := range results {
			detail := result.Err
			if detail == "" && result.Result != nil {
				detail = result.Result.Message
			}
			fmt.Fprintf(writer, "%s\t%s\t%s\n", result.PurchaseID, result.Status, sanitizeInline(detail))
		}
		return writer.Flush()
	})
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
