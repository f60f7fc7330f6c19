package app

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
)

// Status prints an operator overview: per-service health, monitoring
// statistics, scraping metrics and automation queue state.
func (a *App) Status(ctx context.Context) error {
	return a.withComponents(ctx, func(comps *Components) error {
		health := comps.Orchestrator.GetHealthStatus(ctx)

		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(writer, "Overall health:\t%s\n", health.Overall)
		fmt.Fprintln(writer)

		fmt.Fprintln(writer, "Service\tStatus\tError")
		names := make([]string, 0, len(health.Services))
		for name := range health.Services {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			svc := health.Services[name]
			fmt.Fprintf(writer, "%s\t%s\t%s\n", name, svc.Status, sanitizeInline(svc.Err))
		}
		fmt.Fprintln(writer)

		monStats, err := comps.Monitor.GetStatistics(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(writer, "Monitored tickets:\t%d\n", monStats.TotalMonitored)
		fmt.Fprintf(writer, "Recent activity (1h):\t%d\n", monStats.RecentActivity)
		fmt.Fprintf(writer, "Alerts sent:\t%d\n", monStats.TotalAlertsSent)
		fmt.Fprintf(writer, "Monitoring health:\t%s\n", monStats.Health)
		fmt.Fprintln(writer)

		scrapeHealth, err := comps.Scraper.GetHealth(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(writer, "Scraping health:\t%s (%d/%d platforms)\n",
			scrapeHealth.Status, scrapeHealth.HealthyPlatforms, scrapeHealth.TotalPlatforms)
		for _, metrics := range scrapeHealth.Platforms {
			fmt.Fprintf(writer, "  %s:\tscrapes=%d success_rate=%.0f%% avg_listings=%.1f\n",
				metrics.Platform, metrics.TotalScrapes, metrics.SuccessRate*100, metrics.AvgListings)
		}
		fmt.Fprintln(writer)

		autoStats, err := comps.Automation.GetStatistics(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(writer, "Active purchase rules:\t%d\n", autoStats.TotalRules)
		fmt.Fprintf(writer, "Purchase queue depth:\t%d\n", autoStats.QueueDepth)
		fmt.Fprintf(writer, "Queue health:\t%s\n", autoStats.QueueHealth)

		return writer.Flush()
	})
}

// UserStats prints one user's automation statistics.
func (a *App) UserStats(ctx context.Context, userID string) error {
	return a.withComponents(ctx, func(comps *Components) error {
		stats, err := comps.Automation.GetUserStatistics(ctx, userID)
		if err != nil {
			return err
		}

		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(writer, "User:\t%s\n", stats.UserID)
		fmt.Fprintf(writer, "Rules:\t%d (%d active)\n", stats.TotalRules, stats.ActiveRules)
		fmt.Fprintf(writer, "Triggered:\t%d\n", stats.TotalTriggered)
		fmt.Fprintf(writer, "Successful purchases:\t%d\n", stats.SuccessfulPurchases)
		fmt.Fprintf(writer, "Total spent:\t%s\n", stats.TotalSpent.StringFixed(2))
		return writer.Flush()
	})
}
