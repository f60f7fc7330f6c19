package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"seatwatch/internal/scraping"
)

var monitorCriteria string

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Manage ticket monitoring",
}

var monitorStartCmd = &cobra.Command{
	Use:   "start <ticket-id>",
	Short: "Start monitoring a ticket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var criteria scraping.Criteria
		if monitorCriteria != "" {
			if err := json.Unmarshal([]byte(monitorCriteria), &criteria); err != nil {
				return fmt.Errorf("invalid --criteria value: %w", err)
			}
		}
		return getApp().StartMonitoring(cmd.Context(), args[0], criteria)
	},
}

var monitorStopCmd = &cobra.Command{
	Use:   "stop <ticket-id>",
	Short: "Stop monitoring a ticket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().StopMonitoring(cmd.Context(), args[0])
	},
}

var monitorCheckCmd = &cobra.Command{
	Use:   "check <ticket-id>",
	Short: "Run one availability check for a ticket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().CheckTicket(cmd.Context(), args[0])
	},
}

var monitorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List monitored tickets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListMonitored(cmd.Context())
	},
}

func init() {
	monitorStartCmd.Flags().StringVar(&monitorCriteria, "criteria", "", `Search criteria as JSON (e.g. '{"event":"...","city":"..."}')`)

	monitorCmd.AddCommand(monitorStartCmd)
	monitorCmd.AddCommand(monitorStopCmd)
	monitorCmd.AddCommand(monitorCheckCmd)
	monitorCmd.AddCommand(monitorListCmd)
}
