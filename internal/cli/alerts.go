package cli

import (
	"github.com/spf13/cobra"
)

var alertChannels []string

var alertCmd = &cobra.Command{
	Use:   "alert",
	Short: "Manage ticket alert rules",
}

var alertSetCmd = &cobra.Command{
	Use:   "set <ticket-id> <condition> [value]",
	Short: "Set an alert rule (available, price_below, price_above)",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		value := ""
		if len(args) == 3 {
			value = args[2]
		}
		return getApp().SetAlertRule(cmd.Context(), args[0], args[1], value, alertChannels)
	},
}

var alertRemoveCmd = &cobra.Command{
	Use:   "remove <ticket-id> <condition>",
	Short: "Remove an alert rule",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RemoveAlertRule(cmd.Context(), args[0], args[1])
	},
}

func init() {
	alertSetCmd.Flags().StringSliceVar(&alertChannels, "channels", nil, "Notification channels (defaults to email)")

	alertCmd.AddCommand(alertSetCmd)
	alertCmd.AddCommand(alertRemoveCmd)
}
