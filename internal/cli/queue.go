package cli

import (
	"github.com/spf13/cobra"
)

var queuePurchaseID string

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Process the pending purchase queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ProcessQueue(cmd.Context(), queuePurchaseID)
	},
}

func init() {
	queueCmd.Flags().StringVar(&queuePurchaseID, "purchase", "", "Process a single purchase id instead of draining")
}
