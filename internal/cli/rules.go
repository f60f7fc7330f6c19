package cli

import (
	"github.com/spf13/cobra"

	"seatwatch/internal/app"
)

var (
	ruleUser        string
	ruleCriteria    string
	ruleConditions  string
	ruleStrategy    string
	ruleMaxAttempts int
	ruleImmediate   bool
	ruleRecipients  []string
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage automated purchase rules",
}

var rulesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a purchase rule",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.RuleOptions{
			UserID:         ruleUser,
			CriteriaJSON:   ruleCriteria,
			ConditionsJSON: ruleConditions,
			Strategy:       ruleStrategy,
			MaxAttempts:    ruleMaxAttempts,
			Immediate:      ruleImmediate,
			Recipients:     ruleRecipients,
		}
		return getApp().CreatePurchaseRule(cmd.Context(), opts)
	},
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's purchase rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListPurchaseRules(cmd.Context(), ruleUser)
	},
}

var rulesDeactivateCmd = &cobra.Command{
	Use:   "deactivate <rule-id>",
	Short: "Deactivate a purchase rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().DeactivatePurchaseRule(cmd.Context(), args[0])
	},
}

var rulesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show a user's automation statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().UserStats(cmd.Context(), ruleUser)
	},
}

func init() {
	rulesCreateCmd.Flags().StringVar(&ruleUser, "user", "", "Owning user id")
	rulesCreateCmd.Flags().StringVar(&ruleCriteria, "criteria", "", "Ticket search criteria as JSON")
	rulesCreateCmd.Flags().StringVar(&ruleConditions, "conditions", "", `Trigger conditions as JSON (max_price, min_availability, preferred_platforms)`)
	rulesCreateCmd.Flags().StringVar(&ruleStrategy, "strategy", "", "Purchase strategy name (defaults to the default strategy)")
	rulesCreateCmd.Flags().IntVar(&ruleMaxAttempts, "max-attempts", 0, "Purchase retry budget (defaults to config)")
	rulesCreateCmd.Flags().BoolVar(&ruleImmediate, "immediate", false, "Process triggered purchases synchronously")
	rulesCreateCmd.Flags().StringSliceVar(&ruleRecipients, "recipients", nil, "Outcome notification recipients")
	_ = rulesCreateCmd.MarkFlagRequired("user")

	rulesListCmd.Flags().StringVar(&ruleUser, "user", "", "Owning user id")
	_ = rulesListCmd.MarkFlagRequired("user")

	rulesStatsCmd.Flags().StringVar(&ruleUser, "user", "", "Owning user id")
	_ = rulesStatsCmd.MarkFlagRequired("user")

	rulesCmd.AddCommand(rulesCreateCmd)
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesDeactivateCmd)
	rulesCmd.AddCommand(rulesStatsCmd)
}
