package cli

import (
	"github.com/spf13/cobra"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Push synthetic alerts through the configured channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SimulateAlerts(cmd.Context())
	},
}
