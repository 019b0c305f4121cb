package cli

import (
	"github.com/spf13/cobra"

	"coinwatch/internal/app"
)

var (
	showLimit  int
	showErrors bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print recent price records or error-log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Show(cmd.Context(), app.ShowOptions{Limit: showLimit, Errors: showErrors})
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Maximum number of rows to print")
	showCmd.Flags().BoolVar(&showErrors, "errors", false, "Show the error log instead of price records")
}
