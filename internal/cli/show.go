package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/revenueinsights/bookshelf-sub000/internal/app"
)

var (
	showUserID int64
	showLimit  int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recently refreshed books",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showUserID <= 0 {
			return fmt.Errorf("--user must be greater than zero")
		}
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			UserID: showUserID,
			Limit:  showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().Int64Var(&showUserID, "user", 0, "Owning user identifier")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of books to display")
}
