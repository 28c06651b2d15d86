package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/revenueinsights/bookshelf-sub000/internal/app"
)

var (
	chartUserID int64
	chartISBN   string
	chartPNG    string
)

var chartCmd = &cobra.Command{
	Use:   "chart",
	Short: "Render a book's price history as a PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		if chartUserID <= 0 {
			return fmt.Errorf("--user must be greater than zero")
		}
		if chartISBN == "" {
			return fmt.Errorf("--isbn must be provided")
		}

		opts := app.ChartOptions{
			UserID:  chartUserID,
			ISBN:    chartISBN,
			PNGPath: chartPNG,
		}

		return getApp().Chart(cmd.Context(), opts)
	},
}

func init() {
	chartCmd.Flags().Int64Var(&chartUserID, "user", 0, "Owning user identifier")
	chartCmd.Flags().StringVar(&chartISBN, "isbn", "", "ISBN of the book to chart")
	chartCmd.Flags().StringVar(&chartPNG, "png", "price-history.png", "Output PNG path")
}
