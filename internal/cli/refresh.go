package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/revenueinsights/bookshelf-sub000/internal/app"
)

var (
	refreshUserID  int64
	refreshBatchID int64
	refreshNoWait  bool
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh every book in a batch against the aggregator",
	RunE: func(cmd *cobra.Command, args []string) error {
		if refreshUserID <= 0 {
			return fmt.Errorf("--user must be greater than zero")
		}
		if refreshBatchID <= 0 {
			return fmt.Errorf("--batch must be greater than zero")
		}

		opts := app.RefreshOptions{
			UserID:  refreshUserID,
			BatchID: refreshBatchID,
			Wait:    !refreshNoWait,
		}

		return getApp().RefreshBatch(cmd.Context(), opts)
	},
}

func init() {
	refreshCmd.Flags().Int64Var(&refreshUserID, "user", 0, "Owning user identifier")
	refreshCmd.Flags().Int64Var(&refreshBatchID, "batch", 0, "Batch identifier to refresh")
	refreshCmd.Flags().BoolVar(&refreshNoWait, "no-wait", false, "Start the job and return without polling")
}
