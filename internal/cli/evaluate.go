package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var evaluateUserID int64

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run a single alert sweep for one user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if evaluateUserID <= 0 {
			return fmt.Errorf("--user must be greater than zero")
		}
		return getApp().Evaluate(cmd.Context(), evaluateUserID)
	},
}

func init() {
	evaluateCmd.Flags().Int64Var(&evaluateUserID, "user", 0, "Owning user identifier")
}
