package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"token-buy-alerts/internal/app"
)

var (
	replayFromBlock int64
	replayToBlock   int64
	replayDryRun    bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay historical transfers through the alert pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayFromBlock <= 0 || replayToBlock <= 0 {
			return fmt.Errorf("--from-block and --to-block must be provided")
		}
		if replayFromBlock >= replayToBlock {
			return fmt.Errorf("--from-block must be below --to-block")
		}

		opts := app.ReplayOptions{
			FromBlock: replayFromBlock,
			ToBlock:   replayToBlock,
			DryRun:    replayDryRun,
		}

		return getApp().Replay(cmd.Context(), opts)
	},
}

func init() {
	replayCmd.Flags().Int64Var(&replayFromBlock, "from-block", 0, "Start block (inclusive)")
	replayCmd.Flags().Int64Var(&replayToBlock, "to-block", 0, "End block (inclusive)")
	replayCmd.Flags().BoolVar(&replayDryRun, "dry-run", false, "Print alerts instead of sending them")
}
