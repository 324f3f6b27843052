package cmd

import (
	"github.com/spf13/cobra"
)

// newStatsCmd creates the 'stats' subcommand showing cross-job counters.
func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cumulative harvest statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(appInstance.Service().Stats())
		},
	}
}
