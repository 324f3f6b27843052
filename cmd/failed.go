package cmd

import (
	"github.com/spf13/cobra"
)

// newFailedCmd creates the 'failed' subcommand tree for inspecting and
// clearing the failed-URL record. Failed URLs are never retried
// automatically; clearing the record and resubmitting is the retry path.
func newFailedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failed",
		Short: "List the failed-URL record",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			failed := appInstance.Service().Failed()
			return printJSON(map[string]any{
				"count":  len(failed),
				"failed": failed,
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Clear the failed-URL record",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cleared := appInstance.Service().ClearFailed()
			return printJSON(map[string]int{"cleared": cleared})
		},
	})

	return cmd
}
