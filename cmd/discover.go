package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/bulk-harvester/internal/engine"
)

// newDiscoverCmd creates the 'discover' subcommand: a breadth-first crawl
// from a seed URL down to a maximum depth.
func newDiscoverCmd() *cobra.Command {
	var (
		maxDepth    int
		concurrency int
		exclude     []string
		keywords    []string
	)

	cmd := &cobra.Command{
		Use:   "discover <seed-url>",
		Short: "Discover URLs breadth-first from a seed",
		Long: `Crawls outward from the seed URL, collecting every same-filter link down
to --max-depth. Interrupting the run checkpoints the frontier so the next
invocation with the same seed and depth resumes where it left off.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if maxDepth < 0 {
				maxDepth = appInstance.Config().Crawler.MaxDepthDefault
			}
			if concurrency <= 0 {
				concurrency = appInstance.Config().Crawler.Concurrency
			}

			ctx, stop := withGracefulShutdown(cmd.Context(), appInstance)
			defer stop()

			result, err := appInstance.Service().Discover(ctx, engine.DiscoverOptions{
				SeedURL:         args[0],
				MaxDepth:        maxDepth,
				Concurrency:     concurrency,
				ExcludePatterns: exclude,
				Keywords:        keywords,
			})
			if err != nil {
				return fmt.Errorf("discover: %w", err)
			}
			return printJSON(result)
		},
	}

	cmd.Flags().IntVar(&maxDepth, "max-depth", -1, "maximum link depth from the seed (default from config)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "parallel fetches (default from config)")
	cmd.Flags().StringArrayVar(&exclude, "exclude", nil, "regex pattern for URLs to skip (repeatable)")
	cmd.Flags().StringArrayVar(&keywords, "keyword", nil, "only follow URLs containing one of these substrings (repeatable)")

	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
