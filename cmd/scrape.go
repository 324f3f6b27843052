package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/bulk-harvester/internal/engine"
)

// newScrapeCmd creates the 'scrape' subcommand: fetch a flat list of URLs
// with no link following.
func newScrapeCmd() *cobra.Command {
	var (
		file        string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "scrape [url ...]",
		Short: "Fetch a flat list of URLs",
		Long: `Fetches every listed URL exactly once, without following links. URLs can
be given as arguments or read from a file (one per line, # comments allowed).
Interrupting the run checkpoints the remaining list so the next invocation
with the same URL set resumes without refetching.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			urls := args
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open url file: %w", err)
				}
				fromFile, err := engine.ParseURLList(f)
				closeErr := f.Close()
				if err != nil {
					return fmt.Errorf("parse url file: %w", err)
				}
				if closeErr != nil {
					return fmt.Errorf("close url file: %w", closeErr)
				}
				urls = append(urls, fromFile...)
			}
			if len(urls) == 0 {
				return errors.New("no URLs given: pass them as arguments or via --file")
			}
			if concurrency <= 0 {
				concurrency = appInstance.Config().Crawler.Concurrency
			}

			ctx, stop := withGracefulShutdown(cmd.Context(), appInstance)
			defer stop()

			result, err := appInstance.Service().Scrape(ctx, engine.ScrapeOptions{
				URLs:        urls,
				Concurrency: concurrency,
			})
			if err != nil {
				return fmt.Errorf("scrape: %w", err)
			}
			return printJSON(result)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "file with one URL per line")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "parallel fetches (default from config)")

	return cmd
}
