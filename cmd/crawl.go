package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/mofcom-crawler/internal/app"
	"github.com/JakeFAU/mofcom-crawler/internal/config"
	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
	"github.com/JakeFAU/mofcom-crawler/internal/logging"
)

type crawlOptions struct {
	dryRun    bool
	countries []string
}

func newCrawlCmd(root *rootOptions) *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl pass",
		Long: `Crawls every selected country for every keyword line and upserts the
accepted articles. Interrupting the command stops new work; records already
collected for a finished partition are still written.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, root, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "keep records in memory instead of writing to the store")
	cmd.Flags().StringSliceVar(&opts.countries, "country", nil, "restrict the pass to these ISO alpha-2 codes")
	return cmd
}

func crawlOverrides(cmd *cobra.Command, opts *crawlOptions) map[string]any {
	overrides := map[string]any{}
	if cmd.Flags().Changed("dry-run") {
		overrides["crawler.dry_run"] = opts.dryRun
	}
	if len(opts.countries) > 0 {
		overrides["countries.only"] = opts.countries
	}
	return overrides
}

func runCrawl(cmd *cobra.Command, root *rootOptions, opts *crawlOptions) error {
	cfg, err := config.LoadWithOverrides(root.configPath, crawlOverrides(cmd, opts))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // stderr sync fails on some terminals
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.Run(ctx)
	printSummary(cmd, summary)
	if errors.Is(err, context.Canceled) {
		// The next scheduled pass resumes from the stored watermark.
		logger.Warn("crawl interrupted before every country finished", zap.Error(err))
		return nil
	}
	return err
}

func printSummary(cmd *cobra.Command, s crawler.RunSummary) {
	if s.RunID == "" {
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(),
		"run %s: %d countries, %d partitions (%d aborted, %d skipped), %d inserted, %d existing, %d failed in %s\n",
		s.RunID, s.Countries, s.Partitions, s.Aborted, s.Skipped,
		s.Counts.Inserted, s.Counts.Existing, s.Counts.Failed,
		s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond),
	)
}
