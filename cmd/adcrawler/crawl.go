package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/adlibrary-crawler/internal/config"
	"github.com/JakeFAU/adlibrary-crawler/internal/logging"
	"github.com/JakeFAU/adlibrary-crawler/internal/server"
)

// newCrawlCmd creates the 'crawl' subcommand, which performs one harvest run.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one harvest for an account owner or keyword",
		Long: `Harvests every ad the library lists for the given account owner and/or
keyword, up to --max-urls detail records unless --unlimited is set. Rate
limits slow the run down but never abort it; SIGINT or SIGTERM stops it after
writing a final checkpoint.`,
		Args: cobra.NoArgs,
		RunE: runCrawlCommand,
	}

	flags := cmd.Flags()
	flags.String("account-owner", "", "advertiser whose ads are harvested")
	flags.String("keyword", "", "keyword to search the library for")
	flags.Int("max-urls", 500, "maximum number of ad detail records to collect")
	flags.Bool("unlimited", false, "ignore --max-urls and collect every listed ad")
	flags.Bool("local", false, "run a single worker with a wider delay window")
	flags.Bool("debug", false, "enable development logging")
	flags.Bool("no-details", false, "emit URL-only records without fetching detail pages")
	flags.Int("concurrency", 4, "maximum number of concurrent workers")
	flags.Int("port", 0, "serve health, metrics, and progress on this port (0 disables)")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	cfgPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("read config flag: %w", err)
	}
	cfg, err := config.Load(cfgPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.Build(cfg.Logging)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build run: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if cerr := app.Close(closeCtx); cerr != nil {
			logger.Warn("Failed to close run", zap.Error(cerr))
		}
	}()

	if err := app.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("Crawl interrupted; final checkpoint written", zap.String("run_id", app.RunID()))
			return nil
		}
		return fmt.Errorf("run crawler: %w", err)
	}

	logger.Info("Crawl command finished.", zap.String("run_id", app.RunID()))
	return nil
}
