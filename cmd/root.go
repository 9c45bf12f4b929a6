// Package cmd defines and implements the CLI commands for the moditems
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/moditems-crawler/internal/app"
	"github.com/JakeFAU/moditems-crawler/internal/config"
	"github.com/JakeFAU/moditems-crawler/internal/logging"
)

type rootOptions struct {
	configPath string
	// appOpts customize the crawl services; tests use them to isolate
	// Prometheus registries.
	appOpts []app.Option
}

// newRootCmd creates the root command. Without a subcommand it crawls.
func newRootCmd(appOpts ...app.Option) *cobra.Command {
	root := &rootOptions{appOpts: appOpts}
	crawl := &crawlOptions{root: root}

	cmd := &cobra.Command{
		Use:   "moditems",
		Short: "Crawl a MediaWiki for the items and images of named mods.",
		Long: `moditems searches a MediaWiki for "<mod> items", resolves the images of
every matching page and appends the results to a JSON store keyed by mod
name. Mods already in the store are skipped, so a crawl can be re-run to
pick up where it stopped.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          crawl.run,
	}

	cmd.PersistentFlags().StringVar(&root.configPath, "config", "", "optional YAML config file")
	crawl.bindFlags(cmd)

	cmd.AddCommand(newCrawlCmd(root))
	cmd.AddCommand(newServeCmd(root))
	return cmd
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running
// command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "moditems: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration, lets mutate apply flag overrides, and builds the
// logger. Errors here are the only ones that end the process non-zero.
func (r *rootOptions) setup(mutate func(*config.Config)) (config.Config, *zap.Logger, func(), error) {
	cfg, err := config.Load(r.configPath)
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("load config: %w", err)
	}
	if mutate != nil {
		mutate(&cfg)
		if err := cfg.Validate(); err != nil {
			return config.Config{}, nil, nil, fmt.Errorf("validate flags: %w", err)
		}
	}
	logger, cleanup, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		File:        cfg.Logging.File,
	})
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	done := func() {
		_ = logger.Sync()
		cleanup()
	}
	return cfg, logger, done, nil
}
