package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/moditems-crawler/internal/app"
	"github.com/JakeFAU/moditems-crawler/internal/config"
	"github.com/JakeFAU/moditems-crawler/internal/worklist"
)

type crawlOptions struct {
	root *rootOptions

	mods        []string
	fromJSON    bool
	modsFile    string
	storePath   string
	download    bool
	workers     int
	metricsAddr string
}

// newCrawlCmd creates the explicit 'crawl' subcommand; the root command runs
// the same crawl.
func newCrawlCmd(root *rootOptions) *cobra.Command {
	opts := &crawlOptions{root: root}
	cmd := &cobra.Command{
		Use:   "crawl [mod...]",
		Short: "Crawl the given mods (default AppleSkin)",
		Long: `Crawls every mod named by --mods (positional names are appended) or, with
--from-json, every "name" in the input file. Each mod is searched, its items
and images resolved, and the record appended to the store.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          opts.run,
	}
	opts.bindFlags(cmd)
	return cmd
}

func (o *crawlOptions) bindFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSliceVar(&o.mods, "mods", nil, "mod names to crawl (repeat or comma separate)")
	f.BoolVar(&o.fromJSON, "from-json", false, "read mod names from the input file")
	f.StringVar(&o.modsFile, "mods-file", "", "input file for --from-json (default input.mods_file)")
	f.StringVar(&o.storePath, "store", "", "JSON store path (default store.path)")
	f.BoolVar(&o.download, "download", false, "download resolved images")
	f.IntVar(&o.workers, "workers", 0, "number of mods crawled concurrently (default crawler.workers)")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the crawl")
}

// overrides applies the flags the user actually set on top of the loaded
// configuration.
func (o *crawlOptions) overrides(cmd *cobra.Command) func(*config.Config) {
	f := cmd.Flags()
	return func(cfg *config.Config) {
		if f.Changed("mods-file") {
			cfg.Input.ModsFile = o.modsFile
		}
		if f.Changed("store") {
			cfg.Store.Path = o.storePath
		}
		if f.Changed("download") {
			cfg.Download.Enabled = o.download
		}
		if f.Changed("workers") {
			cfg.Crawler.Workers = o.workers
		}
		if f.Changed("metrics-addr") {
			cfg.Metrics.Addr = o.metricsAddr
		}
	}
}

// run crawls the resolved worklist. Per-mod failures and an unreadable
// worklist are logged and end the command successfully.
func (o *crawlOptions) run(cmd *cobra.Command, args []string) error {
	cfg, logger, done, err := o.root.setup(o.overrides(cmd))
	if err != nil {
		return err
	}
	defer done()

	names, err := worklist.Resolve(append(o.mods, args...), o.fromJSON, cfg.Input.ModsFile)
	if err != nil {
		logger.Error("load worklist failed", zap.String("path", cfg.Input.ModsFile), zap.Error(err))
		return nil
	}

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, logger, o.root.appOpts...)
	if err != nil {
		logger.Error("init crawl services failed", zap.Error(err))
		return err
	}
	defer a.Close(ctx)

	if _, err := a.Run(ctx, names); err != nil {
		logger.Warn("crawl stopped early", zap.Error(err))
	}
	return nil
}
