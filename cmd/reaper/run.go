package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dataharvest/reaper/internal/config"
	"github.com/dataharvest/reaper/internal/enrich"
	"github.com/dataharvest/reaper/internal/extract"
	_ "github.com/dataharvest/reaper/internal/extract/sites"
	"github.com/dataharvest/reaper/internal/fetcher"
	"github.com/dataharvest/reaper/internal/ledger"
	"github.com/dataharvest/reaper/internal/partition"
	"github.com/dataharvest/reaper/internal/scheduler"
	"github.com/dataharvest/reaper/internal/session"
	"github.com/dataharvest/reaper/internal/sink"
	"github.com/dataharvest/reaper/internal/types"
)

var (
	inputSpec  string
	setValues  []string
	maxRecords int
	noResume   bool
	outputDir  string
	outputFmt  string
	workers    int
	noEnrich   bool
	proxies    []string
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <site>",
		Short: "Run one site across its partitions",
		Long: `Run scrapes the named site. Partitions come from --input (a CSV or
XLSX file, or a glob of them) or from repeated --set key=value pairs
for a single ad-hoc partition.`,
		Args: cobra.ExactArgs(1),
		RunE: runSite,
	}

	cmd.Flags().StringVarP(&inputSpec, "input", "i", "", "partition source: CSV/XLSX path or glob")
	cmd.Flags().StringArrayVar(&setValues, "set", nil, "ad-hoc partition value key=value (repeatable)")
	cmd.Flags().IntVarP(&maxRecords, "max-records", "m", -1, "stop cleanly after this many records (-1 = config)")
	cmd.Flags().BoolVar(&noResume, "no-resume", false, "ignore previous runs' ledger state")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory override")
	cmd.Flags().StringVarP(&outputFmt, "format", "f", "", "output format: csv, xlsx, ndjson, mongo")
	cmd.Flags().IntVarP(&workers, "workers", "n", 0, "concurrent fetch workers (1-4)")
	cmd.Flags().BoolVar(&noEnrich, "no-enrich", false, "disable LLM enrichment")
	cmd.Flags().StringArrayVar(&proxies, "proxy", nil, "proxy URL to rotate through (repeatable)")

	return cmd
}

func runSite(cmd *cobra.Command, args []string) error {
	site := args[0]

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applyFlags(cfg); err != nil {
		return err
	}
	logger := setupLogger(&cfg.Logging)

	extractor, err := extract.Lookup(site)
	if err != nil {
		return fmt.Errorf("%w: known sites are %s", err, strings.Join(extract.Sites(), ", "))
	}

	store, err := loadPartitions(cfg)
	if err != nil {
		return err
	}

	led, err := ledger.Open(filepath.Join(cfg.Ledger.Dir, site), cfg.Run.Resume, logger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer led.Close()

	stamp := time.Now().Format(scheduler.StampLayout)

	out, artifact, err := openSink(cfg, site, stamp, logger)
	if err != nil {
		return err
	}

	httpFetcher, err := fetcher.NewHTTPFetcher(&cfg.Fetcher, logger)
	if err != nil {
		return fmt.Errorf("create fetcher: %w", err)
	}
	defer httpFetcher.Close()

	report, err := scheduler.NewReport(cfg.Logging.EventDir, site, stamp)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer report.Close()

	enricher, saveCatalog, err := buildEnricher(cfg, site, logger)
	if err != nil {
		return err
	}
	if saveCatalog != nil {
		defer saveCatalog()
	}

	sched, err := scheduler.New(scheduler.Options{
		Config:   cfg,
		Site:     extractor,
		Store:    store,
		Ledger:   led,
		Sink:     out,
		Fetcher:  httpFetcher,
		Acquirer: session.NewAcquirer(&cfg.Session, logger),
		Enricher: enricher,
		Report:   report,
		SkipDir:  cfg.Logging.EventDir,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting run",
		"site", site,
		"partitions", store.Len(),
		"workers", cfg.Run.Workers,
		"resume", cfg.Run.Resume,
		"output", artifact,
	)

	start := time.Now()
	err = sched.Run(ctx)
	elapsed := time.Since(start).Round(time.Millisecond)

	switch {
	case err == nil && sched.CapReached():
		fmt.Printf("Stopped at record cap after %s. Re-run to continue; completed work is ledgered.\n", elapsed)
	case err == nil:
		fmt.Printf("Run complete in %s.\n", elapsed)
	case ctx.Err() != nil && err == ctx.Err():
		fmt.Printf("Interrupted after %s. Completed partitions are ledgered; re-run to resume.\n", elapsed)
		return nil
	default:
		return err
	}

	fmt.Printf("   Records:    %d emitted, %d duplicates suppressed\n",
		report.RecordsEmitted.Load(), report.Duplicates.Load())
	fmt.Printf("   Partitions: %d completed, %d skipped\n",
		report.PartitionsDone.Load(), report.PartitionsSkipped.Load())
	fmt.Printf("   Output:     %s\n", artifact)
	return nil
}

// applyFlags layers CLI flags over the loaded config.
func applyFlags(cfg *config.Config) error {
	if inputSpec != "" {
		cfg.Run.InputSpec = inputSpec
	}
	if maxRecords >= 0 {
		cfg.Run.MaxRecords = maxRecords
	}
	if noResume {
		cfg.Run.Resume = false
	}
	if outputDir != "" {
		cfg.Output.Dir = outputDir
	}
	if outputFmt != "" {
		cfg.Output.Format = outputFmt
	}
	if workers > 0 {
		cfg.Run.Workers = workers
	}
	if noEnrich {
		cfg.AI.Enabled = false
	}
	if len(proxies) > 0 {
		cfg.Fetcher.ProxyURLs = proxies
	}
	return cfg.Validate()
}

// loadPartitions builds the partition store from --input or --set.
func loadPartitions(cfg *config.Config) (*partition.Store, error) {
	if len(setValues) > 0 {
		values := map[string]string{}
		for _, kv := range setValues {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return nil, fmt.Errorf("--set %q is not key=value", kv)
			}
			values[k] = v
		}
		return partition.NewStatic([]*types.Partition{types.NewPartition("", values)}), nil
	}

	spec := cfg.Run.InputSpec
	if spec == "" {
		return nil, fmt.Errorf("%w: give --input or at least one --set", types.ErrInputMissing)
	}
	if strings.ContainsAny(spec, "*?[") {
		return partition.FromGlob(spec)
	}
	return partition.FromFile(spec)
}

// openSink builds the output sink and returns its artifact path for
// operator messages.
func openSink(cfg *config.Config, site, stamp string, logger *slog.Logger) (sink.Sink, string, error) {
	if cfg.Output.Format == "mongo" {
		s, err := sink.New("mongo", cfg.Output.Mongo, logger)
		return s, cfg.Output.Mongo, err
	}

	label := cfg.Output.Label
	if label == "" {
		label = "export"
	}
	path := sink.ArtifactPath(cfg.Output.Dir, site, label, stamp, cfg.Output.Format)
	s, err := sink.New(cfg.Output.Format, path, logger)
	return s, path, err
}

// buildEnricher wires LLM enrichment for sites that use it. Returns a
// save hook for the location catalog's learned entries.
func buildEnricher(cfg *config.Config, site string, logger *slog.Logger) (scheduler.Enricher, func(), error) {
	if !cfg.AI.Enabled || site != "jobs" {
		return nil, nil, nil
	}
	if cfg.AI.APIKey == "" {
		return nil, nil, fmt.Errorf("enrichment is enabled for %s but OPENAI_API_KEY is not set (pass --no-enrich to run without it)", site)
	}

	var opts []enrich.Option
	if cfg.AI.Model != "" {
		opts = append(opts, enrich.WithModel(cfg.AI.Model))
	}
	e, err := enrich.New(cfg.AI.APIKey, logger, nil, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create enricher: %w", err)
	}

	catalog, err := enrich.LoadLocationCatalog(cfg.AI.LocationCatalog)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("location catalog loaded",
		"path", cfg.AI.LocationCatalog, "locations", len(catalog.Flatten()))
	save := func() {
		if err := catalog.Save(); err != nil {
			logger.Warn("save location catalog", "error", err)
		}
	}
	return enrich.NewJobEnricher(e, catalog), save, nil
}

func sitesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "List registered sites",
		Run: func(cmd *cobra.Command, args []string) {
			planned := map[string]bool{}
			for _, site := range session.PlannedSites() {
				planned[site] = true
			}
			for _, site := range extract.Sites() {
				marker := " "
				if planned[site] {
					marker = "*"
				}
				fmt.Printf("  %s %s\n", marker, site)
			}
			fmt.Println("\n  * requires a browser-acquired session")
		},
	}
}
