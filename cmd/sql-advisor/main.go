package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sql-advisor/internal/advisor"
	"sql-advisor/internal/catalog"
	"sql-advisor/internal/config"
	"sql-advisor/internal/extractor"
	"sql-advisor/internal/model"
	"sql-advisor/internal/reporter"
	"sql-advisor/internal/slowlog"
)

var (
	inputPath    string
	configPath   string
	snapshotPath string
	hostOverride string
	reportFmt    string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "sql-advisor",
	Short: "Index advisory engine for MySQL slow queries",
	Long: `sql-advisor ingests captured slow-query records, inspects the live
index metadata of the affected tables (falling back to a structural
schema snapshot when the instance is unreachable), and emits concrete
CREATE INDEX statements with an estimated improvement range.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().StringVarP(&inputPath, "input", "i", "", "Slow-query record file or directory of .json files (required)")
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.Flags().StringVarP(&snapshotPath, "snapshot", "S", "", "Path to schema snapshot (CREATE TABLE dump)")
	rootCmd.Flags().StringVar(&hostOverride, "host", "", "Override the business DB host from the config")
	rootCmd.Flags().StringVarP(&reportFmt, "report", "r", "console", "Report format (console, json)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	_ = rootCmd.MarkFlagRequired("input")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if hostOverride != "" {
		cfg.Business.Host = hostOverride
	}
	if snapshotPath != "" {
		cfg.SnapshotPath = snapshotPath
	}

	log, err := config.NewLogger(verbose || cfg.Verbose)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx := context.Background()

	loader := slowlog.NewLoader(4)
	queries, err := loader.Load(ctx, inputPath)
	if err != nil {
		return fmt.Errorf("load slow-query records: %w", err)
	}
	log.Info("loaded slow-query records", zap.Int("count", len(queries)))

	var opts []catalog.Option
	if cfg.SnapshotPath != "" {
		snap, err := catalog.LoadSnapshot(cfg.SnapshotPath)
		if err != nil {
			log.Warn("schema snapshot unavailable, continuing without fallback",
				zap.String("path", cfg.SnapshotPath), zap.Error(err))
		} else {
			opts = append(opts, catalog.WithSnapshot(snap))
		}
	}
	if len(cfg.ExcludedDatabases) > 0 {
		opts = append(opts, catalog.WithExcludedDatabases(cfg.ExcludedDatabases))
	}

	conns := catalog.NewConnManager(cfg.Business, log)
	cat := catalog.New(conns, log, opts...)

	eng := advisor.New(extractor.New(cfg.Policy), cat, cfg.Policy, log)
	advisories := eng.AnalyzeBatch(ctx, queries)

	var rpt model.Reporter
	switch reportFmt {
	case "json":
		rpt = reporter.NewJSONReporter()
	default:
		rpt = reporter.NewConsoleReporter()
	}
	if err := rpt.Report(advisories); err != nil {
		return fmt.Errorf("reporting failed: %w", err)
	}
	return nil
}
