package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/fundingedge/internal/arbitrage"
	"github.com/sawpanic/fundingedge/internal/cache"
	"github.com/sawpanic/fundingedge/internal/collector"
	"github.com/sawpanic/fundingedge/internal/collector/adapters"
	"github.com/sawpanic/fundingedge/internal/config"
	"github.com/sawpanic/fundingedge/internal/metrics"
	"github.com/sawpanic/fundingedge/internal/movingavg"
	"github.com/sawpanic/fundingedge/internal/ops"
	"github.com/sawpanic/fundingedge/internal/persistence"
	"github.com/sawpanic/fundingedge/internal/persistence/postgres"
	"github.com/sawpanic/fundingedge/internal/query"
	"github.com/sawpanic/fundingedge/internal/rollup"
	"github.com/sawpanic/fundingedge/internal/scheduler"
	"github.com/sawpanic/fundingedge/internal/unified"
	"github.com/sawpanic/fundingedge/internal/venue"
	"github.com/sawpanic/fundingedge/internal/volatility"
)

const (
	appName = "fundingedge"
	version = "v0.1.0"
)

var configPath string

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Perpetual-futures funding-rate aggregator across venue collectors.",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/fundingedge.yaml", "path to YAML config file")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newCollectorCmd())
	rootCmd.AddCommand(newRollupCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

// app bundles every long-lived component a daemon or one-shot command needs,
// built once from the loaded config.
type app struct {
	cfg        *config.AppConfig
	primaryDB  persistence.HealthCheck
	unifiedDB  persistence.HealthCheck
	stores     persistence.Stores
	switches   *ops.SwitchManager
	metrics    *metrics.Registry
	cache      *cache.Cache
	fleet      *collector.Fleet
	scheduler  *scheduler.Scheduler
	query      *query.Service
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadAppConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	primaryDB, err := postgres.Connect(ctx, cfg.Primary.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect primary database: %w", err)
	}
	unifiedDB, err := postgres.Connect(ctx, cfg.Unified.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect unified database: %w", err)
	}

	snapshotRepo := postgres.NewSnapshotRepo(primaryDB, cfg.Primary.QueryTimeout)
	tokenRepo := postgres.NewNormalizedTokenRepo(primaryDB, cfg.Primary.QueryTimeout)
	statusRepo := postgres.NewCollectorStatusRepo(primaryDB, cfg.Primary.QueryTimeout)
	volRepo := postgres.NewVolatilityRepo(primaryDB, cfg.Primary.QueryTimeout)

	unifiedRepo := postgres.NewUnifiedRepo(unifiedDB, cfg.Unified.QueryTimeout)
	maRepo := postgres.NewMovingAverageRepo(unifiedDB, cfg.Unified.QueryTimeout)
	arbRepo := postgres.NewArbitrageRepo(unifiedDB, cfg.Unified.QueryTimeout)
	hourSource := postgres.NewHourAggregateSource(primaryDB, cfg.Primary.QueryTimeout)

	stores := persistence.Stores{
		Snapshots:  snapshotRepo,
		Rollups:    snapshotRepo,
		Tokens:     tokenRepo,
		Collectors: statusRepo,
		Unified:    unifiedRepo,
		MovingAvgs: maRepo,
		Arbitrage:  arbRepo,
		Volatility: volRepo,
	}

	switches := ops.NewSwitchManager(cfg.Venues.SwitchConfig())
	reg := metrics.NewRegistry(prometheus.DefaultRegisterer)

	var c *cache.Cache
	if cfg.Cache.Enabled {
		c = cache.New(cfg.Cache.Addr, cfg.Cache.DB)
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	fleet := collector.NewFleet(snapshotRepo, statusRepo, httpClient, adapters.Build, log.Logger)

	rollupEngine := rollup.NewEngine(snapshotRepo, log.Logger)
	volatilityEngine := volatility.NewEngine(volRepo, log.Logger)
	unifiedEngine := unified.NewEngine(unifiedRepo, hourSource, log.Logger)
	movingavgEngine := movingavg.NewEngine(maRepo, unifiedRepo, log.Logger)
	arbitrageEngine := arbitrage.NewEngine(arbRepo, maRepo, unifiedRepo, log.Logger)

	sched := scheduler.New(
		rollupEngine, volatilityEngine, unifiedEngine, movingavgEngine, arbitrageEngine,
		switches, reg,
		cfg.Scheduler.FiveMinuteInterval, cfg.Scheduler.HourlyInterval,
		log.Logger,
	)

	return &app{
		cfg:       cfg,
		primaryDB: postgres.NewHealthCheck(primaryDB),
		unifiedDB: postgres.NewHealthCheck(unifiedDB),
		stores:    stores,
		switches:  switches,
		metrics:   reg,
		cache:     c,
		fleet:     fleet,
		scheduler: sched,
		query:     query.NewService(stores, c),
	}, nil
}

func newServeCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the collector fleet and scheduler as a long-lived daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}

			if !a.switches.IsEmergencyActive(ops.SwitchIngestion) {
				a.fleet.StartAll(ctx, a.switches)
			} else {
				log.Warn().Msg("ingestion switch active at startup, collector fleet not started")
			}

			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				log.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")
				if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
					log.Error().Err(err).Msg("metrics server stopped")
				}
			}()

			err = a.scheduler.Start(ctx)
			a.fleet.StopAll()
			if err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on")
	return cmd
}

func newCollectorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collector",
		Short: "Inspect or control individual venue collectors",
	}
	cmd.AddCommand(newCollectorStatusCmd())
	cmd.AddCommand(newCollectorStartCmd())
	cmd.AddCommand(newCollectorStopCmd())
	return cmd
}

func venueWorker(ctx context.Context, a *app, name string) (*collector.Worker, error) {
	return a.fleet.Worker(venue.Tag(name))
}

func newCollectorStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [venue]",
		Short: "Print collector status, for one venue or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx)
			if err != nil {
				return err
			}

			if len(args) == 0 {
				statuses, err := a.stores.Collectors.List(ctx)
				if err != nil {
					return err
				}
				return printJSON(statuses)
			}

			w, err := venueWorker(ctx, a, args[0])
			if err != nil {
				return err
			}
			result, err := w.Send(ctx, collector.CmdStatus)
			if err != nil {
				return err
			}
			return printJSON(result.Status)
		},
	}
}

func newCollectorStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <venue>",
		Short: "Start one venue's collector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			w, err := venueWorker(ctx, a, args[0])
			if err != nil {
				return err
			}
			_, err = w.Send(ctx, collector.CmdStart)
			return err
		},
	}
}

func newCollectorStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <venue>",
		Short: "Stop one venue's collector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			w, err := venueWorker(ctx, a, args[0])
			if err != nil {
				return err
			}
			_, err = w.Send(ctx, collector.CmdStop)
			return err
		},
	}
}

func newRollupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollup",
		Short: "Run one rollup/derived-engine pass immediately, outside the cron schedule",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run stage A, the volatility pass, and stage C in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			if err := a.stores.Rollups.RefreshLiveView(ctx); err != nil {
				log.Warn().Err(err).Msg("live view refresh check failed before manual run")
			}
			return runOnceManually(ctx, a)
		},
	})
	return cmd
}

func runOnceManually(ctx context.Context, a *app) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"stage_a", func(ctx context.Context) error {
			return rollup.NewEngine(a.stores.Rollups, log.Logger).RunStageA(ctx)
		}},
		{"volatility", func(ctx context.Context) error {
			return volatility.NewEngine(a.stores.Volatility, log.Logger).RunAll(ctx)
		}},
		{"stage_c", func(ctx context.Context) error {
			return rollup.NewEngine(a.stores.Rollups, log.Logger).RunStageC(ctx)
		}},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		log.Info().Str("stage", step.name).Msg("manual rollup stage completed")
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
