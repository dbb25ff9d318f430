// Command server is the signal engine's entrypoint: `serve` runs the HTTP
// surface and the symbol-loop scheduler, `reconcile` and `archive` run a
// single pass of their respective engines and exit — the same operations
// the teacher's cron-driven daemon exposed, fronted by cobra subcommands
// instead of a bare flag-parsed main() (grounded on NimbleMarkets-dbn-go's
// CLI shape).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aristath/cryptosignals/internal/archival"
	"github.com/aristath/cryptosignals/internal/broker"
	"github.com/aristath/cryptosignals/internal/config"
	"github.com/aristath/cryptosignals/internal/execution"
	"github.com/aristath/cryptosignals/internal/marketdata"
	"github.com/aristath/cryptosignals/internal/notifier"
	"github.com/aristath/cryptosignals/internal/observability"
	"github.com/aristath/cryptosignals/internal/reconciler"
	"github.com/aristath/cryptosignals/internal/repository"
	"github.com/aristath/cryptosignals/internal/risk"
	"github.com/aristath/cryptosignals/internal/scheduler"
	"github.com/aristath/cryptosignals/internal/server"
	"github.com/aristath/cryptosignals/pkg/logger"
)

func main() {
	root := &cobra.Command{
		Use:   "server",
		Short: "Automated trading signal engine",
	}
	root.AddCommand(serveCmd(), reconcileCmd(), archiveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadRuntime() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	return cfg, log, nil
}

func newBroker(log zerolog.Logger) broker.Broker {
	return broker.NewAlpacaClient(
		os.Getenv("ALPACA_BASE_URL"),
		os.Getenv("ALPACA_API_KEY"),
		os.Getenv("ALPACA_API_SECRET"),
		log,
	)
}

func newMarketDataProvider(cfg *config.Config, log zerolog.Logger) (marketdata.Provider, error) {
	http := marketdata.NewHTTPProvider(cfg.MarketDataBaseURL, log)
	if !cfg.EnableMarketDataCache {
		return http, nil
	}
	cached, err := marketdata.NewCachingProvider(http, cfg.DataDir+"/marketdata_cache.db", log)
	if err != nil {
		return nil, fmt.Errorf("open market data cache: %w", err)
	}
	return cached, nil
}

// newSnapshotter builds the archival audit-trail uploader. It returns nil
// (a legal, nil-safe value for archival.Engine) when no bucket is
// configured, so local/dev archive runs don't need AWS credentials.
func newSnapshotter(ctx context.Context, cfg *config.Config) (*archival.Snapshotter, error) {
	if cfg.ArchivalS3Bucket == "" {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return archival.NewSnapshotter(s3.NewFromConfig(awsCfg), cfg.ArchivalS3Bucket), nil
}

// brokerHealthCheck reports the broker as a dependency on /healthz by
// fetching the account snapshot — the cheapest authenticated call every
// broker implementation already exposes.
type brokerHealthCheck struct{ b broker.Broker }

func (c brokerHealthCheck) Name() string { return "broker" }
func (c brokerHealthCheck) Check(ctx context.Context) error {
	_, err := c.b.GetAccount(ctx)
	return err
}

// archivalPipelines builds the six archival.Pipeline implementations
// against one repository.Client, one analytical Store (for the two
// pipelines that query the warehouse directly rather than the
// operational store), and one broker.Broker.
func archivalPipelines(repo *repository.Client, store *archival.Store, b broker.Broker, bars archival.BarsProvider, log zerolog.Logger) []archival.Pipeline {
	return []archival.Pipeline{
		archival.NewTradeArchivalPipeline(repo.Positions(), b, log),
		archival.NewFeePatchPipeline(store, b, log),
		archival.NewRejectedSignalArchival(repo.Signals(), bars, log),
		archival.NewExpiredSignalArchivalPipeline(repo.Signals(), bars, log),
		archival.NewAccountSnapshotPipeline(b, log),
		archival.NewStrategySyncPipeline(repo.Strategies(), store, log),
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP surface and the symbol-loop scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadRuntime()
			if err != nil {
				return err
			}
			log.Info().Str("environment", string(cfg.Environment)).Msg("starting signal engine")

			shutdownSentry, err := observability.InitSentry(cfg.SentryDSN, string(cfg.Environment), log)
			if err != nil {
				return fmt.Errorf("init sentry: %w", err)
			}
			defer shutdownSentry()

			ctx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancelBoot()

			repo, err := repository.NewClient(ctx, cfg)
			if err != nil {
				return fmt.Errorf("connect repository: %w", err)
			}
			defer repo.Close(context.Background())

			store, err := archival.Open(cfg.DuckDBPath)
			if err != nil {
				return fmt.Errorf("open analytical store: %w", err)
			}
			defer store.Close()

			alpaca := newBroker(log)

			bars, err := newMarketDataProvider(cfg, log)
			if err != nil {
				return err
			}

			snap, err := newSnapshotter(ctx, cfg)
			if err != nil {
				return err
			}

			pipelines := archivalPipelines(repo, store, alpaca, bars, log)
			if err := archival.EnsureSchema(ctx, store, pipelines); err != nil {
				return fmt.Errorf("ensure archival schema: %w", err)
			}

			metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
			resources := observability.NewResourceMonitor(prometheus.DefaultRegisterer, log)

			notif := notifier.NewLogNotifier(log)

			riskCfg := risk.Config{
				MaxDailyDrawdownPct: cfg.MaxDailyDrawdownPct,
				MaxCryptoPositions:  cfg.MaxCryptoPositions,
				MaxEquityPositions:  cfg.MaxEquityPositions,
				MinAssetBPUSD:       cfg.MinAssetBPUSD,
			}
			riskEngine := risk.NewEngine(alpaca, repo.Positions(), risk.MarketDataBars{Provider: bars}, riskCfg)
			execEngine := execution.NewEngine(alpaca, cfg, log)
			recon := reconciler.New(alpaca, repo.Positions(), notif, cfg, log)
			archiveEngine := archival.New(store, snap, log)

			sched := scheduler.New(log)

			locks := repo.JobLocks()
			if err := sched.RunNow(scheduler.NewSymbolLoopJob(cfg, bars, repo.Signals(), repo.Positions(), riskEngine, execEngine, notif, metrics, locks, log)); err != nil {
				log.Error().Err(err).Msg("initial symbol loop run failed")
			}

			if err := sched.AddJob("0 */5 * * * *", scheduler.NewSymbolLoopJob(cfg, bars, repo.Signals(), repo.Positions(), riskEngine, execEngine, notif, metrics, locks, log)); err != nil {
				return fmt.Errorf("register symbol loop job: %w", err)
			}
			if err := sched.AddJob("0 */15 * * * *", scheduler.NewReconcileJob(recon, locks, notif, metrics, log)); err != nil {
				return fmt.Errorf("register reconcile job: %w", err)
			}
			if err := sched.AddJob("0 0 2 * * *", scheduler.NewArchivalJob(archiveEngine, pipelines, locks, metrics, log)); err != nil {
				return fmt.Errorf("register archival job: %w", err)
			}

			sched.Start()
			defer sched.Stop()

			resourceCtx, cancelResources := context.WithCancel(context.Background())
			defer cancelResources()
			go resources.Run(resourceCtx, 15*time.Second)

			srv := server.New(server.Config{
				Port:    cfg.Port,
				Log:     log,
				Config:  cfg,
				DevMode: cfg.Environment != config.EnvProd,
				Checks: []server.HealthChecker{
					brokerHealthCheck{b: alpaca},
					repo,
					store,
					resources,
				},
			})

			go func() {
				if err := srv.Start(); err != nil && err != context.Canceled {
					log.Fatal().Err(err).Msg("HTTP server failed")
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run a single reconciliation pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadRuntime()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			repo, err := repository.NewClient(ctx, cfg)
			if err != nil {
				return fmt.Errorf("connect repository: %w", err)
			}
			defer repo.Close(context.Background())

			alpaca := newBroker(log)
			notif := notifier.NewLogNotifier(log)
			recon := reconciler.New(alpaca, repo.Positions(), notif, cfg, log)

			report, err := recon.Run(ctx)
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}

			log.Info().
				Int("zombies", len(report.Zombies)).
				Int("orphans", len(report.Orphans)).
				Int("reverse_orphans", len(report.ReverseOrphans)).
				Int("reconciled", report.ReconciledCount).
				Msg("reconcile pass complete")
			return nil
		},
	}
}

func archiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive",
		Short: "Run a single archival pipeline pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadRuntime()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			repo, err := repository.NewClient(ctx, cfg)
			if err != nil {
				return fmt.Errorf("connect repository: %w", err)
			}
			defer repo.Close(context.Background())

			store, err := archival.Open(cfg.DuckDBPath)
			if err != nil {
				return fmt.Errorf("open analytical store: %w", err)
			}
			defer store.Close()

			alpaca := newBroker(log)
			bars, err := newMarketDataProvider(cfg, log)
			if err != nil {
				return err
			}
			snap, err := newSnapshotter(ctx, cfg)
			if err != nil {
				return err
			}

			pipelines := archivalPipelines(repo, store, alpaca, bars, log)
			if err := archival.EnsureSchema(ctx, store, pipelines); err != nil {
				return fmt.Errorf("ensure archival schema: %w", err)
			}

			engine := archival.New(store, snap, log)
			var firstErr error
			for _, p := range pipelines {
				if err := engine.Run(ctx, p); err != nil {
					log.Error().Err(err).Str("pipeline", p.Name()).Msg("pipeline run failed")
					if firstErr == nil {
						firstErr = err
					}
				}
			}
			return firstErr
		},
	}
}
