package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"trade-reconciliation-engine/internal/breaks"
	"trade-reconciliation-engine/internal/engine"
	"trade-reconciliation-engine/internal/ingest"
	"trade-reconciliation-engine/internal/matcher"
	"trade-reconciliation-engine/internal/metrics"
	"trade-reconciliation-engine/internal/ml"
	"trade-reconciliation-engine/internal/notify"
	"trade-reconciliation-engine/internal/recon"
	"trade-reconciliation-engine/internal/remediate"
	"trade-reconciliation-engine/internal/report"
	"trade-reconciliation-engine/internal/router"
	"trade-reconciliation-engine/internal/scheduler"
	"trade-reconciliation-engine/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reconciliation engine as a long-lived service",
	Long: `Serve starts the HTTP API, the periodic SLA sweep, and the daily
ingestion-plus-reconciliation pipeline, and runs until interrupted.

The database is required; Redis notifications and the break predictor are
enabled when RECON_REDIS_URL and RECON_MODEL_PATH are set.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", ":8080", "HTTP listen address")
	viper.BindPFlag("server_addr", serveCmd.Flags().Lookup("addr"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, log, stores := rt.cfg, rt.log, rt.stores

	m := metrics.New()

	match, err := matcher.NewMatcher(cfg.MatcherConfig())
	if err != nil {
		return err
	}
	deriver := breaks.NewDeriver(cfg.SLAPolicy())
	eng := engine.NewEngine(stores, match, deriver, log)

	var connectors []ingest.Connector
	if cfg.OMSAPIURL != "" {
		connectors = append(connectors, ingest.NewOMSConnector(cfg.OMSConfig(), log))
	}
	if cfg.CustodianDropDir != "" {
		connectors = append(connectors, ingest.NewCustodianConnector(cfg.CustodianConfig(), log))
	}
	orch := ingest.NewOrchestrator(stores.Trades(), log, connectors...)

	reconSvc := recon.NewService(stores.Runs(), eng, orch, log).WithMetrics(m)

	var notifier router.Notifier
	if cfg.RedisURL != "" {
		publisher, err := notify.NewPublisher(cfg.RedisURL, log)
		if err != nil {
			return err
		}
		defer publisher.Close()
		notifier = publisher
	}
	breakRouter := router.NewRouter(stores, notifier, log).WithMetrics(m)

	deps := server.Deps{
		Recon:      reconSvc,
		Ingest:     orch,
		Router:     breakRouter,
		Remediator: remediate.NewRemediator(stores, log),
		Reports:    report.NewService(stores.Reports(), stores.Runs(), log),
		Breaks:     stores.Breaks(),
		Trades:     stores.Trades(),
		Metrics:    m,
	}

	if cfg.ModelPath != "" {
		extractor := ml.NewExtractor(ml.CachedRates(stores.Reports()))
		predictor, err := ml.LoadPredictor(cfg.ModelPath, extractor, stores.Predictions(), log)
		if err != nil {
			log.WithError(err).Warn("Prediction disabled: model artifact unusable")
		} else {
			deps.Predictor = predictor
		}
	}

	sched := scheduler.New(log)
	if err := sched.Register(scheduler.Builtins(breakRouter, reconSvc)...); err != nil {
		return err
	}
	if err := sched.ApplyOverrides(cfg.ScheduleFile); err != nil {
		return err
	}

	srv := server.New(cfg.ServerConfig(), deps, log)

	sched.Start(ctx)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-serverErr:
		stop()
		sched.Wait()
		return err
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}
	sched.Wait()
	log.Info("Shutdown complete")
	return nil
}
