package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/weldmaster/resultstore/internal/health"
	"github.com/weldmaster/resultstore/internal/metrics"
)

var (
	servePort     int
	serveInterval time.Duration
)

var serveMetricsCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Serve Prometheus metrics of the results store",
	Long: `Open the configured results directory and serve its cache and disk
usage metrics on /metrics, and the store health on /health, until
interrupted.

Examples:
  resultsctl serve-metrics --results-dir /data/results --port 9464`,
	RunE: runServeMetrics,
}

func init() {
	serveMetricsCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default: global.metrics_port)")
	serveMetricsCmd.Flags().DurationVar(&serveInterval, "interval", 30*time.Second, "disk usage check interval")
}

func runServeMetrics(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, err := requireResultsDir(cfg); err != nil {
		return err
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer logger.Close()

	port := cfg.Global.MetricsPort
	if servePort > 0 {
		port = servePort
	}
	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      port,
		Namespace: cfg.Metrics.Namespace,
	}, logger)
	if err != nil {
		return err
	}

	if serveInterval > 0 {
		cfg.DiskUsage.CheckInterval = serveInterval
	}
	svc, dispatcher, err := startStore(cfg, collector, logger)
	if err != nil {
		return err
	}
	defer svc.Close()
	defer dispatcher.Close()

	checker := health.NewChecker(5 * time.Second)
	if err := svc.RegisterHealthChecks(checker); err != nil {
		return err
	}
	collector.SetHealthHandler(checker.Handler())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := collector.Start(ctx); err != nil {
		return err
	}
	if _, err := svc.ForceDiskUsageCheck(); err != nil {
		logger.Warn("initial disk usage check failed", map[string]interface{}{"error": err.Error()})
	}
	logger.Info("serving metrics, press Ctrl+C to stop", map[string]interface{}{
		"addr":    collector.Addr(),
		"results": svc.ResultsDirectory(),
	})

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return collector.Stop(shutdownCtx)
}
