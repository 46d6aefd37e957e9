package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"salesetl/internal/observability"
	"salesetl/internal/ui"
	"salesetl/pkg/errors"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

var scheduleFlags struct {
	cron        string
	metricsAddr string
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the ETL on a cron schedule",
	Long: `Re-run the ETL on a cron schedule until interrupted. A run that is still
going when the next one is due makes the next one skip. With --metrics-addr
the process also serves /metrics and /healthz.`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

func init() {
	scheduleCmd.Flags().StringVar(&scheduleFlags.cron, "cron", "", "cron expression, overrides schedule.cron (e.g. \"0 2 * * *\" or \"@hourly\")")
	scheduleCmd.Flags().StringVar(&scheduleFlags.metricsAddr, "metrics-addr", "", "listen address for /metrics and /healthz, overrides schedule.metrics_addr")
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, logger, err := loadConfig()
	if err != nil {
		return startupFailure(err)
	}
	if scheduleFlags.cron != "" {
		cfg.Schedule.Cron = scheduleFlags.cron
	}
	if scheduleFlags.metricsAddr != "" {
		cfg.Schedule.MetricsAddr = scheduleFlags.metricsAddr
	}

	metrics := observability.NewRunMetrics()
	a, err := newApp(ctx, cfg, logger, metrics)
	if err != nil {
		return startupFailure(err)
	}
	defer a.Close()

	lastRun := &observability.LastRunCheck{}
	cronLog := cronLogger{logger: logger.WithField("component", "scheduler")}
	scheduler := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	_, err = scheduler.AddFunc(cfg.Schedule.Cron, func() {
		report := a.orchestrator.Run(ctx)
		lastRun.Record(string(report.State), report.Degraded(), report.FinishedAt)
		ui.RenderRunReport(cmd.OutOrStdout(), report)
	})
	if err != nil {
		return startupFailure(errors.ConfigError(fmt.Sprintf("invalid cron expression %q: %v", cfg.Schedule.Cron, err), "schedule.cron"))
	}

	if cfg.Schedule.MetricsAddr != "" {
		health := observability.NewHealthManager(5 * time.Second)
		health.RegisterCheck(observability.NewPingCheck("warehouse", a.warehouse.Ping))
		health.RegisterCheck(lastRun)

		server := &http.Server{
			Addr:              cfg.Schedule.MetricsAddr,
			Handler:           opsMux(metrics, health),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("Metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
		logger.Infof("Serving /metrics and /healthz on %s", cfg.Schedule.MetricsAddr)
	}

	scheduler.Start()
	logger.InfoWithFields("Scheduler started", map[string]interface{}{"cron": cfg.Schedule.Cron})

	<-ctx.Done()
	logger.Info("Shutting down, waiting for the current run to finish")
	<-scheduler.Stop().Done()
	return nil
}

func opsMux(metrics *observability.RunMetrics, health *observability.HealthManager) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", health.HealthHandler())
	return mux
}

// cronLogger adapts the process logger to cron.Logger.
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.DebugWithFields(msg, pairs(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).ErrorWithFields(msg, pairs(keysAndValues))
}

func pairs(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
