package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/rpd-pipelines/internal/config"
	"github.com/shaiso/rpd-pipelines/internal/scheduler"
	"github.com/shaiso/rpd-pipelines/internal/telemetry"
)

// EnvShutdownTimeout — таймаут остановки HTTP-сервера метрик.
const EnvShutdownTimeout = "RPD_SHUTDOWN_TIMEOUT"

// Flags — общие флаги команд.
type Flags struct {
	Verbose int
	Quiet   int
	JSON    bool

	ConfigPath      string
	MetricsTextfile string
	MetricsAddr     string
	Schedule        string
}

// Bind регистрирует флаги на корневой команде.
func (f *Flags) Bind(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.CountVarP(&f.Verbose, "verbose", "v", "Increase verbosity (repeatable)")
	pf.CountVarP(&f.Quiet, "quiet", "q", "Decrease verbosity (repeatable)")
	pf.BoolVar(&f.JSON, "json", false, "Print summary in JSON format")
	pf.StringVar(&f.ConfigPath, "config", "", "Site config file (default: $"+config.EnvSiteConfig+" or built-in)")
	pf.StringVar(&f.MetricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this file after each cycle")
	pf.StringVar(&f.MetricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address")
	pf.StringVar(&f.Schedule, "schedule", "", "Run periodically on this cron expression instead of once")
}

// Logger настраивает глобальный логгер по -v/-q.
func (f *Flags) Logger() *slog.Logger {
	return telemetry.SetupLogger(telemetry.LogOptions{Verbose: f.Verbose, Quiet: f.Quiet})
}

// LoadConfig загружает site config.
func (f *Flags) LoadConfig() (*config.SiteConfig, error) {
	return config.Load(f.ConfigPath)
}

// Output создаёт Output согласно --json.
func (f *Flags) Output() *Output {
	return NewOutput(f.JSON)
}

// JobOptions — параметры запуска job'а.
type JobOptions struct {
	Name    string
	Job     scheduler.Job
	Locker  scheduler.Locker
	Metrics *telemetry.Metrics
	Logger  *slog.Logger

	// Fatal — какие ошибки job'а завершают процесс в режиме --schedule.
	// Nil — любая.
	Fatal func(err error) bool
}

// RunJob выполняет job один раз или, если задан --schedule, по расписанию.
// Ошибка однократного запуска и фатальная ошибка цикла возвращаются
// вызывающему.
func (f *Flags) RunJob(ctx context.Context, opts JobOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	job := func(ctx context.Context) error {
		err := opts.Job(ctx)
		if werr := opts.Metrics.WriteTextfile(f.MetricsTextfile); werr != nil {
			logger.Warn("failed to write metrics textfile", "path", f.MetricsTextfile, "error", werr)
		}
		return err
	}

	if f.MetricsAddr != "" {
		stop := ServeMetrics(f.MetricsAddr, opts.Metrics, logger)
		defer stop()
	}

	if f.Schedule == "" {
		return job(ctx)
	}

	sched, err := scheduler.New(scheduler.Config{
		Name:       opts.Name,
		Spec:       f.Schedule,
		Job:        job,
		Locker:     opts.Locker,
		RunOnStart: true,
		Fatal:      opts.Fatal,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	return sched.Run(ctx)
}

// MetricsHandler возвращает handler с /healthz и, если metrics != nil, /metrics.
func MetricsHandler(metrics *telemetry.Metrics, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}
	return Chain(Recovery(logger), Logging(logger))(mux)
}

// ServeMetrics поднимает HTTP-сервер с /metrics и /healthz.
// Возвращает функцию остановки.
func ServeMetrics(addr string, metrics *telemetry.Metrics, logger *slog.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           MetricsHandler(metrics, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		timeout, err := config.EnvDuration(EnvShutdownTimeout, 5*time.Second)
		if err != nil {
			logger.Warn("invalid shutdown timeout, using default", "error", err)
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown failed", "error", err)
		}
	}
}
