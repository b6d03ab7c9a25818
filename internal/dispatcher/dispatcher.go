package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shaiso/rpd-pipelines/internal/domain"
	"github.com/shaiso/rpd-pipelines/internal/pipelines"
	"github.com/shaiso/rpd-pipelines/internal/runconfig"
	"github.com/shaiso/rpd-pipelines/internal/runner"
)

// Launcher запускает собранный Invocation.
type Launcher interface {
	Launch(ctx context.Context, inv *Invocation) error
}

// CommandLauncher запускает wrapper pipeline как подпроцесс
// и захватывает объединённый stdout/stderr.
type CommandLauncher struct {
	runner runner.Runner
}

// NewCommandLauncher создаёт CommandLauncher.
func NewCommandLauncher(r runner.Runner) *CommandLauncher {
	return &CommandLauncher{runner: r}
}

// Launch реализует Launcher.
func (l *CommandLauncher) Launch(ctx context.Context, inv *Invocation) error {
	_, err := l.runner.Run(ctx, inv.Command())
	return err
}

// Dispatcher собирает и запускает команды pipeline.
type Dispatcher struct {
	resolver *pipelines.Resolver
	launcher Launcher

	dryRun  bool
	noRun   bool
	testing bool

	logger *slog.Logger
}

// Config — конфигурация Dispatcher.
type Config struct {
	Resolver *pipelines.Resolver
	Launcher Launcher

	// DryRun — только логировать команду, ничего не запускать.
	DryRun bool

	// NoRun — передать wrapper'у -n (подготовить, но не отправлять).
	NoRun bool

	// Testing — тестовый режим: путь без версии и --db-logging t.
	Testing bool

	Logger *slog.Logger
}

// New создаёт Dispatcher.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		resolver: cfg.Resolver,
		launcher: cfg.Launcher,
		dryRun:   cfg.DryRun,
		noRun:    cfg.NoRun,
		testing:  cfg.Testing,
		logger:   logger,
	}
}

// DryRun возвращает true, если Dispatcher ничего не запускает.
func (d *Dispatcher) DryRun() bool {
	return d.dryRun
}

// Build собирает Invocation для записи.
//
// Порядок аргументов: --sample-cfg, -o, [-n], [--references-cfg],
// [--db-logging t], параметры cmdline, --extra-conf.
func (d *Dispatcher) Build(rec *domain.PipelineRun, cfg *runconfig.Materialized, outdir string) (*Invocation, error) {
	version := rec.PipelineVersion
	if d.testing {
		version = ""
	}

	pipeline, err := d.resolver.Resolve(rec.Site, rec.PipelineName, version)
	if err != nil {
		return nil, fmt.Errorf("resolve pipeline: %w", err)
	}

	args := []string{"--sample-cfg", cfg.SampleCfg, "-o", outdir}
	if d.noRun {
		args = append(args, "-n")
	}
	if cfg.ReferencesCfg != "" {
		args = append(args, "--references-cfg", cfg.ReferencesCfg)
	}
	if d.testing {
		args = append(args, "--db-logging", "t")
	}
	args = append(args, cfg.Params...)
	args = append(args, cfg.ExtraConf...)

	return &Invocation{
		RecordID:        rec.ID,
		Requestor:       rec.Requestor,
		Site:            rec.Site,
		PipelineName:    rec.PipelineName,
		PipelineVersion: rec.PipelineVersion,
		Pipeline:        pipeline,
		OutDir:          outdir,
		Config:          cfg,
		Cmdline:         rec.Cmdline,
		NoRun:           d.noRun,
		Args:            args,
	}, nil
}

// Dispatch запускает Invocation.
//
// В dry-run режиме только логирует команду. При ошибке логирует команду,
// код возврата и вывод и возвращает ошибку без retry.
func (d *Dispatcher) Dispatch(ctx context.Context, inv *Invocation) error {
	logger := d.logger.With("record_id", inv.RecordID, "outdir", inv.OutDir)

	logger.Info("pipeline command", "command", inv.String())
	if d.dryRun {
		logger.Info("skipping execution (dry run)")
		return nil
	}

	if d.launcher == nil {
		return ErrNoLauncher
	}

	if err := d.launcher.Launch(ctx, inv); err != nil {
		var exitErr *runner.ExitError
		if errors.As(err, &exitErr) {
			logger.Error("pipeline command failed",
				"command", exitErr.Command,
				"exit_code", exitErr.ExitCode,
				"output", string(exitErr.Output),
			)
		} else {
			logger.Error("pipeline launch failed",
				"command", inv.String(),
				"error", err,
			)
		}
		return err
	}

	logger.Info("pipeline dispatched")
	return nil
}

// KnownSite проверяет, что для площадки есть пути установки.
func (d *Dispatcher) KnownSite(site string) bool {
	return d.resolver.Known(site)
}
