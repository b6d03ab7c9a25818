// Package stageout находит завершённые downstream run'ы по flag-файлу
// и запускает для каждого worker выгрузки результатов.
package stageout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shaiso/rpd-pipelines/internal/domain"
	"github.com/shaiso/rpd-pipelines/internal/mq"
	"github.com/shaiso/rpd-pipelines/internal/runner"
	"github.com/shaiso/rpd-pipelines/internal/telemetry"
)

// JobName — имя задания в метриках.
const JobName = "stage-out-starter"

// EventPublisher публикует события жизненного цикла run.
type EventPublisher interface {
	PublishRunEvent(ctx context.Context, msgType mq.MessageType, event mq.RunEvent) error
}

// Report — итог одного прохода.
type Report struct {
	// Found — директории с WORKFLOW_COMPLETE.
	Found int `json:"found"`

	Staged        []string `json:"staged"`
	AlreadyStaged []string `json:"already_staged"`
	Failed        []string `json:"failed"`
}

// Scanner — сканер завершённых run'ов.
type Scanner struct {
	runner    runner.Runner
	worker    string
	basedir   string
	dryRun    bool
	publisher EventPublisher
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// Config — конфигурация Scanner.
type Config struct {
	Runner runner.Runner

	// Worker — исполняемый файл выгрузки, вызывается как <worker> -r <dir>.
	Worker string

	// Basedir — корень выходных директорий.
	Basedir string

	DryRun bool

	Publisher EventPublisher
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
}

// New создаёт Scanner.
func New(cfg Config) *Scanner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scanner{
		runner:    cfg.Runner,
		worker:    cfg.Worker,
		basedir:   cfg.Basedir,
		dryRun:    cfg.DryRun,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		logger:    logger,
	}
}

// Pattern возвращает glob flag-файлов завершённых run'ов.
func (s *Scanner) Pattern() string {
	return filepath.Join(domain.OutputDirGlob(s.basedir), domain.CompletionFlagFile)
}

// Scan выполняет один проход: для каждой завершённой и ещё не выгруженной
// директории вызывает worker. Ошибка worker'а не прерывает проход.
func (s *Scanner) Scan(ctx context.Context) (report *Report, err error) {
	started := time.Now()
	defer func() {
		s.metrics.ObserveCycle(JobName, started, err == nil)
	}()

	if _, err := os.Stat(s.basedir); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoBasedir, s.basedir, err)
	}

	pattern := s.Pattern()
	s.logger.Debug("scanning for completed runs", "glob", pattern)

	flagfiles, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}

	report = &Report{Found: len(flagfiles)}
	ctx = context.WithoutCancel(ctx)

	for _, flagfile := range flagfiles {
		dir := filepath.Dir(flagfile)
		logger := telemetry.WithOutDir(s.logger, dir)

		if IsStaged(dir) {
			logger.Debug("already staged out, skipping")
			report.AlreadyStaged = append(report.AlreadyStaged, dir)
			s.metrics.ObserveStageOut(telemetry.StageOutAlreadyStaged)
			continue
		}

		if err := s.stageOut(ctx, logger, dir); err != nil {
			report.Failed = append(report.Failed, dir)
			s.metrics.ObserveStageOut(telemetry.StageOutFailed)
			s.publish(ctx, logger, mq.MessageTypeRunStageOutFailed, dir, err)
			continue
		}

		if !s.dryRun {
			report.Staged = append(report.Staged, dir)
			s.metrics.ObserveStageOut(telemetry.StageOutStaged)
			s.publish(ctx, logger, mq.MessageTypeRunStaged, dir, nil)
		}
	}

	s.logger.Info("stage-out scan completed",
		"found", report.Found,
		"staged", len(report.Staged),
		"already_staged", len(report.AlreadyStaged),
		"failed", len(report.Failed),
	)
	return report, nil
}

// WorkerCommand возвращает команду worker'а для директории.
func (s *Scanner) WorkerCommand(dir string) runner.Command {
	return runner.Command{Path: s.worker, Args: []string{"-r", dir}}
}

func (s *Scanner) stageOut(ctx context.Context, logger *slog.Logger, dir string) error {
	cmd := s.WorkerCommand(dir)
	logger.Info("starting staging out", "command", cmd.String())

	if s.dryRun {
		logger.Info("skipping stage-out (dry run)")
		return nil
	}

	if _, err := s.runner.Run(ctx, cmd); err != nil {
		var exitErr *runner.ExitError
		if errors.As(err, &exitErr) {
			logger.Error("stage-out worker failed, will try to continue",
				"command", exitErr.Command,
				"exit_code", exitErr.ExitCode,
				"output", string(exitErr.Output),
			)
		} else {
			logger.Error("stage-out worker failed, will try to continue", "error", err)
		}
		return err
	}

	if err := MarkStaged(dir, time.Now()); err != nil {
		logger.Error("failed to write staged marker", "error", err)
		return err
	}
	return nil
}

func (s *Scanner) publish(ctx context.Context, logger *slog.Logger, msgType mq.MessageType, dir string, cause error) {
	if s.publisher == nil {
		return
	}

	event := mq.RunEvent{OutDir: dir}
	if od, err := domain.ParseOutputDir(s.basedir, dir); err == nil {
		event.Requestor = od.User
		event.PipelineName = od.PipelineName
		event.PipelineVersion = od.PipelineVersion
		event.AnalysisID = od.Timestamp
	}
	if cause != nil {
		event.Error = cause.Error()
	}

	if err := s.publisher.PublishRunEvent(ctx, msgType, event); err != nil {
		logger.Warn("failed to publish run event", "type", msgType, "error", err)
	}
}
