package starter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/rpd-pipelines/internal/dispatcher"
	"github.com/shaiso/rpd-pipelines/internal/domain"
	"github.com/shaiso/rpd-pipelines/internal/mq"
	"github.com/shaiso/rpd-pipelines/internal/pipelines"
	"github.com/shaiso/rpd-pipelines/internal/repo"
	"github.com/shaiso/rpd-pipelines/internal/runconfig"
	"github.com/shaiso/rpd-pipelines/internal/submit"
	"github.com/shaiso/rpd-pipelines/internal/telemetry"
)

// JobName — имя задания в метриках.
const JobName = "downstream-starter"

// RecordStore — хранилище записей pipeline_runs.
type RecordStore interface {
	ListEligible(ctx context.Context, filter repo.EligibleFilter) ([]domain.PipelineRun, error)
	Claim(ctx context.Context, id uuid.UUID, marker *domain.DispatchMarker) error
	UpdateMarker(ctx context.Context, id uuid.UUID, marker *domain.DispatchMarker) error
}

// EventPublisher публикует события жизненного цикла run.
type EventPublisher interface {
	PublishRunEvent(ctx context.Context, msgType mq.MessageType, event mq.RunEvent) error
}

// Starter выполняет циклы выборки и dispatch.
type Starter struct {
	store        RecordStore
	materializer *runconfig.Materializer
	dispatcher   *dispatcher.Dispatcher
	publisher    EventPublisher
	metrics      *telemetry.Metrics

	site       string
	windowDays int
	outdirBase string
	parallel   int

	user       string
	authorized func(user string) bool
	now        func() time.Time
	host       string

	tsMu   sync.Mutex
	lastTS time.Time

	logger *slog.Logger
}

// Config — конфигурация Starter.
type Config struct {
	Store        RecordStore
	Materializer *runconfig.Materializer
	Dispatcher   *dispatcher.Dispatcher

	// Publisher — опционально, nil отключает события.
	Publisher EventPublisher

	// Metrics — опционально.
	Metrics *telemetry.Metrics

	Site string

	// WindowDays — окно выборки в днях (по умолчанию 14).
	WindowDays int

	// OutdirBase — корень выходных директорий.
	OutdirBase string

	// Parallel — число одновременно обрабатываемых записей (по умолчанию 1).
	Parallel int

	// User — пользователь, от имени которого работает процесс.
	User string

	// Authorized проверяет пользователя. Nil — проверка отключена.
	Authorized func(user string) bool

	// Now — источник времени (по умолчанию time.Now).
	Now func() time.Time

	Logger *slog.Logger
}

// New создаёт Starter.
func New(cfg Config) *Starter {
	windowDays := cfg.WindowDays
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}

	parallel := cfg.Parallel
	if parallel <= 0 {
		parallel = 1
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	host, _ := os.Hostname()

	return &Starter{
		store:        cfg.Store,
		materializer: cfg.Materializer,
		dispatcher:   cfg.Dispatcher,
		publisher:    cfg.Publisher,
		metrics:      cfg.Metrics,
		site:         cfg.Site,
		windowDays:   windowDays,
		outdirBase:   cfg.OutdirBase,
		parallel:     parallel,
		user:         cfg.User,
		authorized:   cfg.Authorized,
		now:          now,
		host:         host,
		logger:       logger.With("site", cfg.Site),
	}
}

// Cycle выполняет один цикл: выборка записей и dispatch каждой.
//
// Возвращает ошибку, если цикл не может быть выполнен (нет прав, неизвестная
// площадка, сбой хранилища) или нарушено предусловие подготовки
// run-директории. Ошибки отдельных записей попадают в Summary.
func (s *Starter) Cycle(ctx context.Context) (summary *Summary, err error) {
	started := s.now()
	defer func() {
		s.metrics.ObserveCycle(JobName, started, err == nil)
	}()

	if s.authorized != nil && !s.authorized(s.user) {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, s.user)
	}
	if !s.dispatcher.KnownSite(s.site) {
		return nil, fmt.Errorf("%w: %s", pipelines.ErrUnknownSite, s.site)
	}

	window := NewWindow(started, s.windowDays)
	recs, err := s.store.ListEligible(ctx, window.Filter(s.site))
	if err != nil {
		return nil, fmt.Errorf("list eligible records: %w", err)
	}

	s.metrics.SetEligible(s.site, len(recs))
	s.logger.Info("found runs to start analysis",
		"count", len(recs),
		"window_from", window.From,
		"window_to", window.To,
	)

	summary = &Summary{
		Site:    s.site,
		Window:  window,
		Results: make([]RecordResult, len(recs)),
	}

	// Начатый батч доводится до конца даже при отмене ctx.
	batchCtx := context.WithoutCancel(ctx)

	if err := s.processAll(batchCtx, recs, summary.Results); err != nil {
		return summary, err
	}

	s.logSummary(summary)
	return summary, nil
}

// processAll обрабатывает записи последовательно или пулом из parallel
// горутин. Фатальная ошибка останавливает выдачу новых записей.
func (s *Starter) processAll(ctx context.Context, recs []domain.PipelineRun, results []RecordResult) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)

	for i := range recs {
		rec := &recs[i]
		results[i] = RecordResult{RecordID: rec.ID, Outcome: OutcomeSkipped, Reason: "not attempted"}

		if gctx.Err() != nil {
			continue
		}

		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res, err := s.processRecord(ctx, rec)
			results[i] = res
			return err
		})
	}

	return g.Wait()
}

// processRecord обрабатывает одну запись. Возвращаемая ошибка фатальна
// для всего цикла; ошибки самой записи отражаются в RecordResult.
func (s *Starter) processRecord(ctx context.Context, rec *domain.PipelineRun) (RecordResult, error) {
	result := RecordResult{RecordID: rec.ID}
	logger := telemetry.WithRecordID(s.logger, rec.ID.String())

	outdir := domain.OutputDir{
		Basedir:         s.outdirBase,
		User:            rec.Requestor,
		PipelineVersion: rec.PipelineVersion,
		PipelineName:    rec.PipelineName,
		Timestamp:       domain.GenerateTimestamp(s.nextTimestamp()),
	}.Path()
	result.OutDir = outdir
	logger = telemetry.WithOutDir(logger, outdir)

	mat, err := s.materializer.Materialize(rec)
	if err != nil {
		if errors.Is(err, runconfig.ErrMissingSampleCfg) {
			logger.Log(ctx, telemetry.LevelCritical, "job doesn't have sample_cfg, skipping")
			s.metrics.ObserveDispatch(s.site, telemetry.DispatchSkipped)
			return s.skip(result, err), nil
		}
		logger.Error("failed to materialize config", "error", err)
		s.metrics.ObserveDispatch(s.site, telemetry.DispatchFailed)
		return s.fail(result, err), nil
	}
	defer func() {
		if err := mat.Cleanup(); err != nil {
			logger.Warn("failed to remove temporary configs", "error", err)
		}
	}()

	inv, err := s.dispatcher.Build(rec, mat, outdir)
	if err != nil {
		logger.Error("failed to build pipeline command", "error", err)
		s.metrics.ObserveDispatch(s.site, telemetry.DispatchFailed)
		return s.fail(result, err), nil
	}

	if s.dispatcher.DryRun() {
		if err := s.dispatcher.Dispatch(ctx, inv); err != nil {
			return s.fail(result, err), nil
		}
		s.metrics.ObserveDispatch(s.site, telemetry.DispatchDryRun)
		result.Outcome = OutcomeDryRun
		return result, nil
	}

	marker := domain.NewDispatchMarker(s.host, outdir)
	marker.ClaimedAt = s.now()

	if err := s.store.Claim(ctx, rec.ID, marker); err != nil {
		if errors.Is(err, repo.ErrAlreadyClaimed) {
			logger.Warn("record already claimed by another starter, skipping")
			s.metrics.ObserveDispatch(s.site, telemetry.DispatchSkipped)
			return s.skip(result, err), nil
		}
		return s.fail(result, err), fmt.Errorf("claim record %s: %w", rec.ID, err)
	}

	launchErr := s.dispatcher.Dispatch(ctx, inv)

	event := mq.RunEvent{
		RecordID:        rec.ID,
		Requestor:       rec.Requestor,
		Site:            rec.Site,
		PipelineName:    rec.PipelineName,
		PipelineVersion: rec.PipelineVersion,
		OutDir:          outdir,
	}

	if launchErr != nil {
		marker.MarkFailed(launchErr.Error())
		s.updateMarker(ctx, logger, rec.ID, marker)
		s.metrics.ObserveDispatch(s.site, telemetry.DispatchFailed)

		event.Error = launchErr.Error()
		s.publish(ctx, logger, mq.MessageTypeRunDispatchFailed, event)

		result = s.fail(result, launchErr)
		if errors.Is(launchErr, submit.ErrPrecondition) {
			return result, launchErr
		}
		return result, nil
	}

	marker.MarkSubmitted()
	s.updateMarker(ctx, logger, rec.ID, marker)
	s.metrics.ObserveDispatch(s.site, telemetry.DispatchSubmitted)
	s.publish(ctx, logger, mq.MessageTypeRunDispatched, event)

	result.Outcome = OutcomeDispatched
	return result, nil
}

// nextTimestamp возвращает строго возрастающее время с точностью до
// микросекунды, чтобы выходные директории записей не совпадали.
func (s *Starter) nextTimestamp() time.Time {
	s.tsMu.Lock()
	defer s.tsMu.Unlock()

	t := s.now().Truncate(time.Microsecond)
	if !t.After(s.lastTS) {
		t = s.lastTS.Add(time.Microsecond)
	}
	s.lastTS = t
	return t
}

func (s *Starter) skip(r RecordResult, err error) RecordResult {
	r.Outcome = OutcomeSkipped
	r.Reason = err.Error()
	return r
}

func (s *Starter) fail(r RecordResult, err error) RecordResult {
	r.Outcome = OutcomeFailed
	r.Reason = err.Error()
	return r
}

// updateMarker записывает финальный статус. Ошибка не фатальна:
// запись уже захвачена и повторно выбрана не будет.
func (s *Starter) updateMarker(ctx context.Context, logger *slog.Logger, id uuid.UUID, marker *domain.DispatchMarker) {
	if err := s.store.UpdateMarker(ctx, id, marker); err != nil {
		logger.Error("failed to update dispatch marker",
			"status", marker.Status,
			"error", err,
		)
	}
}

func (s *Starter) publish(ctx context.Context, logger *slog.Logger, msgType mq.MessageType, event mq.RunEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishRunEvent(ctx, msgType, event); err != nil {
		logger.Warn("failed to publish run event", "type", msgType, "error", err)
	}
}

func (s *Starter) logSummary(summary *Summary) {
	attrs := []any{
		"eligible", summary.Eligible(),
		"dispatched", summary.Count(OutcomeDispatched),
		"failed", summary.Count(OutcomeFailed),
		"skipped", summary.Count(OutcomeSkipped),
		"dry_run", summary.Count(OutcomeDryRun),
	}

	if summary.Failed() > 0 {
		s.logger.Warn("starter cycle completed with failures",
			append(attrs, "failed_ids", summary.IDs(OutcomeFailed))...)
		return
	}
	s.logger.Info("starter cycle completed", attrs...)
}
