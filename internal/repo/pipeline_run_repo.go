package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/rpd-pipelines/internal/domain"
)

// EligibleFilter — условия выборки записей для dispatch.
//
// Запись подходит, если совпадает site, маркера dispatch нет,
// и ctime строго между From и To (epoch миллисекунды).
type EligibleFilter struct {
	Site string
	From int64
	To   int64
}

// Matches проверяет запись по фильтру так же, как это делает SQL-запрос.
func (f EligibleFilter) Matches(rec *domain.PipelineRun) bool {
	return rec.Site == f.Site &&
		!rec.IsDispatched() &&
		rec.CTime > f.From &&
		rec.CTime < f.To
}

// PipelineRunRepo — репозиторий записей pipeline_runs.
type PipelineRunRepo struct {
	pool *pgxpool.Pool
}

// NewPipelineRunRepo создаёт новый PipelineRunRepo.
func NewPipelineRunRepo(pool *pgxpool.Pool) *PipelineRunRepo {
	return &PipelineRunRepo{pool: pool}
}

const selectColumns = `
	SELECT id, requestor, site, pipeline_name, pipeline_version, ctime,
	       sample_cfg, references_cfg, cmdline, run
	FROM pipeline_runs
`

// Create добавляет запись.
func (r *PipelineRunRepo) Create(ctx context.Context, rec *domain.PipelineRun) error {
	sampleJSON, err := marshalNullable(rec.SampleCfg == nil, rec.SampleCfg)
	if err != nil {
		return fmt.Errorf("marshal sample_cfg: %w", err)
	}
	refsJSON, err := marshalNullable(rec.ReferencesCfg == nil, rec.ReferencesCfg)
	if err != nil {
		return fmt.Errorf("marshal references_cfg: %w", err)
	}
	cmdlineJSON, err := marshalNullable(rec.Cmdline == nil, rec.Cmdline)
	if err != nil {
		return fmt.Errorf("marshal cmdline: %w", err)
	}
	runJSON, err := marshalNullable(rec.Run == nil, rec.Run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	query := `
		INSERT INTO pipeline_runs (id, requestor, site, pipeline_name, pipeline_version,
		                           ctime, sample_cfg, references_cfg, cmdline, run)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query,
		rec.ID,
		rec.Requestor,
		rec.Site,
		rec.PipelineName,
		rec.PipelineVersion,
		rec.CTime,
		sampleJSON,
		refsJSON,
		cmdlineJSON,
		runJSON,
	)
	if err != nil {
		return fmt.Errorf("insert pipeline run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// GetByID возвращает запись по ID.
func (r *PipelineRunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PipelineRun, error) {
	query := selectColumns + `WHERE id = $1`

	rec, err := scanPipelineRun(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListEligible возвращает записи, ещё не отправленные в dispatch,
// с ctime внутри окна.
func (r *PipelineRunRepo) ListEligible(ctx context.Context, filter EligibleFilter) ([]domain.PipelineRun, error) {
	query := selectColumns + `
		WHERE site = $1
		  AND run IS NULL
		  AND ctime > $2
		  AND ctime < $3
		ORDER BY ctime ASC
	`
	rows, err := r.pool.Query(ctx, query, filter.Site, filter.From, filter.To)
	if err != nil {
		return nil, fmt.Errorf("list eligible pipeline runs: %w", err)
	}
	defer rows.Close()

	var recs []domain.PipelineRun
	for rows.Next() {
		rec, err := scanPipelineRun(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// Claim записывает маркер dispatch, только если его ещё нет.
//
// Условное обновление гарантирует, что из нескольких пересекающихся
// запусков запись захватит ровно один. Остальные получают ErrAlreadyClaimed.
func (r *PipelineRunRepo) Claim(ctx context.Context, id uuid.UUID, marker *domain.DispatchMarker) error {
	markerJSON, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("marshal marker: %w", err)
	}

	query := `
		UPDATE pipeline_runs
		SET run = $2
		WHERE id = $1 AND run IS NULL
	`
	result, err := r.pool.Exec(ctx, query, id, markerJSON)
	if err != nil {
		return fmt.Errorf("claim pipeline run: %w", err)
	}
	if result.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pipeline_runs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check pipeline run: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrAlreadyClaimed
}

// UpdateMarker обновляет маркер, захваченный этим же экземпляром
// (совпадает claim_id).
func (r *PipelineRunRepo) UpdateMarker(ctx context.Context, id uuid.UUID, marker *domain.DispatchMarker) error {
	markerJSON, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("marshal marker: %w", err)
	}

	query := `
		UPDATE pipeline_runs
		SET run = $2
		WHERE id = $1 AND run->>'claim_id' = $3
	`
	result, err := r.pool.Exec(ctx, query, id, markerJSON, marker.ClaimID.String())
	if err != nil {
		return fmt.Errorf("update marker: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrClaimMismatch
	}
	return nil
}

// --- Helpers ---

// scanPipelineRun сканирует одну строку в PipelineRun.
func scanPipelineRun(row pgx.Row) (*domain.PipelineRun, error) {
	var rec domain.PipelineRun
	var sampleJSON, refsJSON, cmdlineJSON, runJSON []byte

	err := row.Scan(
		&rec.ID,
		&rec.Requestor,
		&rec.Site,
		&rec.PipelineName,
		&rec.PipelineVersion,
		&rec.CTime,
		&sampleJSON,
		&refsJSON,
		&cmdlineJSON,
		&runJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("scan pipeline run: %w", err)
	}

	if sampleJSON != nil {
		if err := json.Unmarshal(sampleJSON, &rec.SampleCfg); err != nil {
			return nil, fmt.Errorf("unmarshal sample_cfg: %w", err)
		}
	}
	if refsJSON != nil {
		if err := json.Unmarshal(refsJSON, &rec.ReferencesCfg); err != nil {
			return nil, fmt.Errorf("unmarshal references_cfg: %w", err)
		}
	}
	if cmdlineJSON != nil {
		if err := json.Unmarshal(cmdlineJSON, &rec.Cmdline); err != nil {
			return nil, fmt.Errorf("unmarshal cmdline: %w", err)
		}
	}
	if runJSON != nil {
		if err := json.Unmarshal(runJSON, &rec.Run); err != nil {
			return nil, fmt.Errorf("unmarshal run: %w", err)
		}
	}

	return &rec, nil
}

// marshalNullable возвращает nil (NULL в БД) для пустого значения.
func marshalNullable(isNil bool, v any) ([]byte, error) {
	if isNil {
		return nil, nil
	}
	return json.Marshal(v)
}
