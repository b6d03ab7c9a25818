package domain

import (
	"time"

	"github.com/google/uuid"
)

// PipelineRun — запись о завершённом upstream run, для которого
// может быть запущен downstream pipeline.
//
// Записи создаются upstream-процессом вне этого репозитория.
// Starter только читает их и записывает маркер dispatch (поле Run).
type PipelineRun struct {
	// ID — уникальный идентификатор записи.
	ID uuid.UUID `json:"id"`

	// Requestor — пользователь, заказавший анализ.
	Requestor string `json:"requestor"`

	// Site — площадка выполнения (GIS, NSCC).
	Site string `json:"site"`

	// PipelineName — имя downstream pipeline.
	PipelineName string `json:"pipeline_name"`

	// PipelineVersion — версия pipeline.
	PipelineVersion string `json:"pipeline_version"`

	// CTime — время создания записи, epoch миллисекунды.
	CTime int64 `json:"ctime"`

	// SampleCfg — описание входных образцов. Обязательно для dispatch.
	SampleCfg map[string]any `json:"sample_cfg,omitempty"`

	// ReferencesCfg — описание референсных данных (опционально).
	ReferencesCfg map[string]any `json:"references_cfg,omitempty"`

	// Cmdline — дополнительные опции командной строки pipeline.
	Cmdline map[string]string `json:"cmdline,omitempty"`

	// Run — маркер dispatch. Nil, если запись ещё не отправлялась.
	Run *DispatchMarker `json:"run,omitempty"`
}

// IsDispatched возвращает true, если у записи есть маркер dispatch.
func (r *PipelineRun) IsDispatched() bool {
	return r.Run != nil
}

// DispatchMarker — маркер, записываемый в PipelineRun после захвата записи.
//
// Маркер пишется условным обновлением (только если поле run пусто),
// поэтому два пересекающихся запуска starter'а не отправят одну запись дважды.
type DispatchMarker struct {
	// ClaimID — идентификатор захвата (уникален для каждой попытки).
	ClaimID uuid.UUID `json:"claim_id"`

	// Status — текущий статус отправки.
	Status DispatchStatus `json:"status"`

	// Host — хост, на котором работал starter.
	Host string `json:"host,omitempty"`

	// OutDir — выходная директория downstream run.
	OutDir string `json:"outdir,omitempty"`

	// ClaimedAt — время захвата записи.
	ClaimedAt time.Time `json:"claimed_at"`

	// FinishedAt — время завершения команды pipeline.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки для статуса FAILED.
	Error string `json:"error,omitempty"`
}

// NewDispatchMarker создаёт маркер в статусе CLAIMED.
func NewDispatchMarker(host, outdir string) *DispatchMarker {
	return &DispatchMarker{
		ClaimID:   uuid.New(),
		Status:    DispatchStatusClaimed,
		Host:      host,
		OutDir:    outdir,
		ClaimedAt: time.Now(),
	}
}

// MarkSubmitted переводит маркер в статус SUBMITTED.
func (m *DispatchMarker) MarkSubmitted() {
	now := time.Now()
	m.Status = DispatchStatusSubmitted
	m.FinishedAt = &now
}

// MarkFailed переводит маркер в статус FAILED с ошибкой.
func (m *DispatchMarker) MarkFailed(err string) {
	now := time.Now()
	m.Status = DispatchStatusFailed
	m.FinishedAt = &now
	m.Error = err
}
