package mq

import (
	"time"

	"github.com/google/uuid"
)

// MessageType — тип сообщения.
type MessageType string

// Типы событий жизненного цикла run.
const (
	MessageTypeRunDispatched     MessageType = "run.dispatched"
	MessageTypeRunDispatchFailed MessageType = "run.dispatch_failed"
	MessageTypeRunStaged         MessageType = "run.staged"
	MessageTypeRunStageOutFailed MessageType = "run.stage_out_failed"
)

// RoutingKey возвращает ключ маршрутизации для типа события.
func (t MessageType) RoutingKey() RoutingKey {
	switch t {
	case MessageTypeRunDispatched:
		return RoutingKeyDispatched
	case MessageTypeRunDispatchFailed:
		return RoutingKeyDispatchFailed
	case MessageTypeRunStaged:
		return RoutingKeyStaged
	case MessageTypeRunStageOutFailed:
		return RoutingKeyStageOutFailed
	default:
		return ""
	}
}

// Message — конверт сообщения.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// RunEvent — payload событий жизненного цикла run.
//
// Для событий stage-out запись в БД неизвестна: RecordID пуст,
// а остальные поля восстанавливаются из пути выходной директории.
type RunEvent struct {
	RecordID        uuid.UUID `json:"record_id,omitempty"`
	Requestor       string    `json:"requestor"`
	Site            string    `json:"site,omitempty"`
	PipelineName    string    `json:"pipeline_name"`
	PipelineVersion string    `json:"pipeline_version"`
	AnalysisID      string    `json:"analysis_id,omitempty"`
	OutDir          string    `json:"outdir"`
	Error           string    `json:"error,omitempty"`
}
