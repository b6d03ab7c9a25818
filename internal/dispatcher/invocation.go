package dispatcher

import (
	"github.com/google/uuid"

	"github.com/shaiso/rpd-pipelines/internal/pipelines"
	"github.com/shaiso/rpd-pipelines/internal/runconfig"
	"github.com/shaiso/rpd-pipelines/internal/runner"
)

// Invocation — полностью собранный запуск pipeline для одной записи.
type Invocation struct {
	RecordID        uuid.UUID
	Requestor       string
	Site            string
	PipelineName    string
	PipelineVersion string

	// Pipeline — разрешённая установка (директория и wrapper).
	Pipeline pipelines.Pipeline

	// OutDir — выходная директория run.
	OutDir string

	// Config — материализованные конфиги записи.
	Config *runconfig.Materialized

	// Cmdline — дополнительные опции pipeline из записи.
	Cmdline map[string]string

	// NoRun — wrapper только готовит директорию, не отправляя задачу.
	NoRun bool

	// Args — аргументы wrapper'а.
	Args []string
}

// Command возвращает команду wrapper'а.
func (inv *Invocation) Command() runner.Command {
	return runner.Command{
		Path: inv.Pipeline.Executable,
		Args: inv.Args,
	}
}

// String возвращает команду в виде строки для логов.
func (inv *Invocation) String() string {
	return inv.Command().String()
}

// ExtraConf возвращает пары extra-conf как map (db-id, requestor).
func (inv *Invocation) ExtraConf() map[string]string {
	return map[string]string{
		"db-id":     inv.RecordID.String(),
		"requestor": inv.Requestor,
	}
}
