package domain

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Имена sentinel-файлов внутри выходной директории.
const (
	// CompletionFlagFile пишет downstream pipeline, когда закончил работу.
	CompletionFlagFile = "WORKFLOW_COMPLETE"

	// StagedFlagFile пишет stage-out scanner после успешного staging.
	StagedFlagFile = "STAGED_OUT"
)

// Пути относительно выходной директории.
const (
	LogDirRel          = "logs"
	MasterLogRel       = "logs/snakemake.log"
	SubmissionLogRel   = "logs/submission.log"
	PipelineConfigFile = "conf.yaml"
	RunScriptFile      = "run.sh"
)

// OutputDir — выходная директория downstream run.
//
// Шаблон пути: {basedir}/{user}/{pipelineversion}/{pipelinename}/{timestamp}.
// Этот же шаблон используют starter (создание) и stage-out scanner (glob).
type OutputDir struct {
	Basedir         string
	User            string
	PipelineVersion string
	PipelineName    string
	Timestamp       string
}

// Path рендерит шаблон в абсолютный путь.
func (o OutputDir) Path() string {
	return filepath.Join(o.Basedir, o.User, o.PipelineVersion, o.PipelineName, o.Timestamp)
}

// OutputDirGlob возвращает glob по всем пользователям, версиям, pipeline'ам
// и timestamp'ам под basedir.
func OutputDirGlob(basedir string) string {
	return OutputDir{
		Basedir:         basedir,
		User:            "*",
		PipelineVersion: "*",
		PipelineName:    "*",
		Timestamp:       "*",
	}.Path()
}

// ParseOutputDir разбирает путь обратно в OutputDir.
func ParseOutputDir(basedir, path string) (OutputDir, error) {
	rel, err := filepath.Rel(basedir, path)
	if err != nil {
		return OutputDir{}, fmt.Errorf("%w: %v", ErrInvalidOutputDir, err)
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 4 || parts[0] == ".." {
		return OutputDir{}, fmt.Errorf("%w: %s", ErrInvalidOutputDir, path)
	}
	for _, p := range parts {
		if p == "" || p == "." {
			return OutputDir{}, fmt.Errorf("%w: %s", ErrInvalidOutputDir, path)
		}
	}

	return OutputDir{
		Basedir:         basedir,
		User:            parts[0],
		PipelineVersion: parts[1],
		PipelineName:    parts[2],
		Timestamp:       parts[3],
	}, nil
}
