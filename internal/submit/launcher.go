package submit

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/rpd-pipelines/internal/dispatcher"
	"github.com/shaiso/rpd-pipelines/internal/domain"
)

// SnakefileName — имя Snakefile в директории pipeline.
const SnakefileName = "Snakefile"

// NativeLauncher запускает pipeline без wrapper'а: сам готовит
// run-директорию (conf.yaml, run.sh) и отправляет её в планировщик.
type NativeLauncher struct {
	engine      *Engine
	masterQueue string
	mailTo      string
	logger      *slog.Logger
}

// LauncherConfig — конфигурация NativeLauncher.
type LauncherConfig struct {
	Engine *Engine

	// MasterQueue — очередь для master-задачи (-q), пусто — по умолчанию.
	MasterQueue string

	// MailTo — адрес уведомлений планировщика (@MAILTO@).
	MailTo string

	Logger *slog.Logger
}

// NewNativeLauncher создаёт NativeLauncher.
func NewNativeLauncher(cfg LauncherConfig) *NativeLauncher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &NativeLauncher{
		engine:      cfg.Engine,
		masterQueue: cfg.MasterQueue,
		mailTo:      cfg.MailTo,
		logger:      logger,
	}
}

// Launch реализует dispatcher.Launcher.
func (l *NativeLauncher) Launch(ctx context.Context, inv *dispatcher.Invocation) error {
	if err := createRunDir(inv.OutDir); err != nil {
		return err
	}

	userData, err := UserData(inv)
	if err != nil {
		return err
	}

	if _, err := l.engine.WriteMergedConfig(ctx, inv.Pipeline.Dir, inv.OutDir, userData, ELM(inv), false); err != nil {
		return err
	}

	script, err := l.engine.WriteRunScript(RunScriptParams{
		Site:         inv.Site,
		OutDir:       inv.OutDir,
		Snakefile:    filepath.Join(inv.Pipeline.Dir, SnakefileName),
		PipelineName: inv.PipelineName,
		MailTo:       l.mailTo,
	})
	if err != nil {
		return err
	}

	if inv.NoRun {
		l.logger.Warn("skipping pipeline submission on request",
			"record_id", inv.RecordID,
			"command", l.engine.SubmitCommand(script, l.masterQueue).String(),
		)
		return nil
	}

	return l.engine.Submit(ctx, script, l.masterQueue, false)
}

// createRunDir создаёт выходную директорию и logs/ в ней.
// Уже существующая выходная директория — нарушение предусловия.
func createRunDir(outdir string) error {
	if err := os.MkdirAll(filepath.Dir(outdir), 0o755); err != nil {
		return fmt.Errorf("create outdir parent: %w", err)
	}
	if err := os.Mkdir(outdir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: run dir %s already exists", ErrPrecondition, outdir)
		}
		return fmt.Errorf("create run dir: %w", err)
	}
	if err := os.Mkdir(filepath.Join(outdir, domain.LogDirRel), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	return nil
}

// UserData собирает пользовательскую часть conf.yaml из
// материализованных sample/references конфигов и cmdline записи.
func UserData(inv *dispatcher.Invocation) (map[string]any, error) {
	data := make(map[string]any)

	if inv.Config != nil {
		for _, path := range []string{inv.Config.SampleCfg, inv.Config.ReferencesCfg} {
			if path == "" {
				continue
			}
			part, err := readYAML(path)
			if err != nil {
				return nil, err
			}
			maps.Copy(data, part)
		}
	}

	for k, v := range inv.Cmdline {
		data[k] = v
	}

	return data, nil
}

// ELM возвращает метаданные записи для conf.yaml.
func ELM(inv *dispatcher.Invocation) map[string]any {
	return map[string]any{
		"db_id":            inv.RecordID.String(),
		"requestor":        inv.Requestor,
		"site":             inv.Site,
		"pipeline_name":    inv.PipelineName,
		"pipeline_version": inv.PipelineVersion,
		"outdir":           inv.OutDir,
	}
}

func readYAML(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return out, nil
}
