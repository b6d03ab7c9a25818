package submit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/rpd-pipelines/internal/domain"
	"github.com/shaiso/rpd-pipelines/internal/runner"
)

// DefaultConfigFile — конфиг по умолчанию в директории pipeline.
const DefaultConfigFile = "conf.default.yaml"

// ELMKey — ключ метаданных записи в conf.yaml.
const ELMKey = "ELM"

// Токены шаблона run-скрипта.
const (
	TokenSnakefile      = "@SNAKEFILE@"
	TokenLogDir         = "@LOGDIR@"
	TokenMasterLog      = "@MASTERLOG@"
	TokenPipelineName   = "@PIPELINE_NAME@"
	TokenMailTo         = "@MAILTO@"
	TokenDefaultSlaveQ  = "@DEFAULT_SLAVE_Q@"
	runTemplatePattern  = "run.template.%s.sh"
	defaultSubmitBinary = "qsub"
)

// Engine готовит и отправляет run-директории.
type Engine struct {
	runner      runner.Runner
	vars        *VarsLoader
	templateDir string

	submitCommand string
	slaveQueue    string

	logger *slog.Logger
}

// Config — конфигурация Engine.
type Config struct {
	Runner runner.Runner

	// Vars — загрузчик переменных RPD для подстановки в конфиг по умолчанию.
	Vars *VarsLoader

	// TemplateDir — директория с шаблонами run.template.<site>.sh.
	TemplateDir string

	// SubmitCommand — команда отправки (по умолчанию qsub).
	SubmitCommand string

	// SlaveQueue — очередь для задач pipeline (@DEFAULT_SLAVE_Q@).
	SlaveQueue string

	Logger *slog.Logger
}

// NewEngine создаёт Engine.
func NewEngine(cfg Config) *Engine {
	submitCommand := cfg.SubmitCommand
	if submitCommand == "" {
		submitCommand = defaultSubmitBinary
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		runner:        cfg.Runner,
		vars:          cfg.Vars,
		templateDir:   cfg.TemplateDir,
		submitCommand: submitCommand,
		slaveQueue:    cfg.SlaveQueue,
		logger:        logger,
	}
}

// ReadDefaultConfig читает conf.default.yaml pipeline и подставляет
// переменные RPD: каждое вхождение $KEY заменяется значением.
func (e *Engine) ReadDefaultConfig(ctx context.Context, pipelineDir string) (map[string]any, error) {
	path := filepath.Join(pipelineDir, DefaultConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read default config: %w", err)
	}

	var cfg map[string]any
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode default config %s: %w", path, err)
	}
	if cfg == nil {
		cfg = make(map[string]any)
	}

	var vars map[string]string
	if e.vars != nil {
		vars, err = e.vars.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load rpd vars: %w", err)
		}
	}
	if len(vars) == 0 {
		return cfg, nil
	}

	return substituteVars(cfg, vars)
}

// substituteVars заменяет $KEY во всём дереве конфига.
// Длинные ключи подставляются первыми, чтобы $FOO не задел $FOOBAR.
func substituteVars(cfg map[string]any, vars map[string]string) (map[string]any, error) {
	dump, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}

	keys := slices.Collect(maps.Keys(vars))
	slices.SortFunc(keys, func(a, b string) int {
		if len(a) != len(b) {
			return len(b) - len(a)
		}
		return strings.Compare(a, b)
	})

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "$"+k, jsonEscape(vars[k]))
	}
	replaced := strings.NewReplacer(pairs...).Replace(string(dump))

	dec := json.NewDecoder(strings.NewReader(replaced))
	dec.UseNumber()

	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode substituted config: %w", err)
	}
	return restoreNumbers(out).(map[string]any), nil
}

// restoreNumbers заменяет json.Number на int64 или float64, чтобы
// целые значения конфига остались целыми в conf.yaml.
func restoreNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = restoreNumbers(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = restoreNumbers(val)
		}
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}

func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}

// WriteMergedConfig пишет outdir/conf.yaml: конфиг по умолчанию,
// поверх него userData и метаданные elm под ключом ELM.
func (e *Engine) WriteMergedConfig(ctx context.Context, pipelineDir, outdir string, userData, elm map[string]any, overwrite bool) (string, error) {
	path := filepath.Join(outdir, domain.PipelineConfigFile)

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("%w: %s already exists", ErrPrecondition, path)
		}
	}

	cfg, err := e.ReadDefaultConfig(ctx, pipelineDir)
	if err != nil {
		return "", err
	}
	maps.Copy(cfg, userData)

	if _, ok := cfg[ELMKey]; ok {
		return "", fmt.Errorf("%w: %s already set in config", ErrPrecondition, ELMKey)
	}
	cfg[ELMKey] = elm

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode merged config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write merged config: %w", err)
	}

	return path, nil
}

// RunScriptParams — параметры рендера run.sh.
type RunScriptParams struct {
	Site         string
	OutDir       string
	Snakefile    string
	PipelineName string
	MailTo       string
}

// TemplatePath возвращает путь к шаблону run-скрипта площадки.
func (e *Engine) TemplatePath(site string) string {
	return filepath.Join(e.templateDir, fmt.Sprintf(runTemplatePattern, strings.ToLower(site)))
}

// WriteRunScript рендерит шаблон площадки в outdir/run.sh.
func (e *Engine) WriteRunScript(p RunScriptParams) (string, error) {
	tmplPath := e.TemplatePath(p.Site)
	tmpl, err := os.ReadFile(tmplPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s (no %s)", ErrUnknownSite, p.Site, tmplPath)
		}
		return "", fmt.Errorf("read run template: %w", err)
	}

	replacer := strings.NewReplacer(
		TokenSnakefile, p.Snakefile,
		TokenLogDir, domain.LogDirRel,
		TokenMasterLog, domain.MasterLogRel,
		TokenPipelineName, p.PipelineName,
		TokenMailTo, p.MailTo,
		TokenDefaultSlaveQ, e.slaveQueue,
	)

	path := filepath.Join(p.OutDir, domain.RunScriptFile)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o755)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s already exists", ErrPrecondition, path)
		}
		return "", fmt.Errorf("create run script: %w", err)
	}

	if _, err := replacer.WriteString(f, string(tmpl)); err != nil {
		f.Close()
		return "", fmt.Errorf("write run script: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close run script: %w", err)
	}

	return path, nil
}

// SubmitCommand возвращает команду отправки скрипта.
func (e *Engine) SubmitCommand(script, masterQueue string) runner.Command {
	var args []string
	if masterQueue != "" {
		args = append(args, "-q", masterQueue)
	}
	args = append(args, filepath.Base(script))

	return runner.Command{
		Path: e.submitCommand,
		Args: args,
		Dir:  filepath.Dir(script),
	}
}

// Submit отправляет скрипт в планировщик из его директории.
// stdout планировщика дописывается в logs/submission.log.
func (e *Engine) Submit(ctx context.Context, script, masterQueue string, dryRun bool) error {
	cmd := e.SubmitCommand(script, masterQueue)
	logger := e.logger.With("command", cmd.String(), "dir", cmd.Dir)

	if dryRun {
		logger.Info("skipping submission (dry run)")
		return nil
	}

	logDir := filepath.Join(cmd.Dir, domain.LogDirRel)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	submissionLog := filepath.Join(cmd.Dir, domain.SubmissionLogRel)
	f, err := os.OpenFile(submissionLog, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open submission log: %w", err)
	}
	defer f.Close()

	cmd.Stdout = f

	logger.Info("submitting pipeline")
	if _, err := e.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("submit %s: %w", script, err)
	}

	logger.Info("pipeline submitted",
		"submission_log", submissionLog,
		"master_log", filepath.Join(cmd.Dir, domain.MasterLogRel),
	)
	return nil
}
