// Package runconfig материализует конфигурацию одного pipeline run:
// временные YAML-файлы sample/references и дополнительные аргументы
// командной строки.
package runconfig

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/rpd-pipelines/internal/domain"
)

// Префиксы временных файлов.
const (
	SampleCfgPrefix     = "sample_cfg_"
	ReferencesCfgPrefix = "references_cfg_"
	cfgSuffix           = ".yaml"
)

// Materialized — результат материализации одной записи.
type Materialized struct {
	// SampleCfg — путь к временному файлу с sample_cfg.
	SampleCfg string

	// ReferencesCfg — путь к файлу с references_cfg (пусто, если нет).
	ReferencesCfg string

	// Params — аргументы из cmdline: --key value для каждой пары.
	Params []string

	// ExtraConf — аргументы --extra-conf с id записи и requestor.
	ExtraConf []string
}

// Files возвращает список созданных временных файлов.
func (m *Materialized) Files() []string {
	files := []string{m.SampleCfg}
	if m.ReferencesCfg != "" {
		files = append(files, m.ReferencesCfg)
	}
	return files
}

// Cleanup удаляет временные файлы.
func (m *Materialized) Cleanup() error {
	var errs []error
	for _, f := range m.Files() {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Materializer пишет конфиги записей во временную директорию.
type Materializer struct {
	dir string
}

// NewMaterializer создаёт Materializer. Пустой dir — os.TempDir().
func NewMaterializer(dir string) *Materializer {
	return &Materializer{dir: dir}
}

// Materialize пишет sample_cfg (и references_cfg, если есть) в уникальные
// временные файлы и собирает дополнительные аргументы.
func (m *Materializer) Materialize(rec *domain.PipelineRun) (*Materialized, error) {
	if rec.SampleCfg == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingSampleCfg, rec.ID)
	}

	out := &Materialized{
		Params:    CmdlineArgs(rec.Cmdline),
		ExtraConf: ExtraConfArgs(rec),
	}

	path, err := m.writeTemp(SampleCfgPrefix, rec.SampleCfg)
	if err != nil {
		return nil, fmt.Errorf("write sample_cfg: %w", err)
	}
	out.SampleCfg = path

	if rec.ReferencesCfg != nil {
		path, err := m.writeTemp(ReferencesCfgPrefix, rec.ReferencesCfg)
		if err != nil {
			_ = out.Cleanup()
			return nil, fmt.Errorf("write references_cfg: %w", err)
		}
		out.ReferencesCfg = path
	}

	return out, nil
}

// writeTemp создаёт новый файл prefix*.yaml и пишет в него YAML.
func (m *Materializer) writeTemp(prefix string, v any) (string, error) {
	f, err := os.CreateTemp(m.dir, prefix+"*"+cfgSuffix)
	if err != nil {
		return "", err
	}

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := enc.Close(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// CmdlineArgs превращает cmdline записи в --key value.
// Ключи сортируются, чтобы команда в логах была воспроизводимой.
func CmdlineArgs(cmdline map[string]string) []string {
	keys := make([]string, 0, len(cmdline))
	for k := range cmdline {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, "--"+k, cmdline[k])
	}
	return args
}

// ExtraConfArgs возвращает --extra-conf db-id:<id> requestor:<requestor>.
func ExtraConfArgs(rec *domain.PipelineRun) []string {
	return []string{
		"--extra-conf",
		"db-id:" + rec.ID.String(),
		"requestor:" + rec.Requestor,
	}
}
