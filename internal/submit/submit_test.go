package submit

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/shaiso/rpd-pipelines/internal/dispatcher"
	"github.com/shaiso/rpd-pipelines/internal/domain"
	"github.com/shaiso/rpd-pipelines/internal/pipelines"
	"github.com/shaiso/rpd-pipelines/internal/runconfig"
	"github.com/shaiso/rpd-pipelines/internal/runner"
)

const initOutput = `# rpd init
export RPD_ROOT="/mnt/projects/rpd";
export RPD_ROOT_APPS='/mnt/projects/rpd/apps';
export RPD_GENOMES=/mnt/projects/rpd/genomes
echo done
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func initRunner(output string) *runner.Fake {
	return &runner.Fake{Handler: func(cmd runner.Command) (*runner.Result, error) {
		return &runner.Result{Output: []byte(output)}, nil
	}}
}

func TestParseExports(t *testing.T) {
	got := ParseExports([]byte(initOutput))

	want := map[string]string{
		"RPD_ROOT":      "/mnt/projects/rpd",
		"RPD_ROOT_APPS": "/mnt/projects/rpd/apps",
		"RPD_GENOMES":   "/mnt/projects/rpd/genomes",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d vars, want %d: %v", len(got), len(want), got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestVarsLoader_RunsOnce(t *testing.T) {
	fake := initRunner(initOutput)
	l := NewVarsLoader(fake, "/seq/astar/gis/rpd/init", true)

	for range 3 {
		vars, err := l.Load(context.Background())
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if vars["RPD_ROOT"] != "/mnt/projects/rpd" {
			t.Errorf("RPD_ROOT = %q", vars["RPD_ROOT"])
		}
	}

	calls := fake.Calls()
	if len(calls) != 1 {
		t.Fatalf("init called %d times, want 1", len(calls))
	}
	if !slices.Equal(calls[0].Args, []string{"-d"}) {
		t.Errorf("devel init args = %q, want [-d]", calls[0].Args)
	}
}

func TestVarsLoader_Errors(t *testing.T) {
	t.Run("no init command", func(t *testing.T) {
		l := NewVarsLoader(&runner.Fake{}, "", false)
		if _, err := l.Load(context.Background()); !errors.Is(err, ErrNoInitCommand) {
			t.Fatalf("err = %v, want ErrNoInitCommand", err)
		}
	})

	t.Run("init fails", func(t *testing.T) {
		fake := &runner.Fake{Handler: func(cmd runner.Command) (*runner.Result, error) {
			return runner.Fail(cmd, 1, "no such site")
		}}
		l := NewVarsLoader(fake, "/bin/init", false)
		if _, err := l.Load(context.Background()); !errors.Is(err, runner.ErrCommandFailed) {
			t.Fatalf("err = %v, want ErrCommandFailed", err)
		}
	})
}

func TestEngine_ReadDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, DefaultConfigFile), `
references:
  genome: $RPD_GENOMES/hg19/hg19.fa
apps: $RPD_ROOT_APPS/bwa
root: $RPD_ROOT
threads: 8
`)

	out := `export RPD_ROOT=/mnt/"quoted"
export RPD_ROOT_APPS=/apps
export RPD_GENOMES=/genomes
`
	e := NewEngine(Config{Vars: NewVarsLoader(initRunner(out), "/bin/init", false)})

	cfg, err := e.ReadDefaultConfig(context.Background(), dir)
	if err != nil {
		t.Fatalf("ReadDefaultConfig: %v", err)
	}

	refs, _ := cfg["references"].(map[string]any)
	if refs["genome"] != "/genomes/hg19/hg19.fa" {
		t.Errorf("genome = %v", refs["genome"])
	}
	if cfg["apps"] != "/apps/bwa" {
		t.Errorf("apps = %v (longer key must win)", cfg["apps"])
	}
	// Кавычки удаляются при разборе export.
	if cfg["root"] != "/mnt/quoted" {
		t.Errorf("root = %v", cfg["root"])
	}
}

func TestSubstituteVars_EscapesValues(t *testing.T) {
	cfg := map[string]any{"cmd": "run $ARGS"}

	got, err := substituteVars(cfg, map[string]string{"ARGS": `a "b" \c`})
	if err != nil {
		t.Fatalf("substituteVars: %v", err)
	}
	if got["cmd"] != `run a "b" \c` {
		t.Errorf("cmd = %q", got["cmd"])
	}
}

func TestEngine_WriteMergedConfig(t *testing.T) {
	pipelineDir := t.TempDir()
	writeFile(t, filepath.Join(pipelineDir, DefaultConfigFile), "threads: 4\nmark_dups: false\n")

	e := NewEngine(Config{})
	ctx := context.Background()

	t.Run("merge", func(t *testing.T) {
		outdir := t.TempDir()
		path, err := e.WriteMergedConfig(ctx, pipelineDir, outdir,
			map[string]any{"mark_dups": true, "samples": map[string]any{"S1": "x"}},
			map[string]any{"db_id": "abc"}, false)
		if err != nil {
			t.Fatalf("WriteMergedConfig: %v", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		var got map[string]any
		if err := yaml.Unmarshal(data, &got); err != nil {
			t.Fatal(err)
		}
		if got["mark_dups"] != true {
			t.Errorf("user value not applied: %v", got["mark_dups"])
		}
		if got["threads"] != 4 {
			t.Errorf("default lost: %v", got["threads"])
		}
		elm, _ := got[ELMKey].(map[string]any)
		if elm["db_id"] != "abc" {
			t.Errorf("ELM = %v", got[ELMKey])
		}
	})

	t.Run("exists", func(t *testing.T) {
		outdir := t.TempDir()
		writeFile(t, filepath.Join(outdir, domain.PipelineConfigFile), "old: true\n")

		_, err := e.WriteMergedConfig(ctx, pipelineDir, outdir, nil, nil, false)
		if !errors.Is(err, ErrPrecondition) {
			t.Fatalf("err = %v, want ErrPrecondition", err)
		}

		if _, err := e.WriteMergedConfig(ctx, pipelineDir, outdir, nil, nil, true); err != nil {
			t.Fatalf("overwrite: %v", err)
		}
	})

	t.Run("elm already set", func(t *testing.T) {
		outdir := t.TempDir()
		_, err := e.WriteMergedConfig(ctx, pipelineDir, outdir,
			map[string]any{ELMKey: "user"}, map[string]any{}, false)
		if !errors.Is(err, ErrPrecondition) {
			t.Fatalf("err = %v, want ErrPrecondition", err)
		}
	})
}

const runTemplate = `#!/bin/bash
#$ -M @MAILTO@
#$ -N @PIPELINE_NAME@.master
snakemake -s @SNAKEFILE@ --cluster "qsub @DEFAULT_SLAVE_Q@" >> @MASTERLOG@ 2>&1
# logs in @LOGDIR@
`

func TestEngine_WriteRunScript(t *testing.T) {
	templateDir := t.TempDir()
	writeFile(t, filepath.Join(templateDir, "run.template.nscc.sh"), runTemplate)

	e := NewEngine(Config{TemplateDir: templateDir, SlaveQueue: "-q normal"})
	params := RunScriptParams{
		Site:         "NSCC",
		Snakefile:    "/seq/pipelines/v1/variant-calling/Snakefile",
		PipelineName: "variant-calling",
		MailTo:       "alice@gis.a-star.edu.sg",
	}

	t.Run("render", func(t *testing.T) {
		p := params
		p.OutDir = t.TempDir()

		path, err := e.WriteRunScript(p)
		if err != nil {
			t.Fatalf("WriteRunScript: %v", err)
		}
		data, _ := os.ReadFile(path)
		got := string(data)

		for _, want := range []string{
			"#$ -M alice@gis.a-star.edu.sg",
			"#$ -N variant-calling.master",
			"snakemake -s /seq/pipelines/v1/variant-calling/Snakefile",
			`--cluster "qsub -q normal"`,
			">> logs/snakemake.log",
			"# logs in logs",
		} {
			if !strings.Contains(got, want) {
				t.Errorf("run.sh missing %q:\n%s", want, got)
			}
		}
		if strings.Contains(got, TokenSnakefile) || strings.Contains(got, TokenDefaultSlaveQ) {
			t.Errorf("unreplaced token in:\n%s", got)
		}
	})

	t.Run("exists", func(t *testing.T) {
		p := params
		p.OutDir = t.TempDir()
		writeFile(t, filepath.Join(p.OutDir, domain.RunScriptFile), "old")

		if _, err := e.WriteRunScript(p); !errors.Is(err, ErrPrecondition) {
			t.Fatalf("err = %v, want ErrPrecondition", err)
		}
		data, _ := os.ReadFile(filepath.Join(p.OutDir, domain.RunScriptFile))
		if string(data) != "old" {
			t.Error("existing run.sh was overwritten")
		}
	})

	t.Run("unknown site", func(t *testing.T) {
		p := params
		p.Site = "AWS"
		p.OutDir = t.TempDir()

		if _, err := e.WriteRunScript(p); !errors.Is(err, ErrUnknownSite) {
			t.Fatalf("err = %v, want ErrUnknownSite", err)
		}
	})
}

func TestEngine_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("appends to submission log", func(t *testing.T) {
		dir := t.TempDir()
		script := filepath.Join(dir, domain.RunScriptFile)

		fake := &runner.Fake{Handler: func(cmd runner.Command) (*runner.Result, error) {
			io.WriteString(cmd.Stdout, "Your job 4242 has been submitted\n")
			return &runner.Result{}, nil
		}}
		e := NewEngine(Config{Runner: fake})

		if err := e.Submit(ctx, script, "production", false); err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if err := e.Submit(ctx, script, "", false); err != nil {
			t.Fatalf("Submit: %v", err)
		}

		calls := fake.Calls()
		if len(calls) != 2 {
			t.Fatalf("calls = %d, want 2", len(calls))
		}
		if calls[0].Path != "qsub" || calls[0].Dir != dir {
			t.Errorf("command = %+v", calls[0])
		}
		if !slices.Equal(calls[0].Args, []string{"-q", "production", "run.sh"}) {
			t.Errorf("args = %q", calls[0].Args)
		}
		if !slices.Equal(calls[1].Args, []string{"run.sh"}) {
			t.Errorf("args = %q", calls[1].Args)
		}

		data, err := os.ReadFile(filepath.Join(dir, domain.SubmissionLogRel))
		if err != nil {
			t.Fatal(err)
		}
		if n := strings.Count(string(data), "Your job 4242"); n != 2 {
			t.Errorf("submission log has %d entries, want 2", n)
		}
	})

	t.Run("failure", func(t *testing.T) {
		fake := &runner.Fake{Handler: func(cmd runner.Command) (*runner.Result, error) {
			return runner.Fail(cmd, 1, "queue disabled")
		}}
		e := NewEngine(Config{Runner: fake})

		err := e.Submit(ctx, filepath.Join(t.TempDir(), "run.sh"), "", false)
		if !errors.Is(err, runner.ErrCommandFailed) {
			t.Fatalf("err = %v, want ErrCommandFailed", err)
		}
	})

	t.Run("dry run", func(t *testing.T) {
		fake := &runner.Fake{}
		e := NewEngine(Config{Runner: fake})

		if err := e.Submit(ctx, filepath.Join(t.TempDir(), "run.sh"), "", true); err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if len(fake.Calls()) != 0 {
			t.Error("dry run must not submit")
		}
	})
}

func TestNativeLauncher_Launch(t *testing.T) {
	root := t.TempDir()
	pipelineDir := filepath.Join(root, "pipelines", "v1", "variant-calling")
	templateDir := filepath.Join(root, "lib")
	outdir := filepath.Join(root, "out", "alice", "v1", "variant-calling", "2026-10-18T10-00-00.000000")

	writeFile(t, filepath.Join(pipelineDir, DefaultConfigFile), "genome: $RPD_GENOMES/hg19.fa\n")
	writeFile(t, filepath.Join(templateDir, "run.template.nscc.sh"), runTemplate)

	sample := filepath.Join(root, "sample.yaml")
	writeFile(t, sample, "samples:\n  S1: [ru1]\n")

	fake := &runner.Fake{Handler: func(cmd runner.Command) (*runner.Result, error) {
		if cmd.Path == "/bin/init" {
			return &runner.Result{Output: []byte("export RPD_GENOMES=/genomes\n")}, nil
		}
		return &runner.Result{}, nil
	}}

	engine := NewEngine(Config{
		Runner:      fake,
		Vars:        NewVarsLoader(fake, "/bin/init", false),
		TemplateDir: templateDir,
	})
	launcher := NewNativeLauncher(LauncherConfig{Engine: engine, MailTo: "alice@gis.a-star.edu.sg"})

	inv := &dispatcher.Invocation{
		RecordID:        uuid.New(),
		Requestor:       "alice",
		Site:            "NSCC",
		PipelineName:    "variant-calling",
		PipelineVersion: "v1",
		Pipeline:        pipelines.Pipeline{Dir: pipelineDir},
		OutDir:          outdir,
		Config:          &runconfig.Materialized{SampleCfg: sample},
		Cmdline:         map[string]string{"mark_dups": "true"},
	}

	if err := launcher.Launch(context.Background(), inv); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(outdir, domain.PipelineConfigFile))
	if err != nil {
		t.Fatal(err)
	}
	var conf map[string]any
	if err := yaml.Unmarshal(data, &conf); err != nil {
		t.Fatal(err)
	}
	if conf["genome"] != "/genomes/hg19.fa" {
		t.Errorf("genome = %v", conf["genome"])
	}
	if conf["mark_dups"] != "true" {
		t.Errorf("mark_dups = %v", conf["mark_dups"])
	}
	if _, ok := conf["samples"]; !ok {
		t.Error("samples missing from conf.yaml")
	}
	elm, _ := conf[ELMKey].(map[string]any)
	if elm["db_id"] != inv.RecordID.String() {
		t.Errorf("ELM = %v", conf[ELMKey])
	}

	if _, err := os.Stat(filepath.Join(outdir, domain.RunScriptFile)); err != nil {
		t.Errorf("run.sh not written: %v", err)
	}

	calls := fake.Calls()
	last := calls[len(calls)-1]
	if last.Path != "qsub" || last.Dir != outdir {
		t.Errorf("last command = %+v, want qsub in outdir", last)
	}

	// Повторный запуск в ту же директорию нарушает предусловие.
	if err := launcher.Launch(context.Background(), inv); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("second Launch err = %v, want ErrPrecondition", err)
	}
}

func TestNativeLauncher_NoRun(t *testing.T) {
	root := t.TempDir()
	pipelineDir := filepath.Join(root, "pipeline")
	templateDir := filepath.Join(root, "lib")
	writeFile(t, filepath.Join(pipelineDir, DefaultConfigFile), "threads: 1\n")
	writeFile(t, filepath.Join(templateDir, "run.template.gis.sh"), runTemplate)

	fake := &runner.Fake{}
	engine := NewEngine(Config{Runner: fake, TemplateDir: templateDir})
	launcher := NewNativeLauncher(LauncherConfig{Engine: engine})

	inv := &dispatcher.Invocation{
		RecordID: uuid.New(),
		Site:     "GIS",
		Pipeline: pipelines.Pipeline{Dir: pipelineDir},
		OutDir:   filepath.Join(root, "out"),
		NoRun:    true,
	}
	if err := launcher.Launch(context.Background(), inv); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if len(fake.Calls()) != 0 {
		t.Errorf("no-run submitted %d commands", len(fake.Calls()))
	}
}

func TestEngine_WriteMergedConfig_KeepsIntegers(t *testing.T) {
	pipelineDir := t.TempDir()
	writeFile(t, filepath.Join(pipelineDir, DefaultConfigFile), `
root: $RPD_ROOT
threads: 8
mem_bytes: 16000000
ratio: 0.25
lanes: [1, 2, 3]
`)

	e := NewEngine(Config{Vars: NewVarsLoader(initRunner(initOutput), "/bin/init", false)})
	outdir := t.TempDir()

	path, err := e.WriteMergedConfig(context.Background(), pipelineDir, outdir, nil, nil, false)
	if err != nil {
		t.Fatalf("WriteMergedConfig: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if !strings.Contains(text, "mem_bytes: 16000000\n") {
		t.Errorf("mem_bytes not written as integer:\n%s", text)
	}
	if strings.Contains(text, "e+") {
		t.Errorf("exponent form in conf.yaml:\n%s", text)
	}

	var got map[string]any
	if err := yaml.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		key  string
		want any
	}{
		{"root", "/mnt/projects/rpd"},
		{"threads", 8},
		{"mem_bytes", 16000000},
		{"ratio", 0.25},
	}
	for _, tt := range tests {
		if got[tt.key] != tt.want {
			t.Errorf("%s = %#v, want %#v", tt.key, got[tt.key], tt.want)
		}
	}
	if lanes, _ := got["lanes"].([]any); len(lanes) != 3 || lanes[0] != 1 {
		t.Errorf("lanes = %#v", got["lanes"])
	}
}

func TestNativeLauncher_ExistingRunDir(t *testing.T) {
	root := t.TempDir()
	outdir := filepath.Join(root, "out", "alice", "v1", "variant-calling", "2026-10-18T10-00-00.000000")
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		t.Fatal(err)
	}

	fake := &runner.Fake{}
	launcher := NewNativeLauncher(LauncherConfig{Engine: NewEngine(Config{Runner: fake, TemplateDir: root})})

	err := launcher.Launch(context.Background(), &dispatcher.Invocation{
		RecordID: uuid.New(),
		Site:     "GIS",
		Pipeline: pipelines.Pipeline{Dir: filepath.Join(root, "pipeline")},
		OutDir:   outdir,
	})
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("err = %v, want ErrPrecondition", err)
	}
	if len(fake.Calls()) != 0 {
		t.Errorf("commands run for existing run dir: %v", fake.Calls())
	}
	if _, err := os.Stat(filepath.Join(outdir, domain.PipelineConfigFile)); !os.IsNotExist(err) {
		t.Errorf("conf.yaml written into existing run dir")
	}
}
