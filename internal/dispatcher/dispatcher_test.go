package dispatcher

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/rpd-pipelines/internal/config"
	"github.com/shaiso/rpd-pipelines/internal/domain"
	"github.com/shaiso/rpd-pipelines/internal/pipelines"
	"github.com/shaiso/rpd-pipelines/internal/runconfig"
	"github.com/shaiso/rpd-pipelines/internal/runner"
)

func testResolver(t *testing.T) *pipelines.Resolver {
	t.Helper()

	r, err := pipelines.NewResolver(map[string]config.ChannelPaths{
		"NSCC": {Production: "/seq/pipelines", Devel: "/seq/pipelines-devel"},
	}, pipelines.ChannelProduction)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r
}

func testRecord() *domain.PipelineRun {
	return &domain.PipelineRun{
		ID:              uuid.MustParse("7e0b1f7c-2a55-4e8b-9a0f-1d5c3b2a1e00"),
		Requestor:       "alice",
		Site:            "NSCC",
		PipelineName:    "variant-calling",
		PipelineVersion: "v1.2",
	}
}

func testMaterialized(rec *domain.PipelineRun) *runconfig.Materialized {
	return &runconfig.Materialized{
		SampleCfg:     "/tmp/sample_cfg_1.yaml",
		ReferencesCfg: "/tmp/references_cfg_1.yaml",
		Params:        []string{"--mark-dups", "true"},
		ExtraConf:     runconfig.ExtraConfArgs(rec),
	}
}

func TestDispatcher_Build(t *testing.T) {
	rec := testRecord()
	mat := testMaterialized(rec)
	outdir := "/out/alice/v1.2/variant-calling/2026-10-18T10-00-00.000000"

	tests := []struct {
		name     string
		cfg      Config
		wantExe  string
		wantArgs []string
	}{
		{
			name:    "production",
			cfg:     Config{},
			wantExe: "/seq/pipelines/v1.2/variant-calling/variant-calling.py",
			wantArgs: []string{
				"--sample-cfg", "/tmp/sample_cfg_1.yaml",
				"-o", outdir,
				"--references-cfg", "/tmp/references_cfg_1.yaml",
				"--mark-dups", "true",
				"--extra-conf", "db-id:" + rec.ID.String(), "requestor:alice",
			},
		},
		{
			name:    "no run",
			cfg:     Config{NoRun: true},
			wantExe: "/seq/pipelines/v1.2/variant-calling/variant-calling.py",
			wantArgs: []string{
				"--sample-cfg", "/tmp/sample_cfg_1.yaml",
				"-o", outdir,
				"-n",
				"--references-cfg", "/tmp/references_cfg_1.yaml",
				"--mark-dups", "true",
				"--extra-conf", "db-id:" + rec.ID.String(), "requestor:alice",
			},
		},
		{
			name:    "testing drops version",
			cfg:     Config{Testing: true},
			wantExe: "/seq/pipelines/variant-calling/variant-calling.py",
			wantArgs: []string{
				"--sample-cfg", "/tmp/sample_cfg_1.yaml",
				"-o", outdir,
				"--references-cfg", "/tmp/references_cfg_1.yaml",
				"--db-logging", "t",
				"--mark-dups", "true",
				"--extra-conf", "db-id:" + rec.ID.String(), "requestor:alice",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Resolver = testResolver(t)
			d := New(tt.cfg)

			inv, err := d.Build(rec, mat, outdir)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if inv.Pipeline.Executable != tt.wantExe {
				t.Errorf("Executable = %q, want %q", inv.Pipeline.Executable, tt.wantExe)
			}
			if !slices.Equal(inv.Args, tt.wantArgs) {
				t.Errorf("Args =\n%q\nwant\n%q", inv.Args, tt.wantArgs)
			}
			if inv.OutDir != outdir {
				t.Errorf("OutDir = %q", inv.OutDir)
			}
		})
	}
}

func TestDispatcher_Build_NoReferences(t *testing.T) {
	rec := testRecord()
	mat := testMaterialized(rec)
	mat.ReferencesCfg = ""

	d := New(Config{Resolver: testResolver(t)})
	inv, err := d.Build(rec, mat, "/out")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if slices.Contains(inv.Args, "--references-cfg") {
		t.Errorf("unexpected --references-cfg in %q", inv.Args)
	}
}

func TestDispatcher_Build_UnknownSite(t *testing.T) {
	rec := testRecord()
	rec.Site = "MARS"

	d := New(Config{Resolver: testResolver(t)})
	_, err := d.Build(rec, testMaterialized(rec), "/out")
	if !errors.Is(err, pipelines.ErrUnknownSite) {
		t.Fatalf("err = %v, want ErrUnknownSite", err)
	}
}

func TestDispatcher_Dispatch(t *testing.T) {
	rec := testRecord()

	t.Run("success", func(t *testing.T) {
		fake := &runner.Fake{}
		d := New(Config{Resolver: testResolver(t), Launcher: NewCommandLauncher(fake)})

		inv, err := d.Build(rec, testMaterialized(rec), "/out")
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if err := d.Dispatch(context.Background(), inv); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}

		calls := fake.Calls()
		if len(calls) != 1 {
			t.Fatalf("calls = %d, want 1", len(calls))
		}
		if calls[0].Path != inv.Pipeline.Executable {
			t.Errorf("Path = %q", calls[0].Path)
		}
	})

	t.Run("failure is returned", func(t *testing.T) {
		fake := &runner.Fake{Handler: func(cmd runner.Command) (*runner.Result, error) {
			return runner.Fail(cmd, 2, "boom")
		}}
		d := New(Config{Resolver: testResolver(t), Launcher: NewCommandLauncher(fake)})

		inv, _ := d.Build(rec, testMaterialized(rec), "/out")
		err := d.Dispatch(context.Background(), inv)
		if !errors.Is(err, runner.ErrCommandFailed) {
			t.Fatalf("err = %v, want ErrCommandFailed", err)
		}

		var exitErr *runner.ExitError
		if !errors.As(err, &exitErr) || exitErr.ExitCode != 2 {
			t.Errorf("exit error = %+v", exitErr)
		}
		if len(fake.Calls()) != 1 {
			t.Errorf("calls = %d, want 1 (no retry)", len(fake.Calls()))
		}
	})

	t.Run("dry run", func(t *testing.T) {
		fake := &runner.Fake{}
		d := New(Config{Resolver: testResolver(t), Launcher: NewCommandLauncher(fake), DryRun: true})

		inv, _ := d.Build(rec, testMaterialized(rec), "/out")
		if err := d.Dispatch(context.Background(), inv); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		if len(fake.Calls()) != 0 {
			t.Errorf("dry run executed %d commands", len(fake.Calls()))
		}
	})

	t.Run("no launcher", func(t *testing.T) {
		d := New(Config{Resolver: testResolver(t)})

		inv, _ := d.Build(rec, testMaterialized(rec), "/out")
		if err := d.Dispatch(context.Background(), inv); !errors.Is(err, ErrNoLauncher) {
			t.Fatalf("err = %v, want ErrNoLauncher", err)
		}
	})
}
