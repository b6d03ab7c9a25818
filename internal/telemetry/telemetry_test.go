package telemetry

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLogLevel_Verbosity(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	tests := []struct {
		name string
		opts LogOptions
		want slog.Level
	}{
		{"default", LogOptions{}, slog.LevelWarn},
		{"-v", LogOptions{Verbose: 1}, slog.LevelInfo},
		{"-vv", LogOptions{Verbose: 2}, slog.LevelDebug},
		{"-vvv clamps", LogOptions{Verbose: 3}, slog.LevelDebug},
		{"-q", LogOptions{Quiet: 1}, slog.LevelError},
		{"-qq", LogOptions{Quiet: 2}, LevelCritical},
		{"-qqq", LogOptions{Quiet: 3}, LevelOff},
		{"-v -q cancel out", LogOptions{Verbose: 1, Quiet: 1}, slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LogLevel(tt.opts); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestLogLevel_EnvOverride(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	if got := LogLevel(LogOptions{Quiet: 2}); got != slog.LevelDebug {
		t.Errorf("LOG_LEVEL should win, got %v", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveDispatch("NSCC", DispatchSubmitted)
	m.ObserveStageOut(StageOutStaged)
	m.SetEligible("NSCC", 3)
	m.ObserveCycle("starter", time.Now(), true)
	if err := m.WriteTextfile("/nonexistent/x.prom"); err != nil {
		t.Errorf("nil metrics should not write: %v", err)
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()
	m.ObserveDispatch("NSCC", DispatchSubmitted)
	m.ObserveDispatch("NSCC", DispatchSubmitted)
	m.ObserveDispatch("NSCC", DispatchFailed)
	m.ObserveStageOut(StageOutStaged)

	if got := testutil.ToFloat64(m.dispatchTotal.WithLabelValues("NSCC", DispatchSubmitted)); got != 2 {
		t.Errorf("expected 2 submitted, got %v", got)
	}
	if got := testutil.ToFloat64(m.dispatchTotal.WithLabelValues("NSCC", DispatchFailed)); got != 1 {
		t.Errorf("expected 1 failed, got %v", got)
	}
	if got := testutil.ToFloat64(m.stageOutTotal.WithLabelValues(StageOutStaged)); got != 1 {
		t.Errorf("expected 1 staged, got %v", got)
	}
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.SetEligible("GIS", 5)

	path := filepath.Join(t.TempDir(), "rpd.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `rpd_eligible_records{site="GIS"} 5`) {
		t.Errorf("textfile missing gauge:\n%s", data)
	}
}
