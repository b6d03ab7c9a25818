package repo

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/rpd-pipelines/internal/domain"
)

func TestEligibleFilter_Matches(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC).UnixMilli()
	day := int64(24 * time.Hour / time.Millisecond)
	filter := EligibleFilter{Site: "NSCC", From: now - 14*day, To: now}

	tests := []struct {
		name string
		rec  domain.PipelineRun
		want bool
	}{
		{"inside", domain.PipelineRun{Site: "NSCC", CTime: now - day}, true},
		{"too old", domain.PipelineRun{Site: "NSCC", CTime: now - 20*day}, false},
		{"lower bound excluded", domain.PipelineRun{Site: "NSCC", CTime: now - 14*day}, false},
		{"upper bound excluded", domain.PipelineRun{Site: "NSCC", CTime: now}, false},
		{"other site", domain.PipelineRun{Site: "GIS", CTime: now - day}, false},
		{"dispatched", domain.PipelineRun{Site: "NSCC", CTime: now - day, Run: &domain.DispatchMarker{}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := filter.Matches(&tt.rec); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestPipelineRunRepo_Claim работает против реальной БД из DB_URL_TESTING.
func TestPipelineRunRepo_Claim(t *testing.T) {
	dsn := os.Getenv(EnvDBURLTesting)
	if dsn == "" {
		t.Skip("DB_URL_TESTING not set")
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer pool.Close()

	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	r := NewPipelineRunRepo(pool)
	site := "TEST-" + uuid.NewString()[:8]
	now := time.Now().UnixMilli()

	rec := &domain.PipelineRun{
		ID:              uuid.New(),
		Requestor:       "alice",
		Site:            site,
		PipelineName:    "variant-calling",
		PipelineVersion: "v1",
		CTime:           now - 1000,
		SampleCfg:       map[string]any{"samples": map[string]any{"S1": "ru1"}},
	}
	if err := r.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() {
		pool.Exec(context.Background(), `DELETE FROM pipeline_runs WHERE id = $1`, rec.ID)
	})

	if err := r.Create(ctx, rec); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("second Create err = %v, want ErrAlreadyExists", err)
	}

	filter := EligibleFilter{Site: site, From: now - 60_000, To: now + 60_000}
	recs, err := r.ListEligible(ctx, filter)
	if err != nil {
		t.Fatalf("ListEligible: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != rec.ID {
		t.Fatalf("ListEligible = %v, want one record", recs)
	}

	marker := domain.NewDispatchMarker("host", "/out")
	if err := r.Claim(ctx, rec.ID, marker); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := r.Claim(ctx, rec.ID, domain.NewDispatchMarker("other", "/out")); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("second Claim err = %v, want ErrAlreadyClaimed", err)
	}
	if err := r.Claim(ctx, uuid.New(), marker); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Claim missing err = %v, want ErrNotFound", err)
	}

	recs, err = r.ListEligible(ctx, filter)
	if err != nil {
		t.Fatalf("ListEligible: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("claimed record still eligible")
	}

	marker.MarkSubmitted()
	if err := r.UpdateMarker(ctx, rec.ID, marker); err != nil {
		t.Fatalf("UpdateMarker: %v", err)
	}

	foreign := domain.NewDispatchMarker("other", "/out")
	if err := r.UpdateMarker(ctx, rec.ID, foreign); !errors.Is(err, ErrClaimMismatch) {
		t.Fatalf("foreign UpdateMarker err = %v, want ErrClaimMismatch", err)
	}

	got, err := r.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Run == nil || got.Run.Status != domain.DispatchStatusSubmitted {
		t.Errorf("marker = %+v, want SUBMITTED", got.Run)
	}
}

func TestLockKey_Stable(t *testing.T) {
	if LockKey("downstream-starter") != LockKey("downstream-starter") {
		t.Fatal("LockKey is not deterministic")
	}
	if LockKey("downstream-starter") == LockKey("stage-out-starter") {
		t.Fatal("different jobs share a lock key")
	}
}

func TestAdvisoryLock_Exclusive(t *testing.T) {
	dsn := os.Getenv(EnvDBURLTesting)
	if dsn == "" {
		t.Skip("DB_URL_TESTING not set")
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer pool.Close()

	key := LockKey(t.Name())
	a := NewAdvisoryLock(pool, key)
	b := NewAdvisoryLock(pool, key)

	ok, err := a.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("first TryLock = %v, %v", ok, err)
	}
	ok, err = b.TryLock(ctx)
	if err != nil || ok {
		t.Fatalf("second TryLock = %v, %v; want false", ok, err)
	}

	if err := a.Unlock(ctx); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	ok, err = b.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("TryLock after unlock = %v, %v", ok, err)
	}
	_ = b.Unlock(ctx)
}
