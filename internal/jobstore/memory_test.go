package jobstore

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreSemantics(t *testing.T) {
	store := NewMemoryStore(DefaultTTLPolicy())
	ctx := context.Background()

	if err := store.SaveJob(ctx, testJob("m1")); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	if err := store.SaveJob(ctx, testJob("m1")); !errors.Is(err, ErrJobExists) {
		t.Errorf("duplicate: %v", err)
	}
	if _, err := store.GetJob(ctx, "absent"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("missing: %v", err)
	}

	if _, err := store.UpdatePhase(ctx, "m1", PhaseDownloadInProgress, "test", nil); err != nil {
		t.Fatalf("UpdatePhase: %v", err)
	}
	if _, err := store.UpdatePhase(ctx, "m1", PhasePending, "test", nil); !errors.Is(err, ErrPhaseRegression) {
		t.Errorf("regression: %v", err)
	}

	got, err := store.GetJob(ctx, "m1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Phase != PhaseDownloadInProgress || len(got.Audit) != 1 {
		t.Errorf("phase=%s audit=%d", got.Phase, len(got.Audit))
	}

	// 返回副本，调用方改写不得污染存储
	got.VideoTitle = "mutated"
	again, _ := store.GetJob(ctx, "m1")
	if again.VideoTitle == "mutated" {
		t.Error("GetJob must return a copy")
	}
}
