package jobstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"subrelay/pkg/log"
)

func newTestStore(t *testing.T) (Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreWithClient(client, DefaultTTLPolicy(), log.Nop())
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func testJob(id string) *Job {
	return &Job{
		ID:             id,
		VideoURL:       "/media/example.mkv",
		VideoTitle:     "Example",
		SourceLanguage: "en",
		TargetLanguage: "es",
	}
}

func TestSaveAndGetJob(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveJob(ctx, testJob("j1")); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	got, err := store.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Phase != PhasePending {
		t.Errorf("new job phase: %s", got.Phase)
	}
	if got.VideoTitle != "Example" {
		t.Errorf("title: %q", got.VideoTitle)
	}
}

func TestSaveJobDuplicate(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_ = store.SaveJob(ctx, testJob("j1"))
	if err := store.SaveJob(ctx, testJob("j1")); !errors.Is(err, ErrJobExists) {
		t.Errorf("duplicate SaveJob: %v", err)
	}
}

func TestGetJobMissing(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.GetJob(context.Background(), "nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("missing job: %v", err)
	}
}

func TestUpdatePhaseSuccessPath(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_ = store.SaveJob(ctx, testJob("j1"))

	phases := []Phase{PhaseDownloadInProgress, PhaseDownloadCompleted, PhaseTranslateInProgress, PhaseCompleted}
	for _, p := range phases {
		if _, err := store.UpdatePhase(ctx, "j1", p, "test", nil); err != nil {
			t.Fatalf("UpdatePhase(%s): %v", p, err)
		}
	}
	got, _ := store.GetJob(ctx, "j1")
	if got.Phase != PhaseCompleted {
		t.Errorf("final phase: %s", got.Phase)
	}
	if len(got.Audit) != len(phases) {
		t.Errorf("audit entries: %d", len(got.Audit))
	}
	if got.Audit[0].Source != "test" {
		t.Errorf("audit source: %q", got.Audit[0].Source)
	}
}

func TestUpdatePhaseRegressionRejected(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_ = store.SaveJob(ctx, testJob("j1"))
	_, _ = store.UpdatePhase(ctx, "j1", PhaseDownloadCompleted, "test", nil)

	if _, err := store.UpdatePhase(ctx, "j1", PhaseDownloadInProgress, "test", nil); !errors.Is(err, ErrPhaseRegression) {
		t.Errorf("regression should be rejected, got %v", err)
	}
}

func TestUpdatePhaseIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_ = store.SaveJob(ctx, testJob("j1"))
	_, _ = store.UpdatePhase(ctx, "j1", PhaseDownloadInProgress, "test", nil)
	if _, err := store.UpdatePhase(ctx, "j1", PhaseDownloadInProgress, "test", nil); err != nil {
		t.Errorf("same-phase update should be idempotent: %v", err)
	}
}

func TestUpdatePhaseNothingAfterTerminal(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_ = store.SaveJob(ctx, testJob("j1"))
	_, _ = store.UpdatePhase(ctx, "j1", PhaseFailed, "test", map[string]string{"error": "authentication failed"})

	if _, err := store.UpdatePhase(ctx, "j1", PhaseCompleted, "test", nil); !errors.Is(err, ErrPhaseRegression) {
		t.Errorf("nothing may follow FAILED, got %v", err)
	}
	got, _ := store.GetJob(ctx, "j1")
	if got.ErrorMessage != "authentication failed" {
		t.Errorf("error message: %q", got.ErrorMessage)
	}
}

func TestTerminalTTLApplied(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	_ = store.SaveJob(ctx, testJob("j1"))

	if mr.TTL(jobKey("j1")) != 0 {
		t.Error("active job must not expire")
	}
	_, _ = store.UpdatePhase(ctx, "j1", PhaseFailed, "test", nil)
	ttl := mr.TTL(jobKey("j1"))
	if ttl <= 0 || ttl > 3*24*time.Hour {
		t.Errorf("failed job TTL: %v", ttl)
	}
}

func TestFailedFromAnyNonTerminal(t *testing.T) {
	for _, from := range []Phase{PhasePending, PhaseDownloadInProgress, PhaseDownloadCompleted, PhaseTranslateInProgress} {
		if !CanTransition(from, PhaseFailed) {
			t.Errorf("FAILED must be reachable from %s", from)
		}
	}
	for _, from := range []Phase{PhaseCompleted, PhaseFailed} {
		if CanTransition(from, PhaseFailed) {
			t.Errorf("FAILED must not follow terminal %s", from)
		}
	}
}

func TestDedupCheckAndRegister(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	d := NewDeduper(client, time.Hour, log.Nop())
	ctx := context.Background()

	fp := Fingerprint("/media/example.mkv", "en", "es")
	res := d.CheckAndRegister(ctx, fp, "j1")
	if res.IsDuplicate {
		t.Fatal("first registration must not be duplicate")
	}
	res = d.CheckAndRegister(ctx, fp, "j2")
	if !res.IsDuplicate || res.ExistingJobID != "j1" {
		t.Errorf("second registration: %+v", res)
	}
}

func TestDedupConcurrentExactlyOne(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	d := NewDeduper(client, time.Hour, log.Nop())
	fp := Fingerprint("/media/x.mkv", "en", "fr")

	const n = 8
	var wg sync.WaitGroup
	results := make([]DedupResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = d.CheckAndRegister(context.Background(), fp, "job")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, r := range results {
		if !r.IsDuplicate {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("exactly one concurrent caller must win, got %d", winners)
	}
}

func TestDedupReleaseReopensWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	d := NewDeduper(client, time.Hour, log.Nop())
	ctx := context.Background()
	fp := Fingerprint("/media/example.mkv", "en", "es")

	res := d.CheckAndRegister(ctx, fp, "j1")
	if res.IsDuplicate {
		t.Fatal("first registration must not be duplicate")
	}
	d.Release(ctx, fp, "j1")

	res = d.CheckAndRegister(ctx, fp, "j2")
	if res.IsDuplicate {
		t.Error("released fingerprint must be registrable again")
	}
}

func TestDedupReleaseOnlyOwner(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	d := NewDeduper(client, time.Hour, log.Nop())
	ctx := context.Background()
	fp := Fingerprint("/media/example.mkv", "en", "es")

	d.CheckAndRegister(ctx, fp, "j1")
	// 非注册者的撤销不得删除别人的指纹
	d.Release(ctx, fp, "j2")

	res := d.CheckAndRegister(ctx, fp, "j3")
	if !res.IsDuplicate || res.ExistingJobID != "j1" {
		t.Errorf("registration must survive a foreign release: %+v", res)
	}
}

func TestDedupUnreachableStoreDegrades(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	d := NewDeduper(client, time.Hour, log.Nop())
	mr.Close()

	res := d.CheckAndRegister(context.Background(), "fp", "j1")
	if res.IsDuplicate {
		t.Error("unreachable store must degrade to not-duplicate")
	}
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint("u", "en", "es")
	b := Fingerprint("u", "en", "es")
	c := Fingerprint("u", "en", "fr")
	if a != b {
		t.Error("fingerprint must be deterministic")
	}
	if a == c {
		t.Error("different inputs must differ")
	}
}
