package checkpoint

import (
	"context"
	"errors"
	"testing"

	"subrelay/internal/subtitle"
	"subrelay/pkg/log"
)

func seg(i int, text string) subtitle.Segment {
	return subtitle.Segment{Index: i, StartTime: "00:00:01,000", EndTime: "00:00:02,000", Text: text}
}

func TestCheckpointProgress(t *testing.T) {
	cp := New("j1", "es", "fp", 3)
	if cp.Complete() {
		t.Error("empty checkpoint must not be complete")
	}
	cp.MarkChunk(0, []subtitle.Segment{seg(1, "hola")})
	cp.MarkChunk(2, []subtitle.Segment{seg(3, "adios")})
	if !cp.Done(0) || cp.Done(1) || !cp.Done(2) {
		t.Errorf("done flags wrong: %v", cp.CompletedChunks())
	}
	if got := cp.CompletedChunks(); len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Errorf("completed chunks: %v", got)
	}
	cp.MarkChunk(1, []subtitle.Segment{seg(2, "mundo")})
	if !cp.Complete() {
		t.Error("all chunks marked, must be complete")
	}
}

func TestCheckpointMatches(t *testing.T) {
	cp := New("j1", "es", "fp", 3)
	if !cp.Matches("fp", 3) {
		t.Error("identical inputs must match")
	}
	if cp.Matches("other", 3) || cp.Matches("fp", 4) {
		t.Error("stale checkpoint must not match")
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Load(ctx, "j1", "es"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty store: %v", err)
	}

	cp := New("j1", "es", "fp", 2)
	cp.MarkChunk(0, []subtitle.Segment{seg(1, "hola")})
	if err := store.Save(ctx, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load(ctx, "j1", "es")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Fingerprint != "fp" || len(got.Chunks) != 1 || got.Chunks[0][0].Text != "hola" {
		t.Errorf("loaded: %+v", got)
	}

	if err := store.Delete(ctx, "j1", "es"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Load(ctx, "j1", "es"); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete: %v", err)
	}
}

func TestManagerResume(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store, true, true, log.Nop())
	ctx := context.Background()

	// 无检查点：全新进度
	cp, resumed := mgr.Resume(ctx, "j1", "es", "fp", 3)
	if resumed || len(cp.Chunks) != 0 {
		t.Fatalf("fresh resume: resumed=%v chunks=%d", resumed, len(cp.Chunks))
	}

	cp.MarkChunk(0, []subtitle.Segment{seg(1, "hola")})
	mgr.Persist(ctx, cp)

	// 指纹一致：续传
	cp2, resumed := mgr.Resume(ctx, "j1", "es", "fp", 3)
	if !resumed || !cp2.Done(0) {
		t.Fatalf("matching resume: resumed=%v", resumed)
	}

	// 分块总数变化：丢弃重建
	cp3, resumed := mgr.Resume(ctx, "j1", "es", "fp", 5)
	if resumed || len(cp3.Chunks) != 0 {
		t.Errorf("stale resume: resumed=%v chunks=%d", resumed, len(cp3.Chunks))
	}
	if _, err := store.Load(ctx, "j1", "es"); !errors.Is(err, ErrNotFound) {
		t.Error("stale checkpoint must be deleted")
	}
}

func TestManagerDisabled(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	enabled := NewManager(store, true, true, log.Nop())
	cp, _ := enabled.Resume(ctx, "j1", "es", "fp", 2)
	cp.MarkChunk(0, []subtitle.Segment{seg(1, "hola")})
	enabled.Persist(ctx, cp)

	disabled := NewManager(store, false, true, log.Nop())
	if _, resumed := disabled.Resume(ctx, "j1", "es", "fp", 2); resumed {
		t.Error("disabled manager must never resume")
	}
	disabled.Persist(ctx, cp) // 不得写入
	disabled.Finish(ctx, "j1", "es")
	if _, err := store.Load(ctx, "j1", "es"); err != nil {
		t.Error("disabled manager must not touch the store")
	}
}

func TestManagerFinishCleanup(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	keep := NewManager(store, true, false, log.Nop())
	cp, _ := keep.Resume(ctx, "j1", "es", "fp", 1)
	cp.MarkChunk(0, []subtitle.Segment{seg(1, "hola")})
	keep.Persist(ctx, cp)
	keep.Finish(ctx, "j1", "es")
	if _, err := store.Load(ctx, "j1", "es"); err != nil {
		t.Error("cleanup=false must keep the record")
	}

	clean := NewManager(store, true, true, log.Nop())
	clean.Finish(ctx, "j1", "es")
	if _, err := store.Load(ctx, "j1", "es"); !errors.Is(err, ErrNotFound) {
		t.Error("cleanup=true must delete the record")
	}
}

func TestSourceFingerprint(t *testing.T) {
	a := SourceFingerprint("/subs/a.srt", "en", "es")
	if a != SourceFingerprint("/subs/a.srt", "en", "es") {
		t.Error("fingerprint must be deterministic")
	}
	if a == SourceFingerprint("/subs/a.srt", "en", "fr") {
		t.Error("language change must alter the fingerprint")
	}
	if a == SourceFingerprint("/subs/b.srt", "en", "es") {
		t.Error("path change must alter the fingerprint")
	}
}
