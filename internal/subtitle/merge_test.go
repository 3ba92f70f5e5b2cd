package subtitle

import (
	"errors"
	"testing"
)

func TestMergeTranslationsExact(t *testing.T) {
	origs := makeSegments("one", "two", "three")
	out, err := MergeTranslations(origs, []string{"uno", "dos", "tres"}, []int{1, 2, 3})
	if err != nil {
		t.Fatalf("MergeTranslations: %v", err)
	}
	if out[0].Text != "uno" || out[2].Text != "tres" {
		t.Errorf("texts: %+v", out)
	}
	if out[1].Index != 2 || out[1].StartTime != "00:00:01,000" {
		t.Errorf("timing/index must be preserved: %+v", out[1])
	}
}

func TestMergeTranslationsOneMissingBackfills(t *testing.T) {
	origs := makeSegments("one", "two", "three", "four", "five")
	// 模型漏掉第 4 条
	out, err := MergeTranslations(origs,
		[]string{"uno", "dos", "tres", "cinco"},
		[]int{1, 2, 3, 5})
	if err != nil {
		t.Fatalf("MergeTranslations: %v", err)
	}
	if out[3].Text != "four" {
		t.Errorf("gap must keep original text: %q", out[3].Text)
	}
	if out[4].Text != "cinco" {
		t.Errorf("segment after gap: %q", out[4].Text)
	}
}

func TestMergeTranslationsLargerMismatchErrors(t *testing.T) {
	origs := makeSegments("one", "two", "three", "four", "five")
	_, err := MergeTranslations(origs, []string{"uno", "dos"}, []int{1, 2})
	if err == nil {
		t.Fatal("expected count mismatch error")
	}
	if !errors.Is(err, ErrCountMismatch) {
		t.Errorf("error should be ErrCountMismatch: %v", err)
	}
}

func TestMergeTranslationsMissingWithoutNumbersErrors(t *testing.T) {
	origs := makeSegments("one", "two", "three")
	if _, err := MergeTranslations(origs, []string{"uno", "dos"}, nil); err == nil {
		t.Error("one missing without parsed numbers cannot locate the gap")
	}
}

func TestMergeTranslatedChunksDenseRenumber(t *testing.T) {
	// 乱序到达的两个 chunk
	a := makeSegments("c", "d")
	a[0].Index, a[1].Index = 3, 4
	b := makeSegments("a", "b")
	b[0].Index, b[1].Index = 1, 2

	merged := MergeTranslatedChunks(append(a, b...))
	if len(merged) != 4 {
		t.Fatalf("len = %d", len(merged))
	}
	for i, seg := range merged {
		if seg.Index != i+1 {
			t.Errorf("index %d at position %d, want dense 1..N", seg.Index, i)
		}
	}
	if merged[0].Text != "a" || merged[3].Text != "d" {
		t.Errorf("order by original index: %+v", merged)
	}
}
