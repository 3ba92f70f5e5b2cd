package subtitle

import (
	"reflect"
	"strings"
	"testing"
)

const sample = `1
00:00:01,000 --> 00:00:03,500
Hello there.

2
00:00:04,000 --> 00:00:06,000
<i>General Kenobi!</i>

3
00:00:07,250 --> 00:00:09,800
Two lines
of text.
`

func TestParseBasic(t *testing.T) {
	segs, skipped := Parse(sample)
	if skipped != 0 {
		t.Errorf("skipped = %d", skipped)
	}
	if len(segs) != 3 {
		t.Fatalf("got %d segments", len(segs))
	}
	if segs[0].StartTime != "00:00:01,000" || segs[0].EndTime != "00:00:03,500" {
		t.Errorf("timestamps: %+v", segs[0])
	}
	if segs[1].Text != "<i>General Kenobi!</i>" {
		t.Errorf("markup must survive verbatim: %q", segs[1].Text)
	}
	if segs[2].Text != "Two lines\nof text." {
		t.Errorf("multi-line text: %q", segs[2].Text)
	}
}

func TestParseBOMAndCRLF(t *testing.T) {
	content := "\uFEFF1\r\n00:00:01,000 --> 00:00:02,000\r\nHi.\r\n\r\n"
	segs, skipped := Parse(content)
	if len(segs) != 1 || skipped != 0 {
		t.Fatalf("segs=%d skipped=%d", len(segs), skipped)
	}
	if segs[0].Text != "Hi." {
		t.Errorf("text: %q", segs[0].Text)
	}
}

func TestParseMalformedTimestampSkipsBlock(t *testing.T) {
	content := `1
00:00:01,000 --> 00:00:02,000
Fine.

2
broken timestamp line
Lost.

3
00:00:05,000 --> 00:00:06,000
Recovered.
`
	segs, skipped := Parse(content)
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
	if segs[1].Text != "Recovered." {
		t.Errorf("parser should recover at next block: %q", segs[1].Text)
	}
}

func TestParseEmpty(t *testing.T) {
	segs, skipped := Parse("")
	if len(segs) != 0 || skipped != 0 {
		t.Errorf("empty input: segs=%d skipped=%d", len(segs), skipped)
	}
}

func TestFormatCanonical(t *testing.T) {
	segs, _ := Parse(sample)
	out := Format(segs)
	if !strings.HasSuffix(out, "of text.\n") {
		t.Errorf("output must end with single newline: %q", out[len(out)-20:])
	}
	if strings.Contains(out, "\n\n\n") {
		t.Error("entries must be separated by exactly one blank line")
	}
}

func TestRoundTripStable(t *testing.T) {
	// parse(format(parse(F))) == parse(F)
	first, _ := Parse(sample)
	second, skipped := Parse(Format(first))
	if skipped != 0 {
		t.Errorf("round-trip skipped %d blocks", skipped)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("round trip not stable:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestRoundTripNormalisesWhitespace(t *testing.T) {
	messy := "1\n00:00:01,000 -->  00:00:02,000\nHi.\n\n\n\n2\n00:00:03,000 --> 00:00:04,000\nBye.\n\n"
	segs, _ := Parse(messy)
	if len(segs) != 2 {
		t.Fatalf("got %d segments", len(segs))
	}
	canonical := Format(segs)
	want := "1\n00:00:01,000 --> 00:00:02,000\nHi.\n\n2\n00:00:03,000 --> 00:00:04,000\nBye.\n"
	if canonical != want {
		t.Errorf("canonical form:\ngot:  %q\nwant: %q", canonical, want)
	}
}

func TestFormatEmpty(t *testing.T) {
	if Format(nil) != "" {
		t.Error("no segments formats to empty string")
	}
}
