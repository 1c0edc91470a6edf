package voice

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTranscript_JoinsWithSpace(t *testing.T) {
	t.Parallel()

	tr := NewTranscript(100)
	tr.Append("Halo,")
	tr.Append("apa kabar?")
	if got, want := tr.String(), "Halo, apa kabar?"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestTranscript_IgnoresBlankFragments(t *testing.T) {
	t.Parallel()

	tr := NewTranscript(100)
	tr.Append("  ")
	tr.Append("")
	if tr.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tr.Len())
	}
}

func TestTranscript_NeverExceedsLimit(t *testing.T) {
	t.Parallel()

	tr := NewTranscript(100)
	for i := range 150 {
		tr.Append(fmt.Sprintf("kata%d", i))
		if n := utf8.RuneCountInString(tr.String()); n > tr.Limit() {
			t.Fatalf("after %d fragments length = %d, exceeds limit %d", i+1, n, tr.Limit())
		}
	}
	got := tr.String()
	if !strings.HasPrefix(got, "...") {
		t.Errorf("overflowed transcript %q does not start with ...", got)
	}
	if !strings.HasSuffix(got, "kata149") {
		t.Errorf("transcript %q lost the newest fragment", got)
	}
}

func TestTranscript_CountsRunesNotBytes(t *testing.T) {
	t.Parallel()

	tr := NewTranscript(10)
	tr.Append("ééééé")
	tr.Append("ü")
	if got := tr.String(); got != "ééééé ü" {
		t.Errorf("String() = %q, want %q", got, "ééééé ü")
	}
	tr.Append("ööö")
	if n := utf8.RuneCountInString(tr.String()); n != 10 {
		t.Errorf("length = %d runes, want 10", n)
	}
}

func TestTranscript_Reset(t *testing.T) {
	t.Parallel()

	tr := NewTranscript(0)
	if tr.Limit() != DefaultTranscriptLimit {
		t.Errorf("Limit() = %d, want %d", tr.Limit(), DefaultTranscriptLimit)
	}
	tr.Append("sesuatu")
	tr.Reset()
	if tr.String() != "" {
		t.Errorf("String() after Reset = %q, want empty", tr.String())
	}
	tr.Append("baru")
	if tr.String() != "baru" {
		t.Errorf("String() = %q, want %q", tr.String(), "baru")
	}
}

func TestTranscript_TinyLimit(t *testing.T) {
	t.Parallel()

	tr := NewTranscript(2)
	tr.Append("abcdef")
	if got := tr.String(); got != "ef" {
		t.Errorf("String() = %q, want %q", got, "ef")
	}
}
