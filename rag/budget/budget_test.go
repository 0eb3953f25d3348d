package budget

import (
	"strings"
	"testing"
)

func TestFitKeepsTextUnderCap(t *testing.T) {
	b := New("gpt-4o-mini")
	text := "line one\nline two"
	if got := b.Fit(text, 1000); got != text {
		t.Fatalf("expected text unchanged, got %q", got)
	}
}

func TestFitZeroCapPassesThrough(t *testing.T) {
	b := New("gpt-4o-mini")
	text := strings.Repeat("long line of text\n", 200)
	if got := b.Fit(text, 0); got != text {
		t.Fatalf("expected pass-through with cap 0")
	}
}

func TestFitDropsOldestLinesFirst(t *testing.T) {
	b := New("gpt-4o-mini")
	lines := []string{
		"oldest line with quite a few words in it",
		"middle line with quite a few words in it",
		"newest line with quite a few words in it",
	}
	text := strings.Join(lines, "\n")

	cap := b.CountTokens(lines[2]) + 1
	got := b.Fit(text, cap)

	if !strings.Contains(got, "newest line") {
		t.Fatalf("expected newest line kept, got %q", got)
	}
	if strings.Contains(got, "oldest line") {
		t.Fatalf("expected oldest line dropped, got %q", got)
	}
	if b.CountTokens(got) > cap {
		t.Fatalf("result exceeds cap: %d > %d", b.CountTokens(got), cap)
	}
}

func TestFitIsIdempotent(t *testing.T) {
	b := New("gpt-4o-mini")
	text := strings.Join([]string{
		"first historical entry about shipping",
		"second historical entry about returns",
		"third historical entry about pricing",
		"fourth historical entry about support",
	}, "\n")

	cap := b.CountTokens(text) / 2
	once := b.Fit(text, cap)
	twice := b.Fit(once, cap)
	if once != twice {
		t.Fatalf("trimming is not idempotent:\nonce:  %q\ntwice: %q", once, twice)
	}
}

func TestFitKeepsSingleOversizedLine(t *testing.T) {
	b := New("gpt-4o-mini")
	line := strings.Repeat("word ", 300)
	got := b.Fit(line, 5)
	if got == "" {
		t.Fatalf("expected the single line kept even when over cap")
	}
}

func TestFitSections(t *testing.T) {
	b := New("gpt-4o-mini")
	sections := []Section{
		{Name: "history", Text: "user: hi\nassistant: hello\nuser: shipping?", Cap: 1000},
		{Name: "summary", Text: "", Cap: 100},
	}
	fitted := b.FitSections(sections)
	if len(fitted) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(fitted))
	}
	if fitted[0].Text != sections[0].Text {
		t.Fatalf("expected under-cap section unchanged")
	}
	if fitted[1].Text != "" {
		t.Fatalf("expected empty section to stay empty")
	}
}

func TestCountTokensNonZero(t *testing.T) {
	b := New("some-unknown-model-name")
	if b.CountTokens("hello world, this is a sentence") == 0 {
		t.Fatalf("expected a positive token count even for unknown models")
	}
}
