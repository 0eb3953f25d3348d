package memory

import (
	"testing"
)

func TestMergeBulletsDeduplicates(t *testing.T) {
	existing := []SummaryBullet{{Text: "user prefers email"}}
	incoming := []SummaryBullet{
		{Text: "  user prefers email  "},
		{Text: "user is in UTC+2"},
	}
	merged := MergeBullets(existing, incoming)
	if len(merged) != 2 {
		t.Fatalf("expected 2 bullets after merge, got %d: %#v", len(merged), merged)
	}
	if merged[1].Text != "user is in UTC+2" {
		t.Fatalf("expected new bullet appended, got %#v", merged)
	}
}

func TestMergeNotesBumpsLastSeen(t *testing.T) {
	existing := []SalienceNote{{Fact: "account is enterprise tier", LastSeenTurn: 3}}
	incoming := []SalienceNote{
		{Fact: "account is enterprise tier"},
		{Fact: "renewal is in March", Topic: "billing"},
	}
	merged := MergeNotes(existing, incoming, 7)
	if len(merged) != 2 {
		t.Fatalf("expected 2 notes, got %d", len(merged))
	}
	if merged[0].LastSeenTurn != 7 {
		t.Fatalf("expected repeated fact bumped to turn 7, got %d", merged[0].LastSeenTurn)
	}
	if merged[1].LastSeenTurn != 7 || merged[1].Topic != "billing" {
		t.Fatalf("expected new note stamped with current turn, got %#v", merged[1])
	}
}

func TestPruneNotesDropsStale(t *testing.T) {
	notes := []SalienceNote{
		{Fact: "stale", LastSeenTurn: 1},
		{Fact: "fresh", LastSeenTurn: 19},
	}
	kept := PruneNotes(notes, 25, 10)
	if len(kept) != 1 || kept[0].Fact != "fresh" {
		t.Fatalf("expected only the fresh note kept, got %#v", kept)
	}
}

func TestPruneNotesZeroMaxAgeKeepsAll(t *testing.T) {
	notes := []SalienceNote{{Fact: "old", LastSeenTurn: 1}}
	if kept := PruneNotes(notes, 100, 0); len(kept) != 1 {
		t.Fatalf("expected pruning disabled with maxAge 0, got %#v", kept)
	}
}

func TestGenerateIDUnique(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	if a == b || a == "" {
		t.Fatalf("expected distinct non-empty ids, got %q and %q", a, b)
	}
}
