package indexer

import (
	"testing"
	"time"
)

func TestIsUrgent(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"please respond ASAP", true},
		{"this is URGENT", true},
		{"act immediately", true},
		{"critical outage", true},
		{"regular newsletter", false},
	}
	for _, tt := range tests {
		if got := IsUrgent(tt.text); got != tt.want {
			t.Errorf("IsUrgent(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestHasDeadline(t *testing.T) {
	if !HasDeadline("the Deadline is near") {
		t.Error("deadline word not detected")
	}
	if !HasDeadline("payment due soon") {
		t.Error("due word not detected")
	}
	if HasDeadline("nothing to see here") {
		t.Error("false positive")
	}
}

func TestExtractDeadline(t *testing.T) {
	now := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		text  string
		want  time.Time
		found bool
	}{
		{"deadline slash date", "deadline: 10/15/2025", time.Date(2025, 10, 15, 0, 0, 0, 0, time.UTC), true},
		{"due slash date", "payment due 3/5/2026 sharp", time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), true},
		{"deadline iso date", "deadline: 2099-01-01", time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"by slash date", "submit by 12/31/2025", time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), true},
		{"urgency yields now", "this is urgent, respond", now, true},
		{"no deadline", "see you next week", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := ExtractDeadline(tt.text, now)
			if found != tt.found {
				t.Fatalf("found = %v, want %v", found, tt.found)
			}
			if found && !got.Equal(tt.want) {
				t.Errorf("deadline = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractDeadline_DatePrecedesUrgencyFallback(t *testing.T) {
	now := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	got, found := ExtractDeadline("urgent! deadline: 2025-11-20", now)
	if !found {
		t.Fatal("expected deadline")
	}
	want := time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("deadline = %v, want explicit date %v", got, want)
	}
}
