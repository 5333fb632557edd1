package core

import (
	"testing"
	"time"
)

func TestContentHash(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		wantSame bool
	}{
		{name: "same content", a: "test content", b: "test content", wantSame: true},
		{name: "empty string", a: "", b: "", wantSame: true},
		{name: "different content", a: "alpha", b: "beta", wantSame: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h1 := ContentHash(tt.a)
			h2 := ContentHash(tt.b)
			if (h1 == h2) != tt.wantSame {
				t.Errorf("ContentHash(%q)=%s ContentHash(%q)=%s, wantSame=%v", tt.a, h1, tt.b, h2, tt.wantSame)
			}
			if len(h1) != 32 {
				t.Errorf("expected 32 hex chars, got %d", len(h1))
			}
		})
	}
}

func TestNewULIDOrdering(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	prev := NewULID(ts)
	for i := 0; i < 1000; i++ {
		next := NewULID(ts)
		if next <= prev {
			t.Fatalf("ids not increasing within a millisecond: %s then %s", prev, next)
		}
		prev = next
	}
	later := NewULID(ts.Add(time.Second))
	if later <= prev {
		t.Errorf("later timestamp produced smaller id: %s <= %s", later, prev)
	}
}

func TestDeletionQueueEntryProgress(t *testing.T) {
	tests := []struct {
		name  string
		entry DeletionQueueEntry
		want  int
	}{
		{name: "not started", entry: DeletionQueueEntry{TotalItems: 250}, want: 0},
		{name: "partial", entry: DeletionQueueEntry{TotalItems: 250, ProcessedItems: 100}, want: 40},
		{name: "done", entry: DeletionQueueEntry{TotalItems: 250, ProcessedItems: 250}, want: 100},
		{name: "empty scope completed", entry: DeletionQueueEntry{Status: QueueCompleted}, want: 100},
		{name: "empty scope pending", entry: DeletionQueueEntry{Status: QueuePending}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.Progress(); got != tt.want {
				t.Errorf("Progress() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestQueueStatusIsTerminal(t *testing.T) {
	terminal := map[QueueStatus]bool{
		QueuePending:    false,
		QueueProcessing: false,
		QueueCompleted:  true,
		QueueFailed:     true,
		QueueCancelled:  true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestFakeClock(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)
	c.Advance(90 * time.Minute)
	if got := c.Now(); !got.Equal(start.Add(90 * time.Minute)) {
		t.Errorf("Advance: got %v", got)
	}
	c.Set(start)
	if got := c.Now(); !got.Equal(start) {
		t.Errorf("Set: got %v", got)
	}
}
