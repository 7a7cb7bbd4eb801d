package countdown

import (
	"testing"
	"time"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}

func TestProgressBeforeStart(t *testing.T) {
	t.Parallel()
	e := Epoch{
		Start: mustTime(t, "2026-01-01 00:00:00"),
		End:   mustTime(t, "2026-01-11 00:00:00"),
	}
	got := e.Progress(mustTime(t, "2025-12-25 12:00:00"))
	want := Snapshot{Days: 10, Hours: 0, Minutes: 0, Seconds: 0, Percent: 0}
	if got != want {
		t.Fatalf("Progress before start = %+v, want %+v", got, want)
	}
}

func TestProgressScenario(t *testing.T) {
	t.Parallel()
	start := mustTime(t, "2026-03-01 00:00:00")
	e := Epoch{Start: start, End: start.Add(100 * time.Second)}

	cases := []struct {
		offset time.Duration
		want   Snapshot
	}{
		{0, Snapshot{Seconds: 40, Minutes: 1, Percent: 0}},
		{50 * time.Second, Snapshot{Seconds: 50, Percent: 50}},
		{100 * time.Second, Snapshot{Percent: 100}},
		{150 * time.Second, Snapshot{Percent: 100}},
	}
	for _, tc := range cases {
		got := e.Progress(start.Add(tc.offset))
		if got != tc.want {
			t.Fatalf("Progress at +%v = %+v, want %+v", tc.offset, got, tc.want)
		}
	}
}

func TestProgressTerminalIdempotent(t *testing.T) {
	t.Parallel()
	e := Epoch{
		Start: mustTime(t, "2026-01-01 00:00:00"),
		End:   mustTime(t, "2026-06-01 00:00:00"),
	}
	atEnd := e.Progress(e.End)
	if !atEnd.Terminal() {
		t.Fatalf("snapshot at end is not terminal: %+v", atEnd)
	}
	for _, after := range []time.Duration{time.Second, time.Hour, 365 * 24 * time.Hour} {
		got := e.Progress(e.End.Add(after))
		if got != atEnd {
			t.Fatalf("Progress %v past end = %+v, want %+v", after, got, atEnd)
		}
	}
}

func TestProgressPercentMonotonic(t *testing.T) {
	t.Parallel()
	start := mustTime(t, "2026-01-01 00:00:00")
	e := Epoch{Start: start, End: start.Add(24 * time.Hour)}

	prev := -1
	for now := start; !now.After(e.End); now = now.Add(13 * time.Minute) {
		s := e.Progress(now)
		if s.Percent < prev {
			t.Fatalf("percent decreased at %v: %d < %d", now, s.Percent, prev)
		}
		if s.Percent < 0 || s.Percent > 100 {
			t.Fatalf("percent out of range at %v: %d", now, s.Percent)
		}
		prev = s.Percent
	}
}

func TestProgressSubSecondEpoch(t *testing.T) {
	t.Parallel()
	start := mustTime(t, "2026-03-01 00:00:00")
	e := Epoch{Start: start, End: start.Add(500 * time.Millisecond)}

	if got := e.Progress(start.Add(100 * time.Millisecond)); got != (Snapshot{Percent: 20}) {
		t.Fatalf("Progress mid-window = %+v, want 20%%", got)
	}
	if got := e.Progress(start); got != (Snapshot{Percent: 0}) {
		t.Fatalf("Progress at start = %+v, want 0%%", got)
	}
	if got := e.Progress(e.End); !got.Terminal() {
		t.Fatalf("Progress at end = %+v, want terminal", got)
	}
}

func TestProgressMultiYearEpoch(t *testing.T) {
	t.Parallel()
	e := Epoch{
		Start: mustTime(t, "2020-01-01 00:00:00"),
		End:   mustTime(t, "2030-01-01 00:00:00"),
	}
	got := e.Progress(mustTime(t, "2025-01-01 00:00:00"))
	if got.Percent < 49 || got.Percent > 51 {
		t.Fatalf("mid-epoch percent = %d, want ~50", got.Percent)
	}
}

func TestTerminalRequiresZeroRemaining(t *testing.T) {
	t.Parallel()
	s := Snapshot{Seconds: 1, Percent: 100}
	if s.Terminal() {
		t.Fatalf("snapshot with remaining time reported terminal: %+v", s)
	}
}
