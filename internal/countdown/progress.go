package countdown

import "time"

// Epoch is the fixed window the countdown measures against.
// Instants carry their own location; comparisons are absolute.
type Epoch struct {
	Start time.Time
	End   time.Time
}

func (e Epoch) Duration() time.Duration { return e.End.Sub(e.Start) }

// Snapshot is the rendered numeric state of one tick. Snapshots are
// compared by value to detect no-op ticks.
type Snapshot struct {
	Days    int
	Hours   int
	Minutes int
	Seconds int
	Percent int
}

// Terminal reports whether the countdown has run out. Once reached,
// Progress keeps returning the same snapshot for any later instant.
func (s Snapshot) Terminal() bool {
	return s.Percent >= 100 && s.Days == 0 && s.Hours == 0 && s.Minutes == 0 && s.Seconds == 0
}

// Progress computes the remaining-time breakdown and completion percent
// at the given instant. Pure: no state, no I/O.
//
// Before the epoch starts the full duration remains at 0%. At or past the
// end everything is zero at 100%. Percent is clamped to [0,100] even under
// clock skew or a misconfigured epoch (end before start).
func (e Epoch) Progress(now time.Time) Snapshot {
	if !now.Before(e.End) {
		return Snapshot{Percent: 100}
	}

	total := e.Duration()
	if now.Before(e.Start) {
		return breakdown(total, 0)
	}

	remaining := e.End.Sub(now)
	percent := 100
	if total > 0 {
		elapsed := now.Sub(e.Start)
		if totalSecs := int64(total / time.Second); totalSecs > 0 {
			// Integer math in whole seconds; avoids Duration overflow on
			// multi-year epochs.
			percent = int(int64(elapsed/time.Second) * 100 / totalSecs)
		} else {
			// Sub-second window; nanosecond math cannot overflow here.
			percent = int(int64(elapsed) * 100 / int64(total))
		}
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return breakdown(remaining, percent)
}

// breakdown splits a remaining duration into days/hours/minutes/seconds
// by truncating division.
func breakdown(remaining time.Duration, percent int) Snapshot {
	if remaining < 0 {
		remaining = 0
	}
	secs := int(remaining / time.Second)
	return Snapshot{
		Days:    secs / 86400,
		Hours:   secs % 86400 / 3600,
		Minutes: secs % 3600 / 60,
		Seconds: secs % 60,
		Percent: percent,
	}
}
