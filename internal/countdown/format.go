package countdown

import (
	"fmt"
	"strings"
)

const DefaultBarWidth = 16

// DefaultDayWords is the Russian [one, few, many] word set for day counts.
var DefaultDayWords = [3]string{"день", "дня", "дней"}

// Formatter maps snapshots to the display strings shown on the two inline
// buttons. Pure and deterministic; performs no I/O.
type Formatter struct {
	BarWidth int
	DayWords [3]string
}

func NewFormatter(barWidth int, dayWords [3]string) Formatter {
	if barWidth <= 0 {
		barWidth = DefaultBarWidth
	}
	for i, w := range dayWords {
		if strings.TrimSpace(w) == "" {
			dayWords[i] = DefaultDayWords[i]
		}
	}
	return Formatter{BarWidth: barWidth, DayWords: dayWords}
}

// TimeLabel renders the remaining time, e.g. "23 дня 14:07:09".
func (f Formatter) TimeLabel(s Snapshot) string {
	return fmt.Sprintf("%d %s %02d:%02d:%02d", s.Days, f.dayWord(s.Days), s.Hours, s.Minutes, s.Seconds)
}

// BarLabel renders the progress bar, e.g. "[████────────────]25%".
func (f Formatter) BarLabel(s Snapshot) string {
	width := f.BarWidth
	if width <= 0 {
		width = DefaultBarWidth
	}
	filled := width * s.Percent / 100
	if filled > width {
		filled = width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("─", width-filled)
	return fmt.Sprintf("[%s]%d%%", bar, s.Percent)
}

// Header renders the static message body above the buttons,
// e.g. "⏳ 14.03 — 01.07.2025".
func (f Formatter) Header(e Epoch) string {
	return fmt.Sprintf("⏳ %s — %s", e.Start.Format("02.01"), e.End.Format("02.01.2006"))
}

// dayWord picks the grammatical form of the day word: by the last two
// digits 11–14 always take the "many" form, otherwise the last digit
// decides (1 → one, 2–4 → few, else many).
func (f Formatter) dayWord(d int) string {
	if d < 0 {
		d = -d
	}
	if dd := d % 100; dd >= 11 && dd <= 14 {
		return f.DayWords[2]
	}
	switch d % 10 {
	case 1:
		return f.DayWords[0]
	case 2, 3, 4:
		return f.DayWords[1]
	default:
		return f.DayWords[2]
	}
}
