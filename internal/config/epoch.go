package config

import (
	"fmt"
	"strings"
	"time"
)

// epochLayouts are the accepted date-time formats for countdown.start/end,
// tried in order.
var epochLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	time.RFC3339,
}

// ParseEpoch resolves the configured countdown window into concrete
// instants in the configured timezone.
func (c CountdownConfig) ParseEpoch() (start, end time.Time, err error) {
	loc := time.Local
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("countdown.timezone: invalid %q: %w", tz, err)
		}
	}

	start, err = parseInstant("countdown.start", c.Start, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err = parseInstant("countdown.end", c.End, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("countdown.end: %s is before countdown.start %s", c.End, c.Start)
	}
	return start, end, nil
}

// ParseDurationField parses an optional Go duration string from the
// config. Empty means unset and yields zero; negative values are
// rejected with the config path in the error.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for
// unset fields.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

func parseInstant(path, raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("%s: required", path)
	}
	for _, layout := range epochLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%s: invalid date-time %q (want \"2006-01-02 15:04\")", path, raw)
}
