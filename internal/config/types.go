package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Countdown CountdownConfig `json:"countdown"`

	// Digest controls optional scheduled countdown announcements.
	Digest *DigestConfig `json:"digest,omitempty"`

	// Storage controls the optional audit log.
	Storage *StorageConfig `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id (as string) that receives forwarded log records.
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// CountdownConfig defines the epoch the bot counts against and how the
// live message is rendered.
//
// Start/End are local date-times in Timezone, format "2006-01-02 15:04".
// All durations are Go duration strings.
type CountdownConfig struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`

	// UpdateInterval is the tick cadence of a live countdown message.
	UpdateInterval string `json:"update_interval,omitempty"`

	// BarWidth is the number of glyphs in the progress bar (default 16).
	BarWidth int `json:"bar_width,omitempty"`

	// DayWords is the [one, few, many] word set used for day-count
	// agreement, e.g. ["день", "дня", "дней"].
	DayWords []string `json:"day_words,omitempty"`

	// EditRatePerSec caps message edits across all sessions (default 25).
	EditRatePerSec int `json:"edit_rate_per_sec,omitempty"`
}

// DigestConfig controls scheduled countdown announcements.
//
// Schedule is a standard 5-field cron spec evaluated in the countdown
// timezone, e.g. "0 9 * * *" for a daily 09:00 post.
type DigestConfig struct {
	Enabled  bool         `json:"enabled"`
	Schedule string       `json:"schedule"`
	Chats    []DigestChat `json:"chats,omitempty"`
}

type DigestChat struct {
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
}

// StorageConfig controls the optional audit log.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}
