package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures persistence.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Event records one countdown session lifecycle transition.
// Keep it compact and schema-stable.
type Event struct {
	At       time.Time
	ChatID   int64
	ThreadID int
	Action   string // start | replace | stop | finish | gone
	ActorID  int64  // 0 for bot-initiated transitions
}
