package storage

import (
	"context"
	"errors"
	"strings"

	logx "countbot/pkg/logx"
)

// Store is the minimal persistence API used by the bot.
type Store interface {
	RecordEvent(ctx context.Context, e Event) error
	RecentEvents(ctx context.Context, limit int) ([]Event, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
