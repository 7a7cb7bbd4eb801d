package telegram

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "countbot/internal/transport"
)

// fatalSubstrings marks API answers after which the target message can
// never be edited again. Matched on the lowercased description because
// telebot only exposes a sentinel for some of them.
var fatalSubstrings = []string{
	"chat not found",
	"message to edit not found",
	"message can't be edited",
	"bot was kicked",
	"bot was blocked",
	"user is deactivated",
	"not enough rights",
	"have no rights to send a message",
	"chat_write_forbidden",
}

// classifyError maps a telebot API error onto the transport taxonomy:
// flood waits become RetryAfterError, "not modified" becomes
// ErrNotModified, unrecoverable target failures wrap ErrTargetGone, and
// everything else passes through as transient.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var floodPtr *tele.FloodError
	if errors.As(err, &floodPtr) {
		return &kit.RetryAfterError{After: time.Duration(floodPtr.RetryAfter) * time.Second}
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &kit.RetryAfterError{After: time.Duration(flood.RetryAfter) * time.Second}
	}

	if errors.Is(err, tele.ErrSameMessageContent) {
		return kit.ErrNotModified
	}
	if errors.Is(err, tele.ErrChatNotFound) || errors.Is(err, tele.ErrBlockedByUser) {
		return fmt.Errorf("%w: %v", kit.ErrTargetGone, err)
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "message is not modified") {
		return kit.ErrNotModified
	}
	for _, s := range fatalSubstrings {
		if strings.Contains(msg, s) {
			return fmt.Errorf("%w: %v", kit.ErrTargetGone, err)
		}
	}
	return err
}
