package transport

import (
	"errors"
	"fmt"
	"time"
)

// Outcome taxonomy for SendText/EditText. Adapters are expected to map their
// platform errors onto these so callers never have to inspect platform
// error strings themselves.

// ErrNotModified means the remote reports the message content is already
// identical to what we tried to write. Callers should treat it as success.
var ErrNotModified = errors.New("message not modified")

// ErrTargetGone means the destination no longer exists (message deleted,
// chat deleted, bot kicked or blocked). There is no point in retrying.
var ErrTargetGone = errors.New("message target gone")

// RetryAfterError is returned when the remote imposes a mandatory wait
// before the next call may be issued.
type RetryAfterError struct {
	After time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.After)
}

// RetryAfter extracts the mandatory wait from err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var ra *RetryAfterError
	if errors.As(err, &ra) {
		return ra.After, true
	}
	return 0, false
}
