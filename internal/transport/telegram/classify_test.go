package telegram

import (
	"errors"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "countbot/internal/transport"
)

func TestClassifyErrorNil(t *testing.T) {
	t.Parallel()
	if got := classifyError(nil); got != nil {
		t.Fatalf("classifyError(nil) = %v, want nil", got)
	}
}

func TestClassifyErrorFlood(t *testing.T) {
	t.Parallel()
	err := tele.FloodError{
		RetryAfter: 17,
	}
	got := classifyError(err)
	after, ok := kit.RetryAfter(got)
	if !ok {
		t.Fatalf("classifyError(%v) = %v, want RetryAfterError", err, got)
	}
	if after != 17*time.Second {
		t.Fatalf("retry after = %v, want 17s", after)
	}
}

func TestClassifyErrorNotModified(t *testing.T) {
	t.Parallel()
	for _, err := range []error{
		tele.ErrSameMessageContent,
		errors.New("telegram: Bad Request: message is not modified (400)"),
	} {
		if got := classifyError(err); !errors.Is(got, kit.ErrNotModified) {
			t.Fatalf("classifyError(%v) = %v, want ErrNotModified", err, got)
		}
	}
}

func TestClassifyErrorTargetGone(t *testing.T) {
	t.Parallel()
	for _, err := range []error{
		tele.ErrChatNotFound,
		tele.ErrBlockedByUser,
		errors.New("telegram: Bad Request: message to edit not found (400)"),
		errors.New("telegram: Forbidden: bot was kicked from the supergroup chat (403)"),
	} {
		got := classifyError(err)
		if !errors.Is(got, kit.ErrTargetGone) {
			t.Fatalf("classifyError(%v) = %v, want ErrTargetGone", err, got)
		}
	}
}

func TestClassifyErrorTransientPassthrough(t *testing.T) {
	t.Parallel()
	err := errors.New("telegram: Bad Gateway (502)")
	if got := classifyError(err); got != err {
		t.Fatalf("classifyError(%v) = %v, want passthrough", err, got)
	}
}

func TestSplitTextShort(t *testing.T) {
	t.Parallel()
	got := splitText("привет", 100)
	if len(got) != 1 || got[0] != "привет" {
		t.Fatalf("splitText = %q, want single chunk", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	in := "aaaa\nbbbb\ncccc"
	got := splitText(in, 10)
	if len(got) < 2 {
		t.Fatalf("splitText(%q, 10) = %q, want multiple chunks", in, got)
	}
	for _, c := range got {
		if len([]rune(c)) > 10 {
			t.Fatalf("chunk %q exceeds limit", c)
		}
	}
}
