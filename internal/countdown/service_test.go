package countdown

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	kit "countbot/internal/transport"
	logx "countbot/pkg/logx"
)

type fakeAdapter struct {
	mu      sync.Mutex
	sendErr error
	editFn  func(n int) error // n is the 1-based edit attempt number

	sends int
	edits int
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                    { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, _ string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return kit.MessageRef{}, f.sendErr
	}
	f.sends++
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: f.sends}, nil
}

func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits++
	if f.editFn != nil {
		return f.editFn(f.edits)
	}
	return nil
}

func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (f *fakeAdapter) editCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.edits
}

type recordingRecorder struct {
	mu      sync.Mutex
	actions []string
}

func (r *recordingRecorder) SessionEvent(_ context.Context, action string, _ Key, _ int64) {
	r.mu.Lock()
	r.actions = append(r.actions, action)
	r.mu.Unlock()
}

func (r *recordingRecorder) has(action string) bool {
	for _, a := range r.list() {
		if a == action {
			return true
		}
	}
	return false
}

func (r *recordingRecorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.actions...)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func testService(t *testing.T, ad kit.Adapter, cfg Config, opts ...Option) (*Service, func()) {
	t.Helper()
	s := New(cfg, ad, logx.Nop(), opts...)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	return s, func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		s.Stop(sctx)
	}
}

func fixedClock(now time.Time) func() time.Time {
	return func() time.Time { return now }
}

func futureEpoch(now time.Time) Epoch {
	return Epoch{Start: now.Add(-time.Hour), End: now.Add(time.Hour)}
}

func TestStartSessionSendFailureCreatesNoSession(t *testing.T) {
	t.Parallel()
	now := time.Now()
	ad := &fakeAdapter{sendErr: errors.New("send refused")}
	s, stop := testService(t, ad, Config{Epoch: futureEpoch(now), Interval: 5 * time.Millisecond}, WithNow(fixedClock(now)))
	defer stop()

	if err := s.StartSession(context.Background(), kit.ChatTarget{ChatID: 1}, 10); err == nil {
		t.Fatalf("StartSession succeeded despite send failure")
	}
	if n := len(s.ActiveSessions()); n != 0 {
		t.Fatalf("sessions after failed start = %d, want 0", n)
	}
}

func TestUnchangedSnapshotSkipsEdits(t *testing.T) {
	t.Parallel()
	now := time.Now()
	ad := &fakeAdapter{}
	s, stop := testService(t, ad, Config{Epoch: futureEpoch(now), Interval: 5 * time.Millisecond}, WithNow(fixedClock(now)))
	defer stop()

	if err := s.StartSession(context.Background(), kit.ChatTarget{ChatID: 1}, 10); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	waitFor(t, func() bool { return ad.editCount() >= 1 }, "first render")

	// The clock is frozen, so every later tick recomputes the same
	// snapshot and must not hit the network.
	time.Sleep(100 * time.Millisecond)
	if n := ad.editCount(); n != 1 {
		t.Fatalf("edits with frozen clock = %d, want 1", n)
	}
	if n := len(s.ActiveSessions()); n != 1 {
		t.Fatalf("sessions = %d, want 1", n)
	}
}

func TestRateLimitedEditIsRetried(t *testing.T) {
	t.Parallel()
	now := time.Now()
	ad := &fakeAdapter{
		editFn: func(n int) error {
			if n == 1 {
				return &kit.RetryAfterError{After: 20 * time.Millisecond}
			}
			return nil
		},
	}
	s, stop := testService(t, ad, Config{Epoch: futureEpoch(now), Interval: time.Hour}, WithNow(fixedClock(now)))
	defer stop()

	if err := s.StartSession(context.Background(), kit.ChatTarget{ChatID: 1}, 10); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	// The first render hits the flood wait and must be retried after it,
	// well before the hour-long tick interval.
	waitFor(t, func() bool { return ad.editCount() >= 2 }, "rate-limited edit retried")
	if n := len(s.ActiveSessions()); n != 1 {
		t.Fatalf("sessions = %d, want 1", n)
	}
}

func TestTransientEditErrorRetriesNextTick(t *testing.T) {
	t.Parallel()
	now := time.Now()
	ad := &fakeAdapter{
		editFn: func(n int) error {
			if n == 1 {
				return errors.New("gateway timeout")
			}
			return nil
		},
	}
	s, stop := testService(t, ad, Config{Epoch: futureEpoch(now), Interval: 5 * time.Millisecond}, WithNow(fixedClock(now)))
	defer stop()

	if err := s.StartSession(context.Background(), kit.ChatTarget{ChatID: 1}, 10); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	// The failed render is not remembered, so the next tick retries it.
	waitFor(t, func() bool { return ad.editCount() >= 2 }, "transient error retried")
	if n := len(s.ActiveSessions()); n != 1 {
		t.Fatalf("sessions = %d, want 1", n)
	}
}

func TestTargetGoneEndsSession(t *testing.T) {
	t.Parallel()
	now := time.Now()
	ad := &fakeAdapter{
		editFn: func(int) error {
			return fmt.Errorf("%w: chat not found", kit.ErrTargetGone)
		},
	}
	rec := &recordingRecorder{}
	s, stop := testService(t, ad,
		Config{Epoch: futureEpoch(now), Interval: 5 * time.Millisecond},
		WithNow(fixedClock(now)), WithRecorder(rec))
	defer stop()

	if err := s.StartSession(context.Background(), kit.ChatTarget{ChatID: 1}, 10); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	waitFor(t, func() bool { return len(s.ActiveSessions()) == 0 }, "session removed after fatal error")
	if !rec.has(ActionGone) {
		t.Fatalf("recorder actions = %v, want %q", rec.list(), ActionGone)
	}
}

func TestFinishedCountdownEndsSession(t *testing.T) {
	t.Parallel()
	now := time.Now()
	ad := &fakeAdapter{}
	rec := &recordingRecorder{}
	epoch := Epoch{Start: now.Add(-2 * time.Hour), End: now.Add(-time.Hour)}
	s, stop := testService(t, ad,
		Config{Epoch: epoch, Interval: 5 * time.Millisecond},
		WithNow(fixedClock(now)), WithRecorder(rec))
	defer stop()

	if err := s.StartSession(context.Background(), kit.ChatTarget{ChatID: 1}, 10); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	waitFor(t, func() bool { return len(s.ActiveSessions()) == 0 }, "terminal session removed")
	if !rec.has(ActionFinish) {
		t.Fatalf("recorder actions = %v, want %q", rec.list(), ActionFinish)
	}
	// The terminal state was rendered exactly once.
	time.Sleep(50 * time.Millisecond)
	if n := ad.editCount(); n != 1 {
		t.Fatalf("edits after finish = %d, want 1", n)
	}
}

func TestStartSessionReplacesExisting(t *testing.T) {
	t.Parallel()
	now := time.Now()
	ad := &fakeAdapter{}
	rec := &recordingRecorder{}
	s, stop := testService(t, ad,
		Config{Epoch: futureEpoch(now), Interval: time.Hour},
		WithNow(fixedClock(now)), WithRecorder(rec))
	defer stop()

	to := kit.ChatTarget{ChatID: 9, ThreadID: 4}
	if err := s.StartSession(context.Background(), to, 10); err != nil {
		t.Fatalf("first StartSession: %v", err)
	}
	if err := s.StartSession(context.Background(), to, 11); err != nil {
		t.Fatalf("second StartSession: %v", err)
	}

	if n := len(s.ActiveSessions()); n != 1 {
		t.Fatalf("sessions after replace = %d, want 1", n)
	}
	if !rec.has(ActionReplace) {
		t.Fatalf("recorder actions = %v, want %q", rec.list(), ActionReplace)
	}
}

func TestStopSession(t *testing.T) {
	t.Parallel()
	now := time.Now()
	ad := &fakeAdapter{}
	rec := &recordingRecorder{}
	s, stop := testService(t, ad,
		Config{Epoch: futureEpoch(now), Interval: time.Hour},
		WithNow(fixedClock(now)), WithRecorder(rec))
	defer stop()

	to := kit.ChatTarget{ChatID: 3}
	if err := s.StartSession(context.Background(), to, 10); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if !s.StopSession(context.Background(), KeyFor(to), 10) {
		t.Fatalf("StopSession returned false for live session")
	}
	if s.StopSession(context.Background(), KeyFor(to), 10) {
		t.Fatalf("StopSession returned true for stopped session")
	}
	if !rec.has(ActionStop) {
		t.Fatalf("recorder actions = %v, want %q", rec.list(), ActionStop)
	}
}

func TestRenderStatus(t *testing.T) {
	t.Parallel()
	now := mustTime(t, "2026-03-01 00:00:00")
	ad := &fakeAdapter{}
	epoch := Epoch{Start: now.Add(-50 * time.Second), End: now.Add(50 * time.Second)}
	s := New(Config{Epoch: epoch}, ad, logx.Nop(), WithNow(fixedClock(now)))

	got := s.RenderStatus()
	if !containsAll(got, "⏳", "50%", "0 дней 00:00:50") {
		t.Fatalf("RenderStatus = %q", got)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
