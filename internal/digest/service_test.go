package digest

import (
	"context"
	"sync"
	"testing"

	kit "countbot/internal/transport"
	logx "countbot/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	sends []kit.ChatTarget
	texts []string
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                    { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, to)
	f.texts = append(f.texts, text)
	return kit.MessageRef{}, nil
}

func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}
func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

type staticRenderer struct{ text string }

func (r staticRenderer) RenderStatus() string { return r.text }

func TestPostDeliversToAllTargets(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s := New(Config{
		Enabled:  true,
		Schedule: "0 9 * * *",
		Targets: []Target{
			{ChatID: -1},
			{ChatID: -2, ThreadID: 5},
		},
	}, ad, staticRenderer{text: "⏳ 50%"}, logx.Nop())

	s.post()

	ad.mu.Lock()
	defer ad.mu.Unlock()
	if len(ad.sends) != 2 {
		t.Fatalf("sends = %d, want 2", len(ad.sends))
	}
	if ad.sends[1].ChatID != -2 || ad.sends[1].ThreadID != 5 {
		t.Fatalf("second target = %+v", ad.sends[1])
	}
	if ad.texts[0] != "⏳ 50%" {
		t.Fatalf("text = %q", ad.texts[0])
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false, Schedule: "bad spec"}, &fakeAdapter{}, staticRenderer{}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start disabled: %v", err)
	}
	s.Stop()
}

func TestStartRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	s := New(Config{
		Enabled:  true,
		Schedule: "every tuesday",
		Targets:  []Target{{ChatID: 1}},
	}, &fakeAdapter{}, staticRenderer{}, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("bad schedule accepted")
	}
}

func TestApplySwapsSchedule(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, &fakeAdapter{}, staticRenderer{}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := s.Apply(Config{
		Enabled:  true,
		Schedule: "*/5 * * * *",
		Targets:  []Target{{ChatID: 1}},
	}); err != nil {
		t.Fatalf("Apply enable: %v", err)
	}
	if err := s.Apply(Config{Enabled: false}); err != nil {
		t.Fatalf("Apply disable: %v", err)
	}
}
