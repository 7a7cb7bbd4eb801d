package countdown

import (
	"context"
	"testing"

	kit "countbot/internal/transport"
)

func TestRegistryInsertReplacesAndCancels(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	key := Key{ChatID: 42}

	ctx1, cancel1 := context.WithCancel(context.Background())
	gen1, replaced := r.Insert(key, kit.MessageRef{ChatID: 42, MessageID: 1}, cancel1)
	if replaced {
		t.Fatalf("first Insert reported replaced")
	}

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	gen2, replaced := r.Insert(key, kit.MessageRef{ChatID: 42, MessageID: 2}, cancel2)
	if !replaced {
		t.Fatalf("second Insert did not report replaced")
	}
	if gen2 <= gen1 {
		t.Fatalf("generations not increasing: %d then %d", gen1, gen2)
	}

	select {
	case <-ctx1.Done():
	default:
		t.Fatalf("old session context not cancelled on replace")
	}
	if ctx2.Err() != nil {
		t.Fatalf("new session context cancelled unexpectedly")
	}

	if r.IsCurrent(key, gen1) {
		t.Fatalf("superseded generation still current")
	}
	if !r.IsCurrent(key, gen2) {
		t.Fatalf("new generation not current")
	}
}

func TestRegistryRemoveGenerationChecked(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	key := Key{ChatID: 7, ThreadID: 3}

	_, cancel1 := context.WithCancel(context.Background())
	gen1, _ := r.Insert(key, kit.MessageRef{}, cancel1)
	_, cancel2 := context.WithCancel(context.Background())
	gen2, _ := r.Insert(key, kit.MessageRef{}, cancel2)

	// A stale loop must not remove its replacement.
	if r.Remove(key, gen1) {
		t.Fatalf("Remove with stale generation succeeded")
	}
	if !r.IsCurrent(key, gen2) {
		t.Fatalf("current session removed by stale generation")
	}
	if !r.Remove(key, gen2) {
		t.Fatalf("Remove with current generation failed")
	}
	if r.Len() != 0 {
		t.Fatalf("registry not empty after Remove: %d", r.Len())
	}
}

func TestRegistryStopAndStopAll(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	if r.Stop(Key{ChatID: 1}) {
		t.Fatalf("Stop on empty registry returned true")
	}

	ctxs := make([]context.Context, 0, 3)
	for i := int64(1); i <= 3; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		ctxs = append(ctxs, ctx)
		r.Insert(Key{ChatID: i}, kit.MessageRef{ChatID: i}, cancel)
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}

	if !r.Stop(Key{ChatID: 2}) {
		t.Fatalf("Stop on live session returned false")
	}
	select {
	case <-ctxs[1].Done():
	default:
		t.Fatalf("stopped session context not cancelled")
	}

	r.StopAll()
	if r.Len() != 0 {
		t.Fatalf("Len after StopAll = %d, want 0", r.Len())
	}
	for i, ctx := range ctxs {
		if ctx.Err() == nil {
			t.Fatalf("session %d context not cancelled after StopAll", i)
		}
	}
}

func TestKeyString(t *testing.T) {
	t.Parallel()
	if got := (Key{ChatID: -100123}).String(); got != "-100123" {
		t.Fatalf("Key.String = %q", got)
	}
	if got := (Key{ChatID: 5, ThreadID: 77}).String(); got != "5:77" {
		t.Fatalf("Key.String = %q", got)
	}
}
