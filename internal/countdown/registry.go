package countdown

import (
	"context"
	"strconv"
	"sync"

	kit "countbot/internal/transport"
)

// Key identifies the chat (and optional forum thread) a session belongs to.
type Key struct {
	ChatID   int64
	ThreadID int
}

func KeyFor(to kit.ChatTarget) Key {
	return Key{ChatID: to.ChatID, ThreadID: to.ThreadID}
}

func (k Key) Target() kit.ChatTarget {
	return kit.ChatTarget{ChatID: k.ChatID, ThreadID: k.ThreadID}
}

func (k Key) String() string {
	s := strconv.FormatInt(k.ChatID, 10)
	if k.ThreadID != 0 {
		s += ":" + strconv.Itoa(k.ThreadID)
	}
	return s
}

// session is one live countdown: the message being edited and the
// cancellation handle of the loop driving it.
type session struct {
	key    Key
	gen    uint64
	ref    kit.MessageRef
	cancel context.CancelFunc
}

// Registry is the sole authority over live sessions: at most one session
// per key at any instant. All mutations are serialized; loops identify
// themselves by generation so a superseded loop can never remove its
// replacement.
type Registry struct {
	mu   sync.Mutex
	seq  uint64
	sess map[Key]*session
}

func NewRegistry() *Registry {
	return &Registry{sess: map[Key]*session{}}
}

// Insert stores a new session for key, cancelling and replacing any
// existing one. It returns the new session's generation and whether a
// previous session was replaced.
func (r *Registry) Insert(key Key, ref kit.MessageRef, cancel context.CancelFunc) (gen uint64, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.sess[key]; ok {
		old.cancel()
		replaced = true
	}
	r.seq++
	r.sess[key] = &session{key: key, gen: r.seq, ref: ref, cancel: cancel}
	return r.seq, replaced
}

// Stop cancels and removes the session for key, if present.
func (r *Registry) Stop(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sess[key]
	if !ok {
		return false
	}
	s.cancel()
	delete(r.sess, key)
	return true
}

// Remove deletes the session for key only if it still belongs to gen.
// Used by a loop removing itself; a superseded loop finds a newer
// generation and leaves it alone.
func (r *Registry) Remove(key Key, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sess[key]
	if !ok || s.gen != gen {
		return false
	}
	s.cancel()
	delete(r.sess, key)
	return true
}

// IsCurrent reports whether gen is still the registry's occupant for key.
func (r *Registry) IsCurrent(key Key, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sess[key]
	return ok && s.gen == gen
}

// StopAll cancels and removes every session (process shutdown).
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, s := range r.sess {
		s.cancel()
		delete(r.sess, k)
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sess)
}

// Keys returns the keys of all live sessions.
func (r *Registry) Keys() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]Key, 0, len(r.sess))
	for k := range r.sess {
		keys = append(keys, k)
	}
	return keys
}
