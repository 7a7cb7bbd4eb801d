package countdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"countbot/internal/runtime/supervisor"
	kit "countbot/internal/transport"
	logx "countbot/pkg/logx"
	"countbot/pkg/tgui"
)

// Session lifecycle actions reported to the Recorder.
const (
	ActionStart   = "start"
	ActionReplace = "replace"
	ActionStop    = "stop"
	ActionFinish  = "finish"
	ActionGone    = "gone"
)

// errSuperseded aborts an in-flight edit when the session was replaced
// while waiting out a rate limit.
var errSuperseded = errors.New("session superseded")

// Recorder receives session lifecycle events (audit). Implementations must
// not block for long; they are called from session loops.
type Recorder interface {
	SessionEvent(ctx context.Context, action string, key Key, actorID int64)
}

type RecorderFunc func(ctx context.Context, action string, key Key, actorID int64)

func (f RecorderFunc) SessionEvent(ctx context.Context, action string, key Key, actorID int64) {
	f(ctx, action, key, actorID)
}

type Config struct {
	Epoch    Epoch
	Interval time.Duration
	BarWidth int
	DayWords [3]string

	// EditRatePerSec caps message edits across all sessions so many chats
	// can't exhaust the Telegram send budget together.
	EditRatePerSec int

	// ShutdownWait bounds how long Stop waits for session loops to exit.
	ShutdownWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.BarWidth <= 0 {
		c.BarWidth = DefaultBarWidth
	}
	if c.EditRatePerSec <= 0 {
		c.EditRatePerSec = 25
	}
	if c.ShutdownWait <= 0 {
		c.ShutdownWait = 5 * time.Second
	}
	return c
}

// Service owns all live countdown sessions: one supervised loop per chat,
// each repeatedly computing progress, diffing against the last rendered
// snapshot, and editing the live message in place.
type Service struct {
	ad  kit.Adapter
	log logx.Logger

	mu      sync.Mutex
	cfg     Config
	fmtr    Formatter
	limiter *rate.Limiter
	sup     *supervisor.Supervisor

	reg *Registry

	rec Recorder
	now func() time.Time

	startedAt time.Time
}

type Option func(*Service)

func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.rec = r }
}

// WithNow overrides the clock (tests).
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(cfg Config, ad kit.Adapter, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	s := &Service{
		ad:      ad,
		log:     log,
		cfg:     cfg,
		fmtr:    NewFormatter(cfg.BarWidth, cfg.DayWords),
		limiter: rate.NewLimiter(rate.Limit(cfg.EditRatePerSec), cfg.EditRatePerSec),
		reg:     NewRegistry(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start prepares the service to accept sessions. Session loops run under
// a supervisor bound to ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = supervisor.New(ctx,
		supervisor.WithLogger(s.log),
		// One session's failure must never take the others down.
		supervisor.WithCancelOnError(false),
	)
	s.startedAt = time.Now()
	s.log.Info("service started", logx.Time("epoch_start", s.cfg.Epoch.Start), logx.Time("epoch_end", s.cfg.Epoch.End))
}

// Stop cancels every session and waits (bounded) for the loops to observe
// cancellation.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	wait := s.cfg.ShutdownWait
	s.mu.Unlock()

	n := s.reg.Len()
	s.reg.StopAll()
	if sup == nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := sup.Stop(wctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("session loops did not stop in time", logx.Int("sessions", n), logx.Err(err))
		return
	}
	s.log.Info("service stopped", logx.Int("sessions", n))
}

// Apply updates epoch/rendering/pacing settings at runtime. Loops pick the
// new values up on their next tick.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.fmtr = NewFormatter(cfg.BarWidth, cfg.DayWords)
	s.limiter.SetLimit(rate.Limit(cfg.EditRatePerSec))
	s.limiter.SetBurst(cfg.EditRatePerSec)
	s.mu.Unlock()
}

func (s *Service) config() (Config, Formatter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.fmtr
}

func (s *Service) supervisorRef() *supervisor.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// StartSession starts (or replaces) the live countdown for the target
// chat. The initial send happens synchronously: on failure no session is
// created and the error is returned to the command layer.
func (s *Service) StartSession(ctx context.Context, to kit.ChatTarget, actorID int64) error {
	sup := s.supervisorRef()
	if sup == nil {
		return errors.New("countdown service not started")
	}
	key := KeyFor(to)
	cfg, fmtr := s.config()

	// Replace any existing session up front so the superseded loop stops
	// editing before the new message appears.
	if s.reg.Stop(key) {
		s.record(ctx, ActionReplace, key, actorID)
	}

	opt := &kit.SendOptions{ReplyMarkupAdapter: initMarkup()}
	ref, err := s.ad.SendText(ctx, to, fmtr.Header(cfg.Epoch), opt)
	if err != nil {
		return fmt.Errorf("initial send: %w", err)
	}

	sctx, cancel := context.WithCancel(sup.Context())
	gen, _ := s.reg.Insert(key, ref, cancel)
	s.record(ctx, ActionStart, key, actorID)

	sup.Go0("countdown.session."+key.String(), func(context.Context) {
		s.runLoop(sctx, key, gen, ref)
	})
	return nil
}

// StopSession cancels the session for key, if any.
func (s *Service) StopSession(ctx context.Context, key Key, actorID int64) bool {
	if !s.reg.Stop(key) {
		return false
	}
	s.record(ctx, ActionStop, key, actorID)
	return true
}

// ActiveSessions returns the keys of all live sessions.
func (s *Service) ActiveSessions() []Key { return s.reg.Keys() }

func (s *Service) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// Counters exposes best-effort loop counters for /status.
func (s *Service) Counters() supervisor.Counters {
	return s.supervisorRef().Counters()
}

// RenderStatus produces a plain-text rendering of the current progress
// (used by the digest announcements and /status).
func (s *Service) RenderStatus() string {
	cfg, fmtr := s.config()
	snap := cfg.Epoch.Progress(s.now())
	return fmtr.Header(cfg.Epoch) + "\n" + fmtr.TimeLabel(snap) + "\n" + fmtr.BarLabel(snap)
}

// runLoop drives one session: an immediate first render, then the
// periodic compute→diff→edit cycle until the session is superseded,
// its target disappears, or the countdown reaches its end.
func (s *Service) runLoop(ctx context.Context, key Key, gen uint64, ref kit.MessageRef) {
	log := s.log.With(logx.String("session", key.String()))
	log.Info("session loop started")

	var last *Snapshot
	first := true
	for {
		if !first {
			cfg, _ := s.config()
			select {
			case <-ctx.Done():
				log.Debug("session cancelled")
				return
			case <-time.After(cfg.Interval):
			}
		}
		first = false

		if ctx.Err() != nil || !s.reg.IsCurrent(key, gen) {
			log.Debug("session superseded")
			return
		}

		cfg, fmtr := s.config()
		snap := cfg.Epoch.Progress(s.now())
		if last != nil && snap == *last {
			// Nothing changed since the last render; skip the network call.
			continue
		}

		err := s.pushEdit(ctx, key, gen, ref, cfg, fmtr, snap)
		switch {
		case err == nil:
			cp := snap
			last = &cp
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, errSuperseded):
			return
		case errors.Is(err, kit.ErrTargetGone):
			log.Warn("message target gone; ending session", logx.Err(err))
			s.reg.Remove(key, gen)
			s.record(ctx, ActionGone, key, 0)
			return
		default:
			log.Warn("edit failed; retrying next tick", logx.Err(err))
			continue
		}

		if snap.Terminal() {
			log.Info("countdown finished")
			s.reg.Remove(key, gen)
			s.record(ctx, ActionFinish, key, 0)
			return
		}
	}
}

// pushEdit performs one update operation, honoring the shared pacing
// limiter and the remote's mandatory waits. A rate-limited attempt is
// retried after the imposed wait rather than dropped.
func (s *Service) pushEdit(ctx context.Context, key Key, gen uint64, ref kit.MessageRef, cfg Config, fmtr Formatter, snap Snapshot) error {
	text := fmtr.Header(cfg.Epoch)
	opt := &kit.SendOptions{
		ReplyMarkupAdapter: countdownMarkup(fmtr.TimeLabel(snap), fmtr.BarLabel(snap)),
	}

	for {
		s.mu.Lock()
		lim := s.limiter
		s.mu.Unlock()
		if err := lim.Wait(ctx); err != nil {
			return err
		}

		err := s.ad.EditText(ctx, ref, text, opt)
		if err == nil {
			return nil
		}
		if errors.Is(err, kit.ErrNotModified) {
			// Remote already shows this content. Success, not an error.
			return nil
		}
		if after, ok := kit.RetryAfter(err); ok {
			s.log.Warn("rate limited", logx.String("session", key.String()), logx.Duration("retry_after", after))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(after):
			}
			// The session may have been replaced while we slept.
			if !s.reg.IsCurrent(key, gen) {
				return errSuperseded
			}
			continue
		}
		return err
	}
}

func (s *Service) record(ctx context.Context, action string, key Key, actorID int64) {
	if s.rec == nil {
		return
	}
	// Lifecycle events must survive the session context being cancelled.
	s.rec.SessionEvent(context.WithoutCancel(ctx), action, key, actorID)
}

func countdownMarkup(timeLabel, barLabel string) any {
	return tgui.NewInline().
		Row(tgui.Btn(timeLabel, "noop")).
		Row(tgui.Btn(barLabel, "noop")).
		Markup()
}

func initMarkup() any {
	return tgui.NewInline().Row(tgui.Btn("Инициализация…", "noop")).Markup()
}
