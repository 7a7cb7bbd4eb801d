// Package digest posts the current countdown state to configured chats
// on a cron schedule, independent of any live session.
package digest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	kit "countbot/internal/transport"
	logx "countbot/pkg/logx"
)

// Renderer produces the text body of one digest post.
type Renderer interface {
	RenderStatus() string
}

type Target struct {
	ChatID   int64
	ThreadID int
}

type Config struct {
	Enabled  bool
	Schedule string // standard 5-field cron spec
	Location *time.Location
	Targets  []Target

	// SendTimeout bounds one digest delivery round.
	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	return c
}

type Service struct {
	ad  kit.Adapter
	rnd Renderer
	log logx.Logger

	mu  sync.Mutex
	cfg Config
	c   *cron.Cron
	ctx context.Context
}

func New(cfg Config, ad kit.Adapter, rnd Renderer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{ad: ad, rnd: rnd, log: log, cfg: cfg.withDefaults()}
}

// Start registers the digest job and starts the cron runner. Disabled or
// target-less configs are a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.ctx = ctx
	if !s.cfg.Enabled || len(s.cfg.Targets) == 0 {
		s.log.Debug("digest disabled")
		return nil
	}
	return s.startLocked(s.cfg)
}

func (s *Service) startLocked(cfg Config) error {
	if cfg.Schedule == "" {
		return errors.New("digest schedule is empty")
	}
	c := cron.New(cron.WithLocation(cfg.Location))
	if _, err := c.AddFunc(cfg.Schedule, s.post); err != nil {
		return err
	}
	c.Start()
	s.c = c
	s.log.Info("digest started", logx.String("schedule", cfg.Schedule), logx.Int("targets", len(cfg.Targets)))
	return nil
}

// Apply replaces the schedule and target list at runtime.
func (s *Service) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.cfg = cfg
	if s.ctx == nil || !cfg.Enabled || len(cfg.Targets) == 0 {
		return nil
	}
	return s.startLocked(cfg)
}

// Stop halts the cron runner and waits for a running post to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Service) stopLocked() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
	s.log.Info("digest stopped")
}

func (s *Service) post() {
	s.mu.Lock()
	cfg := s.cfg
	root := s.ctx
	s.mu.Unlock()
	if root == nil {
		root = context.Background()
	}

	ctx, cancel := context.WithTimeout(root, cfg.SendTimeout)
	defer cancel()

	text := s.rnd.RenderStatus()
	for _, t := range cfg.Targets {
		to := kit.ChatTarget{ChatID: t.ChatID, ThreadID: t.ThreadID}
		if _, err := s.ad.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true}); err != nil {
			s.log.Warn("digest send failed", logx.Int64("chat_id", t.ChatID), logx.Int("thread_id", t.ThreadID), logx.Err(err))
		}
	}
}
