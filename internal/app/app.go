// Package app wires the bot together: config, logging, the Telegram
// adapter, the countdown service, the digest schedule, and the command
// router, all under one supervisor.
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"countbot/internal/config"
	"countbot/internal/countdown"
	"countbot/internal/digest"
	"countbot/internal/router"
	"countbot/internal/runtime/supervisor"
	"countbot/internal/storage"
	kit "countbot/internal/transport"
	"countbot/internal/transport/telegram"
	logx "countbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter *telegram.Adapter
	store   storage.Store

	cd *countdown.Service
	dg *digest.Service
	rt *router.Router

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}, ad)
	log = log.With(logx.String("comp", "app"))
	applyLogTarget(logs, cfg)

	store, err := openStore(cfg, log)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	cdCfg, err := buildCountdownConfig(cfg)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	var cdOpts []countdown.Option
	if store != nil {
		cdOpts = append(cdOpts, countdown.WithRecorder(storeRecorder(store)))
	}
	cd := countdown.New(cdCfg, ad, log.With(logx.String("comp", "countdown")), cdOpts...)

	dgCfg, err := buildDigestConfig(cfg)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	dg := digest.New(dgCfg, ad, cd, log.With(logx.String("comp", "digest")))

	rt := router.New(log.With(logx.String("comp", "router")), ad, cfg.Telegram.OwnerUserIDs)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		adapter: ad,
		store:   store,
		cd:      cd,
		dg:      dg,
		rt:      rt,
		updates: make(chan kit.Update, 256),
	}
	a.registerCommands()
	return a, nil
}

// Done is closed when the app supervisor context is cancelled (fatal
// error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.cd.Start(a.sup.Context())
	if err := a.dg.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.rt.DispatchLoop(c, a.updates)
	})

	// Best-effort /menu autocomplete sync.
	a.sup.Go0("telegram.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 5*time.Second)
		defer cancel()
		if err := a.adapter.UpdateMenuCommands(mctx, a.rt.MenuCommands()); err != nil {
			a.log.Debug("menu update failed", logx.Err(err))
		}
	})

	// Hot-reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: only the newest config matters.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	// systemd integration is a no-op outside a unit with NotifyAccess.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			t := time.NewTicker(interval / 2)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return
				case <-t.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		})
	}

	a.log.Info("app started")
	return nil
}

// applyConfig pushes a validated reloaded config into the live services.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	})
	applyLogTarget(a.logs, cfg)

	a.rt.SetOwners(cfg.Telegram.OwnerUserIDs)

	if cdCfg, err := buildCountdownConfig(cfg); err == nil {
		a.cd.Apply(cdCfg)
	} else {
		a.log.Warn("countdown config rejected on reload", logx.Err(err))
	}

	if dgCfg, err := buildDigestConfig(cfg); err == nil {
		if err := a.dg.Apply(dgCfg); err != nil {
			a.log.Warn("digest apply failed", logx.Err(err))
		}
	} else {
		a.log.Warn("digest config rejected on reload", logx.Err(err))
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.sup.Cancel()

	// Run each shutdown phase with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem > 0 && rem < max {
				max = rem
			}
		}
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			} else {
				a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("digest", 2*time.Second, func(context.Context) error { a.dg.Stop(); return nil })
	step("countdown", 6*time.Second, func(c context.Context) error { a.cd.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("store close error", logx.Err(err))
		}
	}

	a.log.Info("stopped")
	return a.logs.Close()
}

func applyLogTarget(logs *logx.Service, cfg *config.Config) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		logs.SetTelegramTarget(0, 0)
		return
	}
	if chatID, err := strconv.ParseInt(raw, 10, 64); err == nil {
		logs.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
}

func openStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	if cfg.Storage == nil {
		return nil, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "storage")))
}

// storeRecorder adapts the audit store to the countdown Recorder hook.
func storeRecorder(store storage.Store) countdown.Recorder {
	return countdown.RecorderFunc(func(ctx context.Context, action string, key countdown.Key, actorID int64) {
		wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_ = store.RecordEvent(wctx, storage.Event{
			At:       time.Now(),
			ChatID:   key.ChatID,
			ThreadID: key.ThreadID,
			Action:   action,
			ActorID:  actorID,
		})
	})
}

func buildCountdownConfig(cfg *config.Config) (countdown.Config, error) {
	start, end, err := cfg.Countdown.ParseEpoch()
	if err != nil {
		return countdown.Config{}, err
	}
	interval, err := config.ParseDurationOrDefault("countdown.update_interval", cfg.Countdown.UpdateInterval, time.Second)
	if err != nil {
		return countdown.Config{}, err
	}

	var words [3]string
	for i := 0; i < len(words) && i < len(cfg.Countdown.DayWords); i++ {
		words[i] = cfg.Countdown.DayWords[i]
	}

	return countdown.Config{
		Epoch:          countdown.Epoch{Start: start, End: end},
		Interval:       interval,
		BarWidth:       cfg.Countdown.BarWidth,
		DayWords:       words,
		EditRatePerSec: cfg.Countdown.EditRatePerSec,
	}, nil
}

func buildDigestConfig(cfg *config.Config) (digest.Config, error) {
	if cfg.Digest == nil {
		return digest.Config{}, nil
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Countdown.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return digest.Config{}, fmt.Errorf("countdown.timezone: %w", err)
		}
		loc = l
	}
	targets := make([]digest.Target, 0, len(cfg.Digest.Chats))
	for _, c := range cfg.Digest.Chats {
		targets = append(targets, digest.Target{ChatID: c.ChatID, ThreadID: c.ThreadID})
	}
	return digest.Config{
		Enabled:  cfg.Digest.Enabled,
		Schedule: cfg.Digest.Schedule,
		Location: loc,
		Targets:  targets,
	}, nil
}

// validateConfig gates hot reloads: a config that fails here is rejected
// without touching the running services.
func validateConfig(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second); err != nil {
		return err
	}
	if _, _, err := cfg.Countdown.ParseEpoch(); err != nil {
		return err
	}
	if _, err := config.ParseDurationOrDefault("countdown.update_interval", cfg.Countdown.UpdateInterval, time.Second); err != nil {
		return err
	}
	if cfg.Digest != nil && cfg.Digest.Enabled {
		if _, err := cron.ParseStandard(cfg.Digest.Schedule); err != nil {
			return fmt.Errorf("digest.schedule: %w", err)
		}
	}
	if cfg.Storage != nil {
		if _, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second); err != nil {
			return err
		}
	}
	return nil
}
