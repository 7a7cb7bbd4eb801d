package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"countbot/internal/countdown"
	"countbot/internal/router"
	"countbot/internal/runtime/supervisor"
	kit "countbot/internal/transport"
)

func (a *App) registerCommands() {
	cmds := []router.Command{
		{
			Name:        "countdown",
			Description: "запустить живой таймер в этом чате",
			Usage:       "/countdown",
			Access:      router.AccessEveryone,
			Timeout:     15 * time.Second,
			Handle:      a.cmdCountdown,
		},
		{
			Name:        "stop",
			Description: "остановить таймер в этом чате",
			Usage:       "/stop",
			Access:      router.AccessEveryone,
			Timeout:     10 * time.Second,
			Handle:      a.cmdStop,
		},
		{
			Name:        "status",
			Description: "состояние бота",
			Usage:       "/status",
			Access:      router.AccessOwnerOnly,
			Timeout:     10 * time.Second,
			Handle:      a.cmdStatus,
		},
	}

	// The countdown buttons carry "noop" data; the router acknowledges
	// unregistered callbacks on its own, so no callback routes are needed.
	a.rt.Register(cmds, nil)
}

func (a *App) cmdCountdown(ctx context.Context, req *router.Request) error {
	if err := a.cd.StartSession(ctx, req.Chat, req.FromID); err != nil {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "Не удалось запустить таймер.", nil)
		return err
	}
	return nil
}

func (a *App) cmdStop(ctx context.Context, req *router.Request) error {
	key := countdown.KeyFor(req.Chat)
	if a.cd.StopSession(ctx, key, req.FromID) {
		_, err := req.Adapter.SendText(ctx, req.Chat, "Таймер остановлен.", nil)
		return err
	}
	_, err := req.Adapter.SendText(ctx, req.Chat, "Таймер не запущен.", nil)
	return err
}

func (a *App) cmdStatus(ctx context.Context, req *router.Request) error {
	var b strings.Builder
	b.WriteString(a.cd.RenderStatus())
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "uptime: %s\n", a.cd.Uptime().Truncate(time.Second))

	keys := a.cd.ActiveSessions()
	fmt.Fprintf(&b, "sessions: %d\n", len(keys))
	for _, k := range keys {
		b.WriteString("- " + k.String() + "\n")
	}

	b.WriteString("\nworkers:\n")
	writeCounters(&b, "countdown", a.cd.Counters())
	writeCounters(&b, "router", a.rt.Supervisor().Counters())
	if a.adapter != nil {
		writeCounters(&b, "telegram", a.adapter.Supervisor().Counters())
	}

	if a.store != nil {
		if events, err := a.store.RecentEvents(ctx, 10); err == nil && len(events) > 0 {
			b.WriteString("\nпоследние события:\n")
			for _, e := range events {
				fmt.Fprintf(&b, "%s %s %d", e.At.Format("02.01 15:04:05"), e.Action, e.ChatID)
				if e.ThreadID != 0 {
					fmt.Fprintf(&b, ":%d", e.ThreadID)
				}
				b.WriteByte('\n')
			}
		}
	}

	_, err := req.Adapter.SendText(ctx, req.Chat, strings.TrimRight(b.String(), "\n"), &kit.SendOptions{DisablePreview: true})
	return err
}

func writeCounters(b *strings.Builder, name string, c supervisor.Counters) {
	fmt.Fprintf(b, "- %s: %d active / %d started\n", name, c.Active, c.Started)
}
