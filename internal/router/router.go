// Package router dispatches incoming transport updates to registered
// command handlers through a bounded worker pool. The command surface is
// a flat table; inline-button callbacks without a registered action are
// acknowledged and otherwise ignored.
package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rtsup "countbot/internal/runtime/supervisor"
	kit "countbot/internal/transport"
	logx "countbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string // without the leading slash
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	Payload string // callback payload (raw data after the action token)
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
	Owners  []int64
}

func (r *Request) IsOwner() bool { return isOwner(r.FromID, r.Owners) }

// CallbackRoute handles one inline-button action token.
type CallbackRoute struct {
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  HandlerFunc
}

type Router struct {
	mu        sync.RWMutex
	cmds      map[string]Command
	callbacks map[string]CallbackRoute
	owners    []int64

	log     logx.Logger
	adapter kit.Adapter

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs  chan func()
	reqID uint64
}

func New(log logx.Logger, adapter kit.Adapter, owners []int64) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		cmds:      map[string]Command{},
		callbacks: map[string]CallbackRoute{},
		owners:    append([]int64(nil), owners...),
		log:       log,
		adapter:   adapter,
		jobs:      make(chan func(), 256),
	}
}

// SetOwners swaps the owner list used for AccessOwnerOnly checks.
// Safe to call during hot reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) ownersSnapshot() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]int64(nil), r.owners...)
}

// Register installs the command table and callback routes, replacing the
// previous set. /help is always present and lists what the caller may use.
func (r *Router) Register(cmds []Command, cbs []CallbackRoute) {
	table := map[string]Command{}
	for _, c := range cmds {
		name := strings.TrimSpace(strings.TrimPrefix(c.Name, "/"))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		table[name] = c
	}
	if _, ok := table["help"]; !ok {
		table["help"] = Command{
			Name:        "help",
			Description: "список команд",
			Usage:       "/help",
			Access:      AccessEveryone,
			Handle: func(ctx context.Context, req *Request) error {
				_, err := req.Adapter.SendText(ctx, req.Chat, r.helpText(req.IsOwner()), &kit.SendOptions{DisablePreview: true})
				return err
			},
		}
	}

	cbTable := map[string]CallbackRoute{}
	for _, cb := range cbs {
		action := strings.TrimSpace(cb.Action)
		if action == "" || cb.Handle == nil {
			continue
		}
		cb.Action = action
		cbTable[action] = cb
	}

	r.mu.Lock()
	r.cmds = table
	r.callbacks = cbTable
	r.mu.Unlock()
}

// MenuCommands returns the public command list for the bot menu, sorted
// by name. Owner-only commands stay out of the global menu.
func (r *Router) MenuCommands() []kit.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]kit.BotCommand, 0, len(r.cmds))
	for _, c := range r.cmds {
		if c.Access != AccessEveryone {
			continue
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

func (r *Router) helpText(owner bool) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.cmds))
	for name, c := range r.cmds {
		if c.Access == AccessOwnerOnly && !owner {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Команды:\n")
	for _, name := range names {
		c := r.cmds[name]
		b.WriteString("/" + name)
		if c.Description != "" {
			b.WriteString(" — " + c.Description)
		}
		b.WriteByte('\n')
		if c.Usage != "" && c.Usage != "/"+name {
			b.WriteString("  " + c.Usage + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Supervisor returns the router's internal supervisor (nil if not
// running). Used for operational visibility.
func (r *Router) Supervisor() *rtsup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return nil
	}
	return r.sup
}

func (r *Router) setSupervisor(sup *rtsup.Supervisor, running bool) {
	r.runMu.Lock()
	r.sup = sup
	r.running = running
	r.runMu.Unlock()
}

// tryEnqueue is a panic-safe enqueue (tolerates the jobs channel being
// closed during shutdown).
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes updates until ctx is cancelled or the channel
// closes. Handlers run on a bounded worker pool so one slow command
// cannot stall the poll loop.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	sup := rtsup.New(ctx,
		rtsup.WithLogger(r.log.With(logx.String("comp", "router"))),
		rtsup.WithCancelOnError(false),
	)
	r.setSupervisor(sup, true)
	r.log.Info("dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(r.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			r.setSupervisor(sup, false)
			close(r.jobs)
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					if job == nil {
						continue
					}
					// Middleware already recovers; this keeps the worker
					// alive if a job panics outside the chain.
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.setSupervisor(nil, false)
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				r.log.Info("updates channel closed")
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) route(root context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		r.routeMessage(root, up)
	case kit.UpdateCallback:
		r.routeCallback(root, up)
	}
}

func (r *Router) routeMessage(root context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	parts := strings.Fields(text)
	name := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	args := parts[1:]

	r.mu.RLock()
	cmd, ok := r.cmds[name]
	r.mu.RUnlock()
	if !ok {
		// Group chats see plenty of slash commands meant for other bots.
		r.log.Debug("unknown command", logx.String("cmd", name), logx.Int64("chat_id", msg.ChatID))
		return
	}

	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	owners := r.ownersSnapshot()
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.FromID, owners) {
		_, _ = r.adapter.SendText(root, chat, "Недостаточно прав.", nil)
		return
	}

	rid := r.newReqID()
	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    args,
		ReqID:   rid,
		Adapter: r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int("thread_id", msg.ThreadID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
		Owners: owners,
	}

	final := Chain(
		cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(cmd.Timeout),
	)

	if !r.tryEnqueue(func() { _ = final(root, req) }) {
		_, _ = r.adapter.SendText(root, chat, "Занят, попробуйте ещё раз.", nil)
	}
}

func (r *Router) routeCallback(root context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	action, payload, _ := strings.Cut(strings.TrimSpace(cb.Data), ":")

	r.mu.RLock()
	route, ok := r.callbacks[action]
	r.mu.RUnlock()
	if !ok {
		// Inert buttons (the countdown labels) land here: acknowledge so
		// the client drops its loading spinner, nothing else.
		_ = r.adapter.AnswerCallback(root, cb.ID, "")
		return
	}

	owners := r.ownersSnapshot()
	if route.Access == AccessOwnerOnly && !isOwner(cb.FromID, owners) {
		_ = r.adapter.AnswerCallback(root, cb.ID, "Недостаточно прав.")
		return
	}

	rid := r.newReqID()
	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
		FromID:  cb.FromID,
		Command: "cb:" + action,
		Payload: payload,
		ReqID:   rid,
		Adapter: r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", cb.ChatID),
			logx.Int("thread_id", cb.ThreadID),
			logx.Int64("from_id", cb.FromID),
			logx.String("cmd", "cb:"+action),
		),
		Owners: owners,
	}

	final := Chain(
		route.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(route.Timeout),
	)

	if !r.tryEnqueue(func() {
		_ = final(root, req)
		_ = r.adapter.AnswerCallback(root, cb.ID, "")
	}) {
		_ = r.adapter.AnswerCallback(root, cb.ID, "busy")
	}
}

func (r *Router) newReqID() string {
	n := atomic.AddUint64(&r.reqID, 1)
	return strconv.FormatInt(time.Now().Unix(), 36) + "-" + strconv.FormatUint(n, 36)
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
