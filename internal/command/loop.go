package command

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"time"

	"pricebot/internal/runtime/supervisor"
	"pricebot/internal/shardmap"
	kit "pricebot/internal/transport"
	logx "pricebot/pkg/logx"
)

const (
	workerQueueCap = 64
	drainTimeout   = 3 * time.Second
)

type job func(ctx context.Context)

// Loop reads inbound updates, dispatches commands on a bounded worker
// pool and sends replies back to the originating chat. Each chat is pinned
// to one worker, so its commands run in arrival order.
type Loop struct {
	d   *Dispatcher
	out kit.Sender
	log logx.Logger

	queues []chan job
}

func NewLoop(d *Dispatcher, out kit.Sender, log logx.Logger) *Loop {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	queues := make([]chan job, workers)
	for i := range queues {
		queues[i] = make(chan job, workerQueueCap)
	}
	return &Loop{
		d:      d,
		out:    out,
		log:    log.With(logx.String("comp", "command.loop")),
		queues: queues,
	}
}

// Run blocks until ctx is done or updates is closed. Jobs run on a context
// detached from ctx, so queued and in-flight commands get drainTimeout to
// finish before it is cancelled.
func (l *Loop) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(context.WithoutCancel(ctx), supervisor.WithLogger(l.log), supervisor.WithCancelOnError(false))
	l.log.Info("command dispatcher started", logx.Int("workers", len(l.queues)), logx.Int("queue_cap", workerQueueCap))

	for idx, q := range l.queues {
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case j, ok := <-q:
					if !ok {
						return nil
					}
					l.runJob(idx, c, j)
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		for _, q := range l.queues {
			close(q)
		}
		wctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		if err := sup.Wait(wctx); err != nil {
			l.log.Warn("command drain cut short", logx.Err(err))
		}
		cancel()
		sup.Cancel()
		l.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			l.route(ctx, up)
		}
	}
}

func (l *Loop) runJob(worker int, ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	j(ctx)
}

func (l *Loop) queueFor(chatID int64) chan job {
	return l.queues[shardmap.Index(strconv.FormatInt(chatID, 10), len(l.queues))]
}

func (l *Loop) route(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	cmd, ok := FromMessage(up.Message)
	if !ok {
		return
	}
	to := kit.ChatTarget{ChatID: cmd.ChatID, ThreadID: cmd.ThreadID}

	j := func(jctx context.Context) {
		reply, ok := l.d.Handle(jctx, cmd)
		if !ok {
			return
		}
		if _, err := l.out.SendText(jctx, to, reply, &kit.SendOptions{DisablePreview: true}); err != nil {
			l.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.String("cmd", cmd.Name), logx.Err(err))
		}
	}
	select {
	case l.queueFor(cmd.ChatID) <- j:
	default:
		l.log.Warn("command queue full, dropping", logx.Int64("chat_id", to.ChatID), logx.String("cmd", cmd.Name))
		_, _ = l.out.SendText(ctx, to, "⏳ Busy, try again in a moment.", nil)
	}
}
