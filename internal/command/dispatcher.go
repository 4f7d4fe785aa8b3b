// Package command turns chat commands into poller operations and status replies.
package command

import (
	"context"
	"errors"
	"time"

	"pricebot/internal/poller"
	"pricebot/internal/storage"
	"pricebot/internal/subscription"
	kit "pricebot/internal/transport"
	logx "pricebot/pkg/logx"
)

// Scheduler is the part of *poller.Poller the dispatcher drives.
type Scheduler interface {
	Subscribe(dest subscription.Destination) error
	StartPolling(dest subscription.Destination) error
	StopPolling(dest subscription.Destination) error
}

const helpText = `👋 Welcome to the TON Price Bot!

💡 Available commands:
/ton @channel
– Add a channel to the tracking list (do not start sending yet)

/tonstart @channel
– Start sending TON price updates to the channel every 30 seconds

/tonstop @channel
– Stop sending updates to the channel

ℹ️ The bot sends a new price only if it has changed, or every 2 minutes if it's the same.
⚠️ Make sure the bot is an admin in the target channel!`

const replyFailed = "❌ Something went wrong, please try again later."

// MenuCommands is the command list advertised in the Telegram menu.
func MenuCommands() []kit.BotCommand {
	return []kit.BotCommand{
		{Command: NameSubscribe, Description: "Add a channel to the tracking list"},
		{Command: NameStartPoll, Description: "Start price updates for a channel"},
		{Command: NameStopPoll, Description: "Stop price updates for a channel"},
		{Command: NameHelp, Description: "Show help"},
	}
}

// Dispatcher maps parsed commands onto a Scheduler.
type Dispatcher struct {
	sched Scheduler
	log   logx.Logger

	handle HandlerFunc
}

// Options tunes a Dispatcher. The zero value is usable.
type Options struct {
	Audit   storage.Store // nil disables the audit trail
	Timeout time.Duration // per command; 0 means none
	Log     logx.Logger
}

func New(sched Scheduler, opt Options) *Dispatcher {
	log := opt.Log.With(logx.String("comp", "command"))
	d := &Dispatcher{sched: sched, log: log}
	d.handle = Chain(
		d.route,
		MWPanicRecover(log),
		MWRequestLog(log),
		MWAudit(opt.Audit, log),
		MWTimeout(opt.Timeout),
	)
	return d
}

// Handle runs cmd and returns the reply for the chat it came from.
// ok is false when nothing should be sent back.
func (d *Dispatcher) Handle(ctx context.Context, cmd Command) (reply string, ok bool) {
	switch cmd.Name {
	case NameStart, NameHelp:
		return helpText, true
	case NameSubscribe, NameStartPoll, NameStopPoll:
	default:
		return "", false
	}
	if _, err := subscription.Parse(cmd.Target.String()); err != nil {
		return "", false
	}

	rid := newReqID()
	req := &Request{
		Command: cmd,
		ReqID:   rid,
		Logger: d.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", cmd.ChatID),
			logx.String("cmd", cmd.Name),
		),
	}
	reply, err := d.handle(ctx, req)
	if err != nil && reply == "" {
		return replyFailed, true
	}
	return reply, reply != ""
}

func (d *Dispatcher) route(_ context.Context, req *Request) (string, error) {
	ch := req.Target.String()
	switch req.Name {
	case NameSubscribe:
		err := d.sched.Subscribe(req.Target)
		switch {
		case err == nil:
			return "✅ Channel " + ch + " added. Use /tonstart " + ch + " to start updates.", nil
		case errors.Is(err, poller.ErrAlreadySubscribed):
			return "⚠️ Channel " + ch + " is already added.", err
		}
		return "", err

	case NameStartPoll:
		err := d.sched.StartPolling(req.Target)
		switch {
		case err == nil:
			return "🚀 Started sending updates to " + ch, nil
		case errors.Is(err, poller.ErrNotSubscribed):
			return "❌ Please add the channel first using /ton " + ch, err
		case errors.Is(err, poller.ErrAlreadyRunning):
			return "⏳ Updates for " + ch + " are already running.", err
		}
		return "", err

	case NameStopPoll:
		err := d.sched.StopPolling(req.Target)
		switch {
		case err == nil:
			return "🛑 Stopped updates for " + ch, nil
		case errors.Is(err, poller.ErrNotRunning):
			return "⚠️ No updates running for " + ch, err
		}
		return "", err
	}
	return "", nil
}
