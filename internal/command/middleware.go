package command

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"pricebot/internal/poller"
	"pricebot/internal/storage"
	logx "pricebot/pkg/logx"
)

// Request is what a handler sees for one command.
type Request struct {
	Command
	ReqID  string
	Logger logx.Logger
}

// HandlerFunc answers a command. A non-nil error with a non-empty reply is
// a conflict the user is told about.
type HandlerFunc func(ctx context.Context, req *Request) (string, error)

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (string, error) {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (reply string, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if req != nil && !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					reply, err = "", fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (string, error) {
			start := time.Now()
			logger := log
			if !req.Logger.IsZero() {
				logger = req.Logger
			}
			reply, err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{
				logx.Int64("chat_id", req.ChatID),
				logx.Int64("from_id", req.FromID),
				logx.String("cmd", req.Name),
				logx.String("target", req.Target.String()),
				logx.Duration("dur", d),
			}
			switch {
			case err != nil && poller.IsConflict(err):
				logger.Info("request refused", append(fields, logx.Err(err))...)
			case err != nil:
				logger.Warn("request failed", append(fields, logx.Err(err))...)
			case d >= 750*time.Millisecond:
				logger.Info("request ok", fields...)
			default:
				logger.Debug("request ok", fields...)
			}
			return reply, err
		}
	}
}

// MWAudit appends one storage.AuditEntry per handled command. A nil store
// disables it. Audit failures are logged and never change the reply.
func MWAudit(st storage.Store, log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if st == nil {
			return next
		}
		return func(ctx context.Context, req *Request) (string, error) {
			start := time.Now()
			reply, err := next(ctx, req)

			e := storage.AuditEntry{
				At:            start,
				ActorID:       req.FromID,
				ActorUsername: req.FromUsername,
				ChatID:        req.ChatID,
				Command:       req.Name,
				Target:        req.Target.String(),
				Outcome:       outcomeOf(err),
				TookMS:        time.Since(start).Milliseconds(),
			}
			if err != nil {
				e.Error = err.Error()
			}
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if aerr := st.AppendAudit(actx, e); aerr != nil {
				logger := log
				if !req.Logger.IsZero() {
					logger = req.Logger
				}
				logger.Warn("audit append failed", logx.Err(aerr))
			}
			return reply, err
		}
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case poller.IsConflict(err):
		return "conflict"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
