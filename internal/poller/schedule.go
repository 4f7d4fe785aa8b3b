package poller

import (
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "pricebot/pkg/logx"
)

// immediateSchedule fires on the first Next call, then follows base.
type immediateSchedule struct {
	base  cron.Schedule
	fired atomic.Bool
}

func everyFromNow(period time.Duration) *immediateSchedule {
	return &immediateSchedule{base: cron.Every(period)}
}

func (s *immediateSchedule) Next(t time.Time) time.Time {
	if s.fired.CompareAndSwap(false, true) {
		return t
	}
	return s.base.Next(t)
}

// cronLogger routes cron's own logging (and recovered job panics) into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if !l.log.Enabled(logx.LevelTrace) {
		return
	}
	l.log.Trace("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
