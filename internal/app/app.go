// Package app wires configuration, the Telegram adapter, the price poller and
// the command dispatcher into one process with hot reload and bounded shutdown.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pricebot/internal/command"
	"pricebot/internal/config"
	"pricebot/internal/delivery"
	"pricebot/internal/eventbus"
	"pricebot/internal/notifier"
	"pricebot/internal/observability/debugsrv"
	"pricebot/internal/poller"
	"pricebot/internal/quote"
	"pricebot/internal/runtime/supervisor"
	"pricebot/internal/storage"
	kit "pricebot/internal/transport"
	telegram "pricebot/internal/transport/telegram/adapter"
	logx "pricebot/pkg/logx"
)

const commandTimeout = 10 * time.Second

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter

	quotes *quote.Cached
	notif  *notifier.Service
	poller *poller.Poller
	loop   *command.Loop
	report *reporter
	debug  *debugsrv.Server // nil when debug.enabled is false

	updates chan kit.Update
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	token, err := cfg.Telegram.LoadToken()
	if err != nil {
		return nil, err
	}
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, config.DefaultPollTimeout)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: token, PollTimeout: pollTimeout}, logx.NewConsole("INFO"))
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg, ad)
}

func build(cfgm *config.ConfigManager, cfg *config.Config, ad kit.Adapter) (*App, error) {
	// Telegram logging starts disabled so Apply does not warn before the
	// target chat is known.
	bootLogCfg := mapLogConfig(cfg)
	bootLogCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootLogCfg, ad)
	if to, ok := groupLogTarget(cfg); ok {
		logSvc.SetTelegramTarget(to.ChatID, to.ThreadID)
	}
	logSvc.Apply(mapLogConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, err
		}
		store = st
		appLog.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	qs, err := cfg.Quote.Resolve()
	if err != nil {
		return nil, err
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	pcfg, err := mapPollerConfig(cfg)
	if err != nil {
		return nil, err
	}
	rcfg, err := mapReportConfig(cfg)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	quotes := quote.NewCached(quote.NewBinance(
		quote.WithBaseURL(qs.BaseURL),
		quote.WithHTTPClient(quote.NewHTTPClient(qs.Timeout)),
		quote.WithRateLimit(qs.RatePerSec),
	), qs.CacheTTL)
	notif := notifier.New(ncfg, ad, log)
	states := delivery.NewStore()
	p := poller.New(pcfg, poller.Deps{
		States:   states,
		Quotes:   quotes,
		Notifier: notif,
		Bus:      bus,
		Log:      log,
	})
	disp := command.New(p, command.Options{Audit: store, Timeout: commandTimeout, Log: log})

	var dbg *debugsrv.Server
	if dc, ok := mapDebugConfig(cfg); ok {
		if err := debugsrv.CheckBind(dc.Addr, dc.Token); err != nil {
			return nil, err
		}
		dbg = debugsrv.New(dc, debugsrv.Deps{
			Tasks:         p,
			Sends:         notif,
			Subscriptions: p.Registry(),
			States:        states,
			Audit:         store,
		}, log)
	}

	return &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		quotes:  quotes,
		notif:   notif,
		poller:  p,
		loop:    command.NewLoop(disp, ad, log),
		report:  newReporter(rcfg, bus, ad, p.ActiveCount, log),
		debug:   dbg,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Poller exposes the scheduler for diagnostics.
func (a *App) Poller() *poller.Poller { return a.poller }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapPollerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapReportConfig(cfg); err != nil {
			return err
		}
		if dc, ok := mapDebugConfig(cfg); ok {
			if err := debugsrv.CheckBind(dc.Addr, dc.Token); err != nil {
				return err
			}
		}
		_, _, err := mapStorageConfig(cfg)
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if mu, ok := a.adapter.(kit.CommandMenuUpdater); ok {
		a.sup.Go0("telegram.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 10*time.Second)
			defer cancel()
			if err := mu.UpdateMenuCommands(mctx, command.MenuCommands()); err != nil {
				a.log.Warn("menu commands update failed", logx.Err(err))
			}
		})
	}

	if err := a.poller.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.debug != nil {
		if err := a.debug.Start(a.sup.Context()); err != nil {
			return fmt.Errorf("debug server: %w", err)
		}
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.loop.Run(c, a.updates)
	})
	a.sup.Go0("report", a.report.run)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Trace("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: apply only the newest config.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig pushes a validated config into the running components.
func (a *App) applyConfig(old, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(old, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if config.RequiresRestart(old, next) {
		a.log.Warn("config change needs a restart to take full effect", logx.String("changed", strings.Join(sections, ",")))
	}

	if to, ok := groupLogTarget(next); ok {
		a.logs.SetTelegramTarget(to.ChatID, to.ThreadID)
	} else {
		a.logs.SetTelegramTarget(0, 0)
	}
	a.logs.Apply(mapLogConfig(next))

	if pcfg, err := mapPollerConfig(next); err != nil {
		a.log.Warn("invalid poller config; keeping previous", logx.Err(err))
	} else {
		a.poller.Apply(pcfg)
	}
	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}
	if qs, err := next.Quote.Resolve(); err == nil {
		a.quotes.SetTTL(qs.CacheTTL)
	}
	if rc, err := mapReportConfig(next); err == nil {
		a.report.Apply(rc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	if a.debug != nil {
		a.step(ctx, "debug", time.Second, a.debug.Stop)
	}
	a.step(ctx, "poller", 3*time.Second, a.poller.Stop)
	a.step(ctx, "notifier", 2*time.Second, a.notif.Stop)
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by max and by ctx's deadline. A step
// that overruns is logged and left behind.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped, no time left", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

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
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
		}()
	}
}
