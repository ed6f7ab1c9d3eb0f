package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"cronkeeper/internal/config"
	"cronkeeper/internal/eventbus"
	"cronkeeper/internal/notifier"
	"cronkeeper/internal/runtime/supervisor"
	"cronkeeper/internal/storage"
	"cronkeeper/internal/task/cron"
	"cronkeeper/internal/task/executor"
	"cronkeeper/internal/task/scheduler"
	"cronkeeper/internal/task/store"
	kit "cronkeeper/internal/transport"
	"cronkeeper/internal/transport/console"
	telegram "cronkeeper/internal/transport/telegram/adapter"
	logx "cronkeeper/pkg/logx"
	"cronkeeper/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store *store.Store

	sender kit.Sender
	exec   *executor.Executor
	sched  *scheduler.Service
	notif  *notifier.Service
}

// New loads the config file at cfgPath and wires every component. Nothing
// runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return build(cfgm, cfg)
}

func build(cfgm *config.ConfigManager, cfg *config.Config) (*App, error) {
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	tg, err := newTelegram(cfg, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), nil)
	// Without a bot token, messages are written to the log.
	var sender kit.Sender = console.New(log.With(logx.String("comp", "console")))
	if tg != nil {
		sender = tg
	}
	logSvc.SetSender(sender)

	bus := eventbus.New()

	st, err := OpenStore(cfg, log)
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, sender, log.With(logx.String("comp", "notifier")), bus)

	ecfg, err := mapExecutorConfig(cfg)
	if err != nil {
		return nil, err
	}
	agentTimeout, err := mapAgentTimeout(cfg)
	if err != nil {
		return nil, err
	}
	exec := executor.New(ecfg,
		executor.WithLogger(log.With(logx.String("comp", "executor"))),
		executor.WithAgentDelegate(executor.NewHTTPAgent(cfg.Agent.URL, cfg.Agent.Token, agentTimeout)),
		executor.WithMessenger(notif),
	)

	scfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(scfg, st, exec,
		scheduler.WithLogger(log.With(logx.String("comp", "scheduler"))),
		scheduler.WithBus(bus),
		scheduler.WithAlerter(notif),
	)

	return &App{
		cfgm:   cfgm,
		log:    log.With(logx.String("comp", "app")),
		logs:   logSvc,
		bus:    bus,
		store:  st,
		sender: sender,
		exec:   exec,
		sched:  sched,
		notif:  notif,
	}, nil
}

// newTelegram returns nil when no token is configured.
func newTelegram(cfg *config.Config, log logx.Logger) (*telegram.Adapter, error) {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return nil, nil
	}
	timeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	return telegram.New(telegram.Config{Token: cfg.Telegram.Token, Timeout: timeout}, log)
}

// OpenStore opens the configured backend and loads the task document. It is
// used by the daemon and by the offline CLI commands.
func OpenStore(cfg *config.Config, log logx.Logger) (*store.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	opts, err := mapStoreOptions(cfg)
	if err != nil {
		return nil, err
	}
	backend, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	st := store.New(backend, cron.New(loc), log.With(logx.String("comp", "store")), opts)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := st.Load(ctx); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("load tasks from %s: %w", backend.Location(), err)
	}
	log.Info("storage ready", logx.String("driver", sc.Driver), logx.String("location", backend.Location()), logx.Int("tasks", st.Len()))
	return st, nil
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		_, err := mapStorageConfig(cfg)
		return err
	})

	a.notif.Start(a.sup.Context())
	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	// Debug-level event log.
	events, unsub := a.bus.Subscribe(128, "task.", "notifier.")
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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		if err := systemd.Watchdog(c); err != nil {
			a.log.Warn("systemd watchdog stopped", logx.Err(err))
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("tasks_file", a.sched.GetTasksFilePath()))
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range config.RestartRequired(sections) {
		a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if ecfg, err := mapExecutorConfig(newCfg); err != nil {
		a.log.Warn("invalid executor config; keeping previous", logx.Err(err))
	} else {
		a.exec.SetConfig(ecfg)
	}

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		prev := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case prev && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !prev && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	if scfg, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		prev := a.sched.Enabled()
		a.sched.Apply(scfg)
		if prev != scfg.Enabled {
			// The loop only runs when enabled; restart to pick up the flag.
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := a.sched.Stop(stopCtx); err != nil {
				a.log.Warn("scheduler stop failed", logx.Err(err))
			}
			cancel()
			if err := a.sched.Start(ctx); err != nil {
				a.log.Error("scheduler restart failed", logx.Err(err))
			}
			a.log.Info("scheduler loop toggled via config", logx.Bool("enabled", scfg.Enabled))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	// Cancel the run context so background loops start unwinding immediately.
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	}

	// Scheduler first: its last runs may still raise alerts.
	step("scheduler", 10*time.Second, a.sched.Stop)

	// Drain alerts and wait for supervised goroutines concurrently.
	step("drain", 3*time.Second, func(c context.Context) error {
		var g errgroup.Group
		g.Go(func() error { a.notif.Stop(c); return nil })
		g.Go(func() error {
			if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		return g.Wait()
	})

	step("storage", 2*time.Second, a.store.Close)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
