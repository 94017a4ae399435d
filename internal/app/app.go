package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/redis/go-redis/v9"

	"chronosend/internal/api"
	"chronosend/internal/cache"
	"chronosend/internal/config"
	"chronosend/internal/dispatch"
	"chronosend/internal/eventbus"
	"chronosend/internal/housekeeping"
	"chronosend/internal/media"
	"chronosend/internal/metrics"
	"chronosend/internal/notifier"
	"chronosend/internal/reconcile"
	"chronosend/internal/runtime/supervisor"
	"chronosend/internal/service"
	"chronosend/internal/storage"
	"chronosend/internal/task/engine"
	"chronosend/internal/task/scheduler"
	"chronosend/internal/transport/gateway"
	logx "chronosend/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store storage.Store
	rdb   *redis.Client
	media *media.Store

	engine  *engine.Service
	sched   *scheduler.Service
	gw      *gateway.Client
	notif   *notifier.Service
	disp    *dispatch.Dispatcher
	recon   *reconcile.Reconciler
	pruner  *housekeeping.Pruner
	metrics *metrics.Metrics
	server  *api.Server
}

// New loads the config and wires every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg))
	appLog := log.With(logx.String("comp", "app"))
	bus := eventbus.New()

	a := &App{cfgm: cfgm, log: appLog, logs: logSvc, bus: bus}
	fail := func(err error) (*App, error) {
		a.closeResources()
		return nil, err
	}

	sc := mapStorage(cfg)
	a.store, err = storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fail(fmt.Errorf("storage: %w", err))
	}
	appLog.Info("storage ready", logx.String("driver", sc.Driver))

	var rc cache.ReceiptCache
	if addr := strings.TrimSpace(cfg.Cache.Addr); addr != "" {
		a.rdb = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Cache.Password, DB: cfg.Cache.DB})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := a.rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fail(fmt.Errorf("cache: %w", err))
		}
		rc = cache.NewRedisCache(a.rdb, config.MustDuration(cfg.Cache.TTL, 168*time.Hour))
		appLog.Info("receipt cache enabled", logx.String("addr", addr))
	}

	dir := strings.TrimSpace(cfg.Media.Dir)
	if dir == "" {
		dir = "./uploads"
	}
	var mopts []media.Option
	if cfg.Media.MaxSizeMB > 0 {
		mopts = append(mopts, media.WithMaxBytes(int64(cfg.Media.MaxSizeMB)<<20))
	}
	if len(cfg.Media.AllowTypes) > 0 {
		mopts = append(mopts, media.WithAllowedTypes(cfg.Media.AllowTypes...))
	}
	a.media, err = media.NewDirStore(dir, mopts...)
	if err != nil {
		return fail(fmt.Errorf("media: %w", err))
	}

	a.engine = engine.New(mapEngine(cfg), log.With(logx.String("comp", "taskengine")), bus)
	a.sched = scheduler.New(mapScheduler(cfg), a.engine, log.With(logx.String("comp", "scheduler")), bus)

	a.gw, err = gateway.New(mapGateway(cfg), log, bus)
	if err != nil {
		return fail(fmt.Errorf("transport: %w", err))
	}

	router, err := buildRouter(ctx, cfg, log)
	if err != nil {
		return fail(err)
	}
	a.notif = notifier.New(mapNotifier(cfg), router, log, bus)

	a.disp, err = dispatch.New(dispatch.Config{RecipientSuffix: cfg.Transport.RecipientSuffix}, dispatch.Deps{
		Transport: a.gw,
		Store:     a.store,
		Media:     a.media,
		Notifier:  a.notif,
		Cache:     rc,
		Jobs:      a.sched,
	}, log)
	if err != nil {
		return fail(err)
	}

	a.recon = reconcile.New(a.store, rc, bus, log)
	a.pruner = housekeeping.NewPruner(a.media, a.store, log)

	tasks := service.New(service.Deps{
		Store:     a.store,
		Scheduler: a.sched,
		Media:     a.media,
		Transport: a.gw,
		Cache:     rc,
	}, log)

	a.metrics = metrics.New(bus, metrics.Gauges{
		ScheduledJobs:  a.sched.Len,
		TransportReady: a.gw.Ready,
		BusDropped:     bus.Dropped,
	})

	a.server = api.New(mapServer(cfg), api.Deps{
		Tasks:   tasks,
		Gateway: a.gw,
		Acks:    a.recon,
		Metrics: a.metrics,
		Status: func() any {
			return map[string]any{
				"scheduler": a.sched.Snapshot(),
				"engine":    a.engine.Snapshot(),
			}
		},
		Health: a.store.Ping,
	}, log)

	return a, nil
}

func buildRouter(ctx context.Context, cfg *config.Config, log logx.Logger) (notifier.Router, error) {
	r := notifier.Router{Log: notifier.NewLogSink(log.With(logx.String("comp", "notify.log")))}
	if e := cfg.Notifier.Email; e != nil {
		sink, err := notifier.NewEmailSink(ctx, e.Region, e.From)
		if err != nil {
			return r, fmt.Errorf("notifier.email: %w", err)
		}
		r.Email = sink
	}
	if t := cfg.Notifier.Telegram; t != nil && strings.TrimSpace(t.Token) != "" {
		sink, err := notifier.NewTelegramSink(t.Token)
		if err != nil {
			return r, fmt.Errorf("notifier.telegram: %w", err)
		}
		r.Telegram = sink
	}
	return r, nil
}

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
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	// engine before scheduler: rehydrated past-due instants enqueue immediately
	a.engine.Start(runCtx)
	a.notif.Start(runCtx)
	a.sched.SetFireFunc(a.disp.Fire)

	rep, err := a.sched.Rehydrate(ctx, a.store)
	if err != nil {
		a.sup.Cancel()
		return fmt.Errorf("rehydrate: %w", err)
	}
	a.log.Info("tasks rehydrated",
		logx.Int("loaded", rep.Loaded),
		logx.Int("scheduled", rep.Scheduled),
		logx.Int("skipped", len(rep.Skipped)),
	)

	hk := a.cfgm.Get().Housekeeping
	if !hk.Disabled {
		spec := strings.TrimSpace(hk.PruneSchedule)
		if spec == "" {
			spec = housekeeping.DefaultPruneSchedule
		}
		if err := a.sched.AddHousekeeping("media.prune", spec, a.pruner.Job); err != nil {
			a.sup.Cancel()
			return fmt.Errorf("housekeeping: %w", err)
		}
	}
	a.sched.Start(runCtx)

	restart := []supervisor.RestartOption{supervisor.WithRestartBackoff(time.Second, 30*time.Second)}
	a.sup.GoRestart("transport.session", a.gw.Run, restart...)
	a.sup.GoRestart("metrics.events", a.metrics.Run, restart...)
	a.sup.Go("api.listen", func(context.Context) error { return a.server.Listen() })
	a.sup.Go("systemd.watchdog", func(c context.Context) error { return watchdog(c, a.log) })

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	notifySystemd(a.log, daemon.SdNotifyReady)
	a.log.Info("app started")
	return nil
}

// reloadLoop applies hot-reloadable sections and warns about the rest.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts
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
			if newCfg == nil {
				continue
			}

			sections, attrs := config.SummarizeChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Info("config reloaded (no changes)")
				continue
			}

			for _, s := range sections {
				switch s {
				case "logging":
					a.logs.Apply(mapLogging(newCfg))
				case "scheduler":
					a.sched.Apply(mapScheduler(newCfg))
				}
			}
			if rest := config.RestartRequired(sections); len(rest) > 0 {
				a.log.Warn("config sections changed; restart required for changes to take effect",
					logx.Strings("sections", rest))
			}

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifySystemd(a.log, daemon.SdNotifyStopping)

	// Stop intake first, then cancel the run context so background loops unwind.
	a.step(ctx, "api", 3*time.Second, a.server.Shutdown)
	a.sup.Cancel()

	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "subscriptions", time.Second, func(context.Context) error {
		a.metrics.Close()
		return nil
	})

	// Supervised loops (session, metrics, config watch) must exit before the store closes.
	a.step(ctx, "supervisor", 3*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil {
			n := a.sup.Counters()
			return fmt.Errorf("%d of %d goroutines still running: %w", n.Active, n.Started, err)
		}
		return nil
	})
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.closeStores() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component can't stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
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
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		// fn must honor stepCtx; if it doesn't, log when it eventually returns
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			fields := []logx.Field{logx.String("name", name), logx.Duration("took", time.Since(start))}
			if err != nil {
				a.log.Warn("stop step finished after deadline", append(fields, logx.Err(err))...)
				return
			}
			a.log.Info("stop step finished after deadline", fields...)
		}()
	}
}

func (a *App) closeStores() error {
	var errs []string
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			errs = append(errs, "cache: "+err.Error())
		}
		a.rdb = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, "storage: "+err.Error())
		}
		a.store = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("close: %s", strings.Join(errs, "; "))
	}
	return nil
}

// closeResources releases what New opened when wiring fails or Start never ran.
func (a *App) closeResources() {
	if err := a.closeStores(); err != nil {
		a.log.Warn("close failed", logx.Err(err))
	}
	if a.metrics != nil {
		a.metrics.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
