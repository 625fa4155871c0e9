// Package app assembles the daemon: config, logging, storage, scheduler,
// notification sink, delivery channels and the reminder engine.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"eckod/internal/channel/telegram"
	"eckod/internal/config"
	"eckod/internal/engine"
	"eckod/internal/eventbus"
	"eckod/internal/notify"
	"eckod/internal/scheduler"
	"eckod/internal/storage"
	logx "eckod/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	bus   eventbus.Bus
	store storage.Store
	sched *scheduler.Service
	sink  *notify.Sink
	eng   *engine.Engine

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	mgr.SetLogger(log.With(logx.String("comp", "config")))
	mgr.SetValidator(func(_ context.Context, c *config.Config) error {
		if _, err := config.ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
		_, err := notifyConfig(c.Notify)
		return err
	})

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	bus := eventbus.New()

	sched := scheduler.New(scheduler.Config{
		Workers:   cfg.Scheduler.Workers,
		QueueSize: cfg.Scheduler.QueueSize,
		Timezone:  cfg.Timezone,
	}, log.With(logx.String("comp", "scheduler")))

	sinkCfg, err := notifyConfig(cfg.Notify)
	if err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}
	sink := notify.New(sinkCfg, store, bus, log.With(logx.String("comp", "notify")))

	if tg := cfg.Channels.Telegram; tg.Enabled {
		ch, err := telegram.New(telegram.Config{Token: tg.Token, Owners: tg.Owners},
			log.With(logx.String("comp", "telegram")))
		if err != nil {
			_ = store.Close()
			logSvc.Close()
			return nil, fmt.Errorf("telegram channel: %w", err)
		}
		sink.RegisterChannel(ch)
	}

	engCfg := engine.Config{}
	if cfg.Reminders != nil {
		engCfg.DefaultTimeOfDay = cfg.Reminders.DefaultTimeOfDay
		engCfg.SweepSpec = cfg.Reminders.SweepSpec
	}
	eng, err := engine.New(engCfg, store, sched, sink, bus, log.With(logx.String("comp", "engine")))
	if err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}

	return &App{
		cfgMgr: mgr,
		logSvc: logSvc,
		log:    log,
		bus:    bus,
		store:  store,
		sched:  sched,
		sink:   sink,
		eng:    eng,
	}, nil
}

// Engine exposes the reminder facade to embedding hosts.
func (a *App) Engine() *engine.Engine { return a.eng }

func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.eng.Start(runCtx); err != nil {
		// Partial reconciliation: the engine is still live, flag it loudly.
		a.log.Error("startup reconciliation incomplete", logx.Err(err))
	}

	a.wg.Add(3)
	go func() {
		defer a.wg.Done()
		_ = a.cfgMgr.Watch(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		a.consumeConfig(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		a.consumeEvents(runCtx)
	}()

	a.notifySystemd(runCtx)
	a.log.Info("eckod started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if a.cancel != nil {
		a.cancel()
	}
	a.eng.Shutdown(ctx)
	a.wg.Wait()
	err := a.store.Close()
	a.log.Info("eckod stopped")
	a.logSvc.Close()
	return err
}

// consumeConfig applies hot-reloadable sections (logging, notify pipeline).
// Storage, scheduler and channel changes need a restart and are only logged.
func (a *App) consumeConfig(ctx context.Context) {
	sub := a.cfgMgr.Subscribe(4)
	defer a.cfgMgr.Unsubscribe(sub)

	prev := a.cfgMgr.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok || cfg == nil {
				return
			}
			changed, attrs := config.SummarizeChange(prev, cfg)
			if len(changed) == 0 {
				prev = cfg
				continue
			}
			a.log.Info("config reloaded", append(attrs, logx.Any("sections", changed))...)

			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
			})
			if sinkCfg, err := notifyConfig(cfg.Notify); err != nil {
				a.log.Warn("notify config rejected", logx.Err(err))
			} else {
				a.sink.Apply(sinkCfg)
			}
			prev = cfg
		}
	}
}

// consumeEvents logs bus traffic. Delivery trouble surfaces at warn; the
// rest stays at debug so recurring reminders don't flood the log.
func (a *App) consumeEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Type {
			case eventbus.TypeNotifyFailed, eventbus.TypeNotifyDropped:
				a.log.Warn("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			default:
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	}
}

// notifySystemd signals readiness and feeds the watchdog when eckod runs as
// a Type=notify unit. Outside systemd both calls are no-ops.
func (a *App) notifySystemd(ctx context.Context) {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}

func notifyConfig(nc *config.NotifyConfig) (notify.Config, error) {
	if nc == nil {
		return notify.Config{}, nil
	}
	retryBase, err := config.ParseDurationField("notify.retry_base", nc.RetryBase)
	if err != nil {
		return notify.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("notify.retry_max_delay", nc.RetryMaxDelay)
	if err != nil {
		return notify.Config{}, err
	}
	retention, err := config.ParseDurationOrDefault("notify.retention", nc.Retention, 7*24*time.Hour)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		Title:         nc.Title,
		RingCapacity:  nc.RingCapacity,
		Workers:       nc.Workers,
		QueueSize:     nc.QueueSize,
		RatePerSec:    nc.RatePerSec,
		RetryMax:      nc.RetryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,
		Retention:     retention,
	}, nil
}
