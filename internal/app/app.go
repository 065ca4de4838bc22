package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"autopost/internal/config"
	"autopost/internal/health"
	"autopost/internal/metrics"
	"autopost/internal/ops"
	"autopost/internal/poster"
	"autopost/internal/publisher"
	"autopost/internal/publisher/telegram"
	"autopost/internal/scheduler"
	"autopost/internal/store"
	logx "autopost/pkg/logx"
)

// App wires the store, scheduler, executor and operational endpoints
// together and drives them from cron triggers.
type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	st   store.Store
	met  *metrics.Metrics
	rep  *health.Reporter
	opsS *ops.Server

	sched *scheduler.Scheduler
	exec  *poster.Executor

	cron *cron.Cron

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{cfgMgr: mgr, logSvc: logSvc, log: log}
	if err := a.build(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return err
	}
	st, err := store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		URL:         cfg.Storage.URL,
		BusyTimeout: busy,
	}, a.log.With(logx.String("comp", "store")))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.st = st
	a.met = metrics.New()
	a.rep = health.NewReporter(st, a.log.With(logx.String("comp", "health")), a.met)
	a.opsS = ops.NewServer(a.rep, a.met, a.log)

	slotTimes, err := cfg.Schedule.Times()
	if err != nil {
		return err
	}
	loc, err := cfg.Schedule.Location()
	if err != nil {
		return err
	}
	lookback, err := cfg.Schedule.LookbackWindow()
	if err != nil {
		return err
	}
	a.sched = scheduler.New(st, st, scheduler.Options{
		Days:      cfg.Schedule.Days(),
		SlotTimes: slotTimes,
		Location:  loc,
		Lookback:  lookback,
	}, a.log.With(logx.String("comp", "scheduler")), a.met)

	pub, err := buildPublisher(cfg, a.log)
	if err != nil {
		return err
	}
	if pub != nil {
		grace, err := cfg.Posting.GraceWindow()
		if err != nil {
			return err
		}
		timeout, err := cfg.Posting.Timeout()
		if err != nil {
			return err
		}
		a.exec = poster.New(st, st, pub, poster.Options{
			Grace:          grace,
			PublishTimeout: timeout,
			Enforce:        cfg.Posting.EnforceSlotQueue,
		}, a.log.With(logx.String("comp", "poster")), a.met)
	} else {
		a.log.Warn("no publisher configured; running in scheduling-only mode")
	}

	a.cron = cron.New(cron.WithLocation(loc))
	return nil
}

func buildPublisher(cfg *config.Config, log logx.Logger) (publisher.Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Publisher.Driver)) {
	case "telegram":
		tg := cfg.Publisher.Telegram
		timeout, err := cfg.Posting.Timeout()
		if err != nil {
			return nil, err
		}
		return telegram.New(telegram.Config{
			Token:      tg.Token,
			ChatID:     tg.ChatID,
			RatePerSec: tg.RatePerSec,
			Timeout:    timeout,
		}, log.With(logx.String("comp", "telegram")))
	case "", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown publisher driver %q", cfg.Publisher.Driver)
	}
}

// Start registers cron jobs and background workers. It returns once
// everything is running.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	cfg := a.cfgMgr.Get()

	// Daily batch scheduling.
	h, m, err := config.ParseHHMM(cfg.Schedule.DailyTrigger())
	if err != nil {
		return err
	}
	if _, err := a.cron.AddFunc(fmt.Sprintf("%d %d * * *", m, h), a.scheduleTick); err != nil {
		return fmt.Errorf("register scheduling job: %w", err)
	}

	// Frequent posting tick.
	if a.exec != nil {
		interval, err := cfg.Posting.RunInterval()
		if err != nil {
			return err
		}
		if _, err := a.cron.AddFunc(fmt.Sprintf("@every %s", interval), a.postTick); err != nil {
			return fmt.Errorf("register posting job: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.opsS.Apply(runCtx, cfg.Ops)

	// React to config file edits (logging and ops only; storage and
	// cadence changes need a restart).
	sub := a.cfgMgr.Subscribe(1)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		_ = a.cfgMgr.Watch(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		defer a.cfgMgr.Unsubscribe(sub)
		prev := cfg
		for {
			select {
			case <-runCtx.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				changed, attrs := config.SummarizeChange(prev, newCfg)
				if len(changed) > 0 {
					a.log.Info("config changed",
						append([]logx.Field{logx.String("sections", strings.Join(changed, ","))}, attrs...)...)
				}
				a.logSvc.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})
				a.opsS.Apply(runCtx, newCfg.Ops)
				prev = newCfg
			}
		}
	}()

	a.cron.Start()

	// Fill upcoming slots right away so a fresh deployment doesn't wait
	// for the daily trigger.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.scheduleTick()
	}()

	a.started = true
	a.log.Info("started",
		logx.String("daily_at", cfg.Schedule.DailyTrigger()),
		logx.Bool("posting", a.exec != nil),
	)
	return nil
}

func (a *App) scheduleTick() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	res, err := a.RunSchedulerOnce(ctx)
	if err != nil {
		a.log.Error("scheduling run failed", logx.Err(err))
		return
	}
	for _, derr := range res.Errors {
		a.log.Error("scheduling day failed", logx.Err(derr))
	}
}

func (a *App) postTick() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res, err := a.RunPosterOnce(ctx)
	switch {
	case errors.Is(err, poster.ErrEnforcementDisabled):
		a.log.Warn("posting skipped: enforcement disabled")
	case err != nil:
		a.log.Error("posting run failed", logx.Err(err))
	case res.Outcome == poster.OutcomeEmptySlot:
		a.log.Warn("due slot has no content", logx.Int64("slot_id", res.SlotID))
	}
}

// RunSchedulerOnce triggers one batch scheduling run.
func (a *App) RunSchedulerOnce(ctx context.Context) (scheduler.Result, error) {
	return a.sched.Run(ctx, time.Now())
}

// RunPosterOnce triggers one posting invocation.
func (a *App) RunPosterOnce(ctx context.Context) (poster.Result, error) {
	if a.exec == nil {
		return poster.Result{}, errors.New("no publisher configured")
	}
	return a.exec.RunOnce(ctx, time.Now())
}

// Health returns the current health report.
func (a *App) Health(ctx context.Context) health.Report {
	return a.rep.Report(ctx, time.Now())
}

// Stop shuts down cron jobs, the ops listener and storage. Safe to call
// whether or not Start ran (one-shot invocations still need cleanup).
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true

	if a.started {
		a.started = false

		stopCtx := a.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
			// best-effort
		}

		if a.cancel != nil {
			a.cancel()
		}
		a.wg.Wait()
		a.opsS.Stop(ctx)
	}

	if err := a.st.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	_ = a.logSvc.Close()
	return nil
}
