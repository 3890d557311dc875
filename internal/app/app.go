// Package app assembles the relay from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/orrn/labelrelay/internal/api"
	"github.com/orrn/labelrelay/internal/config"
	"github.com/orrn/labelrelay/internal/core"
	"github.com/orrn/labelrelay/internal/db"
	"github.com/orrn/labelrelay/internal/db/memstore"
	"github.com/orrn/labelrelay/internal/db/pgstore"
	"github.com/orrn/labelrelay/internal/gate"
	"github.com/orrn/labelrelay/internal/label"
	"github.com/orrn/labelrelay/internal/logging"
	"github.com/orrn/labelrelay/internal/printvendor"
	"github.com/orrn/labelrelay/internal/relay"
)

type App struct {
	Config    *config.Config
	Store     core.Store
	Gate      core.Gate
	Scheduler *core.Scheduler
	Engine    *core.Engine
	Retrier   *core.Retrier
	Intake    *core.Intake

	background *core.BackgroundDispatcher
	producer   *relay.Producer
	closers    []func() error
	log        *logrus.Logger
	nowFunc    func() time.Time
}

// OpenStore picks the storage backend named by the database driver.
func OpenStore(cfg config.DatabaseConfig) (core.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memstore.New(), nil
	case config.DriverPostgres:
		s, err := pgstore.Open(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverSQLite, "":
		s, err := db.Open(db.Config{Path: cfg.Path})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

// New wires the processing core. The store is opened here and closed by Close.
func New(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	store, err := OpenStore(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return NewWithStore(ctx, cfg, store, log)
}

func NewWithStore(ctx context.Context, cfg *config.Config, store core.Store, log *logrus.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Store:   store,
		log:     log,
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
	a.closers = append(a.closers, store.Close)

	if cfg.Redis.Addr != "" {
		g, err := gate.DialRedis(ctx, gate.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.ClaimTTL,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Gate = g
		a.closers = append(a.closers, g.Close)
	} else {
		a.Gate = gate.NewMemoryGate(cfg.Redis.ClaimTTL)
	}

	renderer := label.NewPDFRenderer(label.Layout{
		WidthMM:  cfg.Label.WidthMM,
		HeightMM: cfg.Label.HeightMM,
		MarginMM: cfg.Label.MarginMM,
	})
	submitter := printvendor.NewClient(printvendor.Config{
		BaseURL:   cfg.Vendor.BaseURL,
		APIKey:    cfg.Vendor.APIKey,
		PrinterID: cfg.Vendor.PrinterID,
		Auth:      printvendor.AuthMode(cfg.Vendor.Auth),
		Timeout:   cfg.Vendor.Timeout,
	})

	a.Scheduler = core.NewScheduler(cfg.Dispatch.Concurrency)
	a.Engine = core.NewEngine(store, renderer, submitter, a.Scheduler,
		core.EngineConfig{Pacing: cfg.Dispatch.Pacing}, logging.Component(log, "engine"))
	a.Retrier = core.NewRetrier(store, a.Engine,
		core.RetryConfig{StaleAfter: cfg.Dispatch.StaleAfter}, logging.Component(log, "retry"))

	var dispatcher core.Dispatcher
	if cfg.Dispatch.Mode == config.ModeKafka {
		a.producer = relay.NewProducer(a.kafkaConfig(), logging.Component(log, "relay-producer"))
		a.closers = append(a.closers, a.producer.Close)
		dispatcher = a.producer
	} else {
		a.background = core.NewBackgroundDispatcher(a.Engine, logging.Component(log, "dispatcher"))
		dispatcher = a.background
	}
	a.Intake = core.NewIntake(store, a.Gate, dispatcher, logging.Component(log, "intake"))

	return a, nil
}

func (a *App) kafkaConfig() relay.Config {
	return relay.Config{
		Brokers:        a.Config.Kafka.Brokers,
		Topic:          a.Config.Kafka.Topic,
		GroupID:        a.Config.Kafka.GroupID,
		ResumeInterval: a.Config.Dispatch.ResumeInterval,
	}
}

func (a *App) Router() *gin.Engine {
	return api.NewRouter(api.RouterConfig{
		OrderSecret:  a.Config.Webhook.Secret,
		VendorSecret: a.Config.Webhook.VendorSecret,
		VendorHeader: a.Config.Webhook.VendorHeader,
	}, api.Deps{
		Intake:    a.Intake,
		Repo:      a.Store,
		Events:    a.Store,
		Retrier:   a.Retrier,
		Scheduler: a.Scheduler,
	}, logrus.NewEntry(a.log))
}

// NewWorker returns a consumer that prints orders published by a relay in
// kafka dispatch mode.
func (a *App) NewWorker() *relay.Worker {
	var resumer relay.Resumer
	if a.Config.Dispatch.ResumePending {
		resumer = a
	}
	return relay.NewWorker(a.kafkaConfig(), a.Engine, resumer, logging.Component(a.log, "relay-worker"))
}

// ResumePending re-dispatches attempts left pending and untouched for longer
// than the stale threshold, whichever process created them.
func (a *App) ResumePending(ctx context.Context) (*core.Summary, error) {
	if !a.Config.Dispatch.ResumePending {
		return &core.Summary{}, nil
	}
	staleAfter := a.Config.Dispatch.StaleAfter
	if staleAfter <= 0 {
		staleAfter = core.DefaultStaleAfter
	}
	return a.Retrier.ResumePending(ctx, a.nowFunc().Add(-staleAfter), a.Config.Dispatch.ResumeLimit)
}

// ResumeLoop sweeps for abandoned pending attempts now and then every resume
// interval until ctx is done.
func (a *App) ResumeLoop(ctx context.Context) {
	log := logging.Component(a.log, "resume")
	sweep := func() {
		summary, err := a.ResumePending(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Error("failed to resume pending attempts")
			}
			return
		}
		if n := summary.Printed + summary.Failed; n > 0 {
			log.WithField("printed", summary.Printed).WithField("failed", summary.Failed).Info("resumed pending attempts")
		}
	}

	sweep()
	if a.Config.Dispatch.ResumeInterval <= 0 {
		return
	}
	ticker := time.NewTicker(a.Config.Dispatch.ResumeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// Drain waits for in-process dispatches started by webhooks.
func (a *App) Drain() {
	if a.background != nil {
		a.background.Wait()
	}
}

func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
