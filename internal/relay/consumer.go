package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/orrn/labelrelay/internal/core"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OrderRunner prints a whole order. *core.Engine satisfies it.
type OrderRunner interface {
	Dispatch(ctx context.Context, order *core.Order) (*core.Summary, error)
}

// Resumer re-dispatches attempts that a dead dispatch left pending.
type Resumer interface {
	ResumePending(ctx context.Context) (*core.Summary, error)
}

// Worker consumes published orders and runs them through the engine one
// order at a time. Unit-level concurrency comes from the engine's scheduler.
type Worker struct {
	reader      messageReader
	runner      OrderRunner
	resumer     Resumer
	resumeEvery time.Duration
	log         *logrus.Entry
}

// NewWorker builds a group consumer. resumer may be nil.
func NewWorker(cfg Config, runner OrderRunner, resumer Resumer, log *logrus.Entry) *Worker {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	w := newWorker(r, runner, log)
	w.resumer = resumer
	w.resumeEvery = cfg.ResumeInterval
	return w
}

func newWorker(r messageReader, runner OrderRunner, log *logrus.Entry) *Worker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Worker{reader: r, runner: runner, log: log}
}

// Run blocks until ctx is cancelled or the reader fails. A message is
// committed once its order has been dispatched; undecodable or invalid
// messages are committed and dropped. With a resumer set, abandoned pending
// attempts are swept on start and then every resume interval.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started")

	if w.resumer != nil {
		var wg sync.WaitGroup
		defer wg.Wait()
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()

		wg.Add(1)
		go func() {
			defer wg.Done()
			w.resumeLoop(ctx)
		}()
	}

	for {
		m, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				w.log.Info("worker stopped")
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		if err := w.handle(ctx, m); err != nil {
			if ctx.Err() != nil {
				w.log.Info("worker stopped mid-order, message left uncommitted")
				return nil
			}
			w.log.WithError(err).WithField("offset", m.Offset).Error("order dispatch failed, leaving message uncommitted")
			continue
		}

		if err := w.reader.CommitMessages(ctx, m); err != nil {
			w.log.WithError(err).WithField("offset", m.Offset).Warn("failed to commit message")
		}
	}
}

func (w *Worker) resumeLoop(ctx context.Context) {
	w.resume(ctx)
	if w.resumeEvery <= 0 {
		return
	}

	ticker := time.NewTicker(w.resumeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.resume(ctx)
		}
	}
}

func (w *Worker) resume(ctx context.Context) {
	summary, err := w.resumer.ResumePending(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.WithError(err).Error("failed to resume pending attempts")
		}
		return
	}
	if n := summary.Printed + summary.Failed; n > 0 {
		w.log.WithFields(logrus.Fields{
			"printed": summary.Printed,
			"failed":  summary.Failed,
		}).Info("resumed pending attempts")
	}
}

func (w *Worker) handle(ctx context.Context, m kafka.Message) error {
	order, err := core.ParseOrder(m.Value)
	if err != nil {
		w.log.WithError(err).WithField("offset", m.Offset).Warn("dropping undecodable order message")
		return nil
	}

	summary, err := w.runner.Dispatch(ctx, order)
	if err != nil {
		return err
	}
	w.log.WithFields(logrus.Fields{
		"order_id": summary.OrderID,
		"printed":  summary.Printed,
		"failed":   summary.Failed,
	}).Info("order consumed")
	return nil
}

func (w *Worker) Close() error {
	return w.reader.Close()
}
