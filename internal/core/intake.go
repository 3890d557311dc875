package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

type IntakeResult struct {
	OrderID   string `json:"order_id"`
	Duplicate bool   `json:"duplicate"`
	Units     int    `json:"units"`
}

// Intake is the idempotency gate in front of the engine. It never waits for
// printing: accepted orders are handed to the dispatcher and forgotten.
type Intake struct {
	repo       Repository
	gate       Gate
	dispatcher Dispatcher
	log        *logrus.Entry
}

func NewIntake(repo Repository, gate Gate, dispatcher Dispatcher, log *logrus.Entry) *Intake {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Intake{repo: repo, gate: gate, dispatcher: dispatcher, log: log}
}

func (i *Intake) Accept(ctx context.Context, body []byte) (*IntakeResult, error) {
	order, err := ParseOrder(body)
	if err != nil {
		return nil, err
	}
	return i.AcceptOrder(ctx, order)
}

func (i *Intake) AcceptOrder(ctx context.Context, order *Order) (*IntakeResult, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}
	number := order.Number()
	log := i.log.WithField("order_id", number)
	res := &IntakeResult{OrderID: number, Units: order.Units()}

	existing, err := i.repo.FindByOrder(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("failed to check order %s: %w", number, err)
	}
	if len(existing) > 0 {
		log.Info("duplicate order ignored")
		res.Duplicate = true
		return res, nil
	}

	if i.gate != nil {
		claimed, err := i.gate.Claim(ctx, number)
		if err != nil {
			return nil, fmt.Errorf("failed to claim order %s: %w", number, err)
		}
		if !claimed {
			log.Info("order already claimed, ignoring redelivery")
			res.Duplicate = true
			return res, nil
		}
	}

	if err := i.dispatcher.Dispatch(ctx, order); err != nil {
		if i.gate != nil {
			if rerr := i.gate.Release(context.Background(), number); rerr != nil {
				log.WithError(rerr).Warn("failed to release order claim")
			}
		}
		return nil, fmt.Errorf("failed to dispatch order %s: %w", number, err)
	}

	log.WithField("units", res.Units).Info("order accepted")
	return res, nil
}

// BackgroundDispatcher runs the engine in a detached goroutine per order.
type BackgroundDispatcher struct {
	engine *Engine
	log    *logrus.Entry
	wg     sync.WaitGroup
}

func NewBackgroundDispatcher(engine *Engine, log *logrus.Entry) *BackgroundDispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &BackgroundDispatcher{engine: engine, log: log}
}

func (d *BackgroundDispatcher) Dispatch(_ context.Context, order *Order) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.log.WithField("order_id", order.Number()).WithField("panic", fmt.Sprint(r)).Error("order dispatch panicked")
			}
		}()
		// The request context is gone by now; the order runs to completion.
		if _, err := d.engine.Dispatch(context.Background(), order); err != nil {
			d.log.WithError(err).WithField("order_id", order.Number()).Error("order dispatch aborted")
		}
	}()
	return nil
}

// Wait blocks until every detached dispatch has finished.
func (d *BackgroundDispatcher) Wait() {
	d.wg.Wait()
}
