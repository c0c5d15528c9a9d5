package worker

import (
	"context"
	"errors"
	"time"

	"github.com/jmehdipour/outreach-scheduler/internal/dispatcher"
	"github.com/jmehdipour/outreach-scheduler/internal/guard"
	"github.com/jmehdipour/outreach-scheduler/internal/wake"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Enroller interface {
	ProcessPending(ctx context.Context, now time.Time) (int, error)
}

type Sender interface {
	Tick(ctx context.Context, now time.Time) (dispatcher.Result, error)
	NextWake(ctx context.Context, now time.Time) (time.Time, error)
}

// Engine runs the enrollment and dispatch loops until ctx is cancelled.
// Both loops sleep on a timer that any wake reason cuts short.
type Engine struct {
	Enroller       Enroller
	Sender         Sender
	Wake           *wake.Local
	EnrollInterval time.Duration
	Now            func() time.Time
	Log            *zap.Logger
}

func NewEngine(enroller Enroller, sender Sender, w *wake.Local, enrollInterval time.Duration, log *zap.Logger) *Engine {
	if enrollInterval <= 0 {
		enrollInterval = time.Minute
	}
	if w == nil {
		w = wake.NewLocal()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		Enroller:       enroller,
		Sender:         sender,
		Wake:           w,
		EnrollInterval: enrollInterval,
		Now:            time.Now,
		Log:            log,
	}
}

// Run blocks until ctx is done. Cancellation is a clean exit.
func (e *Engine) Run(ctx context.Context) error {
	enrollCh, unsubEnroll := e.Wake.Subscribe()
	defer unsubEnroll()
	dispatchCh, unsubDispatch := e.Wake.Subscribe()
	defer unsubDispatch()

	e.Log.Info("scheduler engine started", zap.Duration("enroll_interval", e.EnrollInterval))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.enrollLoop(ctx, enrollCh) })
	g.Go(func() error { return e.dispatchLoop(ctx, dispatchCh) })

	err := g.Wait()
	e.Log.Info("scheduler engine stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (e *Engine) enrollLoop(ctx context.Context, wakeCh <-chan wake.Reason) error {
	for {
		e.safe(ctx, "enrollment", func(ctx context.Context) {
			n, err := e.Enroller.ProcessPending(ctx, e.Now())
			switch {
			case errors.Is(err, guard.ErrLocked):
				e.Log.Debug("enrollment pass skipped, guard held")
			case err != nil:
				e.Log.Error("enrollment pass failed", zap.Error(err))
			case n > 0:
				// new entries may be due before the dispatch loop's next wake
				_ = e.Wake.Notify(ctx, wake.Scheduled)
			}
		})

		if err := sleep(ctx, e.EnrollInterval, wakeCh, e.wakeFilter(wake.Enrollment, wake.Settings)); err != nil {
			return err
		}
	}
}

func (e *Engine) dispatchLoop(ctx context.Context, wakeCh <-chan wake.Reason) error {
	for {
		e.safe(ctx, "dispatch", func(ctx context.Context) {
			res, err := e.Sender.Tick(ctx, e.Now())
			switch {
			case errors.Is(err, guard.ErrLocked):
				e.Log.Debug("dispatch tick skipped, guard held")
			case err != nil:
				e.Log.Error("dispatch tick failed", zap.Error(err))
			case res.Processed > 0 || res.RateLimited:
				e.Log.Info("dispatch tick",
					zap.Int("processed", res.Processed),
					zap.Bool("rate_limited", res.RateLimited),
				)
			}
		})

		now := e.Now()
		next, err := e.Sender.NextWake(ctx, now)
		if err != nil && ctx.Err() == nil {
			e.Log.Error("next wake failed", zap.Error(err))
		}
		if err := sleep(ctx, next.Sub(now), wakeCh, nil); err != nil {
			return err
		}
	}
}

// wakeFilter accepts only the given reasons.
func (e *Engine) wakeFilter(reasons ...wake.Reason) func(wake.Reason) bool {
	return func(r wake.Reason) bool {
		for _, want := range reasons {
			if r == want {
				return true
			}
		}
		return false
	}
}

// sleep waits for d, a wake reason accepted by accept (nil accepts all), or
// ctx. It returns ctx.Err() on cancellation.
func sleep(ctx context.Context, d time.Duration, wakeCh <-chan wake.Reason, accept func(wake.Reason) bool) error {
	timer := time.NewTimer(max(d, 0))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case r := <-wakeCh:
			if accept == nil || accept(r) {
				return nil
			}
		}
	}
}

func (e *Engine) safe(ctx context.Context, name string, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			e.Log.Error("loop pass panic recovered", zap.String("loop", name), zap.Any("panic", r))
		}
	}()

	start := time.Now()
	fn(ctx)
	e.Log.Debug("loop pass completed", zap.String("loop", name), zap.Int64("duration_ms", time.Since(start).Milliseconds()))
}
