package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/outreach-scheduler/internal/kafka"
	"github.com/jmehdipour/outreach-scheduler/internal/model"
	"github.com/jmehdipour/outreach-scheduler/internal/service/outreach"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrSkip marks a message that can never be handled; it is committed and dropped.
var ErrSkip = errors.New("skip message")

type MessageSource interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

type Handler func(ctx context.Context, value []byte) error

type Responder interface {
	MarkResponded(ctx context.Context, externalID string, at time.Time) (bool, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, externalID, displayName string) (model.PendingEnrollment, error)
}

// ResponseHandler decodes model.ResponseEvent values and marks the contact responded.
func ResponseHandler(svc Responder) Handler {
	return func(ctx context.Context, value []byte) error {
		var ev model.ResponseEvent
		if err := json.Unmarshal(value, &ev); err != nil {
			return fmt.Errorf("%w: bad response json: %v", ErrSkip, err)
		}
		if ev.ExternalID == "" {
			return fmt.Errorf("%w: response missing external_id", ErrSkip)
		}
		_, err := svc.MarkResponded(ctx, ev.ExternalID, ev.At)
		if errors.Is(err, outreach.ErrContactNotFound) {
			return fmt.Errorf("%w: %v", ErrSkip, err)
		}
		return err
	}
}

// EnrollmentHandler decodes model.EnrollmentEvent values and enqueues them.
func EnrollmentHandler(svc Enqueuer) Handler {
	return func(ctx context.Context, value []byte) error {
		var ev model.EnrollmentEvent
		if err := json.Unmarshal(value, &ev); err != nil {
			return fmt.Errorf("%w: bad enrollment json: %v", ErrSkip, err)
		}
		_, err := svc.Enqueue(ctx, ev.ExternalID, ev.DisplayName)
		if errors.Is(err, outreach.ErrInvalidInput) {
			return fmt.Errorf("%w: %v", ErrSkip, err)
		}
		return err
	}
}

// Listener fetches messages from a topic, hands them to Handle and commits.
// Failed handles are retried a few times before the message is committed
// anyway, so one bad record cannot stall the partition.
type Listener struct {
	Source   MessageSource
	Handle   Handler
	Name     string
	Workers  int
	Attempts int
	Backoff  time.Duration
	Log      *zap.Logger
}

func NewListener(name string, src MessageSource, h Handler, log *zap.Logger) *Listener {
	if log == nil {
		log = zap.NewNop()
	}
	return &Listener{
		Source:   src,
		Handle:   h,
		Name:     name,
		Workers:  4,
		Attempts: 3,
		Backoff:  200 * time.Millisecond,
		Log:      log.With(zap.String("listener", name)),
	}
}

// Run starts the listener and blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	if l.Source == nil || l.Handle == nil {
		return errors.New("listener: source and handler are required")
	}
	if l.Workers <= 0 {
		l.Workers = 1
	}
	if l.Attempts <= 0 {
		l.Attempts = 1
	}

	msgCh := make(chan kafka.Message, l.Workers*2)
	g, ctx := errgroup.WithContext(ctx)

	// Fetcher
	g.Go(func() error {
		defer close(msgCh)
		for {
			m, err := l.Source.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				l.Log.Warn("kafka fetch failed", zap.Error(err))
				if err := sleep(ctx, l.Backoff, nil, nil); err != nil {
					return nil
				}
				continue
			}
			select {
			case msgCh <- m:
			case <-ctx.Done():
				return nil
			}
		}
	})

	// Processors
	for i := 0; i < l.Workers; i++ {
		g.Go(func() error {
			for m := range msgCh {
				l.processOne(ctx, m)
			}
			return nil
		})
	}

	l.Log.Info("listener started", zap.Int("workers", l.Workers))
	return g.Wait()
}

func (l *Listener) processOne(ctx context.Context, m kafka.Message) {
	var err error
	for attempt := 1; attempt <= l.Attempts; attempt++ {
		err = l.Handle(ctx, m.Value)
		if err == nil || errors.Is(err, ErrSkip) || ctx.Err() != nil {
			break
		}
		l.Log.Warn("handle failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt < l.Attempts {
			_ = sleep(ctx, l.Backoff*time.Duration(attempt), nil, nil)
		}
	}
	if ctx.Err() != nil {
		// not committed; redelivered after restart
		return
	}
	if err != nil {
		l.Log.Error("message dropped",
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Error(err),
		)
	}

	if err := l.Source.Commit(ctx, m); err != nil {
		l.Log.Warn("kafka commit failed", zap.Error(err))
	}
}
