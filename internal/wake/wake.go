package wake

import (
	"context"
	"errors"
	"sync"
)

// Reason says why a loop is woken early.
type Reason string

const (
	Enrollment Reason = "enrollment"
	Scheduled  Reason = "scheduled" // entries were created; only dispatch cares
	Ban        Reason = "ban"
	Unban      Reason = "unban"
	Settings   Reason = "settings"
	Response   Reason = "response"
)

// Notifier is implemented by every wake transport.
type Notifier interface {
	Notify(ctx context.Context, r Reason) error
}

// Local fans wake reasons out to in-process subscribers. Each subscriber
// channel holds one pending reason; further notifications coalesce.
type Local struct {
	mu   sync.Mutex
	subs map[chan Reason]struct{}
}

func NewLocal() *Local {
	return &Local{subs: map[chan Reason]struct{}{}}
}

var _ Notifier = (*Local)(nil)

// Subscribe returns a channel of wake reasons and a func that removes it.
func (l *Local) Subscribe() (<-chan Reason, func()) {
	ch := make(chan Reason, 1)
	l.mu.Lock()
	l.subs[ch] = struct{}{}
	l.mu.Unlock()

	return ch, func() {
		l.mu.Lock()
		delete(l.subs, ch)
		l.mu.Unlock()
	}
}

func (l *Local) Notify(_ context.Context, r Reason) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ch := range l.subs {
		select {
		case ch <- r:
		default:
		}
	}
	return nil
}

// Multi notifies every transport in order and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, r Reason) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
