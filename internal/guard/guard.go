package guard

import (
	"context"
	"errors"
	"sync"
)

// ErrLocked is returned when another pass already holds the named guard.
var ErrLocked = errors.New("guard held by another pass")

// Guard gives non-blocking mutual exclusion per name. The returned release
// func must be called exactly once.
type Guard interface {
	TryAcquire(ctx context.Context, name string) (release func(), err error)
}

// Local is an in-process Guard.
type Local struct {
	mu   sync.Mutex
	sems map[string]chan struct{}
}

func NewLocal() *Local {
	return &Local{sems: map[string]chan struct{}{}}
}

var _ Guard = (*Local)(nil)

func (g *Local) TryAcquire(ctx context.Context, name string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	sem, ok := g.sems[name]
	if !ok {
		sem = make(chan struct{}, 1)
		g.sems[name] = sem
	}
	g.mu.Unlock()

	select {
	case sem <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-sem }) }, nil
	default:
		return nil, ErrLocked
	}
}
