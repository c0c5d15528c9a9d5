package dispatcher

import (
	"sync"
	"time"
)

type breakerState int

const (
	closed breakerState = iota
	open
	halfOpen
)

// MicroBreaker stops calling a provider that keeps failing. It opens after
// threshold consecutive transient failures and lets a single trial through
// once cooldown has passed. Only transport health counts: rejected
// recipients and rate limits end a trial via OnRelease.
type MicroBreaker struct {
	mu        sync.Mutex
	st        breakerState
	failures  int
	threshold int
	cooldown  time.Duration
	retryAt   time.Time
	trialing  bool
	now       func() time.Time
}

func NewMicroBreaker(threshold int, cooldown time.Duration) *MicroBreaker {
	return &MicroBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Ready reports whether TryAcquire would currently succeed.
func (b *MicroBreaker) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.admits()
}

// TryAcquire admits a call. In the open state the first call after the
// cooldown becomes the trial.
func (b *MicroBreaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.admits() {
		return false
	}
	if b.st != closed {
		b.st = halfOpen
		b.trialing = true
	}
	return true
}

func (b *MicroBreaker) admits() bool {
	switch b.st {
	case open:
		return !b.trialing && b.now().After(b.retryAt)
	case halfOpen:
		return !b.trialing
	default:
		return true
	}
}

func (b *MicroBreaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

func (b *MicroBreaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.st == halfOpen || b.failures >= b.threshold {
		b.st = open
		b.retryAt = b.now().Add(b.cooldown)
		b.trialing = false
	}
}

// OnRelease ends a call without judging the provider's health.
func (b *MicroBreaker) OnRelease() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.st == halfOpen {
		b.reset()
		return
	}
	b.trialing = false
}

func (b *MicroBreaker) reset() {
	b.st = closed
	b.failures = 0
	b.trialing = false
}
