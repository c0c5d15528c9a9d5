package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/outreach-scheduler/internal/ban"
	"github.com/jmehdipour/outreach-scheduler/internal/guard"
	"github.com/jmehdipour/outreach-scheduler/internal/model"
	"github.com/jmehdipour/outreach-scheduler/internal/repository"
	"github.com/jmehdipour/outreach-scheduler/internal/schedule"
	"go.uber.org/zap/zaptest"
)

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type sentMessage struct {
	recipient string
	text      string
}

type fakeProvider struct {
	mu    sync.Mutex
	sent  []sentMessage
	errs  map[string]error // by recipient
	calls int
}

var _ Provider = (*fakeProvider)(nil)

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Send(_ context.Context, recipient, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if err := p.errs[recipient]; err != nil {
		return err
	}
	p.sent = append(p.sent, sentMessage{recipient: recipient, text: text})
	return nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type env struct {
	store    *repository.MemoryStore
	provider *fakeProvider
	guard    *guard.Local
	disp     *Dispatcher

	firstTpl, secondTpl int64
	contacts            map[string]int64
}

func newEnv(t *testing.T) *env {
	t.Helper()

	params := schedule.DefaultParams()
	e := &env{
		store:    repository.NewMemoryStore(),
		provider: &fakeProvider{errs: map[string]error{}},
		guard:    guard.NewLocal(),
		contacts: map[string]int64{},
	}
	e.disp = NewDispatcher(
		e.store, e.provider,
		ban.NewCoordinator(params, zaptest.NewLogger(t)),
		e.guard, params,
		Config{Concurrency: 1, MaxIdleSleep: 10 * time.Minute, MinSleep: time.Second},
		zaptest.NewLogger(t),
	)
	e.tx(t, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.SaveSettings(ctx, model.DefaultSettings()); err != nil {
			return err
		}
		first := &model.MessageTemplate{Text: "hello"}
		if err := tx.CreateTemplate(ctx, first); err != nil {
			return err
		}
		second := &model.MessageTemplate{Text: "still there?", IsSecondTouch: true}
		if err := tx.CreateTemplate(ctx, second); err != nil {
			return err
		}
		e.firstTpl, e.secondTpl = first.ID, second.ID
		return nil
	})
	return e
}

func (e *env) tx(t *testing.T, fn func(ctx context.Context, tx repository.Tx) error) {
	t.Helper()
	ctx := context.Background()
	if err := e.store.InTx(ctx, func(tx repository.Tx) error { return fn(ctx, tx) }); err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func (e *env) schedule(t *testing.T, id, recipient string, kind model.TouchKind, at time.Time) {
	t.Helper()
	e.tx(t, func(ctx context.Context, tx repository.Tx) error {
		cid, ok := e.contacts[recipient]
		if !ok {
			c := &model.Contact{ExternalID: recipient}
			if err := tx.CreateContact(ctx, c); err != nil {
				return err
			}
			cid = c.ID
			e.contacts[recipient] = cid
		}
		tpl := e.firstTpl
		if kind == model.TouchSecond {
			tpl = e.secondTpl
		}
		return tx.CreateEntry(ctx, model.ScheduleEntry{ID: id, ContactID: cid, TemplateID: tpl, Kind: kind, ScheduledTime: at})
	})
}

func (e *env) entry(t *testing.T, id string) model.ScheduleEntry {
	t.Helper()
	var out *model.ScheduleEntry
	e.tx(t, func(ctx context.Context, tx repository.Tx) error {
		var err error
		out, err = tx.GetEntry(ctx, id)
		return err
	})
	if out == nil {
		t.Fatalf("entry %s missing", id)
	}
	return *out
}

func (e *env) contact(t *testing.T, recipient string) model.Contact {
	t.Helper()
	var out *model.Contact
	e.tx(t, func(ctx context.Context, tx repository.Tx) error {
		var err error
		out, err = tx.GetContact(ctx, e.contacts[recipient])
		return err
	})
	return *out
}

func (e *env) state(t *testing.T) model.ProviderState {
	t.Helper()
	var st model.ProviderState
	e.tx(t, func(ctx context.Context, tx repository.Tx) error {
		var err error
		st, err = tx.GetProviderState(ctx)
		return err
	})
	return st
}

func (e *env) tick(t *testing.T, now time.Time) Result {
	t.Helper()
	res, err := e.disp.Tick(context.Background(), now)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	return res
}

func TestTick_Delivered(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.schedule(t, "a", "@alice", model.TouchFirst, t0.Add(-time.Minute))

	res := e.tick(t, t0)
	if res.Processed != 1 || res.RateLimited || res.Skipped {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(e.provider.sent) != 1 || e.provider.sent[0] != (sentMessage{recipient: "@alice", text: "hello"}) {
		t.Fatalf("unexpected sends %+v", e.provider.sent)
	}

	got := e.entry(t, "a")
	if !got.Sent || got.Outcome != model.OutcomeDelivered || !got.SentAt.Equal(t0) {
		t.Fatalf("unexpected entry %+v", got)
	}
	if c := e.contact(t, "@alice"); c.LastMessageTime == nil || !c.LastMessageTime.Equal(t0) {
		t.Fatalf("last message time not recorded: %+v", c)
	}

	// a second tick has nothing left to do
	if res := e.tick(t, t0.Add(time.Second)); res.Processed != 0 {
		t.Fatalf("expected idle tick, got %+v", res)
	}
	if e.provider.callCount() != 1 {
		t.Fatalf("entry sent twice")
	}
}

func TestTick_SuppressesAnsweredSecondTouch(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.schedule(t, "s", "@bob", model.TouchSecond, t0)
	e.tx(t, func(ctx context.Context, tx repository.Tx) error {
		c, err := tx.GetContact(ctx, e.contacts["@bob"])
		if err != nil {
			return err
		}
		c.Responded = true
		return tx.UpdateContact(ctx, *c)
	})

	if res := e.tick(t, t0); res.Processed != 1 {
		t.Fatalf("expected 1 processed, got %+v", res)
	}
	if e.provider.callCount() != 0 {
		t.Fatalf("suppressed touch must not be sent")
	}
	if got := e.entry(t, "s"); !got.Sent || got.Outcome != model.OutcomeSuppressed {
		t.Fatalf("unexpected entry %+v", got)
	}
}

func TestTick_InvalidRecipient(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.provider.errs["@gone"] = ErrInvalidRecipient
	e.schedule(t, "x", "@gone", model.TouchFirst, t0)

	if res := e.tick(t, t0); res.Processed != 1 {
		t.Fatalf("expected 1 processed, got %+v", res)
	}
	if got := e.entry(t, "x"); !got.Sent || got.Outcome != model.OutcomeInvalidRecipient {
		t.Fatalf("unexpected entry %+v", got)
	}
	if c := e.contact(t, "@gone"); c.LastMessageTime != nil {
		t.Fatalf("invalid recipient must not touch last message time")
	}
}

func TestTick_TransientLeavesEntry(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.provider.errs["@flaky"] = errors.New("connection reset")
	e.schedule(t, "f", "@flaky", model.TouchFirst, t0)

	if res := e.tick(t, t0); res.Processed != 0 || res.RateLimited {
		t.Fatalf("unexpected result %+v", res)
	}
	got := e.entry(t, "f")
	if got.Sent || !got.ScheduledTime.Equal(t0) {
		t.Fatalf("transient failure must leave the entry untouched: %+v", got)
	}

	delete(e.provider.errs, "@flaky")
	if res := e.tick(t, t0.Add(time.Minute)); res.Processed != 1 {
		t.Fatalf("expected retry to deliver, got %+v", res)
	}
}

func TestTick_RateLimitEntersBan(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.provider.errs["@a"] = &RateLimitError{RetryAfter: 300 * time.Second}
	e.schedule(t, "a1", "@a", model.TouchFirst, t0)
	e.schedule(t, "b1", "@b", model.TouchFirst, t0.Add(10*time.Minute))
	e.schedule(t, "b2", "@b", model.TouchSecond, t0.Add(24*time.Hour+10*time.Minute))

	res := e.tick(t, t0)
	if !res.RateLimited || res.Processed != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	st := e.state(t)
	if !st.Banned || !st.BannedUntil.Equal(t0.Add(5*time.Minute)) {
		t.Fatalf("unexpected state %+v", st)
	}
	want := map[string]time.Time{
		"a1": t0.Add(5 * time.Minute),
		"b1": t0.Add(15 * time.Minute),
		"b2": t0.Add(24*time.Hour + 15*time.Minute),
	}
	for id, at := range want {
		got := e.entry(t, id)
		if got.Sent || !got.ScheduledTime.Equal(at) {
			t.Fatalf("%s: got %+v, want unsent at %s", id, got, at)
		}
	}

	// held back while banned
	if res := e.tick(t, t0.Add(time.Minute)); !res.Skipped {
		t.Fatalf("expected skipped tick while banned, got %+v", res)
	}
	if e.provider.callCount() != 1 {
		t.Fatalf("expected no send while banned")
	}
}

func TestTick_ElapsedBanExpires(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	until := t0.Add(-time.Minute)
	orig := t0.Add(-time.Hour)
	e.tx(t, func(ctx context.Context, tx repository.Tx) error {
		return tx.SaveProviderState(ctx, model.ProviderState{Banned: true, BannedUntil: &until})
	})
	e.schedule(t, "a", "@a", model.TouchFirst, t0)
	e.tx(t, func(ctx context.Context, tx repository.Tx) error {
		en, err := tx.GetEntry(ctx, "a")
		if err != nil {
			return err
		}
		en.OriginalScheduledTime = &orig
		return tx.UpdateEntry(ctx, *en)
	})

	if res := e.tick(t, t0); res.Processed != 1 {
		t.Fatalf("expected delivery after expiry, got %+v", res)
	}
	if st := e.state(t); st.Banned {
		t.Fatalf("expected ban cleared, got %+v", st)
	}
}

func TestTick_Skips(t *testing.T) {
	t.Parallel()

	t.Run("outside working hours", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		night := time.Date(2025, 3, 10, 22, 0, 0, 0, time.UTC)
		e.schedule(t, "a", "@a", model.TouchFirst, night.Add(-time.Hour))
		if res := e.tick(t, night); !res.Skipped {
			t.Fatalf("expected skipped, got %+v", res)
		}
		if e.provider.callCount() != 0 {
			t.Fatalf("no send outside hours")
		}
	})

	t.Run("banned", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		until := t0.Add(time.Hour)
		e.tx(t, func(ctx context.Context, tx repository.Tx) error {
			return tx.SaveProviderState(ctx, model.ProviderState{Banned: true, BannedUntil: &until})
		})
		e.schedule(t, "a", "@a", model.TouchFirst, t0)
		if res := e.tick(t, t0); !res.Skipped {
			t.Fatalf("expected skipped, got %+v", res)
		}
	})

	t.Run("nothing due", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		e.schedule(t, "a", "@a", model.TouchFirst, t0.Add(time.Minute))
		if res := e.tick(t, t0); res != (Result{}) {
			t.Fatalf("expected empty result, got %+v", res)
		}
	})
}

func TestTick_BothKindsPerTick(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.schedule(t, "a1", "@a", model.TouchFirst, t0.Add(-2*time.Minute))
	e.schedule(t, "b1", "@b", model.TouchFirst, t0.Add(-time.Minute))
	e.schedule(t, "c2", "@c", model.TouchSecond, t0.Add(-time.Minute))

	if res := e.tick(t, t0); res.Processed != 2 {
		t.Fatalf("expected one entry per kind, got %+v", res)
	}
	if !e.entry(t, "a1").Sent || e.entry(t, "b1").Sent || !e.entry(t, "c2").Sent {
		t.Fatalf("expected earliest first touch and the second touch closed")
	}
}

func TestTick_Errors(t *testing.T) {
	t.Parallel()

	t.Run("no settings", func(t *testing.T) {
		t.Parallel()

		params := schedule.DefaultParams()
		d := NewDispatcher(repository.NewMemoryStore(), &fakeProvider{}, ban.NewCoordinator(params, nil), guard.NewLocal(), params, Config{}, nil)
		if _, err := d.Tick(context.Background(), t0); !errors.Is(err, ErrNoSettings) {
			t.Fatalf("expected ErrNoSettings, got %v", err)
		}
	})

	t.Run("guard held", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		release, err := e.guard.TryAcquire(context.Background(), GuardName)
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		defer release()
		if _, err := e.disp.Tick(context.Background(), t0); !errors.Is(err, guard.ErrLocked) {
			t.Fatalf("expected ErrLocked, got %v", err)
		}
	})
}

func TestDispatchEntry_Idempotent(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.schedule(t, "a", "@a", model.TouchFirst, t0)
	e.tx(t, func(ctx context.Context, tx repository.Tx) error {
		en, err := tx.GetEntry(ctx, "a")
		if err != nil {
			return err
		}
		en.MarkSent(t0, model.OutcomeDelivered)
		return tx.UpdateEntry(ctx, *en)
	})

	out, limited, err := e.disp.dispatchEntry(context.Background(), t0, "a")
	if err != nil || limited || out != model.OutcomeNone {
		t.Fatalf("expected no-op, got %q %v %v", out, limited, err)
	}
	if e.provider.callCount() != 0 {
		t.Fatalf("sent entry must not be sent again")
	}
}

func TestNextWake(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		now   time.Time
		setup func(t *testing.T, e *env)
		want  time.Time
	}{
		{
			name: "idle sleeps the maximum",
			now:  t0,
			want: t0.Add(10 * time.Minute),
		},
		{
			name: "next scheduled entry",
			now:  t0,
			setup: func(t *testing.T, e *env) {
				e.schedule(t, "a", "@a", model.TouchFirst, t0.Add(90*time.Second))
			},
			want: t0.Add(90 * time.Second),
		},
		{
			name: "floored at min sleep",
			now:  t0,
			setup: func(t *testing.T, e *env) {
				e.schedule(t, "a", "@a", model.TouchFirst, t0.Add(100*time.Millisecond))
			},
			want: t0.Add(time.Second),
		},
		{
			name: "backlog paced by interval",
			now:  t0,
			setup: func(t *testing.T, e *env) {
				e.schedule(t, "a", "@a", model.TouchFirst, t0.Add(-time.Minute))
				e.schedule(t, "b", "@b", model.TouchFirst, t0.Add(9*time.Minute))
			},
			want: t0.Add(6 * time.Minute),
		},
		{
			name: "ban end",
			now:  t0,
			setup: func(t *testing.T, e *env) {
				until := t0.Add(2 * time.Minute)
				e.tx(t, func(ctx context.Context, tx repository.Tx) error {
					return tx.SaveProviderState(ctx, model.ProviderState{Banned: true, BannedUntil: &until})
				})
				e.schedule(t, "a", "@a", model.TouchFirst, t0.Add(-time.Minute))
			},
			want: t0.Add(2 * time.Minute),
		},
		{
			name: "window opening",
			now:  time.Date(2025, 3, 10, 10, 58, 0, 0, time.UTC),
			want: time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := newEnv(t)
			if tt.setup != nil {
				tt.setup(t, e)
			}
			got, err := e.disp.NextWake(context.Background(), tt.now)
			if err != nil {
				t.Fatalf("next wake: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestOutcomeOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		err   error
		want  model.SendResult
		retry time.Duration
	}{
		{name: "nil", err: nil, want: model.SendSent},
		{name: "invalid", err: ErrInvalidRecipient, want: model.SendInvalidRecipient},
		{name: "wrapped invalid", err: errors.Join(errors.New("status 404"), ErrInvalidRecipient), want: model.SendInvalidRecipient},
		{name: "rate limited", err: &RateLimitError{RetryAfter: time.Minute}, want: model.SendRateLimited, retry: time.Minute},
		{name: "breaker open", err: ErrBreakerOpen, want: model.SendTransient},
		{name: "other", err: context.DeadlineExceeded, want: model.SendTransient},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := OutcomeOf(tt.err)
			if got.Result != tt.want || got.RetryAfter != tt.retry {
				t.Fatalf("got %+v, want %s retry %s", got, tt.want, tt.retry)
			}
		})
	}
}
