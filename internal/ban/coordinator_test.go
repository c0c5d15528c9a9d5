package ban

import (
	"context"
	"testing"
	"time"

	"github.com/jmehdipour/outreach-scheduler/internal/model"
	"github.com/jmehdipour/outreach-scheduler/internal/repository"
	"github.com/jmehdipour/outreach-scheduler/internal/schedule"
	"go.uber.org/zap/zaptest"
)

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store *repository.MemoryStore
	coord *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := repository.NewMemoryStore()
	if err := store.InTx(context.Background(), func(tx repository.Tx) error {
		return tx.SaveSettings(context.Background(), model.DefaultSettings())
	}); err != nil {
		t.Fatalf("seed settings: %v", err)
	}
	return &fixture{
		store: store,
		coord: NewCoordinator(schedule.DefaultParams(), zaptest.NewLogger(t)),
	}
}

func (f *fixture) add(t *testing.T, entries ...model.ScheduleEntry) {
	t.Helper()
	ctx := context.Background()
	if err := f.store.InTx(ctx, func(tx repository.Tx) error {
		for _, e := range entries {
			if err := tx.CreateEntry(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("add entries: %v", err)
	}
}

func (f *fixture) run(t *testing.T, fn func(ctx context.Context, tx repository.Tx) (Transition, error)) Transition {
	t.Helper()
	ctx := context.Background()
	var tr Transition
	if err := f.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		tr, err = fn(ctx, tx)
		return err
	}); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	return tr
}

func (f *fixture) entries(t *testing.T) map[string]model.ScheduleEntry {
	t.Helper()
	ctx := context.Background()
	out := map[string]model.ScheduleEntry{}
	if err := f.store.InTx(ctx, func(tx repository.Tx) error {
		list, err := tx.ListEntries(ctx, repository.EntryFilter{IncludeSent: true})
		for _, e := range list {
			out[e.ID] = e
		}
		return err
	}); err != nil {
		t.Fatalf("list entries: %v", err)
	}
	return out
}

func (f *fixture) state(t *testing.T) model.ProviderState {
	t.Helper()
	ctx := context.Background()
	var st model.ProviderState
	if err := f.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		st, err = tx.GetProviderState(ctx)
		return err
	}); err != nil {
		t.Fatalf("get state: %v", err)
	}
	return st
}

func entry(id string, contact int64, kind model.TouchKind, at time.Time) model.ScheduleEntry {
	return model.ScheduleEntry{ID: id, ContactID: contact, Kind: kind, ScheduledTime: at}
}

func campaignEntries() []model.ScheduleEntry {
	return []model.ScheduleEntry{
		entry("c1-first", 1, model.TouchFirst, t0.Add(10*time.Minute)),
		entry("c2-first", 2, model.TouchFirst, t0.Add(16*time.Minute)),
		entry("c1-second", 1, model.TouchSecond, t0.Add(24*time.Hour+10*time.Minute)),
		entry("c2-second", 2, model.TouchSecond, t0.Add(24*time.Hour+16*time.Minute)),
		entry("c3-first", 3, model.TouchFirst, t0.Add(-10*time.Minute)),
		entry("c3-second", 3, model.TouchSecond, t0.Add(24*time.Hour-10*time.Minute)),
	}
}

func TestEnter_ShiftsAndPreservesOffsets(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, campaignEntries()...)
	before := f.entries(t)

	tr := f.run(t, func(ctx context.Context, tx repository.Tx) (Transition, error) {
		return f.coord.Enter(ctx, tx, t0, time.Hour)
	})
	if tr != Enter {
		t.Fatalf("expected Enter, got %q", tr)
	}

	st := f.state(t)
	if !st.Banned || st.BannedUntil == nil || !st.BannedUntil.Equal(t0.Add(time.Hour)) {
		t.Fatalf("unexpected state: %+v", st)
	}

	after := f.entries(t)
	for id, b := range before {
		a := after[id]
		if got := a.ScheduledTime.Sub(b.ScheduledTime); got != time.Hour {
			t.Fatalf("%s shifted by %s, want 1h", id, got)
		}
		if a.OriginalScheduledTime == nil || !a.OriginalScheduledTime.Equal(b.ScheduledTime) {
			t.Fatalf("%s snapshot = %v, want %s", id, a.OriginalScheduledTime, b.ScheduledTime)
		}
	}

	for _, c := range []string{"c1", "c2", "c3"} {
		beforeGap := before[c+"-second"].ScheduledTime.Sub(before[c+"-first"].ScheduledTime)
		afterGap := after[c+"-second"].ScheduledTime.Sub(after[c+"-first"].ScheduledTime)
		if beforeGap != afterGap {
			t.Fatalf("%s offset changed: %s -> %s", c, beforeGap, afterGap)
		}
	}
}

func TestEnterExit_RoundTripRestoresExactly(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, campaignEntries()...)
	before := f.entries(t)

	f.run(t, func(ctx context.Context, tx repository.Tx) (Transition, error) {
		return f.coord.Enter(ctx, tx, t0, time.Hour)
	})
	// an extension keeps the first snapshot
	f.run(t, func(ctx context.Context, tx repository.Tx) (Transition, error) {
		return f.coord.Enter(ctx, tx, t0.Add(30*time.Minute), time.Hour)
	})
	tr := f.run(t, func(ctx context.Context, tx repository.Tx) (Transition, error) {
		return f.coord.Exit(ctx, tx, t0.Add(40*time.Minute))
	})
	if tr != Exit {
		t.Fatalf("expected Exit, got %q", tr)
	}

	after := f.entries(t)
	for id, b := range before {
		a := after[id]
		if !a.ScheduledTime.Equal(b.ScheduledTime) {
			t.Fatalf("%s restored to %s, want %s", id, a.ScheduledTime, b.ScheduledTime)
		}
		if a.OriginalScheduledTime != nil {
			t.Fatalf("%s snapshot not cleared", id)
		}
	}
	if st := f.state(t); st.Banned || st.BannedUntil != nil {
		t.Fatalf("expected ban cleared, got %+v", st)
	}
}

func TestEnter_ExtendShiftsByDifference(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, entry("e", 1, model.TouchFirst, t0.Add(10*time.Minute)))

	f.run(t, func(ctx context.Context, tx repository.Tx) (Transition, error) {
		return f.coord.Enter(ctx, tx, t0, time.Hour)
	})
	tr := f.run(t, func(ctx context.Context, tx repository.Tx) (Transition, error) {
		return f.coord.Enter(ctx, tx, t0.Add(30*time.Minute), time.Hour)
	})
	if tr != Extend {
		t.Fatalf("expected Extend, got %q", tr)
	}

	e := f.entries(t)["e"]
	if want := t0.Add(10*time.Minute + time.Hour + 30*time.Minute); !e.ScheduledTime.Equal(want) {
		t.Fatalf("got %s, want %s", e.ScheduledTime, want)
	}
	if !e.OriginalScheduledTime.Equal(t0.Add(10 * time.Minute)) {
		t.Fatalf("snapshot moved: %s", e.OriginalScheduledTime)
	}
	if st := f.state(t); !st.BannedUntil.Equal(t0.Add(90 * time.Minute)) {
		t.Fatalf("unexpected until %s", st.BannedUntil)
	}
}

func TestEnter_ShorterBanIsNoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, entry("e", 1, model.TouchFirst, t0.Add(10*time.Minute)))

	f.run(t, func(ctx context.Context, tx repository.Tx) (Transition, error) {
		return f.coord.Enter(ctx, tx, t0, time.Hour)
	})
	shifted := f.entries(t)["e"].ScheduledTime

	tr := f.run(t, func(ctx context.Context, tx repository.Tx) (Transition, error) {
		return f.coord.Enter(ctx, tx, t0.Add(time.Minute), 5*time.Minute)
	})
	if tr != None {
		t.Fatalf("expected None, got %q", tr)
	}
	if got := f.entries(t)["e"].ScheduledTime; !got.Equal(shifted) {
		t.Fatalf("entry moved by a shorter ban: %s -> %s", shifted, got)
	}
	if st := f.state(t); !st.BannedUntil.Equal(t0.Add(time.Hour)) {
		t.Fatalf("until changed to %s", st.BannedUntil)
	}
}

func TestExpire_KeepsShiftDropsSnapshot(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, entry("e", 1, model.TouchFirst, t0.Add(10*time.Minute)))
	f.run(t, func(ctx context.Context, tx repository.Tx) (Transition, error) {
		return f.coord.Enter(ctx, tx, t0, time.Hour)
	})

	tr := f.run(t, func(ctx context.Context, tx repository.Tx) (Transition, error) {
		return f.coord.Expire(ctx, tx, t0.Add(30*time.Minute))
	})
	if tr != None {
		t.Fatalf("expected None before until, got %q", tr)
	}

	tr = f.run(t, func(ctx context.Context, tx repository.Tx) (Transition, error) {
		return f.coord.Expire(ctx, tx, t0.Add(time.Hour))
	})
	if tr != Expire {
		t.Fatalf("expected Expire, got %q", tr)
	}

	e := f.entries(t)["e"]
	if !e.ScheduledTime.Equal(t0.Add(70 * time.Minute)) {
		t.Fatalf("expire must keep the shifted time, got %s", e.ScheduledTime)
	}
	if e.OriginalScheduledTime != nil {
		t.Fatalf("expected snapshot dropped")
	}
	if st := f.state(t); st.Banned {
		t.Fatalf("expected ban cleared")
	}
}

func TestEnter_ReslotsEntriesLeavingTheWindow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	late := time.Date(2025, 3, 10, 20, 30, 0, 0, time.UTC)
	nextMorning := time.Date(2025, 3, 11, 11, 0, 0, 0, time.UTC)
	f.add(t,
		entry("late", 1, model.TouchFirst, late),
		entry("morning", 2, model.TouchSecond, nextMorning.Add(-time.Hour+30*time.Second)),
	)

	f.run(t, func(ctx context.Context, tx repository.Tx) (Transition, error) {
		return f.coord.Enter(ctx, tx, late.Add(-10*time.Minute), time.Hour)
	})

	got := f.entries(t)
	// "morning" shifts purely to 11:00:30; "late" would land at 21:30 and is
	// re-slotted to the next opening, colliding with 11:00:30 and moving on.
	if want := nextMorning.Add(30 * time.Second); !got["morning"].ScheduledTime.Equal(want) {
		t.Fatalf("morning at %s, want %s", got["morning"].ScheduledTime, want)
	}
	if want := nextMorning.Add(6 * time.Minute); !got["late"].ScheduledTime.Equal(want) {
		t.Fatalf("late at %s, want %s", got["late"].ScheduledTime, want)
	}
	if !got["late"].OriginalScheduledTime.Equal(late) {
		t.Fatalf("late snapshot = %s", got["late"].OriginalScheduledTime)
	}
}

func TestRateLimited_OverdueEntriesShiftPurely(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t,
		entry("overdue", 1, model.TouchFirst, t0.Add(-10*time.Minute)),
		entry("due", 2, model.TouchFirst, t0),
		entry("later", 3, model.TouchFirst, t0.Add(20*time.Minute)),
	)

	tr := f.run(t, func(ctx context.Context, tx repository.Tx) (Transition, error) {
		return f.coord.RateLimited(ctx, tx, t0, 5*time.Minute)
	})
	if tr != Enter {
		t.Fatalf("expected Enter, got %q", tr)
	}

	got := f.entries(t)
	tests := map[string]time.Time{
		// still before until; dispatch holds it back while the ban blocks
		"overdue": t0.Add(-5 * time.Minute),
		"due":     t0.Add(5 * time.Minute),
		"later":   t0.Add(25 * time.Minute),
	}
	for id, want := range tests {
		if !got[id].ScheduledTime.Equal(want) {
			t.Fatalf("%s at %s, want %s", id, got[id].ScheduledTime, want)
		}
	}
}

func TestRateLimited_ZeroRetryUsesFreeze(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.run(t, func(ctx context.Context, tx repository.Tx) (Transition, error) {
		return f.coord.RateLimited(ctx, tx, t0, 0)
	})
	if st := f.state(t); !st.BannedUntil.Equal(t0.Add(60 * time.Minute)) {
		t.Fatalf("expected default freeze, got %s", st.BannedUntil)
	}
}

func TestToggle(t *testing.T) {
	t.Parallel()

	t.Run("banned without until uses freeze", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.run(t, func(ctx context.Context, tx repository.Tx) (Transition, error) {
			return f.coord.Toggle(ctx, tx, t0, true, nil)
		})
		if st := f.state(t); !st.Banned || !st.BannedUntil.Equal(t0.Add(time.Hour)) {
			t.Fatalf("unexpected state %+v", st)
		}
	})

	t.Run("banned with future until", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		until := t0.Add(2 * time.Hour)
		f.run(t, func(ctx context.Context, tx repository.Tx) (Transition, error) {
			return f.coord.Toggle(ctx, tx, t0, true, &until)
		})
		if st := f.state(t); !st.BannedUntil.Equal(until) {
			t.Fatalf("expected until %s, got %s", until, st.BannedUntil)
		}
	})

	t.Run("past until falls back to freeze", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		past := t0.Add(-time.Hour)
		f.run(t, func(ctx context.Context, tx repository.Tx) (Transition, error) {
			return f.coord.Toggle(ctx, tx, t0, true, &past)
		})
		if st := f.state(t); !st.BannedUntil.Equal(t0.Add(time.Hour)) {
			t.Fatalf("expected freeze until, got %s", st.BannedUntil)
		}
	})

	t.Run("unban when not banned is a noop", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		tr := f.run(t, func(ctx context.Context, tx repository.Tx) (Transition, error) {
			return f.coord.Toggle(ctx, tx, t0, false, nil)
		})
		if tr != None {
			t.Fatalf("expected None, got %q", tr)
		}
	})
}
