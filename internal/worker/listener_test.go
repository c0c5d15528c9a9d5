package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmehdipour/outreach-scheduler/internal/kafka"
	"github.com/jmehdipour/outreach-scheduler/internal/model"
	"github.com/jmehdipour/outreach-scheduler/internal/service/outreach"
	"go.uber.org/zap/zaptest"
)

type fakeSource struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []int64
	commits   atomic.Int64
}

var _ MessageSource = (*fakeSource)(nil)

func newFakeSource(values ...string) *fakeSource {
	s := &fakeSource{msgs: make(chan kafka.Message, len(values))}
	for i, v := range values {
		s.msgs <- kafka.Message{Topic: "t", Offset: int64(i), Value: []byte(v)}
	}
	return s
}

func (s *fakeSource) Fetch(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-s.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (s *fakeSource) Commit(_ context.Context, m kafka.Message) error {
	s.mu.Lock()
	s.committed = append(s.committed, m.Offset)
	s.mu.Unlock()
	s.commits.Add(1)
	return nil
}

func runListener(t *testing.T, l *Listener) (stop func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("listener: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("listener did not stop")
		}
	}
}

func TestListener_CommitsHandledAndSkipped(t *testing.T) {
	t.Parallel()

	src := newFakeSource("ok", "bad", "ok")
	var handled atomic.Int64
	l := NewListener("test", src, func(_ context.Context, v []byte) error {
		handled.Add(1)
		if string(v) == "bad" {
			return ErrSkip
		}
		return nil
	}, zaptest.NewLogger(t))
	l.Backoff = time.Millisecond

	stop := runListener(t, l)
	waitForAtLeast(t, &src.commits, 3, 2*time.Second)
	stop()

	if got := handled.Load(); got != 3 {
		t.Fatalf("expected 3 handles, got %d", got)
	}
}

func TestListener_RetriesThenCommits(t *testing.T) {
	t.Parallel()

	src := newFakeSource("flaky")
	var attempts atomic.Int64
	l := NewListener("test", src, func(context.Context, []byte) error {
		if attempts.Add(1) < 2 {
			return errors.New("db timeout")
		}
		return nil
	}, zaptest.NewLogger(t))
	l.Backoff = time.Millisecond

	stop := runListener(t, l)
	waitForAtLeast(t, &src.commits, 1, 2*time.Second)
	stop()

	if got := attempts.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestListener_GivesUpAfterAttempts(t *testing.T) {
	t.Parallel()

	src := newFakeSource("poison")
	var attempts atomic.Int64
	l := NewListener("test", src, func(context.Context, []byte) error {
		attempts.Add(1)
		return errors.New("always fails")
	}, zaptest.NewLogger(t))
	l.Backoff = time.Millisecond

	stop := runListener(t, l)
	waitForAtLeast(t, &src.commits, 1, 2*time.Second)
	stop()

	if got := attempts.Load(); got != int64(l.Attempts) {
		t.Fatalf("expected %d attempts, got %d", l.Attempts, got)
	}
}

type fakeResponder struct {
	externalID string
	at         time.Time
	err        error
}

func (f *fakeResponder) MarkResponded(_ context.Context, externalID string, at time.Time) (bool, error) {
	f.externalID, f.at = externalID, at
	return f.err == nil, f.err
}

type fakeEnqueuer struct {
	externalID, displayName string
	err                     error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, externalID, displayName string) (model.PendingEnrollment, error) {
	f.externalID, f.displayName = externalID, displayName
	return model.PendingEnrollment{ExternalID: externalID}, f.err
}

func TestResponseHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		value    string
		svcErr   error
		wantSkip bool
		wantErr  bool
	}{
		{name: "valid", value: `{"external_id":"@alice","at":"2025-03-10T12:00:00Z"}`},
		{name: "bad json", value: `{`, wantSkip: true},
		{name: "missing id", value: `{"at":"2025-03-10T12:00:00Z"}`, wantSkip: true},
		{name: "unknown contact", value: `{"external_id":"@nobody"}`, svcErr: outreach.ErrContactNotFound, wantSkip: true},
		{name: "store failure", value: `{"external_id":"@alice"}`, svcErr: errors.New("db down"), wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := &fakeResponder{err: tt.svcErr}
			err := ResponseHandler(svc)(context.Background(), []byte(tt.value))
			switch {
			case tt.wantSkip:
				if !errors.Is(err, ErrSkip) {
					t.Fatalf("expected ErrSkip, got %v", err)
				}
			case tt.wantErr:
				if err == nil || errors.Is(err, ErrSkip) {
					t.Fatalf("expected retryable error, got %v", err)
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				if svc.externalID != "@alice" || !svc.at.Equal(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)) {
					t.Fatalf("unexpected call %+v", svc)
				}
			}
		})
	}
}

func TestEnrollmentHandler(t *testing.T) {
	t.Parallel()

	svc := &fakeEnqueuer{}
	if err := EnrollmentHandler(svc)(context.Background(), []byte(`{"external_id":"+49 151 1234","display_name":"Ann"}`)); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if svc.externalID != "+49 151 1234" || svc.displayName != "Ann" {
		t.Fatalf("unexpected call %+v", svc)
	}

	svc.err = outreach.ErrInvalidInput
	if err := EnrollmentHandler(svc)(context.Background(), []byte(`{"external_id":""}`)); !errors.Is(err, ErrSkip) {
		t.Fatalf("expected ErrSkip, got %v", err)
	}
}
