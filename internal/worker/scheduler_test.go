package worker

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/exigo-bridge/internal/alert"
	"github.com/ignite/exigo-bridge/internal/pkg/distlock"
	"github.com/ignite/exigo-bridge/internal/pkg/logger"
	"github.com/ignite/exigo-bridge/internal/reconcile"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func newLocker(t *testing.T) (*distlock.Locker, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return distlock.NewLocker(rdb, nil, time.Minute), rdb
}

type stubSync struct {
	err     error
	calls   atomic.Int32
	block   chan struct{}
	running atomic.Int32
	maxSeen atomic.Int32
}

func (s *stubSync) Synchronize(ctx context.Context) (reconcile.Outcome, error) {
	s.calls.Add(1)
	n := s.running.Add(1)
	defer s.running.Add(-1)
	for {
		m := s.maxSeen.Load()
		if n <= m || s.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return reconcile.Outcome{}, ctx.Err()
		}
	}
	return reconcile.Outcome{Success: s.err == nil, Mode: reconcile.ModeDelta}, s.err
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (r *recordingAlerter) Notify(_ context.Context, a alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingAlerter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func TestScheduler_RunAllAlertsOnFatal(t *testing.T) {
	locker, _ := newLocker(t)
	ok := &stubSync{}
	bad := &stubSync{err: reconcile.ErrFetchAutoship}
	alerts := &recordingAlerter{}

	s := NewScheduler(func() []Job {
		return []Job{{CompanyID: "a", Sync: ok}, {CompanyID: "b", Sync: bad}}
	}, locker, alerts, SchedulerConfig{Concurrency: 2})
	s.RunAll(context.Background())

	if ok.calls.Load() != 1 || bad.calls.Load() != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", ok.calls.Load(), bad.calls.Load())
	}
	if alerts.count() != 1 {
		t.Fatalf("alerts = %d, want 1", alerts.count())
	}
	got := alerts.alerts[0]
	if got.CompanyID != "b" || got.Subject != "autoship fetch failed" {
		t.Errorf("alert = %+v", got)
	}
}

func TestScheduler_ConcurrencyLimit(t *testing.T) {
	locker, _ := newLocker(t)
	shared := &stubSync{block: make(chan struct{})}
	var jobs []Job
	for _, id := range []string{"a", "b", "c", "d"} {
		jobs = append(jobs, Job{CompanyID: id, Sync: shared})
	}
	s := NewScheduler(func() []Job { return jobs }, locker, nil, SchedulerConfig{Concurrency: 2})

	done := make(chan struct{})
	go func() {
		s.RunAll(context.Background())
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	close(shared.block)
	<-done

	if shared.maxSeen.Load() > 2 {
		t.Errorf("max concurrent runs = %d, want <= 2", shared.maxSeen.Load())
	}
	if shared.calls.Load() != 4 {
		t.Errorf("calls = %d, want 4", shared.calls.Load())
	}
}

func TestScheduler_LockHeldSkipsWithoutAlert(t *testing.T) {
	locker, _ := newLocker(t)
	alerts := &recordingAlerter{}
	stub := &stubSync{}
	s := NewScheduler(func() []Job { return nil }, locker, alerts, SchedulerConfig{})

	err := locker.WithLock(context.Background(), distlock.CompanySyncKey("acme"), func(ctx context.Context) error {
		_, err := s.RunCompany(ctx, Job{CompanyID: "acme", Sync: stub})
		return err
	})
	if !errors.Is(err, distlock.ErrLockHeld) {
		t.Fatalf("err = %v, want ErrLockHeld", err)
	}
	if stub.calls.Load() != 0 {
		t.Error("sync ran while lock was held")
	}
	if alerts.count() != 0 {
		t.Error("lock contention must not alert")
	}
}

func TestScheduler_Trigger(t *testing.T) {
	locker, _ := newLocker(t)
	stub := &stubSync{block: make(chan struct{})}
	s := NewScheduler(func() []Job { return nil }, locker, nil, SchedulerConfig{})
	job := Job{CompanyID: "acme", Sync: stub}

	if err := s.Trigger(job); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if err := s.Trigger(job); !errors.Is(err, distlock.ErrLockHeld) {
		t.Fatalf("second trigger err = %v, want ErrLockHeld", err)
	}
	close(stub.block)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if err := s.Trigger(Job{CompanyID: "acme", Sync: &stubSync{}}); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("lock not released after triggered run finished")
}

func TestScheduler_RunTimeout(t *testing.T) {
	locker, _ := newLocker(t)
	alerts := &recordingAlerter{}
	stub := &stubSync{block: make(chan struct{})}
	s := NewScheduler(func() []Job { return nil }, locker, alerts, SchedulerConfig{RunTimeout: 20 * time.Millisecond})

	_, err := s.RunCompany(context.Background(), Job{CompanyID: "acme", Sync: stub})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if alerts.count() != 1 || alerts.alerts[0].Subject != "run timed out" {
		t.Errorf("alerts = %+v", alerts.alerts)
	}
}

func TestFailureSubject(t *testing.T) {
	cases := map[error]string{
		reconcile.ErrSnapshotWrite: "snapshot write failed",
		reconcile.ErrSnapshotRead:  "snapshot read failed",
		errors.New("x"):            "sync failed",
	}
	for err, want := range cases {
		if got := failureSubject(err); got != want {
			t.Errorf("failureSubject(%v) = %q, want %q", err, got, want)
		}
	}
}
