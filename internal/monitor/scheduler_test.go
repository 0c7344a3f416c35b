package monitor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSchedulerRunsRegisteredTasks(t *testing.T) {
	s := NewScheduler(10*time.Millisecond, nil)

	var runs atomic.Int32
	s.Register("counter", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, 0)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return runs.Load() >= 3 })
}

func TestSchedulerStartTwice(t *testing.T) {
	s := NewScheduler(time.Hour, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error starting a running scheduler")
	}
}

func TestSchedulerSkipsOverlappingTicks(t *testing.T) {
	s := NewScheduler(10*time.Millisecond, nil)

	release := make(chan struct{})
	var started atomic.Int32
	s.Register("slow", func(ctx context.Context) error {
		started.Add(1)
		<-release
		return nil
	}, 0)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The first tick blocks inside the task; subsequent ticks must be
	// dropped, not queued behind it.
	waitFor(t, time.Second, func() bool { return started.Load() == 1 })
	waitFor(t, time.Second, func() bool { return s.TicksSkipped() >= 2 })

	if got := started.Load(); got != 1 {
		t.Fatalf("task started %d times while blocked, want 1", got)
	}

	close(release)
	s.Stop()

	if s.TicksTotal() < 1 {
		t.Fatalf("TicksTotal = %d, want >= 1", s.TicksTotal())
	}
}

func TestSchedulerIsolatesFailingTasks(t *testing.T) {
	s := NewScheduler(10*time.Millisecond, nil)

	var healthyRuns atomic.Int32
	s.Register("panics", func(ctx context.Context) error {
		panic("wiring fault")
	}, 0)
	s.Register("healthy", func(ctx context.Context) error {
		healthyRuns.Add(1)
		return nil
	}, 0)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return healthyRuns.Load() >= 3 })
	waitFor(t, time.Second, func() bool {
		for _, st := range s.Status() {
			if st.Name == "panics" && st.ConsecutiveErrors >= 3 {
				return true
			}
		}
		return false
	})
}

func TestSchedulerErrorCounterResetsOnSuccess(t *testing.T) {
	s := NewScheduler(5*time.Millisecond, nil)

	var calls atomic.Int32
	s.Register("flaky", func(ctx context.Context) error {
		if calls.Add(1) <= 2 {
			return context.DeadlineExceeded
		}
		return nil
	}, 0)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return calls.Load() >= 4 })
	waitFor(t, time.Second, func() bool {
		sts := s.Status()
		return len(sts) == 1 && sts[0].ConsecutiveErrors == 0
	})
}

func TestSchedulerHonoursTaskInterval(t *testing.T) {
	s := NewScheduler(5*time.Millisecond, nil)

	var fastRuns, slowRuns atomic.Int32
	s.Register("fast", func(ctx context.Context) error {
		fastRuns.Add(1)
		return nil
	}, 0)
	s.Register("slow", func(ctx context.Context) error {
		slowRuns.Add(1)
		return nil
	}, 100*time.Millisecond)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, time.Second, func() bool { return fastRuns.Load() >= 10 })
	s.Stop()

	fast, slow := fastRuns.Load(), slowRuns.Load()
	if slow >= fast {
		t.Fatalf("slow task ran %d times, fast %d; interval not honoured", slow, fast)
	}
}

func TestSchedulerStopWaitsForInFlightTasks(t *testing.T) {
	s := NewScheduler(5*time.Millisecond, nil)

	var finished atomic.Bool
	entered := make(chan struct{})
	s.Register("draining", func(ctx context.Context) error {
		close(entered)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	}, 0)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	<-entered
	s.Stop()

	if !finished.Load() {
		t.Fatal("Stop returned before the in-flight task finished")
	}
}
