package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		MaxRestarts:       3,
		InitialBackoff:    5 * time.Millisecond,
		MaxBackoff:        20 * time.Millisecond,
		BackoffMultiplier: 2.0,
		ResetWindow:       time.Hour,
	}
}

func newTestSupervisor(t *testing.T, cfg SupervisorConfig) (*Supervisor, *fakeRunner) {
	t.Helper()
	runner := &fakeRunner{}
	c := NewController(ControllerOptions{
		Path:            "/opt/dws-lsp",
		Runner:          runner,
		ShutdownTimeout: 2 * time.Second,
	})
	s := NewSupervisor(c, cfg)
	t.Cleanup(func() { s.Stop(context.Background()) })
	return s, runner
}

func collectEvents(t *testing.T, s *Supervisor, want ...SupervisorEventType) []SupervisorEvent {
	t.Helper()
	var got []SupervisorEvent
	for _, typ := range want {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatalf("event channel closed while waiting for %v", typ)
			}
			if ev.Type != typ {
				t.Fatalf("event = %v, want %v (so far: %v)", ev.Type, typ, got)
			}
			got = append(got, ev)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for %v event", typ)
		}
	}
	return got
}

func TestSupervisor_RestartsAfterCrash(t *testing.T) {
	s, runner := newTestSupervisor(t, fastSupervisorConfig())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.State() != SupervisorRunning {
		t.Fatalf("state = %v", s.State())
	}

	runner.current.exit()

	events := collectEvents(t, s,
		SupervisorEventCrash, SupervisorEventRestarting, SupervisorEventRecovered)
	if events[0].Attempt != 1 {
		t.Errorf("crash attempt = %d, want 1", events[0].Attempt)
	}

	if s.State() != SupervisorRunning {
		t.Errorf("state after recovery = %v, want running", s.State())
	}
	if len(runner.procs) != 2 {
		t.Errorf("launches = %d, want 2", len(runner.procs))
	}
	if s.RestartCount() != 1 {
		t.Errorf("RestartCount() = %d, want 1", s.RestartCount())
	}
}

func TestSupervisor_GivesUpAfterMaxRestarts(t *testing.T) {
	cfg := fastSupervisorConfig()
	cfg.MaxRestarts = 1
	s, runner := newTestSupervisor(t, cfg)

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Crash, and make every restart attempt fail too.
	runner.mu.Lock()
	runner.err = errors.New("binary vanished")
	proc := runner.current
	runner.mu.Unlock()
	proc.exit()

	deadline := time.Now().Add(3 * time.Second)
	var sawFailed bool
	for !sawFailed && time.Now().Before(deadline) {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatal("event channel closed before the failed event")
			}
			if ev.Type == SupervisorEventFailed {
				sawFailed = true
				if !errors.Is(ev.Error, ErrSupervisorFailed) {
					t.Errorf("failed event error = %v", ev.Error)
				}
			}
		case <-time.After(3 * time.Second):
			t.Fatal("no failed event")
		}
	}
	if !sawFailed {
		t.Fatal("supervisor never gave up")
	}

	if s.State() != SupervisorFailed {
		t.Errorf("state = %v, want failed", s.State())
	}
}

func TestSupervisor_StopDoesNotRestart(t *testing.T) {
	s, runner := newTestSupervisor(t, fastSupervisorConfig())

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if s.State() != SupervisorStopped {
		t.Errorf("state = %v, want stopped", s.State())
	}
	if len(runner.procs) != 1 {
		t.Errorf("launches = %d, a stop must not trigger recovery", len(runner.procs))
	}

	// Events drains to closed after stop.
	deadline := time.Now().Add(2 * time.Second)
	for {
		select {
		case _, ok := <-s.Events():
			if !ok {
				return
			}
		case <-time.After(time.Until(deadline)):
			t.Fatal("event channel never closed")
		}
	}
}

func TestSupervisor_StartTwice(t *testing.T) {
	s, _ := newTestSupervisor(t, fastSupervisorConfig())

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("second Start() = %v, want ErrAlreadyStarted", err)
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{10, 60 * time.Second}, // capped
	}

	for _, tt := range tests {
		got := CalculateBackoff(tt.attempt, time.Second, 60*time.Second, 2.0)
		if got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
