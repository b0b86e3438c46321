package session

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// SupervisorState represents the state of a supervised session.
type SupervisorState int

const (
	// SupervisorIdle means the supervisor is not monitoring.
	SupervisorIdle SupervisorState = iota
	// SupervisorRunning means the session is running normally.
	SupervisorRunning
	// SupervisorRestarting means the session crashed and is being restarted.
	SupervisorRestarting
	// SupervisorFailed means restarts were exhausted.
	SupervisorFailed
	// SupervisorStopped means the supervisor was explicitly stopped.
	SupervisorStopped
)

// String returns a human-readable state name.
func (s SupervisorState) String() string {
	switch s {
	case SupervisorIdle:
		return "idle"
	case SupervisorRunning:
		return "running"
	case SupervisorRestarting:
		return "restarting"
	case SupervisorFailed:
		return "failed"
	case SupervisorStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SupervisorConfig configures crash recovery.
type SupervisorConfig struct {
	// MaxRestarts is the maximum number of restart attempts before
	// giving up. Default: 5
	MaxRestarts int

	// InitialBackoff is the initial delay after a crash. Default: 1s
	InitialBackoff time.Duration

	// MaxBackoff caps the delay. Default: 60s
	MaxBackoff time.Duration

	// BackoffMultiplier grows the delay after each failure. Default: 2.0
	BackoffMultiplier float64

	// ResetWindow is how long the session must stay up before the
	// restart count resets. Default: 5 minutes
	ResetWindow time.Duration
}

// DefaultSupervisorConfig returns the default recovery settings.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		MaxRestarts:       5,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        60 * time.Second,
		BackoffMultiplier: 2.0,
		ResetWindow:       5 * time.Minute,
	}
}

// SupervisorEventType identifies the type of supervisor event.
type SupervisorEventType int

const (
	// SupervisorEventCrash indicates the session exited unexpectedly.
	SupervisorEventCrash SupervisorEventType = iota
	// SupervisorEventRestarting indicates a restart attempt is starting.
	SupervisorEventRestarting
	// SupervisorEventRecovered indicates the session came back.
	SupervisorEventRecovered
	// SupervisorEventFailed indicates recovery was abandoned.
	SupervisorEventFailed
)

// String returns a human-readable event type name.
func (t SupervisorEventType) String() string {
	switch t {
	case SupervisorEventCrash:
		return "crash"
	case SupervisorEventRestarting:
		return "restarting"
	case SupervisorEventRecovered:
		return "recovered"
	case SupervisorEventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SupervisorEvent reports crash-recovery progress.
type SupervisorEvent struct {
	Type      SupervisorEventType
	Error     error
	Attempt   int
	NextRetry time.Duration
}

// Supervisor watches a Controller's exit events and restarts crashed
// sessions with exponential backoff. Deliberate stops (Controller.Stop,
// Restart) do not trigger recovery.
type Supervisor struct {
	mu sync.Mutex

	config     SupervisorConfig
	controller *Controller

	state        atomic.Int32
	restartCount int
	lastStart    time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	eventCh   chan SupervisorEvent
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewSupervisor creates a supervisor over a controller.
func NewSupervisor(controller *Controller, config SupervisorConfig) *Supervisor {
	s := &Supervisor{
		config:     config,
		controller: controller,
		eventCh:    make(chan SupervisorEvent, 16),
	}
	s.state.Store(int32(SupervisorIdle))
	return s
}

// Start launches the session and begins supervision.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if SupervisorState(s.state.Load()) != SupervisorIdle {
		return ErrAlreadyStarted
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.controller.Start(s.ctx); err != nil {
		s.state.Store(int32(SupervisorFailed))
		return err
	}
	s.lastStart = time.Now()
	s.state.Store(int32(SupervisorRunning))

	go s.monitor()
	return nil
}

// monitor waits for unexpected exits and drives recovery.
func (s *Supervisor) monitor() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.controller.Exits():
			if !ev.Unexpected {
				continue
			}
			if !s.recover(ev.Err) {
				return
			}
		}
	}
}

// recover retries the session start with backoff. Returns true when
// the session came back, false when the supervisor gave up or was
// stopped.
func (s *Supervisor) recover(initialErr error) bool {
	exitErr := initialErr

	for {
		s.mu.Lock()

		if SupervisorState(s.state.Load()) == SupervisorStopped {
			s.mu.Unlock()
			return false
		}

		if time.Since(s.lastStart) > s.config.ResetWindow {
			s.restartCount = 0
		}
		s.restartCount++

		s.emit(SupervisorEvent{
			Type:    SupervisorEventCrash,
			Error:   exitErr,
			Attempt: s.restartCount,
		})

		if s.restartCount > s.config.MaxRestarts {
			s.state.Store(int32(SupervisorFailed))
			s.emit(SupervisorEvent{
				Type:    SupervisorEventFailed,
				Error:   ErrSupervisorFailed,
				Attempt: s.restartCount,
			})
			s.mu.Unlock()
			return false
		}

		delay := CalculateBackoff(
			s.restartCount,
			s.config.InitialBackoff,
			s.config.MaxBackoff,
			s.config.BackoffMultiplier,
		)

		s.state.Store(int32(SupervisorRestarting))
		s.emit(SupervisorEvent{
			Type:      SupervisorEventRestarting,
			Attempt:   s.restartCount,
			NextRetry: delay,
		})
		s.mu.Unlock()

		select {
		case <-s.ctx.Done():
			return false
		case <-time.After(delay):
		}

		s.mu.Lock()
		if SupervisorState(s.state.Load()) == SupervisorStopped {
			s.mu.Unlock()
			return false
		}

		if err := s.controller.Start(s.ctx); err != nil {
			exitErr = err
			s.mu.Unlock()
			continue
		}

		s.lastStart = time.Now()
		s.state.Store(int32(SupervisorRunning))
		s.emit(SupervisorEvent{
			Type:    SupervisorEventRecovered,
			Attempt: s.restartCount,
		})
		s.mu.Unlock()
		return true
	}
}

// emit sends an event, dropping it if nobody is draining the channel.
func (s *Supervisor) emit(event SupervisorEvent) {
	if s.closed.Load() {
		return
	}
	select {
	case s.eventCh <- event:
	default:
	}
}

// Stop ends supervision and shuts the session down.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	state := SupervisorState(s.state.Load())
	if state == SupervisorStopped || state == SupervisorIdle {
		s.mu.Unlock()
		return nil
	}
	s.state.Store(int32(SupervisorStopped))
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.eventCh)
	})

	err := s.controller.Stop(ctx)
	if err == ErrNotStarted {
		return nil
	}
	return err
}

// State returns the current supervisor state.
func (s *Supervisor) State() SupervisorState {
	return SupervisorState(s.state.Load())
}

// RestartCount returns restart attempts since the last reset.
func (s *Supervisor) RestartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartCount
}

// Events exposes crash-recovery events. Closed on Stop.
func (s *Supervisor) Events() <-chan SupervisorEvent {
	return s.eventCh
}

// CalculateBackoff computes the delay before a restart attempt.
// Attempts 0 and 1 use the initial delay; later attempts grow
// exponentially up to max.
func CalculateBackoff(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	if attempt <= 1 {
		return initial
	}

	delay := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if delay > float64(max) {
		return max
	}
	return time.Duration(delay)
}
