package session

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Version is the client version advertised during the handshake.
const Version = "0.1.0"

// State represents the lifecycle state of a server session.
type State int

const (
	// Stopped means no subprocess exists.
	Stopped State = iota
	// Starting means the subprocess is launching or mid-handshake.
	Starting
	// Running means the handshake completed and the session is live.
	Running
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// StateObserver is notified on every state transition with the old and
// new state.
type StateObserver func(old, new State)

// ExitEvent reports a subprocess exit observed by the controller's
// monitor. Unexpected is false when the exit followed a Stop call.
type ExitEvent struct {
	Err        error
	Unexpected bool
}

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	// Path is the server executable to launch.
	Path string
	// Args are the launch arguments, e.g. the stdlib flag.
	Args []string
	// RootURI is advertised during the initialize handshake.
	RootURI string
	// ShutdownTimeout bounds how long Stop waits for a graceful exit
	// before killing the process. Zero means 3 seconds.
	ShutdownTimeout time.Duration
	// Runner launches the subprocess; nil means ExecRunner.
	Runner Runner
}

// debugEnv is always merged into the subprocess environment; the
// server decides what to do with it.
const debugEnv = "DWS_LSP_DEBUG=1"

// Controller owns one server session: it launches the subprocess,
// performs the initialize handshake, tracks lifecycle state, and tears
// the session down again.
//
// State transitions are published to observers synchronously, before
// the transition's other side effects run, so an observer that reacts
// to Starting always fires before the subprocess launches.
type Controller struct {
	opts   ControllerOptions
	runner Runner

	mu         sync.Mutex
	state      State
	observers  []StateObserver
	transport  *Transport
	process    Process
	procDone   chan struct{}
	sessionID  string
	serverInfo *ServerInfo
	generation uint64
	cancel     context.CancelFunc

	notifMu sync.RWMutex
	notif   NotificationHandler

	exits chan ExitEvent
}

// NewController creates a controller in the Stopped state.
func NewController(opts ControllerOptions) *Controller {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 3 * time.Second
	}
	runner := opts.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Controller{
		opts:   opts,
		runner: runner,
		exits:  make(chan ExitEvent, 8),
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the unique ID of the current session, or "" when
// stopped. A restart produces a new ID.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// PID returns the subprocess PID, or 0 when stopped.
func (c *Controller) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.process == nil {
		return 0
	}
	return c.process.PID()
}

// ServerInfo returns the server identity from the handshake, or nil.
func (c *Controller) ServerInfo() *ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// Exits exposes subprocess exit events for supervision.
func (c *Controller) Exits() <-chan ExitEvent {
	return c.exits
}

// OnStateChange registers an observer for state transitions. Observers
// are called synchronously, in registration order, while the
// transition is being applied; they must not call back into the
// controller.
func (c *Controller) OnStateChange(obs StateObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, obs)
}

// SetNotificationHandler installs the handler that receives every
// server notification, in arrival order. Survives restarts.
func (c *Controller) SetNotificationHandler(h NotificationHandler) {
	c.notifMu.Lock()
	c.notif = h
	c.notifMu.Unlock()

	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t != nil {
		t.SetNotificationHandler(h)
	}
}

// setState applies a transition and notifies observers. Caller holds
// c.mu.
func (c *Controller) setState(new State) {
	old := c.state
	c.state = new
	for _, obs := range c.observers {
		obs(old, new)
	}
}

// Start launches the server and performs the initialize handshake.
// Returns ErrAlreadyStarted unless the session is stopped. On any
// failure the state reverts to Stopped and the error is a *StartError.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Stopped {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.setState(Starting)
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	proc, transport, err := c.launch(ctx)
	if err != nil {
		c.mu.Lock()
		c.setState(Stopped)
		c.mu.Unlock()
		return &StartError{Path: c.opts.Path, Err: err}
	}

	if err := c.handshake(ctx, transport); err != nil {
		transport.Close()
		proc.Kill()
		proc.Wait()
		c.mu.Lock()
		c.setState(Stopped)
		c.mu.Unlock()
		return &StartError{Path: c.opts.Path, Err: err}
	}

	done := make(chan struct{})

	c.mu.Lock()
	c.process = proc
	c.procDone = done
	c.transport = transport
	c.sessionID = uuid.New().String()
	c.setState(Running)
	c.mu.Unlock()

	go c.monitor(proc, gen, done)
	return nil
}

// launch starts the subprocess and attaches a transport to its stdio.
func (c *Controller) launch(ctx context.Context) (Process, *Transport, error) {
	proc, err := c.runner.Start(c.opts.Path, c.opts.Args, []string{debugEnv})
	if err != nil {
		return nil, nil, err
	}

	transport := NewTransport(proc.Stdout(), proc.Stdin(), proc.Stdin())

	c.notifMu.RLock()
	if c.notif != nil {
		transport.SetNotificationHandler(c.notif)
	}
	c.notifMu.RUnlock()

	tctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	transport.Start(tctx)

	return proc, transport, nil
}

// handshake runs initialize then initialized.
func (c *Controller) handshake(ctx context.Context, transport *Transport) error {
	params := &InitializeParams{
		ProcessID: os.Getpid(),
		RootURI:   c.opts.RootURI,
		ClientInfo: &ClientInfo{
			Name:    "lspherd",
			Version: Version,
		},
	}

	var result InitializeResult
	if err := transport.Call(ctx, "initialize", params, &result); err != nil {
		return err
	}

	c.mu.Lock()
	c.serverInfo = result.ServerInfo
	c.mu.Unlock()

	return transport.Notify(ctx, "initialized", &InitializedParams{})
}

// monitor waits on the subprocess and reports the exit. It owns the
// single Wait call on the process; done is closed once the process is
// gone so Stop can observe the exit without a second Wait. The
// generation check drops events from sessions a later Stop or Start
// replaced.
func (c *Controller) monitor(proc Process, gen uint64, done chan struct{}) {
	err := proc.Wait()
	close(done)

	c.mu.Lock()
	stale := gen != c.generation
	unexpected := !stale && c.state == Running
	if unexpected {
		c.transport.Close()
		if c.cancel != nil {
			c.cancel()
		}
		c.transport = nil
		c.process = nil
		c.procDone = nil
		c.sessionID = ""
		c.serverInfo = nil
		c.setState(Stopped)
	}
	c.mu.Unlock()

	if stale {
		return
	}

	select {
	case c.exits <- ExitEvent{Err: err, Unexpected: unexpected}:
	default:
	}
}

// Stop shuts the session down: a graceful shutdown/exit exchange,
// falling back to kill after the shutdown timeout. Returns
// ErrNotStarted when nothing is running.
//
// A caller can only ever observe the Starting state from a concurrent
// goroutine: Start is synchronous and resolves to Running or Stopped
// before it returns. Lifecycle calls are expected to be serialized by
// the host, so Stop treats Starting as not started; the in-flight
// Start wins and completes normally.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Running {
		c.mu.Unlock()
		return ErrNotStarted
	}
	proc := c.process
	done := c.procDone
	transport := c.transport
	cancel := c.cancel
	c.generation++
	c.transport = nil
	c.process = nil
	c.procDone = nil
	c.sessionID = ""
	c.serverInfo = nil
	c.setState(Stopped)
	c.mu.Unlock()

	// Graceful: shutdown request, exit notification, bounded wait. The
	// monitor goroutine owns the process Wait; done closing means the
	// process is gone.
	sctx, scancel := context.WithTimeout(ctx, c.opts.ShutdownTimeout)
	defer scancel()

	_ = transport.Call(sctx, "shutdown", nil, nil)
	_ = transport.Notify(sctx, "exit", nil)

	select {
	case <-done:
	case <-time.After(c.opts.ShutdownTimeout):
		proc.Kill()
		<-done
	}

	transport.Close()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Restart stops the session if running and starts a new one. The new
// session gets a fresh ID; observers see the full transition sequence.
func (c *Controller) Restart(ctx context.Context) error {
	if err := c.Stop(ctx); err != nil && err != ErrNotStarted {
		return err
	}
	return c.Start(ctx)
}
