// Package host assembles the lspherd runtime: configuration, binary
// provisioning, the server session, and notification routing, behind
// one lifecycle surface for the command layer and embedding editors.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dshills/lspherd/internal/config"
	"github.com/dshills/lspherd/internal/install"
	"github.com/dshills/lspherd/internal/locate"
	"github.com/dshills/lspherd/internal/platform"
	"github.com/dshills/lspherd/internal/release"
	"github.com/dshills/lspherd/internal/session"
)

// Options configures a Host.
type Options struct {
	// Config is the resolved configuration.
	Config config.Config
	// Logger receives host and server logs; nil means slog.Default().
	Logger *slog.Logger
	// Popup surfaces showMessage notifications; nil means stderr lines.
	Popup session.PopupSink
	// Supervisor tunes crash recovery; zero value means defaults.
	Supervisor session.SupervisorConfig
	// Runner overrides subprocess launching, for tests.
	Runner session.Runner
}

// Host ties the provisioning and session layers together.
type Host struct {
	logger *slog.Logger
	popup  session.PopupSink
	supCfg session.SupervisorConfig
	runner session.Runner

	mu         sync.Mutex
	cfg        config.Config
	controller *session.Controller
	supervisor *session.Supervisor
	router     *session.Router
	execPath   string
	installTag string

	// newLocator is an injection seam for tests.
	newLocator func(cfg config.Config) (*locate.Locator, error)
}

// New creates a Host. Nothing is launched until Start.
func New(opts Options) *Host {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	popup := opts.Popup
	if popup == nil {
		popup = WriterPopup{W: os.Stderr}
	}
	supCfg := opts.Supervisor
	if supCfg.MaxRestarts == 0 {
		supCfg = session.DefaultSupervisorConfig()
	}

	return &Host{
		logger:     logger,
		popup:      popup,
		supCfg:     supCfg,
		runner:     opts.Runner,
		cfg:        opts.Config,
		newLocator: buildLocator,
	}
}

// buildLocator assembles the executable locator for a configuration.
func buildLocator(cfg config.Config) (*locate.Locator, error) {
	storageDir, err := cfg.StorageDir()
	if err != nil {
		return nil, err
	}

	return locate.New(locate.Options{
		ConfiguredPath: cfg.Server.Path,
		Naming:         platform.DefaultNaming,
		Platform:       platform.Detect(),
		StorageDir:     storageDir,
		Fetcher:        release.NewFetcher(cfg.Release.Owner, cfg.Release.Repo),
		Downloader:     install.New(),
	}), nil
}

// locator builds the locator for the current configuration.
func (h *Host) locator() (*locate.Locator, error) {
	return h.newLocator(h.cfg)
}

// Start resolves the server executable and brings the session up under
// supervision.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startLocked(ctx)
}

// supervisorActive reports whether a supervisor still owns (or is
// about to re-own) a subprocess. Restarting counts: the crash-loop
// backoff will launch again unless the supervisor is stopped first.
func supervisorActive(s *session.Supervisor) bool {
	if s == nil {
		return false
	}
	switch s.State() {
	case session.SupervisorRunning, session.SupervisorRestarting:
		return true
	default:
		return false
	}
}

func (h *Host) startLocked(ctx context.Context) error {
	if supervisorActive(h.supervisor) {
		return session.ErrAlreadyStarted
	}

	loc, err := h.locator()
	if err != nil {
		return fmt.Errorf("build locator: %w", err)
	}

	path, err := loc.Resolve(ctx)
	if err != nil {
		return err
	}
	h.execPath = path
	h.logger.Info("server executable resolved", "path", path)

	controller := session.NewController(session.ControllerOptions{
		Path:   path,
		Args:   h.cfg.LaunchArgs(),
		Runner: h.runner,
	})

	h.router = session.NewRouter(SlogSink{Logger: h.logger}, h.popup)
	controller.SetNotificationHandler(h.router.Handle)

	logger := h.logger
	controller.OnStateChange(func(old, new session.State) {
		logger.Info("session state changed", "from", old.String(), "to", new.String())
	})

	supervisor := session.NewSupervisor(controller, h.supCfg)
	if err := supervisor.Start(ctx); err != nil {
		return err
	}

	h.controller = controller
	h.supervisor = supervisor

	go h.drainSupervisorEvents(supervisor)
	return nil
}

// drainSupervisorEvents logs crash-recovery progress.
func (h *Host) drainSupervisorEvents(s *session.Supervisor) {
	for ev := range s.Events() {
		switch ev.Type {
		case session.SupervisorEventCrash:
			h.logger.Warn("server crashed", "attempt", ev.Attempt, "error", ev.Error)
		case session.SupervisorEventRestarting:
			h.logger.Info("restarting server", "attempt", ev.Attempt, "backoff", ev.NextRetry)
		case session.SupervisorEventRecovered:
			h.logger.Info("server recovered", "attempt", ev.Attempt)
		case session.SupervisorEventFailed:
			h.logger.Error("server recovery abandoned", "attempt", ev.Attempt, "error", ev.Error)
		}
	}
}

// Stop shuts the session down.
func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopLocked(ctx)
}

func (h *Host) stopLocked(ctx context.Context) error {
	if h.supervisor == nil {
		return session.ErrNotStarted
	}
	err := h.supervisor.Stop(ctx)
	h.supervisor = nil
	h.controller = nil
	return err
}

// Restart tears the session down and brings it back up, re-resolving
// the executable so configuration changes take effect.
func (h *Host) Restart(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.supervisor != nil {
		if err := h.stopLocked(ctx); err != nil && err != session.ErrNotStarted {
			return err
		}
	}
	return h.startLocked(ctx)
}

// Reconfigure swaps in a new configuration and restarts the session if
// one was running.
func (h *Host) Reconfigure(ctx context.Context, cfg config.Config) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	active := supervisorActive(h.supervisor)
	h.cfg = cfg

	if !active {
		return nil
	}
	if err := h.stopLocked(ctx); err != nil && err != session.ErrNotStarted {
		return err
	}
	return h.startLocked(ctx)
}

// Update replaces the cached binary with the latest release and
// restarts the session if one was running. Returns the installed
// release tag.
func (h *Host) Update(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	active := supervisorActive(h.supervisor)
	if active {
		if err := h.stopLocked(ctx); err != nil && err != session.ErrNotStarted {
			return "", err
		}
	}

	loc, err := h.locator()
	if err != nil {
		return "", fmt.Errorf("build locator: %w", err)
	}
	if err := loc.RemoveCached(); err != nil {
		return "", fmt.Errorf("remove cached binary: %w", err)
	}

	tag, err := loc.Install(ctx)
	if err != nil {
		return "", err
	}
	h.installTag = tag
	h.logger.Info("server updated", "tag", tag)

	if active {
		if err := h.startLocked(ctx); err != nil {
			return tag, err
		}
	}
	return tag, nil
}

// DebugInfo is a point-in-time snapshot of the host for diagnostics.
type DebugInfo struct {
	State      string `json:"state"`
	Executable string `json:"executable,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
	PID        int    `json:"pid,omitempty"`
	ServerName string `json:"serverName,omitempty"`
	ServerVer  string `json:"serverVersion,omitempty"`
	InstallTag string `json:"installTag,omitempty"`
	Restarts   int    `json:"restarts"`
}

// Info reports the current session for operator diagnostics.
func (h *Host) Info() DebugInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	info := DebugInfo{
		State:      session.Stopped.String(),
		Executable: h.execPath,
		InstallTag: h.installTag,
	}
	if h.controller != nil {
		info.State = h.controller.State().String()
		info.SessionID = h.controller.SessionID()
		info.PID = h.controller.PID()
		if si := h.controller.ServerInfo(); si != nil {
			info.ServerName = si.Name
			info.ServerVer = si.Version
		}
	}
	if h.supervisor != nil {
		info.Restarts = h.supervisor.RestartCount()
	}
	return info
}

// WatchConfig reloads the file at path on change and reconfigures the
// host. The returned closer stops the watcher.
func (h *Host) WatchConfig(ctx context.Context, path string) (func() error, error) {
	watcher, err := config.NewWatcher(path)
	if err != nil {
		return nil, err
	}

	watcher.OnChange(func() {
		cfg, err := config.Load(path)
		if err != nil {
			h.logger.Error("config reload failed", "path", path, "error", err)
			return
		}
		h.logger.Info("config changed, restarting session", "path", path)
		if err := h.Reconfigure(ctx, cfg); err != nil {
			h.logger.Error("reconfigure failed", "error", err)
		}
	})

	return watcher.Close, nil
}
