// Package main is the entry point for lspherd, the DWScript language
// server manager.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dshills/lspherd/internal/config"
	"github.com/dshills/lspherd/internal/host"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type options struct {
	configPath string
	logLevel   string
	debug      bool
	watch      bool
}

func main() {
	os.Exit(run())
}

func run() int {
	opts, command := parseFlags()

	if opts.debug {
		opts.logLevel = "debug"
	}
	logger, err := buildLogger(opts.logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	cfgPath := opts.configPath
	if cfgPath == "" {
		cfgPath, err = config.DefaultPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	h := host.New(host.Options{Config: cfg, Logger: logger})

	switch command {
	case "run":
		return runServe(h, cfgPath, opts, logger)
	case "info":
		return runInfo(h)
	case "update":
		return runUpdate(h)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", command)
		flag.Usage()
		return 2
	}
}

// runServe brings the session up and holds it until a signal arrives.
// SIGHUP restarts the server; SIGINT and SIGTERM shut down.
func runServe(h *host.Host, cfgPath string, opts options, logger *slog.Logger) int {
	ctx := context.Background()

	if err := h.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start: %v\n", err)
		return 1
	}
	defer h.Stop(ctx)

	if opts.watch {
		closeWatch, err := h.WatchConfig(ctx, cfgPath)
		if err != nil {
			logger.Warn("config watch unavailable", "path", cfgPath, "error", err)
		} else {
			defer closeWatch()
		}
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range signals {
		switch sig {
		case syscall.SIGHUP:
			logger.Info("restart requested")
			if err := h.Restart(ctx); err != nil {
				logger.Error("restart failed", "error", err)
			}
		default:
			logger.Info("shutting down", "signal", sig.String())
			return 0
		}
	}
	return 0
}

// runInfo prints the current session snapshot as JSON.
func runInfo(h *host.Host) int {
	data, err := json.MarshalIndent(h.Info(), "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

// runUpdate replaces the cached server binary with the latest release.
func runUpdate(h *host.Host) int {
	tag, err := h.Update(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: update failed: %v\n", err)
		return 1
	}
	fmt.Printf("Installed %s\n", tag)
	return 0
}

func buildLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level %q (must be debug, info, warn, or error)", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

func parseFlags() (options, string) {
	var opts options
	var showVersion bool
	var showHelp bool

	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.configPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.BoolVar(&opts.debug, "debug", false, "Enable debug-level logging")
	flag.BoolVar(&opts.debug, "d", false, "Enable debug-level logging (shorthand)")
	flag.BoolVar(&opts.watch, "watch", true, "Restart the server when the config file changes")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "lspherd - DWScript language server manager\n\n")
		fmt.Fprintf(os.Stderr, "Usage: lspherd [options] [command]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run       Start and supervise the language server (default)\n")
		fmt.Fprintf(os.Stderr, "  info      Print the current session snapshot\n")
		fmt.Fprintf(os.Stderr, "  update    Install the latest server release\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  lspherd                     Run with the default config\n")
		fmt.Fprintf(os.Stderr, "  lspherd -c lspherd.toml     Run with an explicit config\n")
		fmt.Fprintf(os.Stderr, "  lspherd -d run              Run with debug logging\n")
		fmt.Fprintf(os.Stderr, "  lspherd update              Fetch the latest server binary\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("lspherd %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	command := "run"
	if args := flag.Args(); len(args) > 0 {
		command = args[0]
	}
	return opts, command
}
