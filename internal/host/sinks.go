package host

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/dshills/lspherd/internal/session"
)

// SlogSink adapts a *slog.Logger to the session log sink. Server
// messages land under a fixed "server" source attribute so they are
// distinguishable from lspherd's own logs.
type SlogSink struct {
	Logger *slog.Logger
}

// Log writes a server message at the slog level matching its severity.
func (s SlogSink) Log(severity session.Severity, message string) {
	logger := s.Logger.With("source", "server")
	switch severity {
	case session.SeverityError:
		logger.Error(message)
	case session.SeverityWarning:
		logger.Warn(message)
	case session.SeverityLog:
		logger.Debug(message)
	default:
		logger.Info(message)
	}
}

// WriterPopup renders popups as single lines on a writer, typically
// stderr. Editors embedding the host replace this with a real UI sink.
type WriterPopup struct {
	W io.Writer
}

// Popup writes one severity-tagged line.
func (p WriterPopup) Popup(severity session.Severity, message string) {
	fmt.Fprintf(p.W, "[%s] %s\n", severity, message)
}
