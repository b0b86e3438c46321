package session

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Severity is the LSP MessageType severity scale.
type Severity int

const (
	SeverityError   Severity = 1
	SeverityWarning Severity = 2
	SeverityInfo    Severity = 3
	SeverityLog     Severity = 4
)

// String returns the severity label.
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	case SeverityLog:
		return "log"
	default:
		return "info"
	}
}

// LogSink receives server messages destined for the client's log.
type LogSink interface {
	Log(severity Severity, message string)
}

// PopupSink surfaces messages the server asked to show to the user.
// Severity here is already collapsed: 1 error, 2 warning, everything
// else info.
type PopupSink interface {
	Popup(severity Severity, message string)
}

// Router dispatches server notifications to the log and popup sinks.
//
// window/logMessage goes to the log only. window/showMessage goes to
// the log and the popup sink. Every other notification is logged
// generically, except the three classes the server emits routinely and
// the client has no use for: window/* variants not handled above,
// internal $/ methods, and publishDiagnostics.
type Router struct {
	log    LogSink
	popup  PopupSink
	routes map[string]func(json.RawMessage) error
}

// NewRouter creates a router over the given sinks.
func NewRouter(log LogSink, popup PopupSink) *Router {
	r := &Router{log: log, popup: popup}
	r.routes = map[string]func(json.RawMessage) error{
		MethodLogMessage:  r.handleLogMessage,
		MethodShowMessage: r.handleShowMessage,
	}
	return r
}

// Handle processes one notification. A handler that fails or panics is
// contained: the error is logged and Handle returns normally, so one
// bad payload never takes the session down.
func (r *Router) Handle(method string, params json.RawMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Log(SeverityError, (&HandlerError{
				Method: method,
				Err:    fmt.Errorf("panic: %v", rec),
			}).Error())
		}
	}()

	handler, ok := r.routes[method]
	if !ok {
		r.handleGeneric(method, params)
		return
	}

	if err := handler(params); err != nil {
		r.log.Log(SeverityError, (&HandlerError{Method: method, Err: err}).Error())
	}
}

func (r *Router) handleLogMessage(params json.RawMessage) error {
	var msg MessageParams
	if err := json.Unmarshal(params, &msg); err != nil {
		return fmt.Errorf("unmarshal params: %w", err)
	}
	r.log.Log(Severity(msg.Type), msg.Message)
	return nil
}

func (r *Router) handleShowMessage(params json.RawMessage) error {
	var msg MessageParams
	if err := json.Unmarshal(params, &msg); err != nil {
		return fmt.Errorf("unmarshal params: %w", err)
	}
	r.log.Log(Severity(msg.Type), msg.Message)
	r.popup.Popup(collapseSeverity(msg.Type), msg.Message)
	return nil
}

// handleGeneric logs methods with no dedicated handler, minus the
// routine noise.
func (r *Router) handleGeneric(method string, params json.RawMessage) {
	if suppressed(method) {
		return
	}
	r.log.Log(SeverityInfo, fmt.Sprintf("Notification: %s %s", method, params))
}

// suppressed reports whether a method is dropped from the generic log.
func suppressed(method string) bool {
	return strings.HasPrefix(method, "window/") ||
		strings.HasPrefix(method, "$/") ||
		method == MethodPublishDiagnostics
}

// collapseSeverity maps a raw MessageType onto the three popup levels.
func collapseSeverity(t int) Severity {
	switch t {
	case 1:
		return SeverityError
	case 2:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
