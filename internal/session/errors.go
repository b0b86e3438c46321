package session

import (
	"errors"
	"fmt"
)

// Standard errors returned by the session layer.
var (
	// ErrNotStarted indicates the session has not been started.
	ErrNotStarted = errors.New("session not started")

	// ErrAlreadyStarted indicates the session is already running.
	ErrAlreadyStarted = errors.New("session already started")

	// ErrShutdown indicates the transport has been shut down.
	ErrShutdown = errors.New("session shut down")

	// ErrSupervisorFailed indicates the supervisor gave up restarting.
	ErrSupervisorFailed = errors.New("supervisor exceeded restart limit")
)

// StartError reports a failed session start: the subprocess could not
// be launched or the transport handshake failed. It aborts only the
// affected start or restart call; the host stays usable.
type StartError struct {
	Path string
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Path, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// HandlerError reports a notification handler that panicked or
// returned an error. It is contained within the router and only ever
// logged.
type HandlerError struct {
	Method string
	Err    error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("notification handler %s: %v", e.Method, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// RPCError represents a JSON-RPC error from the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeServerNotInitialized = -32002
	CodeRequestCancelled     = -32800
)
