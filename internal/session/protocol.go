package session

import "encoding/json"

// The session layer treats the server as opaque: only the lifecycle
// handshake and the window/* notification payloads are typed here.

// InitializeParams is sent as the first request of a session.
type InitializeParams struct {
	ProcessID    int                `json:"processId"`
	RootURI      string             `json:"rootUri,omitempty"`
	Capabilities ClientCapabilities `json:"capabilities"`
	ClientInfo   *ClientInfo        `json:"clientInfo,omitempty"`
}

// ClientCapabilities advertises what this client understands. The
// manager itself consumes nothing beyond notifications, so the
// structure stays open-ended.
type ClientCapabilities struct {
	Workspace    map[string]any `json:"workspace,omitempty"`
	TextDocument map[string]any `json:"textDocument,omitempty"`
	Window       map[string]any `json:"window,omitempty"`
}

// ClientInfo identifies the client to the server.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializeResult is the server's handshake response.
type InitializeResult struct {
	Capabilities json.RawMessage `json:"capabilities"`
	ServerInfo   *ServerInfo     `json:"serverInfo,omitempty"`
}

// ServerInfo identifies the server from initialization.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializedParams is the (empty) initialized notification payload.
type InitializedParams struct{}

// MessageParams is the payload of window/logMessage and
// window/showMessage notifications.
type MessageParams struct {
	// Type is the severity code, 1 (error) through 4 (log).
	Type    int    `json:"type"`
	Message string `json:"message"`
}

// Notification method names handled or filtered by the router.
const (
	MethodLogMessage         = "window/logMessage"
	MethodShowMessage        = "window/showMessage"
	MethodPublishDiagnostics = "textDocument/publishDiagnostics"
)
