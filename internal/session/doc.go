// Package session runs one language-server session over stdio.
//
// Controller owns the subprocess lifecycle: launch, the
// initialize/initialized handshake, graceful shutdown, and restart.
// Transport frames JSON-RPC messages with Content-Length headers and
// delivers server notifications in arrival order. Router classifies
// those notifications into log and popup sinks. Supervisor restarts
// crashed sessions with exponential backoff.
package session
