package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"
)

// testConn wires a Transport to an in-memory peer.
type testConn struct {
	transport *Transport
	// fromClient reads what the transport sends.
	fromClient *bufio.Reader
	// toClient writes raw bytes into the transport's read loop.
	toClient io.WriteCloser
}

func newTestConn(t *testing.T) *testConn {
	t.Helper()

	clientReads, serverWrites := io.Pipe()
	serverReads, clientWrites := io.Pipe()

	tr := NewTransport(clientReads, clientWrites, clientWrites)
	tr.Start(context.Background())
	t.Cleanup(func() { tr.Close() })

	return &testConn{
		transport:  tr,
		fromClient: bufio.NewReader(serverReads),
		toClient:   serverWrites,
	}
}

// readFrame reads one Content-Length framed message from the client.
func (c *testConn) readFrame(t *testing.T) json.RawMessage {
	t.Helper()

	var length int
	for {
		line, err := c.fromClient.ReadString('\n')
		if err != nil {
			t.Fatalf("read header: %v", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if strings.HasPrefix(strings.ToLower(line), "content-length:") {
			v := strings.TrimSpace(strings.SplitN(line, ":", 2)[1])
			length, _ = strconv.Atoi(v)
		}
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(c.fromClient, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return body
}

// writeFrame sends a framed message into the transport.
func (c *testConn) writeFrame(t *testing.T, msg string) {
	t.Helper()
	frame := fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(msg), msg)
	if _, err := io.WriteString(c.toClient, frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestCall_RoundTrip(t *testing.T) {
	c := newTestConn(t)

	type result struct {
		val string
		err error
	}
	done := make(chan result, 1)

	go func() {
		var out struct {
			Greeting string `json:"greeting"`
		}
		err := c.transport.Call(context.Background(), "demo/hello", map[string]string{"name": "x"}, &out)
		done <- result{out.Greeting, err}
	}()

	frame := c.readFrame(t)
	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		t.Fatalf("client sent invalid JSON: %v", err)
	}
	if req.JSONRPC != "2.0" || req.Method != "demo/hello" || req.ID == 0 {
		t.Errorf("request = %+v", req)
	}

	c.writeFrame(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"greeting":"hi"}}`, req.ID))

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Call() error = %v", r.err)
		}
		if r.val != "hi" {
			t.Errorf("result = %q, want hi", r.val)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Call did not return")
	}
}

func TestCall_ServerError(t *testing.T) {
	c := newTestConn(t)

	done := make(chan error, 1)
	go func() {
		done <- c.transport.Call(context.Background(), "demo/fail", nil, nil)
	}()

	frame := c.readFrame(t)
	var req Request
	json.Unmarshal(frame, &req)

	c.writeFrame(t, fmt.Sprintf(
		`{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"method not found"}}`, req.ID))

	select {
	case err := <-done:
		var rpcErr *RPCError
		if !asRPCError(err, &rpcErr) {
			t.Fatalf("expected *RPCError, got %T: %v", err, err)
		}
		if rpcErr.Code != CodeMethodNotFound {
			t.Errorf("code = %d", rpcErr.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Call did not return")
	}
}

func asRPCError(err error, target **RPCError) bool {
	e, ok := err.(*RPCError)
	if ok {
		*target = e
	}
	return ok
}

func TestNotifications_ArrivalOrder(t *testing.T) {
	c := newTestConn(t)

	got := make(chan string, 16)
	c.transport.SetNotificationHandler(func(method string, params json.RawMessage) {
		var p MessageParams
		json.Unmarshal(params, &p)
		got <- p.Message
	})

	for i := 0; i < 5; i++ {
		c.writeFrame(t, fmt.Sprintf(
			`{"jsonrpc":"2.0","method":"window/logMessage","params":{"type":4,"message":"n%d"}}`, i))
	}

	for i := 0; i < 5; i++ {
		select {
		case msg := <-got:
			if want := fmt.Sprintf("n%d", i); msg != want {
				t.Fatalf("notification %d = %q, want %q (order violated)", i, msg, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("notification %d never arrived", i)
		}
	}
}

func TestNotify_Framing(t *testing.T) {
	c := newTestConn(t)

	go c.transport.Notify(context.Background(), "initialized", &InitializedParams{})

	frame := c.readFrame(t)
	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		t.Fatal(err)
	}
	if req.Method != "initialized" {
		t.Errorf("method = %q", req.Method)
	}
	if req.ID != 0 {
		t.Error("notifications must not carry an id")
	}
}

func TestClose_UnblocksPendingCall(t *testing.T) {
	c := newTestConn(t)

	done := make(chan error, 1)
	go func() {
		done <- c.transport.Call(context.Background(), "demo/slow", nil, nil)
	}()

	c.readFrame(t)
	c.transport.Close()

	select {
	case err := <-done:
		if err != ErrShutdown {
			t.Errorf("Call() after Close = %v, want ErrShutdown", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Call stayed blocked after Close")
	}

	if !c.transport.IsClosed() {
		t.Error("IsClosed() = false after Close")
	}
	if err := c.transport.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestCall_ContextCancellation(t *testing.T) {
	c := newTestConn(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.transport.Call(ctx, "demo/slow", nil, nil)
	}()

	c.readFrame(t)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Call() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Call ignored context cancellation")
	}
}

func TestReadLoop_SkipsGarbage(t *testing.T) {
	c := newTestConn(t)

	got := make(chan string, 1)
	c.transport.SetNotificationHandler(func(method string, _ json.RawMessage) {
		got <- method
	})

	// A frame of non-JSON must not wedge the loop.
	c.writeFrame(t, `this is not json`)
	c.writeFrame(t, `{"jsonrpc":"2.0","method":"demo/after","params":{}}`)

	select {
	case method := <-got:
		if method != "demo/after" {
			t.Errorf("method = %q", method)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("read loop stalled on malformed frame")
	}
}
