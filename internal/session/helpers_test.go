package session

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// testClient is the far end of a socket. It collects every line the server
// writes so that server writes never block on the test.
type testClient struct {
	conn  net.Conn
	lines chan string
	done  chan struct{}
}

func newTestClient(t *testing.T, conn net.Conn) *testClient {
	t.Helper()
	c := &testClient{conn: conn, lines: make(chan string, 256), done: make(chan struct{})}
	go func() {
		defer close(c.done)
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if line != "" {
				c.lines <- strings.TrimRight(line, "\r\n")
			}
			if err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

func (c *testClient) send(t *testing.T, line string) {
	t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("send %q: %v", line, err)
	}
}

// waitClosed waits until the server side closed the socket.
func (c *testClient) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for the server to close the socket")
	}
}

func waitForLine(t *testing.T, ch <-chan string, substr string) string {
	t.Helper()
	deadline := time.NewTimer(2 * time.Second)
	defer deadline.Stop()
	for {
		select {
		case s := <-ch:
			if strings.Contains(s, substr) {
				return s
			}
		case <-deadline.C:
			t.Fatalf("timeout waiting for line containing %q", substr)
		}
	}
}

// expectNoLine fails if a line containing substr shows up within d.
func expectNoLine(t *testing.T, ch <-chan string, substr string, d time.Duration) {
	t.Helper()
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	for {
		select {
		case s := <-ch:
			if strings.Contains(s, substr) {
				t.Fatalf("unexpected line %q", s)
			}
		case <-deadline.C:
			return
		}
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

// recordingHandler is a LineHandler that records its input and reacts to a
// few test commands.
type recordingHandler struct {
	c  *Connection
	mu sync.Mutex

	lines  []string
	closed bool
}

func (h *recordingHandler) HandleLine(line string) error {
	h.mu.Lock()
	h.lines = append(h.lines, line)
	h.mu.Unlock()

	switch {
	case line == "panic":
		panic("boom")
	case line == "fail":
		return errorString("handler failed")
	case line == "quit":
		h.c.Stop()
	case strings.HasPrefix(line, "shout "):
		h.c.registry.Broadcast(Msg(h.c.ID() + ": " + strings.TrimPrefix(line, "shout ")))
	default:
		h.c.Output("echo " + line)
	}
	return nil
}

func (h *recordingHandler) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
}

func (h *recordingHandler) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *recordingHandler) received() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.lines...)
}

func recordingFactory(out *[]*recordingHandler, mu *sync.Mutex) HandlerFactory {
	return func(c *Connection) LineHandler {
		h := &recordingHandler{c: c}
		mu.Lock()
		*out = append(*out, h)
		mu.Unlock()
		return h
	}
}
