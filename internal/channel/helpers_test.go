package channel

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andy6609/textserver/internal/app"
	"github.com/andy6609/textserver/internal/session"
)

type fakeConn struct {
	id        string
	privilege int
	lines     chan string

	mu      sync.Mutex
	stopped bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, lines: make(chan string, 256)}
}

func (c *fakeConn) ID() string         { return c.id }
func (c *fakeConn) Privilege() int     { return c.privilege }
func (c *fakeConn) Output(line string) { c.lines <- line }

func (c *fakeConn) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
}

func (c *fakeConn) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// next returns the next output line or fails.
func (c *fakeConn) next(t *testing.T) string {
	t.Helper()
	select {
	case s := <-c.lines:
		return s
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for output")
	}
	return ""
}

func (c *fakeConn) expectEmpty(t *testing.T) {
	t.Helper()
	select {
	case s := <-c.lines:
		t.Fatalf("unexpected output %q", s)
	default:
	}
}

// echoApp records input per qualifier and lets tests push output.
type echoApp struct {
	id string

	mu       sync.Mutex
	sessions map[string]*echoSession
	inputs   []string
	closed   bool
}

type echoSession struct {
	app    *echoApp
	qual   string
	lead   bool
	ep     app.Endpoint
	closed bool
}

func (a *echoApp) ID() string { return a.id }

func (a *echoApp) NewChannel(qual string, lead bool, ep app.Endpoint) (app.Session, error) {
	if qual == "fail" {
		return nil, errors.New("no room for you")
	}
	s := &echoSession{app: a, qual: qual, lead: lead, ep: ep}
	a.mu.Lock()
	a.sessions[qual] = s
	a.mu.Unlock()
	return s, nil
}

func (a *echoApp) Close() error {
	a.mu.Lock()
	a.closed = true
	sessions := a.sessions
	a.sessions = map[string]*echoSession{}
	a.mu.Unlock()
	for _, s := range sessions {
		s.ep.Detach()
	}
	return nil
}

func (a *echoApp) emit(qual, line string) {
	a.mu.Lock()
	s := a.sessions[qual]
	a.mu.Unlock()
	s.ep.Deliver(line)
}

func (a *echoApp) session(qual string) *echoSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessions[qual]
}

func (a *echoApp) received() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.inputs...)
}

func (s *echoSession) Input(line string) error {
	s.app.mu.Lock()
	s.app.inputs = append(s.app.inputs, s.qual+":"+line)
	s.app.mu.Unlock()
	if line == "boom" {
		return errors.New("it broke")
	}
	return nil
}

func (s *echoSession) Close() {
	s.app.mu.Lock()
	s.closed = true
	s.app.mu.Unlock()
}

type echoFactory struct {
	mu   sync.Mutex
	apps map[string]*echoApp
}

func (f *echoFactory) new(id string, _ []string) (app.Application, error) {
	a := &echoApp{id: id, sessions: map[string]*echoSession{}}
	f.mu.Lock()
	f.apps[id] = a
	f.mu.Unlock()
	return a, nil
}

func (f *echoFactory) get(id string) *echoApp {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apps[id]
}

func newTestUser(t *testing.T, id string) (*User, *fakeConn, *echoFactory) {
	t.Helper()
	f := &echoFactory{apps: map[string]*echoApp{}}
	env := Env{
		Registry: session.NewRegistry(nil),
		Apps:     app.NewRegistry(f.new, nil),
	}
	conn := newFakeConn(id)
	return NewUser(conn, env), conn, f
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
