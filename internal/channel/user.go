// Package channel multiplexes one connection into several channels, each
// bound to an application, and interprets the server commands a user types.
//
// Locks are taken in the order application, user, connection queue. A User
// never calls into an application while holding its own lock.
package channel

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/andy6609/textserver/internal/app"
	"github.com/andy6609/textserver/internal/session"
)

var errUserClosed = errors.New("user is closed")

// Conn is the part of a connection a User needs.
type Conn interface {
	ID() string
	Privilege() int
	Output(line string)
	Stop()
}

// Env holds the process-wide collaborators shared by every user.
type Env struct {
	Registry *session.Registry
	Apps     *app.Registry
	Shutdown *session.Shutdown
	Logger   *slog.Logger
}

// User routes the input of one connection to its channels and tags the
// output of non-current channels with their id.
type User struct {
	conn   Conn
	env    Env
	logger *slog.Logger

	mu       sync.Mutex
	channels map[string]*Channel
	order    []*Channel
	current  *Channel
	closed   bool
}

func NewUser(conn Conn, env Env) *User {
	logger := env.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &User{
		conn:     conn,
		env:      env,
		logger:   logger.With("user", conn.ID()),
		channels: make(map[string]*Channel),
	}
}

// Handler returns the session.HandlerFactory that attaches a User to every
// new connection.
func Handler(env Env) session.HandlerFactory {
	return func(c *session.Connection) session.LineHandler {
		u := NewUser(c, env)
		c.Output(session.Msg(fmt.Sprintf("Welcome, %s. Type %chelp for commands.", c.ID(), session.Sentinel)))
		return u
	}
}

// HandleLine routes one input line.
func (u *User) HandleLine(line string) error {
	switch {
	case strings.HasPrefix(line, string([]byte{session.Sentinel, session.Sentinel})):
		return u.toCurrent(line[1:])
	case line != "" && line[0] == session.Sentinel:
		return u.command(line[1:])
	}

	if id, rest, ok := SplitPrefix(line); ok {
		ch := u.Channel(id)
		if ch == nil {
			u.conn.Output(session.Err("unknown channel " + id))
			return nil
		}
		u.input(ch, rest)
		return nil
	}
	return u.toCurrent(line)
}

func (u *User) toCurrent(line string) error {
	ch := u.Current()
	if ch == nil {
		if strings.TrimSpace(line) != "" {
			u.conn.Output(session.Err("no current channel"))
		}
		return nil
	}
	u.input(ch, line)
	return nil
}

func (u *User) input(ch *Channel, line string) {
	if err := ch.Input(line); err != nil {
		u.conn.Output(session.Err(err.Error()))
	}
}

// Current returns the current channel, or nil.
func (u *User) Current() *Channel {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.current
}

// Channel returns the open channel with the given id, or nil.
func (u *User) Channel(id string) *Channel {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.channels[id]
}

// Channels returns the ids of open channels in the order they were opened.
func (u *User) Channels() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	ids := make([]string, 0, len(u.order))
	for _, ch := range u.order {
		ids = append(ids, ch.id)
	}
	return ids
}

// Open attaches a new channel to application appID. The first open channel
// becomes current.
func (u *User) Open(id string, lead bool, args []string) (*Channel, error) {
	appID, qual, err := ParseID(id)
	if err != nil {
		return nil, err
	}

	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil, errUserClosed
	}
	if _, ok := u.channels[id]; ok {
		u.mu.Unlock()
		return nil, fmt.Errorf("channel %s is already open", id)
	}
	u.mu.Unlock()

	a, err := u.env.Apps.Open(appID, args)
	if err != nil {
		return nil, err
	}

	ch := &Channel{id: id, appID: appID, qual: qual, lead: lead, user: u, app: a}

	// registered before the application sees it so its first output routes
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil, errUserClosed
	}
	if _, ok := u.channels[id]; ok {
		u.mu.Unlock()
		return nil, fmt.Errorf("channel %s is already open", id)
	}
	u.channels[id] = ch
	u.order = append(u.order, ch)
	if u.current == nil {
		u.current = ch
	}
	u.mu.Unlock()

	sess, err := a.NewChannel(qual, lead, ch)
	if err != nil {
		u.remove(ch)
		return nil, &app.OpenError{ID: id, Msg: err.Error(), Err: err}
	}
	ch.sess = sess
	session.OpenChannels.Inc()

	u.logger.Info("channel opened", "channel", id, "lead", lead)
	return ch, nil
}

// CloseChannel closes the channel id, or the current channel when id is empty.
func (u *User) CloseChannel(id string) error {
	u.mu.Lock()
	ch := u.current
	if id != "" {
		ch = u.channels[id]
	}
	u.mu.Unlock()
	if ch == nil {
		if id == "" {
			return fmt.Errorf("no current channel")
		}
		return fmt.Errorf("unknown channel %s", id)
	}

	if !u.remove(ch) {
		return fmt.Errorf("unknown channel %s", ch.id)
	}
	ch.close()
	session.OpenChannels.Dec()

	u.logger.Info("channel closed", "channel", ch.id)
	return nil
}

// Switch makes channel id current.
func (u *User) Switch(id string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	ch, ok := u.channels[id]
	if !ok {
		return fmt.Errorf("unknown channel %s", id)
	}
	u.current = ch
	return nil
}

// remove drops ch from the channel table and picks a new current channel
// if needed. It reports whether ch was present.
func (u *User) remove(ch *Channel) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.channels[ch.id] != ch {
		return false
	}
	delete(u.channels, ch.id)
	for i, c := range u.order {
		if c == ch {
			u.order = append(u.order[:i], u.order[i+1:]...)
			break
		}
	}
	if u.current == ch {
		u.current = nil
		if n := len(u.order); n > 0 {
			u.current = u.order[n-1]
		}
	}
	return true
}

func (u *User) deliver(ch *Channel, line string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.channels[ch.id] != ch {
		return
	}
	if u.current == ch {
		u.conn.Output(escape(line))
		return
	}
	u.conn.Output(Tag(ch.id, line))
}

func (u *User) detach(ch *Channel) {
	if !u.remove(ch) {
		return
	}
	session.OpenChannels.Dec()
	u.conn.Output(session.Msg("channel " + ch.id + " was closed"))
	u.logger.Info("channel detached by application", "channel", ch.id)
}

// Close closes every channel. It runs when the connection stops.
func (u *User) Close() {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return
	}
	u.closed = true
	chans := u.order
	u.order = nil
	u.channels = make(map[string]*Channel)
	u.current = nil
	u.mu.Unlock()

	for _, ch := range chans {
		ch.close()
		session.OpenChannels.Dec()
	}
}
