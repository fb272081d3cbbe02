package session

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/andy6609/textserver/internal/userdb"
)

const maxNameLen = 32

// Registry maps user ids to live connections. One mutex covers single-entry
// changes and whole-table iteration.
type Registry struct {
	mu       sync.Mutex
	conns    map[string]*Connection
	reserved map[string]struct{}
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:    make(map[string]*Connection),
		reserved: make(map[string]struct{}),
		logger:   logger,
	}
}

// NormalizeName returns the NFC form of a candidate user id.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// Key folds a user id so that lookups ignore case.
func Key(name string) string {
	return userdb.FoldName(name)
}

// ValidName rejects empty or overlong ids and ids that could not be used as
// a channel qualifier.
func ValidName(name string) bool {
	if name == "" || utf8.RuneCountInString(name) > maxNameLen {
		return false
	}
	if name[0] == Sentinel {
		return false
	}
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) || !unicode.IsPrint(r) {
			return false
		}
		switch r {
		case '[', ']', '/':
			return false
		}
	}
	return true
}

// Reserve claims name for a login in progress. It fails with
// ErrUsernameTaken when the name is connected or already reserved.
func (r *Registry) Reserve(name string) error {
	if !ValidName(name) {
		return ErrUsernameInvalid
	}
	key := Key(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[key]; ok {
		return ErrUsernameTaken
	}
	if _, ok := r.reserved[key]; ok {
		return ErrUsernameTaken
	}
	r.reserved[key] = struct{}{}
	return nil
}

// Release drops a reservation that did not turn into a connection.
func (r *Registry) Release(name string) {
	key := Key(name)
	r.mu.Lock()
	delete(r.reserved, key)
	r.mu.Unlock()
}

func (r *Registry) add(c *Connection) error {
	key := Key(c.ID())

	r.mu.Lock()
	defer r.mu.Unlock()
	if other, ok := r.conns[key]; ok && other != c {
		return ErrUsernameTaken
	}
	delete(r.reserved, key)
	r.conns[key] = c
	ConnectedClients.Set(float64(len(r.conns)))

	r.logger.Info("user registered", "user", c.ID(), "sid", c.SessionID())
	return nil
}

func (r *Registry) remove(c *Connection) bool {
	key := Key(c.ID())

	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[key]; !ok || cur != c {
		return false
	}
	delete(r.conns, key)
	ConnectedClients.Set(float64(len(r.conns)))

	r.logger.Info("user left", "user", c.ID(), "sid", c.SessionID())
	return true
}

// Find returns the live connection for name, or nil.
func (r *Registry) Find(name string) *Connection {
	key := Key(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[key]
}

func (r *Registry) Contains(name string) bool {
	return r.Find(name) != nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Names returns the ids of all live connections, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.conns))
	for _, c := range r.conns {
		names = append(names, c.ID())
	}
	r.mu.Unlock()

	sort.Strings(names)
	return names
}

// Broadcast queues line on every live connection and returns how many
// connections it reached.
func (r *Registry) Broadcast(line string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		c.Output(line)
	}
	LinesTotal.WithLabelValues("broadcast").Inc()
	return len(r.conns)
}

// CloseAll empties the table and stops every connection that was in it.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for key, c := range r.conns {
		conns = append(conns, c)
		delete(r.conns, key)
	}
	clear(r.reserved)
	ConnectedClients.Set(0)
	r.mu.Unlock()

	for _, c := range conns {
		c.Stop()
	}
	r.logger.Info("all connections closed", "count", len(conns))
}
