// Package app defines the applications a user can open channels into and
// the process-wide registry of running applications.
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"unicode"
)

var (
	ErrNotFound = errorString("application_not_found")
	ErrExists   = errorString("application_exists")
	ErrClosed   = errorString("application_closed")
	ErrInvalid  = errorString("invalid_application_id")
)

type errorString string

func (e errorString) Error() string { return string(e) }

// OpenError reports why an application could not be created or opened.
type OpenError struct {
	ID  string
	Msg string
	Err error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("cannot open %s: %s", e.ID, e.Msg)
}

func (e *OpenError) Unwrap() error { return e.Err }

// Endpoint is the channel side of an application session. The application
// pushes text with Deliver and calls Detach when it drops the session on its
// own, for example because the application closed.
type Endpoint interface {
	Deliver(line string)
	Detach()
}

// Session is the application side of one channel.
type Session interface {
	Input(line string) error
	Close()
}

type Application interface {
	ID() string
	// NewChannel attaches ep. Lead sessions control the application and get
	// lifecycle announcements; others only watch.
	NewChannel(qualifier string, lead bool, ep Endpoint) (Session, error)
	Close() error
}

// Factory builds a new application instance.
type Factory func(id string, args []string) (Application, error)

// ValidID reports whether id can name an application in a channel id.
func ValidID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) || strings.ContainsRune("/[]@", r) {
			return false
		}
	}
	return true
}

// Registry maps application ids to running instances. It is safe for
// concurrent use by many connections.
type Registry struct {
	mu      sync.Mutex
	apps    map[string]Application
	factory Factory
	logger  *slog.Logger
}

func NewRegistry(factory Factory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		apps:    make(map[string]Application),
		factory: factory,
		logger:  logger,
	}
}

// Create starts a new instance of id. It fails if id is already running.
func (r *Registry) Create(id string, args []string) (Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.apps[id]; ok {
		return nil, &OpenError{ID: id, Msg: "already running", Err: ErrExists}
	}
	return r.createLocked(id, args)
}

// Open returns the running instance of id, starting one if needed.
func (r *Registry) Open(id string, args []string) (Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.apps[id]; ok {
		return a, nil
	}
	return r.createLocked(id, args)
}

func (r *Registry) createLocked(id string, args []string) (Application, error) {
	if !ValidID(id) {
		return nil, &OpenError{ID: id, Msg: "invalid application id", Err: ErrInvalid}
	}
	if r.factory == nil {
		return nil, &OpenError{ID: id, Msg: "no such application", Err: ErrNotFound}
	}
	a, err := r.factory(id, args)
	if err != nil {
		var oe *OpenError
		if errors.As(err, &oe) {
			return nil, oe
		}
		return nil, &OpenError{ID: id, Msg: err.Error(), Err: err}
	}
	r.apps[id] = a
	r.logger.Info("application started", "app", id, "args", args)
	return a, nil
}

func (r *Registry) Exists(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.apps[id]
	return ok
}

func (r *Registry) Get(id string) (Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.apps[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

// List returns the ids of running applications, sorted.
func (r *Registry) List() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.apps))
	for id := range r.apps {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Close stops the instance of id and drops it from the registry.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	a, ok := r.apps[id]
	delete(r.apps, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	r.logger.Info("application stopped", "app", id)
	return a.Close()
}

// CloseAll stops every running application.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	apps := r.apps
	r.apps = make(map[string]Application)
	r.mu.Unlock()

	for id, a := range apps {
		if err := a.Close(); err != nil {
			r.logger.Warn("application close failed", "app", id, "error", err)
		}
	}
}
