// Package room is a shared text room. Everything a lead member types is
// relayed to every channel attached to the room.
package room

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/andy6609/textserver/internal/app"
)

var errObserver = errors.New("observers cannot act in the room")

type Room struct {
	id    string
	topic string

	mu      sync.Mutex
	members []*member
	closed  bool
}

type member struct {
	room   *Room
	qual   string
	lead   bool
	ep     app.Endpoint
	closed bool
}

// New is an app.Factory. Arguments, if any, form the room's topic.
func New(id string, args []string) (app.Application, error) {
	topic := strings.Join(args, " ")
	if topic == "" {
		topic = "An empty room."
	}
	return &Room{id: id, topic: topic}, nil
}

func (r *Room) ID() string { return r.id }

func (r *Room) NewChannel(qualifier string, lead bool, ep app.Endpoint) (app.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, app.ErrClosed
	}
	m := &member{room: r, qual: qualifier, lead: lead, ep: ep}
	r.members = append(r.members, m)

	ep.Deliver(r.describeLocked())
	if lead {
		r.sendLocked(m, qualifier+" enters.")
	}
	return m, nil
}

// Close detaches every member.
func (r *Room) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	for _, m := range r.members {
		m.closed = true
		m.ep.Deliver("The room fades away.")
		m.ep.Detach()
	}
	r.members = nil
	return nil
}

// Members returns the qualifiers of attached lead members.
func (r *Room) Members() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leadsLocked()
}

func (r *Room) leadsLocked() []string {
	var names []string
	for _, m := range r.members {
		if m.lead {
			names = append(names, m.qual)
		}
	}
	return names
}

func (r *Room) describeLocked() string {
	present := r.leadsLocked()
	if len(present) == 0 {
		return fmt.Sprintf("%s: %s Nobody is here.", r.id, r.topic)
	}
	return fmt.Sprintf("%s: %s Present: %s.", r.id, r.topic, strings.Join(present, ", "))
}

// sendLocked delivers line to every member except skip.
func (r *Room) sendLocked(skip *member, line string) {
	for _, m := range r.members {
		if m != skip {
			m.ep.Deliver(line)
		}
	}
}

func (r *Room) broadcastLocked(line string) {
	r.sendLocked(nil, line)
}

func (m *member) Input(line string) error {
	r := m.room
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.closed {
		return app.ErrClosed
	}

	verb, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch verb {
	case "":
		return nil
	case "look":
		m.ep.Deliver(r.describeLocked())
		return nil
	}

	if !m.lead {
		return errObserver
	}
	switch verb {
	case "say":
		r.broadcastLocked(m.qual + ": " + rest)
	case "emote":
		r.broadcastLocked(m.qual + " " + rest)
	default:
		r.broadcastLocked(m.qual + ": " + strings.TrimSpace(line))
	}
	return nil
}

func (m *member) Close() {
	r := m.room
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for i, other := range r.members {
		if other == m {
			r.members = append(r.members[:i], r.members[i+1:]...)
			break
		}
	}
	if m.lead {
		r.broadcastLocked(m.qual + " leaves.")
	}
}
