package channel

import (
	"github.com/andy6609/textserver/internal/app"
)

// Channel is one logical session of a user into an application.
type Channel struct {
	id    string
	appID string
	qual  string
	lead  bool

	user *User
	app  app.Application
	sess app.Session
}

func (ch *Channel) ID() string        { return ch.id }
func (ch *Channel) AppID() string     { return ch.appID }
func (ch *Channel) Qualifier() string { return ch.qual }
func (ch *Channel) Lead() bool        { return ch.lead }

// Deliver is called by the application with output for this channel.
func (ch *Channel) Deliver(line string) {
	ch.user.deliver(ch, line)
}

// Detach is called by the application when it drops the channel.
func (ch *Channel) Detach() {
	ch.user.detach(ch)
}

// Input hands a line of user input to the application.
func (ch *Channel) Input(line string) error {
	if ch.sess == nil {
		return app.ErrClosed
	}
	return ch.sess.Input(line)
}

func (ch *Channel) close() {
	if ch.sess != nil {
		ch.sess.Close()
	}
}
