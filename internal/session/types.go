package session

import "strings"

// Sentinel is the reserved first character of server command lines and of
// server formatted replies.
const Sentinel = '@'

type State int32

const (
	StateNew State = iota
	StateRunning
	StateClosing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

var (
	ErrUsernameTaken     = errorString("username_taken")
	ErrUsernameInvalid   = errorString("username_invalid")
	ErrShutdownPending   = errorString("shutdown_pending")
	ErrNoShutdownPending = errorString("no_shutdown_pending")
	ErrServerStopped     = errorString("server_stopped")
)

type errorString string

func (e errorString) Error() string { return string(e) }

// Msg, Ack and Err build the formatted replies the server sends outside
// of any channel.
func Msg(text string) string { return reply("MSG", text) }

func Ack() string { return reply("ACK", "") }

func Err(text string) string { return reply("ERR", text) }

func reply(tag, text string) string {
	var b strings.Builder
	b.WriteByte(Sentinel)
	b.WriteString(tag)
	if text != "" {
		b.WriteByte(' ')
		b.WriteString(text)
	}
	return b.String()
}
