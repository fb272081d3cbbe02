package session

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/andy6609/textserver/internal/userdb"
)

const (
	DefaultLoginTimeout    = 2 * time.Minute
	DefaultMaxAttempts     = 3
	DefaultProtocolVersion = "1"
	DefaultBanner          = "Welcome."
)

var (
	ErrLoginTimeout = errorString("login_timeout")
	ErrLoginFailed  = errorString("login_failed")
)

type LoginState int

const (
	LoginAwaitingInput LoginState = iota
	LoginChallengeSent
	LoginAwaitingCredential
	LoginAccepted
	LoginRejected
)

func (s LoginState) String() string {
	switch s {
	case LoginAwaitingInput:
		return "awaiting_input"
	case LoginChallengeSent:
		return "challenge_sent"
	case LoginAwaitingCredential:
		return "awaiting_credential"
	case LoginAccepted:
		return "accepted"
	case LoginRejected:
		return "rejected"
	}
	return "unknown"
}

type LoginConfig struct {
	Timeout         time.Duration
	MaxAttempts     int
	Banner          string
	ProtocolVersion string
	// Store is nil on an open server: any free, valid name is accepted.
	Store userdb.Store
	// Unknown receives lines that match no expected token.
	Unknown func(line string)
}

func (c LoginConfig) withDefaults() LoginConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultLoginTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.ProtocolVersion == "" {
		c.ProtocolVersion = DefaultProtocolVersion
	}
	return c
}

// LoginResult describes an accepted login. Reader holds any input the
// client sent past its last handshake line.
type LoginResult struct {
	User      string
	Privilege int
	Reader    *bufio.Reader
}

// Negotiator runs the login handshake on one socket before a Connection
// exists. A first line of LOGIN selects the password protocol; anything
// else is taken as a name for the interactive variant.
type Negotiator struct {
	conn     net.Conn
	reader   *bufio.Reader
	writer   *bufio.Writer
	cfg      LoginConfig
	registry *Registry
	logger   *slog.Logger

	state     atomic.Int32
	attempts  int
	reserved  string
	concluded atomic.Bool
	expired   atomic.Bool
}

func NewNegotiator(conn net.Conn, reg *Registry, cfg LoginConfig, logger *slog.Logger) *Negotiator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Negotiator{
		conn:     conn,
		reader:   bufio.NewReader(conn),
		writer:   bufio.NewWriter(conn),
		cfg:      cfg.withDefaults(),
		registry: reg,
		logger:   logger.With("addr", conn.RemoteAddr().String()),
	}
}

func (n *Negotiator) State() LoginState { return LoginState(n.state.Load()) }

func (n *Negotiator) setState(s LoginState) { n.state.Store(int32(s)) }

// Run negotiates until the client is accepted, gives up, or the absolute
// timeout closes the socket. On any failure the socket is closed and the
// name reservation, if any, is released. On success the caller owns the
// socket and the reservation.
func (n *Negotiator) Run() (*LoginResult, error) {
	PendingLogins.Inc()
	defer PendingLogins.Dec()

	timer := time.AfterFunc(n.cfg.Timeout, n.expire)
	defer timer.Stop()

	res, err := n.negotiate()
	if err == nil && !n.concluded.CompareAndSwap(false, true) {
		err = ErrLoginTimeout
	}
	if err != nil {
		n.concluded.Store(true)
		if n.expired.Load() {
			err = ErrLoginTimeout
		}
		n.reject()
		LoginsTotal.WithLabelValues(outcome(err)).Inc()
		return nil, err
	}

	n.setState(LoginAccepted)
	LoginsTotal.WithLabelValues("accepted").Inc()
	n.logger.Info("login accepted", "user", res.User)
	return res, nil
}

func (n *Negotiator) expire() {
	if !n.concluded.CompareAndSwap(false, true) {
		return
	}
	n.expired.Store(true)
	n.logger.Info("login timed out", "state", n.State().String())
	_ = n.conn.Close()
}

func (n *Negotiator) reject() {
	n.setState(LoginRejected)
	if n.reserved != "" {
		n.registry.Release(n.reserved)
		n.reserved = ""
	}
	_ = n.conn.Close()
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrLoginTimeout):
		return "timeout"
	case errors.Is(err, ErrLoginFailed):
		return "failed"
	default:
		return "aborted"
	}
}

func (n *Negotiator) negotiate() (*LoginResult, error) {
	if n.cfg.Banner != "" {
		if err := n.send(n.cfg.Banner); err != nil {
			return nil, err
		}
	}
	if err := n.prompt("login: "); err != nil {
		return nil, err
	}

	first, err := n.readLine()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(first) == "LOGIN" {
		return n.runProtocol()
	}
	return n.runInteractive(first)
}

func (n *Negotiator) runInteractive(line string) (*LoginResult, error) {
	for n.attempts < n.cfg.MaxAttempts {
		n.setState(LoginAwaitingInput)
		name := NormalizeName(line)
		if name == "" {
			n.attempts++
			if n.attempts >= n.cfg.MaxAttempts {
				break
			}
			if err := n.prompt("login: "); err != nil {
				return nil, err
			}
			var err error
			if line, err = n.readLine(); err != nil {
				return nil, err
			}
			continue
		}

		res, ok, err := n.tryInteractive(name)
		if err != nil {
			return nil, err
		}
		if ok {
			return res, nil
		}
		n.attempts++
		if n.attempts >= n.cfg.MaxAttempts {
			break
		}
		if err := n.prompt("login: "); err != nil {
			return nil, err
		}
		if line, err = n.readLine(); err != nil {
			return nil, err
		}
	}
	return nil, ErrLoginFailed
}

func (n *Negotiator) tryInteractive(name string) (*LoginResult, bool, error) {
	if err := n.reserve(name); err != nil {
		msg := "Invalid user name."
		if errors.Is(err, ErrUsernameTaken) {
			msg = fmt.Sprintf("%s is already logged in.", name)
		}
		return nil, false, n.send(msg)
	}

	if n.cfg.Store == nil {
		return n.accept(name, 0), true, nil
	}

	n.setState(LoginAwaitingCredential)
	if err := n.prompt("password: "); err != nil {
		return nil, false, err
	}
	pw, err := n.readLine()
	if err != nil {
		return nil, false, err
	}

	cred, err := n.cfg.Store.Lookup(name)
	switch {
	case errors.Is(err, userdb.ErrNotFound):
		n.logger.Info("login for unknown user", "user", name)
	case err != nil:
		return nil, false, fmt.Errorf("credential lookup: %w", err)
	case userdb.VerifyPassword(cred.Secret, pw):
		return n.accept(name, cred.Privilege), true, nil
	default:
		n.logger.Info("wrong password", "user", name)
	}

	n.release()
	return nil, false, n.send("Login incorrect.")
}

func (n *Negotiator) runProtocol() (*LoginResult, error) {
	for {
		n.setState(LoginAwaitingInput)
		line, err := n.readLine()
		if err != nil {
			return nil, err
		}
		verb, arg := splitVerb(line)
		switch verb {
		case "LOGIN":
		case "PROTOCOL":
			reply := "PROTOCOL OK"
			if arg != n.cfg.ProtocolVersion {
				reply = "PROTOCOL " + n.cfg.ProtocolVersion
			}
			if err := n.send(reply); err != nil {
				return nil, err
			}
		case "USER":
			res, ok, err := n.tryProtocolUser(NormalizeName(arg))
			if err != nil {
				return nil, err
			}
			if ok {
				return res, nil
			}
			n.attempts++
			if n.attempts >= n.cfg.MaxAttempts {
				return nil, ErrLoginFailed
			}
		default:
			n.unknown(line)
		}
	}
}

func (n *Negotiator) tryProtocolUser(name string) (*LoginResult, bool, error) {
	if err := n.reserve(name); err != nil {
		return nil, false, n.send("INVALID USER")
	}

	seed, err := newSeed()
	if err != nil {
		return nil, false, err
	}
	if err := n.send("SEED " + seed); err != nil {
		return nil, false, err
	}
	n.setState(LoginChallengeSent)

	var hash string
	for {
		line, err := n.readLine()
		if err != nil {
			return nil, false, err
		}
		n.setState(LoginAwaitingCredential)
		verb, arg := splitVerb(line)
		if verb == "PASS" {
			hash = arg
			break
		}
		n.unknown(line)
	}

	if n.cfg.Store == nil {
		return n.accept(name, 0), true, n.send("CONNECT OK")
	}

	cred, err := n.cfg.Store.Lookup(name)
	switch {
	case errors.Is(err, userdb.ErrNotFound):
		n.logger.Info("login for unknown user", "user", name)
	case err != nil:
		return nil, false, fmt.Errorf("credential lookup: %w", err)
	case !userdb.SupportsChallenge(cred.Secret):
		n.logger.Warn("stored secret cannot answer a challenge", "user", name)
	case userdb.VerifyChallenge(cred.Secret, seed, hash):
		return n.accept(name, cred.Privilege), true, n.send("CONNECT OK")
	default:
		n.logger.Info("wrong password", "user", name)
	}

	n.release()
	return nil, false, n.send("CONNECT FAILED")
}

func (n *Negotiator) reserve(name string) error {
	if err := n.registry.Reserve(name); err != nil {
		n.logger.Info("login name refused", "user", name, "error", err)
		return err
	}
	n.reserved = name
	return nil
}

func (n *Negotiator) release() {
	if n.reserved != "" {
		n.registry.Release(n.reserved)
		n.reserved = ""
	}
}

func (n *Negotiator) accept(name string, privilege int) *LoginResult {
	return &LoginResult{User: name, Privilege: privilege, Reader: n.reader}
}

func (n *Negotiator) unknown(line string) {
	if n.cfg.Unknown != nil {
		n.cfg.Unknown(line)
		return
	}
	n.logger.Debug("unexpected login message", "line", line, "state", n.State().String())
}

func (n *Negotiator) send(line string) error {
	if _, err := n.writer.WriteString(line + "\n"); err != nil {
		return err
	}
	return n.writer.Flush()
}

func (n *Negotiator) prompt(text string) error {
	if _, err := n.writer.WriteString(text); err != nil {
		return err
	}
	return n.writer.Flush()
}

func (n *Negotiator) readLine() (string, error) {
	line, err := n.reader.ReadString('\n')
	if err == nil {
		return strings.TrimRight(line, "\r\n"), nil
	}
	if errors.Is(err, io.EOF) && line != "" {
		return strings.TrimRight(line, "\r\n"), nil
	}
	return "", fmt.Errorf("read: %w", err)
}

func splitVerb(line string) (string, string) {
	line = strings.TrimSpace(line)
	verb, arg, _ := strings.Cut(line, " ")
	return verb, strings.TrimSpace(arg)
}

func newSeed() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate seed: %w", err)
	}
	return hex.EncodeToString(b), nil
}
