package session

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultReadTimeout  = 1 * time.Second
	DefaultQueueWait    = 1 * time.Second
	DefaultWriteTimeout = 30 * time.Second
)

// LineHandler processes the input of one connection. HandleLine runs on the
// connection's reader goroutine; Close runs once during teardown.
type LineHandler interface {
	HandleLine(line string) error
	Close()
}

// HandlerFactory builds the handler for a freshly authenticated connection.
type HandlerFactory func(c *Connection) LineHandler

type ConnOptions struct {
	ReadTimeout  time.Duration
	QueueWait    time.Duration
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.QueueWait <= 0 {
		o.QueueWait = DefaultQueueWait
	}
	if o.WriteTimeout < 0 {
		o.WriteTimeout = 0
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Connection owns one client socket after login. It runs one reader and one
// writer goroutine and hands every complete input line to its LineHandler.
type Connection struct {
	id        string
	sid       string
	privilege int

	conn     net.Conn
	reader   *bufio.Reader
	out      *OutputQueue
	registry *Registry
	handler  LineHandler

	opts   ConnOptions
	logger *slog.Logger
	state  atomic.Int32

	writerDone chan struct{}
	done       chan struct{}
}

// NewConnection wraps an authenticated socket. reader must be the buffered
// reader used during login, if any, so no input is lost at the handoff.
func NewConnection(conn net.Conn, reader *bufio.Reader, id string, privilege int, reg *Registry, opts ConnOptions) *Connection {
	opts = opts.withDefaults()
	if reader == nil {
		reader = bufio.NewReader(conn)
	}
	sid := uuid.NewString()
	return &Connection{
		id:         id,
		sid:        sid,
		privilege:  privilege,
		conn:       conn,
		reader:     reader,
		out:        NewOutputQueue(),
		registry:   reg,
		opts:       opts,
		logger:     opts.Logger.With("user", id, "sid", sid),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (c *Connection) ID() string        { return c.id }
func (c *Connection) SessionID() string { return c.sid }
func (c *Connection) Privilege() int    { return c.privilege }
func (c *Connection) State() State      { return State(c.state.Load()) }
func (c *Connection) Logger() *slog.Logger {
	return c.logger
}

func (c *Connection) RemoteAddr() string {
	if a := c.conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

// Done is closed once the connection reaches StateStopped.
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) Wait() { <-c.done }

func (c *Connection) running() bool { return c.State() == StateRunning }

// Start registers the connection and launches its reader and writer. It
// must be called exactly once.
func (c *Connection) Start(newHandler HandlerFactory) error {
	if newHandler == nil {
		return errors.New("session: nil handler factory")
	}
	if !c.state.CompareAndSwap(int32(StateNew), int32(StateRunning)) {
		return fmt.Errorf("session: connection %s already started", c.id)
	}
	if err := c.registry.add(c); err != nil {
		c.state.Store(int32(StateStopped))
		_ = c.conn.Close()
		close(c.writerDone)
		close(c.done)
		return err
	}
	c.handler = newHandler(c)

	go c.writeLoop()
	go c.readLoop()

	c.logger.Info("connection started", "addr", c.RemoteAddr())
	return nil
}

// Stop asks the connection to shut down. It is idempotent and safe from any
// goroutine, including the handler itself. The user id is gone from the
// registry when Stop returns; the sockets are closed by the reader shortly
// after.
func (c *Connection) Stop() {
	if !c.state.CompareAndSwap(int32(StateRunning), int32(StateClosing)) {
		return
	}
	c.registry.remove(c)
	c.out.Close()
	// wake a blocked read so the reader notices promptly
	_ = c.conn.SetReadDeadline(time.Now())
}

// Output queues line for delivery. It never blocks. Lines queued while the
// connection is stopping are dropped.
func (c *Connection) Output(line string) {
	if c.State() == StateStopped {
		return
	}
	c.out.Put(line)
}

func (c *Connection) Outputf(format string, args ...any) {
	c.Output(fmt.Sprintf(format, args...))
}

func (c *Connection) readLoop() {
	defer c.teardown()

	var partial strings.Builder
	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)); err != nil {
			return
		}
		chunk, err := c.reader.ReadString('\n')
		partial.WriteString(chunk)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) && c.running() {
				continue
			}
			if errors.Is(err, io.EOF) && partial.Len() > 0 && c.running() {
				// last line without newline
				c.dispatch(strings.TrimRight(partial.String(), "\r\n"))
			} else if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrDeadlineExceeded) {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}

		line := strings.TrimRight(partial.String(), "\r\n")
		partial.Reset()
		if !c.running() {
			return
		}
		c.dispatch(line)
	}
}

func (c *Connection) dispatch(line string) {
	start := time.Now()
	defer func() {
		if v := recover(); v != nil {
			c.logger.Error("panic while processing input", "panic", v, "stack", string(debug.Stack()))
			c.Output(Err("internal error"))
		}
		LineProcessingDuration.Observe(time.Since(start).Seconds())
	}()

	LinesTotal.WithLabelValues("in").Inc()
	if err := c.handler.HandleLine(line); err != nil {
		c.logger.Warn("input processing failed", "error", err)
		c.Output(Err("internal error"))
	}
}

func (c *Connection) writeLoop() {
	defer close(c.writerDone)

	w := bufio.NewWriter(c.conn)
	c.out.Run(c.opts.QueueWait, c.running, func(line string) error {
		if c.opts.WriteTimeout > 0 {
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				return err
			}
		}
		// Best-effort. If the connection breaks, just stop the writer.
		if _, err := w.WriteString(line + "\n"); err != nil {
			return err
		}
		if err := w.Flush(); err != nil {
			return err
		}
		LinesTotal.WithLabelValues("out").Inc()
		return nil
	})
}

// teardown runs on the reader goroutine after its loop exits.
func (c *Connection) teardown() {
	c.state.CompareAndSwap(int32(StateRunning), int32(StateClosing))
	c.registry.remove(c)
	c.out.Close()
	if err := c.conn.Close(); err != nil {
		c.logger.Debug("close failed", "error", err)
	}
	<-c.writerDone

	c.handler.Close()
	c.state.Store(int32(StateStopped))
	close(c.done)

	c.logger.Info("connection stopped")
}
