package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Checkpoints at which a pending shutdown warns connected users again.
var shutdownCheckpoints = []time.Duration{30 * time.Minute, 5 * time.Minute, 1 * time.Minute}

// Shutdown warns users of a scheduled stop at decreasing intervals and then
// stops the server. At most one shutdown is pending at a time.
type Shutdown struct {
	broadcast func(line string)
	stop      func()
	logger    *slog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	pending *pendingShutdown
}

type pendingShutdown struct {
	at     time.Time
	cancel chan struct{}
	done   chan struct{}
}

func NewShutdown(broadcast func(line string), stop func(), logger *slog.Logger) *Shutdown {
	if logger == nil {
		logger = slog.Default()
	}
	return &Shutdown{
		broadcast: broadcast,
		stop:      stop,
		logger:    logger,
		now:       time.Now,
		after:     time.After,
	}
}

// Schedule arranges a shutdown at the given instant.
func (s *Shutdown) Schedule(at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return ErrShutdownPending
	}
	p := &pendingShutdown{
		at:     at,
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.pending = p
	go s.run(p)

	s.logger.Info("shutdown scheduled", "at", at)
	return nil
}

func (s *Shutdown) ScheduleIn(d time.Duration) error {
	return s.Schedule(s.now().Add(d))
}

// Cancel stops the pending shutdown so that a new one may be scheduled.
func (s *Shutdown) Cancel() error {
	s.mu.Lock()
	p := s.pending
	if p == nil {
		s.mu.Unlock()
		return ErrNoShutdownPending
	}
	s.pending = nil
	close(p.cancel)
	s.mu.Unlock()

	<-p.done
	s.broadcast(Msg("Shutdown cancelled."))
	s.logger.Info("shutdown cancelled")
	return nil
}

// Pending returns the scheduled instant, if any.
func (s *Shutdown) Pending() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return time.Time{}, false
	}
	return s.pending.at, true
}

func (s *Shutdown) run(p *pendingShutdown) {
	defer close(p.done)

	for {
		remaining := p.at.Sub(s.now())
		if remaining <= 0 {
			if !s.finish(p) {
				return
			}
			s.broadcast(Msg("SYSTEM SHUTTING DOWN NOW"))
			s.logger.Info("shutdown time reached")
			s.stop()
			return
		}

		s.broadcast(Msg(shutdownWarning(remaining)))
		select {
		case <-s.after(untilCheckpoint(remaining)):
		case <-p.cancel:
			return
		}
	}
}

// finish clears p unless it was cancelled in the meantime.
func (s *Shutdown) finish(p *pendingShutdown) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != p {
		return false
	}
	s.pending = nil
	return true
}

func shutdownWarning(remaining time.Duration) string {
	mins := int((remaining + time.Minute - 1) / time.Minute)
	if mins <= 1 {
		return "SYSTEM GOING DOWN IN ONE MINUTE"
	}
	return fmt.Sprintf("System going down in %d minutes", mins)
}

// untilCheckpoint is the sleep to the next checkpoint below remaining. The
// final minute is slept in one piece.
func untilCheckpoint(remaining time.Duration) time.Duration {
	for _, cp := range shutdownCheckpoints {
		if remaining > cp {
			return remaining - cp
		}
	}
	return remaining
}
