package gate

import (
	"errors"
	"sync"
)

// ErrExclusivityDenied is returned when exclusive access is contested.
var ErrExclusivityDenied = errors.New("gate: exclusive access denied")

// DeniedReply is the conversation-visible text for an unhandled denial.
const DeniedReply = "Isolation lock could not be acquired."

// Stats is a point-in-time view of a gate.
type Stats struct {
	Active     int  `json:"active"`
	Contenders int  `json:"contenders"`
	Held       bool `json:"held"`
}

// Gate grants at most one exclusive session per conversation.
type Gate struct {
	counter *Counter

	// token is held only for the duration of one non-blocking attempt.
	token sync.Mutex
}

// New returns a gate with no active workers.
func New() *Gate {
	return &Gate{counter: NewCounter()}
}

// Enter registers the calling worker, blocking while a session is held.
func (g *Gate) Enter() { g.counter.Enter() }

// Exit unregisters the calling worker.
func (g *Gate) Exit() { g.counter.Exit() }

// Stats returns the current counts.
func (g *Gate) Stats() Stats { return g.counter.snapshot() }

// Held reports whether an exclusive session is currently held.
func (g *Gate) Held() bool { return g.counter.snapshot().Held }

// TryEnterExclusive attempts to start an exclusive session for the calling
// worker, which must already have entered.
//
// It fails immediately with ErrExclusivityDenied if another attempt is in
// flight or a session is held. On success it waits for every other active
// worker to exit before returning.
func (g *Gate) TryEnterExclusive() (*Session, error) {
	g.counter.beginAttempt()

	if !g.token.TryLock() {
		g.counter.endAttempt()
		return nil, ErrExclusivityDenied
	}
	held := g.counter.tryHold()
	g.token.Unlock()
	g.counter.endAttempt()

	if !held {
		return nil, ErrExclusivityDenied
	}

	g.counter.DrainToOne()
	return &Session{gate: g}, nil
}

// ExitExclusive clears the exclusive flag. Calling it with no session held is
// a no-op.
func (g *Gate) ExitExclusive() {
	g.counter.release()
}

// Exclusive runs fn inside an exclusive session and releases it afterwards,
// including when fn panics.
func (g *Gate) Exclusive(fn func() error) error {
	s, err := g.TryEnterExclusive()
	if err != nil {
		return err
	}
	defer s.Release()
	return fn()
}

// Session is a held exclusive session.
type Session struct {
	gate *Gate
	once sync.Once
}

// Release ends the session. Extra calls are ignored.
func (s *Session) Release() {
	if s == nil {
		return
	}
	s.once.Do(s.gate.ExitExclusive)
}
