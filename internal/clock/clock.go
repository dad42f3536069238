// Package clock owns the server-side phase timers. Exactly one timer is
// pending per session; arming a new one replaces the old. Every firing carries
// the phase it was armed for so the state machine can drop firings that
// arrive after the phase has already moved on.
package clock

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"classquiz-live/internal/domain"
)

// Firing is delivered when a phase timer elapses.
type Firing struct {
	SessionID string
	Armed     domain.Phase
}

// Scheduler drives one-shot phase timers off an injectable clock so tests can
// use a fake clock.
type Scheduler struct {
	clock   clockwork.Clock
	deliver func(Firing)
	ctx     context.Context

	mu     sync.Mutex
	timers map[string]*pendingTimer
}

type pendingTimer struct {
	timer  clockwork.Timer
	cancel chan struct{}
}

// NewScheduler builds a scheduler delivering firings through the given
// callback. The callback must not block for long; it is invoked from the
// timer goroutine.
func NewScheduler(ctx context.Context, clk clockwork.Clock, deliver func(Firing)) *Scheduler {
	return &Scheduler{
		clock:   clk,
		deliver: deliver,
		ctx:     ctx,
		timers:  make(map[string]*pendingTimer),
	}
}

// Now exposes the scheduler's clock.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// Arm schedules a one-shot timer for the session, replacing any pending one,
// and returns the deadline. The firing carries the armed phase.
func (s *Scheduler) Arm(sessionID string, delay time.Duration, armed domain.Phase) time.Time {
	deadline := s.clock.Now().Add(delay)
	pending := &pendingTimer{
		timer:  s.clock.NewTimer(delay),
		cancel: make(chan struct{}),
	}

	s.mu.Lock()
	if existing, ok := s.timers[sessionID]; ok {
		stopPending(existing)
	}
	s.timers[sessionID] = pending
	s.mu.Unlock()

	go func() {
		select {
		case <-pending.timer.Chan():
			s.mu.Lock()
			// Only deliver if this timer is still the pending one; a
			// replacement may have raced the firing.
			current := s.timers[sessionID] == pending
			if current {
				delete(s.timers, sessionID)
			}
			s.mu.Unlock()
			if current {
				s.deliver(Firing{SessionID: sessionID, Armed: armed})
			}
		case <-pending.cancel:
		case <-s.ctx.Done():
			s.mu.Lock()
			if s.timers[sessionID] == pending {
				stopPending(pending)
				delete(s.timers, sessionID)
			}
			s.mu.Unlock()
			log.Debug().Str("session_id", sessionID).Msg("phase timer cancelled on shutdown")
		}
	}()

	log.Debug().
		Str("session_id", sessionID).
		Str("phase", string(armed.Kind)).
		Time("deadline", deadline).
		Msg("armed phase timer")
	return deadline
}

// Disarm stops the session's pending timer, if any.
func (s *Scheduler) Disarm(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pending, ok := s.timers[sessionID]; ok {
		stopPending(pending)
		delete(s.timers, sessionID)
	}
}

// stopPending stops the timer, drains its channel if it already fired per the
// time.Timer.Stop contract, and releases the waiting goroutine.
func stopPending(p *pendingTimer) {
	if !p.timer.Stop() {
		select {
		case <-p.timer.Chan():
		default:
		}
	}
	close(p.cancel)
}
