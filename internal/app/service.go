// Package app holds the session state machine and its use cases. All mutation
// of a session flows through one serial inbox drained by a single goroutine;
// reads are served from the last committed snapshot without touching the
// inbox.
package app

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"classquiz-live/internal/clock"
	"classquiz-live/internal/domain"
)

// ContentRepository resolves chapter content (from cache/backing store).
type ContentRepository interface {
	GetTopics(ctx context.Context, chapterID string) ([]domain.Topic, error)
	GetQuestions(ctx context.Context, chapterID, topicID string) ([]domain.Question, error)
}

// SessionRepository stores live session handles, keyed by id and by join code.
// Join codes are unique among non-completed sessions only; Release frees a
// session's code once it completes.
type SessionRepository interface {
	Add(session *GameSession) error
	Get(sessionID string) (*GameSession, bool)
	GetByCode(code string) (*GameSession, bool)
	Release(sessionID string)
}

// SessionArchiver persists a completed session's final state. Implementations
// must tolerate being called at most once per session.
type SessionArchiver interface {
	Archive(ctx context.Context, session domain.Session, participants []domain.Participant, ledger []domain.AnswerRecord) error
}

// SnapshotSink mirrors published snapshots outside the process, e.g. into
// redis for cross-instance pull catch-up. Best effort; failures are logged.
type SnapshotSink interface {
	StoreSnapshot(ctx context.Context, snap domain.Snapshot) error
}

// Durations configures the phase timers.
type Durations struct {
	Countdown time.Duration
	Narrative time.Duration
	Question  time.Duration
}

func (d Durations) withDefaults() Durations {
	if d.Countdown <= 0 {
		d.Countdown = 5 * time.Second
	}
	if d.Narrative <= 0 {
		d.Narrative = 30 * time.Second
	}
	if d.Question <= 0 {
		d.Question = 20 * time.Second
	}
	return d
}

// Options carries the optional collaborators of the service.
type Options struct {
	Durations Durations
	Archiver  SessionArchiver
	Sink      SnapshotSink
}

// GameService contains the live session use cases.
type GameService struct {
	ctx       context.Context
	sessions  SessionRepository
	content   ContentRepository
	sched     *clock.Scheduler
	durations Durations
	archiver  SessionArchiver
	sink      SnapshotSink
}

// NewGameService wires the service and its phase-timer scheduler. The context
// bounds the lifetime of all session loops and pending timers.
func NewGameService(ctx context.Context, clk clockwork.Clock, sessions SessionRepository, content ContentRepository, opts Options) *GameService {
	s := &GameService{
		ctx:       ctx,
		sessions:  sessions,
		content:   content,
		durations: opts.Durations.withDefaults(),
		archiver:  opts.Archiver,
		sink:      opts.Sink,
	}
	s.sched = clock.NewScheduler(ctx, clk, s.routeFiring)
	return s
}

const codeRetries = 5

// CreateSession resolves the chapter's topics and questions from the Content
// Store and creates a not-started session with a fresh join code.
func (s *GameService) CreateSession(ctx context.Context, chapterID, controllerName string) (domain.Session, error) {
	topics, err := s.content.GetTopics(ctx, chapterID)
	if err != nil {
		return domain.Session{}, err
	}
	content := make([]domain.TopicContent, 0, len(topics))
	for _, topic := range topics {
		questions, err := s.content.GetQuestions(ctx, chapterID, topic.ID)
		if err != nil {
			return domain.Session{}, err
		}
		for _, q := range questions {
			if err := q.Validate(); err != nil {
				return domain.Session{}, err
			}
		}
		content = append(content, domain.TopicContent{Topic: topic, Questions: questions})
	}

	for attempt := 0; attempt < codeRetries; attempt++ {
		code, err := domain.NewJoinCode()
		if err != nil {
			return domain.Session{}, err
		}
		sess := domain.NewSession(chapterID, controllerName, code, s.sched.Now())
		game := newGameSession(s.ctx, sess, content, s.sched, s.durations, s.onCompleted)
		if err := s.sessions.Add(game); err != nil {
			if err == domain.ErrCodeCollision {
				game.stop()
				continue
			}
			return domain.Session{}, err
		}
		if s.sink != nil {
			s.mirrorSnapshots(game)
		}
		log.Info().
			Str("session_id", sess.ID).
			Str("code", sess.Code).
			Str("chapter_id", chapterID).
			Msg("session created")
		return game.Snapshot().Session, nil
	}
	return domain.Session{}, domain.ErrCodeCollision
}

// StartSession begins the countdown; legal only from not_started.
func (s *GameService) StartSession(_ context.Context, sessionID string) error {
	game, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	return game.Start()
}

// AdvanceFromNarrative moves a session out of its narrative phase into the
// topic's first question.
func (s *GameService) AdvanceFromNarrative(_ context.Context, sessionID string) error {
	game, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	return game.Advance()
}

// SubmitAnswer records a participant's answer and returns its correctness
// synchronously. The leaderboard refresh is broadcast after the reply.
func (s *GameService) SubmitAnswer(_ context.Context, sessionID, participantID, questionID, option string) (bool, error) {
	game, ok := s.sessions.Get(sessionID)
	if !ok {
		return false, domain.ErrSessionNotFound
	}
	return game.Submit(participantID, questionID, option)
}

// BanParticipant removes a participant from play; legal in any non-completed
// state. Prior answer records are kept for audit.
func (s *GameService) BanParticipant(_ context.Context, sessionID, participantID string) error {
	game, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	return game.Ban(participantID)
}

// Join adds a participant to the session named by id or join code. Passing the
// id of an already-joined participant resumes that identity instead of
// creating a duplicate.
func (s *GameService) Join(_ context.Context, sessionRef, participantID, displayName string) (domain.Session, domain.Participant, error) {
	game, ok := s.resolve(sessionRef)
	if !ok {
		return domain.Session{}, domain.Participant{}, domain.ErrSessionNotFound
	}
	participant, err := game.Join(participantID, displayName)
	if err != nil {
		return domain.Session{}, domain.Participant{}, err
	}
	return game.Snapshot().Session, participant, nil
}

// MarkDisconnected flags a participant's connection as stale. Purely a fan-out
// concern; nothing server-side is cancelled.
func (s *GameService) MarkDisconnected(sessionID, participantID string) {
	if game, ok := s.sessions.Get(sessionID); ok {
		game.Disconnect(participantID)
	}
}

// Snapshot returns the last committed full-truth view of a session.
func (s *GameService) Snapshot(_ context.Context, sessionRef string) (domain.Snapshot, error) {
	game, ok := s.resolve(sessionRef)
	if !ok {
		return domain.Snapshot{}, domain.ErrSessionNotFound
	}
	return game.Snapshot(), nil
}

// Participants lists a session's members ordered by join time.
func (s *GameService) Participants(_ context.Context, sessionID string) ([]domain.Participant, error) {
	game, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return game.Participants(), nil
}

// Subscribe returns a channel receiving a snapshot on every state change,
// seeded with the current one. The caller must invoke cancel to avoid leaks.
func (s *GameService) Subscribe(_ context.Context, sessionRef string) (<-chan domain.Snapshot, func(), error) {
	game, ok := s.resolve(sessionRef)
	if !ok {
		return nil, nil, domain.ErrSessionNotFound
	}
	ch, cancel := game.Subscribe()
	return ch, cancel, nil
}

// resolve accepts either a session id or a join code.
func (s *GameService) resolve(ref string) (*GameSession, bool) {
	if game, ok := s.sessions.Get(ref); ok {
		return game, true
	}
	return s.sessions.GetByCode(ref)
}

// routeFiring delivers a phase-timer firing into its session's inbox.
func (s *GameService) routeFiring(f clock.Firing) {
	game, ok := s.sessions.Get(f.SessionID)
	if !ok {
		log.Debug().Str("session_id", f.SessionID).Msg("timer fired for unknown session")
		return
	}
	game.deliverFiring(f.Armed)
}

// onCompleted runs when a session reaches results: the join code is released
// for reuse and the final state is archived off the hot path.
func (s *GameService) onCompleted(session domain.Session, participants []domain.Participant, ledger []domain.AnswerRecord) {
	s.sessions.Release(session.ID)
	if s.archiver == nil {
		return
	}
	go func() {
		if err := s.archiver.Archive(s.ctx, session, participants, ledger); err != nil {
			log.Error().Err(err).Str("session_id", session.ID).Msg("session archive failed")
		}
	}()
}

// mirrorSnapshots forwards every published snapshot to the configured sink
// through a normal subscription, keeping the actor loop free of I/O.
func (s *GameService) mirrorSnapshots(game *GameSession) {
	ch, cancel := game.Subscribe()
	go func() {
		defer cancel()
		for {
			select {
			case snap, ok := <-ch:
				if !ok {
					return
				}
				if err := s.sink.StoreSnapshot(s.ctx, snap); err != nil {
					log.Warn().Err(err).Str("session_id", game.ID()).Msg("snapshot mirror failed")
				}
				if snap.Session.Status == domain.SessionCompleted {
					return
				}
			case <-s.ctx.Done():
				return
			}
		}
	}()
}
