package app

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"classquiz-live/internal/clock"
	"classquiz-live/internal/domain"
	"classquiz-live/internal/scoring"
)

// message is anything the session loop processes from its inbox.
type message interface{ isSessionMsg() }

type startMsg struct{ reply chan error }

type advanceMsg struct{ reply chan error }

type submitMsg struct {
	participantID string
	questionID    string
	option        string
	reply         chan submitReply
}

type submitReply struct {
	isCorrect bool
	err       error
}

type banMsg struct {
	participantID string
	reply         chan error
}

type joinMsg struct {
	participantID string
	displayName   string
	reply         chan joinReply
}

type joinReply struct {
	participant domain.Participant
	err         error
}

type timerMsg struct{ armed domain.Phase }

type disconnectMsg struct{ participantID string }

type listMsg struct{ reply chan []domain.Participant }

type subscribeMsg struct{ reply chan subscription }

type subscription struct {
	ch     chan domain.Snapshot
	cancel func()
}

type unsubscribeMsg struct{ ch chan domain.Snapshot }

type stopMsg struct{}

func (startMsg) isSessionMsg()       {}
func (advanceMsg) isSessionMsg()     {}
func (submitMsg) isSessionMsg()      {}
func (banMsg) isSessionMsg()         {}
func (joinMsg) isSessionMsg()        {}
func (timerMsg) isSessionMsg()       {}
func (disconnectMsg) isSessionMsg()  {}
func (listMsg) isSessionMsg()        {}
func (subscribeMsg) isSessionMsg()   {}
func (unsubscribeMsg) isSessionMsg() {}
func (stopMsg) isSessionMsg()        {}

// completedFunc is invoked once, from the loop, when the session reaches
// results. The slices are copies the callback may retain.
type completedFunc func(session domain.Session, participants []domain.Participant, ledger []domain.AnswerRecord)

// NewDetachedSession builds a session handle outside the service, for
// infrastructure layers and their tests.
func NewDetachedSession(ctx context.Context, code string, clk clockwork.Clock) *GameSession {
	sess := domain.NewSession("", "", code, clk.Now())
	sched := clock.NewScheduler(ctx, clk, func(clock.Firing) {})
	return newGameSession(ctx, sess, nil, sched, Durations{}.withDefaults(), nil)
}

// GameSession is one live session: a single goroutine drains the inbox and
// owns every piece of mutable state, so commands, answers and timer firings
// apply strictly in receipt order. Reads go through the atomically published
// last snapshot and never block on the inbox.
type GameSession struct {
	id   string
	code string

	inbox chan message
	last  atomic.Pointer[domain.Snapshot]

	// loop-owned state below; never touched outside run().
	session      *domain.Session
	topics       []domain.TopicContent
	participants map[string]*domain.Participant
	joinOrder    []string
	answered     map[string]map[string]struct{} // participantID -> questionID
	ledger       []domain.AnswerRecord
	deadline     *time.Time
	revision     int64
	subscribers  map[chan domain.Snapshot]struct{}

	sched     *clock.Scheduler
	durations Durations
	completed completedFunc
	ctx       context.Context
}

func newGameSession(ctx context.Context, sess *domain.Session, topics []domain.TopicContent, sched *clock.Scheduler, durations Durations, completed completedFunc) *GameSession {
	g := &GameSession{
		id:           sess.ID,
		code:         sess.Code,
		inbox:        make(chan message, 64),
		session:      sess,
		topics:       topics,
		participants: make(map[string]*domain.Participant),
		answered:     make(map[string]map[string]struct{}),
		subscribers:  make(map[chan domain.Snapshot]struct{}),
		sched:        sched,
		durations:    durations,
		completed:    completed,
		ctx:          ctx,
	}
	g.publish()
	go g.run()
	return g
}

// ID returns the session id.
func (g *GameSession) ID() string { return g.id }

// Code returns the join code.
func (g *GameSession) Code() string { return g.code }

// Snapshot returns the last committed snapshot without entering the inbox.
func (g *GameSession) Snapshot() domain.Snapshot { return *g.last.Load() }

// Start begins the countdown.
func (g *GameSession) Start() error {
	reply := make(chan error, 1)
	g.inbox <- startMsg{reply: reply}
	return <-reply
}

// Advance moves from the current narrative into its first question.
func (g *GameSession) Advance() error {
	reply := make(chan error, 1)
	g.inbox <- advanceMsg{reply: reply}
	return <-reply
}

// Submit records an answer; the reply carries correctness synchronously.
func (g *GameSession) Submit(participantID, questionID, option string) (bool, error) {
	reply := make(chan submitReply, 1)
	g.inbox <- submitMsg{participantID: participantID, questionID: questionID, option: option, reply: reply}
	res := <-reply
	return res.isCorrect, res.err
}

// Ban removes a participant from play.
func (g *GameSession) Ban(participantID string) error {
	reply := make(chan error, 1)
	g.inbox <- banMsg{participantID: participantID, reply: reply}
	return <-reply
}

// Join adds or resumes a participant.
func (g *GameSession) Join(participantID, displayName string) (domain.Participant, error) {
	reply := make(chan joinReply, 1)
	g.inbox <- joinMsg{participantID: participantID, displayName: displayName, reply: reply}
	res := <-reply
	return res.participant, res.err
}

// Disconnect marks a participant's connection stale.
func (g *GameSession) Disconnect(participantID string) {
	g.inbox <- disconnectMsg{participantID: participantID}
}

// Participants lists members ordered by join time.
func (g *GameSession) Participants() []domain.Participant {
	reply := make(chan []domain.Participant, 1)
	g.inbox <- listMsg{reply: reply}
	return <-reply
}

// Subscribe registers a push consumer seeded with the current snapshot.
func (g *GameSession) Subscribe() (<-chan domain.Snapshot, func()) {
	reply := make(chan subscription, 1)
	g.inbox <- subscribeMsg{reply: reply}
	sub := <-reply
	return sub.ch, sub.cancel
}

// deliverFiring funnels a phase-timer firing into the serial inbox.
func (g *GameSession) deliverFiring(armed domain.Phase) {
	select {
	case g.inbox <- timerMsg{armed: armed}:
	case <-g.ctx.Done():
	}
}

func (g *GameSession) stop() {
	g.inbox <- stopMsg{}
}

func (g *GameSession) run() {
	for {
		select {
		case <-g.ctx.Done():
			g.shutdown()
			return
		case m := <-g.inbox:
			switch msg := m.(type) {
			case startMsg:
				msg.reply <- g.handleStart()
			case advanceMsg:
				msg.reply <- g.handleAdvance()
			case submitMsg:
				g.handleSubmit(msg)
			case banMsg:
				msg.reply <- g.handleBan(msg.participantID)
			case joinMsg:
				msg.reply <- g.handleJoin(msg.participantID, msg.displayName)
			case timerMsg:
				g.handleTimer(msg.armed)
			case disconnectMsg:
				g.handleDisconnect(msg.participantID)
			case listMsg:
				msg.reply <- g.listParticipants()
			case subscribeMsg:
				msg.reply <- g.handleSubscribe()
			case unsubscribeMsg:
				if _, ok := g.subscribers[msg.ch]; ok {
					delete(g.subscribers, msg.ch)
					close(msg.ch)
				}
			case stopMsg:
				g.shutdown()
				return
			}
		}
	}
}

func (g *GameSession) shutdown() {
	g.sched.Disarm(g.id)
	for ch := range g.subscribers {
		close(ch)
		delete(g.subscribers, ch)
	}
}

func (g *GameSession) handleStart() error {
	if g.session.Status != domain.SessionNotStarted {
		return domain.ErrInvalidTransition
	}
	now := g.sched.Now()
	g.session.Status = domain.SessionInProgress
	g.session.StartedAt = &now
	for _, p := range g.participants {
		if p.ConnectionState != domain.ConnectionRemoved {
			p.Status = domain.ParticipantPlaying
		}
	}
	g.setPhase(domain.Phase{Kind: domain.PhaseCountdown}, g.durations.Countdown)
	g.publish()
	log.Info().Str("session_id", g.id).Msg("session started, countdown running")
	return nil
}

func (g *GameSession) handleAdvance() error {
	if g.session.Phase.Kind != domain.PhaseNarrative {
		return domain.ErrInvalidTransition
	}
	g.enterQuestion(g.session.Phase.TopicIndex, 0)
	g.publish()
	return nil
}

func (g *GameSession) handleSubmit(msg submitMsg) {
	participant, ok := g.participants[msg.participantID]
	if !ok {
		msg.reply <- submitReply{err: domain.ErrParticipantNotFound}
		return
	}
	if participant.ConnectionState == domain.ConnectionRemoved {
		msg.reply <- submitReply{err: domain.ErrBanned}
		return
	}
	if g.session.Status != domain.SessionInProgress {
		msg.reply <- submitReply{err: domain.ErrInvalidTransition}
		return
	}

	if g.hasAnswered(msg.participantID, msg.questionID) {
		msg.reply <- submitReply{err: domain.ErrAlreadyAnswered}
		return
	}

	current := g.currentQuestion()
	if current == nil || current.ID != msg.questionID {
		msg.reply <- submitReply{err: domain.ErrStalePhase}
		return
	}

	correct := msg.option == current.CorrectOptionLabel
	g.record(domain.AnswerRecord{
		ParticipantID:  msg.participantID,
		QuestionID:     msg.questionID,
		SelectedOption: msg.option,
		IsCorrect:      correct,
		AnsweredAt:     g.sched.Now(),
	})

	// Correctness goes back to the submitter before the leaderboard refresh
	// is broadcast.
	msg.reply <- submitReply{isCorrect: correct}

	if g.everyoneAnswered(msg.questionID) {
		g.advanceQuestion()
	}
	g.publish()
}

func (g *GameSession) handleBan(participantID string) error {
	if g.session.Status == domain.SessionCompleted {
		return domain.ErrInvalidTransition
	}
	participant, ok := g.participants[participantID]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	g.session.Banned[participantID] = struct{}{}
	participant.ConnectionState = domain.ConnectionRemoved
	g.publish()
	log.Info().Str("session_id", g.id).Str("participant_id", participantID).Msg("participant banned")
	return nil
}

func (g *GameSession) handleJoin(participantID, displayName string) joinReply {
	if _, banned := g.session.Banned[participantID]; banned {
		return joinReply{err: domain.ErrBanned}
	}
	if g.session.Status == domain.SessionCompleted {
		return joinReply{err: domain.ErrSessionClosed}
	}

	if participantID != "" {
		if existing, ok := g.participants[participantID]; ok {
			// Same identity resuming after a disconnect: no duplicate.
			existing.ConnectionState = domain.ConnectionActive
			if displayName != "" {
				existing.DisplayName = displayName
			}
			g.publish()
			return joinReply{participant: *existing}
		}
	}

	participant := domain.NewParticipant(displayName, g.sched.Now())
	if participantID != "" {
		participant.ID = participantID
	}
	if g.session.Status == domain.SessionInProgress {
		// Late joiners land in the current phase; missed questions are not
		// replayed.
		participant.Status = domain.ParticipantPlaying
	}
	g.participants[participant.ID] = participant
	g.joinOrder = append(g.joinOrder, participant.ID)
	g.publish()
	return joinReply{participant: *participant}
}

func (g *GameSession) handleTimer(armed domain.Phase) {
	if armed != g.session.Phase {
		log.Debug().
			Str("session_id", g.id).
			Str("armed", string(armed.Kind)).
			Str("current", string(g.session.Phase.Kind)).
			Msg("dropping stale timer firing")
		return
	}
	switch armed.Kind {
	case domain.PhaseCountdown:
		g.enterTopic(0)
	case domain.PhaseNarrative:
		g.enterQuestion(armed.TopicIndex, 0)
	case domain.PhaseQuestion:
		g.synthesizeTimeouts(armed.TopicIndex, armed.QuestionIndex)
		g.advanceQuestion()
	default:
		return
	}
	g.publish()
}

func (g *GameSession) handleDisconnect(participantID string) {
	participant, ok := g.participants[participantID]
	if !ok || participant.ConnectionState != domain.ConnectionActive {
		return
	}
	participant.ConnectionState = domain.ConnectionStale
	g.publish()
}

func (g *GameSession) handleSubscribe() subscription {
	ch := make(chan domain.Snapshot, 8)
	g.subscribers[ch] = struct{}{}
	ch <- *g.last.Load()
	cancel := func() {
		select {
		case g.inbox <- unsubscribeMsg{ch: ch}:
		case <-g.ctx.Done():
		}
	}
	return subscription{ch: ch, cancel: cancel}
}

// synthesizeTimeouts inserts a TIMEOUT record for every active playing
// participant that never answered the question. Banned participants are
// excluded; their earlier records stay untouched.
func (g *GameSession) synthesizeTimeouts(topicIndex, questionIndex int) {
	question := g.questionAt(topicIndex, questionIndex)
	if question == nil {
		return
	}
	now := g.sched.Now()
	for _, id := range g.joinOrder {
		p := g.participants[id]
		if p.ConnectionState == domain.ConnectionRemoved || p.Status != domain.ParticipantPlaying {
			continue
		}
		if g.hasAnswered(id, question.ID) {
			continue
		}
		g.record(domain.AnswerRecord{
			ParticipantID:  id,
			QuestionID:     question.ID,
			SelectedOption: domain.TimeoutOption,
			IsCorrect:      false,
			AnsweredAt:     now,
		})
	}
}

// advanceQuestion moves to the next question in the topic, else to the next
// topic's narrative, else to results.
func (g *GameSession) advanceQuestion() {
	phase := g.session.Phase
	if phase.QuestionIndex+1 < len(g.topics[phase.TopicIndex].Questions) {
		g.enterQuestion(phase.TopicIndex, phase.QuestionIndex+1)
		return
	}
	g.enterTopic(phase.TopicIndex + 1)
}

// enterTopic enters the narrative of the first topic at or after index that
// has questions; topics without questions are skipped entirely. Running out of
// topics ends the session.
func (g *GameSession) enterTopic(index int) {
	for index < len(g.topics) && len(g.topics[index].Questions) == 0 {
		index++
	}
	if index >= len(g.topics) {
		g.enterResults()
		return
	}
	g.setPhase(domain.Phase{Kind: domain.PhaseNarrative, TopicIndex: index}, g.durations.Narrative)
}

func (g *GameSession) enterQuestion(topicIndex, questionIndex int) {
	g.setPhase(domain.Phase{
		Kind:          domain.PhaseQuestion,
		TopicIndex:    topicIndex,
		QuestionIndex: questionIndex,
	}, g.durations.Question)
}

func (g *GameSession) enterResults() {
	now := g.sched.Now()
	g.session.Phase = domain.Phase{Kind: domain.PhaseResults}
	g.session.Status = domain.SessionCompleted
	g.session.EndedAt = &now
	g.deadline = nil
	g.sched.Disarm(g.id)
	for _, p := range g.participants {
		if p.ConnectionState != domain.ConnectionRemoved {
			p.Status = domain.ParticipantCompleted
		}
	}
	log.Info().Str("session_id", g.id).Int("answers", len(g.ledger)).Msg("session completed")
	if g.completed != nil {
		g.completed(g.sessionCopy(), g.listParticipants(), append([]domain.AnswerRecord(nil), g.ledger...))
	}
}

// setPhase commits a phase and arms its timer.
func (g *GameSession) setPhase(phase domain.Phase, duration time.Duration) {
	g.session.Phase = phase
	deadline := g.sched.Arm(g.id, duration, phase)
	g.deadline = &deadline
}

func (g *GameSession) record(rec domain.AnswerRecord) {
	byQuestion, ok := g.answered[rec.ParticipantID]
	if !ok {
		byQuestion = make(map[string]struct{})
		g.answered[rec.ParticipantID] = byQuestion
	}
	byQuestion[rec.QuestionID] = struct{}{}
	g.ledger = append(g.ledger, rec)
}

func (g *GameSession) hasAnswered(participantID, questionID string) bool {
	_, ok := g.answered[participantID][questionID]
	return ok
}

// everyoneAnswered reports whether every active playing participant holds a
// record for the question, allowing an early advance.
func (g *GameSession) everyoneAnswered(questionID string) bool {
	for _, id := range g.joinOrder {
		p := g.participants[id]
		if p.ConnectionState == domain.ConnectionRemoved || p.Status != domain.ParticipantPlaying {
			continue
		}
		if !g.hasAnswered(id, questionID) {
			return false
		}
	}
	return true
}

func (g *GameSession) currentQuestion() *domain.Question {
	phase := g.session.Phase
	if phase.Kind != domain.PhaseQuestion {
		return nil
	}
	return g.questionAt(phase.TopicIndex, phase.QuestionIndex)
}

func (g *GameSession) questionAt(topicIndex, questionIndex int) *domain.Question {
	if topicIndex >= len(g.topics) {
		return nil
	}
	questions := g.topics[topicIndex].Questions
	if questionIndex >= len(questions) {
		return nil
	}
	return &questions[questionIndex]
}

func (g *GameSession) totalQuestions() int {
	total := 0
	for _, tc := range g.topics {
		total += len(tc.Questions)
	}
	return total
}

func (g *GameSession) listParticipants() []domain.Participant {
	out := make([]domain.Participant, 0, len(g.joinOrder))
	for _, id := range g.joinOrder {
		out = append(out, *g.participants[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}

func (g *GameSession) sessionCopy() domain.Session {
	copied := *g.session
	copied.Banned = nil
	return copied
}

func (g *GameSession) orderedParticipantPtrs() []*domain.Participant {
	out := make([]*domain.Participant, 0, len(g.joinOrder))
	for _, id := range g.joinOrder {
		out = append(out, g.participants[id])
	}
	return out
}

// publish commits the current state as a new revision: the snapshot is stored
// for lock-free pull reads and fanned out to all subscribers. Sends never
// block; a slow subscriber has its stale buffered snapshot replaced by the
// newest one, so delivery is at-least-once and later supersedes earlier.
func (g *GameSession) publish() {
	g.revision++
	snap := domain.Snapshot{
		Revision:    g.revision,
		Session:     g.sessionCopy(),
		Leaderboard: scoring.Compute(g.orderedParticipantPtrs(), g.ledger, g.totalQuestions()),
		UpdatedAt:   g.sched.Now(),
	}
	phase := g.session.Phase
	if phase.Kind == domain.PhaseNarrative || phase.Kind == domain.PhaseQuestion {
		topic := g.topics[phase.TopicIndex].Topic
		snap.CurrentTopic = &topic
	}
	if question := g.currentQuestion(); question != nil {
		view := question.View()
		snap.CurrentQuestion = &view
	}
	if g.deadline != nil {
		deadline := *g.deadline
		snap.PhaseDeadline = &deadline
	}
	g.last.Store(&snap)

	for ch := range g.subscribers {
		select {
		case ch <- snap:
		default:
			// Drop the stale buffered snapshot so the newest one always lands.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}
