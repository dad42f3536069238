package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the coarse lifecycle of a session; it only moves forward.
type SessionStatus string

const (
	SessionNotStarted SessionStatus = "not_started"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
)

// PhaseKind names one state of the session state machine.
type PhaseKind string

const (
	PhaseNotStarted PhaseKind = "not_started"
	PhaseCountdown  PhaseKind = "countdown"
	PhaseNarrative  PhaseKind = "narrative"
	PhaseQuestion   PhaseKind = "question"
	PhaseResults    PhaseKind = "results"
)

// Phase pinpoints the session's position: the kind plus the topic/question
// cursor. Phases are compared by value; a timer firing armed for a phase that
// no longer equals the current one is dropped.
type Phase struct {
	Kind          PhaseKind `json:"kind"`
	TopicIndex    int       `json:"topicIndex"`
	QuestionIndex int       `json:"questionIndex"`
}

// Session is the durable record of one live game session.
type Session struct {
	ID             string        `json:"id"`
	Code           string        `json:"code"`
	ChapterID      string        `json:"chapterId"`
	ControllerName string        `json:"controllerName"`
	Status         SessionStatus `json:"status"`
	Phase          Phase         `json:"phase"`
	CreatedAt      time.Time     `json:"createdAt"`
	StartedAt      *time.Time    `json:"startedAt,omitempty"`
	EndedAt        *time.Time    `json:"endedAt,omitempty"`

	// Banned holds participant ids that were removed by the controller.
	// Not serialized into snapshots.
	Banned map[string]struct{} `json:"-"`
}

// NewSession builds a not-started session with a fresh id.
func NewSession(chapterID, controllerName, code string, now time.Time) *Session {
	return &Session{
		ID:             uuid.NewString(),
		Code:           code,
		ChapterID:      chapterID,
		ControllerName: controllerName,
		Status:         SessionNotStarted,
		Phase:          Phase{Kind: PhaseNotStarted},
		CreatedAt:      now,
		Banned:         make(map[string]struct{}),
	}
}

// ConnectionState tracks whether a participant currently holds a live connection.
type ConnectionState string

const (
	ConnectionActive  ConnectionState = "active"
	ConnectionStale   ConnectionState = "stale"
	ConnectionRemoved ConnectionState = "removed"
)

// ParticipantStatus is monotonic waiting -> playing -> completed; a ban forces
// ConnectionRemoved regardless of status.
type ParticipantStatus string

const (
	ParticipantWaiting   ParticipantStatus = "waiting"
	ParticipantPlaying   ParticipantStatus = "playing"
	ParticipantCompleted ParticipantStatus = "completed"
)

// Participant is one joined member of a session. Identity is the id, not the
// display name and not the connection.
type Participant struct {
	ID              string            `json:"id"`
	DisplayName     string            `json:"displayName"`
	JoinedAt        time.Time         `json:"joinedAt"`
	ConnectionState ConnectionState   `json:"connectionState"`
	Status          ParticipantStatus `json:"status"`
}

// NewParticipant builds a waiting participant with a fresh id.
func NewParticipant(displayName string, now time.Time) *Participant {
	return &Participant{
		ID:              uuid.NewString(),
		DisplayName:     displayName,
		JoinedAt:        now,
		ConnectionState: ConnectionActive,
		Status:          ParticipantWaiting,
	}
}

// Topic is a narrative segment of a chapter, immutable once loaded.
type Topic struct {
	ID            string `json:"id"`
	SequenceIndex int    `json:"sequenceIndex"`
	Name          string `json:"name"`
	Narrative     string `json:"narrative"`
}

// Option is one labeled choice of a question.
type Option struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// QuestionOptionCount is the fixed number of choices per question.
const QuestionOptionCount = 4

// Question is a four-option multiple choice question, immutable once loaded.
// The correct label is never serialized toward clients; snapshots carry
// QuestionView instead.
type Question struct {
	ID                 string   `json:"id"`
	TopicID            string   `json:"topicId"`
	SequenceIndex      int      `json:"sequenceIndex"`
	Stem               string   `json:"stem"`
	Options            []Option `json:"options"`
	CorrectOptionLabel string   `json:"correctOptionLabel"`
}

// Validate checks the four-option invariant and that the correct label names
// one of the options.
func (q Question) Validate() error {
	if len(q.Options) != QuestionOptionCount {
		return ErrInvalidQuestion
	}
	for _, opt := range q.Options {
		if opt.Label == q.CorrectOptionLabel {
			return nil
		}
	}
	return ErrInvalidQuestion
}

// QuestionView is the client-facing shape of a question, without the answer.
type QuestionView struct {
	ID            string   `json:"id"`
	TopicID       string   `json:"topicId"`
	SequenceIndex int      `json:"sequenceIndex"`
	Stem          string   `json:"stem"`
	Options       []Option `json:"options"`
}

// View strips the correct label for publication.
func (q Question) View() QuestionView {
	return QuestionView{
		ID:            q.ID,
		TopicID:       q.TopicID,
		SequenceIndex: q.SequenceIndex,
		Stem:          q.Stem,
		Options:       q.Options,
	}
}

// TimeoutOption is the sentinel stored in place of a selected option when the
// Phase Clock synthesizes a record for a participant that never answered.
const TimeoutOption = "TIMEOUT"

// AnswerRecord is one ledger entry. At most one record exists per
// (participant, question) pair; later submissions are rejected, not overwritten.
type AnswerRecord struct {
	ParticipantID  string    `json:"participantId"`
	QuestionID     string    `json:"questionId"`
	SelectedOption string    `json:"selectedOption"`
	IsCorrect      bool      `json:"isCorrect"`
	AnsweredAt     time.Time `json:"answeredAt"`
}

// Timeout reports whether the record was synthesized on question timeout.
func (r AnswerRecord) Timeout() bool {
	return r.SelectedOption == TimeoutOption
}

// LeaderboardEntry is a derived, snapshot-friendly view of a participant's
// standing. Never stored; recomputed from the ledger.
type LeaderboardEntry struct {
	ParticipantID          string `json:"participantId"`
	DisplayName            string `json:"displayName"`
	CorrectCount           int    `json:"correctCount"`
	AnsweredCount          int    `json:"answeredCount"`
	Score                  int    `json:"score"`
	CurrentQuestionOrdinal int    `json:"currentQuestionOrdinal"`
}

// Snapshot is the full current truth of a session, the single contract for
// both push and pull delivery. Revision increases by one per committed
// mutation; clients discard snapshots older than one already applied.
type Snapshot struct {
	Revision        int64              `json:"revision"`
	Session         Session            `json:"session"`
	CurrentTopic    *Topic             `json:"currentTopic,omitempty"`
	CurrentQuestion *QuestionView      `json:"currentQuestion,omitempty"`
	PhaseDeadline   *time.Time         `json:"phaseDeadline,omitempty"`
	Leaderboard     []LeaderboardEntry `json:"leaderboard"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

// Chapter bundles the topics and questions the Content Store resolved for one
// chapter. Immutable for the lifetime of any session that loaded it.
type Chapter struct {
	ID     string         `json:"id"`
	Title  string         `json:"title"`
	Topics []TopicContent `json:"topics"`
}

// TopicContent pairs a topic with its ordered questions.
type TopicContent struct {
	Topic     Topic      `json:"topic"`
	Questions []Question `json:"questions"`
}
