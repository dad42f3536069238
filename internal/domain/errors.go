package domain

import "errors"

var (
	// ErrInvalidTransition is returned when a command is illegal for the session's current phase.
	ErrInvalidTransition = errors.New("invalid transition for current phase")
	// ErrAlreadyAnswered is returned on a second submission for the same (participant, question) pair.
	ErrAlreadyAnswered = errors.New("answer already recorded for question")
	// ErrStalePhase is returned when a submission targets a question the session has moved past.
	ErrStalePhase = errors.New("question is no longer active")
	// ErrBanned is returned when a banned participant attempts to join or act.
	ErrBanned = errors.New("participant is banned from session")
	// ErrSessionClosed is returned on join attempts against a completed session.
	ErrSessionClosed = errors.New("session is closed")
	// ErrContentNotFound indicates the chapter content could not be loaded.
	ErrContentNotFound = errors.New("chapter content not found")
	// ErrSessionNotFound is returned when no session matches the given id or code.
	ErrSessionNotFound = errors.New("session not found")
	// ErrParticipantNotFound is returned when a participant id is unknown to the session.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrCodeCollision is returned by the store when a join code is already taken
	// by a non-completed session; the caller retries with a fresh code.
	ErrCodeCollision = errors.New("join code already in use")
	// ErrInvalidQuestion indicates malformed question content.
	ErrInvalidQuestion = errors.New("question must have four options and a correct label")
)
