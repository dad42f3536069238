package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"classquiz-live/internal/domain"
)

// SessionArchiver writes a completed session, its participants and its answer
// ledger to postgres in one transaction. Called once per session, after the
// results phase is reached; live play never touches the database.
type SessionArchiver struct {
	pool *pgxpool.Pool
}

func NewSessionArchiver(pool *pgxpool.Pool) *SessionArchiver {
	return &SessionArchiver{pool: pool}
}

func (a *SessionArchiver) Archive(ctx context.Context, session domain.Session, participants []domain.Participant, ledger []domain.AnswerRecord) error {
	return a.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO sessions (id, code, chapter_id, controller_name, status, created_at, started_at, ended_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING`,
			session.ID, session.Code, session.ChapterID, session.ControllerName,
			string(session.Status), session.CreatedAt, session.StartedAt, session.EndedAt)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		for _, p := range participants {
			_, err := tx.Exec(ctx, `
				INSERT INTO participants (session_id, id, display_name, joined_at, connection_state, status)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (session_id, id) DO NOTHING`,
				session.ID, p.ID, p.DisplayName, p.JoinedAt, string(p.ConnectionState), string(p.Status))
			if err != nil {
				return fmt.Errorf("insert participant: %w", err)
			}
		}

		for _, rec := range ledger {
			_, err := tx.Exec(ctx, `
				INSERT INTO answer_records (session_id, participant_id, question_id, selected_option, is_correct, answered_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (session_id, participant_id, question_id) DO NOTHING`,
				session.ID, rec.ParticipantID, rec.QuestionID, rec.SelectedOption, rec.IsCorrect, rec.AnsweredAt)
			if err != nil {
				return fmt.Errorf("insert answer record: %w", err)
			}
		}
		return nil
	})
}
