package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"classquiz-live/internal/domain"
)

// ChapterLoader loads chapter JSONB from postgres.
type ChapterLoader struct {
	pool *pgxpool.Pool
}

func NewChapterLoader(pool *pgxpool.Pool) *ChapterLoader {
	return &ChapterLoader{pool: pool}
}

func (l *ChapterLoader) LoadChapter(ctx context.Context, chapterID string) (domain.Chapter, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM chapters WHERE id=$1`, chapterID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Chapter{}, domain.ErrContentNotFound
	}
	if err != nil {
		return domain.Chapter{}, fmt.Errorf("load chapter: %w", err)
	}
	var chapter domain.Chapter
	if err := json.Unmarshal(raw, &chapter); err != nil {
		return domain.Chapter{}, fmt.Errorf("unmarshal chapter: %w", err)
	}
	return chapter, nil
}
