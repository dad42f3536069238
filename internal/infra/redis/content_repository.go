package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"classquiz-live/internal/domain"
)

// ChapterLoader fetches chapter content from a backing store (e.g. postgres).
type ChapterLoader interface {
	LoadChapter(ctx context.Context, chapterID string) (domain.Chapter, error)
}

// ContentRepository caches chapter JSON in redis and falls back to a loader on
// cache miss. Stored as: SET chapter:{chapterID}:content {json} EX ttl.
type ContentRepository struct {
	client *redis.Client
	loader ChapterLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewContentRepository(client *redis.Client, loader ChapterLoader, ttl time.Duration) *ContentRepository {
	return &ContentRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// GetTopics returns the chapter's topics in sequence order.
func (r *ContentRepository) GetTopics(ctx context.Context, chapterID string) ([]domain.Topic, error) {
	chapter, err := r.getChapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	topics := make([]domain.Topic, 0, len(chapter.Topics))
	for _, tc := range chapter.Topics {
		topics = append(topics, tc.Topic)
	}
	return topics, nil
}

// GetQuestions returns the ordered questions of one topic within a chapter.
func (r *ContentRepository) GetQuestions(ctx context.Context, chapterID, topicID string) ([]domain.Question, error) {
	chapter, err := r.getChapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	for _, tc := range chapter.Topics {
		if tc.Topic.ID == topicID {
			return tc.Questions, nil
		}
	}
	return nil, domain.ErrContentNotFound
}

func (r *ContentRepository) getChapter(ctx context.Context, chapterID string) (domain.Chapter, error) {
	key := r.contentKey(chapterID)

	if raw, err := r.client.Get(ctx, key).Bytes(); err == nil {
		var chapter domain.Chapter
		if err := json.Unmarshal(raw, &chapter); err == nil {
			return chapter, nil
		}
	}

	result, err, _ := r.sf.Do(chapterID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if raw, err := r.client.Get(ctx, key).Bytes(); err == nil {
			var chapter domain.Chapter
			if err := json.Unmarshal(raw, &chapter); err == nil {
				return chapter, nil
			}
		}

		chapter, err := r.loader.LoadChapter(ctx, chapterID)
		if err != nil {
			return domain.Chapter{}, err
		}

		if raw, err := json.Marshal(chapter); err == nil {
			_ = r.client.Set(ctx, key, raw, r.ttlWithJitter()).Err()
		}
		return chapter, nil
	})
	if err != nil {
		return domain.Chapter{}, err
	}
	return result.(domain.Chapter), nil
}

func (r *ContentRepository) contentKey(chapterID string) string {
	return "chapter:" + chapterID + ":content"
}

func (r *ContentRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
