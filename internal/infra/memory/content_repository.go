package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"classquiz-live/internal/domain"
)

// ChapterLoader fetches chapter content from a backing store (e.g. postgres).
type ChapterLoader interface {
	LoadChapter(ctx context.Context, chapterID string) (domain.Chapter, error)
}

// ContentRepository caches chapters with TTL to avoid repeated store hits;
// concurrent misses for the same chapter collapse into one load.
type ContentRepository struct {
	loader ChapterLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedChapter
}

type cachedChapter struct {
	chapter   domain.Chapter
	expiresAt time.Time
}

func NewContentRepository(loader ChapterLoader, ttl time.Duration) *ContentRepository {
	return &ContentRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedChapter),
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
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[chapterID]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.chapter, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(chapterID, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[chapterID]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.chapter, nil
		}
		r.mu.RUnlock()

		chapter, err := r.loader.LoadChapter(ctx, chapterID)
		if err != nil {
			return domain.Chapter{}, err
		}

		r.mu.Lock()
		r.cache[chapterID] = cachedChapter{
			chapter:   chapter,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return chapter, nil
	})
	if err != nil {
		return domain.Chapter{}, err
	}
	return result.(domain.Chapter), nil
}

func (r *ContentRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticChapterLoader serves chapters from an in-memory map (demos and tests).
type StaticChapterLoader struct {
	chapters map[string]domain.Chapter
}

func NewStaticChapterLoader(chapters map[string]domain.Chapter) *StaticChapterLoader {
	return &StaticChapterLoader{chapters: chapters}
}

func (l *StaticChapterLoader) LoadChapter(_ context.Context, chapterID string) (domain.Chapter, error) {
	if chapter, ok := l.chapters[chapterID]; ok {
		return chapter, nil
	}
	return domain.Chapter{}, domain.ErrContentNotFound
}
