// Package scoring derives leaderboard standings from the answer ledger.
package scoring

import (
	"sort"
	"time"

	"classquiz-live/internal/domain"
)

// PointsPerCorrect is the flat credit for a correct answer; no speed bonus.
const PointsPerCorrect = 10

// Compute derives the ordered leaderboard from the participant list and the
// answer ledger. It is a pure function: the same inputs yield the same output
// regardless of slice order, so replaying the ledger in any order is safe.
// Ordering: score descending, then earliest time the score was reached, then
// participant id.
func Compute(participants []*domain.Participant, ledger []domain.AnswerRecord, totalQuestions int) []domain.LeaderboardEntry {
	type tally struct {
		correct   int
		answered  int
		reachedAt time.Time
	}

	tallies := make(map[string]*tally, len(participants))
	for _, p := range participants {
		tallies[p.ID] = &tally{reachedAt: p.JoinedAt}
	}

	for _, rec := range ledger {
		t, ok := tallies[rec.ParticipantID]
		if !ok {
			// Record for a participant no longer listed; ignore.
			continue
		}
		t.answered++
		if rec.IsCorrect {
			t.correct++
			// The score is "reached" when the latest correct answer landed.
			if rec.AnsweredAt.After(t.reachedAt) {
				t.reachedAt = rec.AnsweredAt
			}
		}
	}

	entries := make([]domain.LeaderboardEntry, 0, len(participants))
	reached := make(map[string]time.Time, len(participants))
	for _, p := range participants {
		t := tallies[p.ID]
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID:          p.ID,
			DisplayName:            p.DisplayName,
			CorrectCount:           t.correct,
			AnsweredCount:          t.answered,
			Score:                  t.correct * PointsPerCorrect,
			CurrentQuestionOrdinal: ordinal(t.answered, totalQuestions),
		})
		reached[p.ID] = t.reachedAt
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		ri, rj := reached[entries[i].ParticipantID], reached[entries[j].ParticipantID]
		if !ri.Equal(rj) {
			return ri.Before(rj)
		}
		return entries[i].ParticipantID < entries[j].ParticipantID
	})
	return entries
}

// ordinal is the 1-based question the participant is on, capped at the total.
func ordinal(answered, total int) int {
	if total == 0 {
		return 0
	}
	if answered >= total {
		return total
	}
	return answered + 1
}
