package app

import (
	"sort"

	"buzzer-quiz-service/internal/domain"
)

// RankParticipants orders participants by score desc, buzzer wins desc,
// join time asc and finally id, so two calls over the same set always agree.
func RankParticipants(participants []domain.Participant) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(participants))
	for _, p := range participants {
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID: p.ID,
			Name:          p.Name,
			Score:         p.Score,
			BuzzerWins:    p.BuzzerWins,
			JoinedAt:      p.JoinedAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.BuzzerWins != b.BuzzerWins {
			return a.BuzzerWins > b.BuzzerWins
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.ParticipantID < b.ParticipantID
	})

	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}
