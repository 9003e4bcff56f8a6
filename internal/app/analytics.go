package app

import (
	"context"
	"fmt"
	"math"
	"sort"

	"buzzer-quiz-service/internal/domain"
)

const defaultTopPerformers = 10

var scoreBucketLabels = []string{"0-100", "101-200", "201-300", "301-400", "401-500", "500+"}

// AnalyticsAggregator computes and persists post-game analytics.
type AnalyticsAggregator struct {
	store AnalyticsStore
	clock Clock
	topN  int
}

func NewAnalyticsAggregator(store AnalyticsStore, clock Clock, topN int) *AnalyticsAggregator {
	if topN <= 0 {
		topN = defaultTopPerformers
	}
	return &AnalyticsAggregator{store: store, clock: clock, topN: topN}
}

// Generate reads every participant and answer of the session, computes the
// aggregate and upserts it.
func (a *AnalyticsAggregator) Generate(ctx context.Context, session domain.Session) (domain.Analytics, error) {
	participants, err := a.store.ListParticipants(ctx, session.ID)
	if err != nil {
		return domain.Analytics{}, fmt.Errorf("list participants: %w", err)
	}
	answers, err := a.store.ListAnswers(ctx, session.ID)
	if err != nil {
		return domain.Analytics{}, fmt.Errorf("list answers: %w", err)
	}

	analytics := ComputeAnalytics(session, participants, answers, a.topN)
	analytics.GeneratedAt = a.clock.Now()
	if err := a.store.SaveAnalytics(ctx, analytics); err != nil {
		return domain.Analytics{}, fmt.Errorf("save analytics: %w", err)
	}
	return analytics, nil
}

// ComputeAnalytics is the pure part of Generate.
func ComputeAnalytics(session domain.Session, participants []domain.Participant, answers []domain.Answer, topN int) domain.Analytics {
	ranked := RankParticipants(participants)
	sortAnswers(answers)

	out := domain.Analytics{
		SessionID:         session.ID,
		TotalStudents:     len(participants),
		ScoreDistribution: scoreDistribution(participants),
		TopPerformers:     ranked[:min(topN, len(ranked))],
		DetailedResults:   make([]domain.ParticipantResult, 0, len(ranked)),
		QuestionStats:     make([]domain.QuestionStats, 0, len(session.Questions)),
	}

	if len(participants) > 0 {
		total := 0
		for _, p := range participants {
			total += p.Score
		}
		out.AverageScore = math.Round(float64(total)/float64(len(participants))*100) / 100
	}

	names := make(map[string]string, len(participants))
	for _, p := range participants {
		names[p.ID] = p.Name
	}
	rounds := make(map[string]int, len(session.Questions))
	for _, q := range session.Questions {
		rounds[q.ID] = roundOf(q)
	}

	roundScores := make(map[string]map[int]int, len(participants))
	byQuestion := make(map[string][]domain.Answer)
	for _, ans := range answers {
		byQuestion[ans.QuestionID] = append(byQuestion[ans.QuestionID], ans)
		round, ok := rounds[ans.QuestionID]
		if !ok {
			round = 1
		}
		if roundScores[ans.ParticipantID] == nil {
			roundScores[ans.ParticipantID] = make(map[int]int)
		}
		roundScores[ans.ParticipantID][round] += ans.Points
	}

	for _, entry := range ranked {
		scores := roundScores[entry.ParticipantID]
		if scores == nil {
			scores = map[int]int{}
		}
		out.DetailedResults = append(out.DetailedResults, domain.ParticipantResult{
			ID:          entry.ParticipantID,
			Name:        entry.Name,
			TotalScore:  entry.Score,
			Rank:        entry.Rank,
			BuzzerWins:  entry.BuzzerWins,
			RoundScores: scores,
		})
	}

	var (
		buzzTimes    []int64
		buzzAnswered int
		buzzCorrect  int
	)
	for _, q := range session.Questions {
		qAnswers := byQuestion[q.ID]
		stats := questionStats(q, qAnswers, names)
		if q.Type.BuzzerGated() {
			out.BuzzerStats.TotalBuzzerQuestions++
			if len(qAnswers) > 0 {
				first := qAnswers[0]
				stats.BuzzerStats = &domain.QuestionBuzzerStats{
					Winner:      names[first.ParticipantID],
					FastestTime: first.TimeToAnswer,
					Accurate:    first.IsCorrect,
				}
				buzzAnswered++
				if first.IsCorrect {
					buzzCorrect++
				}
				if first.TimeToAnswer != nil {
					buzzTimes = append(buzzTimes, *first.TimeToAnswer)
				}
			}
		}
		out.QuestionStats = append(out.QuestionStats, stats)
	}

	if len(buzzTimes) > 0 {
		fastest := buzzTimes[0]
		var sum int64
		for _, t := range buzzTimes {
			sum += t
			if t < fastest {
				fastest = t
			}
		}
		out.BuzzerStats.FastestBuzz = &fastest
		out.BuzzerStats.AverageBuzzTime = int64(math.Round(float64(sum) / float64(len(buzzTimes))))
	}
	if buzzAnswered > 0 {
		out.BuzzerStats.BuzzerAccuracy = percent(buzzCorrect, buzzAnswered)
	}
	return out
}

func questionStats(q domain.Question, answers []domain.Answer, names map[string]string) domain.QuestionStats {
	stats := domain.QuestionStats{
		QuestionID:     q.ID,
		QuestionText:   q.Text,
		Type:           q.Type,
		Round:          roundOf(q),
		TotalAnswers:   len(answers),
		CorrectNames:   []string{},
		IncorrectNames: []string{},
	}
	var (
		timeSum   int64
		timeCount int
	)
	for _, a := range answers {
		if a.IsCorrect {
			stats.CorrectCount++
			stats.CorrectNames = append(stats.CorrectNames, names[a.ParticipantID])
		} else {
			stats.WrongCount++
			stats.IncorrectNames = append(stats.IncorrectNames, names[a.ParticipantID])
		}
		if a.TimeToAnswer != nil {
			timeSum += *a.TimeToAnswer
			timeCount++
		}
	}
	stats.CorrectPercentage = percent(stats.CorrectCount, stats.TotalAnswers)
	if timeCount > 0 {
		stats.AverageTime = int64(math.Round(float64(timeSum) / float64(timeCount)))
	}
	return stats
}

func scoreDistribution(participants []domain.Participant) []domain.ScoreBucket {
	buckets := make([]domain.ScoreBucket, len(scoreBucketLabels))
	for i, label := range scoreBucketLabels {
		buckets[i].Label = label
	}
	for _, p := range participants {
		buckets[bucketIndex(p.Score)].Count++
	}
	return buckets
}

// bucketIndex places negative scores in the first bucket.
func bucketIndex(score int) int {
	switch {
	case score <= 100:
		return 0
	case score <= 200:
		return 1
	case score <= 300:
		return 2
	case score <= 400:
		return 3
	case score <= 500:
		return 4
	default:
		return 5
	}
}

func percent(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}

func roundOf(q domain.Question) int {
	if q.Round <= 0 {
		return 1
	}
	return q.Round
}

func sortAnswers(answers []domain.Answer) {
	sort.SliceStable(answers, func(i, j int) bool {
		return answers[i].SubmittedAt.Before(answers[j].SubmittedAt)
	})
}
