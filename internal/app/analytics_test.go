package app_test

import (
	"context"
	"testing"
	"time"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/domain"
	"buzzer-quiz-service/internal/infra/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ms(v int64) *int64 { return &v }

func analyticsFixture() (domain.Session, []domain.Participant, []domain.Answer) {
	base := time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)
	session := domain.Session{
		ID: "s1",
		Questions: []domain.Question{
			directQuestion("q1", 1),
			buzzerQuestion("q2", 2),
			buzzerQuestion("q3", 2),
			buzzerQuestion("q4", 2),
		},
	}
	participants := []domain.Participant{
		{ID: "p1", Name: "Alice", Score: 300, BuzzerWins: 1, JoinedAt: base},
		{ID: "p2", Name: "Bob", Score: -75, BuzzerWins: 1, JoinedAt: base.Add(time.Second)},
		{ID: "p3", Name: "Carol", Score: 0, JoinedAt: base.Add(2 * time.Second)},
	}
	answers := []domain.Answer{
		{ParticipantID: "p2", QuestionID: "q1", IsCorrect: false, Points: -25, TimeToAnswer: ms(3000), SubmittedAt: base.Add(11 * time.Second)},
		{ParticipantID: "p1", QuestionID: "q1", IsCorrect: true, Points: 100, TimeToAnswer: ms(2001), SubmittedAt: base.Add(10 * time.Second)},
		{ParticipantID: "p2", QuestionID: "q2", IsCorrect: false, Points: -50, TimeToAnswer: ms(900), SubmittedAt: base.Add(30 * time.Second)},
		{ParticipantID: "p1", QuestionID: "q2", IsCorrect: true, Points: 200, TimeToAnswer: ms(1500), SubmittedAt: base.Add(40 * time.Second)},
		{ParticipantID: "p3", QuestionID: "q3", IsCorrect: true, Points: 0, SubmittedAt: base.Add(50 * time.Second)},
	}
	return session, participants, answers
}

func TestComputeAnalytics(t *testing.T) {
	session, participants, answers := analyticsFixture()
	a := app.ComputeAnalytics(session, participants, answers, 2)

	assert.Equal(t, "s1", a.SessionID)
	assert.Equal(t, 3, a.TotalStudents)
	assert.Equal(t, 75.0, a.AverageScore)

	require.Len(t, a.ScoreDistribution, 6)
	assert.Equal(t, domain.ScoreBucket{Label: "0-100", Count: 2}, a.ScoreDistribution[0], "negative scores land in the first bucket")
	assert.Equal(t, domain.ScoreBucket{Label: "201-300", Count: 1}, a.ScoreDistribution[2])
	assert.Equal(t, "500+", a.ScoreDistribution[5].Label)

	require.Len(t, a.TopPerformers, 2)
	assert.Equal(t, "Alice", a.TopPerformers[0].Name)
	assert.Equal(t, "Carol", a.TopPerformers[1].Name)

	require.Len(t, a.DetailedResults, 3)
	alice := a.DetailedResults[0]
	assert.Equal(t, map[int]int{1: 100, 2: 200}, alice.RoundScores)
	assert.Equal(t, 1, alice.Rank)
	bob := a.DetailedResults[2]
	assert.Equal(t, map[int]int{1: -25, 2: -50}, bob.RoundScores)

	require.Len(t, a.QuestionStats, 4)
	q1 := a.QuestionStats[0]
	assert.Equal(t, 2, q1.TotalAnswers)
	assert.Equal(t, 1, q1.CorrectCount)
	assert.Equal(t, 1, q1.WrongCount)
	assert.Equal(t, 50, q1.CorrectPercentage)
	assert.Equal(t, int64(2501), q1.AverageTime, "2001 and 3000 average to 2500.5, rounded")
	assert.Equal(t, []string{"Alice"}, q1.CorrectNames)
	assert.Equal(t, []string{"Bob"}, q1.IncorrectNames)
	assert.Nil(t, q1.BuzzerStats)

	q2 := a.QuestionStats[1]
	require.NotNil(t, q2.BuzzerStats)
	assert.Equal(t, "Bob", q2.BuzzerStats.Winner, "first scored press wins the stat")
	assert.False(t, q2.BuzzerStats.Accurate)
	assert.Equal(t, int64(900), *q2.BuzzerStats.FastestTime)

	q3 := a.QuestionStats[2]
	require.NotNil(t, q3.BuzzerStats)
	assert.Nil(t, q3.BuzzerStats.FastestTime)
	assert.Nil(t, a.QuestionStats[3].BuzzerStats, "unanswered buzzer question")

	assert.Equal(t, 3, a.BuzzerStats.TotalBuzzerQuestions)
	require.NotNil(t, a.BuzzerStats.FastestBuzz)
	assert.Equal(t, int64(900), *a.BuzzerStats.FastestBuzz)
	assert.Equal(t, int64(900), a.BuzzerStats.AverageBuzzTime)
	assert.Equal(t, 50, a.BuzzerStats.BuzzerAccuracy)
}

func TestComputeAnalyticsEmptySession(t *testing.T) {
	a := app.ComputeAnalytics(domain.Session{ID: "s1"}, nil, nil, 10)
	assert.Equal(t, 0, a.TotalStudents)
	assert.Zero(t, a.AverageScore)
	assert.Empty(t, a.TopPerformers)
	assert.Nil(t, a.BuzzerStats.FastestBuzz)
	for _, b := range a.ScoreDistribution {
		assert.Zero(t, b.Count)
	}
}

func TestAnalyticsAggregatorPersists(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := memory.NewStore()
	session := domain.Session{ID: "s1", Code: "ABC-123", Questions: []domain.Question{directQuestion("q1", 1)}}
	require.NoError(t, store.CreateSession(ctx, session))
	require.NoError(t, store.AddParticipant(ctx, domain.Participant{ID: "p1", SessionID: "s1", Name: "Alice"}))
	_, err := store.RecordAnswer(ctx, domain.Answer{ID: "a1", SessionID: "s1", ParticipantID: "p1", QuestionID: "q1", IsCorrect: true, Points: 100})
	require.NoError(t, err)

	aggregator := app.NewAnalyticsAggregator(store, clock, 0)
	a, err := aggregator.Generate(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), a.GeneratedAt)
	assert.Equal(t, 100.0, a.AverageScore)

	stored, err := store.GetAnalytics(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, a.TotalStudents, stored.TotalStudents)
}
