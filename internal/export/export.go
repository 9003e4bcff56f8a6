package export

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"buzzer-quiz-service/internal/domain"
	"github.com/xuri/excelize/v2"
)

// Format is an analytics export format.
type Format string

const (
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

const (
	sheetSummary     = "Summary"
	sheetLeaderboard = "Leaderboard"
	sheetQuestions   = "Questions"
)

// ParseFormat accepts "json" or "xlsx"; empty defaults to json.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/json"
}

// Filename builds the download name for a session export.
func (f Format) Filename(sessionID string) string {
	return fmt.Sprintf("analytics-%s.%s", sessionID, f)
}

// Write renders analytics in the given format.
func Write(w io.Writer, format Format, analytics domain.Analytics) error {
	switch format {
	case FormatXLSX:
		return WriteXLSX(w, analytics)
	default:
		return WriteJSON(w, analytics)
	}
}

func WriteJSON(w io.Writer, analytics domain.Analytics) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(analytics)
}

// WriteXLSX writes a workbook with summary, leaderboard and per-question sheets.
func WriteXLSX(w io.Writer, analytics domain.Analytics) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{sheetLeaderboard, sheetQuestions} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	if err := writeRows(f, sheetSummary, summaryRows(analytics)); err != nil {
		return err
	}
	if err := writeRows(f, sheetLeaderboard, leaderboardRows(analytics)); err != nil {
		return err
	}
	if err := writeRows(f, sheetQuestions, questionRows(analytics)); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("stream writer %s: %w", sheet, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", sheet, err)
	}
	return nil
}

func summaryRows(a domain.Analytics) [][]interface{} {
	rows := [][]interface{}{
		{"Session", sanitizeForExcel(a.SessionID)},
		{"Generated at", a.GeneratedAt.UTC().Format("2006-01-02 15:04:05")},
		{"Students", a.TotalStudents},
		{"Average score", a.AverageScore},
		{"Buzzer questions", a.BuzzerStats.TotalBuzzerQuestions},
		{"Average buzz time (ms)", a.BuzzerStats.AverageBuzzTime},
		{"Buzzer accuracy (%)", a.BuzzerStats.BuzzerAccuracy},
	}
	if a.BuzzerStats.FastestBuzz != nil {
		rows = append(rows, []interface{}{"Fastest buzz (ms)", *a.BuzzerStats.FastestBuzz})
	}
	rows = append(rows, []interface{}{}, []interface{}{"Score range", "Students"})
	for _, b := range a.ScoreDistribution {
		rows = append(rows, []interface{}{b.Label, b.Count})
	}
	return rows
}

func leaderboardRows(a domain.Analytics) [][]interface{} {
	rounds := roundsOf(a.DetailedResults)
	header := []interface{}{"Rank", "Name", "Score", "Buzzer wins"}
	for _, r := range rounds {
		header = append(header, fmt.Sprintf("Round %d", r))
	}
	rows := [][]interface{}{header}
	for _, r := range a.DetailedResults {
		row := []interface{}{r.Rank, sanitizeForExcel(r.Name), r.TotalScore, r.BuzzerWins}
		for _, round := range rounds {
			row = append(row, r.RoundScores[round])
		}
		rows = append(rows, row)
	}
	return rows
}

func questionRows(a domain.Analytics) [][]interface{} {
	rows := [][]interface{}{{
		"#", "Question", "Type", "Round", "Answers", "Correct", "Wrong", "Correct (%)",
		"Average time (ms)", "Correct names", "Incorrect names", "Buzzer winner",
	}}
	for i, q := range a.QuestionStats {
		winner := ""
		if q.BuzzerStats != nil {
			winner = q.BuzzerStats.Winner
		}
		rows = append(rows, []interface{}{
			i + 1,
			sanitizeForExcel(q.QuestionText),
			string(q.Type),
			q.Round,
			q.TotalAnswers,
			q.CorrectCount,
			q.WrongCount,
			q.CorrectPercentage,
			q.AverageTime,
			sanitizeForExcel(strings.Join(q.CorrectNames, ", ")),
			sanitizeForExcel(strings.Join(q.IncorrectNames, ", ")),
			sanitizeForExcel(winner),
		})
	}
	return rows
}

func roundsOf(results []domain.ParticipantResult) []int {
	seen := make(map[int]struct{})
	for _, r := range results {
		for round := range r.RoundScores {
			seen[round] = struct{}{}
		}
	}
	rounds := make([]int, 0, len(seen))
	for r := range seen {
		rounds = append(rounds, r)
	}
	sort.Ints(rounds)
	return rounds
}

// sanitizeForExcel escapes values that spreadsheet apps would read as formulas.
func sanitizeForExcel(s string) string {
	if len(s) == 0 {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}
