package export

import (
	"bytes"
	"encoding/csv"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/grading"
)

func sampleResults() []grading.AggregateResult {
	return []grading.AggregateResult{
		{
			StudentID:      "bob",
			FileName:       "bob.txt",
			AssignmentType: grading.AssignmentContent,
			FinalScore:     63,
			MaxScore:       100,
			Feedback: []grading.FeedbackItem{
				{Category: grading.CategoryImprovement, Text: "Add headings,\nplease"},
			},
		},
		{
			StudentID:      "alice",
			FileName:       "alice.py",
			AssignmentType: grading.AssignmentCode,
			FinalScore:     79.893,
			MaxScore:       100,
			Feedback: []grading.FeedbackItem{
				{Category: grading.CategoryStrength, Text: "Code is commented (4 comments found)."},
				{Category: grading.CategoryIssue, Text: `Possible "copy"`},
			},
			Enhancement: &grading.Enhancement{Summary: "Good work.", Corrections: []string{"Check n < 0."}},
		},
	}
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, sampleResults()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Equal(t, summaryHeader, rows[0])
	require.Equal(t, []string{
		"alice", "alice.py", "code", "79.89", "100.00",
		`✓ Code is commented (4 comments found). | ✗ Possible "copy" | AI summary: Good work. | AI correction: Check n < 0.`,
	}, rows[1])
	require.Equal(t, []string{"bob", "bob.txt", "content", "63.00", "100.00", "→ Add headings, please"}, rows[2])
}

func TestWriteDetailed(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDetailed(&buf, sampleResults()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 6)
	require.Equal(t, detailedHeader, rows[0])
	require.Equal(t, []string{"alice", "alice.py", "code", "79.89", "100.00", "strength", "Code is commented (4 comments found)."}, rows[1])
	require.Equal(t, []string{"alice", "alice.py", "code", "79.89", "100.00", "ai_correction", "Check n < 0."}, rows[4])
	require.Equal(t, "improvement", rows[5][5])
	for _, row := range rows {
		for _, value := range row {
			require.NotContains(t, value, "\n")
		}
	}
}

func TestWriteFilesIsReproducible(t *testing.T) {
	dir := t.TempDir()
	first, err := WriteFiles(dir, "run1", sampleResults())
	require.NoError(t, err)
	firstSummary, err := os.ReadFile(first.Summary)
	require.NoError(t, err)
	firstDetailed, err := os.ReadFile(first.Detailed)
	require.NoError(t, err)

	reversed := sampleResults()
	reversed[0], reversed[1] = reversed[1], reversed[0]
	second, err := WriteFiles(t.TempDir(), "run1", reversed)
	require.NoError(t, err)
	secondSummary, err := os.ReadFile(second.Summary)
	require.NoError(t, err)
	secondDetailed, err := os.ReadFile(second.Detailed)
	require.NoError(t, err)

	require.Equal(t, firstSummary, secondSummary)
	require.Equal(t, firstDetailed, secondDetailed)
	require.Equal(t, "results_run1.csv", SummaryName("run1"))
	require.Equal(t, "results_run1_detailed.csv", DetailedName("run1"))
}
