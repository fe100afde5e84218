// Package export writes evaluation results as flat CSV tables.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/noah-isme/gema-grader/internal/grading"
)

// FeedbackSeparator joins feedback lines in the summary table.
const FeedbackSeparator = " | "

var (
	summaryHeader  = []string{"student_id", "file", "assignment_type", "final_score", "max_score", "feedback"}
	detailedHeader = []string{"student_id", "file", "assignment_type", "final_score", "max_score", "category", "feedback"}
)

// Files are the paths written by WriteFiles.
type Files struct {
	Summary  string
	Detailed string
}

// SummaryName is the summary file name for a run.
func SummaryName(runID string) string {
	return fmt.Sprintf("results_%s.csv", runID)
}

// DetailedName is the detailed file name for a run.
func DetailedName(runID string) string {
	return fmt.Sprintf("results_%s_detailed.csv", runID)
}

// WriteSummary writes one row per student, ordered by student id.
func WriteSummary(w io.Writer, results []grading.AggregateResult) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(summaryHeader); err != nil {
		return fmt.Errorf("write summary header: %w", err)
	}
	for _, result := range sorted(results) {
		lines := result.CombinedFeedback()
		for i := range lines {
			lines[i] = cell(lines[i])
		}
		row := append(baseRow(result), strings.Join(lines, FeedbackSeparator))
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write summary row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteDetailed writes one row per feedback line, repeating the student columns.
func WriteDetailed(w io.Writer, results []grading.AggregateResult) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(detailedHeader); err != nil {
		return fmt.Errorf("write detailed header: %w", err)
	}
	for _, result := range sorted(results) {
		for _, line := range detailedLines(result) {
			row := append(baseRow(result), line[0], cell(line[1]))
			if err := writer.Write(row); err != nil {
				return fmt.Errorf("write detailed row: %w", err)
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteFiles writes both tables into dir.
func WriteFiles(dir, runID string, results []grading.AggregateResult) (Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Files{}, fmt.Errorf("create export dir: %w", err)
	}
	files := Files{
		Summary:  filepath.Join(dir, SummaryName(runID)),
		Detailed: filepath.Join(dir, DetailedName(runID)),
	}
	if err := writeFile(files.Summary, results, WriteSummary); err != nil {
		return Files{}, err
	}
	if err := writeFile(files.Detailed, results, WriteDetailed); err != nil {
		return Files{}, err
	}
	return files, nil
}

func writeFile(path string, results []grading.AggregateResult, write func(io.Writer, []grading.AggregateResult) error) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if err := write(file, results); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func detailedLines(result grading.AggregateResult) [][2]string {
	lines := make([][2]string, 0, len(result.Feedback)+4)
	for _, item := range result.Feedback {
		lines = append(lines, [2]string{item.Category.String(), item.Text})
	}
	if result.Enhancement != nil {
		if result.Enhancement.Summary != "" {
			lines = append(lines, [2]string{"ai_summary", result.Enhancement.Summary})
		}
		for _, strength := range result.Enhancement.Strengths {
			lines = append(lines, [2]string{"ai_strength", strength})
		}
		for _, correction := range result.Enhancement.Corrections {
			lines = append(lines, [2]string{"ai_correction", correction})
		}
	}
	return lines
}

func baseRow(result grading.AggregateResult) []string {
	return []string{
		cell(result.StudentID),
		cell(result.FileName),
		string(result.AssignmentType),
		formatScore(result.FinalScore),
		formatScore(result.MaxScore),
	}
}

func sorted(results []grading.AggregateResult) []grading.AggregateResult {
	out := append([]grading.AggregateResult(nil), results...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StudentID != out[j].StudentID {
			return out[i].StudentID < out[j].StudentID
		}
		return out[i].FileName < out[j].FileName
	})
	return out
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// cell flattens a value onto one line so every cell stays a scalar string.
func cell(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
