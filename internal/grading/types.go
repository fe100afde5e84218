// Package grading scores student submissions against a rubric. Analyzers turn a
// submission into per-criterion scores and feedback; the aggregator combines them
// into a final 0-100 score.
package grading

import (
	"fmt"
	"path/filepath"
	"strings"
)

// AssignmentType selects which analyzers a batch is routed through.
type AssignmentType string

const (
	AssignmentCode    AssignmentType = "code"
	AssignmentContent AssignmentType = "content"
	AssignmentMixed   AssignmentType = "mixed"
)

// Valid reports whether t is one of the supported assignment types.
func (t AssignmentType) Valid() bool {
	switch t {
	case AssignmentCode, AssignmentContent, AssignmentMixed:
		return true
	default:
		return false
	}
}

// Category classifies a feedback item. The zero value is not a valid category.
type Category int

const (
	CategoryStrength Category = iota + 1
	CategoryImprovement
	CategoryIssue
)

func (c Category) String() string {
	switch c {
	case CategoryStrength:
		return "strength"
	case CategoryImprovement:
		return "improvement"
	case CategoryIssue:
		return "issue"
	default:
		return "unknown"
	}
}

// Marker is the prefix used when feedback is rendered as plain text.
func (c Category) Marker() string {
	switch c {
	case CategoryStrength:
		return "✓"
	case CategoryImprovement:
		return "→"
	case CategoryIssue:
		return "✗"
	default:
		return "•"
	}
}

// ParseCategory maps the textual form back to a Category.
func ParseCategory(value string) Category {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "strength":
		return CategoryStrength
	case "improvement":
		return CategoryImprovement
	case "issue":
		return CategoryIssue
	default:
		return 0
	}
}

// MarshalText encodes the category by name.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a category name; unknown names are rejected.
func (c *Category) UnmarshalText(text []byte) error {
	parsed := ParseCategory(string(text))
	if parsed == 0 {
		return fmt.Errorf("unknown feedback category %q", string(text))
	}
	*c = parsed
	return nil
}

// Submission is one ingested student file. It is read-only through the pipeline.
type Submission struct {
	StudentID    string
	RawText      string
	LanguageHint string
	FileName     string
}

// ResolvedStudentID falls back to the file name stem when no id was declared.
func (s Submission) ResolvedStudentID() string {
	if id := strings.TrimSpace(s.StudentID); id != "" {
		return id
	}
	base := filepath.Base(s.FileName)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// FeedbackItem is a single categorised feedback line.
type FeedbackItem struct {
	Category Category `json:"category"`
	Text     string   `json:"text"`
}

// String renders the item with its category marker.
func (f FeedbackItem) String() string {
	return f.Category.Marker() + " " + f.Text
}

// CriterionScore is a raw score and the max it was scored against.
type CriterionScore struct {
	Score float64
	Max   float64
}

// AnalyzerOutput is produced once per submission per analyzer and only read afterwards.
type AnalyzerOutput struct {
	Dimension  string
	Criteria   map[string]CriterionScore
	Feedback   []FeedbackItem
	Relevance  float64
	Similarity float64
	Degraded   bool
}

// Score returns the named criterion score.
func (o AnalyzerOutput) Score(name string) (CriterionScore, bool) {
	score, ok := o.Criteria[name]
	return score, ok
}

type feedbackLog struct {
	items []FeedbackItem
}

func (l *feedbackLog) strength(format string, args ...interface{}) {
	l.add(CategoryStrength, format, args...)
}

func (l *feedbackLog) improve(format string, args ...interface{}) {
	l.add(CategoryImprovement, format, args...)
}

func (l *feedbackLog) issue(format string, args ...interface{}) {
	l.add(CategoryIssue, format, args...)
}

func (l *feedbackLog) add(category Category, format string, args ...interface{}) {
	text := format
	if len(args) > 0 {
		text = fmt.Sprintf(format, args...)
	}
	l.items = append(l.items, FeedbackItem{Category: category, Text: text})
}
