package ai

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is wrapped by every enhancer failure. Callers fall back to the static
// feedback they already computed.
var ErrUnavailable = errors.New("feedback enhancement unavailable")

// ExcerptLimit caps how many characters of a submission are sent to the model.
const ExcerptLimit = 4000

// EnhancementInput carries what the model may see about one submission.
type EnhancementInput struct {
	StudentID         string
	AssignmentType    string
	Language          string
	ProblemStatement  string
	SubmissionExcerpt string
	DraftFeedback     []string
}

// Enhancement is a validated model reply. It deliberately has no score field.
type Enhancement struct {
	Summary     string   `json:"summary"`
	Corrections []string `json:"corrections"`
	Strengths   []string `json:"strengths"`
}

// Enhancer enriches draft feedback. Implementations must return either a validated
// Enhancement or an error wrapping ErrUnavailable.
type Enhancer interface {
	Enhance(ctx context.Context, input EnhancementInput) (Enhancement, error)
}

// Config is the process-wide enhancer configuration, read once at start-up.
type Config struct {
	Enabled     bool
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
	CacheTTL    time.Duration
}

// Excerpt truncates text to ExcerptLimit runes.
func Excerpt(text string) string {
	runes := []rune(text)
	if len(runes) <= ExcerptLimit {
		return text
	}
	return string(runes[:ExcerptLimit])
}
