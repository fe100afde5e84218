package dto

import (
	"strings"
	"time"

	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/service"
)

// EvaluationRequest describes the multipart form fields accompanying uploaded files.
type EvaluationRequest struct {
	AssignmentType   string `form:"assignment_type" validate:"required,oneof=code content mixed"`
	ProblemStatement string `form:"problem_statement" validate:"required,max=20000"`
	ReferenceText    string `form:"reference_text" validate:"omitempty,max=50000"`
}

// Normalize trims free-text fields and lowercases the assignment type.
func (r *EvaluationRequest) Normalize() {
	r.AssignmentType = strings.ToLower(strings.TrimSpace(r.AssignmentType))
	r.ProblemStatement = strings.TrimSpace(r.ProblemStatement)
	r.ReferenceText = strings.TrimSpace(r.ReferenceText)
}

// EvaluationRunFilter holds list query parameters.
type EvaluationRunFilter struct {
	Limit int `query:"limit" validate:"omitempty,gte=1,lte=100"`
}

// FeedbackResponse is one categorised feedback line.
type FeedbackResponse struct {
	Category string `json:"category"`
	Text     string `json:"text"`
}

// EnhancementResponse carries the optional model-written feedback.
type EnhancementResponse struct {
	Summary     string   `json:"summary"`
	Corrections []string `json:"corrections"`
	Strengths   []string `json:"strengths"`
}

// EvaluationResultResponse is the per-student outcome.
type EvaluationResultResponse struct {
	StudentID       string               `json:"student_id"`
	FileName        string               `json:"file_name"`
	AssignmentType  string               `json:"assignment_type"`
	RawScore        float64              `json:"raw_score"`
	FinalScore      float64              `json:"final_score"`
	MaxScore        float64              `json:"max_score"`
	DimensionScores map[string]float64   `json:"dimension_scores"`
	Feedback        []FeedbackResponse   `json:"feedback"`
	Enhancement     *EnhancementResponse `json:"enhancement,omitempty"`
	Degraded        bool                 `json:"degraded"`
}

// RejectedFileResponse explains why a file was not evaluated.
type RejectedFileResponse struct {
	FileName string `json:"file_name"`
	Reason   string `json:"reason"`
}

// EvaluationRunResponse is returned after a batch is evaluated or looked up.
type EvaluationRunResponse struct {
	ID                  string                     `json:"id"`
	AssignmentType      string                     `json:"assignment_type"`
	RubricName          string                     `json:"rubric_name"`
	RubricVersion       string                     `json:"rubric_version"`
	StudentCount        int                        `json:"student_count"`
	MeanFinalScore      float64                    `json:"mean_final_score"`
	EnhancementFailures int                        `json:"enhancement_failures"`
	SummaryURL          string                     `json:"summary_url,omitempty"`
	DetailedURL         string                     `json:"detailed_url,omitempty"`
	Persisted           bool                       `json:"persisted"`
	CreatedAt           time.Time                  `json:"created_at"`
	Rejected            []RejectedFileResponse     `json:"rejected"`
	Results             []EvaluationResultResponse `json:"results,omitempty"`
}

// NewEvaluationRunResponse converts a batch into its API shape.
func NewEvaluationRunResponse(batch service.BatchResult) EvaluationRunResponse {
	response := NewEvaluationRunSummary(batch)
	response.Results = make([]EvaluationResultResponse, 0, len(batch.Results))
	for _, result := range batch.Results {
		response.Results = append(response.Results, NewEvaluationResultResponse(result))
	}
	return response
}

// NewEvaluationRunSummary converts a batch without its per-student results.
func NewEvaluationRunSummary(batch service.BatchResult) EvaluationRunResponse {
	response := EvaluationRunResponse{
		ID:                  batch.RunID,
		AssignmentType:      string(batch.AssignmentType),
		RubricName:          batch.RubricName,
		RubricVersion:       batch.RubricVersion,
		StudentCount:        len(batch.Results),
		MeanFinalScore:      batch.MeanFinalScore(),
		EnhancementFailures: batch.EnhancementFailures,
		SummaryURL:          batch.SummaryURL,
		DetailedURL:         batch.DetailedURL,
		Persisted:           batch.Persisted,
		CreatedAt:           batch.CreatedAt,
		Rejected:            make([]RejectedFileResponse, 0, len(batch.Rejected)),
	}
	for _, rejected := range batch.Rejected {
		response.Rejected = append(response.Rejected, RejectedFileResponse{FileName: rejected.FileName, Reason: rejected.Reason})
	}
	return response
}

// NewEvaluationResultResponse converts one aggregate result.
func NewEvaluationResultResponse(result grading.AggregateResult) EvaluationResultResponse {
	response := EvaluationResultResponse{
		StudentID:       result.StudentID,
		FileName:        result.FileName,
		AssignmentType:  string(result.AssignmentType),
		RawScore:        result.RawScore,
		FinalScore:      result.FinalScore,
		MaxScore:        result.MaxScore,
		DimensionScores: result.DimensionScores,
		Feedback:        make([]FeedbackResponse, 0, len(result.Feedback)),
		Degraded:        result.Degraded,
	}
	for _, item := range result.Feedback {
		response.Feedback = append(response.Feedback, FeedbackResponse{Category: item.Category.String(), Text: item.Text})
	}
	if result.Enhancement != nil {
		response.Enhancement = &EnhancementResponse{
			Summary:     result.Enhancement.Summary,
			Corrections: result.Enhancement.Corrections,
			Strengths:   result.Enhancement.Strengths,
		}
	}
	return response
}
