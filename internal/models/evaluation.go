package models

import (
	"time"

	"gorm.io/datatypes"
)

// EvaluationRun is one graded batch.
type EvaluationRun struct {
	ID                  string             `gorm:"primaryKey;size:36" json:"id"`
	AssignmentType      string             `gorm:"size:16;not null" json:"assignment_type"`
	ProblemStatement    string             `gorm:"type:text" json:"problem_statement"`
	RubricName          string             `gorm:"size:128" json:"rubric_name"`
	RubricVersion       string             `gorm:"size:32" json:"rubric_version"`
	StudentCount        int                `gorm:"not null" json:"student_count"`
	Rejected            datatypes.JSON     `json:"rejected"`
	EnhancementFailures int                `json:"enhancement_failures"`
	SummaryURL          string             `gorm:"size:512" json:"summary_url"`
	DetailedURL         string             `gorm:"size:512" json:"detailed_url"`
	CreatedAt           time.Time          `json:"created_at"`
	Results             []EvaluationResult `gorm:"foreignKey:RunID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"results"`
}

// EvaluationResult is the stored outcome for one student within a run.
type EvaluationResult struct {
	ID              uint              `gorm:"primaryKey" json:"id"`
	RunID           string            `gorm:"size:36;index;not null" json:"run_id"`
	StudentID       string            `gorm:"size:128;not null" json:"student_id"`
	FileName        string            `gorm:"size:255" json:"file_name"`
	AssignmentType  string            `gorm:"size:16" json:"assignment_type"`
	RawScore        float64           `gorm:"not null" json:"raw_score"`
	FinalScore      float64           `gorm:"not null" json:"final_score"`
	MaxScore        float64           `gorm:"not null" json:"max_score"`
	DimensionScores datatypes.JSONMap `json:"dimension_scores"`
	Feedback        datatypes.JSON    `json:"feedback"`
	Enhancement     datatypes.JSON    `json:"enhancement"`
	Degraded        bool              `json:"degraded"`
	CreatedAt       time.Time         `json:"created_at"`
}
