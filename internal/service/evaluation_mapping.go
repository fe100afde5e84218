package service

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/models"
)

func toRunModel(batch BatchResult) (models.EvaluationRun, error) {
	rejected, err := json.Marshal(batch.Rejected)
	if err != nil {
		return models.EvaluationRun{}, fmt.Errorf("encode rejected files: %w", err)
	}

	run := models.EvaluationRun{
		ID:                  batch.RunID,
		AssignmentType:      string(batch.AssignmentType),
		ProblemStatement:    batch.ProblemStatement,
		RubricName:          batch.RubricName,
		RubricVersion:       batch.RubricVersion,
		StudentCount:        len(batch.Results),
		Rejected:            datatypes.JSON(rejected),
		EnhancementFailures: batch.EnhancementFailures,
		SummaryURL:          batch.SummaryURL,
		DetailedURL:         batch.DetailedURL,
		CreatedAt:           batch.CreatedAt,
		Results:             make([]models.EvaluationResult, 0, len(batch.Results)),
	}

	for _, result := range batch.Results {
		feedback, err := json.Marshal(result.Feedback)
		if err != nil {
			return models.EvaluationRun{}, fmt.Errorf("encode feedback for %s: %w", result.StudentID, err)
		}
		var enhancement datatypes.JSON
		if result.Enhancement != nil {
			data, err := json.Marshal(result.Enhancement)
			if err != nil {
				return models.EvaluationRun{}, fmt.Errorf("encode enhancement for %s: %w", result.StudentID, err)
			}
			enhancement = data
		}
		scores := make(datatypes.JSONMap, len(result.DimensionScores))
		for name, score := range result.DimensionScores {
			scores[name] = score
		}

		run.Results = append(run.Results, models.EvaluationResult{
			RunID:           batch.RunID,
			StudentID:       result.StudentID,
			FileName:        result.FileName,
			AssignmentType:  string(result.AssignmentType),
			RawScore:        result.RawScore,
			FinalScore:      result.FinalScore,
			MaxScore:        result.MaxScore,
			DimensionScores: scores,
			Feedback:        datatypes.JSON(feedback),
			Enhancement:     enhancement,
			Degraded:        result.Degraded,
			CreatedAt:       batch.CreatedAt,
		})
	}
	return run, nil
}

func fromRunModel(run models.EvaluationRun) (BatchResult, error) {
	batch := BatchResult{
		RunID:               run.ID,
		AssignmentType:      grading.AssignmentType(run.AssignmentType),
		ProblemStatement:    run.ProblemStatement,
		RubricName:          run.RubricName,
		RubricVersion:       run.RubricVersion,
		EnhancementFailures: run.EnhancementFailures,
		SummaryURL:          run.SummaryURL,
		DetailedURL:         run.DetailedURL,
		Persisted:           true,
		CreatedAt:           run.CreatedAt,
		Rejected:            []RejectedFile{},
	}
	if hasJSON(run.Rejected) {
		if err := json.Unmarshal(run.Rejected, &batch.Rejected); err != nil {
			return BatchResult{}, fmt.Errorf("decode rejected files: %w", err)
		}
	}

	batch.Results = make([]grading.AggregateResult, 0, len(run.Results))
	for _, stored := range run.Results {
		result := grading.AggregateResult{
			StudentID:       stored.StudentID,
			FileName:        stored.FileName,
			AssignmentType:  grading.AssignmentType(stored.AssignmentType),
			RawScore:        stored.RawScore,
			FinalScore:      stored.FinalScore,
			MaxScore:        stored.MaxScore,
			DimensionScores: make(map[string]float64, len(stored.DimensionScores)),
			Degraded:        stored.Degraded,
		}
		for name, value := range stored.DimensionScores {
			switch v := value.(type) {
			case float64:
				result.DimensionScores[name] = v
			case json.Number:
				f, err := v.Float64()
				if err != nil {
					return BatchResult{}, fmt.Errorf("decode %s score for %s: %w", name, stored.StudentID, err)
				}
				result.DimensionScores[name] = f
			}
		}
		if hasJSON(stored.Feedback) {
			if err := json.Unmarshal(stored.Feedback, &result.Feedback); err != nil {
				return BatchResult{}, fmt.Errorf("decode feedback for %s: %w", stored.StudentID, err)
			}
		}
		if hasJSON(stored.Enhancement) {
			var enhancement grading.Enhancement
			if err := json.Unmarshal(stored.Enhancement, &enhancement); err != nil {
				return BatchResult{}, fmt.Errorf("decode enhancement for %s: %w", stored.StudentID, err)
			}
			result.Enhancement = &enhancement
		}
		batch.Results = append(batch.Results, result)
	}
	return batch, nil
}

func hasJSON(data datatypes.JSON) bool {
	return len(data) > 0 && string(data) != "null"
}
