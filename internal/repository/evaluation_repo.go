package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
)

// EvaluationRepository persists graded batches.
type EvaluationRepository interface {
	CreateRun(ctx context.Context, run *models.EvaluationRun) error
	GetRun(ctx context.Context, id string) (models.EvaluationRun, error)
	ListRuns(ctx context.Context, limit int) ([]models.EvaluationRun, error)
}

// NewEvaluationRepository constructs an evaluation repository.
func NewEvaluationRepository(db *gorm.DB) EvaluationRepository {
	return &evaluationRepository{db: db}
}

type evaluationRepository struct {
	db *gorm.DB
}

func (r *evaluationRepository) CreateRun(ctx context.Context, run *models.EvaluationRun) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(run).Error
	})
}

func (r *evaluationRepository) GetRun(ctx context.Context, id string) (models.EvaluationRun, error) {
	var run models.EvaluationRun
	err := r.db.WithContext(ctx).
		Preload("Results", func(db *gorm.DB) *gorm.DB {
			return db.Order("student_id ASC").Order("id ASC")
		}).
		First(&run, "id = ?", id).Error
	if err != nil {
		return models.EvaluationRun{}, err
	}
	return run, nil
}

func (r *evaluationRepository) ListRuns(ctx context.Context, limit int) ([]models.EvaluationRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var runs []models.EvaluationRun
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}
