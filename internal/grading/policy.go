package grading

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidPolicy indicates thresholds that cannot produce a coherent gate.
var ErrInvalidPolicy = errors.New("invalid grading policy")

// Policy holds the tunable thresholds shared by the analyzers and the aggregator.
type Policy struct {
	// LowRelevance below which structure/effort (code) and alignment/flow (content) are capped.
	LowRelevance float64 `validate:"gte=0,lte=1"`
	// HighSimilarity above which a submission is flagged as a possible copy.
	HighSimilarity float64 `validate:"gte=0,lte=1"`
	// GateCap is the fraction of max a gated criterion may still earn.
	GateCap float64 `validate:"gte=0,lte=1"`
	// CopyCap is the fraction of max the approach/coverage criterion may earn when copied.
	CopyCap float64 `validate:"gte=0,lte=1"`
	// FullCreditRelevance is the overlap ratio that already earns full relevance credit.
	FullCreditRelevance float64 `validate:"gt=0,lte=1"`
	BoostFactor         float64 `validate:"gt=0,lt=1"`
	CurveThreshold      float64 `validate:"gt=0,lte=100"`
	MinWords            int     `validate:"gt=0"`
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		LowRelevance:        0.25,
		HighSimilarity:      0.60,
		GateCap:             0.20,
		CopyCap:             0.30,
		FullCreditRelevance: 0.60,
		BoostFactor:         0.30,
		CurveThreshold:      70,
		MinWords:            300,
	}
}

var policyValidator = validator.New()

// Validate checks ranges and the low < high ordering of the gate thresholds.
func (p Policy) Validate() error {
	if err := policyValidator.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if p.LowRelevance >= p.HighSimilarity {
		return fmt.Errorf("%w: low relevance %.2f must be below high similarity %.2f", ErrInvalidPolicy, p.LowRelevance, p.HighSimilarity)
	}
	return nil
}
