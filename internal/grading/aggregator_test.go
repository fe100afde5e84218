package grading

import (
	"testing"

	"github.com/noah-isme/gema-grader/internal/rubric"
	"github.com/stretchr/testify/require"
)

func fullOutput(dim rubric.Dimension, fraction float64) AnalyzerOutput {
	out := AnalyzerOutput{Dimension: dim.Name, Criteria: map[string]CriterionScore{}}
	for _, criterion := range dim.Criteria {
		out.Criteria[criterion.Name] = CriterionScore{Score: fraction * criterion.MaxScore, Max: criterion.MaxScore}
	}
	return out
}

func TestNormalizeCurve(t *testing.T) {
	policy := DefaultPolicy()
	prev := -1.0
	for raw := 0.0; raw <= 100; raw += 0.25 {
		got := Normalize(raw, policy)
		require.GreaterOrEqual(t, got, prev, "raw %.2f", raw)
		if raw >= policy.CurveThreshold {
			require.Equal(t, raw, got)
		} else {
			require.Less(t, got, policy.CurveThreshold)
			require.GreaterOrEqual(t, got, raw)
		}
		prev = got
	}
	require.InDelta(t, 63.0, Normalize(60, policy), 1e-9)
	require.InDelta(t, 21.0, Normalize(0, policy), 1e-9)
}

func TestAggregateMixedWeights(t *testing.T) {
	r := rubric.Default()
	code, _ := r.Dimension(rubric.DimensionCode)
	content, _ := r.Dimension(rubric.DimensionContent)

	result := NewAggregator(DefaultPolicy()).Evaluate(
		[]AnalyzerOutput{fullOutput(code, 0.9), fullOutput(content, 0.7)},
		WeightsFor(r),
	)

	require.InDelta(t, 90.0, result.DimensionScores[rubric.DimensionCode], 1e-9)
	require.InDelta(t, 70.0, result.DimensionScores[rubric.DimensionContent], 1e-9)
	require.InDelta(t, 82.0, result.RawScore, 1e-9)
	require.InDelta(t, 82.0, result.FinalScore, 1e-9)
}

func TestAggregateMissingDimension(t *testing.T) {
	r := rubric.Default()
	code, _ := r.Dimension(rubric.DimensionCode)

	result := NewAggregator(DefaultPolicy()).Evaluate([]AnalyzerOutput{fullOutput(code, 1)}, WeightsFor(r))

	require.Equal(t, 0.0, result.DimensionScores[rubric.DimensionContent])
	require.InDelta(t, 60.0, result.RawScore, 1e-9)
	require.InDelta(t, 63.0, result.FinalScore, 1e-9)
	requireFeedback(t, result.Feedback, CategoryIssue, "missing content evaluation")
}

func TestAggregateMissingCriterion(t *testing.T) {
	r, err := rubric.Default().Single(rubric.DimensionCode)
	require.NoError(t, err)
	code, _ := r.Dimension(rubric.DimensionCode)
	out := fullOutput(code, 1)
	delete(out.Criteria, CriterionEffort)

	result := NewAggregator(DefaultPolicy()).Evaluate([]AnalyzerOutput{out}, WeightsFor(r))

	require.InDelta(t, 80.0, result.RawScore, 1e-9)
	requireFeedback(t, result.Feedback, CategoryIssue, "missing effort score")
}

func TestAggregateNoOutputs(t *testing.T) {
	result := NewAggregator(DefaultPolicy()).Evaluate(nil, WeightsFor(rubric.Default()))

	require.Equal(t, 0.0, result.RawScore)
	require.Equal(t, 100.0, result.MaxScore)
	requireFeedback(t, result.Feedback, CategoryIssue, "no analyzer outputs")
}

func TestAggregateOrdersAndDedupsFeedback(t *testing.T) {
	r, _ := rubric.Default().Single(rubric.DimensionCode)
	code, _ := r.Dimension(rubric.DimensionCode)
	out := fullOutput(code, 1)
	out.Feedback = []FeedbackItem{
		{Category: CategoryIssue, Text: "A"},
		{Category: CategoryStrength, Text: "B"},
		{Category: CategoryImprovement, Text: "C"},
		{Category: CategoryStrength, Text: "B"},
		{Category: CategoryStrength, Text: "D"},
		{Category: CategoryIssue, Text: "E"},
	}

	result := NewAggregator(DefaultPolicy()).Evaluate([]AnalyzerOutput{out}, WeightsFor(r))

	var texts []string
	for _, item := range result.Feedback {
		texts = append(texts, item.Text)
	}
	require.Equal(t, []string{"B", "D", "C", "A", "E"}, texts)
	require.Equal(t, []string{"✓ B", "✓ D", "→ C", "✗ A", "✗ E"}, result.CombinedFeedback())
}

func TestCombinedFeedbackAppendsEnhancement(t *testing.T) {
	result := AggregateResult{
		Feedback: []FeedbackItem{{Category: CategoryStrength, Text: "Clear names."}},
		Enhancement: &Enhancement{
			Summary:     "Solid first attempt.",
			Strengths:   []string{"Recursion is correct."},
			Corrections: []string{"Handle negative input."},
		},
	}
	require.Equal(t, []string{
		"✓ Clear names.",
		"AI summary: Solid first attempt.",
		"AI strength: Recursion is correct.",
		"AI correction: Handle negative input.",
	}, result.CombinedFeedback())
}

func TestAggregateCurveBoundaryStaysBelowThreshold(t *testing.T) {
	r, err := rubric.Default().Single(rubric.DimensionCode)
	require.NoError(t, err)
	code, _ := r.Dimension(rubric.DimensionCode)

	for _, boost := range []float64{0.3, 0.9} {
		policy := DefaultPolicy()
		policy.BoostFactor = boost
		aggregator := NewAggregator(policy)
		for fraction := 0.6998; fraction <= 0.70001; fraction += 0.00001 {
			result := aggregator.Evaluate([]AnalyzerOutput{fullOutput(code, fraction)}, WeightsFor(r))
			if result.RawScore < policy.CurveThreshold {
				require.Less(t, result.FinalScore, policy.CurveThreshold, "boost %.1f raw %.4f", boost, result.RawScore)
			} else {
				require.Equal(t, result.RawScore, result.FinalScore)
			}
		}
	}

	policy := DefaultPolicy()
	policy.BoostFactor = 0.9
	require.Equal(t, 69.99, NewAggregator(policy).curve(69.99))
}
