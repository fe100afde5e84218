package grading

import (
	"sort"

	"github.com/noah-isme/gema-grader/internal/rubric"
)

// MaxScore is the ceiling of every final score.
const MaxScore = 100

// DimensionWeight pairs a rubric dimension with its top-level weight for one aggregation.
type DimensionWeight struct {
	Dimension rubric.Dimension
	Weight    float64
}

// WeightsFor lists the rubric's dimensions with their weights in name order.
func WeightsFor(r *rubric.Rubric) []DimensionWeight {
	names := r.Names()
	weights := make([]DimensionWeight, 0, len(names))
	for _, name := range names {
		dim, _ := r.Dimension(name)
		weights = append(weights, DimensionWeight{Dimension: dim, Weight: dim.Weight})
	}
	return weights
}

// Enhancement is the validated optional reply of a feedback enhancer. It never carries a score.
type Enhancement struct {
	Summary     string   `json:"summary"`
	Corrections []string `json:"corrections"`
	Strengths   []string `json:"strengths"`
}

// AggregateResult is the per-student outcome of one aggregation.
type AggregateResult struct {
	StudentID       string
	FileName        string
	AssignmentType  AssignmentType
	RawScore        float64
	FinalScore      float64
	MaxScore        float64
	DimensionScores map[string]float64
	Feedback        []FeedbackItem
	Degraded        bool
	Enhancement     *Enhancement
}

// CombinedFeedback renders the ordered feedback followed by any enhancer lines.
func (r AggregateResult) CombinedFeedback() []string {
	lines := make([]string, 0, len(r.Feedback)+4)
	for _, item := range r.Feedback {
		lines = append(lines, item.String())
	}
	if r.Enhancement == nil {
		return lines
	}
	if r.Enhancement.Summary != "" {
		lines = append(lines, "AI summary: "+r.Enhancement.Summary)
	}
	for _, strength := range r.Enhancement.Strengths {
		lines = append(lines, "AI strength: "+strength)
	}
	for _, correction := range r.Enhancement.Corrections {
		lines = append(lines, "AI correction: "+correction)
	}
	return lines
}

// Aggregator combines analyzer outputs into a final curved score. It never re-scores text.
type Aggregator struct {
	policy Policy
}

// NewAggregator constructs an aggregator for the given curve.
func NewAggregator(policy Policy) *Aggregator {
	return &Aggregator{policy: policy}
}

// Evaluate never fails: gaps in the outputs are scored 0 and reported as issues.
func (a *Aggregator) Evaluate(outputs []AnalyzerOutput, weights []DimensionWeight) AggregateResult {
	result := AggregateResult{MaxScore: MaxScore, DimensionScores: make(map[string]float64, len(weights))}
	var gaps feedbackLog
	var feedback []FeedbackItem

	if len(outputs) == 0 {
		gaps.issue("No analyzer outputs to evaluate.")
	}

	byDimension := make(map[string]AnalyzerOutput, len(outputs))
	for _, out := range outputs {
		byDimension[out.Dimension] = out
		feedback = append(feedback, out.Feedback...)
		result.Degraded = result.Degraded || out.Degraded
	}

	var weighted, totalWeight float64
	for _, w := range weights {
		if w.Weight <= 0 {
			continue
		}
		totalWeight += w.Weight
		name := w.Dimension.Name
		out, ok := byDimension[name]
		if !ok {
			result.DimensionScores[name] = 0
			gaps.issue("Missing %s evaluation; this dimension scored 0.", name)
			continue
		}
		score := dimensionScore(out, w.Dimension, &gaps)
		result.DimensionScores[name] = round2(score)
		weighted += w.Weight * score
	}

	raw := 0.0
	if totalWeight > 0 {
		raw = clamp(weighted/totalWeight, 0, MaxScore)
	}
	result.RawScore = round2(raw)
	result.FinalScore = a.curve(result.RawScore)
	result.Feedback = organize(append(feedback, gaps.items...))
	return result
}

// curve normalizes the displayed raw score so a value below the threshold never
// rounds up onto it.
func (a *Aggregator) curve(raw float64) float64 {
	final := round2(Normalize(raw, a.policy))
	if raw < a.policy.CurveThreshold && final >= a.policy.CurveThreshold {
		final = round2(a.policy.CurveThreshold - 0.01)
	}
	return final
}

func dimensionScore(out AnalyzerOutput, dim rubric.Dimension, gaps *feedbackLog) float64 {
	var score float64
	for _, criterion := range dim.Criteria {
		cs, ok := out.Score(criterion.Name)
		if !ok || cs.Max <= 0 {
			gaps.issue("Missing %s score for the %s dimension.", criterion.Name, dim.Name)
			continue
		}
		score += criterion.Weight * clamp(cs.Score/cs.Max, 0, 1) * MaxScore
	}
	return clamp(score, 0, MaxScore)
}

// organize drops exact duplicates and orders strengths, improvements, then issues, keeping
// the relative order within each category.
func organize(items []FeedbackItem) []FeedbackItem {
	seen := make(map[string]struct{}, len(items))
	out := make([]FeedbackItem, 0, len(items))
	for _, item := range items {
		if _, dup := seen[item.Text]; dup {
			continue
		}
		seen[item.Text] = struct{}{}
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Category < out[j].Category
	})
	return out
}
