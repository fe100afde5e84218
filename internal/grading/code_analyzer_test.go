package grading

import (
	"strings"
	"testing"

	"github.com/noah-isme/gema-grader/internal/rubric"
	"github.com/stretchr/testify/require"
)

const factorialSource = "def factorial(n): return 1 if n<=1 else n*factorial(n-1)"

func codeDimension(t *testing.T) rubric.Dimension {
	t.Helper()
	dim, ok := rubric.Default().Dimension(rubric.DimensionCode)
	require.True(t, ok)
	return dim
}

func requireFeedback(t *testing.T, items []FeedbackItem, category Category, fragment string) {
	t.Helper()
	for _, item := range items {
		if item.Category == category && strings.Contains(strings.ToLower(item.Text), strings.ToLower(fragment)) {
			return
		}
	}
	require.Failf(t, "feedback not found", "no %s item containing %q in %v", category, fragment, items)
}

func requireScoresInRange(t *testing.T, out AnalyzerOutput) {
	t.Helper()
	for name, score := range out.Criteria {
		require.GreaterOrEqual(t, score.Score, 0.0, name)
		require.LessOrEqual(t, score.Score, score.Max, name)
	}
}

func TestFactorialBaseline(t *testing.T) {
	policy := DefaultPolicy()
	dim := codeDimension(t)
	out := NewCodeAnalyzer(policy).Evaluate(factorialSource, LanguagePython, factorialProblem, dim)

	require.False(t, out.Degraded)
	require.InDelta(t, 2.0/3.0, out.Relevance, 1e-9)
	require.GreaterOrEqual(t, out.Relevance, policy.LowRelevance)
	require.InDelta(t, 100.0, out.Criteria[CriterionApproach].Score, 1e-9)
	require.InDelta(t, 79.0, out.Criteria[CriterionReadability].Score, 1e-9)
	require.InDelta(t, 65.2, out.Criteria[CriterionStructure].Score, 1e-9)
	require.InDelta(t, 55.27, out.Criteria[CriterionEffort].Score, 0.01)
	requireFeedback(t, out.Feedback, CategoryStrength, "function")

	r, err := rubric.Default().Single(rubric.DimensionCode)
	require.NoError(t, err)
	result := NewAggregator(policy).Evaluate([]AnalyzerOutput{out}, WeightsFor(r))
	require.Equal(t, 79.89, result.FinalScore)
	require.Equal(t, 79.89, result.RawScore)
	require.Equal(t, 100.0, result.MaxScore)
}

func TestCodeAnalyzerIsDeterministic(t *testing.T) {
	analyzer := NewCodeAnalyzer(DefaultPolicy())
	dim := codeDimension(t)

	first := analyzer.Evaluate(greeterSource, LanguagePython, "greet people by name", dim)
	second := analyzer.Evaluate(greeterSource, LanguagePython, "greet people by name", dim)
	require.Equal(t, first, second)
}

func TestLowRelevanceCapsStructureAndEffort(t *testing.T) {
	policy := DefaultPolicy()
	dim := codeDimension(t)
	problem := "Implement binary search over a sorted array of integers returning the index"

	var b strings.Builder
	b.WriteString("# temperature helpers\n")
	b.WriteString("class Thermometer:\n    # stores readings\n    def __init__(self):\n        self.readings = []\n\n")
	b.WriteString("    def record(self, value):\n        # keep positive readings only\n        if value > 0:\n            self.readings.append(value)\n\n")
	b.WriteString("    def mean(self):\n        total = 0\n        for value in self.readings:\n            total += value\n        return total / max(len(self.readings), 1)\n\n\n")
	b.WriteString("def to_fahrenheit(celsius):\n    # convert one reading\n    return celsius * 9 / 5 + 32\n\n\n")
	b.WriteString("def main():\n    meter = Thermometer()\n    for value in (12, 18, 21, 25, 30):\n        meter.record(value)\n        while value > 100:\n            value -= 1\n    print(to_fahrenheit(meter.mean()))\n\n\n")
	b.WriteString("if __name__ == \"__main__\":\n    main()\n")

	out := NewCodeAnalyzer(policy).Evaluate(b.String(), LanguagePython, problem, dim)

	require.Less(t, out.Relevance, policy.LowRelevance)
	require.LessOrEqual(t, out.Criteria[CriterionStructure].Score, policy.GateCap*dim.MaxFor(CriterionStructure)+1e-9)
	require.LessOrEqual(t, out.Criteria[CriterionEffort].Score, policy.GateCap*dim.MaxFor(CriterionEffort)+1e-9)
	requireFeedback(t, out.Feedback, CategoryIssue, "capped")

	open := NewCodeAnalyzer(policy).Evaluate(b.String(), LanguagePython, "", dim)
	require.Equal(t, 1.0, open.Relevance)
	require.Greater(t, open.Criteria[CriterionStructure].Score, out.Criteria[CriterionStructure].Score)
	requireScoresInRange(t, out)
	requireScoresInRange(t, open)
}

func TestCopiedPromptIsFlagged(t *testing.T) {
	policy := DefaultPolicy()
	dim := codeDimension(t)
	problem := "Write a function that reads a list of numbers and prints the largest value"

	out := NewCodeAnalyzer(policy).Evaluate(problem, LanguagePython, problem, dim)

	require.Greater(t, out.Similarity, policy.HighSimilarity)
	require.LessOrEqual(t, out.Criteria[CriterionApproach].Score, policy.CopyCap*dim.MaxFor(CriterionApproach)+1e-9)
	requireFeedback(t, out.Feedback, CategoryIssue, "possible copy")
}

func TestMalformedPythonDegrades(t *testing.T) {
	dim := codeDimension(t)
	out := NewCodeAnalyzer(DefaultPolicy()).Evaluate("def broken(:\n    return 1\n", LanguagePython, factorialProblem, dim)

	require.True(t, out.Degraded)
	requireFeedback(t, out.Feedback, CategoryIssue, "pattern-based analysis")
	require.Len(t, out.Criteria, 4)
	requireScoresInRange(t, out)
}

func TestCppSubmission(t *testing.T) {
	dim := codeDimension(t)
	out := NewCodeAnalyzer(DefaultPolicy()).Evaluate(cppSource, LanguageCpp, "add numbers in a loop", dim)

	require.False(t, out.Degraded)
	requireFeedback(t, out.Feedback, CategoryStrength, "2 comments found")
	requireFeedback(t, out.Feedback, CategoryStrength, "main() entry point")
	requireFeedback(t, out.Feedback, CategoryStrength, "namespaces")
	requireScoresInRange(t, out)
}

func TestEmptyCodeScoresZero(t *testing.T) {
	dim := codeDimension(t)
	out := NewCodeAnalyzer(DefaultPolicy()).Evaluate("  \n\t", LanguagePython, factorialProblem, dim)

	for _, criterion := range dim.Criteria {
		require.Equal(t, 0.0, out.Criteria[criterion.Name].Score)
	}
	requireFeedback(t, out.Feedback, CategoryIssue, "empty")
}

func TestCodeScoresStayInRange(t *testing.T) {
	analyzer := NewCodeAnalyzer(DefaultPolicy())
	dim := codeDimension(t)
	inputs := []struct {
		code string
		lang Language
	}{
		{factorialSource, LanguagePython},
		{greeterSource, LanguagePython},
		{cppSource, LanguageCpp},
		{strings.Repeat("x = x + 1  # step\n", 600), LanguagePython},
		{"}}}{{{ ((( ;;;", LanguageUnknown},
		{strings.Repeat("a", 500), LanguageCpp},
	}
	for _, input := range inputs {
		for _, problem := range []string{"", factorialProblem, "sum values in a loop"} {
			requireScoresInRange(t, analyzer.Evaluate(input.code, input.lang, problem, dim))
		}
	}
}
