package grading

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const factorialProblem = "Write a function to calculate factorial"

func TestComputeRelevanceIsDeterministic(t *testing.T) {
	gate := NewRelevanceGate(DefaultPolicy())
	text := "def factorial(n): return 1 if n<=1 else n*factorial(n-1)"

	first := gate.ComputeRelevance(text, factorialProblem)
	second := gate.ComputeRelevance(text, factorialProblem)
	require.Equal(t, first, second)
	require.InDelta(t, 1.0/3.0, first, 1e-9)
}

func TestComputeRelevanceEmptyProblem(t *testing.T) {
	gate := NewRelevanceGate(DefaultPolicy())
	require.Equal(t, 1.0, gate.ComputeRelevance("anything at all", ""))
	require.Equal(t, 1.0, gate.ComputeRelevance("anything at all", "write the code"))
}

func TestSalientTokensSkipInstructionWords(t *testing.T) {
	require.Equal(t, []string{"function", "calculat", "factorial"}, salientTokens(factorialProblem, maxConcepts))
	require.Equal(t, []string{"sort", "number"}, salientTokens("Sort the numbers. Sorting numbers is sorted.", maxConcepts))
}

func TestSimilarity(t *testing.T) {
	gate := NewRelevanceGate(DefaultPolicy())
	problem := "Write a program that reads a list of numbers and prints the largest value"

	require.Equal(t, 1.0, gate.Similarity(problem, problem))
	require.Equal(t, 0.0, gate.Similarity("largest value", problem))
	require.Equal(t, 0.0, gate.Similarity("an entirely different sentence about clouds", problem))

	partial := gate.Similarity("reads a list of numbers then sorts them by hand", problem)
	require.Greater(t, partial, 0.0)
	require.Less(t, partial, DefaultPolicy().HighSimilarity)
}

func TestAssess(t *testing.T) {
	gate := NewRelevanceGate(DefaultPolicy())
	problem := "reverse a linked list in place"

	skipped := gate.Assess(tokenSet("x"), "x", nil, problem)
	require.True(t, skipped.Skipped)
	require.Equal(t, 1.0, skipped.Relevance)
	require.False(t, skipped.LowRelevance)

	concepts := salientTokens(problem, maxConcepts)
	low := gate.Assess(tokenSet("print hello world"), "print hello world", concepts, problem)
	require.True(t, low.LowRelevance)
	require.Equal(t, 0.0, low.Relevance)
	require.ElementsMatch(t, concepts, low.Missing)

	copied := gate.Assess(tokenSet(problem), problem, concepts, "", problem)
	require.True(t, copied.PossibleCopy)
	require.Equal(t, 1.0, copied.Similarity)
	require.Equal(t, 1.0, copied.Relevance)
}

func TestCreditSaturates(t *testing.T) {
	gate := NewRelevanceGate(DefaultPolicy())
	require.Equal(t, 0.0, gate.Credit(0))
	require.InDelta(t, 0.5, gate.Credit(0.3), 1e-9)
	require.Equal(t, 1.0, gate.Credit(0.6))
	require.Equal(t, 1.0, gate.Credit(1))
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	inverted := DefaultPolicy()
	inverted.LowRelevance = 0.7
	require.ErrorIs(t, inverted.Validate(), ErrInvalidPolicy)

	noBoost := DefaultPolicy()
	noBoost.BoostFactor = 1
	require.ErrorIs(t, noBoost.Validate(), ErrInvalidPolicy)
}
