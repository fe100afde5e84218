package grading

// similarityN is the word n-gram length used for copy detection.
const similarityN = 3

// GateDecision is the outcome of the approach-first relevance policy for one submission.
type GateDecision struct {
	// Skipped is set when there is nothing to judge relevance against.
	Skipped      bool
	Relevance    float64
	Similarity   float64
	Matched      []string
	Missing      []string
	LowRelevance bool
	PossibleCopy bool
}

// RelevanceGate scores approach relevance and copy similarity against the problem statement.
type RelevanceGate struct {
	policy Policy
}

// NewRelevanceGate builds a gate from the supplied thresholds.
func NewRelevanceGate(policy Policy) RelevanceGate {
	return RelevanceGate{policy: policy}
}

// ComputeRelevance returns the fraction of the problem's salient tokens that appear in the
// submission. An empty problem statement yields 1: nothing was specified to be missed.
func (g RelevanceGate) ComputeRelevance(submission, problem string) float64 {
	concepts := salientTokens(problem, maxConcepts)
	if len(concepts) == 0 {
		return 1
	}
	ratio, _, _ := overlap(tokenSet(submission), concepts)
	return ratio
}

// Similarity returns the share of the submission's word trigrams that also occur in source.
// Submissions shorter than a trigram are never considered copies.
func (g RelevanceGate) Similarity(submission, source string) float64 {
	subGrams := ngrams(plainWords(submission), similarityN)
	if len(subGrams) == 0 {
		return 0
	}
	sourceGrams := ngrams(plainWords(source), similarityN)
	if len(sourceGrams) == 0 {
		return 0
	}
	shared := 0
	for gram := range subGrams {
		if _, ok := sourceGrams[gram]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(subGrams))
}

// Assess applies the policy given the submission's token set, its raw text, the concepts it
// is judged against and the texts it must not copy.
func (g RelevanceGate) Assess(tokens map[string]struct{}, text string, concepts []string, sources ...string) GateDecision {
	decision := GateDecision{}
	for _, source := range sources {
		if source == "" {
			continue
		}
		if sim := g.Similarity(text, source); sim > decision.Similarity {
			decision.Similarity = sim
		}
	}
	decision.PossibleCopy = decision.Similarity > g.policy.HighSimilarity

	if len(concepts) == 0 {
		decision.Skipped = true
		decision.Relevance = 1
		return decision
	}

	decision.Relevance, decision.Matched, decision.Missing = overlap(tokens, concepts)
	decision.LowRelevance = decision.Relevance < g.policy.LowRelevance
	return decision
}

// Credit maps a relevance ratio onto [0,1], saturating at FullCreditRelevance.
func (g RelevanceGate) Credit(relevance float64) float64 {
	return clamp01(relevance / g.policy.FullCreditRelevance)
}

func overlap(tokens map[string]struct{}, concepts []string) (float64, []string, []string) {
	var matched, missing []string
	for _, concept := range concepts {
		if _, ok := tokens[concept]; ok {
			matched = append(matched, concept)
		} else {
			missing = append(missing, concept)
		}
	}
	if len(concepts) == 0 {
		return 1, matched, missing
	}
	return float64(len(matched)) / float64(len(concepts)), matched, missing
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func clamp(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}
