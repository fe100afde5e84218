package grading

import (
	"math"
	"strings"

	"github.com/noah-isme/gema-grader/internal/rubric"
)

// Code criterion names understood by the code analyzer.
const (
	CriterionApproach    = "approach"
	CriterionReadability = "readability"
	CriterionStructure   = "structure"
	CriterionEffort      = "effort"
)

const (
	maxLineLength        = 100
	targetCommentDensity = 0.10
	targetCodeLines      = 40
	targetControlFlow    = 6
	// baseCredit is the share of max that well-formed, relevant work earns before quality.
	baseCredit       = 0.4
	maxListedNames   = 3
	maxListedMissing = 5
)

// CodeAnalyzer statically scores one code submission against the code dimension.
type CodeAnalyzer struct {
	policy Policy
	gate   RelevanceGate
}

// NewCodeAnalyzer constructs a code analyzer for the given thresholds.
func NewCodeAnalyzer(policy Policy) *CodeAnalyzer {
	return &CodeAnalyzer{policy: policy, gate: NewRelevanceGate(policy)}
}

// Evaluate always returns an output; malformed source degrades to pattern analysis.
func (a *CodeAnalyzer) Evaluate(code string, lang Language, problem string, dim rubric.Dimension) AnalyzerOutput {
	out := AnalyzerOutput{Dimension: dim.Name, Criteria: make(map[string]CriterionScore, len(dim.Criteria))}
	var log feedbackLog

	if strings.TrimSpace(code) == "" {
		log.issue("Code submission is empty.")
		for _, criterion := range dim.Criteria {
			out.Criteria[criterion.Name] = CriterionScore{Score: 0, Max: criterion.MaxScore}
		}
		out.Feedback = log.items
		return out
	}

	facts := AnalyzeStructure(lang, code)
	if facts.Degraded() {
		out.Degraded = true
		log.issue("Python source could not be parsed (%s); scores use pattern-based analysis.", facts.ParseError)
	}
	if lang == LanguageUnknown {
		log.improve("Language could not be identified; generic pattern analysis was used.")
	}

	tokens := tokenSet(code)
	for _, word := range structuralConcepts(code, facts) {
		tokens[stem(word)] = struct{}{}
	}
	decision := a.gate.Assess(tokens, code, salientTokens(problem, maxConcepts), problem)
	out.Relevance = decision.Relevance
	out.Similarity = decision.Similarity

	lines := codeLines(code)
	fractions := map[string]float64{
		CriterionApproach:    a.approach(decision, facts, surfaceForms(problem), &log),
		CriterionReadability: a.readability(lines, facts, &log),
		CriterionStructure:   a.structure(facts, &log),
		CriterionEffort:      a.effort(lines, facts, &log),
	}
	if decision.LowRelevance {
		fractions[CriterionStructure] = math.Min(fractions[CriterionStructure], a.policy.GateCap)
		fractions[CriterionEffort] = math.Min(fractions[CriterionEffort], a.policy.GateCap)
		log.issue("Structure and effort credit is capped at %.0f%% because the code does not address the problem.", a.policy.GateCap*100)
	}

	for _, criterion := range dim.Criteria {
		fraction, known := fractions[criterion.Name]
		if !known {
			continue
		}
		out.Criteria[criterion.Name] = CriterionScore{
			Score: clamp(fraction*criterion.MaxScore, 0, criterion.MaxScore),
			Max:   criterion.MaxScore,
		}
	}
	out.Feedback = log.items
	return out
}

func (a *CodeAnalyzer) approach(decision GateDecision, facts StructuralFacts, forms map[string]string, log *feedbackLog) float64 {
	organized := 0.0
	if facts.Definitions() > 0 {
		organized = 1
		log.strength("Code is organized into %d function(s) and %d class(es): %s.",
			len(facts.Functions), len(facts.Classes), listNames(append(append([]string{}, facts.Functions...), facts.Classes...), maxListedNames))
	} else {
		log.improve("Consider organizing the code into functions or classes.")
	}

	switch {
	case decision.Skipped:
	case decision.LowRelevance:
		log.issue("Code reflects only %d of %d problem concepts (%.0f%% relevance).",
			len(decision.Matched), len(decision.Matched)+len(decision.Missing), decision.Relevance*100)
	case len(decision.Matched) > 0:
		log.strength("Code reflects %d of %d problem concepts (%s).",
			len(decision.Matched), len(decision.Matched)+len(decision.Missing), strings.Join(displayTokens(decision.Matched, forms), ", "))
	}
	if !decision.Skipped && len(decision.Missing) > 0 {
		log.improve("Problem concepts not reflected in the code: %s.", listNames(displayTokens(decision.Missing, forms), maxListedMissing))
	}

	fraction := 0.3*organized + 0.7*a.gate.Credit(decision.Relevance)
	if decision.PossibleCopy {
		log.issue("Code is %.0f%% similar to the problem statement; possible copy of the prompt.", decision.Similarity*100)
		fraction = math.Min(fraction, a.policy.CopyCap)
	}
	return fraction
}

func (a *CodeAnalyzer) readability(lines []string, facts StructuralFacts, log *feedbackLog) float64 {
	total, long := 0, 0
	for _, line := range lines {
		total += len(line)
		if len(line) > maxLineLength {
			long++
		}
	}
	lineScore := 1 - float64(long)/float64(len(lines))
	if long == 0 {
		log.strength("Line length is appropriate (average %d characters).", total/len(lines))
	} else {
		log.improve("%d line(s) exceed %d characters; break them into shorter lines.", long, maxLineLength)
	}

	density := float64(facts.CommentLines) / float64(len(lines))
	commentScore := math.Min(1, density/targetCommentDensity)
	if facts.CommentLines > 0 {
		log.strength("Code is commented (%d comments found).", facts.CommentLines)
	} else {
		log.improve("No comments found; add comments to explain your logic.")
	}

	namingScore := 0.5
	if len(facts.Identifiers) > 0 {
		var offenders []string
		for _, name := range facts.Identifiers {
			if !followsConvention(facts.Language, name) {
				offenders = append(offenders, name)
			}
		}
		namingScore = 1 - float64(len(offenders))/float64(len(facts.Identifiers))
		if len(offenders) == 0 {
			log.strength("All %d identifiers follow naming conventions.", len(facts.Identifiers))
		} else {
			log.improve("%d of %d identifiers break naming conventions (e.g. %s).",
				len(offenders), len(facts.Identifiers), listNames(offenders, maxListedNames))
		}
	}

	quality := 0.4*lineScore + 0.35*commentScore + 0.25*namingScore
	return baseCredit + (1-baseCredit)*quality
}

func (a *CodeAnalyzer) structure(facts StructuralFacts, log *feedbackLog) float64 {
	defs := facts.Definitions()
	var modularity float64
	switch {
	case defs >= 3:
		modularity = 1
		log.strength("Good modularization (%d functions and classes).", defs)
	case defs == 2:
		modularity = 0.8
		log.improve("Consider breaking the code into more functions for reuse (%d found).", defs)
	case defs == 1:
		modularity = 0.6
		log.improve("Consider breaking the code into more functions for reuse (%d found).", defs)
	default:
		log.improve("No functions or classes were defined.")
	}

	var quality float64
	switch facts.Language {
	case LanguagePython:
		guard := 0.0
		if facts.HasEntryPoint {
			guard = 1
			log.strength("Script code is protected by an if __name__ == \"__main__\" guard.")
		} else {
			log.improve("Wrap script code in an if __name__ == \"__main__\" guard.")
		}
		quality = 0.7*modularity + 0.3*guard
	case LanguageCpp:
		entry, namespace := 0.0, 0.0
		switch {
		case facts.HasEntryPoint:
			entry = 1
			log.strength("Program defines a main() entry point.")
		case facts.HasHeaderGuard:
			entry = 1
			log.strength("Header is protected by an include guard.")
		default:
			log.improve("Add a main() entry point or an include guard.")
		}
		if facts.HasNamespace {
			namespace = 1
			log.strength("Code uses namespaces.")
		} else {
			log.improve("Consider using namespaces to organize the code.")
		}
		quality = 0.6*modularity + 0.2*entry + 0.2*namespace
	default:
		quality = modularity
	}
	return baseCredit + (1-baseCredit)*quality
}

func (a *CodeAnalyzer) effort(lines []string, facts StructuralFacts, log *feedbackLog) float64 {
	count := len(lines)
	switch {
	case count >= 20:
		log.strength("Substantial code submission (%d lines).", count)
	case count > 5:
		log.improve("Solution is brief (%d lines); consider handling more cases.", count)
	default:
		log.improve("Solution is very minimal (%d line(s)); add more implementation.", count)
	}
	control := facts.ControlFlow()
	if control > 0 {
		log.strength("Code includes control flow (%d branches and %d loops).", facts.Branches, facts.Loops)
	} else {
		log.improve("No conditions or loops found.")
	}

	lineScore := math.Min(1, math.Log1p(float64(count))/math.Log1p(targetCodeLines))
	controlScore := math.Min(1, math.Log1p(float64(control))/math.Log1p(targetControlFlow))
	quality := 0.6*lineScore + 0.4*controlScore
	return baseCredit + (1-baseCredit)*quality
}

// structuralConcepts names the constructs present so problem words like "function" or
// "loop" match code that uses them without spelling them out.
func structuralConcepts(code string, facts StructuralFacts) []string {
	var words []string
	if len(facts.Functions) > 0 {
		words = append(words, "function", "method")
	}
	if len(facts.Classes) > 0 {
		words = append(words, "class", "object")
	}
	if facts.Loops > 0 {
		words = append(words, "loop", "iterate", "iteration")
	}
	if facts.Branches > 0 {
		words = append(words, "condition", "conditional", "branch")
	}
	if facts.Assignments > 0 {
		words = append(words, "variable")
	}
	if len(recursiveFunctions(code, facts.Functions)) > 0 {
		words = append(words, "recursion", "recursive")
	}
	return words
}

func codeLines(code string) []string {
	var lines []string
	for _, line := range strings.Split(code, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, strings.TrimRight(line, " \t\r"))
		}
	}
	return lines
}

func listNames(names []string, limit int) string {
	if len(names) > limit {
		return strings.Join(names[:limit], ", ") + ", ..."
	}
	return strings.Join(names, ", ")
}
