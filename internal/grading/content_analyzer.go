package grading

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/noah-isme/gema-grader/internal/rubric"
)

// Content criterion names understood by the content analyzer.
const (
	CriterionCoverage     = "coverage"
	CriterionAlignment    = "alignment"
	CriterionFlow         = "flow"
	CriterionCompleteness = "completeness"
)

const (
	maxReferenceConcepts = 10
	neutralCoverage      = 0.6
	targetParagraphs     = 4
	targetTransitions    = 3
	targetHeadings       = 2
	minSentenceWords     = 8
	maxSentenceWords     = 25
	targetSentenceCV     = 0.35
)

var (
	transitionWords = []string{
		"therefore", "however", "additionally", "moreover", "furthermore", "in conclusion",
		"as a result", "for example", "similarly", "in contrast", "meanwhile", "next", "finally",
	}
	exampleMarkers = []string{
		"example", "for instance", "such as", "specifically", "in particular", "illustration", "case study",
	}
	reasoningMarkers = []string{
		"because", "reason", "evidence", "research", "study", "proven", "demonstrated", "support", "justify",
	}

	sentenceBreak  = regexp.MustCompile(`[.!?]+`)
	paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)
	markdownHead   = regexp.MustCompile(`^#{1,6}\s+\S`)
	numberedHead   = regexp.MustCompile(`^\d+(?:\.\d+)*[.)]?\s+\S`)
)

// ContentAnalyzer statically scores one prose submission against the content dimension.
type ContentAnalyzer struct {
	policy Policy
	gate   RelevanceGate
}

// NewContentAnalyzer constructs a content analyzer for the given thresholds.
func NewContentAnalyzer(policy Policy) *ContentAnalyzer {
	return &ContentAnalyzer{policy: policy, gate: NewRelevanceGate(policy)}
}

// Evaluate scores text against the problem statement and an optional reference text.
func (a *ContentAnalyzer) Evaluate(text, problem, reference string, dim rubric.Dimension) AnalyzerOutput {
	out := AnalyzerOutput{Dimension: dim.Name, Criteria: make(map[string]CriterionScore, len(dim.Criteria))}
	var log feedbackLog

	if strings.TrimSpace(text) == "" {
		log.issue("Content submission is empty.")
		for _, criterion := range dim.Criteria {
			out.Criteria[criterion.Name] = CriterionScore{Score: 0, Max: criterion.MaxScore}
		}
		out.Feedback = log.items
		return out
	}

	concepts := a.concepts(problem, reference, dim)
	decision := a.gate.Assess(tokenSet(text), text, concepts, problem, reference)
	out.Relevance = decision.Relevance
	out.Similarity = decision.Similarity

	paragraphs := splitParagraphs(text)
	fractions := map[string]float64{
		CriterionCoverage:     a.coverage(text, problem, decision, surfaceForms(strings.Join(dim.Keywords, " "), problem, reference), &log),
		CriterionAlignment:    a.alignment(text, paragraphs, concepts, dim, &log),
		CriterionFlow:         a.flow(text, paragraphs, &log),
		CriterionCompleteness: a.completeness(text, &log),
	}
	if decision.LowRelevance {
		fractions[CriterionAlignment] = math.Min(fractions[CriterionAlignment], a.policy.GateCap)
		fractions[CriterionFlow] = math.Min(fractions[CriterionFlow], a.policy.GateCap)
		log.issue("Alignment and flow credit is capped at %.0f%% because the content does not address the topic.", a.policy.GateCap*100)
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

func (a *ContentAnalyzer) concepts(problem, reference string, dim rubric.Dimension) []string {
	var concepts []string
	if len(dim.Keywords) > 0 {
		concepts = conceptTokens(dim.Keywords)
	} else {
		concepts = salientTokens(problem, maxConcepts)
	}
	if strings.TrimSpace(reference) == "" {
		return concepts
	}
	seen := toSet(concepts...)
	for _, token := range salientTokens(reference, maxReferenceConcepts) {
		if _, dup := seen[token]; !dup {
			seen[token] = struct{}{}
			concepts = append(concepts, token)
		}
	}
	return concepts
}

func (a *ContentAnalyzer) coverage(text, problem string, decision GateDecision, forms map[string]string, log *feedbackLog) float64 {
	var fraction float64
	if decision.Skipped {
		log.improve("No key concepts were specified; coverage was scored neutrally.")
		fraction = neutralCoverage
	} else {
		matched := len(decision.Matched)
		total := matched + len(decision.Missing)
		switch {
		case decision.Relevance >= 0.8:
			log.strength("Excellent concept coverage (%d/%d concepts).", matched, total)
		case decision.Relevance >= a.policy.FullCreditRelevance:
			log.strength("Good concept coverage (%d/%d concepts).", matched, total)
		case !decision.LowRelevance:
			log.improve("Partial concept coverage (%d/%d concepts).", matched, total)
		default:
			log.issue("Very low concept coverage (%d/%d concepts).", matched, total)
		}
		if len(decision.Missing) > 0 {
			log.improve("Missing key concepts: %s.", listNames(displayTokens(decision.Missing, forms), maxListedMissing))
		}
		fraction = a.gate.Credit(decision.Relevance)
	}

	if decision.PossibleCopy {
		source := "the reference text"
		if a.gate.Similarity(text, problem) > a.policy.HighSimilarity {
			source = "the problem statement"
		}
		log.issue("Content is %.0f%% similar to %s; possible copy.", decision.Similarity*100, source)
		fraction = math.Min(fraction, a.policy.CopyCap)
	}
	return fraction
}

func (a *ContentAnalyzer) alignment(text string, paragraphs, concepts []string, dim rubric.Dimension, log *feedbackLog) float64 {
	headings := headingLines(text)

	var sectionScore float64
	if len(dim.RequiredSections) > 0 {
		var missing []string
		for _, section := range dim.RequiredSections {
			if !containsHeading(headings, section) {
				missing = append(missing, section)
			}
		}
		found := len(dim.RequiredSections) - len(missing)
		sectionScore = float64(found) / float64(len(dim.RequiredSections))
		if sectionScore >= 0.7 {
			log.strength("Includes most required sections (%d/%d).", found, len(dim.RequiredSections))
		}
		if len(missing) > 0 {
			log.improve("Missing required sections: %s.", listNames(missing, maxListedMissing))
		}
	} else {
		sectionScore = math.Min(1, float64(len(headings))/targetHeadings)
		if len(headings) > 0 {
			log.strength("Uses %d section heading(s).", len(headings))
		} else {
			log.improve("Add section headings to organize the content.")
		}
	}

	densityScore := 0.5
	if len(concepts) > 0 && len(paragraphs) > 0 {
		onTopic := 0
		for _, paragraph := range paragraphs {
			if _, hits, _ := overlap(tokenSet(paragraph), concepts); len(hits) > 0 {
				onTopic++
			}
		}
		densityScore = float64(onTopic) / float64(len(paragraphs))
		if densityScore >= 0.5 {
			log.strength("%d of %d paragraphs discuss key concepts.", onTopic, len(paragraphs))
		} else {
			log.improve("Only %d of %d paragraphs discuss key concepts; keep each paragraph on topic.", onTopic, len(paragraphs))
		}
	}

	quality := 0.5*sectionScore + 0.5*densityScore
	return baseCredit + (1-baseCredit)*quality
}

func (a *ContentAnalyzer) flow(text string, paragraphs []string, log *feedbackLog) float64 {
	count := len(paragraphs)
	switch {
	case count >= targetParagraphs:
		log.strength("Well-organized into %d paragraphs.", count)
	case count > 1:
		log.improve("Consider organizing content into more paragraphs (%d found).", count)
	default:
		log.improve("Break content into multiple paragraphs for clarity.")
	}
	paragraphScore := math.Min(1, float64(count)/targetParagraphs)

	normalized := phraseText(text)
	transitions := countPhrases(normalized, transitionWords)
	switch {
	case transitions >= targetTransitions:
		log.strength("Good use of transitions (%d found).", transitions)
	case transitions > 0:
		log.improve("Add more transition words to connect ideas (%d found).", transitions)
	default:
		log.improve("No transition words found; connect ideas with words like however or therefore.")
	}
	transitionScore := math.Min(1, float64(transitions)/targetTransitions)

	quality := 0.35*paragraphScore + 0.3*transitionScore + 0.35*sentenceScore(text, log)
	return baseCredit + (1-baseCredit)*quality
}

func sentenceScore(text string, log *feedbackLog) float64 {
	var lengths []float64
	for _, sentence := range sentenceBreak.Split(text, -1) {
		if n := len(strings.Fields(sentence)); n > 0 {
			lengths = append(lengths, float64(n))
		}
	}
	if len(lengths) == 0 {
		return 0
	}

	mean, std := meanStd(lengths)
	lengthScore := 1.0
	switch {
	case mean > maxSentenceWords:
		lengthScore = 0.5
		log.improve("Sentences are long (average %.1f words); break them up.", mean)
	case mean < minSentenceWords:
		lengthScore = 0.5
		log.improve("Sentences are short (average %.1f words); expand with more detail.", mean)
	default:
		log.strength("Sentence length is clear (average %.1f words).", mean)
	}

	varianceScore := 0.0
	if len(lengths) > 1 {
		cv := std / mean
		varianceScore = math.Min(1, cv/targetSentenceCV)
		if cv >= targetSentenceCV {
			log.strength("Sentence length varies naturally.")
		} else {
			log.improve("Vary sentence length to keep the reader engaged.")
		}
	}
	return 0.5*lengthScore + 0.5*varianceScore
}

func (a *ContentAnalyzer) completeness(text string, log *feedbackLog) float64 {
	words := len(strings.Fields(text))
	minWords := a.policy.MinWords
	switch {
	case words >= minWords:
		log.strength("Substantial content (%d words).", words)
	case words*2 >= minWords:
		log.improve("Content is moderate (%d words, %d expected); add more detail.", words, minWords)
	default:
		log.improve("Content is brief (%d words, %d expected); expand with examples and explanations.", words, minWords)
	}
	wordScore := math.Min(1, float64(words)/float64(minWords))

	normalized := phraseText(text)
	exampleScore, reasoningScore := 0.0, 0.0
	if countPhrases(normalized, exampleMarkers) > 0 {
		exampleScore = 1
		log.strength("Includes examples or specific details.")
	} else {
		log.improve("Add concrete examples to support your points.")
	}
	if countPhrases(normalized, reasoningMarkers) > 0 {
		reasoningScore = 1
		log.strength("Includes reasoning or evidence.")
	} else {
		log.improve("Add reasoning or evidence to strengthen claims.")
	}

	quality := 0.6*wordScore + 0.2*exampleScore + 0.2*reasoningScore
	return baseCredit + (1-baseCredit)*quality
}

func splitParagraphs(text string) []string {
	var paragraphs []string
	for _, block := range paragraphBreak.Split(strings.ReplaceAll(text, "\r\n", "\n"), -1) {
		if block = strings.TrimSpace(block); block != "" {
			paragraphs = append(paragraphs, block)
		}
	}
	return paragraphs
}

// headingLines returns lines that look like section headings: markdown, numbered,
// colon-terminated labels or short title-case lines.
func headingLines(text string) []string {
	var headings []string
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		words := len(strings.Fields(line))
		switch {
		case markdownHead.MatchString(line):
		case numberedHead.MatchString(line) && words <= 8 && !strings.HasSuffix(line, "."):
		case strings.HasSuffix(line, ":") && words <= 8:
		case words <= 6 && !strings.ContainsAny(line[len(line)-1:], ".!?,;") && startsUpper(line):
		default:
			continue
		}
		headings = append(headings, line)
	}
	return headings
}

func containsHeading(headings []string, section string) bool {
	needle := strings.ToLower(strings.TrimSpace(section))
	for _, heading := range headings {
		if strings.Contains(strings.ToLower(heading), needle) {
			return true
		}
	}
	return false
}

func startsUpper(line string) bool {
	r, _ := utf8.DecodeRuneInString(line)
	return unicode.IsUpper(r)
}

// phraseText lowercases text into single-spaced words so phrases match at word starts.
func phraseText(text string) string {
	return " " + strings.Join(plainWords(text), " ") + " "
}

func countPhrases(normalized string, phrases []string) int {
	count := 0
	for _, phrase := range phrases {
		if strings.Contains(normalized, " "+phrase) {
			count++
		}
	}
	return count
}

func meanStd(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}
