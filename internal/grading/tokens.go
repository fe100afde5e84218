package grading

import (
	"sort"
	"strings"
	"unicode"
)

// maxConcepts caps how many salient tokens a problem statement contributes.
const maxConcepts = 12

var stopwords = toSet(
	"the", "and", "for", "with", "from", "that", "this", "these", "those", "are", "was", "were",
	"been", "being", "have", "has", "had", "does", "did", "will", "would", "should", "could",
	"may", "might", "must", "can", "your", "their", "our", "its", "his", "her", "you", "they",
	"not", "but", "all", "any", "each", "every", "both", "either", "neither", "other", "another",
	"such", "same", "different", "new", "old", "first", "last", "next", "previous", "following",
	"above", "below", "between", "among", "into", "onto", "about", "than", "then", "there", "here",
	"what", "which", "who", "whom", "when", "where", "why", "how", "also", "only", "very", "much",
	"many", "some", "more", "most", "less", "least", "using", "use", "used", "given",
	"write", "make", "create", "provide", "include", "ensure", "allow", "enable", "support", "help",
	"need", "want", "give", "take", "show", "tell", "implement", "develop", "design", "build",
	"program", "code", "task", "problem", "statement", "solution", "question", "answer", "please",
	"huge", "large", "small", "good", "bad", "best", "better", "detailed", "report", "plan",
	"explain", "describe", "discuss", "compare", "analyze", "analyse", "summarize", "essay", "words",
)

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[value] = struct{}{}
	}
	return set
}

// splitWords lowercases text and splits it on non-alphanumerics, snake_case and camelCase.
func splitWords(text string) []string {
	var (
		words   []string
		current []rune
		prev    rune
	)
	flush := func() {
		if len(current) > 0 {
			words = append(words, strings.ToLower(string(current)))
			current = current[:0]
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)) {
				flush()
			}
			current = append(current, r)
		default:
			flush()
		}
		prev = r
	}
	flush()
	return words
}

// plainWords lowercases text and splits it on non-alphanumerics only.
func plainWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// stem strips a few inflections so "sorting", "sorted" and "sorts" meet at "sort".
func stem(word string) string {
	w := word
	switch {
	case len(w) > 4 && hasAnySuffix(w, "sses", "xes", "zes", "ches", "shes"):
		w = w[:len(w)-2]
	case len(w) > 3 && strings.HasSuffix(w, "s") && !hasAnySuffix(w, "ss", "us", "is"):
		w = w[:len(w)-1]
	}
	switch {
	case strings.HasSuffix(w, "ing") && len(w)-3 >= 4:
		w = w[:len(w)-3]
	case strings.HasSuffix(w, "ed") && len(w)-2 >= 4:
		w = w[:len(w)-2]
	}
	if len(w) > 4 && strings.HasSuffix(w, "e") {
		w = w[:len(w)-1]
	}
	return w
}

func hasAnySuffix(word string, suffixes ...string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(word, suffix) {
			return true
		}
	}
	return false
}

func isNumeric(word string) bool {
	for _, r := range word {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func salient(word string) bool {
	if len(word) < 3 || isNumeric(word) {
		return false
	}
	_, stop := stopwords[word]
	return !stop
}

// salientTokens returns the problem's distinct non-stopword stems, most frequent first,
// ties broken by first appearance. limit <= 0 means no limit.
func salientTokens(text string, limit int) []string {
	type entry struct {
		token string
		count int
		first int
	}
	index := make(map[string]*entry)
	var order []*entry
	for i, word := range splitWords(text) {
		if !salient(word) {
			continue
		}
		token := stem(word)
		if e, ok := index[token]; ok {
			e.count++
			continue
		}
		e := &entry{token: token, count: 1, first: i}
		index[token] = e
		order = append(order, e)
	}
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].count != order[j].count {
			return order[i].count > order[j].count
		}
		return order[i].first < order[j].first
	})
	if limit > 0 && len(order) > limit {
		order = order[:limit]
	}
	tokens := make([]string, len(order))
	for i, e := range order {
		tokens[i] = e.token
	}
	return tokens
}

// tokenSet stems every word of text into a lookup set.
func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range splitWords(text) {
		set[stem(word)] = struct{}{}
	}
	return set
}

// conceptTokens stems free-form keywords (which may be phrases) into individual tokens.
func conceptTokens(keywords []string) []string {
	var tokens []string
	seen := make(map[string]struct{})
	for _, keyword := range keywords {
		for _, word := range splitWords(keyword) {
			if !salient(word) {
				continue
			}
			token := stem(word)
			if _, dup := seen[token]; dup {
				continue
			}
			seen[token] = struct{}{}
			tokens = append(tokens, token)
		}
	}
	return tokens
}

func ngrams(words []string, n int) map[string]struct{} {
	set := make(map[string]struct{})
	if len(words) < n {
		return set
	}
	for i := 0; i+n <= len(words); i++ {
		set[strings.Join(words[i:i+n], " ")] = struct{}{}
	}
	return set
}

// surfaceForms maps each stem to the first word in texts that produced it.
func surfaceForms(texts ...string) map[string]string {
	forms := make(map[string]string)
	for _, text := range texts {
		for _, word := range splitWords(text) {
			token := stem(word)
			if _, ok := forms[token]; !ok {
				forms[token] = word
			}
		}
	}
	return forms
}

func displayTokens(tokens []string, forms map[string]string) []string {
	out := make([]string, len(tokens))
	for i, token := range tokens {
		if word, ok := forms[token]; ok {
			out[i] = word
		} else {
			out[i] = token
		}
	}
	return out
}
