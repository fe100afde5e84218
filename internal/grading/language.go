package grading

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Language is the closed set of source languages the code analyzer distinguishes.
type Language int

const (
	LanguageUnknown Language = iota
	LanguagePython
	LanguageCpp
)

func (l Language) String() string {
	switch l {
	case LanguagePython:
		return "python"
	case LanguageCpp:
		return "cpp"
	default:
		return "unknown"
	}
}

var extensionLanguages = map[string]Language{
	".py":  LanguagePython,
	".cpp": LanguageCpp,
	".cc":  LanguageCpp,
	".cxx": LanguageCpp,
	".c":   LanguageCpp,
	".h":   LanguageCpp,
	".hpp": LanguageCpp,
}

// ParseLanguage maps a declared language hint onto a Language.
func ParseLanguage(hint string) Language {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "python", "py", "python3":
		return LanguagePython
	case "cpp", "c++", "cxx", "c":
		return LanguageCpp
	default:
		return LanguageUnknown
	}
}

// IsCodeFile reports whether a file name carries a recognised source extension.
func IsCodeFile(fileName string) bool {
	_, ok := extensionLanguages[strings.ToLower(filepath.Ext(fileName))]
	return ok
}

var (
	sniffCpp    = regexp.MustCompile(`(?m)^\s*#include\b|\bstd::|\busing\s+namespace\b`)
	sniffPython = regexp.MustCompile(`(?m)^\s*(?:def\s+\w+\s*\(|import\s+\w+|from\s+\w+\s+import\b|class\s+\w+.*:\s*$)`)
)

// DetectLanguage resolves the language from the hint, then the extension, then content.
func DetectLanguage(fileName, hint, text string) Language {
	if lang := ParseLanguage(hint); lang != LanguageUnknown {
		return lang
	}
	if lang, ok := extensionLanguages[strings.ToLower(filepath.Ext(fileName))]; ok {
		return lang
	}
	switch {
	case sniffCpp.MatchString(text):
		return LanguageCpp
	case sniffPython.MatchString(text):
		return LanguagePython
	default:
		return LanguageUnknown
	}
}

// StructuralFacts is what a language branch extracts from source text.
type StructuralFacts struct {
	Language Language
	// Parsed is true when the facts come from a parse tree rather than patterns.
	Parsed         bool
	// Fallback is set when the parser rejected the source and patterns filled in.
	Fallback       bool
	ParseError     string
	Functions      []string
	Classes        []string
	Branches       int
	Loops          int
	Assignments    int
	Identifiers    []string
	CommentLines   int
	Includes       int
	HasEntryPoint  bool
	HasNamespace   bool
	HasHeaderGuard bool
}

// Definitions is the number of functions plus classes.
func (f StructuralFacts) Definitions() int {
	return len(f.Functions) + len(f.Classes)
}

// ControlFlow is the number of branches plus loops.
func (f StructuralFacts) ControlFlow() int {
	return f.Branches + f.Loops
}

// Degraded reports whether a parse was expected but patterns had to be used.
func (f StructuralFacts) Degraded() bool {
	return f.Fallback
}

// AnalyzeStructure dispatches to the branch for lang. It never panics on malformed input.
func AnalyzeStructure(lang Language, text string) StructuralFacts {
	switch lang {
	case LanguagePython:
		return analyzePython(text)
	case LanguageCpp:
		return analyzeCpp(text)
	default:
		return analyzeUnknown(text)
	}
}

func analyzeUnknown(text string) StructuralFacts {
	facts := analyzeCpp(text)
	py := pythonPatternFacts(text)

	facts.Language = LanguageUnknown
	facts.Functions = mergeNames(facts.Functions, py.Functions)
	facts.Classes = mergeNames(facts.Classes, py.Classes)
	facts.Identifiers = mergeNames(facts.Identifiers, py.Identifiers)
	facts.Branches = maxInt(facts.Branches, py.Branches)
	facts.Loops = maxInt(facts.Loops, py.Loops)
	facts.Assignments = maxInt(facts.Assignments, py.Assignments)
	facts.CommentLines += py.CommentLines
	facts.HasEntryPoint = facts.HasEntryPoint || py.HasEntryPoint
	return facts
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (s *orderedSet) add(value string) {
	if value == "" {
		return
	}
	if _, ok := s.seen[value]; ok {
		return
	}
	s.seen[value] = struct{}{}
	s.items = append(s.items, value)
}

func mergeNames(a, b []string) []string {
	set := newOrderedSet()
	for _, name := range a {
		set.add(name)
	}
	for _, name := range b {
		set.add(name)
	}
	return set.items
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func captureAll(re *regexp.Regexp, text string, group int) []string {
	var out []string
	for _, match := range re.FindAllStringSubmatch(text, -1) {
		if group < len(match) {
			out = append(out, match[group])
		}
	}
	return out
}

var (
	snakeCase  = regexp.MustCompile(`^_*[a-z][a-z0-9]*(?:_[a-z0-9]+)*_*$`)
	camelCase  = regexp.MustCompile(`^_*[a-z][a-zA-Z0-9]*$`)
	pascalCase = regexp.MustCompile(`^_*[A-Z][a-zA-Z0-9]*$`)
	upperCase  = regexp.MustCompile(`^_*[A-Z][A-Z0-9]*(?:_[A-Z0-9]+)*_*$`)
)

var conventionalShortNames = toSet("i", "j", "k", "n", "m", "x", "y", "z", "_")

// followsConvention checks an identifier against the language's naming conventions.
func followsConvention(lang Language, name string) bool {
	if len(name) == 1 {
		_, ok := conventionalShortNames[strings.ToLower(name)]
		return ok
	}
	switch lang {
	case LanguagePython:
		return snakeCase.MatchString(name) || pascalCase.MatchString(name) || upperCase.MatchString(name)
	default:
		return camelCase.MatchString(name) || snakeCase.MatchString(name) || pascalCase.MatchString(name) || upperCase.MatchString(name)
	}
}

// recursiveFunctions lists functions whose name is called more often than it is defined.
func recursiveFunctions(text string, functions []string) []string {
	var out []string
	for _, name := range functions {
		calls := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\s*\(`).FindAllStringIndex(text, -1)
		if len(calls) > 1 {
			out = append(out, name)
		}
	}
	return out
}
