package grading

import (
	"regexp"
	"strings"
)

var (
	cppFunction    = regexp.MustCompile(`(?m)\b([A-Za-z_][\w:<>,*&\s]*?)[\s*&]+([A-Za-z_]\w*)\s*\([^;{)]*\)\s*(?:const\s*)?(?:noexcept\s*)?\{`)
	cppClass       = regexp.MustCompile(`\b(?:class|struct)\s+([A-Za-z_]\w*)\s*(?:final\s*)?(?::[^{;]*)?\{`)
	cppBranch      = regexp.MustCompile(`\b(?:if|switch)\s*\(|\?[^:;]+:`)
	cppLoop        = regexp.MustCompile(`\b(?:for|while)\s*\(|\bdo\s*\{`)
	cppAssign      = regexp.MustCompile(`[^=!<>+\-*/%&|^]=[^=]|(?:\+\+|--|[-+*/%]=)`)
	cppDeclaration = regexp.MustCompile(`\b(?:int|long|short|float|double|char|bool|auto|size_t|string|std::string|unsigned)\s+\**([A-Za-z_]\w*)`)
	cppInclude     = regexp.MustCompile(`(?m)^\s*#\s*include\b`)
	cppNamespace   = regexp.MustCompile(`\bnamespace\s+\w+|\bstd::|\busing\s+namespace\b`)
	cppIfndef      = regexp.MustCompile(`(?m)^\s*#\s*ifndef\s+\w+`)
	cppDefine      = regexp.MustCompile(`(?m)^\s*#\s*define\s+\w+`)
	cppPragmaOnce  = regexp.MustCompile(`(?m)^\s*#\s*pragma\s+once\b`)
	cppMain        = regexp.MustCompile(`\bint\s+main\s*\(`)
	cppBlockStart  = regexp.MustCompile(`/\*`)
)

var cppNonFunctions = toSet("if", "for", "while", "switch", "catch", "return", "else", "new", "delete", "sizeof", "do")

func analyzeCpp(text string) StructuralFacts {
	code := stripCppComments(text)
	ids := newOrderedSet()
	facts := StructuralFacts{Language: LanguageCpp}

	for _, match := range cppFunction.FindAllStringSubmatch(code, -1) {
		name := match[2]
		returnType := strings.TrimSpace(match[1])
		if _, skip := cppNonFunctions[name]; skip {
			continue
		}
		if _, skip := cppNonFunctions[lastWord(returnType)]; skip {
			continue
		}
		facts.Functions = append(facts.Functions, name)
		ids.add(name)
	}
	for _, name := range captureAll(cppClass, code, 1) {
		facts.Classes = append(facts.Classes, name)
		ids.add(name)
	}
	for _, name := range captureAll(cppDeclaration, code, 1) {
		ids.add(name)
	}

	facts.Branches = len(cppBranch.FindAllStringIndex(code, -1))
	facts.Loops = len(cppLoop.FindAllStringIndex(code, -1))
	facts.Assignments = len(cppAssign.FindAllStringIndex(code, -1))
	facts.Identifiers = ids.items
	facts.CommentLines = cppCommentLines(text)
	facts.Includes = len(cppInclude.FindAllStringIndex(text, -1))
	facts.HasNamespace = cppNamespace.MatchString(code)
	facts.HasHeaderGuard = (cppIfndef.MatchString(text) && cppDefine.MatchString(text)) || cppPragmaOnce.MatchString(text)
	facts.HasEntryPoint = cppMain.MatchString(code)
	return facts
}

func cppCommentLines(text string) int {
	count := 0
	inBlock := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case inBlock:
			count++
			if strings.Contains(trimmed, "*/") {
				inBlock = false
			}
		case strings.Contains(trimmed, "//"):
			count++
		case cppBlockStart.MatchString(trimmed):
			count++
			inBlock = !strings.Contains(trimmed[strings.Index(trimmed, "/*"):], "*/")
		}
	}
	return count
}

// stripCppComments removes // and /* */ comments but keeps line structure.
func stripCppComments(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inLine, inBlock := false, false
	var quote byte
	for i := 0; i < len(text); i++ {
		c := text[i]
		var next byte
		if i+1 < len(text) {
			next = text[i+1]
		}
		switch {
		case inLine:
			if c == '\n' {
				inLine = false
				b.WriteByte(c)
			}
		case inBlock:
			if c == '*' && next == '/' {
				inBlock = false
				i++
			} else if c == '\n' {
				b.WriteByte(c)
			}
		case quote != 0:
			b.WriteByte(c)
			if c == '\\' && next != 0 {
				b.WriteByte(next)
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '/' && next == '/':
			inLine = true
			i++
		case c == '/' && next == '*':
			inBlock = true
			i++
		case c == '"' || c == '\'':
			quote = c
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func lastWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
