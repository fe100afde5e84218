package grading

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-python/gpython/ast"
	"github.com/go-python/gpython/parser"
	"github.com/go-python/gpython/py"
)

var (
	pyDef        = regexp.MustCompile(`(?m)^[ \t]*(?:async[ \t]+)?def[ \t]+([A-Za-z_]\w*)[ \t]*\(([^)]*)`)
	pyClass      = regexp.MustCompile(`(?m)^[ \t]*class[ \t]+([A-Za-z_]\w*)`)
	pyBranch     = regexp.MustCompile(`\b(?:if|elif)\b`)
	pyLoop       = regexp.MustCompile(`\b(?:for|while)\b`)
	pyAssign     = regexp.MustCompile(`(?m)^[ \t]*([A-Za-z_]\w*)(?:[ \t]*,[ \t]*[A-Za-z_]\w*)*[ \t]*(?:[-+*/%]|//)?=[^=]`)
	pyMainGuard  = regexp.MustCompile(`if\s+__name__\s*==\s*["']__main__["']`)
	pyParamName  = regexp.MustCompile(`^\*{0,2}([A-Za-z_]\w*)`)
	pyDocstrings = regexp.MustCompile(`"""|'''`)
)

func analyzePython(text string) StructuralFacts {
	facts, err := parsePython(text)
	if err != nil {
		fallback := pythonPatternFacts(text)
		fallback.Fallback = true
		fallback.ParseError = parseErrorSummary(err.Error())
		return fallback
	}
	return facts
}

func parsePython(text string) (facts StructuralFacts, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parser panic: %v", r)
		}
	}()

	source := text
	if !strings.HasSuffix(source, "\n") {
		source += "\n"
	}
	tree, err := parser.ParseString(source, py.ExecMode)
	if err != nil {
		return StructuralFacts{}, err
	}

	ids := newOrderedSet()
	facts.Language = LanguagePython
	facts.Parsed = true
	ast.Walk(tree, func(node ast.Ast) bool {
		switch n := node.(type) {
		case *ast.FunctionDef:
			facts.Functions = append(facts.Functions, string(n.Name))
			ids.add(string(n.Name))
		case *ast.ClassDef:
			facts.Classes = append(facts.Classes, string(n.Name))
			ids.add(string(n.Name))
		case *ast.If, *ast.IfExp:
			facts.Branches++
		case *ast.For, *ast.While:
			facts.Loops++
		case *ast.Assign, *ast.AugAssign:
			facts.Assignments++
		case *ast.Arg:
			ids.add(string(n.Arg))
		case *ast.Name:
			ids.add(string(n.Id))
		}
		return true
	})
	facts.Identifiers = ids.items
	facts.CommentLines = pythonCommentLines(text)
	facts.HasEntryPoint = pyMainGuard.MatchString(text)
	return facts, nil
}

// pythonPatternFacts is the regex-based analysis used when the parser rejects the source.
func pythonPatternFacts(text string) StructuralFacts {
	ids := newOrderedSet()
	facts := StructuralFacts{Language: LanguagePython}

	for _, match := range pyDef.FindAllStringSubmatch(text, -1) {
		facts.Functions = append(facts.Functions, match[1])
		ids.add(match[1])
		for _, param := range strings.Split(match[2], ",") {
			if m := pyParamName.FindStringSubmatch(strings.TrimSpace(param)); m != nil && m[1] != "self" {
				ids.add(m[1])
			}
		}
	}
	for _, name := range captureAll(pyClass, text, 1) {
		facts.Classes = append(facts.Classes, name)
		ids.add(name)
	}
	for _, name := range captureAll(pyAssign, text, 1) {
		ids.add(name)
	}

	code := stripPythonComments(text)
	facts.Branches = len(pyBranch.FindAllStringIndex(code, -1))
	facts.Loops = len(pyLoop.FindAllStringIndex(code, -1))
	facts.Assignments = len(pyAssign.FindAllStringIndex(code, -1))
	facts.Identifiers = ids.items
	facts.CommentLines = pythonCommentLines(text)
	facts.HasEntryPoint = pyMainGuard.MatchString(text)
	return facts
}

func pythonCommentLines(text string) int {
	count := 0
	for _, line := range strings.Split(text, "\n") {
		if pythonCommentIndex(line) >= 0 {
			count++
		}
	}
	return count + len(pyDocstrings.FindAllStringIndex(text, -1))/2
}

// pythonCommentIndex returns the byte offset of a '#' outside string literals, or -1.
func pythonCommentIndex(line string) int {
	var quote rune
	escaped := false
	for i, r := range line {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '#':
			return i
		}
	}
	return -1
}

func stripPythonComments(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if idx := pythonCommentIndex(line); idx >= 0 {
			lines[i] = line[:idx]
		}
	}
	return strings.Join(lines, "\n")
}

// parseErrorSummary keeps the last non-empty line of a parser message. gpython
// puts the source location first and the SyntaxError itself last.
func parseErrorSummary(msg string) string {
	summary := "syntax error"
	for _, line := range strings.Split(msg, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			summary = line
		}
	}
	if len(summary) > 120 {
		summary = summary[:120]
	}
	return summary
}
