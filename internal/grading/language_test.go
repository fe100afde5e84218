package grading

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const greeterSource = `# greeting helpers
class Greeter:
    def __init__(self, name):
        self.name = name

    def greet(self):
        return "Hello, " + self.name


def main():
    for name in ["ada", "linus"]:
        if name:
            print(Greeter(name).greet())


if __name__ == "__main__":
    main()
`

const cppSource = `#include <iostream>
using namespace std;

// add returns the sum of two values
int add(int a, int b) {
    return a + b;
}

/* entry point */
int main() {
    int total = 0;
    for (int i = 0; i < 3; i++) {
        if (i % 2 == 0) {
            total = add(total, i);
        }
    }
    cout << total << endl;
    return 0;
}
`

func TestDetectLanguage(t *testing.T) {
	cases := []struct {
		file, hint, text string
		want             Language
	}{
		{"sum.cpp", "", "", LanguageCpp},
		{"lib.HPP", "", "", LanguageCpp},
		{"main.py", "", "", LanguagePython},
		{"a.cpp", "python", "", LanguagePython},
		{"notes.txt", "", "#include <stdio.h>\nint main() {}", LanguageCpp},
		{"notes.txt", "", "def main():\n    pass", LanguagePython},
		{"notes.txt", "", "hello there", LanguageUnknown},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, DetectLanguage(tc.file, tc.hint, tc.text), tc.file)
	}
	require.Equal(t, "cpp", LanguageCpp.String())
}

func TestAnalyzePythonParseTree(t *testing.T) {
	facts := AnalyzeStructure(LanguagePython, greeterSource)

	require.True(t, facts.Parsed)
	require.False(t, facts.Degraded())
	require.ElementsMatch(t, []string{"__init__", "greet", "main"}, facts.Functions)
	require.Equal(t, []string{"Greeter"}, facts.Classes)
	require.Equal(t, 2, facts.Branches)
	require.Equal(t, 1, facts.Loops)
	require.Equal(t, 1, facts.CommentLines)
	require.True(t, facts.HasEntryPoint)
	require.Contains(t, facts.Identifiers, "name")
}

func TestPythonPatternFallbackAgreesOnSimpleSource(t *testing.T) {
	parsed := AnalyzeStructure(LanguagePython, greeterSource)
	patterns := pythonPatternFacts(greeterSource)

	require.False(t, patterns.Parsed)
	require.ElementsMatch(t, parsed.Functions, patterns.Functions)
	require.Equal(t, parsed.Classes, patterns.Classes)
	require.Equal(t, parsed.Branches, patterns.Branches)
	require.Equal(t, parsed.Loops, patterns.Loops)
	require.Equal(t, parsed.HasEntryPoint, patterns.HasEntryPoint)
}

func TestAnalyzePythonDegradesOnMalformedSource(t *testing.T) {
	facts := AnalyzeStructure(LanguagePython, "def broken(:\n    pass\n")

	require.True(t, facts.Degraded())
	require.False(t, facts.Parsed)
	require.NotEmpty(t, facts.ParseError)
	require.Equal(t, []string{"broken"}, facts.Functions)
}

func TestAnalyzeCpp(t *testing.T) {
	facts := AnalyzeStructure(LanguageCpp, cppSource)

	require.Equal(t, []string{"add", "main"}, facts.Functions)
	require.Empty(t, facts.Classes)
	require.Equal(t, 1, facts.Branches)
	require.Equal(t, 1, facts.Loops)
	require.Equal(t, 2, facts.CommentLines)
	require.Equal(t, 1, facts.Includes)
	require.True(t, facts.HasNamespace)
	require.True(t, facts.HasEntryPoint)
	require.False(t, facts.HasHeaderGuard)
	require.Contains(t, facts.Identifiers, "total")
}

func TestAnalyzeCppHeaderGuard(t *testing.T) {
	header := "#ifndef SHAPES_H\n#define SHAPES_H\nclass Shape {\npublic:\n    double area() const { return 0; }\n};\n#endif\n"
	facts := AnalyzeStructure(LanguageCpp, header)

	require.True(t, facts.HasHeaderGuard)
	require.Equal(t, []string{"Shape"}, facts.Classes)
	require.Equal(t, []string{"area"}, facts.Functions)
}

func TestStripCppCommentsKeepsStrings(t *testing.T) {
	out := stripCppComments("a = \"// not a comment\"; // real\nb = 1; /* gone */ c = 2;")
	require.Equal(t, "a = \"// not a comment\"; \nb = 1;  c = 2;", out)
}

func TestFollowsConvention(t *testing.T) {
	require.True(t, followsConvention(LanguagePython, "total_count"))
	require.True(t, followsConvention(LanguagePython, "Greeter"))
	require.True(t, followsConvention(LanguagePython, "MAX_SIZE"))
	require.True(t, followsConvention(LanguagePython, "__init__"))
	require.False(t, followsConvention(LanguagePython, "totalCount"))
	require.True(t, followsConvention(LanguageCpp, "totalCount"))
	require.False(t, followsConvention(LanguageCpp, "total_Count"))
	require.True(t, followsConvention(LanguageCpp, "i"))
	require.False(t, followsConvention(LanguageCpp, "q"))
}

func TestParseErrorSummaryKeepsSyntaxError(t *testing.T) {
	msg := "\n  File \"<string>\", line 1, offset 11\n    def broken(:\n\nSyntaxError: 'invalid syntax'"
	require.Equal(t, "SyntaxError: 'invalid syntax'", parseErrorSummary(msg))
	require.Equal(t, "syntax error", parseErrorSummary("\n \n"))

	for _, src := range []string{"def f(x)\n  return x\n", "print('a'\n", "x = = 1\n"} {
		facts := AnalyzeStructure(LanguagePython, src)
		require.True(t, facts.Degraded(), src)
		require.NotEmpty(t, facts.ParseError, src)
	}
}
