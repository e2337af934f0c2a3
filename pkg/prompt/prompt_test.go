package prompt

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testforge/pkg/extract"
	"testforge/pkg/llm"
)

const accountsModule = `"""Toy account management module."""
import json
from utils import normalize, RATE_LIMIT
from helpers import Formatter

TAX_RATE = 0.2
registry = Formatter()

def net_amount(gross):
    return gross - gross * TAX_RATE

def describe(amount):
    formatted = registry.render(amount)
    return normalize(formatted)

class Account:
    kind = "checking"

    def __init__(self, owner, balance=0):
        self.owner = owner
        self.balance = balance

    def deposit(self, amount):
        self.balance += net_amount(amount)
        return self.balance
`

const utilsModule = `RATE_LIMIT = 10

def normalize(text):
    return text.strip().lower()
`

const helpersModule = `class Formatter:
    def __init__(self, prefix="$"):
        self.prefix = prefix

    def render(self, amount):
        return f"{self.prefix}{amount:.2f}"
`

// bareModule has nothing but the target function: no imports, no module body,
// no local calls.
const bareModule = `def double(x):
    return x * 2
`

func parseFixture(t *testing.T, files map[string]string, entry string) *extract.SourceUnit {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	unit, err := extract.Parse(filepath.Join(dir, entry), dir)
	require.NoError(t, err)
	return unit
}

func accountsUnit(t *testing.T) *extract.SourceUnit {
	t.Helper()
	return parseFixture(t, map[string]string{
		"accounts.py": accountsModule,
		"utils.py":    utilsModule,
		"helpers.py":  helpersModule,
	}, "accounts.py")
}

var sheetNumberPattern = regexp.MustCompile(`(?m)^(\d+)\. `)

// sheetNumbers extracts the section numbers of the info sheet in order.
func sheetNumbers(t *testing.T, userContent string) []int {
	t.Helper()
	_, sheet, found := strings.Cut(userContent, "INFO sheet:\n")
	require.True(t, found, "user message carries no info sheet")
	var numbers []int
	for _, m := range sheetNumberPattern.FindAllStringSubmatch(sheet, -1) {
		n, err := strconv.Atoi(m[1])
		require.NoError(t, err)
		numbers = append(numbers, n)
	}
	return numbers
}

func TestBuild_FunctionTarget(t *testing.T) {
	unit := accountsUnit(t)
	adapter, err := extract.NewAdapter("python")
	require.NoError(t, err)

	conv, target, err := Build(unit, adapter, "describe", "")
	require.NoError(t, err)
	require.Len(t, conv, 2)

	assert.Equal(t, llm.RoleSystem, conv[0].Role)
	assert.Contains(t, conv[0].Content, "unit tests in python using unittest")
	assert.Contains(t, conv[0].Content, "Function Definition")

	assert.Equal(t, llm.RoleUser, conv[1].Role)
	assert.True(t, strings.HasPrefix(conv[1].Content, "Function Definition:\ndef describe(amount):"))
	assert.Contains(t, conv[1].Content, "defined in the module called: accounts")
	assert.Contains(t, conv[1].Content, "from utils import normalize, RATE_LIMIT")
	assert.Contains(t, conv[1].Content, "RATE_LIMIT = 10")
	assert.Contains(t, conv[1].Content, "registry: Formatter")
	assert.Contains(t, conv[1].Content, "def normalize(text):")
	// Formatter is instantiated in the module body, so its constructor rides
	// along with the render definition.
	assert.Contains(t, conv[1].Content, `def __init__(self, prefix="$"):`)

	assert.Equal(t, Target{ObjectName: "describe"}, target)
}

func TestBuild_MethodTarget(t *testing.T) {
	unit := accountsUnit(t)
	adapter, err := extract.NewAdapter("python")
	require.NoError(t, err)

	conv, target, err := Build(unit, adapter, "Account", "deposit")
	require.NoError(t, err)
	require.Len(t, conv, 2)

	assert.Contains(t, conv[0].Content, "Classmethod Definition of a class called: Account")
	assert.True(t, strings.HasPrefix(conv[1].Content, "Classmethod Definition:\ndef deposit(self, amount):"))
	assert.Contains(t, conv[1].Content, "deposit is defined inside the Account class")
	assert.Contains(t, conv[1].Content, "Class __init__ definition of the Account class:")
	assert.Contains(t, conv[1].Content, `kind = "checking"`)
	assert.Contains(t, conv[1].Content, "def net_amount(gross):")

	assert.Equal(t, Target{ObjectName: "deposit", ClassName: "Account", IsMethod: true}, target)
}

func TestBuild_InitTargetSkipsConstructorSection(t *testing.T) {
	unit := accountsUnit(t)
	adapter, err := extract.NewAdapter("python")
	require.NoError(t, err)

	conv, _, err := Build(unit, adapter, "Account", "__init__")
	require.NoError(t, err)
	assert.NotContains(t, conv[1].Content, "Class __init__ definition of the Account class:")
}

func TestBuild_SheetNumberingContiguous(t *testing.T) {
	unit := accountsUnit(t)
	adapter, err := extract.NewAdapter("python")
	require.NoError(t, err)

	conv, _, err := Build(unit, adapter, "describe", "")
	require.NoError(t, err)

	numbers := sheetNumbers(t, conv[1].Content)
	require.NotEmpty(t, numbers)
	for i, n := range numbers {
		assert.Equal(t, i+1, n, "sheet numbering must be contiguous from 1")
	}
}

func TestBuild_EmptySectionsOmitted(t *testing.T) {
	unit := parseFixture(t, map[string]string{"calc.py": bareModule}, "calc.py")
	adapter, err := extract.NewAdapter("python")
	require.NoError(t, err)

	conv, _, err := Build(unit, adapter, "double", "")
	require.NoError(t, err)

	numbers := sheetNumbers(t, conv[1].Content)
	assert.Equal(t, []int{1}, numbers, "bare module keeps only the location line")
	assert.Contains(t, conv[1].Content, "1. Function Definition is defined in the module called: calc")
	assert.NotContains(t, conv[1].Content, "Following imports")
	assert.NotContains(t, conv[1].Content, "Local definitions")
}

func TestBuild_UnknownObject(t *testing.T) {
	unit := accountsUnit(t)
	adapter, err := extract.NewAdapter("python")
	require.NoError(t, err)

	_, _, err = Build(unit, adapter, "withdraw", "")
	var unknown *UnknownObjectError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "withdraw", unknown.Object)

	_, _, err = Build(unit, adapter, "Account", "close")
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "close", unknown.Method)

	_, _, err = Build(unit, adapter, "Account", "")
	require.Error(t, err, "class targets need a method name")
}

func TestCombineSamples(t *testing.T) {
	out := CombineSamples("original prompt", "python", []SampleOutcome{
		{Candidate: "code a", Outcome: "Tests were successfully executed."},
		{Candidate: "code b", Outcome: "2 tests failed."},
	})

	assert.Contains(t, out, "original prompt")
	assert.Contains(t, out, "2 candidate responses")
	assert.Contains(t, out, "Candidate 1:\ncode a")
	assert.Contains(t, out, "Outcome 2: 2 tests failed.")
	assert.Less(t, strings.Index(out, "Candidate 1"), strings.Index(out, "Candidate 2"))
}

func TestCorrectiveTemplates(t *testing.T) {
	c := CompileErrorReprompt("SyntaxError: invalid syntax", "python")
	assert.Contains(t, c, "failed to compile")
	assert.Contains(t, c, "SyntaxError: invalid syntax")
	assert.Contains(t, c, "valid python code")

	f := TestFailureReprompt("1. Test test_a failed with error: boom\n", "python")
	assert.Contains(t, f, "following errors occured")
	assert.Contains(t, f, "test_a")
}
