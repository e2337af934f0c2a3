package generator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testforge/pkg/config"
	"testforge/pkg/extract"
	"testforge/pkg/llm"
	"testforge/pkg/persistence"
	"testforge/pkg/report"
)

const calcModule = `def add(a, b):
    return a + b

class Calculator:

    def scale(self, value, factor):
        return value * factor
`

// fakeRunner scripts sandbox outcomes and records every candidate it ran.
type fakeRunner struct {
	reports  []report.ExecutionReport
	index    int
	runs     []string
	checkErr error
}

func (f *fakeRunner) Start(context.Context) error { return nil }
func (f *fakeRunner) Stop(context.Context) error  { return nil }

func (f *fakeRunner) CheckModule(context.Context, string) error {
	return f.checkErr
}

func (f *fakeRunner) Run(_ context.Context, candidate, _ string) (report.ExecutionReport, error) {
	f.runs = append(f.runs, candidate)
	rep := f.reports[f.index]
	if f.index < len(f.reports)-1 {
		f.index++
	}
	return rep, nil
}

func passing() report.ExecutionReport {
	return report.ExecutionReport{TestsRan: 2, ExecutedLines: []int{1, 2}}
}

func compileFailing() report.ExecutionReport {
	msg := "SyntaxError: invalid syntax"
	return report.ExecutionReport{CompileError: &msg}
}

func testFailing() report.ExecutionReport {
	return report.ExecutionReport{
		TestsRan: 2,
		Failures: []report.TestFailure{{TestID: "test_add", Trace: "AssertionError: 3 != 4"}},
	}
}

func response(samples ...string) llm.Response {
	return llm.Response{Samples: samples, Usage: llm.Usage{PromptTokens: 100, CompletionTokens: 50}}
}

// writeCalcProject lays out the fixture module and returns its path.
func writeCalcProject(t *testing.T) (dir, sourcePath string) {
	t.Helper()
	dir = t.TempDir()
	sourcePath = filepath.Join(dir, "calc.py")
	require.NoError(t, os.WriteFile(sourcePath, []byte(calcModule), 0o644))
	return dir, sourcePath
}

func newTestGenerator(t *testing.T, projectDir string, client llm.Client, runner *fakeRunner,
	mutate func(*config.Config)) *Generator {
	t.Helper()
	cfg := config.Default(projectDir)
	if mutate != nil {
		mutate(&cfg)
	}
	session := &config.Session{
		Config:  cfg,
		Client:  client,
		Adapter: extract.NewPythonAdapter(),
	}
	gen, err := New(session, runner, nil, nil)
	require.NoError(t, err)
	return gen
}

func TestGenerate_AcceptedFirstDraft(t *testing.T) {
	dir, src := writeCalcProject(t)
	mock := llm.NewMockClient([]llm.Response{
		response("```python\nimport unittest\nclass TestAdd(unittest.TestCase):\n    pass\n```"),
	}, nil)
	runner := &fakeRunner{reports: []report.ExecutionReport{passing()}}
	gen := newTestGenerator(t, dir, mock, runner, nil)

	result, err := gen.GenerateTests(context.Background(), src, "add", "")
	require.NoError(t, err)

	assert.Equal(t, StateAccepted, result.State)
	assert.Zero(t, result.Iterations)
	assert.Equal(t, 1, mock.CallCount())
	assert.Len(t, runner.runs, 1)

	// Postprocessing stripped the fence and pinned the import.
	assert.NotContains(t, result.Test, "```")
	assert.True(t, strings.HasPrefix(result.Test, "from calc import add"))
	assert.Contains(t, result.Test, "unittest.main()")

	// History ends with the accepted candidate.
	last := result.History[len(result.History)-1]
	assert.Equal(t, llm.RoleAssistant, last.Role)
	assert.Equal(t, result.Test, last.Content)

	assert.Equal(t, int64(100), result.Usage.PromptTokens)
	assert.Equal(t, int64(50), result.Usage.CompletionTokens)
}

func TestGenerate_CompileErrorRepaired(t *testing.T) {
	dir, src := writeCalcProject(t)
	mock := llm.NewMockClient([]llm.Response{
		response("broken draft"),
		response("from calc import add\nimport unittest\n"),
	}, nil)
	runner := &fakeRunner{reports: []report.ExecutionReport{compileFailing(), passing()}}
	gen := newTestGenerator(t, dir, mock, runner, nil)

	result, err := gen.GenerateTests(context.Background(), src, "add", "")
	require.NoError(t, err)

	assert.Equal(t, StateAccepted, result.State)
	assert.Equal(t, 1, result.Iterations)
	require.Equal(t, 2, mock.CallCount())
	assert.Len(t, runner.runs, 2)

	// The repair request carries the assistant turn and the compile reprompt.
	repair := mock.Requests[1].Messages
	require.Len(t, repair, 4)
	assert.Equal(t, llm.RoleAssistant, repair[2].Role)
	assert.Contains(t, repair[3].Content, "failed to compile")
	assert.Contains(t, repair[3].Content, "SyntaxError: invalid syntax")
}

func TestGenerate_TestFailuresRepaired(t *testing.T) {
	dir, src := writeCalcProject(t)
	mock := llm.NewMockClient([]llm.Response{
		response("draft with a bad assertion"),
		response("fixed tests"),
	}, nil)
	runner := &fakeRunner{reports: []report.ExecutionReport{testFailing(), passing()}}
	gen := newTestGenerator(t, dir, mock, runner, nil)

	result, err := gen.GenerateTests(context.Background(), src, "add", "")
	require.NoError(t, err)

	assert.Equal(t, StateAccepted, result.State)
	repair := mock.Requests[1].Messages
	assert.Contains(t, repair[3].Content, "1. Test test_add failed with error: AssertionError: 3 != 4")
}

func TestGenerate_Exhausted(t *testing.T) {
	dir, src := writeCalcProject(t)
	mock := llm.NewMockClient([]llm.Response{
		response("draft"),
		response("still bad"),
		response("still bad again"),
	}, nil)
	runner := &fakeRunner{reports: []report.ExecutionReport{testFailing()}}
	gen := newTestGenerator(t, dir, mock, runner, func(cfg *config.Config) {
		cfg.Generation.MaxIterations = 2
	})

	result, err := gen.GenerateTests(context.Background(), src, "add", "")
	require.NoError(t, err)

	assert.Equal(t, StateExhausted, result.State)
	assert.Equal(t, 2, result.Iterations)
	// Initial draft plus one run per iteration.
	assert.Len(t, runner.runs, 3)
	assert.Equal(t, 3, mock.CallCount())

	// The failing report comes back unchanged.
	require.Len(t, result.Report.Failures, 1)
	assert.Equal(t, "test_add", result.Report.Failures[0].TestID)
}

func TestGenerate_SampleReduction(t *testing.T) {
	dir, src := writeCalcProject(t)
	mock := llm.NewMockClient([]llm.Response{
		response("sample one", "sample two", "sample three"),
		response("synthesized candidate"),
	}, nil)
	runner := &fakeRunner{reports: []report.ExecutionReport{
		passing(), testFailing(), passing(), // sample evaluations
		passing(), // synthesized candidate
	}}
	gen := newTestGenerator(t, dir, mock, runner, func(cfg *config.Config) {
		cfg.Generation.SampleCount = 3
	})

	result, err := gen.GenerateTests(context.Background(), src, "add", "")
	require.NoError(t, err)

	assert.Equal(t, StateAccepted, result.State)
	assert.Zero(t, result.Iterations)
	// One run per sample plus the accepted synthesis run.
	assert.Len(t, runner.runs, 4)

	// The draft request asked for three samples, the synthesis for one.
	assert.Equal(t, 3, mock.Requests[0].N)
	assert.Equal(t, 1, mock.Requests[1].N)

	synthesis := mock.Requests[1].Messages
	require.Len(t, synthesis, 2)
	assert.Contains(t, synthesis[1].Content, "3 candidate responses")
	assert.Contains(t, synthesis[1].Content, "Candidate 1")
	assert.Contains(t, synthesis[1].Content, "Tests were successfully executed.")
	assert.Contains(t, synthesis[1].Content, "1. Test test_add failed with error")
}

func TestGenerate_MethodTarget(t *testing.T) {
	dir, src := writeCalcProject(t)
	mock := llm.NewMockClient([]llm.Response{response("tests for scale")}, nil)
	runner := &fakeRunner{reports: []report.ExecutionReport{passing()}}
	gen := newTestGenerator(t, dir, mock, runner, nil)

	result, err := gen.GenerateTests(context.Background(), src, "Calculator", "scale")
	require.NoError(t, err)

	assert.Equal(t, "Calculator", result.Target.ClassName)
	assert.Equal(t, "scale", result.Target.ObjectName)
	// Methods import their class, not the method name.
	assert.True(t, strings.HasPrefix(result.Test, "from calc import Calculator"))
}

func TestGenerate_ModuleCheckFailurePropagates(t *testing.T) {
	dir, src := writeCalcProject(t)
	mock := llm.NewMockClient(nil, nil)
	runner := &fakeRunner{checkErr: fmt.Errorf("missing dependency")}
	gen := newTestGenerator(t, dir, mock, runner, nil)

	_, err := gen.GenerateTests(context.Background(), src, "add", "")
	require.Error(t, err)
	assert.Zero(t, mock.CallCount(), "no completion call when the module cannot be imported")
}

func TestGenerate_PromptTooLarge(t *testing.T) {
	dir, src := writeCalcProject(t)
	mock := llm.NewMockClient(nil, nil)
	runner := &fakeRunner{}
	gen := newTestGenerator(t, dir, mock, runner, func(cfg *config.Config) {
		cfg.Generation.MaxTokens = conservativeContextTokens
	})

	_, err := gen.GenerateTests(context.Background(), src, "add", "")
	var tooLarge *PromptTooLargeError
	require.ErrorAs(t, err, &tooLarge)
}

func TestGenerate_PersistsResult(t *testing.T) {
	dir, src := writeCalcProject(t)
	store, err := persistence.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	mock := llm.NewMockClient([]llm.Response{response("tests")}, nil)
	runner := &fakeRunner{reports: []report.ExecutionReport{passing()}}

	cfg := config.Default(dir)
	session := &config.Session{Config: cfg, Client: mock, Adapter: extract.NewPythonAdapter()}
	gen, err := New(session, runner, store, nil)
	require.NoError(t, err)

	result, err := gen.GenerateTests(context.Background(), src, "add", "")
	require.NoError(t, err)
	require.Positive(t, result.RecordID)

	rec, err := store.RecordByID(result.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "calc", rec.Module)
	assert.Equal(t, "add", rec.Object)
	assert.Equal(t, result.Test, rec.Test)

	usage, err := store.UsageForModel("mock")
	require.NoError(t, err)
	assert.Equal(t, int64(100), usage.PromptTokens)
}

func TestRerunStored(t *testing.T) {
	dir, _ := writeCalcProject(t)
	store, err := persistence.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	id, err := store.SaveRecord(&persistence.TestRecord{
		Module: "calc", Object: "add",
		History: llm.Conversation{llm.SystemMessage("s")},
		Test:    "stored test source",
		Report:  testFailing(),
	})
	require.NoError(t, err)

	runner := &fakeRunner{reports: []report.ExecutionReport{passing()}}
	cfg := config.Default(dir)
	session := &config.Session{Config: cfg, Client: llm.NewMockClient(nil, nil), Adapter: extract.NewPythonAdapter()}
	gen, err := New(session, runner, store, nil)
	require.NoError(t, err)

	rep, err := gen.RerunStored(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, rep.Passed())
	assert.Equal(t, []string{"stored test source"}, runner.runs)

	rec, err := store.RecordByID(id)
	require.NoError(t, err)
	assert.True(t, rec.Report.Passed())
}

func TestTargets(t *testing.T) {
	dir, src := writeCalcProject(t)
	unit, err := extract.Parse(src, dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"add", "Calculator.scale"}, Targets(unit))
}
