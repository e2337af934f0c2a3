// Package generator drives the draft, evaluate, repair loop that turns a
// target definition into an accepted unit test.
package generator

import (
	"context"
	"fmt"
	"time"

	"testforge/pkg/config"
	"testforge/pkg/extract"
	"testforge/pkg/llm"
	"testforge/pkg/logx"
	"testforge/pkg/metrics"
	"testforge/pkg/persistence"
	"testforge/pkg/prompt"
	"testforge/pkg/report"
	"testforge/pkg/sandbox"
	"testforge/pkg/utils"
)

// State names one phase of the generation loop.
type State string

const (
	// StateDrafting is the initial sampling phase.
	StateDrafting State = "DRAFTING"
	// StateEvaluating means a candidate is being executed in the sandbox.
	StateEvaluating State = "EVALUATING"
	// StateReprompting means the model is being asked to repair a candidate.
	StateReprompting State = "REPROMPTING"
	// StateAccepted is terminal: the candidate compiled and all tests passed.
	StateAccepted State = "ACCEPTED"
	// StateExhausted is terminal: the iteration budget ran out. The last
	// candidate and its report are returned unchanged.
	StateExhausted State = "EXHAUSTED"
)

// Result is the outcome of one generation run.
type Result struct {
	Target     prompt.Target
	Module     string
	Test       string
	Report     report.ExecutionReport
	History    llm.Conversation
	State      State
	Iterations int // repair iterations consumed, initial draft excluded
	Usage      llm.Usage
	RecordID   int64 // 0 when no store is attached
}

// conservativeContextTokens bounds prompts for models without a registry entry.
const conservativeContextTokens = 32000

// PromptTooLargeError means the built prompt cannot fit the model's context
// window together with the completion budget.
type PromptTooLargeError struct {
	Tokens int
	Limit  int
}

func (e *PromptTooLargeError) Error() string {
	return fmt.Sprintf("prompt needs %d tokens but the model context allows %d", e.Tokens, e.Limit)
}

// Generator owns one model client, one sandbox and optionally a store and a
// metrics recorder.
type Generator struct {
	session  *config.Session
	runner   sandbox.Runner
	store    persistence.RecordStore
	recorder *metrics.Recorder
	counter  *utils.TokenCounter
	logger   *logx.Logger
}

// New wires a generator. store and recorder may be nil; persistence and
// metrics are then skipped.
func New(session *config.Session, runner sandbox.Runner, store persistence.RecordStore, recorder *metrics.Recorder) (*Generator, error) {
	counter, err := utils.NewTokenCounter(session.Config.Generation.Model)
	if err != nil {
		return nil, err
	}
	return &Generator{
		session:  session,
		runner:   runner,
		store:    store,
		recorder: recorder,
		counter:  counter,
		logger:   logx.NewLogger("generator"),
	}, nil
}

// GenerateTests produces a unit test for one target in sourcePath. For class
// targets methodName selects the method. The sandbox must already be started.
//
//nolint:cyclop // the state machine reads best as one function
func (g *Generator) GenerateTests(ctx context.Context, sourcePath, targetName, methodName string) (*Result, error) {
	cfg := g.session.Config.Generation
	adapter := g.session.Adapter

	unit, err := adapter.Parse(sourcePath, g.session.Config.Project.Dir)
	if err != nil {
		return nil, err
	}

	conv, target, err := prompt.Build(unit, adapter, targetName, methodName)
	if err != nil {
		return nil, err
	}
	if err := g.checkPromptFits(conv, cfg); err != nil {
		return nil, err
	}
	if err := g.runner.CheckModule(ctx, unit.ModuleName); err != nil {
		return nil, err
	}

	// The import the candidate needs is the class for methods, the function
	// itself otherwise.
	importObject := target.ObjectName
	if target.IsMethod {
		importObject = target.ClassName
	}

	result := &Result{Target: target, Module: unit.ModuleName}
	g.logger.Info("%s: drafting tests for %s.%s (samples=%d)",
		StateDrafting, unit.ModuleName, targetName, cfg.SampleCount)

	req := llm.NewRequest(conv, float32(cfg.Temperature))
	req.N = cfg.SampleCount
	req.MaxTokens = cfg.MaxTokens
	samples, err := g.complete(ctx, req, result)
	if err != nil {
		return nil, err
	}

	candidates := make([]string, len(samples))
	for i, sample := range samples {
		candidates[i] = adapter.PostprocessCandidate(sample, unit.ModuleName, importObject)
	}

	candidate := candidates[0]
	if len(candidates) > 1 {
		candidate, conv, err = g.reduceSamples(ctx, conv, candidates, unit.ModuleName, importObject, result)
		if err != nil {
			return nil, err
		}
	}

	for iteration := 0; ; iteration++ {
		g.logger.Info("%s: running candidate (iteration %d)", StateEvaluating, iteration)
		rep, err := g.runner.Run(ctx, candidate, unit.ModuleName)
		if err != nil {
			return nil, err
		}
		g.observeRun(rep)

		result.Test = candidate
		result.Report = rep
		result.Iterations = iteration

		if rep.Passed() {
			result.State = StateAccepted
			break
		}
		if iteration >= cfg.MaxIterations {
			// Budget spent: hand back the last candidate and report as-is.
			result.State = StateExhausted
			break
		}

		g.logger.Info("%s: candidate %s, asking for a fix", StateReprompting, outcomeLabel(rep.Outcome()))
		conv = append(conv,
			llm.AssistantMessage(candidate),
			llm.UserMessage(correctiveMessage(&rep, adapter.Language())))
		if err := g.checkPromptFits(conv, cfg); err != nil {
			return nil, err
		}

		req := llm.NewRequest(conv, float32(cfg.Temperature))
		req.MaxTokens = cfg.MaxTokens
		samples, err := g.complete(ctx, req, result)
		if err != nil {
			return nil, err
		}
		candidate = adapter.PostprocessCandidate(samples[0], unit.ModuleName, importObject)
	}

	result.History = append(conv, llm.AssistantMessage(result.Test))
	if g.recorder != nil {
		g.recorder.ObserveIterations(string(result.State), result.Iterations)
	}
	g.logger.Info("%s: %s.%s after %d repair iterations",
		result.State, unit.ModuleName, targetName, result.Iterations)

	if err := g.persist(result); err != nil {
		return nil, err
	}
	return result, nil
}

// reduceSamples evaluates every drafted sample and asks the model for one
// synthesis combining them. The returned conversation replaces the original
// user prompt with the synthesis prompt so repair turns build on it.
func (g *Generator) reduceSamples(ctx context.Context, conv llm.Conversation, candidates []string,
	moduleName, importObject string, result *Result) (string, llm.Conversation, error) {
	outcomes := make([]prompt.SampleOutcome, len(candidates))
	for i, candidate := range candidates {
		rep, err := g.runner.Run(ctx, candidate, moduleName)
		if err != nil {
			return "", nil, err
		}
		g.observeRun(rep)
		outcomes[i] = prompt.SampleOutcome{Candidate: candidate, Outcome: rep.Summary()}
	}

	originalPrompt := conv[len(conv)-1].Content
	combined := prompt.CombineSamples(originalPrompt, g.session.Adapter.Language(), outcomes)
	conv = append(conv[:len(conv)-1:len(conv)-1], llm.UserMessage(combined))

	cfg := g.session.Config.Generation
	if err := g.checkPromptFits(conv, cfg); err != nil {
		return "", nil, err
	}
	req := llm.NewRequest(conv, float32(cfg.Temperature))
	req.MaxTokens = cfg.MaxTokens
	samples, err := g.complete(ctx, req, result)
	if err != nil {
		return "", nil, err
	}
	return g.session.Adapter.PostprocessCandidate(samples[0], moduleName, importObject), conv, nil
}

// complete calls the model, accounts tokens and validates the sample count.
func (g *Generator) complete(ctx context.Context, req llm.Request, result *Result) ([]string, error) {
	model := g.session.Client.ModelName()
	start := time.Now()
	resp, err := g.session.Client.Complete(ctx, req)
	duration := time.Since(start)

	if g.recorder != nil {
		g.recorder.ObserveRequest(model,
			resp.Usage.PromptTokens, resp.Usage.CompletionTokens,
			config.ModelCost(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
			err == nil, errorTypeLabel(err), duration)
	}
	if err != nil {
		return nil, err
	}
	if len(resp.Samples) == 0 {
		return nil, llm.NewError(llm.ErrorTypeEmptyResponse, "provider returned no samples")
	}

	result.Usage.PromptTokens += resp.Usage.PromptTokens
	result.Usage.CompletionTokens += resp.Usage.CompletionTokens
	if g.store != nil {
		if err := g.store.AddTokenUsage(model, resp.Usage); err != nil {
			g.logger.Warn("failed to record token usage: %v", err)
		}
	}
	return resp.Samples, nil
}

func (g *Generator) persist(result *Result) error {
	if g.store == nil {
		return nil
	}
	id, err := g.store.SaveRecord(&persistence.TestRecord{
		Module:  result.Module,
		Class:   result.Target.ClassName,
		Object:  result.Target.ObjectName,
		History: result.History,
		Test:    result.Test,
		Report:  result.Report,
	})
	if err != nil {
		return fmt.Errorf("failed to persist result: %w", err)
	}
	result.RecordID = id
	return nil
}

// RerunStored re-executes a previously stored test and refreshes its report.
func (g *Generator) RerunStored(ctx context.Context, recordID int64) (report.ExecutionReport, error) {
	if g.store == nil {
		return report.ExecutionReport{}, fmt.Errorf("no store attached")
	}
	rec, err := g.store.RecordByID(recordID)
	if err != nil {
		return report.ExecutionReport{}, err
	}
	rep, err := g.runner.Run(ctx, rec.Test, rec.Module)
	if err != nil {
		return report.ExecutionReport{}, err
	}
	g.observeRun(rep)
	if err := g.store.UpdateRecord(recordID, rec.Test, rep); err != nil {
		return report.ExecutionReport{}, err
	}
	return rep, nil
}

// checkPromptFits rejects conversations that cannot fit the model context
// together with the completion budget.
func (g *Generator) checkPromptFits(conv llm.Conversation, cfg config.GenerationConfig) error {
	limit := conservativeContextTokens
	if info, ok := config.KnownModels[cfg.Model]; ok {
		limit = info.MaxContextTokens
	}
	tokens := g.counter.CountConversation(conv)
	if tokens+cfg.MaxTokens > limit {
		return &PromptTooLargeError{Tokens: tokens, Limit: limit - cfg.MaxTokens}
	}
	return nil
}

func (g *Generator) observeRun(rep report.ExecutionReport) {
	if g.recorder != nil {
		g.recorder.ObserveSandboxRun(outcomeLabel(rep.Outcome()))
	}
}

// correctiveMessage renders the repair prompt matching the failure kind.
func correctiveMessage(rep *report.ExecutionReport, language string) string {
	if rep.Outcome() == report.OutcomeCompileFailure {
		return prompt.CompileErrorReprompt(*rep.CompileError, language)
	}
	return prompt.TestFailureReprompt(report.EnumerateFailures(rep.Problems()), language)
}

func outcomeLabel(kind report.OutcomeKind) string {
	switch kind {
	case report.OutcomeCompileFailure:
		return "compile_failure"
	case report.OutcomeTestFailures:
		return "test_failures"
	default:
		return "passed"
	}
}

func errorTypeLabel(err error) string {
	if err == nil {
		return ""
	}
	return llm.TypeOf(err).String()
}

// Targets lists every generatable object in a parsed module: function names
// plus Class.method pairs.
func Targets(unit *extract.SourceUnit) []string {
	var targets []string
	for _, name := range unit.DefinitionNames() {
		def := unit.Lookup(name)
		if def == nil {
			continue
		}
		if def.Kind == extract.DefClass {
			for _, method := range def.Methods {
				targets = append(targets, name+"."+method.Name)
			}
			continue
		}
		targets = append(targets, name)
	}
	return targets
}
