// Package report defines the execution report schema produced by the sandbox
// bootstrap and consumed by the iteration controller.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TestFailure is one failing test case: its framework test id and the traceback.
// The bootstrap serializes these as two-element arrays, mirroring the
// (test_id, trace) tuples emitted by the test framework.
type TestFailure struct {
	TestID string
	Trace  string
}

// MarshalJSON encodes the failure as ["id", "trace"].
func (f TestFailure) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{f.TestID, f.Trace})
}

// UnmarshalJSON decodes a ["id", "trace"] pair.
func (f *TestFailure) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("test failure must be a [id, trace] pair: %w", err)
	}
	f.TestID = pair[0]
	f.Trace = pair[1]
	return nil
}

// ExecutionReport is the structured outcome of running one candidate in the
// sandbox. Either CompileError is set and everything else is zero, or
// CompileError is nil and the remaining fields are populated.
type ExecutionReport struct {
	TestsRan      int           `json:"tests_ran"`
	Errors        []TestFailure `json:"errors"`
	Failures      []TestFailure `json:"failures"`
	ExecutedLines []int         `json:"executed_lines"`
	MissingLines  []int         `json:"missing_lines"`
	CompileError  *string       `json:"compile_error"`
}

// Decode parses the JSON report retrieved from the sandbox.
func Decode(data []byte) (*ExecutionReport, error) {
	var r ExecutionReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode execution report: %w", err)
	}
	return &r, nil
}

// Encode serializes the report for persistence.
func (r *ExecutionReport) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode execution report: %w", err)
	}
	return data, nil
}

// OutcomeKind classifies a report into the closed set the controller branches on.
type OutcomeKind int

const (
	// OutcomePassed means the candidate compiled and every test passed.
	OutcomePassed OutcomeKind = iota
	// OutcomeCompileFailure means the candidate failed to load as a module.
	OutcomeCompileFailure
	// OutcomeTestFailures means the candidate loaded but at least one test
	// errored or failed.
	OutcomeTestFailures
)

// Outcome classifies the report. The branch in the iteration controller is a
// total switch over this value.
func (r *ExecutionReport) Outcome() OutcomeKind {
	switch {
	case r.CompileError != nil:
		return OutcomeCompileFailure
	case len(r.Errors) > 0 || len(r.Failures) > 0:
		return OutcomeTestFailures
	default:
		return OutcomePassed
	}
}

// Passed reports whether the candidate was accepted as-is.
func (r *ExecutionReport) Passed() bool {
	return r.Outcome() == OutcomePassed
}

// Problems returns test errors followed by assertion failures, in report order.
func (r *ExecutionReport) Problems() []TestFailure {
	problems := make([]TestFailure, 0, len(r.Errors)+len(r.Failures))
	problems = append(problems, r.Errors...)
	problems = append(problems, r.Failures...)
	return problems
}

// Summary renders a one-line description of the outcome, used when reporting
// each sample's result back to the model during pre-reduction.
func (r *ExecutionReport) Summary() string {
	switch r.Outcome() {
	case OutcomeCompileFailure:
		return fmt.Sprintf("Provided code failed to compile with:\n%s", *r.CompileError)
	case OutcomeTestFailures:
		return fmt.Sprintf("Executing tests failed with the following errors:\n%s", EnumerateFailures(r.Problems()))
	default:
		return "Tests were successfully executed."
	}
}

// EnumerateFailures renders failures as a numbered list:
//
//	1. Test test_x failed with error: <trace>
func EnumerateFailures(failures []TestFailure) string {
	var b strings.Builder
	for i, f := range failures {
		fmt.Fprintf(&b, "%d. Test %s failed with error: %s\n", i+1, f.TestID, f.Trace)
	}
	return b.String()
}
