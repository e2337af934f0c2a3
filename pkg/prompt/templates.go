// Package prompt builds the conversations sent to the completion service:
// the initial two-message generation prompt with its numbered info sheet, and
// the corrective prompts used by the repair loop.
package prompt

import (
	"fmt"
	"strings"
)

const systemTemplate = `Generate high-quality comprehensive unit tests in %s using %s library for provided %s.
Next to the definition you will be provided with numbered INFO sheet that might be useful in generating finer tests.
You do not necessarily need to use all of the INFO sheet, use only relevant parts of it.
Your response should be just a valid %s code without explanation or any other text.`

const compileErrorTemplate = `The code that you have provided failed to compile with the following error:
%s
Try to fix the error and resubmit your response.
Your response should still be just a valid %s code without explanation or any other text.`

const testErrorTemplate = `While running the tests following errors occured:
%sTry to fix them and resubmit your response.
Your response should still be just a valid %s code without explanation or any other text.`

const combineSamplesTemplate = `%s

You previously provided %d candidate responses for this task. Each candidate was executed and its outcome recorded:

%s
Using the candidates and their outcomes, synthesize one single best response.
Your response should be just a valid %s code without explanation or any other text.`

// SystemPrompt renders the fixed system instruction.
func SystemPrompt(language, framework, objectDescription string) string {
	return fmt.Sprintf(systemTemplate, language, framework, objectDescription, language)
}

// CompileErrorReprompt renders the corrective turn for a candidate that
// failed to load.
func CompileErrorReprompt(errorMessage, language string) string {
	return fmt.Sprintf(compileErrorTemplate, errorMessage, language)
}

// TestFailureReprompt renders the corrective turn for failing tests.
// enumerated is the numbered failure list from report.EnumerateFailures.
func TestFailureReprompt(enumerated, language string) string {
	return fmt.Sprintf(testErrorTemplate, enumerated, language)
}

// SampleOutcome pairs one sampled candidate with its one-line execution
// summary for the pre-reduction synthesis prompt.
type SampleOutcome struct {
	Candidate string
	Outcome   string
}

// CombineSamples rewrites the original user prompt into the synthesis prompt
// carrying every (sample, outcome) pair.
func CombineSamples(originalPrompt, language string, outcomes []SampleOutcome) string {
	var b strings.Builder
	for i, o := range outcomes {
		fmt.Fprintf(&b, "Candidate %d:\n%s\nOutcome %d: %s\n\n", i+1, o.Candidate, i+1, o.Outcome)
	}
	return fmt.Sprintf(combineSamplesTemplate, originalPrompt, len(outcomes), b.String(), language)
}
