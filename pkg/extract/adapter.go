package extract

import (
	"fmt"
)

// Adapter is the per-language glue the generation pipeline depends on:
// parsing, candidate post-processing, and the commands the sandbox needs to
// validate and drive the language runtime. Implementations are selected
// through an explicit registry keyed by language identifier.
type Adapter interface {
	// Language is the identifier used in registries and prompts ("python").
	Language() string
	// Framework names the test framework candidates must use ("unittest").
	Framework() string
	// FileSuffix is the source file extension including the dot.
	FileSuffix() string
	// MinRuntimeVersion is the minimum interpreter version the sandbox image
	// must provide, as "major.minor".
	MinRuntimeVersion() string

	// Parse builds a SourceUnit for the module at path.
	Parse(path, projectDir string) (*SourceUnit, error)

	// PostprocessCandidate turns a raw model response into runnable test
	// source: fences stripped, target import ensured, entry point ensured.
	PostprocessCandidate(candidate, moduleName, objectName string) string

	// VersionCommand prints the runtime version inside the sandbox.
	VersionCommand() []string
	// CoverageCheckCommand exits non-zero when the coverage tool is missing.
	CoverageCheckCommand() []string
	// ImportProbeCommand attempts to import the module under test.
	ImportProbeCommand(moduleName string) []string
}

//nolint:gochecknoglobals // Language registry, fixed at startup
var adapters = map[string]func() Adapter{
	"python": func() Adapter { return NewPythonAdapter() },
}

// NewAdapter returns the adapter registered for the language identifier.
func NewAdapter(language string) (Adapter, error) {
	factory, ok := adapters[language]
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", language)
	}
	return factory(), nil
}

// SupportedLanguages lists registered language identifiers.
func SupportedLanguages() []string {
	langs := make([]string, 0, len(adapters))
	for lang := range adapters {
		langs = append(langs, lang)
	}
	return langs
}

// PythonAdapter is the reference Adapter implementation.
type PythonAdapter struct{}

// NewPythonAdapter creates the Python language adapter.
func NewPythonAdapter() *PythonAdapter {
	return &PythonAdapter{}
}

func (a *PythonAdapter) Language() string          { return "python" }
func (a *PythonAdapter) Framework() string         { return "unittest" }
func (a *PythonAdapter) FileSuffix() string        { return ".py" }
func (a *PythonAdapter) MinRuntimeVersion() string { return "3.9" }

// Parse implements Adapter.
func (a *PythonAdapter) Parse(path, projectDir string) (*SourceUnit, error) {
	return Parse(path, projectDir)
}

// VersionCommand implements Adapter.
func (a *PythonAdapter) VersionCommand() []string {
	return []string{"python3", "--version"}
}

// CoverageCheckCommand implements Adapter.
func (a *PythonAdapter) CoverageCheckCommand() []string {
	return []string{"python3", "-c", "import coverage"}
}

// ImportProbeCommand implements Adapter.
func (a *PythonAdapter) ImportProbeCommand(moduleName string) []string {
	return []string{"python3", "-c", fmt.Sprintf("import importlib; importlib.import_module(%q)", moduleName)}
}
