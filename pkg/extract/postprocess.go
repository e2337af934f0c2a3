package extract

import (
	"fmt"
	"regexp"
	"strings"
)

var fencePattern = regexp.MustCompile("(?s)```(?:[a-zA-Z0-9_+-]*\n)?(.*?)```")

// PostprocessCandidate implements Adapter. Models are instructed to return
// bare source, but in practice responses arrive fenced or with commentary, so
// the candidate is normalized before execution:
//
//  1. markdown code fences and surrounding prose are stripped,
//  2. an import of the target object is inserted when none is present,
//  3. a unittest entry point is appended when missing.
func (a *PythonAdapter) PostprocessCandidate(candidate, moduleName, objectName string) string {
	source := stripFences(candidate)
	source = ensureTargetImport(source, moduleName, objectName)
	return ensureEntryPoint(source)
}

// stripFences extracts fenced code blocks, dropping any prose around them.
// Responses without fences pass through trimmed.
func stripFences(candidate string) string {
	matches := fencePattern.FindAllStringSubmatch(candidate, -1)
	if len(matches) == 0 {
		return strings.TrimSpace(candidate)
	}
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, strings.TrimSpace(m[1]))
	}
	return strings.Join(blocks, "\n\n")
}

// ensureTargetImport inserts `from <module> import <object>` as the first
// line unless the candidate already imports the target name, the module, or
// wildcard-imports the module.
func ensureTargetImport(source, moduleName, objectName string) string {
	importsTarget := regexp.MustCompile(fmt.Sprintf(
		`(?m)^\s*(from\s+[\w.]*%s\s+import\s+(.*\b%s\b|\*)|import\s+[\w.]*%s\b)`,
		regexp.QuoteMeta(moduleName), regexp.QuoteMeta(objectName), regexp.QuoteMeta(moduleName),
	))
	if importsTarget.MatchString(source) {
		return source
	}
	return fmt.Sprintf("from %s import %s\n%s", moduleName, objectName, source)
}

// ensureEntryPoint appends a unittest main guard when the candidate has no
// runnable entry point.
func ensureEntryPoint(source string) string {
	if strings.Contains(source, "__main__") || strings.Contains(source, "unittest.main(") {
		return source
	}
	return source + "\n\nif __name__ == \"__main__\":\n    unittest.main()\n"
}
