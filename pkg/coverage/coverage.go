// Package coverage aggregates line coverage for a target across every test
// stored for it.
package coverage

import (
	"fmt"
	"sort"
	"strings"

	"testforge/pkg/extract"
	"testforge/pkg/logx"
	"testforge/pkg/persistence"
)

// RecordSource is the slice of the store the aggregator needs.
type RecordSource interface {
	RecordsForObject(module, class, object string) ([]persistence.TestRecord, error)
}

// Aggregator computes cumulative coverage from stored execution reports.
type Aggregator struct {
	store  RecordSource
	logger *logx.Logger
}

// New creates an aggregator over a record store.
func New(store RecordSource) *Aggregator {
	return &Aggregator{store: store, logger: logx.NewLogger("coverage")}
}

// Coverage returns the cumulative coverage percentage for a target, floored.
// className is empty for free functions. A target with no stored tests is 0.
//
// Executed and missing line sets are unioned across all reports and
// restricted to the target's own line range; a line counts as covered if any
// stored run executed it.
func (a *Aggregator) Coverage(unit *extract.SourceUnit, objectName, className string) (int, error) {
	records, err := a.store.RecordsForObject(unit.ModuleName, className, objectName)
	if err != nil {
		return 0, fmt.Errorf("failed to load records for %s: %w", objectName, err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	start, end, err := a.lineRange(unit, objectName, className)
	if err != nil {
		return 0, err
	}

	executed := make(map[int]bool)
	missing := make(map[int]bool)
	for i := range records {
		for _, line := range records[i].Report.ExecutedLines {
			if line >= start && line <= end {
				executed[line] = true
			}
		}
		for _, line := range records[i].Report.MissingLines {
			if line >= start && line <= end {
				missing[line] = true
			}
		}
	}
	// A line any run executed is covered even if another run missed it.
	for line := range executed {
		delete(missing, line)
	}

	total := len(executed) + len(missing)
	if total == 0 {
		return 0, nil
	}
	percent := len(executed) * 100 / total
	a.logger.Debug("coverage for %s.%s: %d%% (%d/%d lines)",
		unit.ModuleName, objectName, percent, len(executed), total)
	return percent, nil
}

// MissingLines returns the lines of the target no stored run executed, sorted.
func (a *Aggregator) MissingLines(unit *extract.SourceUnit, objectName, className string) ([]int, error) {
	records, err := a.store.RecordsForObject(unit.ModuleName, className, objectName)
	if err != nil {
		return nil, fmt.Errorf("failed to load records for %s: %w", objectName, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	start, end, err := a.lineRange(unit, objectName, className)
	if err != nil {
		return nil, err
	}

	executed := make(map[int]bool)
	missing := make(map[int]bool)
	for i := range records {
		for _, line := range records[i].Report.ExecutedLines {
			if line >= start && line <= end {
				executed[line] = true
			}
		}
		for _, line := range records[i].Report.MissingLines {
			if line >= start && line <= end {
				missing[line] = true
			}
		}
	}

	var lines []int
	for line := range missing {
		if !executed[line] {
			lines = append(lines, line)
		}
	}
	sort.Ints(lines)
	return lines, nil
}

// lineRange prefers the parser-reported range and falls back to locating the
// definition text in the module source when the parser left no positions.
func (a *Aggregator) lineRange(unit *extract.SourceUnit, objectName, className string) (int, int, error) {
	if start, end, ok := unit.LineRange(objectName, className); ok && start > 0 && end >= start {
		return start, end, nil
	}
	if start, end, ok := anchorRange(unit, objectName, className); ok {
		a.logger.Debug("parser range unavailable for %s, using anchor match", objectName)
		return start, end, nil
	}
	return 0, 0, fmt.Errorf("no definition named %s in module %s", objectName, unit.ModuleName)
}

// anchorRange finds the target by matching its whitespace-stripped first
// source line against the module lines; the range ends after the number of
// lines the definition spans.
func anchorRange(unit *extract.SourceUnit, objectName, className string) (int, int, bool) {
	var def *extract.Definition
	if className != "" {
		if class := unit.Class(className); class != nil {
			def = class.Method(objectName)
		}
	} else {
		def = unit.Lookup(objectName)
	}
	if def == nil {
		return 0, 0, false
	}

	sourceLines := strings.Split(def.Source(), "\n")
	anchor := strings.TrimSpace(sourceLines[0])
	for i, line := range unit.Lines {
		if strings.TrimSpace(line) == anchor {
			start := i + 1
			return start, start + len(sourceLines) - 1, true
		}
	}
	return 0, 0, false
}
