// Package health implements the Health Probe: a single invocation that
// checks catalog connectivity, oracle reachability, and rubric
// directory readability, exiting 0 iff all checks pass (spec §4.10).
package health

import (
	"context"
	"fmt"

	"github.com/tikibozo/kometa-ai/internal/catalog"
	"github.com/tikibozo/kometa-ai/internal/oracle"
	"github.com/tikibozo/kometa-ai/internal/rubric"
)

// Check is one named probe result.
type Check struct {
	Name string
	OK   bool
	Err  error
}

// Report is the full set of probe results for one invocation.
type Report struct {
	Checks []Check
}

// Healthy reports whether every check in the report passed.
func (r Report) Healthy() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return true
}

// Run executes every probe against the given collaborators and rubric
// directory, returning a Report. It never returns an error itself: each
// failure is captured as a failed Check so the caller can report all of
// them, not just the first.
func Run(ctx context.Context, catalogClient catalog.Client, completer oracle.Completer, rubricDir string) Report {
	var report Report

	report.Checks = append(report.Checks, checkCatalog(ctx, catalogClient))
	report.Checks = append(report.Checks, checkOracle(ctx, completer))
	report.Checks = append(report.Checks, checkRubrics(rubricDir))

	return report
}

func checkCatalog(ctx context.Context, client catalog.Client) Check {
	if _, err := client.ListMovies(ctx); err != nil {
		return Check{Name: "catalog", Err: fmt.Errorf("catalog unreachable: %w", err)}
	}
	return Check{Name: "catalog", OK: true}
}

func checkOracle(ctx context.Context, completer oracle.Completer) Check {
	_, _, _, err := completer.Complete(ctx, "health check", "reply with OK", "", 0, 8, 0)
	if err != nil {
		return Check{Name: "oracle", Err: fmt.Errorf("oracle unreachable: %w", err)}
	}
	return Check{Name: "oracle", OK: true}
}

func checkRubrics(dir string) Check {
	extractor := &rubric.Extractor{}
	// Diagnostics alone do not fail the probe (spec: "at least zero
	// rubrics parse without diagnostics" is satisfied vacuously); only an
	// unreadable directory fails this check.
	if _, _, err := extractor.ExtractDir(dir); err != nil {
		return Check{Name: "rubrics", Err: fmt.Errorf("rubric directory unreadable: %w", err)}
	}
	return Check{Name: "rubrics", OK: true}
}
