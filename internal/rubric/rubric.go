// Package rubric models category rubrics and extracts them from annotated
// comment blocks embedded in host configuration files (spec §4.1).
package rubric

import "fmt"

// Prefix is the literal namespace every label this system owns begins with.
const Prefix = "KAI-"

// DefaultConfidenceThreshold is used when a block omits confidence_threshold.
const DefaultConfidenceThreshold = 0.7

// Rubric is a single category definition: a natural-language prompt plus the
// numeric thresholds that gate inclusion (spec §3).
type Rubric struct {
	Name                string
	Enabled             bool
	Prompt              string
	ConfidenceThreshold float64
	Priority            int
	IncludeLabels       []string
	ExcludeLabels       []string
	UseRefinement       bool
	RefinementBand      float64
	ExampleIncludes     []string
	ExampleExcludes     []string

	// ExpectedLabel is PREFIX + slug(Name), computed once at extraction time.
	ExpectedLabel string

	// SourceFile is the path the rubric was extracted from, for diagnostics.
	SourceFile string
}

// Validate checks the invariants spec §3 requires of an enabled rubric.
func (r Rubric) Validate() error {
	if r.Enabled && r.Prompt == "" {
		return fmt.Errorf("rubric %q: enabled rubric must have a non-empty prompt", r.Name)
	}
	if r.ConfidenceThreshold < 0 || r.ConfidenceThreshold > 1 {
		return fmt.Errorf("rubric %q: confidence_threshold must be in [0,1], got %v", r.Name, r.ConfidenceThreshold)
	}
	if r.RefinementBand < 0 {
		return fmt.Errorf("rubric %q: refinement_threshold must be >= 0, got %v", r.Name, r.RefinementBand)
	}
	return nil
}

// NearThreshold reports whether confidence lies within the refinement band
// of this rubric's confidence threshold.
func (r Rubric) NearThreshold(confidence float64) bool {
	if !r.UseRefinement {
		return false
	}
	diff := confidence - r.ConfidenceThreshold
	if diff < 0 {
		diff = -diff
	}
	return diff < r.RefinementBand
}
