// Package planner implements the Batch Planner: it partitions a rubric's
// candidate movies into reuse and reask sets and groups the reask set into
// size-bounded, deterministically ordered batches (spec §4.4).
package planner

import (
	"sort"

	"github.com/tikibozo/kometa-ai/internal/catalog"
	"github.com/tikibozo/kometa-ai/internal/rubric"
	"github.com/tikibozo/kometa-ai/internal/state"
)

// DefaultBatchSize is used when no override is configured (spec §4.4).
const DefaultBatchSize = 150

// Reused is one movie served directly from the decision store without an
// oracle call.
type Reused struct {
	Movie    catalog.Movie
	Decision state.DecisionRecord
}

// Plan is the partition of one rubric's candidate movies.
type Plan struct {
	Rubric  rubric.Rubric
	Reuse   []Reused
	Batches [][]catalog.Movie
}

// Store is the subset of the decision store the planner reads from.
type Store interface {
	GetDecision(movieID int, category string) (state.DecisionRecord, bool)
	GetFingerprint(movieID int) (string, bool)
}

// Build partitions movies for r into reuse and reask batches of batchSize
// (DefaultBatchSize if batchSize <= 0). forceRefresh reasks every movie
// regardless of cache state (spec's --force-refresh).
func Build(r rubric.Rubric, movies []catalog.Movie, store Store, batchSize int, forceRefresh bool) Plan {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	ordered := make([]catalog.Movie, len(movies))
	copy(ordered, movies)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	plan := Plan{Rubric: r}
	var reask []catalog.Movie

	for _, m := range ordered {
		if !forceRefresh {
			if reused, ok := tryReuse(r, m, store); ok {
				plan.Reuse = append(plan.Reuse, reused)
				continue
			}
		}
		reask = append(reask, m)
	}

	for i := 0; i < len(reask); i += batchSize {
		end := i + batchSize
		if end > len(reask) {
			end = len(reask)
		}
		plan.Batches = append(plan.Batches, reask[i:end])
	}

	return plan
}

// tryReuse reports whether m can be served from the cache for r: a prior
// decision exists at the movie's current fingerprint, and (when refinement
// is enabled) its confidence is not within the refinement band.
func tryReuse(r rubric.Rubric, m catalog.Movie, store Store) (Reused, bool) {
	decision, ok := store.GetDecision(m.ID, r.Name)
	if !ok {
		return Reused{}, false
	}
	if decision.Fingerprint != m.Fingerprint() {
		return Reused{}, false
	}
	if r.NearThreshold(decision.Confidence) {
		return Reused{}, false
	}
	return Reused{Movie: m, Decision: decision}, true
}

// NeedsRefinement reports whether a freshly produced decision's confidence
// falls within r's refinement band and refinement is enabled.
func NeedsRefinement(r rubric.Rubric, confidence float64) bool {
	return r.NearThreshold(confidence)
}

// SortRubrics orders rubrics by descending priority, then by name, per
// spec §4.4's determinism requirement.
func SortRubrics(rubrics []rubric.Rubric) []rubric.Rubric {
	out := make([]rubric.Rubric, len(rubrics))
	copy(out, rubrics)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}
