package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tikibozo/kometa-ai/internal/catalog"
	"github.com/tikibozo/kometa-ai/internal/oracle"
	"github.com/tikibozo/kometa-ai/internal/planner"
	"github.com/tikibozo/kometa-ai/internal/rubric"
	"github.com/tikibozo/kometa-ai/internal/state"
)

// candidateBatchSizes mirrors the original implementation's batch size
// optimization sweep.
var candidateBatchSizes = []int{50, 100, 150, 200, 250, 300}

// emptyStore always misses, forcing every candidate batch size to reask
// every movie so the sweep measures a clean run rather than reuse.
type emptyStore struct{}

func (emptyStore) GetDecision(int, string) (state.DecisionRecord, bool) { return state.DecisionRecord{}, false }
func (emptyStore) GetFingerprint(int) (string, bool)                    { return "", false }

// OptimizeBatchSize sweeps candidateBatchSizes against the first enabled
// rubric using real oracle calls, printing per-size duration and cost so an
// operator can pick a batch size (spec §6's --optimize-batch-size).
func (a *app) OptimizeBatchSize(w io.Writer) error {
	extractor := &rubric.Extractor{FixLabels: false}
	rubrics, _, err := extractor.ExtractDir(a.rubricDir)
	if err != nil {
		return fmt.Errorf("extract rubrics: %w", err)
	}
	rubrics = planner.SortRubrics(filterEnabledRubrics(rubrics))
	if len(rubrics) == 0 {
		return fmt.Errorf("no enabled rubrics found in %s", a.rubricDir)
	}
	target := rubrics[0]

	movies, err := a.catalogClient.ListMovies(context.Background())
	if err != nil {
		return fmt.Errorf("snapshot catalog: %w", err)
	}

	fmt.Fprintf(w, "collection: %s\n", target.Name)
	fmt.Fprintf(w, "movie_count: %d\n\n", len(movies))
	fmt.Fprintf(w, "%-10s %-12s %-10s %-10s\n", "batch_size", "duration", "requests", "cost")

	type result struct {
		batchSize int
		duration  time.Duration
		requests  int
		cost      float64
	}
	var results []result

	for _, size := range candidateBatchSizes {
		plan := planner.Build(target, movies, emptyStore{}, size, true)

		start := time.Now()
		var requests int
		var cost float64
		for _, batch := range plan.Batches {
			inputs := toOracleInputs(batch)
			_, usage, err := a.orch.Oracle.ClassifyBatch(context.Background(), target, inputs)
			requests += usage.RequestCount
			cost += usage.EstimatedCost
			if err != nil {
				a.logger.Warn("batch size sweep: classification failed, continuing", "batch_size", size, "error", err)
			}
		}
		duration := time.Since(start)

		fmt.Fprintf(w, "%-10d %-12s %-10d $%-9.4f\n", size, duration.Round(time.Millisecond), requests, cost)
		results = append(results, result{batchSize: size, duration: duration, requests: requests, cost: cost})
	}

	best := results[0]
	for _, r := range results[1:] {
		if r.duration < best.duration {
			best = r
		}
	}
	fmt.Fprintf(w, "\nrecommendation: batch_size=%d (lowest measured duration: %s)\n", best.batchSize, best.duration.Round(time.Millisecond))
	return nil
}

func toOracleInputs(movies []catalog.Movie) []oracle.MovieInput {
	out := make([]oracle.MovieInput, 0, len(movies))
	for _, m := range movies {
		out = append(out, oracle.MovieInput{
			ID:              m.ID,
			Title:           m.Title,
			Year:            m.Year,
			Genres:          m.Genres,
			Overview:        m.Overview,
			Studio:          m.Studio,
			AlternateTitles: m.AlternateTitles,
		})
	}
	return out
}

func filterEnabledRubrics(rubrics []rubric.Rubric) []rubric.Rubric {
	out := make([]rubric.Rubric, 0, len(rubrics))
	for _, r := range rubrics {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}
