// Package orchestrator implements the Run Orchestrator: the single
// sequential pipeline that loads state, extracts rubrics, snapshots the
// catalog, plans and executes batches per rubric, reconciles labels, and
// checkpoints the decision store (spec §4.7).
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tikibozo/kometa-ai/internal/catalog"
	"github.com/tikibozo/kometa-ai/internal/oracle"
	"github.com/tikibozo/kometa-ai/internal/planner"
	"github.com/tikibozo/kometa-ai/internal/reconciler"
	"github.com/tikibozo/kometa-ai/internal/rubric"
	"github.com/tikibozo/kometa-ai/internal/state"
)

// Options controls one invocation of Run (spec §4.7).
type Options struct {
	Collection   string // restrict to one rubric by name; empty means all
	ForceRefresh bool
	DryRun       bool
	BatchSize    int // 0 means use the planner default / configured default
}

// CategorySummary is the per-rubric slice of a RunSummary.
type CategorySummary struct {
	Category string
	Reused   int
	Asked    int
	Added    int
	Removed  int
	Usage    oracle.Usage
	Errors   []string
}

// RunSummary is the Orchestrator's return value: the Reporter's sole input.
type RunSummary struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Categories []CategorySummary
	TotalUsage oracle.Usage
	Errors     []string

	// PhaseDurations breaks down the run's wall-clock time by phase
	// (extraction, catalog snapshot, processing), supplementing the
	// original implementation's per-run timing breakdown.
	PhaseDurations map[string]time.Duration
}

// Orchestrator wires together the components one run needs. It holds no
// mutable state of its own beyond its collaborators (spec §9).
type Orchestrator struct {
	Store         *state.Store
	CatalogClient catalog.Client
	LabelCache    *catalog.LabelCache
	Oracle        *oracle.Client
	RubricDir     string
	FixLabels     bool
	DefaultBatchSize int
	Logger        *slog.Logger
}

// Run executes one full pipeline pass and returns its summary (spec §4.7).
// Per-rubric failures are recorded and do not abort the run; a failure to
// snapshot the catalog or extract rubrics is run-level and returned as an
// error.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (RunSummary, error) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runID := uuid.New().String()
	logger = logger.With("component", "orchestrator", "run_id", runID)

	summary := RunSummary{StartedAt: time.Now().UTC(), PhaseDurations: make(map[string]time.Duration)}

	if err := o.Store.Load(); err != nil {
		return summary, fmt.Errorf("load decision store: %w", err)
	}
	o.Store.ClearChanges()
	o.Store.ClearErrors()

	extractionStart := time.Now()
	extractor := &rubric.Extractor{FixLabels: o.FixLabels}
	rubrics, diags, err := extractor.ExtractDir(o.RubricDir)
	if err != nil {
		return summary, fmt.Errorf("extract rubrics: %w", err)
	}
	summary.PhaseDurations["rubric_extraction"] = time.Since(extractionStart)
	for _, d := range diags {
		logger.Warn("rubric diagnostic", "file", d.File, "message", d.Message)
	}

	rubrics = planner.SortRubrics(filterEnabled(rubrics))
	if opts.Collection != "" {
		rubrics = filterByName(rubrics, opts.Collection)
	}

	if err := o.LabelCache.Warm(ctx); err != nil {
		logger.Error("label cache warm failed, continuing with cold cache", "error", err)
	}

	snapshotStart := time.Now()
	movies, err := o.CatalogClient.ListMovies(ctx)
	if err != nil {
		return summary, fmt.Errorf("snapshot catalog: %w", err)
	}
	summary.PhaseDurations["catalog_snapshot"] = time.Since(snapshotStart)

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = o.DefaultBatchSize
	}

	processingStart := time.Now()
	for _, r := range rubrics {
		catSummary, err := o.runRubric(ctx, r, movies, opts, batchSize, logger)
		if err != nil {
			logger.Error("rubric-level failure, continuing to next rubric", "category", r.Name, "error", err)
			o.Store.LogError(state.ErrorLogEntry{Timestamp: time.Now().UTC(), Context: "rubric:" + r.Name, Message: err.Error()})
			continue
		}
		summary.Categories = append(summary.Categories, catSummary)
		summary.TotalUsage.Add(catSummary.Usage)
	}
	summary.PhaseDurations["processing"] = time.Since(processingStart)

	if err := o.Store.Save(); err != nil {
		return summary, fmt.Errorf("final save: %w", err)
	}

	summary.FinishedAt = time.Now().UTC()
	summary.Errors = append(summary.Errors, errorStrings(o.Store.GetErrors())...)
	return summary, nil
}

func (o *Orchestrator) runRubric(ctx context.Context, r rubric.Rubric, movies []catalog.Movie, opts Options, batchSize int, logger *slog.Logger) (CategorySummary, error) {
	cs := CategorySummary{Category: r.Name}

	plan := planner.Build(r, movies, o.Store, batchSize, opts.ForceRefresh)
	cs.Reused = len(plan.Reuse)

	decisions := make(map[int]reconciler.Decision, len(movies))
	for _, reused := range plan.Reuse {
		decisions[reused.Movie.ID] = reconciler.Decision{Include: reused.Decision.Include, Confidence: reused.Decision.Confidence}
	}

	for _, batch := range plan.Batches {
		cs.Asked += len(batch)

		inputs := make([]oracle.MovieInput, 0, len(batch))
		byID := make(map[int]catalog.Movie, len(batch))
		for _, m := range batch {
			inputs = append(inputs, toMovieInput(m))
			byID[m.ID] = m
		}

		resp, usage, err := o.Oracle.ClassifyBatch(ctx, r, inputs)
		cs.Usage.Add(usage)
		if err != nil {
			cs.Errors = append(cs.Errors, err.Error())
			logger.Error("batch classification failed, skipping batch", "category", r.Name, "error", err)
			o.Store.LogError(state.ErrorLogEntry{Timestamp: time.Now().UTC(), Context: "batch:" + r.Name, Message: err.Error()})
			continue
		}

		for _, d := range resp.Decisions {
			m := byID[d.MovieID]
			if r.UseRefinement && planner.NeedsRefinement(r, d.Confidence) {
				refined, detailedAnalysis, refineUsage, err := o.Oracle.ClassifyOne(ctx, r, toMovieInput(m))
				cs.Usage.Add(refineUsage)
				if err != nil {
					logger.Error("refinement call failed, keeping initial decision", "movie_id", m.ID, "category", r.Name, "error", err)
				} else {
					d.Include = refined.Include
					d.Confidence = refined.Confidence
					d.Reasoning = refined.Reasoning
					d.DetailedAnalysis = detailedAnalysis
				}
			}

			decisions[m.ID] = reconciler.Decision{Include: d.Include, Confidence: d.Confidence}
			o.Store.SetDecision(state.DecisionRecord{
				MovieID:          m.ID,
				CategoryName:     r.Name,
				Include:          d.Include,
				Confidence:       d.Confidence,
				Fingerprint:      m.Fingerprint(),
				Label:            r.ExpectedLabel,
				Timestamp:        time.Now().UTC(),
				Reasoning:        d.Reasoning,
				DetailedAnalysis: d.DetailedAnalysis,
			})
		}

		if err := o.Store.Save(); err != nil {
			return cs, fmt.Errorf("checkpoint save: %w", err)
		}
	}

	actions := reconciler.Plan(r, movies, decisions)
	if err := reconciler.Apply(ctx, o.CatalogClient, o.Store, o.LabelCache, actions, opts.DryRun, logger); err != nil {
		return cs, fmt.Errorf("reconcile labels: %w", err)
	}
	for _, a := range actions {
		if a.Add {
			cs.Added++
		} else {
			cs.Removed++
		}
	}

	return cs, nil
}

func toMovieInput(m catalog.Movie) oracle.MovieInput {
	return oracle.MovieInput{
		ID:              m.ID,
		Title:           m.Title,
		Year:            m.Year,
		Genres:          m.Genres,
		Overview:        m.Overview,
		Studio:          m.Studio,
		AlternateTitles: m.AlternateTitles,
	}
}

func filterEnabled(rubrics []rubric.Rubric) []rubric.Rubric {
	out := make([]rubric.Rubric, 0, len(rubrics))
	for _, r := range rubrics {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

func filterByName(rubrics []rubric.Rubric, name string) []rubric.Rubric {
	out := make([]rubric.Rubric, 0, 1)
	for _, r := range rubrics {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out
}

func errorStrings(entries []state.ErrorLogEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, fmt.Sprintf("%s: %s", e.Context, e.Message))
	}
	return out
}
