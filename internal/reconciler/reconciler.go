// Package reconciler implements the Label Reconciler: it diffs intended
// label membership against a catalog snapshot and applies the minimal set
// of owned-label mutations (spec §4.6).
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tikibozo/kometa-ai/internal/catalog"
	"github.com/tikibozo/kometa-ai/internal/rubric"
	"github.com/tikibozo/kometa-ai/internal/state"
)

// ErrNotOwned is returned if a caller attempts to mutate a label outside
// the owned namespace (spec §7's "assertion" error class).
var ErrNotOwned = fmt.Errorf("reconciler: refusing to mutate a label outside the %s namespace", rubric.Prefix)

// Action is one computed per-movie mutation.
type Action struct {
	Movie    catalog.Movie
	Label    string
	Add      bool // true: add; false: remove
}

// Decision is the minimal input the reconciler needs about one movie's
// classification for a rubric.
type Decision struct {
	Include    bool
	Confidence float64
}

// Plan computes, for each movie, whether expected_label should be present
// (spec §4.6's `intended`) and diffs it against the movie's current labels.
func Plan(r rubric.Rubric, movies []catalog.Movie, decisions map[int]Decision) []Action {
	var actions []Action
	for _, m := range movies {
		d, ok := decisions[m.ID]
		if !ok {
			continue
		}
		excluded := len(r.ExcludeLabels) > 0 && m.HasAnyLabel(r.ExcludeLabels)
		intended := d.Include &&
			d.Confidence >= r.ConfidenceThreshold &&
			!excluded &&
			m.HasAnyLabel(r.IncludeLabels)
		current := m.HasLabel(r.ExpectedLabel)

		switch {
		case intended && !current:
			actions = append(actions, Action{Movie: m, Label: r.ExpectedLabel, Add: true})
		case current && !intended:
			actions = append(actions, Action{Movie: m, Label: r.ExpectedLabel, Add: false})
		}
	}
	return actions
}

// Apply executes actions against client, appending change-log entries to
// store. In dry-run mode no catalog write occurs but the intended actions
// are still logged. Only labels beginning with rubric.Prefix may ever be
// mutated; anything else is a programming error and returns ErrNotOwned.
func Apply(ctx context.Context, client catalog.Client, store *state.Store, cache *catalog.LabelCache, actions []Action, dryRun bool, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	for _, a := range actions {
		if !strings.HasPrefix(a.Label, rubric.Prefix) {
			return ErrNotOwned
		}

		entryAction := state.ActionRemoved
		if a.Add {
			entryAction = state.ActionAdded
		}

		if !dryRun {
			labelID, err := cache.ResolveID(ctx, a.Label)
			if err != nil {
				return fmt.Errorf("reconciler: resolve label %q: %w", a.Label, err)
			}

			current := movieLabelIDs(a.Movie, cache)
			var next []int
			if a.Add {
				next = appendUnique(current, labelID)
			} else {
				next = removeID(current, labelID)
			}

			if err := client.UpdateMovieLabels(ctx, a.Movie.ID, next); err != nil {
				return fmt.Errorf("reconciler: update movie %d labels: %w", a.Movie.ID, err)
			}
		}

		store.LogChange(state.ChangeLogEntry{
			Timestamp: time.Now().UTC(),
			MovieID:   a.Movie.ID,
			Title:     a.Movie.Title,
			Category:  strings.TrimPrefix(a.Label, rubric.Prefix),
			Action:    entryAction,
			Label:     a.Label,
		})

		if dryRun {
			logger.Info("dry-run: would change label", "movie_id", a.Movie.ID, "label", a.Label, "action", entryAction)
		}
	}

	return nil
}

func movieLabelIDs(m catalog.Movie, cache *catalog.LabelCache) []int {
	ids := make([]int, 0, len(m.Labels))
	for _, name := range m.Labels {
		if id, ok := cache.Cached(name); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func appendUnique(ids []int, id int) []int {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func removeID(ids []int, id int) []int {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
