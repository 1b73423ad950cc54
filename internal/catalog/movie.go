// Package catalog defines the movie catalog's domain model and the typed
// client contract used to read and mutate it. The core depends only on the
// semantics described here; the actual HTTP transport to the catalog service
// is an out-of-scope collaborator (spec §6).
package catalog

import "github.com/tikibozo/kometa-ai/internal/fingerprint"

// Movie is a read-only snapshot of a single catalog entry, carrying the
// attributes the core uses for classification and label reconciliation.
type Movie struct {
	ID             int
	Title          string
	Year           int
	Overview       string
	Genres         []string
	Directors      []string
	Actors         []string
	Studio         string
	AlternateTitles []string
	Labels         []string
}

// Fingerprint derives this movie's classification fingerprint.
func (m Movie) Fingerprint() string {
	return fingerprint.Compute(fingerprint.Input{
		Title:     m.Title,
		Year:      m.Year,
		Overview:  m.Overview,
		Genres:    m.Genres,
		Directors: m.Directors,
		Actors:    m.Actors,
	})
}

// HasLabel reports whether the movie currently carries the named label.
func (m Movie) HasLabel(name string) bool {
	for _, l := range m.Labels {
		if l == name {
			return true
		}
	}
	return false
}

// HasAnyLabel reports whether the movie carries any label in names. An empty
// names set is vacuously satisfied (callers use this to implement "no
// constraint" semantics for include_labels).
func (m Movie) HasAnyLabel(names []string) bool {
	if len(names) == 0 {
		return true
	}
	for _, n := range names {
		if m.HasLabel(n) {
			return true
		}
	}
	return false
}
