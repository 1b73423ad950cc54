// Package fingerprint derives a deterministic content hash of a movie's
// classification-relevant fields, used by the decision store to detect
// whether a movie needs to be re-submitted to the oracle.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
)

// Input carries the fields that participate in a fingerprint. Callers
// populate this from a catalog Movie snapshot.
type Input struct {
	Title     string   `json:"title"`
	Year      int      `json:"year"`
	Overview  string   `json:"overview"`
	Genres    []string `json:"genres"`
	Directors []string `json:"directors"`
	Actors    []string `json:"actors"`
}

// maxActors bounds the actor list to the first 5 (by billing order) before
// sorting, per spec: sorted(actors[:5]).
const maxActors = 5

// Compute returns a deterministic hex-encoded SHA-256 digest of in. Title,
// year, and overview are taken verbatim; genres, directors, and the top-5
// actors are sorted before hashing so that reordering upstream does not
// change the fingerprint.
func Compute(in Input) string {
	actors := in.Actors
	if len(actors) > maxActors {
		actors = actors[:maxActors]
	}

	canon := struct {
		Title     string   `json:"title"`
		Year      int      `json:"year"`
		Overview  string   `json:"overview"`
		Genres    []string `json:"genres"`
		Directors []string `json:"directors"`
		Actors    []string `json:"actors"`
	}{
		Title:     in.Title,
		Year:      in.Year,
		Overview:  in.Overview,
		Genres:    sortedCopy(in.Genres),
		Directors: sortedCopy(in.Directors),
		Actors:    sortedCopy(actors),
	}

	// json.Marshal on a struct with fixed field order already produces a
	// stable key order; encoding/json never inserts insignificant
	// whitespace for Marshal (only MarshalIndent does).
	encoded, err := json.Marshal(canon)
	if err != nil {
		// canon contains only strings, ints, and slices thereof: Marshal
		// cannot fail for this shape.
		panic(err)
	}

	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	slices.Sort(out)
	return out
}

// Equal reports whether two fingerprints refer to classification-equivalent
// movies.
func Equal(a, b string) bool {
	return a != "" && a == b
}
