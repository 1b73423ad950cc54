package rubric

import (
	"regexp"
	"strings"
)

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases name, replaces runs of non-alphanumeric characters with a
// single hyphen, and trims leading/trailing hyphens. Slug is idempotent:
// Slug(Slug(x)) == Slug(x).
func Slug(name string) string {
	s := strings.ToLower(name)
	s = nonAlphanumeric.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	return s
}

// ExpectedLabel returns the PREFIX + slug(name) label this system would own
// for the named category.
func ExpectedLabel(name string) string {
	return Prefix + Slug(name)
}
