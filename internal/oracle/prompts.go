package oracle

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tikibozo/kometa-ai/internal/rubric"
)

const responseContract = `Respond with a single JSON object and nothing else: no prose before or
after it, no markdown fences unless the object itself is fenced. The object
must have the shape:

{
  "decisions": [
    {"movie_id": 123, "title": "...", "include": true, "confidence": 0.93, "reasoning": "..."}
  ]
}

"confidence" is your certainty in the inclusion/exclusion call, from 0 to 1.
Include one entry per movie you were given, in any order. Omit a movie only
if you genuinely cannot judge it from the information given.`

func buildSystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a film cataloguing assistant. You decide whether movies belong ")
	b.WriteString("in a named collection based on a category description written by the ")
	b.WriteString("catalog's maintainer. Judge each movie independently against the ")
	b.WriteString("description; do not invent facts about a movie you were not given.\n\n")
	b.WriteString(responseContract)
	return b.String()
}

const refinementResponseContract = `Respond with a single JSON object and nothing else: no prose before or
after it, no markdown fences unless the object itself is fenced. The object
must have the shape:

{
  "decisions": [
    {"movie_id": 123, "title": "...", "include": true, "confidence": 0.93,
     "reasoning": "...", "detailed_analysis": "..."}
  ]
}

"reasoning" is a short summary of the call, matching the batch reply shape.
"detailed_analysis" is your full second-look writeup: the specific evidence
you weighed and why it tips the call one way or the other. Include exactly
one entry, for the single movie given.`

func buildRefinementSystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a film cataloguing assistant performing a focused second look at ")
	b.WriteString("a single movie whose initial classification landed close to the decision ")
	b.WriteString("boundary. Reason carefully and explain the specific evidence that tips the ")
	b.WriteString("call one way or the other.\n\n")
	b.WriteString(refinementResponseContract)
	return b.String()
}

func buildBatchUserPrompt(r rubric.Rubric, movies []MovieInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Category: %s\n\n", r.Name)
	b.WriteString("Category description:\n")
	b.WriteString(r.Prompt)
	b.WriteString("\n\n")

	if len(r.ExampleIncludes) > 0 {
		fmt.Fprintf(&b, "Examples that belong in this category: %s\n", strings.Join(r.ExampleIncludes, ", "))
	}
	if len(r.ExampleExcludes) > 0 {
		fmt.Fprintf(&b, "Examples that do NOT belong in this category: %s\n", strings.Join(r.ExampleExcludes, ", "))
	}
	b.WriteString("\nMovies to classify:\n\n")
	for _, m := range movies {
		writeMovie(&b, m)
	}
	return b.String()
}

func buildRefinementUserPrompt(r rubric.Rubric, movie MovieInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Category: %s\n\n", r.Name)
	b.WriteString("Category description:\n")
	b.WriteString(r.Prompt)
	b.WriteString("\n\nThe following movie's initial confidence landed near the decision ")
	b.WriteString("boundary. Take a closer look and give your best judgment.\n\n")
	writeMovie(&b, movie)
	return b.String()
}

func writeMovie(b *strings.Builder, m MovieInput) {
	fmt.Fprintf(b, "- movie_id: %d\n", m.ID)
	fmt.Fprintf(b, "  title: %s (%s)\n", m.Title, yearOrUnknown(m.Year))
	if len(m.Genres) > 0 {
		fmt.Fprintf(b, "  genres: %s\n", strings.Join(m.Genres, ", "))
	}
	if m.Studio != "" {
		fmt.Fprintf(b, "  studio: %s\n", m.Studio)
	}
	if len(m.AlternateTitles) > 0 {
		fmt.Fprintf(b, "  alternate_titles: %s\n", strings.Join(m.AlternateTitles, ", "))
	}
	if m.Overview != "" {
		fmt.Fprintf(b, "  overview: %s\n", m.Overview)
	}
	b.WriteString("\n")
}

func yearOrUnknown(year int) string {
	if year == 0 {
		return "unknown year"
	}
	return strconv.Itoa(year)
}
