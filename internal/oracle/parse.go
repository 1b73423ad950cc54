package oracle

import (
	"encoding/json"
	"fmt"

	"github.com/tikibozo/kometa-ai/pkg/formatting"
)

// wireDecision mirrors the JSON shape the oracle is instructed to reply
// with (see responseContract in prompts.go).
type wireDecision struct {
	MovieID          int     `json:"movie_id"`
	Title            string  `json:"title"`
	Include          bool    `json:"include"`
	Confidence       float64 `json:"confidence"`
	Reasoning        string  `json:"reasoning"`
	DetailedAnalysis string  `json:"detailed_analysis"`
}

type wireResponse struct {
	Decisions []wireDecision `json:"decisions"`
}

// parseResponse salvages a Response out of raw model output in three
// escalating steps (spec §4.5): a strict JSON parse, a markdown code-fence
// extraction, and finally a scan for the first balanced top-level JSON
// object anywhere in the text.
func parseResponse(content, categoryName string) (Response, error) {
	wire, err := formatting.Parse[wireResponse](content)
	if err != nil {
		wire, err = salvageBalancedObject(content)
		if err != nil {
			return Response{}, fmt.Errorf("no salvageable JSON object in reply: %w", err)
		}
	}

	decisions := make([]Decision, 0, len(wire.Decisions))
	for _, d := range wire.Decisions {
		decisions = append(decisions, Decision{
			MovieID:          d.MovieID,
			Title:            d.Title,
			Include:          d.Include,
			Confidence:       d.Confidence,
			Reasoning:        d.Reasoning,
			DetailedAnalysis: d.DetailedAnalysis,
		})
	}

	return Response{CategoryName: categoryName, Decisions: decisions}, nil
}

// salvageBalancedObject scans content for the first brace-balanced `{...}`
// substring that unmarshals into wireResponse, skipping over braces that
// appear inside quoted strings. This is the last-resort step for replies
// that embed the object in free-form prose the code-fence regex missed.
func salvageBalancedObject(content string) (wireResponse, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, r := range content {
		if start == -1 {
			if r == '{' {
				start = i
				depth = 1
			}
			continue
		}

		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					candidate := content[start : i+1]
					var wire wireResponse
					if err := json.Unmarshal([]byte(candidate), &wire); err == nil {
						return wire, nil
					}
					// Not the object we wanted; keep scanning past it.
					start = -1
				}
			}
		}
	}

	return wireResponse{}, fmt.Errorf("%w: no balanced JSON object found", formatting.ErrParseFailed)
}
