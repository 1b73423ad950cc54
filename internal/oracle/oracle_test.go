package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tikibozo/kometa-ai/internal/rubric"
)

type fakeCompleter struct {
	calls     int
	responses []fakeResponse
}

type fakeResponse struct {
	content string
	in, out int
	err     error
}

func (f *fakeCompleter) Complete(ctx context.Context, system, user, model string, temperature float64, maxTokens int, timeout time.Duration) (string, int, int, error) {
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	r := f.responses[i]
	return r.content, r.in, r.out, r.err
}

func testRubric() rubric.Rubric {
	return rubric.Rubric{Name: "Film Noir", Prompt: "Dark, cynical crime dramas.", ConfidenceThreshold: 0.7}
}

func TestClassifyBatchHappyPath(t *testing.T) {
	fc := &fakeCompleter{responses: []fakeResponse{
		{content: `{"decisions":[{"movie_id":1,"title":"Chinatown","include":true,"confidence":0.95,"reasoning":"classic noir"}]}`, in: 100, out: 20},
	}}
	c := New(fc, Pricing{InputPerMillion: 3, OutputPerMillion: 15}, Params{Model: "test-model", MaxTokens: 1000, Timeout: time.Second}, nil)

	resp, usage, err := c.ClassifyBatch(context.Background(), testRubric(), []MovieInput{{ID: 1, Title: "Chinatown", Year: 1974}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Decisions) != 1 || !resp.Decisions[0].Include {
		t.Fatalf("unexpected decisions: %+v", resp.Decisions)
	}
	if usage.RequestCount != 1 || usage.InputTokens != 100 || usage.OutputTokens != 20 {
		t.Errorf("unexpected usage: %+v", usage)
	}
	if usage.EstimatedCost <= 0 {
		t.Errorf("expected positive cost, got %v", usage.EstimatedCost)
	}
}

func TestClassifyBatchDropsUnknownMovieID(t *testing.T) {
	fc := &fakeCompleter{responses: []fakeResponse{
		{content: `{"decisions":[{"movie_id":1,"include":true,"confidence":0.9},{"movie_id":999,"include":false,"confidence":0.5}]}`, in: 10, out: 10},
	}}
	c := New(fc, Pricing{}, Params{Model: "m", MaxTokens: 100, Timeout: time.Second}, nil)

	resp, _, err := c.ClassifyBatch(context.Background(), testRubric(), []MovieInput{{ID: 1, Title: "Chinatown"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Decisions) != 1 || resp.Decisions[0].MovieID != 1 {
		t.Fatalf("expected unknown id dropped, got %+v", resp.Decisions)
	}
}

func TestClassifyBatchRetriesTransientThenSucceeds(t *testing.T) {
	fc := &fakeCompleter{responses: []fakeResponse{
		{err: Transient(errors.New("connection reset"))},
		{err: Transient(errors.New("connection reset"))},
		{content: `{"decisions":[{"movie_id":1,"include":true,"confidence":0.8}]}`, in: 5, out: 5},
	}}
	c := New(fc, Pricing{}, Params{Model: "m", MaxTokens: 100, Timeout: time.Second}, nil)

	resp, usage, err := c.ClassifyBatch(context.Background(), testRubric(), []MovieInput{{ID: 1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fc.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", fc.calls)
	}
	if usage.RequestCount != 3 {
		t.Errorf("expected usage to record all attempts, got %d", usage.RequestCount)
	}
	if len(resp.Decisions) != 1 {
		t.Fatalf("unexpected decisions: %+v", resp.Decisions)
	}
}

func TestClassifyBatchFatalErrorDoesNotRetry(t *testing.T) {
	fc := &fakeCompleter{responses: []fakeResponse{
		{err: errors.New("invalid api key")},
	}}
	c := New(fc, Pricing{}, Params{Model: "m", MaxTokens: 100, Timeout: time.Second}, nil)

	_, _, err := c.ClassifyBatch(context.Background(), testRubric(), []MovieInput{{ID: 1}})
	if err == nil {
		t.Fatal("expected error")
	}
	if fc.calls != 1 {
		t.Errorf("expected exactly 1 attempt for a fatal error, got %d", fc.calls)
	}
}

func TestClassifyOneReturnsDistinctReasoningAndDetailedAnalysis(t *testing.T) {
	fc := &fakeCompleter{responses: []fakeResponse{
		{content: `{"decisions":[{"movie_id":1,"include":false,"confidence":0.6,"reasoning":"too comedic for noir","detailed_analysis":"the lighting and tone lean screwball, not noir; no femme fatale, no moral ambiguity"}]}`, in: 1, out: 1},
	}}
	c := New(fc, Pricing{}, Params{Model: "m", MaxTokens: 100, Timeout: time.Second}, nil)

	d, detailedAnalysis, _, err := c.ClassifyOne(context.Background(), testRubric(), MovieInput{ID: 1, Title: "A Comedy"})
	if err != nil {
		t.Fatal(err)
	}
	if d.Include {
		t.Errorf("expected Include=false")
	}
	if d.Reasoning != "too comedic for noir" {
		t.Errorf("unexpected reasoning: %q", d.Reasoning)
	}
	if detailedAnalysis != "the lighting and tone lean screwball, not noir; no femme fatale, no moral ambiguity" {
		t.Errorf("unexpected detailed analysis: %q", detailedAnalysis)
	}
	if detailedAnalysis == d.Reasoning {
		t.Errorf("expected detailed_analysis to be a distinct field from reasoning")
	}
}

func TestParseResponseCodeFenceFallback(t *testing.T) {
	content := "Here is my analysis:\n```json\n{\"decisions\":[{\"movie_id\":1,\"include\":true,\"confidence\":0.9}]}\n```\nLet me know if you need more."
	resp, err := parseResponse(content, "Film Noir")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Decisions) != 1 {
		t.Fatalf("unexpected decisions: %+v", resp.Decisions)
	}
}

func TestParseResponseBalancedBraceFallback(t *testing.T) {
	content := `I looked at this carefully. My conclusion: {"decisions": [{"movie_id": 1, "include": true, "confidence": 0.85, "reasoning": "fits the {nested} theme well"}]} That's my final answer.`
	resp, err := parseResponse(content, "Film Noir")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Decisions) != 1 || resp.Decisions[0].Reasoning != "fits the {nested} theme well" {
		t.Fatalf("unexpected decisions: %+v", resp.Decisions)
	}
}

func TestParseResponseUnsalvageableReturnsError(t *testing.T) {
	_, err := parseResponse("I cannot help with that request.", "Film Noir")
	if err == nil {
		t.Fatal("expected error for unsalvageable content")
	}
}
