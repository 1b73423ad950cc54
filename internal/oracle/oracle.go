// Package oracle implements the Oracle Client: batched prompt submission,
// structured JSON reconciliation with salvage parsing, and retry/backoff
// over the external language-model collaborator (spec §4.5).
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tikibozo/kometa-ai/internal/rubric"
)

// Completer is the external oracle collaborator (spec §6): a single
// completion method the core has no knowledge of the transport for.
type Completer interface {
	Complete(ctx context.Context, system, user, model string, temperature float64, maxTokens int, timeout time.Duration) (content string, inputTokens int, outputTokens int, err error)
}

// TransientError marks a Completer failure as retryable (network error,
// 5xx, rate-limit, timeout). Completer implementations wrap such errors
// with Transient so the client's backoff loop recognizes them; anything
// else is treated as immediately fatal for the batch (spec §4.5).
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return "oracle: transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err to mark it retryable.
func Transient(err error) error { return &TransientError{Err: err} }

func isTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// MovieInput is the slice of a catalog movie the oracle needs to classify
// it (spec §4.5's "structured list").
type MovieInput struct {
	ID              int
	Title           string
	Year            int
	Genres          []string
	Overview        string
	Studio          string
	AlternateTitles []string
}

// Decision is one per-movie classification result from the oracle.
// DetailedAnalysis is only ever populated by a refinement reply
// (ClassifyOne); a batch reply carries Reasoning alone (spec §3, §4.4).
type Decision struct {
	MovieID          int
	Title            string
	Include          bool
	Confidence       float64
	Reasoning        string
	DetailedAnalysis string
}

// Response is the parsed reply to a batch classification request.
type Response struct {
	CategoryName string
	Decisions    []Decision
}

// Usage accumulates token counts and estimated cost for one or more calls.
type Usage struct {
	InputTokens   int
	OutputTokens  int
	EstimatedCost float64
	RequestCount  int
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.EstimatedCost += other.EstimatedCost
	u.RequestCount += other.RequestCount
}

// Pricing is the two-constant cost model spec §4.5 requires: dollars per
// million input/output tokens.
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

func (p Pricing) cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1_000_000*p.InputPerMillion +
		float64(outputTokens)/1_000_000*p.OutputPerMillion
}

// Params carries generation parameters threaded through to Completer.
type Params struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Client batches prompts to a Completer, applies retry/backoff, and
// reconciles replies into Response/Usage pairs.
type Client struct {
	completer Completer
	pricing   Pricing
	params    Params
	logger    *slog.Logger
}

// New creates a Client.
func New(completer Completer, pricing Pricing, params Params, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		completer: completer,
		pricing:   pricing,
		params:    params,
		logger:    logger.With("component", "oracle_client"),
	}
}

// retryPolicy is spec §4.5's backoff schedule: 1s initial, doubling, capped
// at 30s, up to 10 attempts.
func (c *Client) retryPolicy() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.Multiplier = 2.0
	return b
}

// ClassifyBatch submits one batch of movies for r and returns the parsed
// decisions plus usage. Unknown-id decisions in the reply are dropped with
// a warning; ids missing from the reply are simply absent from the result
// (the planner will reask them next run).
func (c *Client) ClassifyBatch(ctx context.Context, r rubric.Rubric, movies []MovieInput) (Response, Usage, error) {
	system := buildSystemPrompt()
	user := buildBatchUserPrompt(r, movies)

	content, usage, err := c.completeWithRetry(ctx, system, user)
	if err != nil {
		return Response{}, usage, fmt.Errorf("classify batch for %q: %w", r.Name, err)
	}

	resp, err := parseResponse(content, r.Name)
	if err != nil {
		c.logger.Error("oracle reply could not be parsed", "category", r.Name, "raw", content, "error", err)
		return Response{}, usage, fmt.Errorf("parse batch reply for %q: %w", r.Name, err)
	}

	known := make(map[int]bool, len(movies))
	for _, m := range movies {
		known[m.ID] = true
	}
	filtered := resp.Decisions[:0]
	for _, d := range resp.Decisions {
		if !known[d.MovieID] {
			c.logger.Warn("dropping decision for unknown movie id", "category", r.Name, "movie_id", d.MovieID)
			continue
		}
		filtered = append(filtered, d)
	}
	resp.Decisions = filtered

	return resp, usage, nil
}

// ClassifyOne issues a single-item refinement call for a movie whose
// initial confidence landed within the rubric's refinement band (spec
// §4.4). It returns the refined decision and the detailed analysis text.
func (c *Client) ClassifyOne(ctx context.Context, r rubric.Rubric, movie MovieInput) (Decision, string, Usage, error) {
	system := buildRefinementSystemPrompt()
	user := buildRefinementUserPrompt(r, movie)

	content, usage, err := c.completeWithRetry(ctx, system, user)
	if err != nil {
		return Decision{}, "", usage, fmt.Errorf("refine movie %d for %q: %w", movie.ID, r.Name, err)
	}

	resp, err := parseResponse(content, r.Name)
	if err != nil {
		c.logger.Error("oracle refinement reply could not be parsed", "category", r.Name, "movie_id", movie.ID, "raw", content, "error", err)
		return Decision{}, "", usage, fmt.Errorf("parse refinement reply: %w", err)
	}
	if len(resp.Decisions) == 0 {
		return Decision{}, "", usage, fmt.Errorf("refinement reply for movie %d contained no decision", movie.ID)
	}

	d := resp.Decisions[0]
	return d, d.DetailedAnalysis, usage, nil
}

func (c *Client) completeWithRetry(ctx context.Context, system, user string) (string, Usage, error) {
	var usage Usage

	operation := func() (string, error) {
		content, in, out, err := c.completer.Complete(ctx, system, user, c.params.Model, c.params.Temperature, c.params.MaxTokens, c.params.Timeout)
		usage.RequestCount++
		if in > 0 || out > 0 {
			usage.InputTokens += in
			usage.OutputTokens += out
			usage.EstimatedCost += c.pricing.cost(in, out)
		}
		if err != nil {
			if isTransient(err) {
				return "", err
			}
			return "", backoff.Permanent(err)
		}
		return content, nil
	}

	content, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.retryPolicy()),
		backoff.WithMaxTries(10),
	)
	if err != nil {
		return "", usage, err
	}
	return content, usage, nil
}
