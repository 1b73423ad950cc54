// Package radarr implements a Radarr-compatible catalog.Client over its v3
// HTTP API: a static API key in a header, a paged movie listing, and a tag
// namespace used as the label store. Grounded on the oaihttp pattern of a
// thin net/http wrapper with its own error type, adapted to a CRUD-style
// external service the way herald's pkg/storage wraps the Azure SDK.
package radarr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tikibozo/kometa-ai/internal/catalog"
)

// pageSize is the page-size Client requests per call to /api/v3/movie,
// matching the original implementation's paged-catalog pull for large
// libraries rather than a single unbounded response.
const pageSize = 200

// Client is a catalog.Client backed by a running Radarr instance.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Client. baseURL should not include a trailing slash or the
// /api/v3 suffix (e.g. "http://radarr:7878").
func New(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		logger: logger.With("component", "radarr_client"),
	}
}

// wire shapes, unexported: only the fields the core domain model needs.

type wireMovie struct {
	ID              int      `json:"id"`
	Title           string   `json:"title"`
	Year            int      `json:"year"`
	Overview        string   `json:"overview"`
	Genres          []string `json:"genres"`
	Studio          string   `json:"studio"`
	AlternateTitles []struct {
		Title string `json:"title"`
	} `json:"alternateTitles"`
	Tags    []int `json:"tags"`
	Credits struct {
		Cast []struct {
			Name string `json:"name"`
		} `json:"cast"`
		Crew []struct {
			Name string `json:"name"`
			Job  string `json:"job"`
		} `json:"crew"`
	} `json:"credits"`
}

type wireTag struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
}

// ListMovies retrieves the full catalog, paging internally in pageSize
// chunks, and joins in the tag namespace to populate each Movie's Labels.
func (c *Client) ListMovies(ctx context.Context) ([]catalog.Movie, error) {
	tags, err := c.listTagsByID(ctx)
	if err != nil {
		return nil, fmt.Errorf("radarr: list movies: %w", err)
	}

	var all []catalog.Movie
	for page := 1; ; page++ {
		var wireMovies []wireMovie
		path := fmt.Sprintf("/api/v3/movie?page=%d&pageSize=%d", page, pageSize)
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &wireMovies); err != nil {
			return nil, fmt.Errorf("radarr: list movies page %d: %w", page, err)
		}
		for _, wm := range wireMovies {
			all = append(all, toMovie(wm, tags))
		}
		if len(wireMovies) < pageSize {
			break
		}
	}

	c.logger.Debug("snapshot catalog", "movie_count", len(all))
	return all, nil
}

func toMovie(wm wireMovie, tags map[int]string) catalog.Movie {
	m := catalog.Movie{
		ID:       wm.ID,
		Title:    wm.Title,
		Year:     wm.Year,
		Overview: wm.Overview,
		Genres:   wm.Genres,
		Studio:   wm.Studio,
	}
	for _, alt := range wm.AlternateTitles {
		m.AlternateTitles = append(m.AlternateTitles, alt.Title)
	}
	for _, cast := range wm.Credits.Cast {
		m.Actors = append(m.Actors, cast.Name)
	}
	for _, crew := range wm.Credits.Crew {
		if crew.Job == "Director" {
			m.Directors = append(m.Directors, crew.Name)
		}
	}
	for _, id := range wm.Tags {
		if label, ok := tags[id]; ok {
			m.Labels = append(m.Labels, label)
		}
	}
	return m
}

// ListLabels returns every tag currently defined in Radarr.
func (c *Client) ListLabels(ctx context.Context) ([]catalog.Label, error) {
	var wireTags []wireTag
	if err := c.doJSON(ctx, http.MethodGet, "/api/v3/tag", nil, &wireTags); err != nil {
		return nil, fmt.Errorf("radarr: list labels: %w", err)
	}
	out := make([]catalog.Label, 0, len(wireTags))
	for _, t := range wireTags {
		out = append(out, catalog.Label{ID: t.ID, Name: t.Label})
	}
	return out, nil
}

// GetLabel looks up a tag by exact label text.
func (c *Client) GetLabel(ctx context.Context, name string) (catalog.Label, error) {
	labels, err := c.ListLabels(ctx)
	if err != nil {
		return catalog.Label{}, err
	}
	for _, l := range labels {
		if l.Name == name {
			return l, nil
		}
	}
	return catalog.Label{}, catalog.ErrNotFound
}

// CreateLabel creates a tag, idempotently: if it already exists this
// resolves to the existing id rather than erroring.
func (c *Client) CreateLabel(ctx context.Context, name string) (catalog.Label, error) {
	existing, err := c.GetLabel(ctx, name)
	if err == nil {
		return existing, nil
	}

	var created wireTag
	body := wireTag{Label: name}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v3/tag", body, &created); err != nil {
		return catalog.Label{}, fmt.Errorf("radarr: create label %q: %w", name, err)
	}
	return catalog.Label{ID: created.ID, Name: created.Label}, nil
}

// UpdateMovieLabels replaces a movie's tag id set. Radarr's movie update
// endpoint requires the full movie resource on PUT, so this reads the
// movie back before writing its tags field.
func (c *Client) UpdateMovieLabels(ctx context.Context, movieID int, labelIDs []int) error {
	var existing map[string]any
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/v3/movie/%d", movieID), nil, &existing); err != nil {
		return fmt.Errorf("radarr: read movie %d before tag update: %w", movieID, err)
	}

	tags := make([]int, len(labelIDs))
	copy(tags, labelIDs)
	existing["tags"] = tags

	if err := c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/api/v3/movie/%d", movieID), existing, nil); err != nil {
		return fmt.Errorf("radarr: update movie %d tags: %w", movieID, err)
	}
	return nil
}

func (c *Client) listTagsByID(ctx context.Context) (map[int]string, error) {
	labels, err := c.ListLabels(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int]string, len(labels))
	for _, l := range labels {
		out[l.ID] = l.Name
	}
	return out, nil
}

// HTTPError is returned for any non-2xx response from Radarr.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("radarr: http status=%d body=%s", e.StatusCode, e.Body)
}

// Retryable reports whether this response warrants a retry: Radarr's own
// transient failure modes (rate limiting, a starting-up instance, upstream
// gateway errors).
func (e *HTTPError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return e.StatusCode >= 500
	}
}

// retryPolicy uses the oracle client's doubling shape from 1s, but with a
// shorter 15s cap (doJSON also limits it to 5 tries): catalog hiccups (a
// restarting Radarr instance, a transient proxy error) resolve on the
// timescale an operator would expect a batch run to tolerate.
func retryPolicy() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 15 * time.Second
	b.Multiplier = 2.0
	return b
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	operation := func() (struct{}, error) {
		var buf bytes.Buffer
		if body != nil {
			if err := json.NewEncoder(&buf).Encode(body); err != nil {
				return struct{}{}, backoff.Permanent(err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("X-Api-Key", c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			httpErr := &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
			if httpErr.Retryable() {
				return struct{}{}, httpErr
			}
			return struct{}{}, backoff.Permanent(httpErr)
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return struct{}{}, backoff.Permanent(fmt.Errorf("decode response: %w", err))
			}
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(retryPolicy()), backoff.WithMaxTries(5))
	return err
}
