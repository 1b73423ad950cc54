package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tikibozo/kometa-ai/internal/catalog"
	"github.com/tikibozo/kometa-ai/internal/oracle"
	"github.com/tikibozo/kometa-ai/internal/state"
)

type fakeCatalogClient struct {
	movies  []catalog.Movie
	labels  map[string]catalog.Label
	nextID  int
	updates map[int][]int
}

func newFakeCatalogClient(movies []catalog.Movie) *fakeCatalogClient {
	return &fakeCatalogClient{movies: movies, labels: map[string]catalog.Label{}, nextID: 1, updates: map[int][]int{}}
}

func (f *fakeCatalogClient) ListMovies(ctx context.Context) ([]catalog.Movie, error) { return f.movies, nil }

func (f *fakeCatalogClient) ListLabels(ctx context.Context) ([]catalog.Label, error) {
	out := make([]catalog.Label, 0, len(f.labels))
	for _, l := range f.labels {
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeCatalogClient) GetLabel(ctx context.Context, name string) (catalog.Label, error) {
	if l, ok := f.labels[name]; ok {
		return l, nil
	}
	return catalog.Label{}, catalog.ErrNotFound
}

func (f *fakeCatalogClient) CreateLabel(ctx context.Context, name string) (catalog.Label, error) {
	l := catalog.Label{ID: f.nextID, Name: name}
	f.nextID++
	f.labels[name] = l
	return l, nil
}

func (f *fakeCatalogClient) UpdateMovieLabels(ctx context.Context, movieID int, labelIDs []int) error {
	f.updates[movieID] = labelIDs
	return nil
}

type fakeCompleter struct {
	responses map[int]string // movie id -> response fragment, keyed by first movie id in the batch
	calls     int
}

func (f *fakeCompleter) Complete(ctx context.Context, system, user, model string, temperature float64, maxTokens int, timeout time.Duration) (string, int, int, error) {
	f.calls++
	return `{"decisions":[{"movie_id":1,"include":true,"confidence":0.92},{"movie_id":2,"include":false,"confidence":0.05},{"movie_id":3,"include":true,"confidence":0.95}]}`, 10, 10, nil
}

type refinementCompleter struct {
	calls int
}

func (f *refinementCompleter) Complete(ctx context.Context, system, user, model string, temperature float64, maxTokens int, timeout time.Duration) (string, int, int, error) {
	f.calls++
	if strings.Contains(system, "focused second look") {
		return `{"decisions":[{"movie_id":1,"include":true,"confidence":0.95,"reasoning":"closer look confirms noir tone","detailed_analysis":"low-key lighting, a fatalistic protagonist, and a femme fatale place this squarely in the noir tradition"}]}`, 5, 5, nil
	}
	return `{"decisions":[{"movie_id":1,"include":true,"confidence":0.71,"reasoning":"initial pass, near boundary"}]}`, 10, 10, nil
}

func writeRefinementRubricFile(t *testing.T, dir string) {
	t.Helper()
	content := `collections:
  # === KOMETA-AI ===
  # enabled: true
  # confidence_threshold: 0.7
  # use_iterative_refinement: true
  # refinement_threshold: 0.1
  # prompt: |
  #   Dark, cynical crime dramas with moral ambiguity.
  # === END KOMETA-AI ===
  Film Noir:
    radarr_taglist: KAI-film-noir
`
	if err := os.WriteFile(filepath.Join(dir, "collection.yml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunRefinementStoresDistinctDetailedAnalysis(t *testing.T) {
	movies := []catalog.Movie{{ID: 1, Title: "Chinatown", Year: 1974}}
	client := newFakeCatalogClient(movies)
	stateDir := t.TempDir()
	store := state.New(stateDir, nil)

	rubricDir := t.TempDir()
	writeRefinementRubricFile(t, rubricDir)

	completer := &refinementCompleter{}
	oracleClient := oracle.New(completer, oracle.Pricing{}, oracle.Params{Model: "test", MaxTokens: 1000, Timeout: time.Second}, nil)

	o := &Orchestrator{
		Store:            store,
		CatalogClient:    client,
		LabelCache:       catalog.NewLabelCache(client),
		Oracle:           oracleClient,
		RubricDir:        rubricDir,
		DefaultBatchSize: 150,
	}

	if _, err := o.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if completer.calls != 2 {
		t.Fatalf("expected 1 batch call + 1 refinement call, got %d", completer.calls)
	}

	record, ok := store.GetDecision(1, "Film Noir")
	if !ok {
		t.Fatal("expected a decision record for movie 1")
	}
	if record.Reasoning != "closer look confirms noir tone" {
		t.Errorf("unexpected reasoning: %q", record.Reasoning)
	}
	if record.DetailedAnalysis == "" || record.DetailedAnalysis == record.Reasoning {
		t.Errorf("expected detailed_analysis to be populated and distinct from reasoning, got %q", record.DetailedAnalysis)
	}
}

func writeRubricFile(t *testing.T, dir string) {
	t.Helper()
	content := `collections:
  # === KOMETA-AI ===
  # enabled: true
  # priority: 1
  # confidence_threshold: 0.7
  # prompt: |
  #   Dark, cynical crime dramas with moral ambiguity.
  # === END KOMETA-AI ===
  Film Noir:
    radarr_taglist: KAI-film-noir
`
	if err := os.WriteFile(filepath.Join(dir, "collection.yml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunFreshStateAddsLabels(t *testing.T) {
	movies := []catalog.Movie{
		{ID: 1, Title: "Chinatown", Year: 1974},
		{ID: 2, Title: "Toy Story", Year: 1995},
		{ID: 3, Title: "Double Indemnity", Year: 1944},
	}
	client := newFakeCatalogClient(movies)
	stateDir := t.TempDir()
	store := state.New(stateDir, nil)

	rubricDir := t.TempDir()
	writeRubricFile(t, rubricDir)

	completer := &fakeCompleter{}
	oracleClient := oracle.New(completer, oracle.Pricing{InputPerMillion: 3, OutputPerMillion: 15}, oracle.Params{Model: "test", MaxTokens: 1000, Timeout: time.Second}, nil)

	o := &Orchestrator{
		Store:            store,
		CatalogClient:    client,
		LabelCache:       catalog.NewLabelCache(client),
		Oracle:           oracleClient,
		RubricDir:        rubricDir,
		DefaultBatchSize: 150,
	}

	summary, err := o.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summary.Categories) != 1 {
		t.Fatalf("expected 1 category summary, got %+v", summary.Categories)
	}
	cs := summary.Categories[0]
	if cs.Added != 2 {
		t.Errorf("expected 2 added, got %d", cs.Added)
	}
	if len(client.updates[1]) == 0 || len(client.updates[3]) == 0 {
		t.Errorf("expected movies 1 and 3 to receive label updates: %+v", client.updates)
	}
	if _, ok := client.updates[2]; ok {
		t.Errorf("expected movie 2 to receive no update")
	}
}

func TestRunSecondPassIsNoOp(t *testing.T) {
	movies := []catalog.Movie{
		{ID: 1, Title: "Chinatown", Year: 1974},
	}
	client := newFakeCatalogClient(movies)
	stateDir := t.TempDir()
	store := state.New(stateDir, nil)

	rubricDir := t.TempDir()
	writeRubricFile(t, rubricDir)

	completer := &fakeCompleter{}
	oracleClient := oracle.New(completer, oracle.Pricing{}, oracle.Params{Model: "test", MaxTokens: 1000, Timeout: time.Second}, nil)

	o := &Orchestrator{
		Store:            store,
		CatalogClient:    client,
		LabelCache:       catalog.NewLabelCache(client),
		Oracle:           oracleClient,
		RubricDir:        rubricDir,
		DefaultBatchSize: 150,
	}

	if _, err := o.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstCalls := completer.calls

	client.movies[0].Labels = []string{"KAI-film-noir"}

	summary, err := o.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if completer.calls != firstCalls {
		t.Errorf("expected no new oracle calls on unchanged fingerprint, first=%d second=%d", firstCalls, completer.calls)
	}
	if summary.Categories[0].Added != 0 || summary.Categories[0].Removed != 0 {
		t.Errorf("expected idempotent second run, got %+v", summary.Categories[0])
	}
}
