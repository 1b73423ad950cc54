package rubric

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleDoc = `collections:
  # === KOMETA-AI ===
  # enabled: true
  # confidence_threshold: 0.7
  # priority: 10
  # include_tags: []
  # exclude_tags: []
  # use_iterative_refinement: true
  # refinement_threshold: 0.15
  # prompt: |
  #   Classify the movie as film noir if it has:
  #   - low-key lighting
  #   - morally ambiguous characters
  # === END KOMETA-AI ===
  Film Noir:
    radarr_taglist: KAI-film-noir
    sync_mode: sync
`

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestExtractorBasic(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "movies.yml", sampleDoc)

	e := &Extractor{}
	rubrics, diags, err := e.ExtractDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	if len(rubrics) != 1 {
		t.Fatalf("expected 1 rubric, got %d", len(rubrics))
	}

	r := rubrics[0]
	if r.Name != "Film Noir" {
		t.Errorf("Name = %q", r.Name)
	}
	if !r.Enabled {
		t.Error("expected Enabled = true")
	}
	if r.ConfidenceThreshold != 0.7 {
		t.Errorf("ConfidenceThreshold = %v", r.ConfidenceThreshold)
	}
	if r.Priority != 10 {
		t.Errorf("Priority = %v", r.Priority)
	}
	if !r.UseRefinement {
		t.Error("expected UseRefinement = true")
	}
	if r.RefinementBand != 0.15 {
		t.Errorf("RefinementBand = %v", r.RefinementBand)
	}
	if r.ExpectedLabel != "KAI-film-noir" {
		t.Errorf("ExpectedLabel = %q", r.ExpectedLabel)
	}
	wantPrompt := "Classify the movie as film noir if it has:\n- low-key lighting\n- morally ambiguous characters"
	if r.Prompt != wantPrompt {
		t.Errorf("Prompt = %q, want %q", r.Prompt, wantPrompt)
	}
}

func TestExtractorIgnoresDotAndUnderscoreFiles(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, ".hidden.yml", sampleDoc)
	writeTempFile(t, dir, "_private.yaml", sampleDoc)

	e := &Extractor{}
	rubrics, _, err := e.ExtractDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rubrics) != 0 {
		t.Fatalf("expected 0 rubrics from ignored files, got %d", len(rubrics))
	}
}

func TestExtractorKeyInterleavedAfterPrompt(t *testing.T) {
	doc := `collections:
  # === KOMETA-AI ===
  # enabled: true
  # prompt: |
  #   Some prompt text.
  # confidence_threshold: 0.9
  # === END KOMETA-AI ===
  Some Category:
    radarr_taglist: KAI-some-category
`
	dir := t.TempDir()
	writeTempFile(t, dir, "movies.yml", doc)

	e := &Extractor{}
	rubrics, diags, err := e.ExtractDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	if len(rubrics) != 1 {
		t.Fatalf("expected 1 rubric, got %d", len(rubrics))
	}
	r := rubrics[0]
	if r.ConfidenceThreshold != 0.9 {
		t.Errorf("expected confidence_threshold recognized as key (0.9), got %v", r.ConfidenceThreshold)
	}
	if strings.Contains(r.Prompt, "confidence_threshold") {
		t.Errorf("expected confidence_threshold line excluded from prompt text, got %q", r.Prompt)
	}
}

func TestExtractorMissingTaglistSkipsWithDiagnostic(t *testing.T) {
	doc := `collections:
  # === KOMETA-AI ===
  # enabled: true
  # prompt: |
  #   Some prompt text.
  # === END KOMETA-AI ===
  No Taglist:
    sync_mode: sync
`
	dir := t.TempDir()
	writeTempFile(t, dir, "movies.yml", doc)

	e := &Extractor{}
	rubrics, diags, err := e.ExtractDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rubrics) != 0 {
		t.Fatalf("expected rubric to be skipped, got %d", len(rubrics))
	}
	if len(diags) != 1 {
		t.Fatalf("expected 1 diagnostic, got %d: %v", len(diags), diags)
	}
}

func TestExtractorLabelMismatchDiagnosticNoFix(t *testing.T) {
	doc := `collections:
  # === KOMETA-AI ===
  # enabled: true
  # prompt: |
  #   Some prompt text.
  # === END KOMETA-AI ===
  Film Noir:
    radarr_taglist: KAI-wrong-label
`
	dir := t.TempDir()
	path := writeTempFile(t, dir, "movies.yml", doc)

	e := &Extractor{FixLabels: false}
	rubrics, diags, err := e.ExtractDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rubrics) != 1 {
		t.Fatalf("expected rubric still returned with diagnostic, got %d", len(rubrics))
	}
	if len(diags) != 1 {
		t.Fatalf("expected 1 mismatch diagnostic, got %d", len(diags))
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(after) != doc {
		t.Error("expected file to be left untouched when FixLabels is false")
	}
}

func TestExtractorFixLabelsRewritesScalar(t *testing.T) {
	doc := `collections:
  # === KOMETA-AI ===
  # enabled: true
  # prompt: |
  #   Some prompt text.
  # === END KOMETA-AI ===
  Film Noir:
    radarr_taglist: KAI-wrong-label
    sync_mode: sync
`
	dir := t.TempDir()
	path := writeTempFile(t, dir, "movies.yml", doc)

	e := &Extractor{FixLabels: true}
	_, diags, err := e.ExtractDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(diags) != 1 {
		t.Fatalf("expected 1 diagnostic even when fixing, got %d", len(diags))
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(after), "radarr_taglist: KAI-film-noir") {
		t.Errorf("expected scalar rewritten to KAI-film-noir, got:\n%s", after)
	}
	if !strings.Contains(string(after), "# === KOMETA-AI ===") ||
		!strings.Contains(string(after), "#   Some prompt text.") ||
		!strings.Contains(string(after), "sync_mode: sync") {
		t.Errorf("expected surrounding comments and sibling keys preserved untouched, got:\n%s", after)
	}
	if !strings.Contains(string(after), "sync_mode: sync") {
		t.Error("expected unrelated scalar to be preserved")
	}
}

func TestExtractorDedupesCollidingExpectedLabels(t *testing.T) {
	doc := `collections:
  # === KOMETA-AI ===
  # enabled: true
  # priority: 5
  # prompt: |
  #   high priority noir
  # === END KOMETA-AI ===
  Film Noir:
    radarr_taglist: KAI-film-noir
  # === KOMETA-AI ===
  # enabled: true
  # priority: 1
  # prompt: |
  #   low priority, same slug
  # === END KOMETA-AI ===
  Film-Noir:
    radarr_taglist: KAI-film-noir
`
	dir := t.TempDir()
	writeTempFile(t, dir, "movies.yml", doc)

	e := &Extractor{}
	rubrics, diags, err := e.ExtractDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rubrics) != 1 {
		t.Fatalf("expected the colliding rubric to be dropped, got %d rubrics: %+v", len(rubrics), rubrics)
	}
	if rubrics[0].Name != "Film Noir" {
		t.Errorf("expected the higher-priority rubric to keep the label, got %q", rubrics[0].Name)
	}
	if len(diags) != 1 {
		t.Fatalf("expected 1 diagnostic for the collision, got %d: %v", len(diags), diags)
	}
}

func TestExtractorPriorityAndNameOrdering(t *testing.T) {
	doc := `collections:
  # === KOMETA-AI ===
  # enabled: true
  # priority: 1
  # prompt: |
  #   low priority
  # === END KOMETA-AI ===
  Zebra:
    radarr_taglist: KAI-zebra
  # === KOMETA-AI ===
  # enabled: true
  # priority: 5
  # prompt: |
  #   high priority
  # === END KOMETA-AI ===
  Alpha:
    radarr_taglist: KAI-alpha
`
	dir := t.TempDir()
	writeTempFile(t, dir, "movies.yml", doc)

	e := &Extractor{}
	rubrics, diags, err := e.ExtractDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	if len(rubrics) != 2 {
		t.Fatalf("expected 2 rubrics, got %d", len(rubrics))
	}
	if rubrics[0].Name != "Alpha" || rubrics[1].Name != "Zebra" {
		t.Errorf("expected priority-descending order [Alpha, Zebra], got [%s, %s]", rubrics[0].Name, rubrics[1].Name)
	}
}
