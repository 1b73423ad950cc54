package rubric

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	blockStartMarker = "=== KOMETA-AI ==="
	blockEndMarker   = "=== END KOMETA-AI ==="

	taglistKey = "radarr_taglist"
)

// recognizedKeys lists the comment-block configuration keys spec §6 defines.
// prompt must always be the last key present in a block; the extractor uses
// this list to recognize a line as a key (ending the prompt literal) even
// when it appears, by author mistake, after the prompt's pipe marker.
var recognizedKeys = []string{
	"enabled",
	"prompt",
	"confidence_threshold",
	"priority",
	"include_tags",
	"exclude_tags",
	"use_iterative_refinement",
	"refinement_threshold",
	"example_inclusions",
	"example_exclusions",
}

var keyLineRe = regexp.MustCompile(`^([a-zA-Z_][a-zA-Z0-9_]*):\s*(.*)$`)

// Diagnostic records a non-fatal problem encountered while extracting
// rubrics: a skipped block, an unreadable file, or a label mismatch.
type Diagnostic struct {
	File    string
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s", d.File, d.Message)
}

// Extractor parses rubric blocks out of a directory of host configuration
// files (spec §4.1). Files are only read unless FixLabels is set and a
// radarr_taglist scalar differs from its expected label; such a file is then
// re-encoded whole from its parsed YAML tree, so its layout (indentation,
// blank lines, quoting) follows the yaml.v3 encoder and the file is not
// preserved byte for byte outside the rewritten scalar.
type Extractor struct {
	FixLabels bool
}

// ExtractDir walks dir (non-recursively) for .yml/.yaml files whose name
// does not begin with "." or "_", extracts rubric blocks from each, and
// returns them sorted by descending priority then by name.
func (e *Extractor) ExtractDir(dir string) ([]Rubric, []Diagnostic, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read rubric directory %s: %w", dir, err)
	}

	var rubrics []Rubric
	var diags []Diagnostic

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".yml" && ext != ".yaml" {
			continue
		}

		path := filepath.Join(dir, name)
		fileRubrics, fileDiags, err := e.extractFile(path)
		if err != nil {
			diags = append(diags, Diagnostic{File: path, Message: err.Error()})
			continue
		}
		rubrics = append(rubrics, fileRubrics...)
		diags = append(diags, fileDiags...)
	}

	sort.SliceStable(rubrics, func(i, j int) bool {
		if rubrics[i].Priority != rubrics[j].Priority {
			return rubrics[i].Priority > rubrics[j].Priority
		}
		return rubrics[i].Name < rubrics[j].Name
	})

	rubrics, diags = dedupeExpectedLabels(rubrics, diags)

	return rubrics, diags, nil
}

// dedupeExpectedLabels enforces spec §3's "expected_label must be unique
// across rubrics" invariant. rubrics is assumed already sorted into
// processing order (priority desc, then name); the rubric that would run
// first keeps the label, and every later colliding rubric is dropped with a
// diagnostic rather than silently overwriting the first one's reconciliation
// for that label (spec §5's sequential-ordering guarantee).
func dedupeExpectedLabels(rubrics []Rubric, diags []Diagnostic) ([]Rubric, []Diagnostic) {
	owner := make(map[string]Rubric, len(rubrics))
	out := make([]Rubric, 0, len(rubrics))

	for _, r := range rubrics {
		if r.ExpectedLabel == "" {
			out = append(out, r)
			continue
		}
		if first, ok := owner[r.ExpectedLabel]; ok {
			diags = append(diags, Diagnostic{
				File: r.SourceFile,
				Message: fmt.Sprintf(
					"rubric %q slugs to label %q, already owned by rubric %q (%s); skipping",
					r.Name, r.ExpectedLabel, first.Name, first.SourceFile),
			})
			continue
		}
		owner[r.ExpectedLabel] = r
		out = append(out, r)
	}

	return out, diags
}

func (e *Extractor) extractFile(path string) ([]Rubric, []Diagnostic, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open: %w", err)
	}

	lines := strings.Split(string(raw), "\n")
	blocks := findBlocks(lines)

	var doc yaml.Node
	hasDoc := yaml.Unmarshal(raw, &doc) == nil

	var rubrics []Rubric
	var diags []Diagnostic
	dirty := false

	for _, b := range blocks {
		category := nextCategoryName(lines, b.end)
		if category == "" {
			diags = append(diags, Diagnostic{File: path, Message: "comment block not followed by a recognizable category key; skipped"})
			continue
		}

		r, err := parseBlockBody(stripCommentLines(lines[b.start+1 : b.end]))
		if err != nil {
			diags = append(diags, Diagnostic{File: path, Message: fmt.Sprintf("category %q: %s", category, err)})
			continue
		}
		r.Name = category
		r.SourceFile = path
		r.ExpectedLabel = ExpectedLabel(category)

		if err := r.Validate(); err != nil {
			diags = append(diags, Diagnostic{File: path, Message: err.Error()})
			continue
		}

		if !hasDoc {
			diags = append(diags, Diagnostic{File: path, Message: fmt.Sprintf("category %q: host document could not be parsed as YAML; skipped", category)})
			continue
		}

		taglistNode, found := findTaglistNode(&doc, category)
		if !found {
			diags = append(diags, Diagnostic{File: path, Message: fmt.Sprintf("category %q: no %s scalar found; skipped", category, taglistKey)})
			continue
		}

		if taglistNode.Value != r.ExpectedLabel {
			diags = append(diags, Diagnostic{
				File: path,
				Message: fmt.Sprintf(
					"category %q: %s is %q, expected %q",
					category, taglistKey, taglistNode.Value, r.ExpectedLabel,
				),
			})
			if e.FixLabels {
				taglistNode.Value = r.ExpectedLabel
				dirty = true
			}
		}

		rubrics = append(rubrics, r)
	}

	if dirty {
		out, err := yaml.Marshal(&doc)
		if err != nil {
			return rubrics, diags, fmt.Errorf("re-encode %s: %w", path, err)
		}
		if err := os.WriteFile(path, out, 0o644); err != nil {
			return rubrics, diags, fmt.Errorf("write %s: %w", path, err)
		}
	}

	return rubrics, diags, nil
}

type blockSpan struct{ start, end int }

// findBlocks locates every [start,end] line-index pair delimited by the
// KOMETA-AI comment markers.
func findBlocks(lines []string) []blockSpan {
	var spans []blockSpan
	start := -1
	for i, line := range lines {
		trimmed := stripCommentPrefix(line)
		switch strings.TrimSpace(trimmed) {
		case blockStartMarker:
			start = i
		case blockEndMarker:
			if start >= 0 {
				spans = append(spans, blockSpan{start: start, end: i})
				start = -1
			}
		}
	}
	return spans
}

// nextCategoryName scans forward from a block's end marker for the next
// non-blank line and, if it looks like a YAML mapping key, returns its name.
func nextCategoryName(lines []string, blockEnd int) string {
	for i := blockEnd + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			return ""
		}
		if !strings.HasSuffix(trimmed, ":") {
			return ""
		}
		name := strings.TrimSuffix(trimmed, ":")
		name = strings.Trim(name, `"'`)
		return name
	}
	return ""
}

// stripCommentPrefix removes one leading "# " or "#" from line, preserving
// subsequent indentation, as spec §4.1 requires.
func stripCommentPrefix(line string) string {
	trimmed := strings.TrimLeft(line, " \t")
	indent := line[:len(line)-len(trimmed)]
	if strings.HasPrefix(trimmed, "# ") {
		return indent + trimmed[2:]
	}
	if strings.HasPrefix(trimmed, "#") {
		return indent + trimmed[1:]
	}
	return line
}

func stripCommentLines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = stripCommentPrefix(l)
	}
	return out
}

func isRecognizedKey(key string) bool {
	for _, k := range recognizedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// parseBlockBody parses the stripped lines of a comment block body into a
// Rubric, honoring the rule that prompt is always the last key: any line
// that parses as "<recognized-key>: <value>" at the block's base indent
// ends the prompt literal, even if it appears after the pipe marker.
func parseBlockBody(lines []string) (Rubric, error) {
	baseIndent := -1
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		trimmed := strings.TrimLeft(l, " ")
		baseIndent = len(l) - len(trimmed)
		break
	}
	if baseIndent < 0 {
		return Rubric{}, fmt.Errorf("empty comment block")
	}

	values := make(map[string]string)
	var promptLines []string

	i := 0
	for i < len(lines) {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			i++
			continue
		}
		trimmed := strings.TrimLeft(line, " ")
		indent := len(line) - len(trimmed)
		if indent != baseIndent {
			i++
			continue
		}

		m := keyLineRe.FindStringSubmatch(trimmed)
		if m == nil {
			i++
			continue
		}
		key, val := m[1], m[2]
		if !isRecognizedKey(key) {
			i++
			continue
		}

		if key != "prompt" {
			values[key] = val
			i++
			continue
		}

		// prompt: pipe literal, value gathers every following line until
		// the block ends or another recognized key reappears at base indent.
		j := i + 1
		for j < len(lines) {
			l := lines[j]
			lt := strings.TrimLeft(l, " ")
			lindent := len(l) - len(lt)
			if lindent == baseIndent {
				if km := keyLineRe.FindStringSubmatch(lt); km != nil && isRecognizedKey(km[1]) {
					break
				}
			}
			promptLines = append(promptLines, l)
			j++
		}
		i = j
	}

	r := Rubric{
		ConfidenceThreshold: DefaultConfidenceThreshold,
	}

	if v, ok := values["enabled"]; ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return Rubric{}, fmt.Errorf("enabled: invalid bool %q", v)
		}
		r.Enabled = b
	}
	if v, ok := values["confidence_threshold"]; ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return Rubric{}, fmt.Errorf("confidence_threshold: invalid float %q", v)
		}
		r.ConfidenceThreshold = f
	}
	if v, ok := values["priority"]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return Rubric{}, fmt.Errorf("priority: invalid int %q", v)
		}
		r.Priority = n
	}
	if v, ok := values["include_tags"]; ok {
		r.IncludeLabels = parseStringList(v)
	}
	if v, ok := values["exclude_tags"]; ok {
		r.ExcludeLabels = parseStringList(v)
	}
	if v, ok := values["use_iterative_refinement"]; ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return Rubric{}, fmt.Errorf("use_iterative_refinement: invalid bool %q", v)
		}
		r.UseRefinement = b
	}
	if v, ok := values["refinement_threshold"]; ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return Rubric{}, fmt.Errorf("refinement_threshold: invalid float %q", v)
		}
		r.RefinementBand = f
	}
	if v, ok := values["example_inclusions"]; ok {
		r.ExampleIncludes = parseStringList(v)
	}
	if v, ok := values["example_exclusions"]; ok {
		r.ExampleExcludes = parseStringList(v)
	}

	r.Prompt = joinPrompt(promptLines)

	return r, nil
}

// parseStringList accepts either a YAML flow sequence ("[a, b]") or a bare
// comma-separated value and returns the trimmed, non-empty elements.
func parseStringList(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if strings.HasPrefix(v, "[") && strings.HasSuffix(v, "]") {
		var out []string
		if err := yaml.Unmarshal([]byte(v), &out); err == nil {
			return out
		}
		v = strings.TrimSuffix(strings.TrimPrefix(v, "["), "]")
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.Trim(p, `"'`))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// joinPrompt strips the minimal common leading indentation from the
// collected prompt lines, preserving relative indentation (e.g. for "- "
// bullet lines), and trims leading/trailing blank lines.
func joinPrompt(lines []string) string {
	minIndent := -1
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		trimmed := strings.TrimLeft(l, " ")
		indent := len(l) - len(trimmed)
		if minIndent == -1 || indent < minIndent {
			minIndent = indent
		}
	}
	if minIndent < 0 {
		minIndent = 0
	}

	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if len(l) >= minIndent {
			out = append(out, l[minIndent:])
		} else {
			out = append(out, strings.TrimLeft(l, " "))
		}
	}

	text := strings.Join(out, "\n")
	return strings.Trim(text, "\n")
}

// findTaglistNode walks doc for the mapping entry named category and returns
// its radarr_taglist scalar node, if any.
func findTaglistNode(doc *yaml.Node, category string) (*yaml.Node, bool) {
	root := doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	collMap := findMappingValue(root, category)
	if collMap == nil || collMap.Kind != yaml.MappingNode {
		return nil, false
	}
	node := findMappingValue(collMap, taglistKey)
	if node == nil || node.Kind != yaml.ScalarNode {
		return nil, false
	}
	return node, true
}

// findMappingValue searches node (expected to be a mapping) recursively for
// a key matching name and returns its value node.
func findMappingValue(node *yaml.Node, name string) *yaml.Node {
	if node == nil {
		return nil
	}
	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i]
			if key.Value == name {
				return node.Content[i+1]
			}
		}
		for i := 1; i < len(node.Content); i += 2 {
			if v := findMappingValue(node.Content[i], name); v != nil {
				return v
			}
		}
	}
	return nil
}
