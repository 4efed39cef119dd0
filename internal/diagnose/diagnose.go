// Package diagnose turns failure output into hypotheses about where the fault lives.
//
// References like `File "src/calc.py", line 4` or `calc.go:12:` are resolved against
// the repository map and widened to the enclosing function with tree-sitter.
package diagnose

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
	"go.uber.org/zap"

	"github.com/lucasnoah/fixloop/internal/policy"
	"github.com/lucasnoah/fixloop/internal/ticket"
)

// MaxLocations bounds the locations attached to one hypothesis.
const MaxLocations = 5

const (
	sourceConfidence = 0.8
	testConfidence   = 0.5
)

// FileSource reads repository files.
type FileSource interface {
	Read(root, rel string) (string, error)
}

// Reference is a file:line mention found in failure output.
type Reference struct {
	Path   string
	Line   int
	Symbol string
}

var (
	pyFrameRe  = regexp.MustCompile(`File "([^"]+)", line (\d+)(?:, in ([\w<>.]+))?`)
	fileLineRe = regexp.MustCompile(`([\w./\\-]+\.(?:py|go|js|jsx|mjs|cjs|ts|tsx)):(\d+)`)
)

// References extracts file:line mentions in order of appearance, deduplicated.
func References(output string) []Reference {
	type hit struct {
		at  int
		ref Reference
	}
	var hits []hit
	for _, m := range pyFrameRe.FindAllStringSubmatchIndex(output, -1) {
		line, _ := strconv.Atoi(output[m[4]:m[5]])
		ref := Reference{Path: output[m[2]:m[3]], Line: line}
		if m[6] >= 0 {
			ref.Symbol = output[m[6]:m[7]]
		}
		hits = append(hits, hit{m[0], ref})
	}
	for _, m := range fileLineRe.FindAllStringSubmatchIndex(output, -1) {
		line, _ := strconv.Atoi(output[m[4]:m[5]])
		hits = append(hits, hit{m[0], Reference{Path: output[m[2]:m[3]], Line: line}})
	}
	// stable by position
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].at < hits[j-1].at; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}

	seen := make(map[string]bool)
	var out []Reference
	for _, h := range hits {
		h.ref.Path = strings.ReplaceAll(h.ref.Path, "\\", "/")
		key := h.ref.Path + ":" + strconv.Itoa(h.ref.Line)
		if h.ref.Line <= 0 || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, h.ref)
	}
	return out
}

// Extractor builds hypotheses from the latest failed test run.
type Extractor struct {
	files  FileSource
	policy *policy.Policy
	logger *zap.Logger
}

// New creates an Extractor.
func New(files FileSource, pol *policy.Policy, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pol == nil {
		pol = policy.Default()
	}
	return &Extractor{files: files, policy: pol, logger: logger}
}

// Extract returns a hypothesis when the failure output points at repository files.
func (e *Extractor) Extract(ctx context.Context, t *ticket.Ticket) (ticket.Hypothesis, bool) {
	last, ok := t.LastTestRun()
	if !ok || last.Status == ticket.StatusSuccess {
		return ticket.Hypothesis{}, false
	}

	var (
		locs        []ticket.CodeLocation
		sourceFound bool
		seen        = make(map[string]bool)
	)
	for _, ref := range References(last.Output()) {
		if ctx.Err() != nil {
			break
		}
		rel := resolve(ref.Path, t.RepoRef, t.RepoMap)
		if rel == "" {
			continue
		}
		loc := ticket.CodeLocation{Path: rel, StartLine: ref.Line, EndLine: ref.Line, Symbol: ref.Symbol}
		if src, err := e.files.Read(t.RepoRef, rel); err == nil {
			if scope, ok := EnclosingScope(ctx, rel, []byte(src), ref.Line); ok {
				loc = scope
			}
		}
		loc.Reason = fmt.Sprintf("failure output references line %d", ref.Line)
		key := fmt.Sprintf("%s:%d-%d", loc.Path, loc.StartLine, loc.EndLine)
		if seen[key] {
			continue
		}
		seen[key] = true
		if e.policy.Allowed(rel) {
			sourceFound = true
		}
		locs = append(locs, loc)
		if len(locs) >= MaxLocations {
			break
		}
	}
	if len(locs) == 0 {
		return ticket.Hypothesis{}, false
	}

	conf := testConfidence
	if sourceFound {
		conf = sourceConfidence
	}
	e.logger.Debug("diagnosis", zap.Int("locations", len(locs)), zap.Float64("confidence", conf))
	return ticket.Hypothesis{
		ID:         ticket.NewID("h"),
		Summary:    summarize(locs, e.policy),
		Locations:  locs,
		Confidence: conf,
	}, true
}

func summarize(locs []ticket.CodeLocation, pol *policy.Policy) string {
	pick := locs[0]
	for _, l := range locs {
		if pol.Allowed(l.Path) {
			pick = l
			break
		}
	}
	where := fmt.Sprintf("%s:%d", pick.Path, pick.StartLine)
	if pick.Symbol != "" {
		return fmt.Sprintf("Failure traced to %s (%s)", pick.Symbol, where)
	}
	return "Failure traced to " + where
}

// resolve maps a referenced path to a repository-relative path present in the repo map.
func resolve(ref, root string, m *ticket.RepoMap) string {
	ref = strings.TrimPrefix(ref, "./")
	if root != "" {
		r := strings.TrimSuffix(strings.ReplaceAll(root, "\\", "/"), "/") + "/"
		ref = strings.TrimPrefix(ref, r)
	}
	paths := m.Paths()
	for _, p := range paths {
		if p == ref {
			return p
		}
	}
	// bare file names and absolute paths from another checkout
	found := ""
	for _, p := range paths {
		if strings.HasSuffix(ref, "/"+p) || strings.HasSuffix(p, "/"+ref) {
			if found != "" && found != p {
				return ""
			}
			found = p
		}
	}
	return found
}

var scopeTypes = map[string]bool{
	"function_definition":  true,
	"function_declaration": true,
	"method_declaration":   true,
	"method_definition":    true,
	"func_literal":         true,
	"arrow_function":       true,
	"function":             true,
	"function_expression":  true,
}

func languageFor(p string) *sitter.Language {
	switch path.Ext(p) {
	case ".py":
		return python.GetLanguage()
	case ".go":
		return golang.GetLanguage()
	case ".js", ".jsx", ".mjs", ".cjs":
		return javascript.GetLanguage()
	case ".ts", ".tsx":
		return typescript.GetLanguage()
	}
	return nil
}

// EnclosingScope returns the innermost function around the 1-based line.
func EnclosingScope(ctx context.Context, rel string, src []byte, line int) (ticket.CodeLocation, bool) {
	lang := languageFor(rel)
	if lang == nil || line <= 0 {
		return ticket.CodeLocation{}, false
	}
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return ticket.CodeLocation{}, false
	}
	defer tree.Close()

	row := uint32(line - 1)
	var best *sitter.Node
	node := tree.RootNode()
	for node != nil {
		if scopeTypes[node.Type()] {
			best = node
		}
		var next *sitter.Node
		for i := 0; i < int(node.NamedChildCount()); i++ {
			c := node.NamedChild(i)
			if c.StartPoint().Row <= row && c.EndPoint().Row >= row {
				next = c
				break
			}
		}
		node = next
	}
	if best == nil {
		return ticket.CodeLocation{}, false
	}

	loc := ticket.CodeLocation{
		Path:      rel,
		StartLine: int(best.StartPoint().Row) + 1,
		EndLine:   int(best.EndPoint().Row) + 1,
	}
	if name := best.ChildByFieldName("name"); name != nil {
		loc.Symbol = name.Content(src)
	}
	return loc, true
}
