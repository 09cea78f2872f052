package discovery

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	sitter "github.com/smacker/go-tree-sitter"

	"mte/internal/domain"
)

// Finder discovers suite/describe/it declarations in JavaScript and TypeScript files.
// It keeps no state between calls and is safe for concurrent use.
type Finder struct {
	log zerolog.Logger
}

// NewFinder creates a new Finder
func NewFinder(log zerolog.Logger) *Finder {
	return &Finder{log: log.With().Str("component", "finder").Logger()}
}

// FindTestCases reads the file at path and discovers its test nodes
func (f *Finder) FindTestCases(ctx context.Context, path string) ([]*domain.TestNode, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading file %s: %w", path, err)
	}
	return f.Discover(ctx, path, src)
}

// Discover walks src and returns the nodes in order of appearance, starting with the file root.
// Unrecognised syntax is logged and skipped, so a partially valid file still yields what parsed.
func (f *Finder) Discover(ctx context.Context, path string, src []byte) ([]*domain.TestNode, error) {
	root := &domain.TestNode{
		ID:    path,
		Title: filepath.Base(path),
		Path:  path,
		Kind:  domain.KindFile,
	}

	tree, err := parseSource(ctx, path, src)
	if err != nil {
		return []*domain.TestNode{root}, err
	}
	defer tree.Close()

	program := tree.RootNode()
	if program.HasError() {
		f.log.Warn().Str("path", path).Msg("syntax errors found, discovering what parsed")
	}

	w := &walk{
		log:   f.log.With().Str("path", path).Logger(),
		path:  path,
		src:   src,
		nodes: []*domain.TestNode{root},
		ids:   map[string]int{},
	}
	w.visit(program, root)
	return w.nodes, nil
}

// visitResult is what visiting one syntax node produces: a name, a test node, a list of
// test nodes, or nothing.
type visitResult interface {
	isVisitResult()
}

type (
	nameResult     string
	nodeResult     struct{ node *domain.TestNode }
	nodeListResult []*domain.TestNode
	noResult       struct{}
)

func (nameResult) isVisitResult() {}
func (nodeResult) isVisitResult() {}
func (nodeListResult) isVisitResult() {}
func (noResult) isVisitResult() {}

type callee struct {
	kind  domain.Kind
	token string
	skip  bool
}

var callees = map[string]callee{
	"suite":         {kind: domain.KindSuite, token: "suite"},
	"describe":      {kind: domain.KindDescribe, token: "describe"},
	"describe.skip": {kind: domain.KindDescribe, token: "describe", skip: true},
	"it":            {kind: domain.KindCase, token: "it"},
	"it.skip":       {kind: domain.KindCase, token: "it", skip: true},
}

// walk is the state of a single discovery pass over one file
type walk struct {
	log   zerolog.Logger
	path  string
	src   []byte
	nodes []*domain.TestNode
	ids   map[string]int
}

func (w *walk) visit(n *sitter.Node, parent *domain.TestNode) visitResult {
	if n == nil {
		return noResult{}
	}

	switch n.Type() {
	case "program", "statement_block", "ERROR":
		return w.visitBlock(n, parent)

	case "expression_statement":
		children := namedChildren(n)
		if len(children) == 0 {
			return noResult{}
		}
		return w.visit(children[0], parent)

	case "call_expression":
		return w.visitCall(n, parent)

	case "arrow_function":
		return w.visit(n.ChildByFieldName("body"), parent)

	case "function_expression", "function":
		if len(namedChildren(n.ChildByFieldName("parameters"))) == 0 {
			return w.visit(n.ChildByFieldName("body"), parent)
		}
		return noResult{}

	case "identifier", "property_identifier":
		return nameResult(n.Content(w.src))

	case "string":
		return nameResult(stringText(n, w.src))

	case "member_expression":
		// it("x", fn).timeout(500) carries its test on the object
		if obj := n.ChildByFieldName("object"); obj != nil && obj.Type() == "call_expression" {
			return w.visit(obj, parent)
		}
		object, ok := w.visit(n.ChildByFieldName("object"), nil).(nameResult)
		if !ok {
			return noResult{}
		}
		property, ok := w.visit(n.ChildByFieldName("property"), nil).(nameResult)
		if !ok {
			return noResult{}
		}
		return nameResult(string(object) + "." + string(property))

	case "import_statement", "lexical_declaration", "variable_declaration",
		"function_declaration", "generator_function_declaration",
		"comment", "empty_statement":
		return noResult{}

	default:
		point := n.StartPoint()
		w.log.Debug().
			Str("kind", n.Type()).
			Uint32("line", point.Row).
			Msg("unresolved node")
		return noResult{}
	}
}

func (w *walk) visitBlock(n *sitter.Node, parent *domain.TestNode) visitResult {
	var found nodeListResult
	for _, child := range namedChildren(n) {
		switch r := w.visit(child, parent).(type) {
		case nodeResult:
			found = append(found, r.node)
		case nodeListResult:
			found = append(found, r...)
		case nameResult, noResult:
		}
	}
	if len(found) == 0 {
		return noResult{}
	}
	return found
}

func (w *walk) visitCall(n *sitter.Node, parent *domain.TestNode) visitResult {
	var name nameResult
	switch r := w.visit(n.ChildByFieldName("function"), parent).(type) {
	case nameResult:
		name = r
	case nodeResult, nodeListResult:
		return r
	default:
		return noResult{}
	}
	c, ok := callees[string(name)]
	if !ok {
		return noResult{}
	}

	args := namedChildren(n.ChildByFieldName("arguments"))
	if len(args) == 0 {
		point := n.StartPoint()
		w.log.Debug().Str("callee", string(name)).Uint32("line", point.Row).Msg("test declaration without a title")
		return noResult{}
	}

	titleArg := args[0]
	line, column := w.callSite(c.token, titleArg, n)
	node := w.newNode(c, w.title(titleArg), parent, line, column)
	w.nodes = append(w.nodes, node)

	if c.kind.IsContainer() && len(args) > 1 {
		w.visit(args[1], node)
	}
	return nodeResult{node: node}
}

// callSite locates the callee token before the title argument. Node start positions
// include leading comments, so the token search gives the actual call position.
func (w *walk) callSite(token string, titleArg, call *sitter.Node) (int, int) {
	offset := bytes.LastIndex(w.src[:titleArg.StartByte()], []byte(token))
	if offset < 0 {
		offset = int(call.StartByte())
	}
	return offsetToPosition(w.src, offset)
}

// title resolves the title argument. Template literals without substitutions use their
// text; any other computed expression falls back to its source text.
func (w *walk) title(n *sitter.Node) string {
	switch n.Type() {
	case "string":
		return stringText(n, w.src)
	case "identifier":
		return n.Content(w.src)
	case "template_string":
		if !hasChildOfType(n, "template_substitution") {
			text := n.Content(w.src)
			return strings.TrimSuffix(strings.TrimPrefix(text, "`"), "`")
		}
	}

	placeholder := strings.Join(strings.Fields(n.Content(w.src)), " ")
	point := n.StartPoint()
	w.log.Debug().
		Str("kind", n.Type()).
		Str("title", placeholder).
		Uint32("line", point.Row).
		Msg("unresolved title, using source text")
	return placeholder
}

func (w *walk) newNode(c callee, title string, parent *domain.TestNode, line, column int) *domain.TestNode {
	fullTitle := title
	if parent != nil && parent.FullTitle != "" {
		fullTitle = parent.FullTitle + " " + title
	}

	id := w.path + "::" + fullTitle
	w.ids[id]++
	if n := w.ids[id]; n > 1 {
		id = fmt.Sprintf("%s#%d", id, n)
	}

	node := &domain.TestNode{
		ID:         id,
		Title:      title,
		FullTitle:  fullTitle,
		Path:       w.path,
		Line:       line,
		Column:     column,
		IsTestCase: c.kind == domain.KindCase,
		Kind:       c.kind,
		Pending:    c.skip,
	}
	if parent != nil {
		node.ParentID = parent.ID
		node.Pending = node.Pending || parent.Pending
	}
	return node
}

func hasChildOfType(n *sitter.Node, kind string) bool {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if child := n.NamedChild(i); child != nil && child.Type() == kind {
			return true
		}
	}
	return false
}

// stringText returns the cooked value of a string literal
func stringText(n *sitter.Node, src []byte) string {
	if n.NamedChildCount() == 0 {
		raw := n.Content(src)
		if len(raw) >= 2 {
			return raw[1 : len(raw)-1]
		}
		return ""
	}

	var sb strings.Builder
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child == nil {
			continue
		}
		text := child.Content(src)
		if child.Type() == "escape_sequence" {
			if unquoted, err := strconv.Unquote(`"` + text + `"`); err == nil {
				text = unquoted
			} else {
				text = strings.TrimPrefix(text, `\`)
			}
		}
		sb.WriteString(text)
	}
	return sb.String()
}
