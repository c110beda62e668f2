// Package dot reads and writes the DOT subset used for pipeline files.
//
// The subset covers digraph headers, node statements with attribute lists,
// edge statements (including chains), quoted values, and line comments.
// Subgraphs and HTML labels are not part of the pipeline format.
package dot

import (
	"fmt"
	"os"
	"strings"

	"github.com/bjornslib/attractor/pkg/pipeline"
)

// ParseError describes a syntax or structural problem in a DOT file.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("dot: line %d: %s", e.Line, e.Message)
	}
	return fmt.Sprintf("dot: %s:%d: %s", e.Path, e.Line, e.Message)
}

// ParseFile reads a pipeline graph from a .dot file.
func ParseFile(path string) (*pipeline.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}
	g, err := Parse(string(data))
	if err != nil {
		var pe *ParseError
		if ok := asParseError(err, &pe); ok {
			pe.Path = path
		}
		return nil, err
	}
	return g, nil
}

func asParseError(err error, target **ParseError) bool {
	pe, ok := err.(*ParseError)
	if ok {
		*target = pe
	}
	return ok
}

// Parse reads a pipeline graph from DOT text.
func Parse(src string) (*pipeline.Graph, error) {
	p := &parser{}
	return p.parse(src)
}

type parser struct {
	graph        *pipeline.Graph
	nodeDefaults map[string]string
	line         int
}

func (p *parser) errf(format string, args ...any) error {
	return &ParseError{Line: p.line, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) parse(src string) (*pipeline.Graph, error) {
	stmts, err := p.split(src)
	if err != nil {
		return nil, err
	}
	if len(stmts) == 0 {
		p.line = 1
		return nil, p.errf("empty input")
	}

	opened := false
	closed := false
	for _, st := range stmts {
		p.line = st.line
		text := st.text
		switch {
		case !opened:
			if err := p.parseHeader(text); err != nil {
				return nil, err
			}
			opened = true
		case text == "}":
			closed = true
		case closed:
			return nil, p.errf("statement after closing brace: %q", text)
		default:
			if err := p.parseStatement(text); err != nil {
				return nil, err
			}
		}
	}
	if !opened {
		p.line = 1
		return nil, p.errf("missing digraph header")
	}
	if !closed {
		return nil, p.errf("missing closing brace")
	}
	return p.graph, nil
}

type statement struct {
	text string
	line int
}

// split breaks the source into statements, honoring quotes and stripping
// // and # line comments.
func (p *parser) split(src string) ([]statement, error) {
	var stmts []statement
	var buf strings.Builder
	line := 1
	stmtLine := 1
	inQuote := false
	escaped := false
	bracketDepth := 0

	flush := func() {
		text := strings.TrimSpace(buf.String())
		buf.Reset()
		if text != "" {
			stmts = append(stmts, statement{text: text, line: stmtLine})
		}
		stmtLine = line
	}

	runes := []rune(src)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if inQuote {
			buf.WriteRune(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inQuote = false
			case c == '\n':
				line++
			}
			continue
		}
		switch c {
		case '"':
			inQuote = true
			buf.WriteRune(c)
		case '[':
			bracketDepth++
			buf.WriteRune(c)
		case ']':
			if bracketDepth > 0 {
				bracketDepth--
			}
			buf.WriteRune(c)
		case '\n':
			line++
			if bracketDepth > 0 {
				// Attribute lists may span lines.
				buf.WriteRune(' ')
				continue
			}
			flush()
			stmtLine = line
		case ';':
			if bracketDepth > 0 {
				buf.WriteRune(c)
				continue
			}
			flush()
		case '{':
			// Header ends at the opening brace.
			buf.WriteRune(c)
			flush()
		case '}':
			flush()
			buf.WriteRune(c)
			flush()
		case '/':
			if i+1 < len(runes) && runes[i+1] == '/' {
				for i < len(runes) && runes[i] != '\n' {
					i++
				}
				i--
			} else {
				buf.WriteRune(c)
			}
		case '#':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			i--
		default:
			buf.WriteRune(c)
		}
	}
	if inQuote {
		p.line = line
		return nil, p.errf("unterminated quoted string")
	}
	flush()
	return stmts, nil
}

func (p *parser) parseHeader(text string) error {
	if !strings.HasSuffix(text, "{") {
		return p.errf("expected digraph header, got %q", text)
	}
	head := strings.TrimSpace(strings.TrimSuffix(text, "{"))
	fields := strings.Fields(head)
	if len(fields) == 0 || fields[0] != "digraph" {
		return p.errf("expected 'digraph', got %q", head)
	}
	name := ""
	if len(fields) > 1 {
		name = unquote(fields[1])
	}
	if len(fields) > 2 {
		return p.errf("unexpected tokens after graph name")
	}
	p.graph = pipeline.NewGraph(name)
	p.nodeDefaults = make(map[string]string)
	return nil
}

func (p *parser) parseStatement(text string) error {
	body, attrs, err := p.splitAttrs(text)
	if err != nil {
		return err
	}

	if strings.Contains(body, "->") {
		return p.parseEdge(body, attrs)
	}

	id := strings.TrimSpace(body)
	if id == "" {
		return p.errf("attribute list without a subject")
	}
	if strings.ContainsAny(id, " \t") {
		// Graph-level attribute assignments (rankdir=LR etc.) arrive here as
		// "key = value" after attr splitting; tolerate and ignore them.
		if strings.Contains(text, "=") && !strings.Contains(text, "[") {
			return nil
		}
		return p.errf("malformed statement: %q", text)
	}
	if strings.Contains(id, "=") {
		// Bare graph attribute, e.g. rankdir=LR.
		return nil
	}

	switch id {
	case "graph", "edge":
		// Defaults for kinds the engine does not model.
		return nil
	case "node":
		for k, v := range attrs {
			p.nodeDefaults[k] = v
		}
		return nil
	}
	return p.declareNode(unquote(id), attrs)
}

func (p *parser) declareNode(id string, attrs map[string]string) error {
	if existing := p.graph.Node(id); existing != nil {
		if len(attrs) == 0 {
			// Re-mention of a node inside an edge chain is legal DOT; a
			// second declaration with attributes is a duplicate.
			return nil
		}
		return p.errf("duplicate node %q", id)
	}

	n := &pipeline.Node{ID: id}
	merged := make(map[string]string, len(p.nodeDefaults)+len(attrs))
	for k, v := range p.nodeDefaults {
		merged[k] = v
	}
	for k, v := range attrs {
		merged[k] = v
	}

	shape := ""
	for k, v := range merged {
		if k == "shape" {
			shape = v
			continue
		}
		if err := n.SetAttr(k, v); err != nil {
			return p.errf("node %q: bad %s value %q", id, k, v)
		}
	}
	if n.Handler == "" && shape != "" {
		if h, ok := pipeline.HandlerForShape(shape); ok {
			n.Handler = h
		}
	}
	if n.Handler == "" {
		// Untagged nodes default to tool steps so shape-less sketches still
		// parse; the validator decides whether that is acceptable.
		n.Handler = pipeline.HandlerTool
	}
	if shape != "" {
		if _, mapped := pipeline.HandlerForShape(shape); !mapped {
			if n.Extra == nil {
				n.Extra = make(map[string]string)
			}
			n.Extra["shape"] = shape
		}
	}
	if n.Status == "" {
		n.Status = pipeline.StatusPending
	}
	return p.graph.AddNode(n)
}

func (p *parser) parseEdge(body string, attrs map[string]string) error {
	parts := strings.Split(body, "->")
	if len(parts) < 2 {
		return p.errf("malformed edge: %q", body)
	}
	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		id := unquote(strings.TrimSpace(part))
		if id == "" || strings.ContainsAny(id, " \t") {
			return p.errf("malformed edge endpoint: %q", part)
		}
		ids = append(ids, id)
	}
	label := attrs["label"]
	for i := 0; i+1 < len(ids); i++ {
		for _, id := range []string{ids[i], ids[i+1]} {
			if p.graph.Node(id) == nil {
				if err := p.declareNode(id, nil); err != nil {
					return err
				}
			}
		}
		p.graph.AddEdge(&pipeline.Edge{From: ids[i], To: ids[i+1], Label: label})
	}
	return nil
}

// splitAttrs separates "subject [k=v, ...]" into subject and attribute map.
func (p *parser) splitAttrs(text string) (string, map[string]string, error) {
	open := strings.Index(text, "[")
	if open < 0 {
		return text, nil, nil
	}
	closeIdx := strings.LastIndex(text, "]")
	if closeIdx < open {
		return "", nil, p.errf("unterminated attribute list")
	}
	subject := strings.TrimSpace(text[:open])
	attrText := text[open+1 : closeIdx]

	attrs := make(map[string]string)
	for _, pair := range splitQuoted(attrText, ',') {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := splitQuoted(pair, '=')
		if len(kv) != 2 {
			return "", nil, p.errf("malformed attribute %q", pair)
		}
		key := strings.TrimSpace(kv[0])
		val := unquote(strings.TrimSpace(kv[1]))
		if key == "" {
			return "", nil, p.errf("empty attribute key in %q", pair)
		}
		attrs[key] = val
	}
	return subject, attrs, nil
}

// splitQuoted splits on sep outside of double quotes.
func splitQuoted(s string, sep rune) []string {
	var out []string
	var buf strings.Builder
	inQuote := false
	escaped := false
	for _, c := range s {
		if inQuote {
			buf.WriteRune(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inQuote = false
			}
			continue
		}
		switch c {
		case '"':
			inQuote = true
			buf.WriteRune(c)
		case sep:
			out = append(out, buf.String())
			buf.Reset()
		default:
			buf.WriteRune(c)
		}
	}
	out = append(out, buf.String())
	return out
}

func unquote(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		inner := s[1 : len(s)-1]
		inner = strings.ReplaceAll(inner, `\"`, `"`)
		inner = strings.ReplaceAll(inner, `\\`, `\`)
		return inner
	}
	return s
}
