package dot

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/bjornslib/attractor/pkg/pipeline"
)

// Serialize renders a graph as DOT text. Output is deterministic: nodes in
// declaration order, attribute keys sorted, every value quoted. The result
// parses back to a graph equal to the input.
func Serialize(g *pipeline.Graph) string {
	var b strings.Builder
	if g.Name != "" {
		fmt.Fprintf(&b, "digraph %s {\n", quoteID(g.Name))
	} else {
		b.WriteString("digraph {\n")
	}

	for _, n := range g.NodesInOrder() {
		b.WriteString("    ")
		b.WriteString(quoteID(n.ID))
		b.WriteString(" [")
		b.WriteString(strings.Join(nodeAttrs(n), ", "))
		b.WriteString("];\n")
	}
	if len(g.Edges) > 0 {
		b.WriteString("\n")
	}
	for _, e := range g.Edges {
		b.WriteString("    ")
		b.WriteString(quoteID(e.From))
		b.WriteString(" -> ")
		b.WriteString(quoteID(e.To))
		if e.Label != "" {
			fmt.Fprintf(&b, " [label=%s]", quoteValue(e.Label))
		}
		b.WriteString(";\n")
	}
	b.WriteString("}\n")
	return b.String()
}

func nodeAttrs(n *pipeline.Node) []string {
	attrs := map[string]string{
		"handler": string(n.Handler),
		"status":  string(n.Status),
	}
	if n.BeadID != "" {
		attrs["bead_id"] = n.BeadID
	}
	if n.WorkerType != "" {
		attrs["worker_type"] = n.WorkerType
	}
	if n.Acceptance != "" {
		attrs["acceptance"] = n.Acceptance
	}
	if n.PromiseAC != "" {
		attrs["promise_ac"] = n.PromiseAC
	}
	if n.RetryCount != 0 {
		attrs["retry_count"] = strconv.Itoa(n.RetryCount)
	}
	if n.MaxRetries != 0 {
		attrs["max_retries"] = strconv.Itoa(n.MaxRetries)
	}
	for k, v := range n.Extra {
		attrs[k] = v
	}

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+quoteValue(attrs[k]))
	}
	return out
}

// quoteID leaves simple identifiers bare and quotes everything else.
func quoteID(s string) string {
	if isBareID(s) {
		return s
	}
	return quoteValue(s)
}

func quoteValue(s string) string {
	if isBareID(s) {
		return s
	}
	escaped := strings.ReplaceAll(s, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}

func isBareID(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_', c == '.':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
