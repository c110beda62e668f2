package pipeline

import "fmt"

// Edge is a directed connection between two nodes. Label carries the branch
// condition for edges leaving conditional nodes; empty means unconditional.
type Edge struct {
	From  string
	To    string
	Label string
}

// Graph is the parsed representation of a .dot pipeline file.
// Node order is preserved so serialization is deterministic.
type Graph struct {
	Name  string
	Nodes map[string]*Node
	Edges []*Edge

	order []string
}

// NewGraph creates an empty named graph.
func NewGraph(name string) *Graph {
	return &Graph{
		Name:  name,
		Nodes: make(map[string]*Node),
	}
}

// AddNode registers a node. Adding a duplicate ID is an error: the DOT
// format allows repeated declarations, but the parser merges those before
// calling AddNode.
func (g *Graph) AddNode(n *Node) error {
	if _, exists := g.Nodes[n.ID]; exists {
		return fmt.Errorf("duplicate node %q", n.ID)
	}
	g.Nodes[n.ID] = n
	g.order = append(g.order, n.ID)
	return nil
}

// AddEdge appends a directed edge.
func (g *Graph) AddEdge(e *Edge) {
	g.Edges = append(g.Edges, e)
}

// Node returns the node with the given ID, or nil.
func (g *Graph) Node(id string) *Node {
	return g.Nodes[id]
}

// NodeIDs returns node IDs in declaration order.
func (g *Graph) NodeIDs() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// NodesInOrder returns nodes in declaration order.
func (g *Graph) NodesInOrder() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.Nodes[id])
	}
	return out
}

// OutgoingEdges returns all edges leaving nodeID, in definition order.
func (g *Graph) OutgoingEdges(nodeID string) []*Edge {
	var out []*Edge
	for _, e := range g.Edges {
		if e.From == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// IncomingEdges returns all edges arriving at nodeID.
func (g *Graph) IncomingEdges(nodeID string) []*Edge {
	var out []*Edge
	for _, e := range g.Edges {
		if e.To == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// Dependencies returns the IDs of nodes with an edge into nodeID.
func (g *Graph) Dependencies(nodeID string) []string {
	var out []string
	for _, e := range g.Edges {
		if e.To == nodeID {
			out = append(out, e.From)
		}
	}
	return out
}

// Start returns the unique start node, or nil when absent or ambiguous.
func (g *Graph) Start() *Node {
	return g.uniqueByHandler(HandlerStart)
}

// Exit returns the unique exit node, or nil when absent or ambiguous.
func (g *Graph) Exit() *Node {
	return g.uniqueByHandler(HandlerExit)
}

func (g *Graph) uniqueByHandler(h Handler) *Node {
	var found *Node
	for _, id := range g.order {
		n := g.Nodes[id]
		if n.Handler != h {
			continue
		}
		if found != nil {
			return nil
		}
		found = n
	}
	return found
}

// AcceptanceTestFor returns the AT node covering the given functional node,
// or nil when the node has no paired acceptance test.
func (g *Graph) AcceptanceTestFor(nodeID string) *Node {
	for _, id := range g.order {
		n := g.Nodes[id]
		if n.PromiseAC == nodeID {
			return n
		}
	}
	return nil
}

// Clone returns a deep copy of the graph. The Guardian transitions a clone
// and swaps it in only after the checkpoint write succeeds.
func (g *Graph) Clone() *Graph {
	c := NewGraph(g.Name)
	for _, id := range g.order {
		// AddNode cannot fail here: IDs are unique in the source graph.
		_ = c.AddNode(g.Nodes[id].Clone())
	}
	for _, e := range g.Edges {
		dup := *e
		c.AddEdge(&dup)
	}
	return c
}

// Reachable returns the set of node IDs reachable from fromID, inclusive.
func (g *Graph) Reachable(fromID string) map[string]bool {
	visited := make(map[string]bool)
	queue := []string{fromID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true
		for _, e := range g.OutgoingEdges(current) {
			if !visited[e.To] {
				queue = append(queue, e.To)
			}
		}
	}
	return visited
}
