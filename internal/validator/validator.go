// Package validator enforces the structural invariants a pipeline graph
// must satisfy before the Guardian may execute it.
//
// Violations are returned, not thrown: the Guardian and Terminal decide
// whether a flawed graph blocks the run.
package validator

import (
	"fmt"

	"github.com/bjornslib/attractor/pkg/pipeline"
)

// Rule names, stable for machine consumption.
const (
	RuleSingleStart  = "single_start"
	RuleSingleExit   = "single_exit"
	RuleAcceptance   = "acceptance_criteria"
	RuleATPairing    = "at_pairing"
	RuleNoOrphans    = "no_orphans"
	RuleUniqueBeadID = "unique_bead_id"
	RuleNoCycles     = "no_cycles"
	RuleKnownHandler = "known_handler"
)

// Violation describes one broken structural rule.
type Violation struct {
	Rule    string `json:"rule"`
	NodeID  string `json:"node_id,omitempty"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.NodeID == "" {
		return fmt.Sprintf("%s: %s", v.Rule, v.Message)
	}
	return fmt.Sprintf("%s: node %q: %s", v.Rule, v.NodeID, v.Message)
}

// Validate checks every structural rule and returns all violations found.
// An empty result means the graph may execute.
func Validate(g *pipeline.Graph) []Violation {
	var out []Violation
	out = append(out, checkEndpoints(g)...)
	out = append(out, checkHandlers(g)...)
	out = append(out, checkAcceptance(g)...)
	out = append(out, checkATPairing(g)...)
	out = append(out, checkReachability(g)...)
	out = append(out, checkBeadIDs(g)...)
	out = append(out, checkAcyclic(g)...)
	return out
}

func checkEndpoints(g *pipeline.Graph) []Violation {
	var out []Violation

	starts, exits := 0, 0
	for _, n := range g.NodesInOrder() {
		switch n.Handler {
		case pipeline.HandlerStart:
			starts++
		case pipeline.HandlerExit:
			exits++
		}
	}
	if starts != 1 {
		out = append(out, Violation{
			Rule:    RuleSingleStart,
			Message: fmt.Sprintf("pipeline must have exactly one start node, found %d", starts),
		})
	}
	if exits != 1 {
		out = append(out, Violation{
			Rule:    RuleSingleExit,
			Message: fmt.Sprintf("pipeline must have exactly one exit node, found %d", exits),
		})
	}
	return out
}

func checkHandlers(g *pipeline.Graph) []Violation {
	known := make(map[pipeline.Handler]bool, len(pipeline.KnownHandlers))
	for _, h := range pipeline.KnownHandlers {
		known[h] = true
	}

	var out []Violation
	for _, n := range g.NodesInOrder() {
		if !known[n.Handler] {
			out = append(out, Violation{
				Rule:    RuleKnownHandler,
				NodeID:  n.ID,
				Message: fmt.Sprintf("unknown handler %q", n.Handler),
			})
		}
	}
	return out
}

func checkAcceptance(g *pipeline.Graph) []Violation {
	var out []Violation
	for _, n := range g.NodesInOrder() {
		if n.Handler == pipeline.HandlerCodergen && n.Acceptance == "" {
			out = append(out, Violation{
				Rule:    RuleAcceptance,
				NodeID:  n.ID,
				Message: "codergen node has no acceptance criteria",
			})
		}
	}
	return out
}

// checkATPairing verifies acceptance-test nodes reference an existing
// functional node and that no functional node has two AT nodes.
func checkATPairing(g *pipeline.Graph) []Violation {
	var out []Violation
	covered := make(map[string]string) // functional node -> AT node

	for _, n := range g.NodesInOrder() {
		if !n.IsAcceptanceTest() {
			continue
		}
		target := g.Node(n.PromiseAC)
		if target == nil {
			out = append(out, Violation{
				Rule:    RuleATPairing,
				NodeID:  n.ID,
				Message: fmt.Sprintf("promise_ac references unknown node %q", n.PromiseAC),
			})
			continue
		}
		if target.IsAcceptanceTest() {
			out = append(out, Violation{
				Rule:    RuleATPairing,
				NodeID:  n.ID,
				Message: fmt.Sprintf("promise_ac target %q is itself an acceptance test", n.PromiseAC),
			})
			continue
		}
		if prev, dup := covered[n.PromiseAC]; dup {
			out = append(out, Violation{
				Rule:    RuleATPairing,
				NodeID:  n.ID,
				Message: fmt.Sprintf("node %q already validated by %q", n.PromiseAC, prev),
			})
			continue
		}
		covered[n.PromiseAC] = n.ID
	}
	return out
}

func checkReachability(g *pipeline.Graph) []Violation {
	start := g.Start()
	if start == nil {
		// Endpoint rule already reports this.
		return nil
	}

	reach := g.Reachable(start.ID)
	var out []Violation
	for _, n := range g.NodesInOrder() {
		if !reach[n.ID] {
			out = append(out, Violation{
				Rule:    RuleNoOrphans,
				NodeID:  n.ID,
				Message: "node is unreachable from start",
			})
		}
	}
	return out
}

func checkBeadIDs(g *pipeline.Graph) []Violation {
	seen := make(map[string]string)
	var out []Violation
	for _, n := range g.NodesInOrder() {
		if n.BeadID == "" {
			continue
		}
		if prev, dup := seen[n.BeadID]; dup {
			out = append(out, Violation{
				Rule:    RuleUniqueBeadID,
				NodeID:  n.ID,
				Message: fmt.Sprintf("bead_id %q already used by node %q", n.BeadID, prev),
			})
			continue
		}
		seen[n.BeadID] = n.ID
	}
	return out
}

// checkAcyclic rejects cycles in the graph's edges. The retry loop
// (failed -> active) lives in the state machine, not in graph edges, so any
// edge cycle is a defect.
func checkAcyclic(g *pipeline.Graph) []Violation {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)

	var cycleAt string
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, e := range g.OutgoingEdges(id) {
			switch color[e.To] {
			case gray:
				cycleAt = e.To
				return true
			case white:
				if visit(e.To) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for _, id := range g.NodeIDs() {
		if color[id] == white && visit(id) {
			return []Violation{{
				Rule:    RuleNoCycles,
				NodeID:  cycleAt,
				Message: "graph contains a cycle; only the state-machine retry edge may loop",
			}}
		}
	}
	return nil
}
