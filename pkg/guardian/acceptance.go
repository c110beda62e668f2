package guardian

import (
	"fmt"

	"github.com/bjornslib/attractor/pkg/pipeline"
)

// EvidenceChecker judges whether a NODE_COMPLETE payload satisfies a node's
// acceptance criteria. The default is structural; deployments plug in
// rubric-backed checkers without touching the dispatch loop.
type EvidenceChecker interface {
	Check(node *pipeline.Node, payload map[string]any) (ok bool, feedback string)
}

// DefaultChecker trusts an explicit acceptance_met verdict in the payload
// and otherwise accepts completion at face value. Nodes carrying a minimum
// score in min_score are additionally held to it.
type DefaultChecker struct{}

func (DefaultChecker) Check(node *pipeline.Node, payload map[string]any) (bool, string) {
	if met, present := payload["acceptance_met"].(bool); present && !met {
		return false, fmt.Sprintf("acceptance criteria not met: %s", node.Acceptance)
	}
	if minRaw, ok := node.Extra["min_score"]; ok {
		min, err := parseScore(minRaw)
		if err == nil {
			score, scored := payloadScore(payload)
			if !scored || score < min {
				return false, fmt.Sprintf("score %d below required %d for: %s", score, min, node.Acceptance)
			}
		}
	}
	return true, ""
}

func payloadScore(payload map[string]any) (int, bool) {
	switch v := payload["score"].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

func parseScore(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
