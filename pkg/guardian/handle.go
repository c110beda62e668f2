package guardian

import (
	"context"
	"errors"
	"fmt"

	"github.com/bjornslib/attractor/pkg/lifecycle"
	"github.com/bjornslib/attractor/pkg/pipeline"
	"github.com/bjornslib/attractor/pkg/signal"
)

// handle applies one claimed Runner or Terminal signal to the graph.
func (g *Guardian) handle(ctx context.Context, sig *signal.Signal) error {
	g.logger.Info("signal received",
		"type", sig.Type, "source", sig.Source, "node_id", sig.NodeID)

	switch sig.Type {
	case signal.TypeNodeComplete:
		return g.handleNodeComplete(ctx, sig)
	case signal.TypeOrchestratorCrashed:
		return g.handleRunnerGone(ctx, sig, "runner crashed")
	case signal.TypeOrchestratorStuck:
		return g.handleRunnerStuck(ctx, sig)
	case signal.TypeViolation:
		return g.handleViolation(ctx, sig)
	case signal.TypeNeedsInput, signal.TypeNeedsReview:
		return g.relayToOperator(ctx, sig)
	case signal.TypeInputResponse, signal.TypeOperatorDecision:
		return g.handleHumanDecision(sig)
	default:
		g.logger.Warn("unhandled signal type", "type", sig.Type, "node_id", sig.NodeID)
		return nil
	}
}

// handleNodeComplete validates a Runner's completion claim and either
// promotes the node or sends the verdict back for rework.
func (g *Guardian) handleNodeComplete(ctx context.Context, sig *signal.Signal) error {
	node := g.node(sig.NodeID)
	if node == nil {
		g.logger.Warn("completion for unknown node", "node_id", sig.NodeID)
		return nil
	}

	if err := g.transition(node.ID, pipeline.StatusImplComplete, nil); err != nil {
		// A duplicate or late completion is stale, not fatal.
		var terr *lifecycle.TransitionError
		if errors.As(err, &terr) {
			g.logger.Warn("stale completion ignored", "node_id", node.ID, "err", err)
			return nil
		}
		return err
	}

	ok, feedback := g.checker.Check(node, sig.Payload)
	if ok {
		if err := g.transition(node.ID, pipeline.StatusValidated, &lifecycle.Evidence{
			Kind:   lifecycle.EvidenceValidationPassed,
			Source: sig.Source,
			Detail: sig.Payload,
		}); err != nil {
			return err
		}
		if err := g.respond(node.ID, signal.TypeValidationPassed, nil); err != nil {
			return err
		}
		g.releaseNode(ctx, node.ID)
		g.logger.Info("node validated", "node_id", node.ID)
		return nil
	}

	g.logger.Warn("validation failed", "node_id", node.ID, "feedback", feedback)
	if err := g.transition(node.ID, pipeline.StatusFailed, &lifecycle.Evidence{
		Kind:   signal.TypeValidationFailed,
		Detail: map[string]any{"feedback": feedback},
	}); err != nil {
		return err
	}

	retryErr := g.transition(node.ID, pipeline.StatusActive, nil)
	if retryErr == nil {
		g.metrics.Retries.WithLabelValues(g.cfg.PipelineID).Inc()
		// The Runner session stays alive and reworks in place.
		return g.respond(node.ID, signal.TypeValidationFailed, map[string]any{
			"feedback": feedback,
			"attempt":  g.retryCount(node.ID),
		})
	}

	var exhausted *lifecycle.MaxRetriesExceededError
	if !errors.As(retryErr, &exhausted) {
		return retryErr
	}
	if err := g.respond(node.ID, signal.TypeKillOrchestrator, nil); err != nil {
		return err
	}
	g.releaseNode(ctx, node.ID)
	return g.escalateFailure(ctx, node, feedback)
}

// handleRunnerGone handles a Runner the monitor reports dead. The node moves
// to failed and, within budget, relaunches in a fresh session.
func (g *Guardian) handleRunnerGone(ctx context.Context, sig *signal.Signal, reason string) error {
	node := g.node(sig.NodeID)
	if node == nil {
		return nil
	}
	g.releaseNode(ctx, node.ID)

	if err := g.transition(node.ID, pipeline.StatusFailed, &lifecycle.Evidence{
		Kind:   sig.Type,
		Detail: sig.Payload,
	}); err != nil {
		return err
	}

	retryErr := g.transition(node.ID, pipeline.StatusActive, nil)
	if retryErr == nil {
		g.metrics.Retries.WithLabelValues(g.cfg.PipelineID).Inc()
		_, err := g.launchRunner(ctx, node)
		return err
	}
	var exhausted *lifecycle.MaxRetriesExceededError
	if !errors.As(retryErr, &exhausted) {
		return retryErr
	}
	return g.escalateFailure(ctx, node, reason)
}

// handleRunnerStuck kills the stalled session and treats it like a crash.
func (g *Guardian) handleRunnerStuck(ctx context.Context, sig *signal.Signal) error {
	if err := g.respond(sig.NodeID, signal.TypeKillOrchestrator, nil); err != nil {
		return err
	}
	return g.handleRunnerGone(ctx, sig, "runner made no progress")
}

// handleViolation stops a Runner that breached pipeline rules and escalates
// without spending the retry budget. Operators decide whether a violating
// session deserves another attempt.
func (g *Guardian) handleViolation(ctx context.Context, sig *signal.Signal) error {
	node := g.node(sig.NodeID)
	if node == nil {
		return nil
	}
	if err := g.respond(node.ID, signal.TypeKillOrchestrator, nil); err != nil {
		return err
	}
	g.releaseNode(ctx, node.ID)
	if err := g.transition(node.ID, pipeline.StatusFailed, &lifecycle.Evidence{
		Kind:   sig.Type,
		Detail: sig.Payload,
	}); err != nil {
		return err
	}
	issue := fmt.Sprintf("node %q violated pipeline rules", node.ID)
	if detail, ok := sig.Payload["detail"].(string); ok && detail != "" {
		issue = fmt.Sprintf("%s: %s", issue, detail)
	}
	decision, err := g.EscalateToTerminal(ctx, issue, node.ID, []string{"retry", "abandon"})
	if err != nil {
		return err
	}
	switch decision.Decision {
	case "retry":
		if err := g.transition(node.ID, pipeline.StatusActive, nil); err != nil {
			return err
		}
		_, err := g.launchRunner(ctx, node)
		return err
	case "abandon":
		return &AbandonedError{PipelineID: g.cfg.PipelineID, Reason: issue}
	default:
		return fmt.Errorf("node %q: unknown operator decision %q", node.ID, decision.Decision)
	}
}

// relayToOperator forwards a Runner question to the Terminal layer and pipes
// the answer back into the same session.
func (g *Guardian) relayToOperator(ctx context.Context, sig *signal.Signal) error {
	payload := map[string]any{"pipeline": g.cfg.PipelineID}
	for k, v := range sig.Payload {
		payload[k] = v
	}
	_, err := g.bus.Write(&signal.Signal{
		Source:  signal.LayerGuardian,
		Target:  signal.LayerTerminal,
		Type:    sig.Type,
		NodeID:  sig.NodeID,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("relay %s for %q: %w", sig.Type, sig.NodeID, err)
	}

	resp, err := g.bus.Wait(ctx, signal.Filter{
		Target: signal.LayerGuardian,
		NodeID: sig.NodeID,
		Types:  []string{signal.TypeOperatorDecision, signal.TypeInputResponse},
	}, g.cfg.DecisionTimeout, g.cfg.SignalPoll)
	if err != nil {
		return fmt.Errorf("awaiting operator answer for %q: %w", sig.NodeID, err)
	}
	g.countSignal(resp.Type)

	replyType := signal.TypeInputResponse
	if sig.Type == signal.TypeNeedsReview {
		replyType = signal.TypeGuidance
	}
	return g.respond(sig.NodeID, replyType, resp.Payload)
}

// handleHumanDecision resolves a parked wait.human node.
func (g *Guardian) handleHumanDecision(sig *signal.Signal) error {
	g.mu.Lock()
	waiting := g.waitingHuman[sig.NodeID]
	delete(g.waitingHuman, sig.NodeID)
	g.mu.Unlock()
	if !waiting {
		g.logger.Warn("decision for node not awaiting input", "node_id", sig.NodeID)
		return nil
	}
	if err := g.transition(sig.NodeID, pipeline.StatusImplComplete, nil); err != nil {
		return err
	}
	return g.transition(sig.NodeID, pipeline.StatusValidated, &lifecycle.Evidence{
		Kind:   lifecycle.EvidenceAutoValidated,
		Source: sig.Source,
		Detail: sig.Payload,
	})
}

func (g *Guardian) respond(nodeID, sigType string, payload map[string]any) error {
	_, err := g.bus.Write(&signal.Signal{
		Source:  signal.LayerGuardian,
		Target:  signal.LayerRunner,
		Type:    sigType,
		NodeID:  nodeID,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("respond %s to %q: %w", sigType, nodeID, err)
	}
	return nil
}

func (g *Guardian) node(id string) *pipeline.Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.graph.Node(id)
}

func (g *Guardian) retryCount(nodeID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.graph.Node(nodeID).RetryCount
}
