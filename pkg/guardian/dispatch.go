package guardian

import (
	"context"
	"errors"
	"fmt"

	"github.com/bjornslib/attractor/pkg/lease"
	"github.com/bjornslib/attractor/pkg/lifecycle"
	"github.com/bjornslib/attractor/pkg/pipeline"
	"github.com/bjornslib/attractor/pkg/signal"
)

// dispatchReady walks the graph once and advances every node whose
// dependencies are all validated. Local handlers complete in place; codergen
// nodes get a Runner; wait.human nodes get a question on the bus. It returns
// true when any node changed state, so the caller rescans before blocking.
func (g *Guardian) dispatchReady(ctx context.Context) (bool, error) {
	progressed := false
	for _, node := range g.readyNodes() {
		moved, err := g.dispatchNode(ctx, node)
		if err != nil {
			return progressed, err
		}
		progressed = progressed || moved
	}
	return progressed, nil
}

// readyNodes snapshots the nodes eligible for dispatch: pending nodes whose
// upstream edges all lead from validated nodes, plus active nodes orphaned
// by a previous Guardian crash.
func (g *Guardian) readyNodes() []*pipeline.Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []*pipeline.Node
	for _, n := range g.graph.NodesInOrder() {
		switch n.Status {
		case pipeline.StatusPending:
			if g.depsValidated(n.ID) {
				ready = append(ready, n)
			}
		case pipeline.StatusActive:
			// A restored checkpoint can hold active nodes with no live
			// Runner behind them. Re-dispatch without burning a retry.
			if !g.inflight[n.ID] && !g.waitingHuman[n.ID] {
				ready = append(ready, n)
			}
		}
	}
	return ready
}

func (g *Guardian) depsValidated(nodeID string) bool {
	for _, dep := range g.graph.Dependencies(nodeID) {
		if g.graph.Node(dep).Status != pipeline.StatusValidated {
			return false
		}
	}
	return true
}

func (g *Guardian) dispatchNode(ctx context.Context, node *pipeline.Node) (bool, error) {
	switch node.Handler {
	case pipeline.HandlerStart, pipeline.HandlerExit,
		pipeline.HandlerConditional, pipeline.HandlerParallel:
		return true, g.completeLocal(node.ID)
	case pipeline.HandlerTool:
		return true, g.runTool(ctx, node)
	case pipeline.HandlerHuman:
		return true, g.askHuman(node)
	case pipeline.HandlerCodergen:
		return g.launchRunner(ctx, node)
	default:
		return false, fmt.Errorf("node %q: no dispatch for handler %q", node.ID, node.Handler)
	}
}

// completeLocal drives a node the Guardian itself executes through the full
// lifecycle. Start, exit, conditional and parallel nodes have no external
// work to wait on.
func (g *Guardian) completeLocal(nodeID string) error {
	ev := &lifecycle.Evidence{Kind: lifecycle.EvidenceAutoValidated, Source: signal.LayerGuardian}
	for g.nodeStatus(nodeID) != pipeline.StatusValidated {
		var to pipeline.Status
		switch g.nodeStatus(nodeID) {
		case pipeline.StatusPending:
			to = pipeline.StatusActive
		case pipeline.StatusActive:
			to = pipeline.StatusImplComplete
		case pipeline.StatusImplComplete:
			to = pipeline.StatusValidated
		default:
			return fmt.Errorf("node %q: cannot auto-complete from %q", nodeID, g.nodeStatus(nodeID))
		}
		if err := g.transition(nodeID, to, ev); err != nil {
			return err
		}
	}
	g.logger.Debug("node auto-completed", "node_id", nodeID)
	return nil
}

func (g *Guardian) nodeStatus(nodeID string) pipeline.Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.graph.Node(nodeID).Status
}

// runTool executes a deterministic tool node synchronously, retrying within
// the node's budget before escalating.
func (g *Guardian) runTool(ctx context.Context, node *pipeline.Node) error {
	if g.nodeStatus(node.ID) != pipeline.StatusActive {
		if err := g.transition(node.ID, pipeline.StatusActive, nil); err != nil {
			return err
		}
	}
	for {
		runErr := g.tools.Run(ctx, node, g.cfg.ProjectRoot)
		if runErr == nil {
			if err := g.transition(node.ID, pipeline.StatusImplComplete, nil); err != nil {
				return err
			}
			return g.transition(node.ID, pipeline.StatusValidated, &lifecycle.Evidence{
				Kind:   lifecycle.EvidenceAutoValidated,
				Source: signal.LayerGuardian,
			})
		}

		g.logger.Warn("tool node failed", "node_id", node.ID, "err", runErr)
		if err := g.transition(node.ID, pipeline.StatusFailed, &lifecycle.Evidence{
			Kind:   "TOOL_FAILED",
			Detail: map[string]any{"error": runErr.Error()},
		}); err != nil {
			return err
		}

		retryErr := g.transition(node.ID, pipeline.StatusActive, nil)
		if retryErr == nil {
			g.metrics.Retries.WithLabelValues(g.cfg.PipelineID).Inc()
			continue
		}
		var exhausted *lifecycle.MaxRetriesExceededError
		if !errors.As(retryErr, &exhausted) {
			return retryErr
		}
		return g.escalateFailure(ctx, node, runErr.Error())
	}
}

// askHuman parks a wait.human node until a decision signal names it.
func (g *Guardian) askHuman(node *pipeline.Node) error {
	if g.nodeStatus(node.ID) != pipeline.StatusActive {
		if err := g.transition(node.ID, pipeline.StatusActive, nil); err != nil {
			return err
		}
	}
	question, _ := node.Attr("question")
	_, err := g.bus.Write(&signal.Signal{
		Source: signal.LayerGuardian,
		Target: signal.LayerTerminal,
		Type:   signal.TypeNeedsInput,
		NodeID: node.ID,
		Payload: map[string]any{
			"pipeline": g.cfg.PipelineID,
			"question": question,
		},
	})
	if err != nil {
		return fmt.Errorf("request input for %q: %w", node.ID, err)
	}
	g.mu.Lock()
	g.waitingHuman[node.ID] = true
	g.mu.Unlock()
	return nil
}

// launchRunner dispatches a codergen node under a lease. A held lease means
// another Guardian owns the node right now; the node is skipped this cycle.
func (g *Guardian) launchRunner(ctx context.Context, node *pipeline.Node) (bool, error) {
	release, err := g.locker.Acquire(ctx, lease.Key(node.ID, g.cfg.SessionID), g.cfg.LeaseTTL)
	if errors.Is(err, lease.ErrHeld) {
		g.logger.Debug("node leased elsewhere", "node_id", node.ID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lease node %q: %w", node.ID, err)
	}

	if g.nodeStatus(node.ID) != pipeline.StatusActive {
		if err := g.transition(node.ID, pipeline.StatusActive, nil); err != nil {
			g.releaseQuiet(ctx, node.ID, release)
			return false, err
		}
	}
	if err := g.launcher.Launch(ctx, node, node.RetryCount); err != nil {
		g.releaseQuiet(ctx, node.ID, release)
		return false, fmt.Errorf("launch runner for %q: %w", node.ID, err)
	}

	g.mu.Lock()
	g.leases[node.ID] = release
	g.inflight[node.ID] = true
	g.mu.Unlock()

	g.metrics.Dispatches.WithLabelValues(g.cfg.PipelineID).Inc()
	g.logger.Info("runner dispatched",
		"node_id", node.ID, "attempt", node.RetryCount, "worker_type", node.WorkerType)
	return true, nil
}

func (g *Guardian) releaseQuiet(ctx context.Context, nodeID string, release lease.ReleaseFunc) {
	if release == nil {
		return
	}
	if err := release(ctx); err != nil {
		g.logger.Warn("lease release failed", "node_id", nodeID, "err", err)
	}
}

// releaseNode drops the lease and in-flight record for a node whose Runner
// is gone.
func (g *Guardian) releaseNode(ctx context.Context, nodeID string) {
	g.mu.Lock()
	release := g.leases[nodeID]
	delete(g.leases, nodeID)
	delete(g.inflight, nodeID)
	g.mu.Unlock()
	g.releaseQuiet(ctx, nodeID, release)
}

// escalateFailure reports a node whose retry budget is spent and applies the
// operator's decision.
func (g *Guardian) escalateFailure(ctx context.Context, node *pipeline.Node, issue string) error {
	decision, err := g.EscalateToTerminal(ctx,
		fmt.Sprintf("node %q exhausted its retry budget: %s", node.ID, issue),
		node.ID, []string{"retry", "abandon"})
	if err != nil {
		return err
	}
	switch decision.Decision {
	case "retry":
		g.mu.Lock()
		node.RetryCount = 0
		g.mu.Unlock()
		return g.transition(node.ID, pipeline.StatusActive, nil)
	case "abandon":
		return &AbandonedError{PipelineID: g.cfg.PipelineID, Reason: issue}
	default:
		return fmt.Errorf("node %q: unknown operator decision %q", node.ID, decision.Decision)
	}
}
