package guardian

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bjornslib/attractor/internal/logging"
	"github.com/bjornslib/attractor/internal/validator"
	"github.com/bjornslib/attractor/pkg/checkpoint"
	"github.com/bjornslib/attractor/pkg/lease"
	"github.com/bjornslib/attractor/pkg/lifecycle"
	"github.com/bjornslib/attractor/pkg/observability"
	"github.com/bjornslib/attractor/pkg/pipeline"
	"github.com/bjornslib/attractor/pkg/pipeline/dot"
	"github.com/bjornslib/attractor/pkg/signal"
)

// Config parameterizes one Guardian.
type Config struct {
	PipelineID  string
	SessionID   string
	DOTPath     string
	ProjectRoot string

	SignalTimeout time.Duration // per-cycle wait bound, default 10m
	SignalPoll    time.Duration // poll while waiting, default 1s
	LeaseTTL      time.Duration // node dispatch lease, default 30m
	// DecisionTimeout bounds waits for operator decisions after an
	// escalation. Escalations are meant to block until a human answers,
	// so the default is generous.
	DecisionTimeout time.Duration // default 24h
}

func (c *Config) applyDefaults() {
	if c.SignalTimeout <= 0 {
		c.SignalTimeout = 10 * time.Minute
	}
	if c.SignalPoll <= 0 {
		c.SignalPoll = time.Second
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 30 * time.Minute
	}
	if c.DecisionTimeout <= 0 {
		c.DecisionTimeout = 24 * time.Hour
	}
}

// Guardian conducts one pipeline.
type Guardian struct {
	cfg         Config
	bus         *signal.Bus
	checkpoints *checkpoint.Manager
	locker      lease.Locker
	launcher    RunnerLauncher
	checker     EvidenceChecker
	tools       ToolRunner
	metrics     *observability.Metrics
	logger      *slog.Logger

	mu           sync.RWMutex
	graph        *pipeline.Graph
	leases       map[string]lease.ReleaseFunc
	inflight     map[string]bool // nodes with a live Runner
	waitingHuman map[string]bool // wait.human nodes awaiting a decision
}

// Option configures a Guardian.
type Option func(*Guardian)

// WithLocker sets the dispatch locker (file-based by default).
func WithLocker(l lease.Locker) Option {
	return func(g *Guardian) { g.locker = l }
}

// WithLauncher sets how Runners are started.
func WithLauncher(l RunnerLauncher) Option {
	return func(g *Guardian) { g.launcher = l }
}

// WithChecker replaces the default evidence checker.
func WithChecker(c EvidenceChecker) Option {
	return func(g *Guardian) { g.checker = c }
}

// WithToolRunner replaces the default tool executor.
func WithToolRunner(t ToolRunner) Option {
	return func(g *Guardian) { g.tools = t }
}

// WithMetrics sets the shared metric set.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Guardian) { g.metrics = m }
}

// WithLogger sets the Guardian logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guardian) { g.logger = l }
}

// WithGraph supplies a pre-parsed graph instead of reading DOTPath.
func WithGraph(graph *pipeline.Graph) Option {
	return func(g *Guardian) { g.graph = graph }
}

// New creates a Guardian.
func New(cfg Config, bus *signal.Bus, checkpoints *checkpoint.Manager, opts ...Option) *Guardian {
	cfg.applyDefaults()
	g := &Guardian{
		cfg:          cfg,
		bus:          bus,
		checkpoints:  checkpoints,
		locker:       lease.NewFileLocker(""),
		checker:      DefaultChecker{},
		tools:        &ExecToolRunner{},
		metrics:      observability.New(),
		logger:       logging.NewNop(),
		leases:       make(map[string]lease.ReleaseFunc),
		inflight:     make(map[string]bool),
		waitingHuman: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Load parses or restores the pipeline graph and validates it. It prefers
// the newest checkpoint for the session so a restarted Guardian resumes
// where the previous one died.
func (g *Guardian) Load() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.graph == nil {
		restored, meta, err := g.checkpoints.Latest(g.cfg.SessionID)
		switch {
		case err == nil:
			g.logger.Info("resuming from checkpoint",
				"pipeline", g.cfg.PipelineID, "checkpoint_id", meta.ID)
			g.graph = restored
		case isNotFound(err):
			parsed, err := dot.ParseFile(g.cfg.DOTPath)
			if err != nil {
				return err
			}
			g.graph = parsed
		default:
			return err
		}
	}

	if violations := validator.Validate(g.graph); len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *checkpoint.NotFoundError
	return errors.As(err, &nf)
}

// Run executes the dispatch loop until the pipeline completes, is
// abandoned, or fails fatally.
func (g *Guardian) Run(ctx context.Context) error {
	if err := g.Load(); err != nil {
		return err
	}
	if _, err := g.saveCheckpoint(); err != nil {
		return err
	}

	for {
		if g.done() {
			g.announceComplete()
			g.logger.Info("pipeline complete", "pipeline", g.cfg.PipelineID)
			return nil
		}

		progressed, err := g.dispatchReady(ctx)
		if err != nil {
			return err
		}
		if progressed {
			// Local completions may have made more nodes ready.
			continue
		}

		if !g.anyInFlight() {
			return fmt.Errorf("pipeline %q wedged: no runnable nodes and nothing in flight", g.cfg.PipelineID)
		}

		sig, err := g.bus.Wait(ctx, signal.Filter{Target: signal.LayerGuardian},
			g.cfg.SignalTimeout, g.cfg.SignalPoll)
		if err != nil {
			var te *signal.TimeoutError
			if errors.As(err, &te) {
				if err := g.handleQuietPeriod(ctx); err != nil {
					return err
				}
				continue
			}
			return err
		}

		g.countSignal(sig.Type)
		if err := g.handle(ctx, sig); err != nil {
			return err
		}
	}
}

// handleQuietPeriod escalates a cycle that saw no signal at all. A timed-out
// wait triggers escalation, never an automatic retry.
func (g *Guardian) handleQuietPeriod(ctx context.Context) error {
	issue := fmt.Sprintf("no runner signal within %s", g.cfg.SignalTimeout)
	decision, err := g.EscalateToTerminal(ctx, issue, "", []string{"continue", "abandon"})
	if err != nil {
		return err
	}
	if decision.Decision == "abandon" {
		return &AbandonedError{PipelineID: g.cfg.PipelineID, Reason: issue}
	}
	return nil
}

func (g *Guardian) done() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	exit := g.graph.Exit()
	return exit != nil && exit.Status == pipeline.StatusValidated
}

func (g *Guardian) anyInFlight() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.inflight) > 0 || len(g.waitingHuman) > 0
}

// transition applies one lifecycle edge and checkpoints the result.
func (g *Guardian) transition(nodeID string, to pipeline.Status, ev *lifecycle.Evidence) error {
	g.mu.Lock()
	err := lifecycle.Apply(g.graph, nodeID, to, ev)
	g.mu.Unlock()
	if err != nil {
		return err
	}
	g.metrics.Transitions.WithLabelValues(g.cfg.PipelineID, string(to)).Inc()
	if _, err := g.saveCheckpoint(); err != nil {
		return err
	}
	return nil
}

func (g *Guardian) saveCheckpoint() (*checkpoint.Checkpoint, error) {
	g.mu.RLock()
	snapshot := g.graph.Clone()
	g.mu.RUnlock()

	cp, err := g.checkpoints.Save(snapshot, g.cfg.SessionID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint pipeline %q: %w", g.cfg.PipelineID, err)
	}
	g.metrics.Checkpoints.Inc()
	return cp, nil
}

func (g *Guardian) countSignal(sigType string) {
	g.metrics.Signals.WithLabelValues(sigType).Inc()
}

func (g *Guardian) announceComplete() {
	_, err := g.bus.Write(&signal.Signal{
		Source: signal.LayerGuardian,
		Target: signal.LayerTerminal,
		Type:   signal.TypePipelineComplete,
		Payload: map[string]any{
			"pipeline": g.cfg.PipelineID,
		},
	})
	if err != nil {
		g.logger.Warn("completion signal not written", "err", err)
	}
}

// EscalateToTerminal surfaces an issue to the Terminal layer and blocks for
// an operator decision. Pipeline-level escalations get a generated node id so
// the decision wait cannot claim answers addressed to a real node.
func (g *Guardian) EscalateToTerminal(ctx context.Context, issue, nodeID string, options []string) (*signal.DecisionPayload, error) {
	if nodeID == "" {
		nodeID = "escalation-" + uuid.NewString()
	}
	g.metrics.Escalations.WithLabelValues(g.cfg.PipelineID).Inc()
	g.logger.Warn("escalating to terminal",
		"pipeline", g.cfg.PipelineID, "node_id", nodeID, "issue", issue)

	_, err := g.bus.Write(&signal.Signal{
		Source: signal.LayerGuardian,
		Target: signal.LayerTerminal,
		Type:   signal.TypeEscalation,
		NodeID: nodeID,
		Payload: map[string]any{
			"pipeline": g.cfg.PipelineID,
			"issue":    issue,
			"options":  options,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("write escalation: %w", err)
	}

	resp, err := g.bus.Wait(ctx, signal.Filter{
		Target: signal.LayerGuardian,
		NodeID: nodeID,
		Types:  []string{signal.TypeOperatorDecision},
	}, g.cfg.DecisionTimeout, g.cfg.SignalPoll)
	if err != nil {
		return nil, fmt.Errorf("awaiting operator decision: %w", err)
	}
	g.countSignal(resp.Type)

	var decision signal.DecisionPayload
	if err := signal.DecodePayload(resp, &decision); err != nil {
		return nil, err
	}
	return &decision, nil
}

// NodeView is one node's externally visible state.
type NodeView struct {
	ID         string           `json:"id"`
	Handler    pipeline.Handler `json:"handler"`
	Status     pipeline.Status  `json:"status"`
	RetryCount int              `json:"retry_count"`
}

// Snapshot summarizes the pipeline for status consumers. It is safe to call
// concurrently with the dispatch loop.
type Snapshot struct {
	PipelineID string         `json:"pipeline_id"`
	Done       bool           `json:"done"`
	Counts     map[string]int `json:"counts"`
	Nodes      []NodeView     `json:"nodes"`
}

// Snapshot returns the current pipeline state.
func (g *Guardian) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := Snapshot{
		PipelineID: g.cfg.PipelineID,
		Counts:     make(map[string]int),
	}
	exit := g.graph.Exit()
	s.Done = exit != nil && exit.Status == pipeline.StatusValidated
	for _, n := range g.graph.NodesInOrder() {
		s.Counts[string(n.Status)]++
		s.Nodes = append(s.Nodes, NodeView{
			ID:         n.ID,
			Handler:    n.Handler,
			Status:     n.Status,
			RetryCount: n.RetryCount,
		})
	}
	return s
}
