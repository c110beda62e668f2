// Package terminal implements the operator-facing bridge layer. It launches
// one Guardian per configured pipeline, consumes the signals addressed to
// the terminal, and surfaces them for a human decision.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bjornslib/attractor/internal/logging"
	"github.com/bjornslib/attractor/internal/validator"
	"github.com/bjornslib/attractor/pkg/checkpoint"
	"github.com/bjornslib/attractor/pkg/guardian"
	"github.com/bjornslib/attractor/pkg/pipeline/dot"
	"github.com/bjornslib/attractor/pkg/signal"
)

// PipelineConfig names one pipeline the bridge supervises.
type PipelineConfig struct {
	ID          string `json:"id" yaml:"id"`
	DOTPath     string `json:"dot_path" yaml:"dot_path"`
	ProjectRoot string `json:"project_root" yaml:"project_root"`
}

// Config parameterizes the bridge.
type Config struct {
	Pipelines []PipelineConfig

	// DryRun parses and validates every pipeline without executing any node.
	DryRun bool

	SignalTimeout time.Duration
	SignalPoll    time.Duration
}

// Notifier receives every signal addressed to the terminal layer.
type Notifier interface {
	Notify(sig *signal.Signal)
}

// LogNotifier prints terminal signals through slog.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(sig *signal.Signal) {
	n.Logger.Info("operator attention required",
		"type", sig.Type, "source", sig.Source, "node_id", sig.NodeID,
		"payload", sig.Payload)
}

// Bridge supervises the Guardians of a session.
type Bridge struct {
	cfg         Config
	bus         *signal.Bus
	checkpoints *checkpoint.Manager
	notifier    Notifier
	logger      *slog.Logger
	guardianOpt []guardian.Option

	mu        sync.RWMutex
	guardians map[string]*guardian.Guardian
	finished  map[string]bool
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithNotifier replaces the default log notifier.
func WithNotifier(n Notifier) Option {
	return func(b *Bridge) { b.notifier = n }
}

// WithLogger sets the bridge logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithGuardianOptions passes extra options to every Guardian the bridge
// creates.
func WithGuardianOptions(opts ...guardian.Option) Option {
	return func(b *Bridge) { b.guardianOpt = opts }
}

// NewBridge creates a Bridge over a shared bus and checkpoint store.
func NewBridge(cfg Config, bus *signal.Bus, checkpoints *checkpoint.Manager, opts ...Option) *Bridge {
	if cfg.SignalTimeout <= 0 {
		cfg.SignalTimeout = 10 * time.Minute
	}
	if cfg.SignalPoll <= 0 {
		cfg.SignalPoll = time.Second
	}
	b := &Bridge{
		cfg:         cfg,
		bus:         bus,
		checkpoints: checkpoints,
		logger:      logging.NewNop(),
		guardians:   make(map[string]*guardian.Guardian),
		finished:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.notifier == nil {
		b.notifier = LogNotifier{Logger: b.logger}
	}
	return b
}

// Run executes every configured pipeline to completion. In dry-run mode it
// only parses and validates them.
func (b *Bridge) Run(ctx context.Context) error {
	if len(b.cfg.Pipelines) == 0 {
		return errors.New("no pipelines configured")
	}
	if b.cfg.DryRun {
		return b.dryRun()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	grp, ctx := errgroup.WithContext(ctx)
	for _, pc := range b.cfg.Pipelines {
		g := guardian.New(guardian.Config{
			PipelineID:    pc.ID,
			SessionID:     pc.ID,
			DOTPath:       pc.DOTPath,
			ProjectRoot:   pc.ProjectRoot,
			SignalTimeout: b.cfg.SignalTimeout,
			SignalPoll:    b.cfg.SignalPoll,
		}, b.bus, b.checkpoints, b.guardianOpt...)

		b.mu.Lock()
		b.guardians[pc.ID] = g
		b.mu.Unlock()

		id := pc.ID
		grp.Go(func() error {
			err := g.Run(ctx)
			b.mu.Lock()
			b.finished[id] = true
			done := len(b.finished) == len(b.cfg.Pipelines)
			b.mu.Unlock()
			if done {
				cancel()
			}
			if err != nil {
				return fmt.Errorf("pipeline %q: %w", id, err)
			}
			return nil
		})
	}

	grp.Go(func() error {
		b.watch(ctx)
		return nil
	})

	err := grp.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watch consumes terminal-addressed signals until the context ends.
func (b *Bridge) watch(ctx context.Context) {
	for {
		sig, err := b.bus.Wait(ctx, signal.Filter{Target: signal.LayerTerminal},
			b.cfg.SignalTimeout, b.cfg.SignalPoll)
		if err != nil {
			var te *signal.TimeoutError
			if errors.As(err, &te) {
				continue
			}
			return
		}
		b.notifier.Notify(sig)
	}
}

func (b *Bridge) dryRun() error {
	var problems []string
	for _, pc := range b.cfg.Pipelines {
		g, err := dot.ParseFile(pc.DOTPath)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", pc.ID, err))
			continue
		}
		if violations := validator.Validate(g); len(violations) > 0 {
			for _, v := range violations {
				problems = append(problems, fmt.Sprintf("%s: %s", pc.ID, v))
			}
			continue
		}
		b.logger.Info("pipeline valid",
			"pipeline", pc.ID, "nodes", len(g.NodeIDs()))
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("dry run found problems:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

// Decide writes an operator decision for a pipeline's node onto the bus.
func (b *Bridge) Decide(nodeID, decision, guidance string) error {
	payload := map[string]any{"decision": decision}
	if guidance != "" {
		payload["guidance"] = guidance
	}
	_, err := b.bus.Write(&signal.Signal{
		Source:  signal.LayerTerminal,
		Target:  signal.LayerGuardian,
		Type:    signal.TypeOperatorDecision,
		NodeID:  nodeID,
		Payload: payload,
	})
	return err
}

// Status reports a snapshot per supervised pipeline, sorted by ID.
func (b *Bridge) Status() []guardian.Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.guardians))
	for id := range b.guardians {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]guardian.Snapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.guardians[id].Snapshot())
	}
	return out
}
