package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bjornslib/attractor/internal/logging"
	"github.com/bjornslib/attractor/pkg/signal"
)

// Outcome is the terminal result of a supervision run.
type Outcome string

const (
	// OutcomeComplete means the node's work was validated by the Guardian.
	OutcomeComplete Outcome = "complete"
	// OutcomeKilled means the Guardian ordered the session terminated.
	OutcomeKilled Outcome = "killed"
	// OutcomeCrashed means the session disappeared out from under us.
	OutcomeCrashed Outcome = "crashed"
)

// Config parameterizes one supervision run.
type Config struct {
	NodeID      string
	SessionName string
	Workdir     string
	// Command launches the agent inside the session.
	Command string

	CheckInterval  time.Duration // poll cadence, default 2s
	StuckThreshold time.Duration // idle time before ORCHESTRATOR_STUCK, default 2m
	MaxTurns       int           // output-change budget, default 80

	GuardianTimeout time.Duration // wait bound after signaling, default 10m
	GuardianPoll    time.Duration // poll while waiting, default 1s

	// StatePath, when set, receives the supervision record each cycle.
	StatePath string

	// RetryCount is carried into signals so the Guardian sees which attempt
	// this session represents.
	RetryCount int
}

func (c *Config) applyDefaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 2 * time.Second
	}
	if c.StuckThreshold <= 0 {
		c.StuckThreshold = 2 * time.Minute
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = 80
	}
	if c.GuardianTimeout <= 0 {
		c.GuardianTimeout = 10 * time.Minute
	}
	if c.GuardianPoll <= 0 {
		c.GuardianPoll = time.Second
	}
}

// Monitor drives the supervision state machine for one node.
type Monitor struct {
	cfg    Config
	driver SessionDriver
	interp ObservationInterpreter
	bus    *signal.Bus
	logger *slog.Logger

	state State
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterpreter replaces the default regex interpreter.
func WithInterpreter(i ObservationInterpreter) Option {
	return func(m *Monitor) { m.interp = i }
}

// WithLogger sets the Monitor logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// NewMonitor creates a Monitor. The bus must point at the pipeline's
// signals directory shared with the Guardian.
func NewMonitor(cfg Config, driver SessionDriver, bus *signal.Bus, opts ...Option) *Monitor {
	cfg.applyDefaults()
	m := &Monitor{
		cfg:    cfg,
		driver: driver,
		interp: NewRegexInterpreter(),
		bus:    bus,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.state = State{
		NodeID:         cfg.NodeID,
		SessionName:    cfg.SessionName,
		PollInterval:   cfg.CheckInterval,
		StuckThreshold: cfg.StuckThreshold,
		RetryCount:     cfg.RetryCount,
		LastActivityTS: time.Now(),
	}
	return m
}

// State returns a copy of the current supervision record.
func (m *Monitor) State() State { return m.state }

// Run spawns the session and supervises it until a terminal outcome.
// The returned error is non-nil for crashes, guardian-wait timeouts, and
// driver failures; callers decide whether to retry or escalate.
func (m *Monitor) Run(ctx context.Context) (Outcome, error) {
	if err := m.driver.Spawn(ctx, m.cfg.SessionName, m.cfg.Workdir, m.cfg.Command); err != nil {
		return "", fmt.Errorf("spawn session: %w", err)
	}
	m.logger.Info("session spawned",
		"node_id", m.cfg.NodeID, "session", m.cfg.SessionName, "attempt", m.cfg.RetryCount)

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	lastCapture := ""
	handled := "" // output already acted upon
	lastChange := time.Now()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		alive, err := m.driver.Alive(ctx, m.cfg.SessionName)
		if err != nil {
			return "", fmt.Errorf("probe session: %w", err)
		}
		if !alive {
			crashErr := &CrashedError{NodeID: m.cfg.NodeID, Session: m.cfg.SessionName}
			m.signalGuardian(signal.TypeOrchestratorCrashed, map[string]any{
				"session": m.cfg.SessionName,
			})
			return OutcomeCrashed, crashErr
		}

		out, err := m.driver.Capture(ctx, m.cfg.SessionName)
		if err != nil {
			return "", fmt.Errorf("capture session output: %w", err)
		}
		if out != lastCapture {
			lastCapture = out
			lastChange = time.Now()
			m.state.Turns++
		}
		m.state.LastActivityTS = lastChange
		if err := m.state.save(m.cfg.StatePath); err != nil {
			m.logger.Warn("runner state not saved", "err", err)
		}

		// Interpret only output we have not acted on, so a marker does not
		// retrigger after the Guardian already answered it.
		obs := m.interp.Interpret(unseen(out, handled))

		switch obs.Classification {
		case ClassWorking:
			idle := time.Since(lastChange)
			overTurns := m.state.Turns > m.cfg.MaxTurns
			if idle < m.cfg.StuckThreshold && !overTurns {
				continue
			}
			stuckErr := &StuckError{NodeID: m.cfg.NodeID, Turns: m.state.Turns}
			if !overTurns {
				stuckErr = &StuckError{NodeID: m.cfg.NodeID, Idle: idle}
			}
			outcome, done, err := m.raise(ctx, signal.TypeOrchestratorStuck, map[string]any{
				"idle_seconds": int(idle.Seconds()),
				"turns":        m.state.Turns,
				"reason":       stuckErr.Error(),
			}, &handled, out, &lastChange)
			if err != nil || done {
				return outcome, err
			}

		case ClassComplete:
			outcome, done, err := m.raise(ctx, signal.TypeNodeComplete, map[string]any{
				"summary": obs.Detail,
				"turns":   m.state.Turns,
			}, &handled, out, &lastChange)
			if err != nil || done {
				return outcome, err
			}

		case ClassNeedsInput:
			outcome, done, err := m.raise(ctx, signal.TypeNeedsInput, map[string]any{
				"question": obs.Detail,
			}, &handled, out, &lastChange)
			if err != nil || done {
				return outcome, err
			}

		case ClassNeedsReview:
			outcome, done, err := m.raise(ctx, signal.TypeNeedsReview, map[string]any{
				"context": obs.Detail,
			}, &handled, out, &lastChange)
			if err != nil || done {
				return outcome, err
			}

		case ClassViolation:
			outcome, done, err := m.raise(ctx, signal.TypeViolation, map[string]any{
				"violation": obs.Detail,
			}, &handled, out, &lastChange)
			if err != nil || done {
				return outcome, err
			}
		}
	}
}

// raise signals the Guardian, waits for its response, and applies it.
// done reports a terminal outcome; otherwise supervision continues.
func (m *Monitor) raise(
	ctx context.Context,
	sigType string,
	payload map[string]any,
	handled *string,
	capture string,
	lastChange *time.Time,
) (Outcome, bool, error) {
	*handled = capture

	m.signalGuardian(sigType, payload)

	resp, err := m.WaitForGuardian(ctx, m.cfg.GuardianTimeout)
	if err != nil {
		return "", true, fmt.Errorf("awaiting guardian after %s: %w", sigType, err)
	}
	m.logger.Info("guardian responded",
		"node_id", m.cfg.NodeID, "signal", sigType, "response", resp.Type)

	switch resp.Type {
	case signal.TypeValidationPassed:
		return OutcomeComplete, true, nil

	case signal.TypeKillOrchestrator:
		if err := m.driver.Kill(ctx, m.cfg.SessionName); err != nil {
			return OutcomeKilled, true, fmt.Errorf("kill session: %w", err)
		}
		return OutcomeKilled, true, nil

	case signal.TypeValidationFailed:
		var vp signal.ValidationPayload
		if err := signal.DecodePayload(resp, &vp); err != nil {
			m.logger.Warn("undecodable validation payload", "err", err)
		}
		feedback := vp.Feedback
		if feedback == "" {
			feedback = "Validation failed. Review the acceptance criteria and fix the gaps."
		}
		if err := m.driver.Send(ctx, m.cfg.SessionName, feedback); err != nil {
			return "", true, fmt.Errorf("relay validation feedback: %w", err)
		}
		*lastChange = time.Now()
		m.state.Turns = 0
		return "", false, nil

	case signal.TypeInputResponse, signal.TypeGuidance:
		text, _ := resp.Payload["text"].(string)
		if text == "" {
			text, _ = resp.Payload["guidance"].(string)
		}
		if text != "" {
			if err := m.driver.Send(ctx, m.cfg.SessionName, text); err != nil {
				return "", true, fmt.Errorf("relay guardian response: %w", err)
			}
		}
		// A fresh answer resets both progress clocks.
		*lastChange = time.Now()
		m.state.Turns = 0
		return "", false, nil

	default:
		return "", true, fmt.Errorf("unexpected guardian response %q", resp.Type)
	}
}

// WaitForGuardian blocks until the Guardian answers this node, claiming and
// returning the response signal.
func (m *Monitor) WaitForGuardian(ctx context.Context, timeout time.Duration) (*signal.Signal, error) {
	return m.bus.Wait(ctx, signal.Filter{
		Target: signal.LayerRunner,
		NodeID: m.cfg.NodeID,
		Types: []string{
			signal.TypeValidationPassed,
			signal.TypeValidationFailed,
			signal.TypeInputResponse,
			signal.TypeKillOrchestrator,
			signal.TypeGuidance,
		},
	}, timeout, m.cfg.GuardianPoll)
}

func (m *Monitor) signalGuardian(sigType string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["attempt"] = m.cfg.RetryCount
	if _, err := m.bus.Write(&signal.Signal{
		Source:  signal.LayerRunner,
		Target:  signal.LayerGuardian,
		Type:    sigType,
		NodeID:  m.cfg.NodeID,
		Payload: payload,
	}); err != nil {
		m.logger.Error("signal to guardian failed", "type", sigType, "err", err)
	}
}

// unseen returns the portion of capture that extends beyond handled.
func unseen(capture, handled string) string {
	if handled != "" && strings.HasPrefix(capture, handled) {
		return capture[len(handled):]
	}
	return capture
}
