package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjornslib/attractor/pkg/signal"
)

// fakeDriver is a scriptable in-memory session.
type fakeDriver struct {
	mu      sync.Mutex
	alive   bool
	output  string
	sent    []string
	killed  bool
	spawned bool
}

func (d *fakeDriver) Spawn(ctx context.Context, name, workdir, command string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spawned = true
	d.alive = true
	return nil
}

func (d *fakeDriver) Capture(ctx context.Context, name string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.output, nil
}

func (d *fakeDriver) Alive(ctx context.Context, name string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alive, nil
}

func (d *fakeDriver) Send(ctx context.Context, name, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, text)
	return nil
}

func (d *fakeDriver) Kill(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.killed = true
	d.alive = false
	return nil
}

func (d *fakeDriver) setOutput(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.output = s
}

func (d *fakeDriver) appendOutput(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.output += s
}

func (d *fakeDriver) die() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alive = false
}

func (d *fakeDriver) sentLines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.sent))
	copy(out, d.sent)
	return out
}

func testConfig(node string) Config {
	return Config{
		NodeID:          node,
		SessionName:     "sess-" + node,
		CheckInterval:   10 * time.Millisecond,
		StuckThreshold:  time.Hour,
		MaxTurns:        1000,
		GuardianTimeout: 5 * time.Second,
		GuardianPoll:    10 * time.Millisecond,
	}
}

// respond acts as the Guardian side: claim the next runner signal of the
// given type and answer it.
func respond(t *testing.T, bus *signal.Bus, expectType, nodeID, respType string, payload map[string]any) *signal.Signal {
	t.Helper()
	got, err := bus.Wait(context.Background(), signal.Filter{
		Target: signal.LayerGuardian,
		NodeID: nodeID,
		Types:  []string{expectType},
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, err)

	_, err = bus.Write(&signal.Signal{
		Source:  signal.LayerGuardian,
		Target:  signal.LayerRunner,
		Type:    respType,
		NodeID:  nodeID,
		Payload: payload,
	})
	require.NoError(t, err)
	return got
}

func TestMonitor_CompleteValidated(t *testing.T) {
	bus := signal.NewBus(t.TempDir())
	driver := &fakeDriver{}
	m := NewMonitor(testConfig("impl_a"), driver, bus)

	go func() {
		time.Sleep(30 * time.Millisecond)
		driver.setOutput("building...\nATTRACTOR:NODE_COMPLETE all done\n")
	}()
	go respond(t, bus, signal.TypeNodeComplete, "impl_a", signal.TypeValidationPassed, nil)

	outcome, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeComplete, outcome)
	assert.True(t, driver.spawned)
}

func TestMonitor_ValidationFailedFeedbackThenPass(t *testing.T) {
	bus := signal.NewBus(t.TempDir())
	driver := &fakeDriver{}
	m := NewMonitor(testConfig("impl_a"), driver, bus)

	driver.setOutput("ATTRACTOR:NODE_COMPLETE first attempt\n")

	go func() {
		sig := respond(t, bus, signal.TypeNodeComplete, "impl_a", signal.TypeValidationFailed,
			map[string]any{"feedback": "edge cases missing", "score": 40})
		assert.Equal(t, signal.TypeNodeComplete, sig.Type)

		// Session reacts to the feedback and finishes again.
		time.Sleep(30 * time.Millisecond)
		driver.appendOutput("fixing edge cases\nATTRACTOR:NODE_COMPLETE second attempt\n")
		respond(t, bus, signal.TypeNodeComplete, "impl_a", signal.TypeValidationPassed, nil)
	}()

	outcome, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeComplete, outcome)
	assert.Contains(t, driver.sentLines(), "edge cases missing")
}

func TestMonitor_CrashEmitsSignal(t *testing.T) {
	bus := signal.NewBus(t.TempDir())
	driver := &fakeDriver{}
	m := NewMonitor(testConfig("impl_a"), driver, bus)

	go func() {
		time.Sleep(30 * time.Millisecond)
		driver.die()
	}()

	outcome, err := m.Run(context.Background())
	assert.Equal(t, OutcomeCrashed, outcome)
	var ce *CrashedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "impl_a", ce.NodeID)

	found, err2 := bus.Find(signal.Filter{Target: signal.LayerGuardian, NodeID: "impl_a"})
	require.NoError(t, err2)
	require.Len(t, found, 1)
	assert.Equal(t, signal.TypeOrchestratorCrashed, found[0].Type)
}

func TestMonitor_NeedsInputRelaysAnswer(t *testing.T) {
	bus := signal.NewBus(t.TempDir())
	driver := &fakeDriver{}
	m := NewMonitor(testConfig("impl_a"), driver, bus)

	driver.setOutput("ATTRACTOR:NEEDS_INPUT which database?\n")

	go func() {
		sig := respond(t, bus, signal.TypeNeedsInput, "impl_a", signal.TypeInputResponse,
			map[string]any{"text": "use postgres"})
		assert.Contains(t, sig.Payload["question"], "which database")

		time.Sleep(30 * time.Millisecond)
		driver.appendOutput("ok, postgres it is\nATTRACTOR:NODE_COMPLETE\n")
		respond(t, bus, signal.TypeNodeComplete, "impl_a", signal.TypeValidationPassed, nil)
	}()

	outcome, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeComplete, outcome)
	assert.Contains(t, driver.sentLines(), "use postgres")
}

func TestMonitor_StuckThenKilled(t *testing.T) {
	bus := signal.NewBus(t.TempDir())
	driver := &fakeDriver{}
	cfg := testConfig("impl_a")
	cfg.StuckThreshold = 50 * time.Millisecond
	m := NewMonitor(cfg, driver, bus)

	driver.setOutput("thinking very hard\n") // never changes again

	go respond(t, bus, signal.TypeOrchestratorStuck, "impl_a", signal.TypeKillOrchestrator, nil)

	outcome, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeKilled, outcome)
	assert.True(t, driver.killed)
}

func TestMonitor_MaxTurnsTreatedAsStuck(t *testing.T) {
	bus := signal.NewBus(t.TempDir())
	driver := &fakeDriver{}
	cfg := testConfig("impl_a")
	cfg.MaxTurns = 2
	m := NewMonitor(cfg, driver, bus)

	// Output changes every cycle so the idle clock never fires, but the
	// turn budget does.
	stop := make(chan struct{})
	go func() {
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
				driver.appendOutput("chatter\n")
			}
		}
	}()
	defer close(stop)

	go respond(t, bus, signal.TypeOrchestratorStuck, "impl_a", signal.TypeKillOrchestrator, nil)

	outcome, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeKilled, outcome)
}

func TestMonitor_GuardianTimeout(t *testing.T) {
	bus := signal.NewBus(t.TempDir())
	driver := &fakeDriver{}
	cfg := testConfig("impl_a")
	cfg.GuardianTimeout = 200 * time.Millisecond
	m := NewMonitor(cfg, driver, bus)

	driver.setOutput("ATTRACTOR:NODE_COMPLETE\n")

	_, err := m.Run(context.Background())
	var te *signal.TimeoutError
	require.ErrorAs(t, err, &te)
}

func TestMonitor_StatePersisted(t *testing.T) {
	bus := signal.NewBus(t.TempDir())
	driver := &fakeDriver{}
	cfg := testConfig("impl_a")
	cfg.StatePath = t.TempDir() + "/impl_a.json"
	cfg.RetryCount = 1
	m := NewMonitor(cfg, driver, bus)

	driver.setOutput("ATTRACTOR:NODE_COMPLETE\n")
	go respond(t, bus, signal.TypeNodeComplete, "impl_a", signal.TypeValidationPassed, nil)

	_, err := m.Run(context.Background())
	require.NoError(t, err)

	st, err := LoadState(cfg.StatePath)
	require.NoError(t, err)
	assert.Equal(t, "impl_a", st.NodeID)
	assert.Equal(t, "sess-impl_a", st.SessionName)
	assert.Equal(t, 1, st.RetryCount)
}

func TestRegexInterpreter(t *testing.T) {
	ri := NewRegexInterpreter()
	cases := []struct {
		output     string
		want       Classification
		wantDetail string
	}{
		{"compiling sources\n", ClassWorking, ""},
		{"done\nATTRACTOR:NODE_COMPLETE summary here\n", ClassComplete, "summary here"},
		{"  ATTRACTOR:NEEDS_INPUT pick one\n", ClassNeedsInput, "pick one"},
		{"ATTRACTOR:NEEDS_REVIEW diff attached\n", ClassNeedsReview, "diff attached"},
		{"ATTRACTOR:VIOLATION touched forbidden path\n", ClassViolation, "touched forbidden path"},
		{"ATTRACTOR:NODE_COMPLETE\n", ClassComplete, "ATTRACTOR:NODE_COMPLETE"},
		{"All acceptance criteria are met.\n", ClassComplete, "All acceptance criteria are met."},
		{"I am waiting for your input on the schema.\n", ClassNeedsInput, "I am waiting for your input on the schema."},
	}
	for _, tc := range cases {
		obs := ri.Interpret(tc.output)
		assert.Equal(t, tc.want, obs.Classification, "output %q", tc.output)
		assert.Equal(t, tc.wantDetail, obs.Detail, "output %q", tc.output)
	}
}

func TestUnseen(t *testing.T) {
	assert.Equal(t, "new", unseen("oldnew", "old"))
	assert.Equal(t, "rewritten", unseen("rewritten", "different"))
	assert.Equal(t, "all", unseen("all", ""))
}
