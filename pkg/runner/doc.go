// Package runner supervises one externally-hosted agent session for one
// pipeline node.
//
// A Monitor spawns the session through a SessionDriver, polls its captured
// terminal output, classifies it with an ObservationInterpreter, and talks
// to its Guardian over the signal bus. The session itself is an opaque
// black box: its only observable surface is captured text.
package runner
