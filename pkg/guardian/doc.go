// Package guardian implements the per-pipeline conductor.
//
// A Guardian owns one pipeline graph. Each cycle it scans for dispatch-ready
// nodes, spawns a Runner per ready codergen node, waits for Runner signals,
// validates the evidence they carry, applies lifecycle transitions, and
// checkpoints the graph after every transition. It is the sole writer of
// the graph; Runners and the Terminal only ever read it.
package guardian
