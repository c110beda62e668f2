// Package pipeline defines the graph data model for attractor pipelines.
//
// A pipeline is a directed graph parsed from a DOT file. Nodes carry a
// handler kind (what the node does) and a status (where it is in its
// lifecycle). The graph is the single source of truth for a run: the
// Guardian mutates it through the lifecycle package and persists it through
// the checkpoint package after every transition.
package pipeline
