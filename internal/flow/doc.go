// Package flow provides the immutable data model for Synthesize flows.
//
// This package contains type definitions and pure functions over them:
// binding overlays, the After dependency graph, cycle detection, the --once
// rewrite, and graph exports (Mermaid, DOT). All other internal packages
// import flow; flow imports nothing internal. This keeps the model the
// foundational layer with no circular dependencies.
//
// Targets, Triggers, Nodes, and Flows are constructed once from validated
// configuration and never mutated afterwards. All mutable per-node run state
// lives in the engine package.
package flow
