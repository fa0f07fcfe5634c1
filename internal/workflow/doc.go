// Package workflow implements the DAG workflow engine: definition types,
// structural validation, and level-by-level execution.
//
// A Workflow is a set of typed nodes connected by directed edges. The
// DAGValidator checks the graph for structural soundness (cycles, size
// limits, edge integrity, connectivity) and computes the level-based
// execution topology. The Executor then runs the workflow level by level:
// nodes within a level execute concurrently under a bounded semaphore, and
// each level joins before the next begins so predecessor outputs are always
// committed before successors resolve their inputs.
//
// Per-node execution control covers timeouts (per attempt), retry policies
// with constant, linear, or exponential backoff, and a non-retryable error
// allowlist. A node failure never aborts the run: downstream nodes are
// skipped while independent branches continue, and the run ends PARTIAL
// when at least one terminal output was still produced.
//
// Condition nodes branch by evaluating sandboxed boolean expressions on
// their outgoing edges; see ConditionEvaluator for the expression grammar.
// Tool and agent nodes delegate to external collaborators through the
// ToolInvoker and AgentInvoker interfaces.
package workflow
