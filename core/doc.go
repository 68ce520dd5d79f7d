// Package core provides the foundational domain types and interfaces of
// agenttree:
//
//   - Agents (nodes of a static tree returning lazy event sequences)
//   - Events (immutable records of agent, model and tool activity)
//   - InvocationContext / ToolContext (per-invocation scope and tool sandbox)
//   - Session and artifact store interfaces
//   - The error taxonomy and run configuration
//
// Implementation concerns (concrete agents, the tool loop, persistence
// backends, the runner) live in sibling packages.
package core
