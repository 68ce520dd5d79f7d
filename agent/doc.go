// Package agent contains the agent variants that make up an agent tree and
// the plumbing they share.
//
// The variant set is closed:
//
//  1. LlmAgent, the leaf driving the model/tool loop (see package flow)
//  2. SequentialAgent, running children in order
//  3. ParallelAgent, running children concurrently on forked branches
//  4. LoopAgent, repeating children until terminated or exhausted
//
// Trees are built bottom-up: children are passed to the parent's constructor
// and cannot be re-parented. Constructors validate the tree shape and return
// *core.ConfigError for invalid input.
//
// Execution model:
//   - Run returns a channel fed by a goroutine; it is closed when the agent is done
//   - composites forward their children's events and never re-record them
//   - every agent checks the invocation's cancellation flag between events
//   - panics are recovered into AGENT_PANIC error events
package agent
