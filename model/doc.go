// Package model defines the provider-agnostic abstractions for interacting
// with language models.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Normalize tool / function call representation (ToolDefinition)
//   - Classify provider failures into transient and permanent errors
//   - Facilitate deterministic testing (ScriptedModel)
//
// Providers (model/anthropic, model/openai, model/gemini) implement Model so
// higher layers (agents, flows) remain decoupled from vendor SDKs. Registry
// maps model names to provider factories and WithRateLimit throttles calls.
package model
