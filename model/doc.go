// Package model defines the provider‑agnostic Model Gateway used by the agent
// engine, plus concrete helpers for interacting with language models.
//
// Core goals:
//   - One request/response call per loop iteration (Generate)
//   - Normalize tool call representation (core.ToolCall, core.ToolDescriptor)
//   - Classify failures as retryable or permanent (IsRetryable, MarkPermanent)
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (e.g. OpenAI, Anthropic) implement the Model interface from this
// package so higher layers remain decoupled from vendor SDKs.
package model
