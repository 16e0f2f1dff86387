// Package core provides the foundational domain types shared by every other
// package in AgentSwarm:
//
//   - Message and Role (the unit stored in a conversation and replayed to models)
//   - ToolCall (a model's request to invoke a named tool)
//   - ToolDescriptor (name, description and parameter schema advertised to models)
//
// The package intentionally keeps behavior out of scope. Conversation storage,
// dispatch and execution live in the memory, tool and agent packages.
package core
