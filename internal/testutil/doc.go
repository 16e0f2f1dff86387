// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing conversations, tool calls and tool handles.
// They are not intended for production usage.
package testutil
