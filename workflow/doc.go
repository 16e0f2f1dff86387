// Package workflow coordinates several independently configured agents.
//
// Concurrent fans one task out to every agent at once. Runs are independent:
// a failing agent never cancels its siblings, and results are returned in
// the configured agent order regardless of completion order. Each run can
// persist a metadata record (timestamps and terminal state per agent) as JSON.
//
// Sequential pipes the output of each agent into the next one.
package workflow
