// Package scheduler drives a hierarchical timing wheel from a clock source
// and hands due tasks to an execution sink.
//
// A Scheduler is driven either by its own periodic driver (Start) or by
// calling Heartbeat manually, which is how simulated-time tests run it.
// Heartbeats are serialized per Scheduler.
package scheduler
