// Package engine implements the flow scheduler.
//
// The scheduler advances a simulated global clock in fixed ticks. In each
// tick it draws flow templates by weight, starts one instance per
// concurrency slot, and steps the instances round-robin until every one of
// them has terminated. Instances start at a random offset inside the tick
// and keep their own local clock, which Decay intents advance.
//
// Single writer: a Run call drives the entity store, the value generator
// and the sinks from one goroutine. With a fixed seed, the same templates
// and the same initial store, two runs produce the same events and the same
// entity histories.
//
// Failure model:
//   - a behavior error or panic ends only that instance (StatusErrored)
//   - an entity store error aborts the run
//   - configuration problems are reported by New before anything runs
package engine
