// Package engine executes tasks on a bounded worker pool.
//
// The scheduler owns WHEN a task fires; the engine owns everything that
// happens once it does: marking the record running, invoking the task body
// (summarize or cleanup), deciding retries, advancing execution metadata,
// auto-pausing misbehaving tasks and fanning the artifact out through the
// delivery dispatcher. Executions are strictly serialized per task id and
// unordered across ids.
package engine
