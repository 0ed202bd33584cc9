// Package task holds the scheduled-task data model: the task record, its
// schedule variants with pure next-fire computation, delivery destinations,
// and execution metadata.
//
// Records are mutated only by the scheduler and the engine; callers treat
// them as values. next-run times are always derived from
// (schedule, last_run_at, created_at, now) and never stored, so a record
// can't drift from its schedule.
package task
