// Package scheduler decides when tasks fire.
//
// It is trigger-only: the fire index maps task ids to their next due time
// (schedule-derived, or an in-memory retry of a failed attempt chain), a
// single loop sleeps until the earliest entry, and due tasks are handed to
// the engine without blocking. Next-run times are always derived from the
// schedule, never stored.
package scheduler
