// Package store persists task records.
//
// It currently supports:
//   - a file backend (jsonl journal compacted into an atomic snapshot)
//   - an optional SQLite backend (build with -tags sqlite)
//   - a volatile memory backend for tests
//
// All backends tolerate individual corrupted records on load (skip and log)
// and expose export/import with per-record failure reporting.
package store
