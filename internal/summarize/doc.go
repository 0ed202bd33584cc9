// Package summarize defines the boundary to the external summarizer: the
// artifact/window types, the error classification the engine keys its retry
// decisions on, and an HTTP client implementation.
package summarize
