package summarize

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Window is the input slice a summary covers.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (w Window) Duration() time.Duration { return w.To.Sub(w.From) }

// Options tune one summarize call.
type Options struct {
	// MaxLength caps the artifact body in runes; 0 means provider default.
	MaxLength int `json:"max_length,omitempty"`
	// Language is an optional BCP-47 hint (e.g. "en", "id").
	Language string `json:"language,omitempty"`
}

// Artifact is the produced output of one summarize call.
type Artifact struct {
	// Title is a short heading for the artifact (may be empty).
	Title string `json:"title,omitempty"`
	// Body is the summary text. It may contain fenced ``` blocks that must
	// survive delivery chunking intact.
	Body string `json:"body"`
	// SourceRef echoes the summarized resource.
	SourceRef string `json:"source_ref"`
	// Window echoes the covered input window.
	Window Window `json:"window"`
	// ItemCount is how many input items the summary covers (0 if unknown).
	ItemCount int `json:"item_count,omitempty"`
	// GeneratedAt is when the provider produced the artifact.
	GeneratedAt time.Time `json:"generated_at"`
}

// Summarizer turns an input window of a source into an artifact.
//
// The engine consumes this purely as a capability; prompt and model
// internals live behind the implementation.
type Summarizer interface {
	Summarize(ctx context.Context, sourceRef string, w Window, opts Options) (*Artifact, error)
}

// ErrInsufficientInput marks the expected "nothing to report" outcome:
// the window held too little input to summarize. It is non-retryable and
// never counts toward auto-pause.
var ErrInsufficientInput = errors.New("insufficient input for summary")

// InsufficientInput wraps err (or creates a bare error) so callers can
// classify it with IsInsufficientInput.
func InsufficientInput(detail string) error {
	if detail == "" {
		return ErrInsufficientInput
	}
	return fmt.Errorf("%w: %s", ErrInsufficientInput, detail)
}

func IsInsufficientInput(err error) bool {
	return errors.Is(err, ErrInsufficientInput)
}

// TransientError marks a retryable upstream failure (unavailable,
// rate-limited, timed out). Anything that is neither a transient error nor
// insufficient input is still treated as transient by the engine; only the
// explicit insufficient-input signal short-circuits retries.
type TransientError struct {
	Detail string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("summarizer transient: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("summarizer transient: %s", e.Detail)
}

func (e *TransientError) Unwrap() error { return e.Err }

func Transient(detail string, err error) error {
	return &TransientError{Detail: detail, Err: err}
}

// RequestError marks a rejection of the request itself (bad credentials,
// malformed payload). Repeating the same request cannot succeed, so it is
// never retried.
type RequestError struct {
	Status int
	Detail string
}

func (e *RequestError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("summarizer rejected request: status %d", e.Status)
	}
	return fmt.Sprintf("summarizer rejected request: status %d: %s", e.Status, e.Detail)
}
