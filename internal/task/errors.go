package task

import "fmt"

// ValidationError reports an invalid task definition (schedule, destinations,
// or record fields). It is returned synchronously from constructors and
// Schedule()-time validation; an invalid definition never reaches execution.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("task: invalid %s: %s", e.Field, e.Msg)
}

func invalidf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}
