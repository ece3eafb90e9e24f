package workpool

// Outcome classifies how a single task ended.
type Outcome int

const (
	// Succeeded means the task produced a usable value.
	Succeeded Outcome = iota
	// Failed means the task was attempted and did not produce a value.
	Failed
	// Skipped means the task's input was unusable and no attempt was made.
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Result is the value every pipeline task reduces to. Failures travel as data,
// never as panics or returned errors, so a window or page always completes.
type Result[T any] struct {
	SourceID string
	Value    T
	Outcome  Outcome
	Err      error
}

// Success builds a succeeded result.
func Success[T any](sourceID string, value T) Result[T] {
	return Result[T]{SourceID: sourceID, Value: value, Outcome: Succeeded}
}

// Failure builds a failed result carrying its cause.
func Failure[T any](sourceID string, err error) Result[T] {
	return Result[T]{SourceID: sourceID, Outcome: Failed, Err: err}
}

// Skip builds a skipped result; reason explains why the input was unusable.
func Skip[T any](sourceID string, reason error) Result[T] {
	return Result[T]{SourceID: sourceID, Outcome: Skipped, Err: reason}
}

// OK reports whether the result succeeded.
func (r Result[T]) OK() bool {
	return r.Outcome == Succeeded
}

// Reason returns the failure or skip reason as text, or "" on success.
func (r Result[T]) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
