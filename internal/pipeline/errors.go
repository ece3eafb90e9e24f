package pipeline

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// Sentinels returned by EvaluateCall and EvaluateAndWriteBack.
var (
	ErrNotFound     = eris.New("pipeline: completed call not found")
	ErrNoContent    = eris.New("pipeline: call has no transcript or messages")
	ErrInvalidRange = eris.New("pipeline: date range start must be before end")
)

// FetchError reports that the initial read of a pipeline failed. Nothing was
// processed and no summary exists.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("pipeline: fetch %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

var (
	errEmptyName       = eris.New("empty name")
	errEmptyOutput     = eris.New("empty transliteration")
	errNoRowsUpdated   = eris.New("no rows updated")
	errStatusUnknown   = eris.New("status unknown")
	errStatusUnchanged = eris.New("status unchanged")
	errNoTranscript    = eris.New("no transcript or messages")
)
