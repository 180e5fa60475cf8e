package normalize

import (
	"errors"
	"fmt"
)

// ErrPreprocessing is the umbrella failure kind. Every error returned by this
// package matches it under errors.Is.
var ErrPreprocessing = errors.New("preprocessing failure")

// Specific failure kinds. Each *Error carries exactly one of these.
var (
	ErrEmptyInput      = errors.New("empty input")
	ErrShape           = errors.New("shape error")
	ErrNumericCoercion = errors.New("numeric coercion error")
	ErrNumeric         = errors.New("numeric error")
)

// Error describes a single preprocessing failure. Row and Col are -1 when the
// failure is not tied to a cell.
type Error struct {
	Kind   error
	Row    int
	Col    int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := "normalize: " + e.Kind.Error()
	switch {
	case e.Row >= 0 && e.Col >= 0:
		msg += fmt.Sprintf(" at row %d, column %d", e.Row, e.Col)
	case e.Row >= 0:
		msg += fmt.Sprintf(" at row %d", e.Row)
	case e.Col >= 0:
		msg += fmt.Sprintf(" in channel %d", e.Col)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the umbrella kind, the specific kind and the cause.
func (e *Error) Unwrap() []error {
	errs := []error{ErrPreprocessing, e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newError(kind error, row, col int, detail string) *Error {
	return &Error{Kind: kind, Row: row, Col: col, Detail: detail}
}
