// Package minipy implements the small Python-like teaching interpreter used by the lessons.
package minipy

import (
	"errors"
	"fmt"
)

// Error definitions for the failure kinds a run can end with.
var (
	ErrParseFailure      = errors.New("no statement shape matched")
	ErrUnknownVariable   = errors.New("unknown variable")
	ErrTypeMismatch      = errors.New("type mismatch")
	ErrConversionFailure = errors.New("conversion failure")
	ErrEmptyProgram      = errors.New("empty program")
	ErrIndexOutOfRange   = errors.New("index out of range")
	ErrZeroDivision      = errors.New("division by zero")
	ErrStepLimit         = errors.New("step limit exceeded")
	ErrNotWaiting        = errors.New("run is not waiting for input")
)

// ErrorKind classifies a failed run.
type ErrorKind int

const (
	KindParseFailure ErrorKind = iota
	KindUnknownVariable
	KindTypeMismatch
	KindConversionFailure
	KindEmptyProgram
	KindIndexOutOfRange
	KindZeroDivision
	KindStepLimit
)

var kindSentinels = map[ErrorKind]error{
	KindParseFailure:      ErrParseFailure,
	KindUnknownVariable:   ErrUnknownVariable,
	KindTypeMismatch:      ErrTypeMismatch,
	KindConversionFailure: ErrConversionFailure,
	KindEmptyProgram:      ErrEmptyProgram,
	KindIndexOutOfRange:   ErrIndexOutOfRange,
	KindZeroDivision:      ErrZeroDivision,
	KindStepLimit:         ErrStepLimit,
}

// String returns the Python exception name closest to the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindParseFailure:
		return "SyntaxError"
	case KindUnknownVariable:
		return "NameError"
	case KindTypeMismatch:
		return "TypeError"
	case KindConversionFailure:
		return "ValueError"
	case KindEmptyProgram:
		return "EmptyProgram"
	case KindIndexOutOfRange:
		return "IndexError"
	case KindZeroDivision:
		return "ZeroDivisionError"
	case KindStepLimit:
		return "LoopLimit"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// RunError is the structured failure of a parse or evaluation step.
type RunError struct {
	Kind    ErrorKind
	Line    int    // 1-based source line, 0 if unknown
	Snippet string // offending source text (trimmed line)
	Detail  string // technical description, never shown to kids
	Name    string // variable or function name for unknown-name failures

	// Indentation marks parse failures caused by block layout.
	Indentation bool
}

// Error implements the error interface
func (e *RunError) Error() string {
	msg := e.Kind.String()
	if e.Line > 0 {
		msg += fmt.Sprintf(" on line %d", e.Line)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap exposes the sentinel for errors.Is.
func (e *RunError) Unwrap() error {
	return kindSentinels[e.Kind]
}

func newRunError(kind ErrorKind, format string, args ...interface{}) *RunError {
	return &RunError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// atLine fills in position information unless an inner step already did.
func (e *RunError) atLine(line int, snippet string) *RunError {
	if e.Line == 0 {
		e.Line = line
	}
	if e.Snippet == "" {
		e.Snippet = snippet
	}
	return e
}

// asRunError converts any error into a *RunError.
func asRunError(err error) *RunError {
	var re *RunError
	if errors.As(err, &re) {
		return re
	}
	return &RunError{Kind: KindParseFailure, Detail: err.Error()}
}
