// Package corpqlerr defines the typed error taxonomy visible at the engine
// boundary (spec §6, §7): ParseError, ValidationError, ExecutionError,
// Cancelled, and Timeout. Each carries a stable code and human-readable
// message, built on github.com/samber/oops the way holomush/holomush codes
// its boundary errors, rather than bare fmt.Errorf.
package corpqlerr

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// ParseError reports a syntax error with its source position. The parser
// must report the first error's position accurately (spec §4.1); Line/Col
// are plain fields so callers and tests can inspect them without unwrapping
// the oops chain.
type ParseError struct {
	Line    int
	Col     int
	Message string
	err     error
}

func NewParseError(line, col int, format string, args ...interface{}) *ParseError {
	msg := fmt.Sprintf(format, args...)
	return &ParseError{
		Line:    line,
		Col:     col,
		Message: msg,
		err: oops.Code("PARSE_ERROR").
			With("line", line).
			With("col", col).
			Errorf("%s", msg),
	}
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d:%d: %s", e.Line, e.Col, e.Message)
}

func (e *ParseError) Unwrap() error { return e.err }

// ValidationError reports a semantic error found during a single AST pass
// (spec §4.2). Code distinguishes the specific rule that failed (e.g.
// "UNKNOWN_NER_TYPE", "UNBOUND_VARIABLE"); ASTPath locates the offending
// node using Condition.ASTPath().
type ValidationError struct {
	Code    string
	Message string
	ASTPath string
	err     error
}

func NewValidationError(code, astPath, format string, args ...interface{}) *ValidationError {
	msg := fmt.Sprintf(format, args...)
	return &ValidationError{
		Code:    code,
		Message: msg,
		ASTPath: astPath,
		err: oops.Code(code).
			With("ast_path", astPath).
			Errorf("%s", msg),
	}
}

func (e *ValidationError) Error() string {
	if e.ASTPath != "" {
		return fmt.Sprintf("validation error [%s] at %s: %s", e.Code, e.ASTPath, e.Message)
	}
	return fmt.Sprintf("validation error [%s]: %s", e.Code, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.err }

// ValidationErrors is a non-empty batch of ValidationError, returned by the
// validator so all semantic problems in a query can be reported together
// (spec §8: "every query that fails reports a non-empty error list").
type ValidationErrors []*ValidationError

func (es ValidationErrors) Error() string {
	if len(es) == 1 {
		return es[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(es))
	for _, e := range es {
		msg += "\n  " + e.Error()
	}
	return msg
}

// ExecutionError reports an index/text I/O failure or an internal
// invariant violation encountered while evaluating a specific condition
// (spec §4.3, §6). Index names the failing index/text provider; ASTPath
// locates the condition that triggered the lookup.
type ExecutionError struct {
	Index   string
	ASTPath string
	Cause   error
	err     error
}

func NewExecutionError(index, astPath string, cause error) *ExecutionError {
	return &ExecutionError{
		Index:   index,
		ASTPath: astPath,
		Cause:   cause,
		err: oops.Code("EXECUTION_ERROR").
			With("index", index).
			With("ast_path", astPath).
			Wrap(cause),
	}
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution error on index %q at %s: %v", e.Index, e.ASTPath, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.err }

// Cancelled and Timeout are control-flow sentinels (spec §5, §7): fast-path
// aborts that must not be logged as errors and never carry partial
// results.
var (
	Cancelled = errors.New("corpusql: query cancelled")
	Timeout   = errors.New("corpusql: query timed out")
)

// FromContext maps a context error to the engine's Cancelled/Timeout
// sentinels, or returns nil if ctx carries no error.
func FromContext(ctx context.Context) error {
	switch ctx.Err() {
	case context.Canceled:
		return Cancelled
	case context.DeadlineExceeded:
		return Timeout
	default:
		return nil
	}
}
