package models

import "fmt"

// CalculationError reports execution submission or stop failures: already
// running, unknown strategy, teardown failure
type CalculationError struct {
	Msg   string
	Cause error
}

func (e *CalculationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("calculation error: %s: %v", e.Msg, e.Cause)
	}
	return fmt.Sprintf("calculation error: %s", e.Msg)
}

func (e *CalculationError) Unwrap() error { return e.Cause }

// NewCalculationError creates a calculation error with an optional cause
func NewCalculationError(msg string, cause error) *CalculationError {
	return &CalculationError{Msg: msg, Cause: cause}
}

// InvalidStudy reports referential errors: study or execution not found,
// deletion count mismatch
type InvalidStudy struct {
	Msg string
}

func (e *InvalidStudy) Error() string {
	return fmt.Sprintf("invalid study: %s", e.Msg)
}

// NewInvalidStudy creates an invalid-study error
func NewInvalidStudy(format string, args ...interface{}) *InvalidStudy {
	return &InvalidStudy{Msg: fmt.Sprintf(format, args...)}
}

// StudyCaseError reports load or update failures wrapping an inner cause
type StudyCaseError struct {
	Msg   string
	Cause error
}

func (e *StudyCaseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("study case error: %s: %v", e.Msg, e.Cause)
	}
	return fmt.Sprintf("study case error: %s", e.Msg)
}

func (e *StudyCaseError) Unwrap() error { return e.Cause }

// NewStudyCaseError creates a study case error with an optional cause
func NewStudyCaseError(msg string, cause error) *StudyCaseError {
	return &StudyCaseError{Msg: msg, Cause: cause}
}

// InvalidFile reports study file access failures
type InvalidFile struct {
	Path  string
	Cause error
}

func (e *InvalidFile) Error() string {
	return fmt.Sprintf("invalid file %s: %v", e.Path, e.Cause)
}

func (e *InvalidFile) Unwrap() error { return e.Cause }

// InvalidStudyExecution reports execution-state precondition failures
type InvalidStudyExecution struct {
	Msg string
}

func (e *InvalidStudyExecution) Error() string {
	return fmt.Sprintf("invalid study execution: %s", e.Msg)
}

// NewInvalidStudyExecution creates an invalid-execution error
func NewInvalidStudyExecution(format string, args ...interface{}) *InvalidStudyExecution {
	return &InvalidStudyExecution{Msg: fmt.Sprintf(format, args...)}
}
