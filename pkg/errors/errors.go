// SPDX-License-Identifier: Apache-2.0
// Package errors provides the typed error taxonomy of the consensus pipeline.
// Every fatal error carries the stage, role and round it happened in.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode classifies pipeline errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input or configuration was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeContextLost indicates the run was cancelled between rounds.
	CodeContextLost ErrorCode = "CONTEXT_LOST"

	// CodeParseFailure indicates a role response did not match its field
	// schema after all regeneration attempts.
	CodeParseFailure ErrorCode = "PARSE_FAILURE"

	// CodeStructuralDefect indicates a tag-nesting or text-identity violation.
	CodeStructuralDefect ErrorCode = "STRUCTURAL_DEFECT"

	// CodeStageExhaustion indicates a round budget was spent without
	// convergence. It is recorded for audit, never returned by a stage.
	CodeStageExhaustion ErrorCode = "STAGE_EXHAUSTION"

	// CodeCollaboratorFailure indicates the model invocation transport failed.
	CodeCollaboratorFailure ErrorCode = "COLLABORATOR_FAILURE"
)

// Context keys shared by every stage error.
const (
	KeyStage = "stage"
	KeyRole  = "role"
	KeyRound = "round"
)

// PipelineError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type PipelineError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)
	if loc := e.location(); loc != "" {
		b.WriteString(" (")
		b.WriteString(loc)
		b.WriteString(")")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *PipelineError) location() string {
	var parts []string
	for _, key := range []string{KeyStage, KeyRole, KeyRound} {
		if v, ok := e.Context[key]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", key, v))
		}
	}
	return strings.Join(parts, " ")
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *PipelineError) MarshalJSON() ([]byte, error) {
	out := struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		Err         string                 `json:"error,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Recoverable bool                   `json:"recoverable"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Context:     e.Context,
		Recoverable: e.Recoverable,
	}
	if e.Err != nil {
		out.Err = e.Err.Error()
	}
	return json.Marshal(out)
}

// New creates a new PipelineError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *PipelineError {
	return &PipelineError{
		Code:    code,
		Message: msg,
		Err:     cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithStage records the pipeline stage. An existing stage is kept so the
// innermost location wins when errors are re-wrapped on the way up.
func (e *PipelineError) WithStage(stage string) *PipelineError {
	if _, ok := e.Context[KeyStage]; ok {
		return e
	}
	return e.WithContext(KeyStage, stage)
}

// WithRole records the role that failed.
func (e *PipelineError) WithRole(role string) *PipelineError {
	if _, ok := e.Context[KeyRole]; ok {
		return e
	}
	return e.WithContext(KeyRole, role)
}

// WithRound records the negotiation round that failed.
func (e *PipelineError) WithRound(round int) *PipelineError {
	if _, ok := e.Context[KeyRound]; ok {
		return e
	}
	return e.WithContext(KeyRound, round)
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *PipelineError) WithRecoverable(recoverable bool) *PipelineError {
	e.Recoverable = recoverable
	return e
}

// Stage returns the recorded stage, if any.
func (e *PipelineError) Stage() string {
	s, _ := e.Context[KeyStage].(string)
	return s
}

// Role returns the recorded role, if any.
func (e *PipelineError) Role() string {
	s, _ := e.Context[KeyRole].(string)
	return s
}

// Round returns the recorded round, or 0.
func (e *PipelineError) Round() int {
	n, _ := e.Context[KeyRound].(int)
	return n
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *PipelineError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// AsPipelineError finds a PipelineError in the chain of err.
// Errors of any other kind are wrapped as internal.
func AsPipelineError(err error) *PipelineError {
	if err == nil {
		return nil
	}
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe
	}
	return New(CodeInternal, "wrapped error", err)
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	var pe *PipelineError
	if !stderrors.As(err, &pe) {
		return false
	}
	return pe.Code == code
}
