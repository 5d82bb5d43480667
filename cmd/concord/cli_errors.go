// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jllopis/concord/pkg/errors"
)

// CLIError wraps PipelineError with CLI-specific formatting and hints.
type CLIError struct {
	*errors.PipelineError
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(pe *errors.PipelineError, hint string) *CLIError {
	return &CLIError{PipelineError: pe, Hint: hint}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.PipelineError == nil {
		return "unknown error"
	}
	msg := e.PipelineError.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// PrintError prints the error with appropriate formatting.
func (e *CLIError) PrintError(asJSON bool) {
	if asJSON {
		payload, _ := json.Marshal(map[string]any{
			"error": e.PipelineError,
			"hint":  e.Hint,
		})
		fmt.Fprintln(os.Stderr, string(payload))
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", e.PipelineError.Error())
	if e.Hint != "" {
		fmt.Fprintf(os.Stderr, "  Hint: %s\n", e.Hint)
	}
}

// NewConfigError wraps a configuration load failure.
func NewConfigError(err error) *CLIError {
	pe := errors.New(errors.CodeInvalidInput, "invalid configuration", err)
	return NewCLIError(pe, "check the file passed with --config and any CONCORD_* variables")
}

// NewInputError wraps a failure to read run inputs.
func NewInputError(what string, err error) *CLIError {
	pe := errors.New(errors.CodeInvalidInput, "cannot read "+what, err).
		WithContext("input", what)
	return NewCLIError(pe, "")
}

// WrapRunError attaches a hint matching the failure class of a run.
func WrapRunError(err error) *CLIError {
	pe := errors.AsPipelineError(err)
	if pe == nil {
		pe = errors.New(errors.CodeInternal, "run failed", err)
	}
	return NewCLIError(pe, hintFor(pe))
}

func hintFor(pe *errors.PipelineError) string {
	switch pe.Code {
	case errors.CodeCollaboratorFailure:
		return "check that the model endpoint (llm.base_url) is reachable, or raise llm.max_retries"
	case errors.CodeParseFailure:
		if role := pe.Role(); role != "" {
			return fmt.Sprintf("role %q keeps answering outside its schema; tighten its system prompt or raise policy.max_parse_retries", role)
		}
		return "raise policy.max_parse_retries or tighten the role system prompts"
	case errors.CodeContextLost:
		return "the run was interrupted; start it again"
	case errors.CodeInvalidInput:
		return "check the requirement, input units and roles file"
	}
	return ""
}
