// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"github.com/jllopis/camel/pkg/errors"
)

// CLIError wraps CamelError with a hint for the user.
type CLIError struct {
	*errors.CamelError
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(ce *errors.CamelError, hint string) *CLIError {
	return &CLIError{CamelError: ce, Hint: hint}
}

// Error returns the message followed by the hint.
func (e *CLIError) Error() string {
	if e.CamelError == nil {
		return "unknown error"
	}
	msg := e.CamelError.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the CamelError to errors.As.
func (e *CLIError) Unwrap() error {
	if e.CamelError == nil {
		return nil
	}
	return e.CamelError
}

// Fprint writes the error as text or as a JSON object.
func (e *CLIError) Fprint(w io.Writer, asJSON bool) {
	if asJSON {
		payload := map[string]any{
			"code":    e.CamelError.Code,
			"message": e.detail(),
		}
		if e.Hint != "" {
			payload["hint"] = e.Hint
		}
		data, _ := json.Marshal(map[string]any{"error": payload})
		fmt.Fprintf(w, "%s\n", data)
		return
	}
	fmt.Fprintf(w, "Error [%s]: %s\n", e.CamelError.Code, e.detail())
	if e.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", e.Hint)
	}
}

// detail is the message followed by the cause, if any.
func (e *CLIError) detail() string {
	if e.CamelError.Err == nil {
		return e.CamelError.Message
	}
	return e.CamelError.Message + ": " + e.CamelError.Err.Error()
}

// NewConfigError creates a configuration error with a hint.
func NewConfigError(err error, configPath string) *CLIError {
	ce := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath)
	hint := "check your configuration and --set overrides"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(ce, hint)
}

// NewInvalidArgumentError creates an invalid argument error with a hint.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	ce := errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid argument %s: %s", arg, reason), nil).
		WithContext("argument", arg)
	return NewCLIError(ce, "run 'camel help' for usage information")
}

// NewNotFoundError creates a not found error with a hint.
func NewNotFoundError(resource, name string, cause error) *CLIError {
	ce := errors.New(errors.CodeNotFound, fmt.Sprintf("%s '%s' not found", resource, name), cause).
		WithContext("resource", resource)
	return NewCLIError(ce, fmt.Sprintf("check that the %s exists and is readable", resource))
}

// WrapConnectionError wraps a failure to reach a model or MCP server.
func WrapConnectionError(err error, addr string) *CLIError {
	ce := errors.New(errors.CodeLLMError, "connection failed", err).
		WithContext("address", addr).
		WithRecoverable(true)
	return NewCLIError(ce, fmt.Sprintf("check that the server is running at %s", addr))
}

// hintFor suggests a next step for errors raised outside the CLI.
func hintFor(code errors.ErrorCode) string {
	switch code {
	case errors.CodeCompiler:
		return "plans must be a single fenced code block or a JSON plan"
	case errors.CodePolicyDenied:
		return "inspect the trace with --json to see which argument was untrusted"
	case errors.CodeLLMError:
		return "check llm.base_url and that the model is pulled"
	case errors.CodeTimeout, errors.CodeCancelled:
		return "the run was interrupted; try again"
	}
	return ""
}

// asCLIError converts any error into a CLIError.
func asCLIError(err error) *CLIError {
	var ce *CLIError
	if stderrors.As(err, &ce) {
		return ce
	}
	var camelErr *errors.CamelError
	if !stderrors.As(err, &camelErr) {
		camelErr = errors.New(errors.CodeInternal, err.Error(), nil)
	}
	return NewCLIError(camelErr, hintFor(camelErr.Code))
}

func printError(err error, asJSON bool) {
	asCLIError(err).Fprint(os.Stderr, asJSON)
}
