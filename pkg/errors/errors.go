// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed errors for the camel runtime.
// Every failure that crosses a package boundary carries a Code so callers
// can route it (repair the plan, report a denial, give up) without string
// matching.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies runtime errors for routing and monitoring.
type ErrorCode string

const (
	// CodeCompiler indicates a plan could not be compiled.
	CodeCompiler ErrorCode = "COMPILER_ERROR"

	// CodePolicyDenied indicates a tool call was refused by the policy engine.
	CodePolicyDenied ErrorCode = "POLICY_DENIED"

	// CodeToolFailure indicates a tool execution failed.
	CodeToolFailure ErrorCode = "TOOL_FAILURE"

	// CodeRaised indicates the plan raised an error or failed while evaluating.
	CodeRaised ErrorCode = "RAISED_ERROR"

	// CodeExtractionInsufficient indicates the quarantined model reported it
	// lacked the information needed to fill the schema.
	CodeExtractionInsufficient ErrorCode = "EXTRACTION_INSUFFICIENT"

	// CodeCancelled indicates the run was cancelled by its caller.
	CodeCancelled ErrorCode = "CANCELLED"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeLLMError indicates a model transport error.
	CodeLLMError ErrorCode = "LLM_ERROR"

	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"
)

// CamelError is a typed error with context for logs and traces.
// It implements the error interface and can be unwrapped with errors.As().
type CamelError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
}

// Error implements the error interface.
func (e *CamelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *CamelError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *CamelError) MarshalJSON() ([]byte, error) {
	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		Cause       string                 `json:"cause,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Attributes  map[string]string      `json:"attributes,omitempty"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Cause:       cause,
		Recoverable: e.Recoverable,
		Context:     e.Context,
		Attributes:  e.Attributes,
	})
}

// New creates a new CamelError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *CamelError {
	return &CamelError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code ErrorCode, format string, args ...interface{}) *CamelError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *CamelError) WithContext(key string, value interface{}) *CamelError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *CamelError) WithAttribute(key, value string) *CamelError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *CamelError) WithRecoverable(recoverable bool) *CamelError {
	e.Recoverable = recoverable
	return e
}

// AsCamelError finds a CamelError in err's chain.
// Errors without one are wrapped as CodeInternal.
func AsCamelError(err error) *CamelError {
	if err == nil {
		return nil
	}
	var ce *CamelError
	if stderrors.As(err, &ce) {
		return ce
	}
	return New(CodeInternal, "wrapped error", err)
}

// IsCode reports whether err carries a CamelError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var ce *CamelError
	if !stderrors.As(err, &ce) {
		return false
	}
	return ce.Code == code
}

// CodeOf returns the code of the first CamelError in err's chain, or the
// empty code when there is none.
func CodeOf(err error) ErrorCode {
	var ce *CamelError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *CamelError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}
