package framework

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory groups error kinds by how the executors react to them.
type ErrorCategory string

const (
	CategoryNone            ErrorCategory = ""
	CategorySchema          ErrorCategory = "schema"
	CategorySandbox         ErrorCategory = "sandbox_violation"
	CategoryResource        ErrorCategory = "resource"
	CategoryReference       ErrorCategory = "reference"
	CategoryIterationBudget ErrorCategory = "iteration_budget"
	CategoryCancelled       ErrorCategory = "cancelled"
	CategoryBackend         ErrorCategory = "backend"
	CategoryInternal        ErrorCategory = "internal"
)

// Schema errors: unknown tools/templates, bad arguments, malformed model output.
var (
	ErrUnknownTool       = errors.New("unknown tool")
	ErrDuplicateTool     = errors.New("duplicate tool")
	ErrRegistryFrozen    = errors.New("tool registry is read-only")
	ErrUnknownTemplate   = errors.New("unknown template")
	ErrMissingVariable   = errors.New("missing template variable")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrMalformedResponse = errors.New("malformed model response")
)

// Sandbox violations.
var (
	ErrPathEscape        = errors.New("path escapes sandbox root")
	ErrCommandNotAllowed = errors.New("command not allowed")
)

// Resource errors. These travel inside failed ToolResults.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrTimeout       = errors.New("timed out")
	ErrNonZeroExit   = errors.New("command exited with non-zero status")
)

// Reference errors signal an invalid step ordering and are fatal to the run.
var (
	ErrDuplicateBinding    = errors.New("duplicate reference binding")
	ErrUnresolvedReference = errors.New("unresolved reference")
)

var (
	ErrMaxIterationsExceeded = errors.New("max iterations exceeded")
	ErrCancelled             = errors.New("run cancelled")
	ErrBackend               = errors.New("language model backend failure")
)

var categoryKinds = []struct {
	category ErrorCategory
	kinds    []error
}{
	{CategoryReference, []error{ErrDuplicateBinding, ErrUnresolvedReference}},
	{CategorySandbox, []error{ErrPathEscape, ErrCommandNotAllowed}},
	{CategorySchema, []error{ErrUnknownTool, ErrDuplicateTool, ErrRegistryFrozen, ErrUnknownTemplate, ErrMissingVariable, ErrInvalidArgument, ErrMalformedResponse}},
	{CategoryResource, []error{ErrNotFound, ErrAlreadyExists, ErrTimeout, ErrNonZeroExit}},
	{CategoryIterationBudget, []error{ErrMaxIterationsExceeded}},
	{CategoryCancelled, []error{ErrCancelled, context.Canceled, context.DeadlineExceeded}},
	{CategoryBackend, []error{ErrBackend}},
}

// CategoryOf classifies err. Unclassified errors are internal.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return CategoryNone
	}
	for _, group := range categoryKinds {
		for _, kind := range group.kinds {
			if errors.Is(err, kind) {
				return group.category
			}
		}
	}
	return CategoryInternal
}

// KindOf returns the sentinel text of the first matching kind, or "" when err
// is not one of the known kinds.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, group := range categoryKinds {
		for _, kind := range group.kinds {
			if errors.Is(err, kind) {
				return kind.Error()
			}
		}
	}
	return ""
}

// KindError returns the sentinel whose text is kind, or nil.
func KindError(kind string) error {
	if kind == "" {
		return nil
	}
	for _, group := range categoryKinds {
		for _, k := range group.kinds {
			if k.Error() == kind {
				return k
			}
		}
	}
	return nil
}

// ToolFailureError reports a tool that returned a failed result (or, under the
// fail exit policy, a non-zero exit code). It unwraps to the result's kind so
// CategoryOf classifies it.
type ToolFailureError struct {
	Tool    string
	Kind    string
	Message string
}

func (e *ToolFailureError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s failed", e.Tool)
	}
	return fmt.Sprintf("%s failed: %s", e.Tool, e.Message)
}

func (e *ToolFailureError) Unwrap() error { return KindError(e.Kind) }

// MissingVariableError names every placeholder left after substitution.
type MissingVariableError struct {
	Template string
	Names    []string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("template %s: missing variables: %s", e.Template, strings.Join(e.Names, ", "))
}

func (e *MissingVariableError) Is(target error) bool { return target == ErrMissingVariable }

// UnresolvedReferenceError names the first reference that could not be
// resolved.
type UnresolvedReferenceError struct {
	Reference string
	Reason    string
}

func (e *UnresolvedReferenceError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unresolved reference %q: %s", e.Reference, e.Reason)
	}
	return fmt.Sprintf("unresolved reference %q", e.Reference)
}

func (e *UnresolvedReferenceError) Is(target error) bool { return target == ErrUnresolvedReference }
