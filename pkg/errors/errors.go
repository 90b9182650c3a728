// Package errors provides the unified error taxonomy for the content graph core.
package errors

import (
	"errors"
	"fmt"
)

// Category identifies one of the core's fixed error buckets. Every
// user-visible failure carries exactly one category so that a CLI or UI
// layer can localise it without inspecting the message text.
type Category string

const (
	Validation         Category = "validation"
	ContentRejected    Category = "content_rejected"
	NotFound           Category = "not_found"
	Conflict           Category = "conflict"
	StorageUnavailable Category = "storage_unavailable"
	IntegrityViolation Category = "integrity_violation"
	ConfigError        Category = "config_error"
	Internal           Category = "internal"
)

// CoreError is the single error type raised across every component. It
// carries a stable Category plus a details bag for structured context
// (field path, rule name, storage layer, ...) so callers can branch on
// Category without parsing Message.
type CoreError struct {
	Category Category
	Message  string
	Details  map[string]any
	Err      error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Err }

// WithDetails returns a copy of e with the given keys merged into Details.
func (e *CoreError) WithDetails(kv map[string]any) *CoreError {
	out := &CoreError{Category: e.Category, Message: e.Message, Err: e.Err}
	out.Details = make(map[string]any, len(e.Details)+len(kv))
	for k, v := range e.Details {
		out.Details[k] = v
	}
	for k, v := range kv {
		out.Details[k] = v
	}
	return out
}

func new(cat Category, msg string, err error) *CoreError {
	return &CoreError{Category: cat, Message: msg, Err: err}
}

// NewValidation reports that the Registry rejected a field value.
func NewValidation(field, reason string) *CoreError {
	return new(Validation, reason, nil).WithDetails(map[string]any{"field": field, "reason": reason})
}

// NewContentRejected reports a Firewall block.
func NewContentRejected(rule, reason string) *CoreError {
	return new(ContentRejected, reason, nil).WithDetails(map[string]any{"rule": rule, "reason": reason})
}

// NewNotFound reports a missing entity, association or artifact.
func NewNotFound(kind, id string) *CoreError {
	return new(NotFound, fmt.Sprintf("%s %q not found", kind, id), nil).WithDetails(map[string]any{"kind": kind, "id": id})
}

// NewConflict reports a unique-constraint violation.
func NewConflict(what, detail string) *CoreError {
	return new(Conflict, detail, nil).WithDetails(map[string]any{"what": what})
}

// NewStorageUnavailable wraps an I/O failure from one of the four layers.
func NewStorageUnavailable(layer string, err error) *CoreError {
	return new(StorageUnavailable, fmt.Sprintf("%s unavailable", layer), err).WithDetails(map[string]any{"layer": layer})
}

// NewIntegrityViolation reports a runtime invariant breach, carrying the
// invariant name in Details. No repair job is enqueued for it: the module
// has no repair queue.
func NewIntegrityViolation(invariant, detail string) *CoreError {
	return new(IntegrityViolation, detail, nil).WithDetails(map[string]any{"invariant": invariant})
}

// NewConfigError reports a failed CS reload; the previous Registry remains
// in effect.
func NewConfigError(reason string, err error) *CoreError {
	return new(ConfigError, reason, err)
}

// NewInternal wraps an unexpected condition with full context preserved via Unwrap.
func NewInternal(msg string, err error) *CoreError {
	return new(Internal, msg, err)
}

// Is reports whether err is a *CoreError of the given category.
func Is(err error, cat Category) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Category == cat
	}
	return false
}

// CategoryOf extracts the Category of err, or Internal if err is not a *CoreError.
func CategoryOf(err error) Category {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return Internal
}
