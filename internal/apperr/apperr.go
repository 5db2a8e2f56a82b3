// Package apperr defines the error taxonomy shared by the graph store,
// scorer, expansion engine and retrieval orchestrator.
//
// Callers match on the sentinels with errors.Is and unwrap the typed errors
// with errors.As to recover the offending id, field or operation.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched by every "node or edge absent" condition.
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig covers out-of-range weights, decay rates, budgets and
	// vector dimension mismatches.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrTraversal wraps an underlying store failure during BFS or path search.
	ErrTraversal = errors.New("traversal failure")

	// ErrScoring is reserved for scoring backends that can fail. The built-in
	// scorer clamps its inputs and never returns it.
	ErrScoring = errors.New("scoring failure")

	// ErrContextTooLarge means the trimmed context still breaks a hard limit.
	ErrContextTooLarge = errors.New("context too large")

	// ErrStorage wraps opaque persistence failures. They are never retried here.
	ErrStorage = errors.New("storage failure")

	// ErrDuplicate is returned when inserting an id that already exists.
	ErrDuplicate = errors.New("duplicate")
)

// NotFoundError carries the id of the missing node or edge.
type NotFoundError struct {
	Kind string // "node" or "edge"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NodeNotFound returns a NotFoundError for a node id.
func NodeNotFound(id string) error {
	return &NotFoundError{Kind: "node", ID: id}
}

// EdgeNotFound returns a NotFoundError for an edge id.
func EdgeNotFound(id string) error {
	return &NotFoundError{Kind: "edge", ID: id}
}

// ConfigError names the offending configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }

// InvalidConfig returns a ConfigError for field.
func InvalidConfig(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// TraversalError wraps a store error raised while traversing from NodeID.
type TraversalError struct {
	Op     string
	NodeID string
	Err    error
}

func (e *TraversalError) Error() string {
	return fmt.Sprintf("%s at %q: %v", e.Op, e.NodeID, e.Err)
}

func (e *TraversalError) Unwrap() error { return e.Err }

func (e *TraversalError) Is(target error) bool { return target == ErrTraversal }

// StorageError wraps a persistence failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Storage wraps err as a StorageError, or returns nil when err is nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
