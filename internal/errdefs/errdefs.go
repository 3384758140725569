// Package errdefs defines the error kinds shared by every part of the
// compiler. Lower layers return these sentinels wrapped with context; callers
// test for a kind with errors.Is.
package errdefs

import "errors"

var (
	// ErrDuplicateKey is returned when a key is registered twice.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrNotFound is returned when a lookup misses.
	ErrNotFound = errors.New("not found")
	// ErrDependencyCycle is returned when hard layer dependencies form a cycle.
	ErrDependencyCycle = errors.New("dependency cycle")
	// ErrAddressSpaceExhausted is returned when a network has no free address
	// left for a node.
	ErrAddressSpaceExhausted = errors.New("address space exhausted")
	// ErrMergeConflict is returned when two fragments disagree on an entity.
	ErrMergeConflict = errors.New("merge conflict")
	// ErrInvalidTopology is returned for structurally invalid input, such as a
	// reused ASN or a prefix too small for its assignment constraint.
	ErrInvalidTopology = errors.New("invalid topology")
)
