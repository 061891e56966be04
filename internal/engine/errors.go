package engine

import (
	"errors"
	"fmt"

	"quill/api/internal/store"
)

// ValidationError rejects input before any store call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// StoreError carries a failed persistence call verbatim. No retry is
// attempted here.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Conflict reports whether the store rejected the write on a uniqueness
// constraint.
func (e *StoreError) Conflict() bool {
	return errors.Is(e.Err, store.ErrDuplicate)
}

type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s not allowed in state %s", e.Op, e.State)
}

// StaleBaseError is returned by optimistic commits when the document moved
// past the version the buffer was seeded from.
type StaleBaseError struct {
	DocumentID string
	Base       int
	Latest     int
}

func (e *StaleBaseError) Error() string {
	return fmt.Sprintf("document %s advanced to version %d since buffer was loaded from version %d", e.DocumentID, e.Latest, e.Base)
}

// storeFailure turns a store error into the engine taxonomy. Missing rows and
// missing parents become NotFoundError for the given resource.
func storeFailure(op, resource, id string, err error) error {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrMissingParent) {
		return &NotFoundError{Resource: resource, ID: id}
	}
	return &StoreError{Op: op, Err: err}
}
