package service

import "fmt"

// ValidationError rejects a request before anything touches the store.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// AvailabilityError names the first product that cannot be sold, either
// because it no longer exists or is flagged unavailable.
type AvailabilityError struct {
	ProductID string
	Name      string
}

func (e *AvailabilityError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("product %s (%s) is not available", e.Name, e.ProductID)
	}
	return fmt.Sprintf("product %s is not available", e.ProductID)
}

// PersistenceError is a durable-phase commit failure, tagged with the stage
// that failed so operators can tell a half-written attempt from a rejected
// one. The transaction is rolled back either way.
type PersistenceError struct {
	Stage string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure at %s: %v", e.Stage, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// AuthzError rejects an operation the acting role is not allowed to perform.
type AuthzError struct {
	Role string
}

func (e *AuthzError) Error() string {
	return fmt.Sprintf("%s role required", e.Role)
}

// FolioCollisionError means every commit attempt lost the race for a folio.
type FolioCollisionError struct {
	Attempts int
}

func (e *FolioCollisionError) Error() string {
	return fmt.Sprintf("folio collision persisted after %d attempts", e.Attempts)
}
