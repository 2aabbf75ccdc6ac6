package offboarding

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidUserID = errors.New("user_id must be a valid account id")
	ErrRunNotFound   = errors.New("deletion run not found")
)

// DependentDeletionError reports the data table that stopped a run. Tables
// cleared before it stay cleared; re-running is safe.
type DependentDeletionError struct {
	Tier   int
	Table  string
	Column string
	Err    error
}

func (e *DependentDeletionError) Error() string {
	return fmt.Sprintf("tier %d: delete from %s by %s: %v", e.Tier, e.Table, e.Column, e.Err)
}

func (e *DependentDeletionError) Unwrap() error {
	return e.Err
}

// IdentityDeletionError means every data row is gone but the credential
// record survived, so the account can still sign in. Operators must re-run
// the deletion.
type IdentityDeletionError struct {
	UserID string
	Err    error
}

func (e *IdentityDeletionError) Error() string {
	return fmt.Sprintf("identity deletion failed after data removal: %v", e.Err)
}

func (e *IdentityDeletionError) Unwrap() error {
	return e.Err
}
