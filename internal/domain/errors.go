package domain

import (
	"fmt"

	"github.com/pesio-ai/be-asset-custody/internal/platform/errors"
)

// NoPendingStepError is returned when an approval action finds no current
// step to act on.
type NoPendingStepError struct {
	FormApprovalID string
}

func (e *NoPendingStepError) Error() string {
	return fmt.Sprintf("form approval %s has no pending step", e.FormApprovalID)
}

func (e *NoPendingStepError) ErrorCode() errors.Code { return errors.ErrCodeConflict }

// UnauthorizedActionError is returned when the caller may not perform an
// approval action.
type UnauthorizedActionError struct {
	Action   string
	RoleCode string
	StepCode StepCode
	Reason   string
}

func (e *UnauthorizedActionError) Error() string {
	if e.StepCode != "" {
		return fmt.Sprintf("forbidden: role %q may not %s step %s: %s", e.RoleCode, e.Action, e.StepCode, e.Reason)
	}
	return fmt.Sprintf("forbidden: role %q may not %s: %s", e.RoleCode, e.Action, e.Reason)
}

func (e *UnauthorizedActionError) ErrorCode() errors.Code { return errors.ErrCodeForbidden }

// InvalidLineItemError identifies a line that references a missing asset or
// sub-area, or carries an unknown status.
type InvalidLineItemError struct {
	Index   int
	LineID  string
	Field   string
	Value   string
	Problem string
}

func (e *InvalidLineItemError) Error() string {
	return fmt.Sprintf("invalid line %d: %s %q %s", e.Index, e.Field, e.Value, e.Problem)
}

func (e *InvalidLineItemError) ErrorCode() errors.Code { return errors.ErrCodeInvalidInput }

func (e *InvalidLineItemError) ErrorField() string {
	return fmt.Sprintf("lines[%d].%s", e.Index, e.Field)
}

// ConcurrentModificationError is returned when the aggregate row is locked
// by another edit.
type ConcurrentModificationError struct {
	Resource string
	ID       string
	Err      error
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("conflict: %s %s is being modified concurrently", e.Resource, e.ID)
}

func (e *ConcurrentModificationError) Unwrap() error { return e.Err }

func (e *ConcurrentModificationError) ErrorCode() errors.Code { return errors.ErrCodeConflict }
