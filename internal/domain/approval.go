// Package domain holds the custody records, the approval state machine and
// the request status vocabulary. It has no persistence or transport
// dependencies.
package domain

import (
	"sort"
	"time"
)

// FormStatus is the lifecycle status of a FormApproval.
type FormStatus string

const (
	FormPendingReview FormStatus = "pending_review"
	FormApproved      FormStatus = "approved"
	FormRejected      FormStatus = "rejected"
)

// StepStatus is the status of one ApprovalStep.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
)

// StepCode identifies the action a step records.
type StepCode string

const (
	StepNotedBy            StepCode = "noted_by"
	StepApprovedBy         StepCode = "approved_by"
	StepIssuedBy           StepCode = "issued_by"
	StepExternalNotedBy    StepCode = "external_noted_by"
	StepExternalApprovedBy StepCode = "external_approved_by"
)

// StepCodes is the fixed step vocabulary.
var StepCodes = []StepCode{
	StepNotedBy, StepApprovedBy, StepIssuedBy, StepExternalNotedBy, StepExternalApprovedBy,
}

// Valid reports whether c belongs to the step vocabulary.
func (c StepCode) Valid() bool {
	for _, known := range StepCodes {
		if c == known {
			return true
		}
	}
	return false
}

// ApprovalStep is one ordered action within a FormApproval.
type ApprovalStep struct {
	ID             string
	FormApprovalID string
	StepOrder      int
	Code           StepCode
	Label          string
	IsExternal     bool
	Status         StepStatus
	ActorID        *string
	// ExternalName and ExternalTitle identify the outside party recorded by
	// an external approval. ActorID stays nil for such steps.
	ExternalName  *string
	ExternalTitle *string
	ActedAt       *time.Time
	Notes         *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (s *ApprovalStep) clear() {
	s.Status = StepPending
	s.ActorID = nil
	s.ExternalName = nil
	s.ExternalTitle = nil
	s.ActedAt = nil
	s.Notes = nil
}

// FormApproval is the approval workflow attached to one approvable request.
type FormApproval struct {
	ID             string
	ApprovableType RequestKind
	ApprovableID   string
	Status         FormStatus
	RequestedBy    string
	RequestedAt    time.Time
	ReviewedBy     *string
	ReviewedAt     *time.Time
	Steps          []*ApprovalStep
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Ref returns the approvable this workflow is attached to.
func (f *FormApproval) Ref() ApprovableRef {
	return ApprovableRef{Kind: f.ApprovableType, ID: f.ApprovableID}
}

// SortSteps orders Steps by StepOrder.
func (f *FormApproval) SortSteps() {
	sort.SliceStable(f.Steps, func(i, j int) bool { return f.Steps[i].StepOrder < f.Steps[j].StepOrder })
}

// CurrentStep returns the pending step with the lowest order. It returns nil
// once no step is pending or a step has been rejected; steps after a
// rejection stay pending but can no longer be acted on.
func (f *FormApproval) CurrentStep() *ApprovalStep {
	if f.HasRejection() {
		return nil
	}
	var current *ApprovalStep
	for _, s := range f.Steps {
		if s.Status != StepPending {
			continue
		}
		if current == nil || s.StepOrder < current.StepOrder {
			current = s
		}
	}
	return current
}

// PendingCount returns the number of steps still pending.
func (f *FormApproval) PendingCount() int {
	n := 0
	for _, s := range f.Steps {
		if s.Status == StepPending {
			n++
		}
	}
	return n
}

// ApproveCurrentStep approves the current step on behalf of actorID. The
// workflow status is left to UpdateParentFormStatus.
func (f *FormApproval) ApproveCurrentStep(actorID string, notes *string, at time.Time) (*ApprovalStep, error) {
	return f.actOnCurrent(StepApproved, &actorID, notes, at)
}

// RejectCurrentStep rejects the current step on behalf of actorID.
func (f *FormApproval) RejectCurrentStep(actorID string, notes *string, at time.Time) (*ApprovalStep, error) {
	return f.actOnCurrent(StepRejected, &actorID, notes, at)
}

// ExternalApproveCurrentStep approves the current step for a party without a
// system account, identified by name and title.
func (f *FormApproval) ExternalApproveCurrentStep(name, title string, notes *string, at time.Time) (*ApprovalStep, error) {
	step, err := f.actOnCurrent(StepApproved, nil, notes, at)
	if err != nil {
		return nil, err
	}
	step.ExternalName = &name
	step.ExternalTitle = &title
	return step, nil
}

func (f *FormApproval) actOnCurrent(status StepStatus, actorID, notes *string, at time.Time) (*ApprovalStep, error) {
	step := f.CurrentStep()
	if step == nil {
		return nil, &NoPendingStepError{FormApprovalID: f.ID}
	}
	step.Status = status
	step.ActorID = actorID
	step.ActedAt = &at
	step.Notes = notes
	step.UpdatedAt = at
	return step, nil
}

// IsFullyApproved reports whether every step is approved.
func (f *FormApproval) IsFullyApproved() bool {
	if len(f.Steps) == 0 {
		return false
	}
	for _, s := range f.Steps {
		if s.Status != StepApproved {
			return false
		}
	}
	return true
}

// HasRejection reports whether any step was rejected.
func (f *FormApproval) HasRejection() bool {
	for _, s := range f.Steps {
		if s.Status == StepRejected {
			return true
		}
	}
	return false
}

// UpdateParentFormStatus sets Status to approved when every step is
// approved, otherwise to explicit when given, otherwise leaves it unchanged.
// It returns the resulting status and whether it changed.
func (f *FormApproval) UpdateParentFormStatus(explicit *FormStatus, reviewer string, at time.Time) (FormStatus, bool) {
	before := f.Status
	switch {
	case f.IsFullyApproved():
		f.Status = FormApproved
	case explicit != nil:
		f.Status = *explicit
	default:
		return f.Status, false
	}
	if f.Status != FormPendingReview {
		f.ReviewedBy = &reviewer
		f.ReviewedAt = &at
	}
	f.UpdatedAt = at
	return f.Status, f.Status != before
}

// ResetToPending reopens the workflow: status back to pending_review and
// every step back to pending with its actor, time and notes cleared.
func (f *FormApproval) ResetToPending() {
	f.Status = FormPendingReview
	f.ReviewedBy = nil
	f.ReviewedAt = nil
	for _, s := range f.Steps {
		s.clear()
	}
}

// Terminal reports whether no step is left to act on.
func (f *FormApproval) Terminal() bool {
	return f.CurrentStep() == nil
}

// Clone returns a deep copy.
func (f *FormApproval) Clone() *FormApproval {
	c := *f
	c.ReviewedBy = cloneString(f.ReviewedBy)
	c.ReviewedAt = cloneTime(f.ReviewedAt)
	c.Steps = make([]*ApprovalStep, len(f.Steps))
	for i, s := range f.Steps {
		sc := *s
		sc.ActorID = cloneString(s.ActorID)
		sc.ExternalName = cloneString(s.ExternalName)
		sc.ExternalTitle = cloneString(s.ExternalTitle)
		sc.ActedAt = cloneTime(s.ActedAt)
		sc.Notes = cloneString(s.Notes)
		c.Steps[i] = &sc
	}
	return &c
}
