package domain

import "time"

// Site is a building / room / unit-or-department triple.
type Site struct {
	BuildingID         string
	BuildingRoomID     string
	UnitOrDepartmentID string
}

// At places the site at an optional sub-area.
func (s Site) At(subAreaID *string) Location {
	return Location{Site: s, SubAreaID: cloneString(subAreaID)}
}

// Location is where an asset physically sits.
type Location struct {
	Site
	SubAreaID *string
}

// Equal compares two locations field by field.
func (l Location) Equal(o Location) bool {
	if l.Site != o.Site {
		return false
	}
	if l.SubAreaID == nil || o.SubAreaID == nil {
		return l.SubAreaID == nil && o.SubAreaID == nil
	}
	return *l.SubAreaID == *o.SubAreaID
}

// Asset is an inventory record. Its location belongs to the transfer
// reconciler while a transfer references it.
type Asset struct {
	ID             string
	PropertyNumber string
	Description    string
	Location       Location
	UpdatedAt      time.Time
}

// SubArea is a named area within a building room.
type SubArea struct {
	ID             string
	BuildingRoomID string
	Name           string
}

// AuditAction names a recorded domain event.
type AuditAction string

const (
	AuditCreated              AuditAction = "created"
	AuditStepApproved         AuditAction = "step_approved"
	AuditStepRejected         AuditAction = "step_rejected"
	AuditStepExternalApproved AuditAction = "step_external_approved"
	AuditReset                AuditAction = "reset"
	AuditReconciled           AuditAction = "reconciled"
)

// AuditEntry is one immutable audit record.
type AuditEntry struct {
	ID             string
	ApprovableType RequestKind
	ApprovableID   string
	FormApprovalID *string
	StepID         *string
	Action         AuditAction
	PerformedBy    string
	PerformedAt    time.Time
	StatusBefore   *string
	StatusAfter    *string
	Metadata       map[string]any
}
