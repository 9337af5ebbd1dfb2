package service

import (
	"time"

	"github.com/pesio-ai/be-asset-custody/internal/actor"
	"github.com/pesio-ai/be-asset-custody/internal/domain"
	"github.com/pesio-ai/be-asset-custody/internal/reconcile"
)

// StepSnapshot is the caller-facing view of one approval step.
type StepSnapshot struct {
	ID            string            `json:"id"`
	StepOrder     int               `json:"step_order"`
	Code          domain.StepCode   `json:"code"`
	Label         string            `json:"label"`
	IsExternal    bool              `json:"is_external"`
	Status        domain.StepStatus `json:"status"`
	RequiredRole  string            `json:"required_role,omitempty"`
	ActorName     string            `json:"actor_name,omitempty"`
	ActorID       *string           `json:"actor_id,omitempty"`
	ExternalName  *string           `json:"external_name,omitempty"`
	ExternalTitle *string           `json:"external_title,omitempty"`
	ActedAt       *time.Time        `json:"acted_at,omitempty"`
	Notes         *string           `json:"notes,omitempty"`
	Current       bool              `json:"current"`
}

// ApprovalSnapshot is the state of an approval after a command.
type ApprovalSnapshot struct {
	ID               string             `json:"id"`
	ApprovableType   domain.RequestKind `json:"approvable_type"`
	ApprovableID     string             `json:"approvable_id"`
	ApprovableStatus string             `json:"approvable_status,omitempty"`
	Status           domain.FormStatus  `json:"status"`
	RequestedBy      string             `json:"requested_by"`
	RequestedAt      time.Time          `json:"requested_at"`
	ReviewedBy       *string            `json:"reviewed_by,omitempty"`
	ReviewedAt       *time.Time         `json:"reviewed_at,omitempty"`
	CurrentStep      *StepSnapshot      `json:"current_step,omitempty"`
	Steps            []StepSnapshot     `json:"steps"`
}

func snapshotApproval(fa *domain.FormApproval, actors *actor.Resolver, approvableStatus string) *ApprovalSnapshot {
	out := &ApprovalSnapshot{
		ID:               fa.ID,
		ApprovableType:   fa.ApprovableType,
		ApprovableID:     fa.ApprovableID,
		ApprovableStatus: approvableStatus,
		Status:           fa.Status,
		RequestedBy:      fa.RequestedBy,
		RequestedAt:      fa.RequestedAt,
		ReviewedBy:       fa.ReviewedBy,
		ReviewedAt:       fa.ReviewedAt,
		Steps:            make([]StepSnapshot, 0, len(fa.Steps)),
	}
	current := fa.CurrentStep()
	for _, s := range fa.Steps {
		ss := StepSnapshot{
			ID:            s.ID,
			StepOrder:     s.StepOrder,
			Code:          s.Code,
			Label:         s.Label,
			IsExternal:    s.IsExternal,
			Status:        s.Status,
			ActorID:       s.ActorID,
			ExternalName:  s.ExternalName,
			ExternalTitle: s.ExternalTitle,
			ActedAt:       s.ActedAt,
			Notes:         s.Notes,
			Current:       current != nil && current.ID == s.ID,
		}
		if a, ok := actors.Lookup(fa.ApprovableType, s.Code); ok {
			ss.RequiredRole = a.Role
			ss.ActorName = a.DisplayName
		}
		out.Steps = append(out.Steps, ss)
		if ss.Current {
			cur := ss
			out.CurrentStep = &cur
		}
	}
	return out
}

// LocationSnapshot is a building / room / unit / sub-area placement.
type LocationSnapshot struct {
	BuildingID         string  `json:"building_id"`
	BuildingRoomID     string  `json:"building_room_id"`
	UnitOrDepartmentID string  `json:"unit_or_department_id"`
	SubAreaID          *string `json:"sub_area_id,omitempty"`
}

func snapshotLocation(l domain.Location) LocationSnapshot {
	return LocationSnapshot{
		BuildingID:         l.BuildingID,
		BuildingRoomID:     l.BuildingRoomID,
		UnitOrDepartmentID: l.UnitOrDepartmentID,
		SubAreaID:          l.SubAreaID,
	}
}

// TransferLineSnapshot is one asset line of a transfer.
type TransferLineSnapshot struct {
	ID            string            `json:"id"`
	AssetID       *string           `json:"asset_id"`
	Status        domain.LineStatus `json:"status"`
	FromSubAreaID *string           `json:"from_sub_area_id,omitempty"`
	ToSubAreaID   *string           `json:"to_sub_area_id,omitempty"`
	MovedAt       *time.Time        `json:"moved_at,omitempty"`
	Remarks       *string           `json:"remarks,omitempty"`
}

// RelocationSnapshot reports one asset moved by a save.
type RelocationSnapshot struct {
	AssetID string           `json:"asset_id"`
	LineID  string           `json:"line_id"`
	From    LocationSnapshot `json:"from"`
	To      LocationSnapshot `json:"to"`
}

// TransferSnapshot is the state of a transfer after a command.
type TransferSnapshot struct {
	ID                 string                 `json:"id"`
	Status             domain.TransferStatus  `json:"status"`
	RequestedStatus    domain.TransferStatus  `json:"requested_status,omitempty"`
	CurrentLocation    LocationSnapshot       `json:"current_location"`
	ReceivingLocation  LocationSnapshot       `json:"receiving_location"`
	ScheduledDate      string                 `json:"scheduled_date"`
	ActualTransferDate *string                `json:"actual_transfer_date,omitempty"`
	Remarks            *string                `json:"remarks,omitempty"`
	CreatedBy          string                 `json:"created_by"`
	ApprovalID         string                 `json:"approval_id,omitempty"`
	ApprovalStatus     domain.FormStatus      `json:"approval_status,omitempty"`
	Lines              []TransferLineSnapshot `json:"lines"`
	Relocations        []RelocationSnapshot   `json:"relocations,omitempty"`
	SkippedLines       []string               `json:"skipped_lines,omitempty"`
}

func snapshotTransfer(t *domain.Transfer, fa *domain.FormApproval) *TransferSnapshot {
	out := &TransferSnapshot{
		ID:                t.ID,
		Status:            t.Status,
		CurrentLocation:   snapshotLocation(t.From.At(nil)),
		ReceivingLocation: snapshotLocation(t.To.At(nil)),
		ScheduledDate:     t.ScheduledDate.Format(time.DateOnly),
		Remarks:           t.Remarks,
		CreatedBy:         t.CreatedBy,
		Lines:             make([]TransferLineSnapshot, 0, len(t.Lines)),
	}
	if t.ActualTransferDate != nil {
		out.ActualTransferDate = strPtr(t.ActualTransferDate.Format(time.DateOnly))
	}
	if fa != nil {
		out.ApprovalID = fa.ID
		out.ApprovalStatus = fa.Status
	}
	for _, l := range t.Lines {
		out.Lines = append(out.Lines, TransferLineSnapshot{
			ID:            l.ID,
			AssetID:       l.AssetID,
			Status:        l.Status,
			FromSubAreaID: l.FromSubAreaID,
			ToSubAreaID:   l.ToSubAreaID,
			MovedAt:       l.MovedAt,
			Remarks:       l.Remarks,
		})
	}
	return out
}

func (s *TransferSnapshot) withResult(res reconcile.Result) *TransferSnapshot {
	s.RequestedStatus = res.RequestedStatus
	s.SkippedLines = res.Skipped
	for _, rel := range res.Relocations {
		s.Relocations = append(s.Relocations, RelocationSnapshot{
			AssetID: rel.AssetID,
			LineID:  rel.LineID,
			From:    snapshotLocation(rel.From),
			To:      snapshotLocation(rel.To),
		})
	}
	return s
}

// RequestSnapshot is the state of a non-transfer request.
type RequestSnapshot struct {
	ID             string                `json:"id"`
	Kind           domain.RequestKind    `json:"kind"`
	Status         string                `json:"status"`
	Reference      string                `json:"reference"`
	RequestedBy    string                `json:"requested_by"`
	Remarks        *string               `json:"remarks,omitempty"`
	ApprovalID     string                `json:"approval_id,omitempty"`
	ApprovalStatus domain.FormStatus     `json:"approval_status,omitempty"`
	Lines          []RequestLineSnapshot `json:"lines"`
}

type RequestLineSnapshot struct {
	ID      string  `json:"id"`
	AssetID *string `json:"asset_id"`
	Status  string  `json:"status"`
	Remarks *string `json:"remarks,omitempty"`
}

func snapshotRequest(r *domain.Request, fa *domain.FormApproval) *RequestSnapshot {
	out := &RequestSnapshot{
		ID:          r.ID,
		Kind:        r.Kind,
		Status:      r.Status,
		Reference:   r.Reference,
		RequestedBy: r.RequestedBy,
		Remarks:     r.Remarks,
		Lines:       make([]RequestLineSnapshot, 0, len(r.Lines)),
	}
	if fa != nil {
		out.ApprovalID = fa.ID
		out.ApprovalStatus = fa.Status
	}
	for _, l := range r.Lines {
		out.Lines = append(out.Lines, RequestLineSnapshot{ID: l.ID, AssetID: l.AssetID, Status: l.Status, Remarks: l.Remarks})
	}
	return out
}
