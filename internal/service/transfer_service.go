package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-asset-custody/internal/domain"
	"github.com/pesio-ai/be-asset-custody/internal/platform/auth"
	"github.com/pesio-ai/be-asset-custody/internal/platform/errors"
	"github.com/pesio-ai/be-asset-custody/internal/reconcile"
)

// TransferService creates and edits property transfers. Every edit runs the
// reconciliation engine and persists its result in the same transaction.
type TransferService struct {
	d         Deps
	approvals *ApprovalService
	applier   *transferApplier
}

// NewTransferService creates a new TransferService.
func NewTransferService(d Deps, approvals *ApprovalService) *TransferService {
	d = d.withDefaults()
	d.Log = d.Log.With("transfers")
	return &TransferService{d: d, approvals: approvals, applier: newTransferApplier(d)}
}

// SiteInput is a building / room / unit-or-department triple.
type SiteInput struct {
	BuildingID         string `json:"building_id"`
	BuildingRoomID     string `json:"building_room_id"`
	UnitOrDepartmentID string `json:"unit_or_department_id"`
}

func (s SiteInput) site() domain.Site {
	return domain.Site{BuildingID: s.BuildingID, BuildingRoomID: s.BuildingRoomID, UnitOrDepartmentID: s.UnitOrDepartmentID}
}

func (s SiteInput) validate(field string) error {
	switch {
	case strings.TrimSpace(s.BuildingID) == "":
		return errors.InvalidInput(field+".building_id", "building is required")
	case strings.TrimSpace(s.BuildingRoomID) == "":
		return errors.InvalidInput(field+".building_room_id", "building room is required")
	case strings.TrimSpace(s.UnitOrDepartmentID) == "":
		return errors.InvalidInput(field+".unit_or_department_id", "unit or department is required")
	}
	return nil
}

// TransferLineInput is one line of a create or save. An empty ID adds a new
// line; a known ID edits that line, keeping the stored asset, sub-areas and
// remarks for any field left nil. Status defaults to pending.
type TransferLineInput struct {
	ID            string  `json:"id,omitempty"`
	AssetID       *string `json:"asset_id"`
	Status        string  `json:"status,omitempty"`
	FromSubAreaID *string `json:"from_sub_area_id,omitempty"`
	ToSubAreaID   *string `json:"to_sub_area_id,omitempty"`
	Remarks       *string `json:"remarks,omitempty"`
}

// CreateTransferRequest represents a create transfer request.
type CreateTransferRequest struct {
	CurrentLocation   SiteInput           `json:"current_location"`
	ReceivingLocation SiteInput           `json:"receiving_location"`
	ScheduledDate     string              `json:"scheduled_date"`
	Remarks           *string             `json:"remarks,omitempty"`
	Lines             []TransferLineInput `json:"lines"`
}

// SaveTransferRequest represents an edit of a transfer header and lines.
// Empty or nil fields keep their stored value; a nil Lines keeps the stored
// lines, a non-nil Lines replaces them. An empty ActualTransferDate clears it.
type SaveTransferRequest struct {
	ID                 string              `json:"id"`
	Status             string              `json:"status,omitempty"`
	ScheduledDate      string              `json:"scheduled_date,omitempty"`
	ActualTransferDate *string             `json:"actual_transfer_date,omitempty"`
	Remarks            *string             `json:"remarks,omitempty"`
	Lines              []TransferLineInput `json:"lines"`
}

// ── Create ────────────────────────────────────────────────────────────────────

// Create stores a new transfer in pending_review and opens its approval.
func (s *TransferService) Create(ctx context.Context, req *CreateTransferRequest, caller auth.UserContext) (*TransferSnapshot, error) {
	if err := req.CurrentLocation.validate("current_location"); err != nil {
		return nil, err
	}
	if err := req.ReceivingLocation.validate("receiving_location"); err != nil {
		return nil, err
	}
	scheduled, err := parseDate("scheduled_date", req.ScheduledDate)
	if err != nil {
		return nil, err
	}
	if len(req.Lines) < 1 {
		return nil, errors.InvalidInput("lines", "transfer must have at least 1 line")
	}

	t := &domain.Transfer{
		ID:            uuid.NewString(),
		Status:        domain.TransferPendingReview,
		From:          req.CurrentLocation.site(),
		To:            req.ReceivingLocation.site(),
		ScheduledDate: scheduled,
		Remarks:       req.Remarks,
		CreatedBy:     caller.UserID,
	}

	start := s.d.Now()
	var (
		out *TransferSnapshot
		fx  effects
	)
	err = s.d.Repos.Tx.InTransaction(ctx, func(ctx context.Context) error {
		lines, err := s.buildLines(ctx, t, req.Lines, true)
		if err != nil {
			return err
		}
		t.Lines = lines
		if err := s.d.Repos.Transfers.Create(ctx, t); err != nil {
			return err
		}
		fa, err := s.approvals.open(ctx, t.Ref(), caller.UserID, &fx)
		if err != nil {
			return err
		}
		out = snapshotTransfer(t, fa)
		return nil
	})
	observe(s.d, "create_transfer", start, err)
	if err != nil {
		return nil, err
	}
	flush(ctx, s.d, &fx)

	s.d.Log.Info().
		Str("transfer_id", t.ID).
		Int("lines", len(t.Lines)).
		Str("created_by", caller.UserID).
		Msg("Transfer created")
	return out, nil
}

// ── Save ──────────────────────────────────────────────────────────────────────

// Save applies a header and line edit and reconciles the transfer.
//
// The header may leave pending_review only once the approval is approved,
// and no line may be marked transferred before then. Reverting an approved
// transfer to pending_review reopens its approval.
func (s *TransferService) Save(ctx context.Context, req *SaveTransferRequest, caller auth.UserContext) (*TransferSnapshot, error) {
	if err := parseID("id", req.ID); err != nil {
		return nil, err
	}

	start := s.d.Now()
	var (
		out *TransferSnapshot
		fx  effects
		res reconcile.Result
	)
	err := s.d.Repos.Tx.InTransaction(ctx, func(ctx context.Context) error {
		t, err := s.d.Repos.Transfers.LockByID(ctx, req.ID)
		if err != nil {
			return err
		}
		fa, err := s.d.Repos.Approvals.LockByApprovable(ctx, t.Ref())
		if err != nil {
			return err
		}

		old := t.Status
		requested := old
		if req.Status != "" {
			requested = domain.TransferStatus(req.Status)
			if !requested.Valid() {
				return errors.InvalidInput("status", fmt.Sprintf("unknown transfer status %q", req.Status))
			}
		}
		if err := s.applyHeader(t, req); err != nil {
			return err
		}

		previous := t.Clone()
		if req.Lines != nil {
			lines, err := s.buildLines(ctx, t, req.Lines, false)
			if err != nil {
				return err
			}
			t.Lines = lines
		}
		if err := checkApprovalGate(fa, previous, t, requested); err != nil {
			return err
		}
		t.Status = requested

		if requested == domain.TransferPendingReview && old != domain.TransferPendingReview && fa.Status != domain.FormPendingReview {
			if err := s.reopen(ctx, fa, caller.UserID, &fx); err != nil {
				return err
			}
		}

		res, err = s.applier.apply(ctx, t, old, caller.UserID, &fx)
		if err != nil {
			return err
		}
		out = snapshotTransfer(res.Transfer, fa).withResult(res)
		return nil
	})
	observe(s.d, "save_transfer", start, err)
	if err != nil {
		s.d.Log.Warn().Err(err).Str("transfer_id", req.ID).Str("actor", caller.UserID).Msg("Transfer save failed")
		return nil, err
	}
	recordReconcile(s.d, &res)
	flush(ctx, s.d, &fx)

	s.d.Log.Info().
		Str("transfer_id", req.ID).
		Str("requested", string(res.RequestedStatus)).
		Str("status", string(res.Transfer.Status)).
		Int("changed_lines", len(res.ChangedLines)).
		Int("relocations", len(res.Relocations)).
		Msg("Transfer saved")
	return out, nil
}

func (s *TransferService) applyHeader(t *domain.Transfer, req *SaveTransferRequest) error {
	if req.ScheduledDate != "" {
		d, err := parseDate("scheduled_date", req.ScheduledDate)
		if err != nil {
			return err
		}
		t.ScheduledDate = d
	}
	if req.ActualTransferDate != nil {
		if *req.ActualTransferDate == "" {
			t.ActualTransferDate = nil
		} else {
			d, err := parseDate("actual_transfer_date", *req.ActualTransferDate)
			if err != nil {
				return err
			}
			t.ActualTransferDate = &d
		}
	}
	if req.Remarks != nil {
		t.Remarks = req.Remarks
	}
	return nil
}

// checkApprovalGate rejects edits that would start a transfer before its
// approval is complete.
func checkApprovalGate(fa *domain.FormApproval, previous, edited *domain.Transfer, requested domain.TransferStatus) error {
	if fa.Status == domain.FormApproved {
		return nil
	}
	if requested != previous.Status && requested != domain.TransferPendingReview {
		return errors.Conflict(fmt.Sprintf("transfer %s cannot move to %s while its approval is %s", edited.ID, requested, fa.Status))
	}
	for i, l := range edited.Lines {
		if l.Status != domain.LineTransferred {
			continue
		}
		if prev := previous.Line(l.ID); prev != nil && prev.Status == domain.LineTransferred {
			continue
		}
		e := errors.Conflict(fmt.Sprintf("line %d cannot be transferred while the approval is %s", i, fa.Status))
		e.Field = fmt.Sprintf("lines[%d].status", i)
		return e
	}
	return nil
}

// reopen resets the approval because the edit moved the transfer back to
// review.
func (s *TransferService) reopen(ctx context.Context, fa *domain.FormApproval, by string, fx *effects) error {
	before := fa.Status
	now := s.d.Now()
	fa.ResetToPending()
	fa.UpdatedAt = now
	if err := s.d.Repos.Approvals.Update(ctx, fa); err != nil {
		return err
	}

	entry := newAuditEntry(fa.Ref(), domain.AuditReset, by, now)
	entry.FormApprovalID = &fa.ID
	entry.StatusBefore = strPtr(string(before))
	entry.StatusAfter = strPtr(string(fa.Status))
	entry.Metadata = map[string]any{"trigger": "transfer_edit"}
	fx.record(entry)

	s.d.Log.Info().Str("approval_id", fa.ID).Str("transfer_id", fa.ApprovableID).Msg("Approval reopened by transfer edit")
	return nil
}

// buildLines merges inputs over the transfer's stored lines and validates
// every asset and sub-area reference.
func (s *TransferService) buildLines(ctx context.Context, t *domain.Transfer, inputs []TransferLineInput, creating bool) ([]*domain.TransferAsset, error) {
	lines := make([]*domain.TransferAsset, 0, len(inputs))
	seenLine := make(map[string]bool, len(inputs))
	seenAsset := make(map[string]int, len(inputs))

	for i, in := range inputs {
		status := domain.LineStatus(in.Status)
		if status == "" {
			status = domain.LinePending
		}
		if !status.Valid() {
			return nil, &domain.InvalidLineItemError{Index: i, LineID: in.ID, Field: "status", Value: in.Status, Problem: "is not a known line status"}
		}
		if creating && status != domain.LinePending {
			return nil, &domain.InvalidLineItemError{Index: i, Field: "status", Value: in.Status, Problem: "must be pending on a new transfer"}
		}

		var line *domain.TransferAsset
		if in.ID != "" {
			stored := t.Line(in.ID)
			if stored == nil {
				return nil, &domain.InvalidLineItemError{Index: i, LineID: in.ID, Field: "id", Value: in.ID, Problem: "does not belong to this transfer"}
			}
			if seenLine[in.ID] {
				return nil, &domain.InvalidLineItemError{Index: i, LineID: in.ID, Field: "id", Value: in.ID, Problem: "appears more than once"}
			}
			line = stored.Clone()
		} else {
			if in.AssetID == nil || *in.AssetID == "" {
				return nil, &domain.InvalidLineItemError{Index: i, Field: "asset_id", Problem: "is required"}
			}
			line = &domain.TransferAsset{ID: uuid.NewString(), TransferID: t.ID}
		}
		seenLine[line.ID] = true

		if in.AssetID != nil {
			id := *in.AssetID
			line.AssetID = &id
		}
		if line.AssetID != nil {
			if j, dup := seenAsset[*line.AssetID]; dup {
				return nil, &domain.InvalidLineItemError{Index: i, LineID: line.ID, Field: "asset_id", Value: *line.AssetID, Problem: fmt.Sprintf("is already on line %d", j)}
			}
			seenAsset[*line.AssetID] = i
		}
		line.Status = status
		if in.FromSubAreaID != nil {
			line.FromSubAreaID = in.FromSubAreaID
		}
		if in.ToSubAreaID != nil {
			line.ToSubAreaID = in.ToSubAreaID
		}
		if in.Remarks != nil {
			line.Remarks = in.Remarks
		}
		lines = append(lines, line)
	}

	if err := s.validateReferences(ctx, lines); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *TransferService) validateReferences(ctx context.Context, lines []*domain.TransferAsset) error {
	locations, err := s.d.Repos.Assets.LockLocations(ctx, assetIDs(lines))
	if err != nil {
		return err
	}
	var subAreaIDs []string
	for _, l := range lines {
		for _, id := range []*string{l.FromSubAreaID, l.ToSubAreaID} {
			if id != nil {
				subAreaIDs = append(subAreaIDs, *id)
			}
		}
	}
	subAreas, err := s.d.Repos.Assets.ExistingSubAreas(ctx, subAreaIDs)
	if err != nil {
		return err
	}

	for i, l := range lines {
		if l.AssetID != nil {
			if _, ok := locations[*l.AssetID]; !ok {
				return &domain.InvalidLineItemError{Index: i, LineID: l.ID, Field: "asset_id", Value: *l.AssetID, Problem: "does not exist"}
			}
		}
		if l.FromSubAreaID != nil && !subAreas[*l.FromSubAreaID] {
			return &domain.InvalidLineItemError{Index: i, LineID: l.ID, Field: "from_sub_area_id", Value: *l.FromSubAreaID, Problem: "does not exist"}
		}
		if l.ToSubAreaID != nil && !subAreas[*l.ToSubAreaID] {
			return &domain.InvalidLineItemError{Index: i, LineID: l.ID, Field: "to_sub_area_id", Value: *l.ToSubAreaID, Problem: "does not exist"}
		}
	}
	return nil
}

// ── Get ───────────────────────────────────────────────────────────────────────

// Get returns a transfer with its approval status.
func (s *TransferService) Get(ctx context.Context, id string) (*TransferSnapshot, error) {
	if err := parseID("id", id); err != nil {
		return nil, err
	}
	t, err := s.d.Repos.Transfers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	fa, err := s.d.Repos.Approvals.GetByApprovable(ctx, t.Ref())
	if err != nil && errors.CodeOf(err) != errors.ErrCodeNotFound {
		return nil, err
	}
	return snapshotTransfer(t, fa), nil
}

// ── Reconcile and persist ─────────────────────────────────────────────────────

// transferApplier runs the engine over a locked transfer and writes its
// result: header, lines and asset relocations.
type transferApplier struct {
	d      Deps
	engine *reconcile.Engine
}

func newTransferApplier(d Deps) *transferApplier {
	return &transferApplier{d: d, engine: &reconcile.Engine{Now: d.Now}}
}

// apply must run inside the transaction that locked t. t.Status carries the
// requested status and old the stored one.
func (a *transferApplier) apply(ctx context.Context, t *domain.Transfer, old domain.TransferStatus, by string, fx *effects) (reconcile.Result, error) {
	locations, err := a.d.Repos.Assets.LockLocations(ctx, assetIDs(t.Lines))
	if err != nil {
		return reconcile.Result{}, err
	}

	res := a.engine.Reconcile(reconcile.Input{Transfer: t, OldStatus: old, Assets: locations})

	if err := a.d.Repos.Transfers.UpdateHeader(ctx, res.Transfer); err != nil {
		return reconcile.Result{}, err
	}
	if err := a.d.Repos.Transfers.SaveLines(ctx, res.Transfer.ID, res.Transfer.Lines); err != nil {
		return reconcile.Result{}, err
	}
	for _, rel := range res.Relocations {
		if err := a.d.Repos.Assets.Relocate(ctx, rel.AssetID, rel.To); err != nil {
			return reconcile.Result{}, err
		}
	}
	for _, lineID := range res.Skipped {
		a.d.Log.Warn().
			Str("transfer_id", t.ID).
			Str("line_id", lineID).
			Msg("Asset missing; location update skipped")
	}

	if old != res.Transfer.Status || res.Changed() {
		entry := newAuditEntry(t.Ref(), domain.AuditReconciled, by, a.d.Now())
		entry.StatusBefore = strPtr(string(old))
		entry.StatusAfter = strPtr(string(res.Transfer.Status))
		entry.Metadata = map[string]any{
			"requested_status": string(res.RequestedStatus),
			"changed_lines":    res.ChangedLines,
			"relocations":      len(res.Relocations),
			"skipped_lines":    res.Skipped,
		}
		fx.record(entry)
	}
	return res, nil
}

func recordReconcile(d Deps, res *reconcile.Result) {
	if res == nil || res.Transfer == nil {
		return
	}
	d.Metrics.Reconciled(string(res.Transfer.Status), len(res.Relocations), len(res.Skipped))
}

func assetIDs(lines []*domain.TransferAsset) []string {
	seen := make(map[string]bool, len(lines))
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		if l.AssetID != nil && !seen[*l.AssetID] {
			seen[*l.AssetID] = true
			ids = append(ids, *l.AssetID)
		}
	}
	return ids
}
