package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-asset-custody/internal/actor"
	"github.com/pesio-ai/be-asset-custody/internal/domain"
	"github.com/pesio-ai/be-asset-custody/internal/platform/auth"
	"github.com/pesio-ai/be-asset-custody/internal/platform/errors"
	"github.com/pesio-ai/be-asset-custody/internal/reconcile"
)

// ApprovalService runs the approve / reject / external-approve / reset
// commands and propagates each outcome into the approvable's status.
type ApprovalService struct {
	d       Deps
	applier *transferApplier
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(d Deps) *ApprovalService {
	d = d.withDefaults()
	d.Log = d.Log.With("approvals")
	return &ApprovalService{d: d, applier: newTransferApplier(d)}
}

// outcome is what a mutation did to the approval.
type outcome struct {
	action      domain.AuditAction
	step        *domain.ApprovalStep
	before      domain.FormStatus
	changed     bool
	propagation propagation
}

// propagation is the approvable status change caused by an outcome.
type propagation struct {
	before, after string
	reconciled    *reconcile.Result
}

// ── Open ──────────────────────────────────────────────────────────────────────

// Open attaches a new approval with the kind's step template to ref.
func (s *ApprovalService) Open(ctx context.Context, ref domain.ApprovableRef, caller auth.UserContext) (*ApprovalSnapshot, error) {
	start := s.d.Now()
	var (
		out *ApprovalSnapshot
		fx  effects
	)
	err := s.d.Repos.Tx.InTransaction(ctx, func(ctx context.Context) error {
		status, err := s.approvableStatus(ctx, ref, true)
		if err != nil {
			return err
		}
		fa, err := s.open(ctx, ref, caller.UserID, &fx)
		if err != nil {
			return err
		}
		out = snapshotApproval(fa, s.d.Actors, status)
		return nil
	})
	observe(s.d, "open_approval", start, err)
	if err != nil {
		return nil, err
	}
	flush(ctx, s.d, &fx)
	return out, nil
}

// open creates the approval inside the caller's transaction.
func (s *ApprovalService) open(ctx context.Context, ref domain.ApprovableRef, requestedBy string, fx *effects) (*domain.FormApproval, error) {
	template := s.d.Actors.Template(ref.Kind)
	if len(template) == 0 {
		return nil, errors.New(errors.ErrCodeInternal, fmt.Sprintf("no approval template for %s", ref.Kind))
	}

	now := s.d.Now()
	fa := &domain.FormApproval{
		ID:             uuid.NewString(),
		ApprovableType: ref.Kind,
		ApprovableID:   ref.ID,
		Status:         domain.FormPendingReview,
		RequestedBy:    requestedBy,
		RequestedAt:    now,
	}
	for i, t := range template {
		fa.Steps = append(fa.Steps, &domain.ApprovalStep{
			ID:         uuid.NewString(),
			StepOrder:  i + 1,
			Code:       t.Code,
			Label:      t.Label,
			IsExternal: t.External,
			Status:     domain.StepPending,
		})
	}
	if err := s.d.Repos.Approvals.Create(ctx, fa); err != nil {
		return nil, err
	}

	entry := newAuditEntry(ref, domain.AuditCreated, requestedBy, now)
	entry.FormApprovalID = &fa.ID
	entry.StatusAfter = strPtr(string(fa.Status))
	entry.Metadata = map[string]any{"steps": len(fa.Steps)}
	fx.record(entry)

	s.d.Log.Info().
		Str("approval_id", fa.ID).
		Str("approvable", ref.String()).
		Int("steps", len(fa.Steps)).
		Msg("Approval opened")
	return fa, nil
}

// ── Approve ───────────────────────────────────────────────────────────────────

// Approve approves the current step on behalf of the caller.
func (s *ApprovalService) Approve(ctx context.Context, approvalID string, caller auth.UserContext, notes *string) (*ApprovalSnapshot, error) {
	return s.act(ctx, "approve", approvalID, caller, actor.ActionApprove, func(fa *domain.FormApproval, now time.Time) (outcome, error) {
		step, err := fa.ApproveCurrentStep(caller.UserID, notes, now)
		return outcome{action: domain.AuditStepApproved, step: step}, err
	})
}

// ── Reject ────────────────────────────────────────────────────────────────────

// Reject rejects the current step. Later steps stay pending and the
// approval becomes rejected.
func (s *ApprovalService) Reject(ctx context.Context, approvalID string, caller auth.UserContext, notes *string) (*ApprovalSnapshot, error) {
	if notes == nil || strings.TrimSpace(*notes) == "" {
		return nil, errors.InvalidInput("notes", "rejection reason is required")
	}
	return s.act(ctx, "reject", approvalID, caller, actor.ActionReject, func(fa *domain.FormApproval, now time.Time) (outcome, error) {
		step, err := fa.RejectCurrentStep(caller.UserID, notes, now)
		return outcome{action: domain.AuditStepRejected, step: step}, err
	})
}

// ── External approval ─────────────────────────────────────────────────────────

// ExternalApprove records an approval by an outside party on an external
// step. The caller is the internal proxy entering it.
func (s *ApprovalService) ExternalApprove(ctx context.Context, approvalID string, caller auth.UserContext, name, title string, notes *string) (*ApprovalSnapshot, error) {
	name, title = strings.TrimSpace(name), strings.TrimSpace(title)
	if name == "" {
		return nil, errors.InvalidInput("external_name", "external approver name is required")
	}
	if title == "" {
		return nil, errors.InvalidInput("external_title", "external approver title is required")
	}
	return s.act(ctx, "external_approve", approvalID, caller, actor.ActionExternalApprove, func(fa *domain.FormApproval, now time.Time) (outcome, error) {
		step, err := fa.ExternalApproveCurrentStep(name, title, notes, now)
		return outcome{action: domain.AuditStepExternalApproved, step: step}, err
	})
}

// ── Reset ─────────────────────────────────────────────────────────────────────

// Reset reopens a decided approval and moves the approvable back to review.
func (s *ApprovalService) Reset(ctx context.Context, approvalID string, caller auth.UserContext) (*ApprovalSnapshot, error) {
	return s.act(ctx, "reset", approvalID, caller, actor.ActionReset, func(fa *domain.FormApproval, now time.Time) (outcome, error) {
		fa.ResetToPending()
		fa.UpdatedAt = now
		return outcome{action: domain.AuditReset}, nil
	})
}

// act runs one approval command: lock, authorize, mutate, derive the parent
// status, propagate into the approvable and persist, all in one transaction.
func (s *ApprovalService) act(
	ctx context.Context,
	command, approvalID string,
	caller auth.UserContext,
	action actor.Action,
	mutate func(fa *domain.FormApproval, now time.Time) (outcome, error),
) (*ApprovalSnapshot, error) {
	if err := parseID("approval_id", approvalID); err != nil {
		return nil, err
	}

	start := s.d.Now()
	var (
		out *ApprovalSnapshot
		fx  effects
		res outcome
		fa  *domain.FormApproval
	)
	err := s.d.Repos.Tx.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		fa, err = s.d.Repos.Approvals.LockByID(ctx, approvalID)
		if err != nil {
			return err
		}
		if err := s.d.Actors.Authorize(action, fa, caller); err != nil {
			return err
		}

		now := s.d.Now()
		before := fa.Status
		res, err = mutate(fa, now)
		if err != nil {
			return err
		}
		res.before = before

		switch res.action {
		case domain.AuditReset:
			res.changed = before != fa.Status
		case domain.AuditStepRejected:
			rejected := domain.FormRejected
			_, res.changed = fa.UpdateParentFormStatus(&rejected, caller.UserID, now)
		default:
			_, res.changed = fa.UpdateParentFormStatus(nil, caller.UserID, now)
		}

		if err := s.d.Repos.Approvals.Update(ctx, fa); err != nil {
			return err
		}

		if res.changed {
			res.propagation, err = s.propagate(ctx, fa, caller.UserID, &fx)
			if err != nil {
				return err
			}
		} else {
			res.propagation.after, err = s.approvableStatus(ctx, fa.Ref(), false)
			if err != nil {
				return err
			}
		}

		fx.record(s.auditFor(fa, res, caller, now))
		out = snapshotApproval(fa, s.d.Actors, res.propagation.after)
		return nil
	})
	observe(s.d, command, start, err)
	if err != nil {
		s.d.Log.Warn().Err(err).
			Str("approval_id", approvalID).
			Str("action", string(action)).
			Str("role", caller.RoleCode).
			Msg("Approval action failed")
		return nil, err
	}

	s.d.Metrics.ApprovalAction(string(fa.ApprovableType), string(action))
	recordReconcile(s.d, res.propagation.reconciled)
	flush(ctx, s.d, &fx)

	ev := s.d.Log.Info().
		Str("approval_id", fa.ID).
		Str("approvable", fa.Ref().String()).
		Str("action", string(action)).
		Str("actor", caller.UserID).
		Str("status", string(fa.Status))
	if res.step != nil {
		ev = ev.Str("step", string(res.step.Code))
	}
	ev.Msg("Approval action applied")
	return out, nil
}

// propagate moves the approvable's business status according to the new
// approval status. Transfers are reconciled so their lines and assets follow.
func (s *ApprovalService) propagate(ctx context.Context, fa *domain.FormApproval, by string, fx *effects) (propagation, error) {
	policy := domain.StatusPolicyFor(fa.ApprovableType)
	next := func(current string) (string, bool) {
		switch fa.Status {
		case domain.FormApproved:
			return policy.AfterApproval(current)
		case domain.FormRejected:
			return policy.AfterRejection(current)
		default:
			return policy.AfterReset(current)
		}
	}

	if fa.ApprovableType == domain.KindTransfer {
		t, err := s.d.Repos.Transfers.LockByID(ctx, fa.ApprovableID)
		if err != nil {
			return propagation{}, err
		}
		p := propagation{before: string(t.Status), after: string(t.Status)}
		status, ok := next(string(t.Status))
		if !ok {
			return p, nil
		}
		old := t.Status
		t.Status = domain.TransferStatus(status)
		res, err := s.applier.apply(ctx, t, old, by, fx)
		if err != nil {
			return propagation{}, err
		}
		p.after = string(res.Transfer.Status)
		p.reconciled = &res
		return p, nil
	}

	req, err := s.d.Repos.Requests.LockByID(ctx, fa.Ref())
	if err != nil {
		return propagation{}, err
	}
	p := propagation{before: req.Status, after: req.Status}
	status, ok := next(req.Status)
	if !ok {
		return p, nil
	}
	req.SetStatus(status)
	if err := s.d.Repos.Requests.UpdateStatus(ctx, req); err != nil {
		return propagation{}, err
	}
	p.after = req.Status
	return p, nil
}

func (s *ApprovalService) auditFor(fa *domain.FormApproval, res outcome, caller auth.UserContext, now time.Time) *domain.AuditEntry {
	entry := newAuditEntry(fa.Ref(), res.action, caller.UserID, now)
	entry.FormApprovalID = &fa.ID
	entry.StatusBefore = strPtr(string(res.before))
	entry.StatusAfter = strPtr(string(fa.Status))
	meta := map[string]any{"role": caller.RoleCode}
	if res.step != nil {
		entry.StepID = &res.step.ID
		meta["step_code"] = string(res.step.Code)
		meta["step_order"] = res.step.StepOrder
		if res.step.Notes != nil {
			meta["notes"] = *res.step.Notes
		}
		if res.step.ExternalName != nil {
			meta["external_name"] = *res.step.ExternalName
			meta["external_title"] = *res.step.ExternalTitle
		}
	}
	if p := res.propagation; p.before != p.after {
		meta["approvable_status_before"] = p.before
		meta["approvable_status_after"] = p.after
	}
	if p := res.propagation.reconciled; p != nil {
		meta["relocations"] = len(p.Relocations)
	}
	entry.Metadata = meta
	return entry
}

// ── Queries ───────────────────────────────────────────────────────────────────

// Get returns an approval by id.
func (s *ApprovalService) Get(ctx context.Context, approvalID string) (*ApprovalSnapshot, error) {
	if err := parseID("approval_id", approvalID); err != nil {
		return nil, err
	}
	fa, err := s.d.Repos.Approvals.GetByID(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	status, err := s.approvableStatus(ctx, fa.Ref(), false)
	if err != nil {
		return nil, err
	}
	return snapshotApproval(fa, s.d.Actors, status), nil
}

// GetByApprovable returns the approval attached to ref.
func (s *ApprovalService) GetByApprovable(ctx context.Context, ref domain.ApprovableRef) (*ApprovalSnapshot, error) {
	if err := parseID("id", ref.ID); err != nil {
		return nil, err
	}
	fa, err := s.d.Repos.Approvals.GetByApprovable(ctx, ref)
	if err != nil {
		return nil, err
	}
	status, err := s.approvableStatus(ctx, ref, false)
	if err != nil {
		return nil, err
	}
	return snapshotApproval(fa, s.d.Actors, status), nil
}

// History returns the audit trail for ref, oldest first.
func (s *ApprovalService) History(ctx context.Context, ref domain.ApprovableRef) ([]*domain.AuditEntry, error) {
	if err := parseID("id", ref.ID); err != nil {
		return nil, err
	}
	return s.d.Repos.Audit.ListByApprovable(ctx, ref)
}

// approvableStatus loads the business status of ref, optionally locking it.
func (s *ApprovalService) approvableStatus(ctx context.Context, ref domain.ApprovableRef, lock bool) (string, error) {
	if ref.Kind == domain.KindTransfer {
		get := s.d.Repos.Transfers.GetByID
		if lock {
			get = s.d.Repos.Transfers.LockByID
		}
		t, err := get(ctx, ref.ID)
		if err != nil {
			return "", err
		}
		return t.GetStatus(), nil
	}
	get := s.d.Repos.Requests.GetByID
	if lock {
		get = s.d.Repos.Requests.LockByID
	}
	req, err := get(ctx, ref)
	if err != nil {
		return "", err
	}
	return req.GetStatus(), nil
}
