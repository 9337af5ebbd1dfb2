package service

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-asset-custody/internal/domain"
	"github.com/pesio-ai/be-asset-custody/internal/platform/errors"
)

func (f *fixture) createRequest(t *testing.T, kind domain.RequestKind) *RequestSnapshot {
	t.Helper()
	snap, err := f.requests.Create(context.Background(), &CreateRequestRequest{
		Kind:      string(kind),
		Reference: "REF-001",
		Lines:     []RequestLineInput{{AssetID: str("asset-1")}, {AssetID: str("asset-2"), Remarks: str("screen cracked")}},
	}, pmoStaff)
	require.NoError(t, err)
	return snap
}

func TestCreateRequestOpensKindTemplate(t *testing.T) {
	f := newFixture(t)
	req := f.createRequest(t, domain.KindOffCampus)

	assert.Equal(t, "pending_review", req.Status)
	assert.Equal(t, domain.FormPendingReview, req.ApprovalStatus)
	require.Len(t, req.Lines, 2)
	assert.Equal(t, "pending", req.Lines[0].Status)

	fa, err := f.approvals.GetByApprovable(context.Background(), domain.ApprovableRef{Kind: domain.KindOffCampus, ID: req.ID})
	require.NoError(t, err)
	codes := make([]domain.StepCode, len(fa.Steps))
	for i, s := range fa.Steps {
		codes[i] = s.Code
	}
	assert.Equal(t, []domain.StepCode{domain.StepIssuedBy, domain.StepExternalApprovedBy, domain.StepApprovedBy}, codes)
	assert.True(t, fa.Steps[1].IsExternal)

	got, err := f.requests.Get(context.Background(), "off_campus", req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, "screen cracked", *got.Lines[1].Remarks)
}

func TestCreateRequestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.requests.Create(ctx, &CreateRequestRequest{Kind: "transfer", Reference: "x", Lines: []RequestLineInput{{AssetID: str("asset-1")}}}, pmoStaff)
	assert.Equal(t, "kind", errors.FieldOf(err))

	_, err = f.requests.Create(ctx, &CreateRequestRequest{Kind: "off_campus", Lines: []RequestLineInput{{AssetID: str("asset-1")}}}, pmoStaff)
	assert.Equal(t, "reference", errors.FieldOf(err))

	_, err = f.requests.Create(ctx, &CreateRequestRequest{Kind: "off_campus", Reference: "x", Lines: []RequestLineInput{{AssetID: str("asset-9")}}}, pmoStaff)
	var invalid *domain.InvalidLineItemError
	require.True(t, stderrors.As(err, &invalid))
	assert.Equal(t, "lines[0].asset_id", errors.FieldOf(err))
}

func TestExternalApprovalFlow(t *testing.T) {
	f := newFixture(t)
	req := f.createRequest(t, domain.KindTurnoverDisposal)
	ctx := context.Background()
	fa, err := f.approvals.GetByApprovable(ctx, domain.ApprovableRef{Kind: domain.KindTurnoverDisposal, ID: req.ID})
	require.NoError(t, err)

	_, err = f.approvals.ExternalApprove(ctx, fa.ID, pmoHead, "", "Dean", nil)
	assert.Equal(t, "external_name", errors.FieldOf(err))

	_, err = f.approvals.ExternalApprove(ctx, fa.ID, pmoStaff, "Dr. Reyes", "Dean", nil)
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err), "pmo_staff is not an external proxy")

	snap, err := f.approvals.ExternalApprove(ctx, fa.ID, pmoHead, "Dr. Reyes", "Dean of Engineering", str("signed on paper"))
	require.NoError(t, err)
	step := snap.Steps[0]
	assert.Equal(t, domain.StepApproved, step.Status)
	assert.Nil(t, step.ActorID)
	assert.Equal(t, "Dr. Reyes", *step.ExternalName)
	assert.Equal(t, "Dean of Engineering", *step.ExternalTitle)
	assert.Equal(t, domain.StepNotedBy, snap.CurrentStep.Code)

	_, err = f.approvals.ExternalApprove(ctx, fa.ID, pmoHead, "Dr. Reyes", "Dean", nil)
	var denied *domain.UnauthorizedActionError
	require.True(t, stderrors.As(err, &denied), "noted_by is an internal step")

	_, err = f.approvals.Approve(ctx, fa.ID, pmoHead, nil)
	require.NoError(t, err)
	final, err := f.approvals.Approve(ctx, fa.ID, vpAdmin, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.FormApproved, final.Status)
	assert.Equal(t, "approved", final.ApprovableStatus)

	got, err := f.requests.Get(ctx, "turnover_disposal", req.ID)
	require.NoError(t, err)
	assert.Equal(t, "approved", got.Status)
}

func TestRejectedRequestFollowsPolicy(t *testing.T) {
	f := newFixture(t)
	req := f.createRequest(t, domain.KindInventoryScheduling)
	ctx := context.Background()
	fa, err := f.approvals.GetByApprovable(ctx, domain.ApprovableRef{Kind: domain.KindInventoryScheduling, ID: req.ID})
	require.NoError(t, err)

	_, err = f.approvals.Approve(ctx, fa.ID, pmoHead, nil)
	require.NoError(t, err)
	snap, err := f.approvals.Reject(ctx, fa.ID, superuser, str("dean unavailable"))
	require.NoError(t, err)
	assert.Equal(t, domain.FormRejected, snap.Status)
	assert.Equal(t, "cancelled", snap.ApprovableStatus)

	snap, err = f.approvals.Reset(ctx, fa.ID, vpAdmin)
	require.NoError(t, err)
	assert.Equal(t, "pending_review", snap.ApprovableStatus)

	actions := f.events.actions()
	assert.Equal(t, []string{"created", "step_approved", "step_rejected", "reset"}, actions)
}

func TestGetRequestWrongKind(t *testing.T) {
	f := newFixture(t)
	req := f.createRequest(t, domain.KindOffCampus)

	_, err := f.requests.Get(context.Background(), "turnover_disposal", req.ID)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}
