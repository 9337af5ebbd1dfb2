package domain

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-asset-custody/internal/platform/errors"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newApproval(codes ...StepCode) *FormApproval {
	fa := &FormApproval{ID: "fa-1", ApprovableType: KindTransfer, ApprovableID: "t-1", Status: FormPendingReview}
	for i, c := range codes {
		fa.Steps = append(fa.Steps, &ApprovalStep{
			ID:         string(c),
			StepOrder:  i + 1,
			Code:       c,
			IsExternal: c == StepExternalNotedBy || c == StepExternalApprovedBy,
			Status:     StepPending,
		})
	}
	return fa
}

func strp(s string) *string { return &s }

func TestTwoStepApprovalCompletes(t *testing.T) {
	fa := newApproval(StepNotedBy, StepApprovedBy)

	first, err := fa.ApproveCurrentStep("u-pmo", strp("ok"), t0)
	require.NoError(t, err)
	assert.Equal(t, StepNotedBy, first.Code)
	assert.False(t, fa.IsFullyApproved())

	status, changed := fa.UpdateParentFormStatus(nil, "u-pmo", t0)
	assert.Equal(t, FormPendingReview, status)
	assert.False(t, changed)
	assert.Equal(t, StepApprovedBy, fa.CurrentStep().Code)
	assert.Equal(t, 1, fa.PendingCount())

	_, err = fa.ApproveCurrentStep("u-vp", nil, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, fa.IsFullyApproved())

	status, changed = fa.UpdateParentFormStatus(nil, "u-vp", t0.Add(time.Hour))
	assert.Equal(t, FormApproved, status)
	assert.True(t, changed)
	require.NotNil(t, fa.ReviewedBy)
	assert.Equal(t, "u-vp", *fa.ReviewedBy)
	assert.Nil(t, fa.CurrentStep())
}

func TestApproveStampsActor(t *testing.T) {
	fa := newApproval(StepNotedBy)

	step, err := fa.ApproveCurrentStep("u-1", strp("checked"), t0)
	require.NoError(t, err)
	assert.Equal(t, StepApproved, step.Status)
	assert.Equal(t, "u-1", *step.ActorID)
	assert.Equal(t, t0, *step.ActedAt)
	assert.Equal(t, "checked", *step.Notes)
	assert.Equal(t, FormPendingReview, fa.Status, "approving a step must not touch the form status")
}

func TestNoPendingStep(t *testing.T) {
	fa := newApproval(StepNotedBy)
	_, err := fa.ApproveCurrentStep("u-1", nil, t0)
	require.NoError(t, err)

	_, err = fa.ApproveCurrentStep("u-1", nil, t0)
	var npe *NoPendingStepError
	require.True(t, stderrors.As(err, &npe))
	assert.Equal(t, "fa-1", npe.FormApprovalID)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))

	_, err = fa.RejectCurrentStep("u-1", nil, t0)
	assert.True(t, stderrors.As(err, &npe))
}

func TestRejectLeavesRemainingStepsPending(t *testing.T) {
	fa := newApproval(StepNotedBy, StepExternalNotedBy, StepApprovedBy)

	step, err := fa.RejectCurrentStep("u-pmo", strp("wrong room"), t0)
	require.NoError(t, err)
	assert.Equal(t, StepRejected, step.Status)

	rejected := FormRejected
	status, changed := fa.UpdateParentFormStatus(&rejected, "u-pmo", t0)
	assert.Equal(t, FormRejected, status)
	assert.True(t, changed)

	assert.Equal(t, StepPending, fa.Steps[1].Status)
	assert.Equal(t, StepPending, fa.Steps[2].Status)
	assert.Nil(t, fa.CurrentStep(), "a rejected workflow has no current step")
	assert.True(t, fa.Terminal())

	_, err = fa.ApproveCurrentStep("u-vp", nil, t0)
	var npe *NoPendingStepError
	assert.True(t, stderrors.As(err, &npe))
}

func TestCurrentStepIsLowestPendingOrder(t *testing.T) {
	fa := newApproval()
	fa.Steps = []*ApprovalStep{
		{ID: "c", StepOrder: 3, Code: StepApprovedBy, Status: StepPending},
		{ID: "a", StepOrder: 1, Code: StepNotedBy, Status: StepApproved},
		{ID: "b", StepOrder: 2, Code: StepExternalNotedBy, Status: StepPending},
	}

	assert.Equal(t, "b", fa.CurrentStep().ID)

	fa.SortSteps()
	assert.Equal(t, []string{"a", "b", "c"}, []string{fa.Steps[0].ID, fa.Steps[1].ID, fa.Steps[2].ID})
}

func TestExternalApproveRecordsSyntheticActor(t *testing.T) {
	fa := newApproval(StepExternalNotedBy, StepApprovedBy)

	step, err := fa.ExternalApproveCurrentStep("Dr. Reyes", "Dean, College of Engineering", strp("signed on paper"), t0)
	require.NoError(t, err)
	assert.Equal(t, StepApproved, step.Status)
	assert.Nil(t, step.ActorID)
	assert.Equal(t, "Dr. Reyes", *step.ExternalName)
	assert.Equal(t, "Dean, College of Engineering", *step.ExternalTitle)
	assert.Equal(t, StepApprovedBy, fa.CurrentStep().Code)
}

func TestResetToPending(t *testing.T) {
	fa := newApproval(StepNotedBy, StepApprovedBy)
	_, _ = fa.ApproveCurrentStep("u-1", strp("n"), t0)
	_, _ = fa.ExternalApproveCurrentStep("A", "B", nil, t0)
	fa.UpdateParentFormStatus(nil, "u-1", t0)
	require.Equal(t, FormApproved, fa.Status)

	fa.ResetToPending()

	assert.Equal(t, FormPendingReview, fa.Status)
	assert.Nil(t, fa.ReviewedBy)
	assert.Nil(t, fa.ReviewedAt)
	for _, s := range fa.Steps {
		assert.Equal(t, StepPending, s.Status)
		assert.Nil(t, s.ActorID)
		assert.Nil(t, s.ActedAt)
		assert.Nil(t, s.Notes)
		assert.Nil(t, s.ExternalName)
		assert.Nil(t, s.ExternalTitle)
	}
	assert.Equal(t, StepNotedBy, fa.CurrentStep().Code)
}

func TestExactlyOnePendingCurrentStepInvariant(t *testing.T) {
	fa := newApproval(StepIssuedBy, StepExternalApprovedBy, StepApprovedBy)
	for fa.CurrentStep() != nil {
		current := fa.CurrentStep()
		lower := 0
		for _, s := range fa.Steps {
			if s.Status == StepPending && s.StepOrder < current.StepOrder {
				lower++
			}
		}
		assert.Zero(t, lower)
		_, err := fa.ApproveCurrentStep("u", nil, t0)
		require.NoError(t, err)
	}
	assert.True(t, fa.IsFullyApproved())
}

func TestIsFullyApprovedEmpty(t *testing.T) {
	assert.False(t, newApproval().IsFullyApproved())
}

func TestStepCodeVocabulary(t *testing.T) {
	for _, c := range StepCodes {
		assert.True(t, c.Valid())
	}
	assert.False(t, StepCode("signed_by").Valid())
}
