package service

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-asset-custody/internal/actor"
	"github.com/pesio-ai/be-asset-custody/internal/client"
	"github.com/pesio-ai/be-asset-custody/internal/domain"
	"github.com/pesio-ai/be-asset-custody/internal/metrics"
	"github.com/pesio-ai/be-asset-custody/internal/platform/auth"
	"github.com/pesio-ai/be-asset-custody/internal/platform/errors"
	"github.com/pesio-ai/be-asset-custody/internal/repository/memory"
)

var t0 = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

var (
	superuser = auth.UserContext{UserID: "u-root", RoleCode: actor.RoleSuperuser}
	vpAdmin   = auth.UserContext{UserID: "u-vp", RoleCode: actor.RoleVPAdmin}
	pmoHead   = auth.UserContext{UserID: "u-pmo", RoleCode: actor.RolePMOHead}
	pmoStaff  = auth.UserContext{UserID: "u-staff", RoleCode: actor.RolePMOStaff}
	plainUser = auth.UserContext{UserID: "u-user", RoleCode: actor.RoleUser}
)

var (
	srcSite = domain.Site{BuildingID: "b-src", BuildingRoomID: "r-src", UnitOrDepartmentID: "u-src"}
	dstSite = domain.Site{BuildingID: "b-dst", BuildingRoomID: "r-dst", UnitOrDepartmentID: "u-dst"}
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []client.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev client.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) actions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Action
	}
	return out
}

type fixture struct {
	store     *memory.Store
	deps      Deps
	approvals *ApprovalService
	transfers *TransferService
	requests  *RequestService
	events    *recordingPublisher
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: t0, events: &recordingPublisher{}}
	clock := func() time.Time { return f.now }
	f.store = memory.New(memory.WithClock(clock))

	actors, err := actor.Load("")
	require.NoError(t, err)

	f.deps = Deps{
		Repos: Repositories{
			Tx:        f.store,
			Approvals: f.store.FormApprovals(),
			Transfers: f.store.Transfers(),
			Requests:  f.store.Requests(),
			Assets:    f.store.Assets(),
			Audit:     f.store.Audit(),
		},
		Actors:  actors,
		Events:  f.events,
		Metrics: metrics.New(),
		Now:     clock,
	}
	f.wire()

	ctx := context.Background()
	for _, sa := range []*domain.SubArea{
		{ID: "sa-src", BuildingRoomID: "r-src", Name: "Shelf A"},
		{ID: "sa-dst", BuildingRoomID: "r-dst", Name: "Cabinet 2"},
	} {
		require.NoError(t, f.store.Assets().CreateSubArea(ctx, sa))
	}
	for _, id := range []string{"asset-1", "asset-2", "asset-3"} {
		require.NoError(t, f.store.Assets().Create(ctx, &domain.Asset{
			ID: id, PropertyNumber: "PN-" + id, Location: srcSite.At(str("sa-src")),
		}))
	}
	return f
}

// wire rebuilds the services from f.deps.
func (f *fixture) wire() {
	f.approvals = NewApprovalService(f.deps)
	f.transfers = NewTransferService(f.deps, f.approvals)
	f.requests = NewRequestService(f.deps, f.approvals)
}

func str(s string) *string { return &s }

func (f *fixture) location(t *testing.T, assetID string) domain.Location {
	t.Helper()
	a, err := f.store.Assets().GetByID(context.Background(), assetID)
	require.NoError(t, err)
	return a.Location
}

func (f *fixture) history(t *testing.T, ref domain.ApprovableRef) []domain.AuditAction {
	t.Helper()
	entries, err := f.approvals.History(context.Background(), ref)
	require.NoError(t, err)
	out := make([]domain.AuditAction, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}

func (f *fixture) createTransfer(t *testing.T, scheduled string, assets ...string) *TransferSnapshot {
	t.Helper()
	if len(assets) == 0 {
		assets = []string{"asset-1", "asset-2", "asset-3"}
	}
	req := &CreateTransferRequest{
		CurrentLocation:   SiteInput{BuildingID: srcSite.BuildingID, BuildingRoomID: srcSite.BuildingRoomID, UnitOrDepartmentID: srcSite.UnitOrDepartmentID},
		ReceivingLocation: SiteInput{BuildingID: dstSite.BuildingID, BuildingRoomID: dstSite.BuildingRoomID, UnitOrDepartmentID: dstSite.UnitOrDepartmentID},
		ScheduledDate:     scheduled,
		Remarks:           str("annual move"),
	}
	for _, a := range assets {
		req.Lines = append(req.Lines, TransferLineInput{AssetID: str(a), FromSubAreaID: str("sa-src"), ToSubAreaID: str("sa-dst")})
	}
	snap, err := f.transfers.Create(context.Background(), req, pmoStaff)
	require.NoError(t, err)
	return snap
}

// approveTransfer walks a transfer approval through noted_by and approved_by.
func (f *fixture) approveTransfer(t *testing.T, approvalID string) *ApprovalSnapshot {
	t.Helper()
	ctx := context.Background()
	_, err := f.approvals.Approve(ctx, approvalID, pmoHead, nil)
	require.NoError(t, err)
	snap, err := f.approvals.Approve(ctx, approvalID, vpAdmin, str("ok"))
	require.NoError(t, err)
	return snap
}

// ── Approval commands ─────────────────────────────────────────────────────────

func TestCreateTransferOpensApproval(t *testing.T) {
	f := newFixture(t)
	tr := f.createTransfer(t, "2026-05-01")

	assert.Equal(t, domain.TransferPendingReview, tr.Status)
	assert.Equal(t, domain.FormPendingReview, tr.ApprovalStatus)
	require.Len(t, tr.Lines, 3)
	for _, l := range tr.Lines {
		assert.Equal(t, domain.LinePending, l.Status)
		assert.Nil(t, l.MovedAt)
	}

	fa, err := f.approvals.Get(context.Background(), tr.ApprovalID)
	require.NoError(t, err)
	require.Len(t, fa.Steps, 2)
	require.NotNil(t, fa.CurrentStep)
	assert.Equal(t, domain.StepNotedBy, fa.CurrentStep.Code)
	assert.Equal(t, actor.RolePMOHead, fa.CurrentStep.RequiredRole)
	assert.Equal(t, "pending_review", fa.ApprovableStatus)

	assert.Equal(t, []domain.AuditAction{domain.AuditCreated}, f.history(t, domain.ApprovableRef{Kind: domain.KindTransfer, ID: tr.ID}))
	assert.Equal(t, []string{"created"}, f.events.actions())
}

func TestFullApprovalMovesTransferToUpcoming(t *testing.T) {
	f := newFixture(t)
	tr := f.createTransfer(t, "2026-05-01")

	first, err := f.approvals.Approve(context.Background(), tr.ApprovalID, pmoHead, str("seen"))
	require.NoError(t, err)
	assert.Equal(t, domain.FormPendingReview, first.Status)
	assert.Equal(t, domain.StepApprovedBy, first.CurrentStep.Code)
	assert.Equal(t, "pending_review", first.ApprovableStatus)
	assert.Equal(t, "u-pmo", *first.Steps[0].ActorID)
	assert.Equal(t, "seen", *first.Steps[0].Notes)

	final, err := f.approvals.Approve(context.Background(), tr.ApprovalID, vpAdmin, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.FormApproved, final.Status)
	assert.Nil(t, final.CurrentStep)
	assert.Equal(t, "upcoming", final.ApprovableStatus)
	require.NotNil(t, final.ReviewedBy)
	assert.Equal(t, "u-vp", *final.ReviewedBy)

	got, err := f.transfers.Get(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferUpcoming, got.Status)
	assert.Equal(t, domain.FormApproved, got.ApprovalStatus)

	actions := f.history(t, domain.ApprovableRef{Kind: domain.KindTransfer, ID: tr.ID})
	assert.Equal(t, []domain.AuditAction{
		domain.AuditCreated, domain.AuditStepApproved, domain.AuditReconciled, domain.AuditStepApproved,
	}, actions)
}

func TestApproveWithWrongRoleIsDenied(t *testing.T) {
	f := newFixture(t)
	tr := f.createTransfer(t, "2026-05-01")
	published := len(f.events.actions())

	_, err := f.approvals.Approve(context.Background(), tr.ApprovalID, vpAdmin, nil)
	var denied *domain.UnauthorizedActionError
	require.True(t, stderrors.As(err, &denied))
	assert.Equal(t, domain.StepNotedBy, denied.StepCode)
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))

	fa, err := f.approvals.Get(context.Background(), tr.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, domain.StepPending, fa.Steps[0].Status)
	assert.Len(t, f.events.actions(), published, "a denied action publishes nothing")
}

func TestSuperuserMayActOnAnyInternalStep(t *testing.T) {
	f := newFixture(t)
	tr := f.createTransfer(t, "2026-05-01")

	_, err := f.approvals.Approve(context.Background(), tr.ApprovalID, superuser, nil)
	require.NoError(t, err)
	snap, err := f.approvals.Approve(context.Background(), tr.ApprovalID, superuser, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.FormApproved, snap.Status)
}

func TestRejectCancelsTransferAndEndsWorkflow(t *testing.T) {
	f := newFixture(t)
	tr := f.createTransfer(t, "2026-05-01")
	ctx := context.Background()

	_, err := f.approvals.Reject(ctx, tr.ApprovalID, pmoHead, nil)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))

	snap, err := f.approvals.Reject(ctx, tr.ApprovalID, pmoHead, str("wrong room"))
	require.NoError(t, err)
	assert.Equal(t, domain.FormRejected, snap.Status)
	assert.Equal(t, domain.StepRejected, snap.Steps[0].Status)
	assert.Equal(t, domain.StepPending, snap.Steps[1].Status, "later steps are left pending")
	assert.Nil(t, snap.CurrentStep)
	assert.Equal(t, "cancelled", snap.ApprovableStatus)

	got, err := f.transfers.Get(ctx, tr.ID)
	require.NoError(t, err)
	for _, l := range got.Lines {
		assert.Equal(t, domain.LineCancelled, l.Status)
	}

	_, err = f.approvals.Approve(ctx, tr.ApprovalID, vpAdmin, nil)
	var none *domain.NoPendingStepError
	require.True(t, stderrors.As(err, &none))
	assert.Equal(t, tr.ApprovalID, none.FormApprovalID)
}

func TestResetReopensRejectedApproval(t *testing.T) {
	f := newFixture(t)
	tr := f.createTransfer(t, "2026-05-01")
	ctx := context.Background()
	_, err := f.approvals.Reject(ctx, tr.ApprovalID, pmoHead, str("wrong room"))
	require.NoError(t, err)

	snap, err := f.approvals.Reset(ctx, tr.ApprovalID, vpAdmin)
	require.NoError(t, err)
	assert.Equal(t, domain.FormPendingReview, snap.Status)
	assert.Nil(t, snap.ReviewedBy)
	for _, s := range snap.Steps {
		assert.Equal(t, domain.StepPending, s.Status)
		assert.Nil(t, s.ActorID)
		assert.Nil(t, s.ActedAt)
		assert.Nil(t, s.Notes)
	}
	assert.Equal(t, domain.StepNotedBy, snap.CurrentStep.Code)
	assert.Equal(t, "pending_review", snap.ApprovableStatus)
}

func TestResetAuthorization(t *testing.T) {
	f := newFixture(t)
	tr := f.createTransfer(t, "2026-05-01")
	ctx := context.Background()

	_, err := f.approvals.Reset(ctx, tr.ApprovalID, superuser)
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err), "a pending approval cannot be reset")

	f.approveTransfer(t, tr.ApprovalID)
	for _, caller := range []auth.UserContext{pmoStaff, pmoHead, plainUser} {
		_, err := f.approvals.Reset(ctx, tr.ApprovalID, caller)
		var denied *domain.UnauthorizedActionError
		assert.True(t, stderrors.As(err, &denied), caller.RoleCode)
	}

	fa, err := f.approvals.Get(ctx, tr.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, domain.FormApproved, fa.Status)
}

func TestResetOfApprovedTransferRevertsProgress(t *testing.T) {
	f := newFixture(t)
	tr := f.createTransfer(t, "2026-05-01")
	ctx := context.Background()
	f.approveTransfer(t, tr.ApprovalID)

	lines := inputsFrom(tr)
	lines[0].Status = "transferred"
	_, err := f.transfers.Save(ctx, &SaveTransferRequest{ID: tr.ID, Lines: lines}, pmoStaff)
	require.NoError(t, err)
	assert.True(t, f.location(t, "asset-1").Equal(dstSite.At(str("sa-dst"))))

	snap, err := f.approvals.Reset(ctx, tr.ApprovalID, superuser)
	require.NoError(t, err)
	assert.Equal(t, "pending_review", snap.ApprovableStatus)

	got, err := f.transfers.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LinePending, got.Lines[0].Status)
	assert.Nil(t, got.Lines[0].MovedAt)
	assert.True(t, f.location(t, "asset-1").Equal(srcSite.At(str("sa-src"))))
}

func TestOpenRejectsDuplicateAndMissing(t *testing.T) {
	f := newFixture(t)
	tr := f.createTransfer(t, "2026-05-01")
	ctx := context.Background()

	_, err := f.approvals.Open(ctx, domain.ApprovableRef{Kind: domain.KindTransfer, ID: tr.ID}, pmoStaff)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))

	_, err = f.approvals.Open(ctx, domain.ApprovableRef{Kind: domain.KindTransfer, ID: "8f7c7c1e-2d7d-4d9c-9d59-2a9f8f0b9a11"}, pmoStaff)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

func TestApprovalIDsAreValidated(t *testing.T) {
	f := newFixture(t)
	_, err := f.approvals.Approve(context.Background(), "not-a-uuid", pmoHead, nil)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
	assert.Equal(t, "approval_id", errors.FieldOf(err))

	_, err = f.approvals.Get(context.Background(), "8f7c7c1e-2d7d-4d9c-9d59-2a9f8f0b9a11")
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

// lockedApprovals simulates another transaction holding the approval row.
type lockedApprovals struct {
	FormApprovalRepository
}

func (lockedApprovals) LockByID(_ context.Context, id string) (*domain.FormApproval, error) {
	return nil, &domain.ConcurrentModificationError{Resource: "form_approval", ID: id, Err: stderrors.New("lock not available")}
}

func TestLockContentionSurfacesAsConcurrentModification(t *testing.T) {
	f := newFixture(t)
	tr := f.createTransfer(t, "2026-05-01")

	f.deps.Repos.Approvals = lockedApprovals{FormApprovalRepository: f.store.FormApprovals()}
	f.wire()

	_, err := f.approvals.Approve(context.Background(), tr.ApprovalID, pmoHead, nil)
	var cme *domain.ConcurrentModificationError
	require.True(t, stderrors.As(err, &cme))
	assert.Equal(t, "form_approval", cme.Resource)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
}

func TestParseApprovableRef(t *testing.T) {
	ref, err := ParseApprovableRef("off_campus", "8f7c7c1e-2d7d-4d9c-9d59-2a9f8f0b9a11")
	require.NoError(t, err)
	assert.Equal(t, domain.KindOffCampus, ref.Kind)

	_, err = ParseApprovableRef("invoice", "8f7c7c1e-2d7d-4d9c-9d59-2a9f8f0b9a11")
	assert.Equal(t, "type", errors.FieldOf(err))

	_, err = ParseApprovableRef("transfer", "t-1")
	assert.Equal(t, "id", errors.FieldOf(err))
}
