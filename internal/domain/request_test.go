package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequestKind(t *testing.T) {
	for _, k := range RequestKinds {
		got, err := ParseRequestKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseRequestKind("purchase_order")
	assert.Error(t, err)
}

func TestStatusPolicies(t *testing.T) {
	p := StatusPolicyFor(KindTransfer)
	next, ok := p.AfterApproval("pending_review")
	assert.True(t, ok)
	assert.Equal(t, "upcoming", next)

	_, ok = p.AfterApproval("in_progress")
	assert.False(t, ok, "only a request in review moves on approval")

	next, ok = p.AfterRejection("pending_review")
	assert.True(t, ok)
	assert.Equal(t, "cancelled", next)

	next, ok = StatusPolicyFor(KindOffCampus).AfterApproval("pending_review")
	assert.True(t, ok)
	assert.Equal(t, "approved", next)

	_, ok = StatusPolicyFor(KindTurnoverDisposal).AfterReset("pending_review")
	assert.False(t, ok)

	for _, k := range RequestKinds {
		pol := StatusPolicyFor(k)
		assert.True(t, pol.Allows(pol.PendingReview), k)
		assert.True(t, pol.Allows(pol.OnApproved), k)
		assert.True(t, pol.Allows(pol.OnRejected), k)
	}
}

func TestApprovableContract(t *testing.T) {
	asset := "a-1"
	tr := &Transfer{ID: "t-1", Status: TransferPendingReview, Lines: []*TransferAsset{{ID: "l-1", AssetID: &asset, Status: LinePending}}}
	var a Approvable = tr

	assert.Equal(t, ApprovableRef{Kind: KindTransfer, ID: "t-1"}, a.Ref())
	a.SetStatus("upcoming")
	assert.Equal(t, TransferUpcoming, tr.Status)
	require.Len(t, a.GetLineItems(), 1)
	assert.Equal(t, "pending", a.GetLineItems()[0].LineStatus())

	req := &Request{ID: "r-1", Kind: KindOffCampus, Status: "pending_review"}
	a = req
	assert.Equal(t, "off_campus:r-1", a.Ref().String())
	assert.Empty(t, a.GetLineItems())
}

func TestTransferCloneIsDeep(t *testing.T) {
	asset, sub := "a-1", "s-1"
	tr := &Transfer{ID: "t-1", Lines: []*TransferAsset{{ID: "l-1", AssetID: &asset, ToSubAreaID: &sub}}}

	c := tr.Clone()
	*c.Lines[0].ToSubAreaID = "s-2"
	c.Lines[0].Status = LineTransferred

	assert.Equal(t, "s-1", *tr.Lines[0].ToSubAreaID)
	assert.Equal(t, LineStatus(""), tr.Lines[0].Status)
}

func TestLocationEqual(t *testing.T) {
	site := Site{BuildingID: "b", BuildingRoomID: "r", UnitOrDepartmentID: "u"}
	s1, s2 := "s1", "s1"

	assert.True(t, site.At(nil).Equal(site.At(nil)))
	assert.True(t, site.At(&s1).Equal(site.At(&s2)))
	assert.False(t, site.At(&s1).Equal(site.At(nil)))
	assert.False(t, site.At(nil).Equal(Site{BuildingID: "x"}.At(nil)))
}
