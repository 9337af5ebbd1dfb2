package domain

import (
	"fmt"
	"time"
)

// RequestKind enumerates the request types a FormApproval can attach to.
type RequestKind string

const (
	KindTransfer            RequestKind = "transfer"
	KindInventoryScheduling RequestKind = "inventory_scheduling"
	KindTurnoverDisposal    RequestKind = "turnover_disposal"
	KindOffCampus           RequestKind = "off_campus"
)

// RequestKinds lists every approvable kind.
var RequestKinds = []RequestKind{KindTransfer, KindInventoryScheduling, KindTurnoverDisposal, KindOffCampus}

// ParseRequestKind validates a kind string.
func ParseRequestKind(s string) (RequestKind, error) {
	for _, k := range RequestKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown request kind %q", s)
}

// ApprovableRef is the typed reference from a FormApproval to its target.
type ApprovableRef struct {
	Kind RequestKind
	ID   string
}

func (r ApprovableRef) String() string { return string(r.Kind) + ":" + r.ID }

// LineItem is the status view of one asset row within a request.
type LineItem interface {
	LineID() string
	LineAssetID() *string
	LineStatus() string
}

// Approvable is implemented by every request a FormApproval can gate.
type Approvable interface {
	Ref() ApprovableRef
	GetStatus() string
	SetStatus(status string)
	GetLineItems() []LineItem
}

// StatusPolicy describes how approval outcomes move a request's business
// status.
type StatusPolicy struct {
	PendingReview string
	OnApproved    string
	OnRejected    string
	Statuses      []string
}

var statusPolicies = map[RequestKind]StatusPolicy{
	KindTransfer: {
		PendingReview: string(TransferPendingReview),
		OnApproved:    string(TransferUpcoming),
		OnRejected:    string(TransferCancelled),
		Statuses: []string{
			string(TransferPendingReview), string(TransferUpcoming), string(TransferInProgress),
			string(TransferOverdue), string(TransferCompleted), string(TransferCancelled),
		},
	},
	KindInventoryScheduling: {
		PendingReview: "pending_review",
		OnApproved:    "upcoming",
		OnRejected:    "cancelled",
		Statuses:      []string{"pending_review", "upcoming", "in_progress", "overdue", "completed", "cancelled"},
	},
	KindTurnoverDisposal: {
		PendingReview: "pending_review",
		OnApproved:    "approved",
		OnRejected:    "rejected",
		Statuses:      []string{"pending_review", "approved", "rejected", "cancelled", "completed"},
	},
	KindOffCampus: {
		PendingReview: "pending_review",
		OnApproved:    "approved",
		OnRejected:    "rejected",
		Statuses:      []string{"pending_review", "approved", "rejected", "cancelled", "returned"},
	},
}

// StatusPolicyFor returns the policy for kind.
func StatusPolicyFor(kind RequestKind) StatusPolicy {
	return statusPolicies[kind]
}

// Allows reports whether status is part of the kind's vocabulary.
func (p StatusPolicy) Allows(status string) bool {
	for _, s := range p.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// AfterApproval returns the business status a request moves to when its
// approval completes. Only a request still in review moves.
func (p StatusPolicy) AfterApproval(current string) (string, bool) {
	if current != p.PendingReview {
		return current, false
	}
	return p.OnApproved, true
}

// AfterRejection returns the business status after a rejection.
func (p StatusPolicy) AfterRejection(current string) (string, bool) {
	if current == p.OnRejected {
		return current, false
	}
	return p.OnRejected, true
}

// AfterReset returns the business status after the approval is reopened.
func (p StatusPolicy) AfterReset(current string) (string, bool) {
	if current == p.PendingReview {
		return current, false
	}
	return p.PendingReview, true
}

// Request is the header of an InventoryScheduling, TurnoverDisposal or
// OffCampus request. These share the approval gate but not the location
// reconciliation, which only transfers perform.
type Request struct {
	ID          string
	Kind        RequestKind
	Status      string
	Reference   string
	RequestedBy string
	Remarks     *string
	Lines       []*RequestLine
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RequestLine is one asset within a Request.
type RequestLine struct {
	ID        string
	RequestID string
	AssetID   *string
	Status    string
	Remarks   *string
}

func (l *RequestLine) LineID() string       { return l.ID }
func (l *RequestLine) LineAssetID() *string { return l.AssetID }
func (l *RequestLine) LineStatus() string   { return l.Status }

func (r *Request) Ref() ApprovableRef      { return ApprovableRef{Kind: r.Kind, ID: r.ID} }
func (r *Request) GetStatus() string       { return r.Status }
func (r *Request) SetStatus(status string) { r.Status = status }

func (r *Request) GetLineItems() []LineItem {
	items := make([]LineItem, len(r.Lines))
	for i, l := range r.Lines {
		items[i] = l
	}
	return items
}

// Clone returns a deep copy.
func (r *Request) Clone() *Request {
	c := *r
	c.Remarks = cloneString(r.Remarks)
	c.Lines = make([]*RequestLine, len(r.Lines))
	for i, l := range r.Lines {
		lc := *l
		lc.AssetID = cloneString(l.AssetID)
		lc.Remarks = cloneString(l.Remarks)
		c.Lines[i] = &lc
	}
	return &c
}
