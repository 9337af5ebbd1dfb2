package domain

import "time"

// TransferStatus is the header status of a property transfer.
type TransferStatus string

const (
	TransferPendingReview TransferStatus = "pending_review"
	TransferUpcoming      TransferStatus = "upcoming"
	TransferInProgress    TransferStatus = "in_progress"
	TransferOverdue       TransferStatus = "overdue"
	TransferCompleted     TransferStatus = "completed"
	TransferCancelled     TransferStatus = "cancelled"
)

// Valid reports whether s is a known transfer status.
func (s TransferStatus) Valid() bool {
	return StatusPolicyFor(KindTransfer).Allows(string(s))
}

// NotStarted reports whether s is one of the pre-execution states.
func (s TransferStatus) NotStarted() bool {
	return s == TransferPendingReview || s == TransferUpcoming
}

// LineStatus is the micro-status of one transferred asset.
type LineStatus string

const (
	LinePending     LineStatus = "pending"
	LineTransferred LineStatus = "transferred"
	LineCancelled   LineStatus = "cancelled"
)

// Valid reports whether s is a known line status.
func (s LineStatus) Valid() bool {
	return s == LinePending || s == LineTransferred || s == LineCancelled
}

// Transfer moves a set of assets from one site to another.
type Transfer struct {
	ID                 string
	Status             TransferStatus
	From               Site
	To                 Site
	ScheduledDate      time.Time
	ActualTransferDate *time.Time
	Remarks            *string
	CreatedBy          string
	Lines              []*TransferAsset
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TransferAsset is one asset line of a Transfer. MovedAt is set exactly when
// Status is transferred.
type TransferAsset struct {
	ID            string
	TransferID    string
	AssetID       *string
	Status        LineStatus
	FromSubAreaID *string
	ToSubAreaID   *string
	MovedAt       *time.Time
	Remarks       *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Source is where the line's asset sits before the move.
func (t *Transfer) Source(line *TransferAsset) Location {
	return t.From.At(line.FromSubAreaID)
}

// Destination is where the line's asset sits after the move.
func (t *Transfer) Destination(line *TransferAsset) Location {
	return t.To.At(line.ToSubAreaID)
}

// Clone returns a deep copy.
func (t *Transfer) Clone() *Transfer {
	c := *t
	c.ActualTransferDate = cloneTime(t.ActualTransferDate)
	c.Remarks = cloneString(t.Remarks)
	c.Lines = make([]*TransferAsset, len(t.Lines))
	for i, l := range t.Lines {
		c.Lines[i] = l.Clone()
	}
	return &c
}

// Clone returns a deep copy.
func (l *TransferAsset) Clone() *TransferAsset {
	c := *l
	c.AssetID = cloneString(l.AssetID)
	c.FromSubAreaID = cloneString(l.FromSubAreaID)
	c.ToSubAreaID = cloneString(l.ToSubAreaID)
	c.MovedAt = cloneTime(l.MovedAt)
	c.Remarks = cloneString(l.Remarks)
	return &c
}

// Line returns the line with the given id.
func (t *Transfer) Line(id string) *TransferAsset {
	for _, l := range t.Lines {
		if l.ID == id {
			return l
		}
	}
	return nil
}

func (l *TransferAsset) LineID() string       { return l.ID }
func (l *TransferAsset) LineAssetID() *string { return l.AssetID }
func (l *TransferAsset) LineStatus() string   { return string(l.Status) }

func (t *Transfer) Ref() ApprovableRef      { return ApprovableRef{Kind: KindTransfer, ID: t.ID} }
func (t *Transfer) GetStatus() string       { return string(t.Status) }
func (t *Transfer) SetStatus(status string) { t.Status = TransferStatus(status) }

func (t *Transfer) GetLineItems() []LineItem {
	items := make([]LineItem, len(t.Lines))
	for i, l := range t.Lines {
		items[i] = l
	}
	return items
}

var (
	_ Approvable = (*Transfer)(nil)
	_ Approvable = (*Request)(nil)
)

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
