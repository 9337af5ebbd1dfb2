// Package reconcile derives a transfer's header status from its line
// statuses and computes the asset relocations the edit implies.
//
// The engine is a pure function over its input. Callers load the transfer
// and the current asset locations inside a transaction, run Reconcile, and
// persist the result in the same transaction.
package reconcile

import (
	"time"

	"github.com/pesio-ai/be-asset-custody/internal/domain"
)

// Input is one edit to reconcile.
type Input struct {
	// Transfer carries the requested header status and the edited lines.
	Transfer *domain.Transfer
	// OldStatus is the header status before the edit.
	OldStatus domain.TransferStatus
	// Assets maps asset id to its current location. Lines whose asset is
	// absent are skipped for relocation.
	Assets map[string]domain.Location
}

// Relocation moves one asset.
type Relocation struct {
	AssetID string
	LineID  string
	From    domain.Location
	To      domain.Location
}

// Result is the reconciled state.
type Result struct {
	// Transfer is a reconciled copy; the input is not modified.
	Transfer        *domain.Transfer
	RequestedStatus domain.TransferStatus
	ChangedLines    []string
	Relocations     []Relocation
	// Skipped lists lines whose asset could not be relocated.
	Skipped []string
}

// StatusChanged reports whether the header differs from what was requested.
func (r Result) StatusChanged() bool {
	return r.Transfer.Status != r.RequestedStatus
}

// Changed reports whether the run produced any mutation.
func (r Result) Changed() bool {
	return r.StatusChanged() || len(r.ChangedLines) > 0 || len(r.Relocations) > 0
}

// Engine runs the reconciliation rules.
type Engine struct {
	Now func() time.Time
}

// New creates an Engine using the wall clock.
func New() *Engine {
	return &Engine{Now: time.Now}
}

type run struct {
	t         *domain.Transfer
	old       domain.TransferStatus
	requested domain.TransferStatus
	now       time.Time
	assets    map[string]domain.Location
	target    map[string]domain.Location
	targetBy  map[string]string
	skipped   map[string]bool
}

// Reconcile applies the rules in fixed order:
//
//  1. lines freshly marked transferred are stamped and moved to the destination
//  2. a transition to completed forces every line transferred, all stamped with one move date
//  3. a transition to cancelled cancels pending lines
//  4. a transition to pending_review or upcoming reverts transferred lines
//  5. a completed transfer with a non-transferred line falls back to in_progress
//  6. the header is derived from the lines unless upcoming or pending_review was requested
//  7. every non-transferred line's asset is put back at the source
func (e *Engine) Reconcile(in Input) Result {
	r := &run{
		t:         in.Transfer.Clone(),
		old:       in.OldStatus,
		requested: in.Transfer.Status,
		now:       e.Now(),
		assets:    in.Assets,
		target:    make(map[string]domain.Location),
		targetBy:  make(map[string]string),
		skipped:   make(map[string]bool),
	}

	r.markTransferred()
	r.complete()
	r.cancel()
	r.revertToNotStarted()
	r.completedRollback()
	r.resolveStatus()
	r.sweep()

	return r.result(in.Transfer)
}

// ── Rules ──────────────────────────────────────────────────────────────────

func (r *run) markTransferred() {
	for _, l := range r.t.Lines {
		switch {
		case l.Status == domain.LineTransferred && l.MovedAt == nil:
			now := r.now
			l.MovedAt = &now
			r.relocate(l, r.t.Destination(l))
		case l.Status != domain.LineTransferred && l.MovedAt != nil:
			l.MovedAt = nil
		}
	}
}

func (r *run) complete() {
	if !r.transitionTo(domain.TransferCompleted) {
		return
	}
	stamp := r.now
	if r.t.ActualTransferDate != nil {
		stamp = *r.t.ActualTransferDate
	}
	for _, l := range r.t.Lines {
		at := stamp
		l.MovedAt = &at
		l.Status = domain.LineTransferred
		l.Remarks = copyString(r.t.Remarks)
		r.relocate(l, r.t.Destination(l))
	}
}

func (r *run) cancel() {
	if !r.transitionTo(domain.TransferCancelled) {
		return
	}
	for _, l := range r.t.Lines {
		if l.Status == domain.LinePending {
			l.Status = domain.LineCancelled
			l.MovedAt = nil
		}
	}
}

func (r *run) revertToNotStarted() {
	if !r.transitionTo(domain.TransferPendingReview) && !r.transitionTo(domain.TransferUpcoming) {
		return
	}
	for _, l := range r.t.Lines {
		if l.Status != domain.LineTransferred {
			continue
		}
		l.Status = domain.LinePending
		l.MovedAt = nil
		l.Remarks = nil
		r.relocate(l, r.t.Source(l))
	}
}

func (r *run) completedRollback() {
	if r.old != domain.TransferCompleted && r.requested != domain.TransferCompleted {
		return
	}
	if r.allTransferred() {
		return
	}
	r.t.Status = domain.TransferInProgress
	for _, l := range r.t.Lines {
		if l.Status == domain.LineTransferred {
			continue
		}
		r.relocate(l, r.t.Source(l))
		if l.Status == domain.LinePending {
			l.MovedAt = nil
			l.Remarks = nil
		}
	}
}

func (r *run) resolveStatus() {
	if r.requested.NotStarted() || len(r.t.Lines) == 0 {
		return
	}

	var transferred, cancelled, pending int
	for _, l := range r.t.Lines {
		switch l.Status {
		case domain.LineTransferred:
			transferred++
		case domain.LineCancelled:
			cancelled++
		default:
			pending++
		}
	}
	total := len(r.t.Lines)

	switch {
	case transferred == total:
		r.t.Status = domain.TransferCompleted
	case cancelled == total:
		r.t.Status = domain.TransferCancelled
	case pending == 0:
		if r.requested == domain.TransferCancelled {
			r.t.Status = domain.TransferCancelled
		} else {
			r.t.Status = domain.TransferInProgress
		}
	case r.old == domain.TransferCompleted && r.requested != domain.TransferCompleted,
		r.t.ScheduledDate.Before(r.now):
		r.t.Status = domain.TransferOverdue
	default:
		r.t.Status = domain.TransferInProgress
	}
}

func (r *run) sweep() {
	for _, l := range r.t.Lines {
		if l.Status != domain.LineTransferred {
			r.relocate(l, r.t.Source(l))
		}
	}
}

// ── Helpers ────────────────────────────────────────────────────────────────

func (r *run) transitionTo(status domain.TransferStatus) bool {
	return r.requested == status && r.old != status
}

func (r *run) allTransferred() bool {
	for _, l := range r.t.Lines {
		if l.Status != domain.LineTransferred {
			return false
		}
	}
	return true
}

func (r *run) relocate(l *domain.TransferAsset, to domain.Location) {
	if l.AssetID == nil {
		r.skipped[l.ID] = true
		return
	}
	if _, ok := r.assets[*l.AssetID]; !ok {
		r.skipped[l.ID] = true
		return
	}
	r.target[*l.AssetID] = to
	r.targetBy[*l.AssetID] = l.ID
}

func (r *run) result(original *domain.Transfer) Result {
	res := Result{Transfer: r.t, RequestedStatus: r.requested}

	for i, l := range r.t.Lines {
		if !sameLine(l, original.Lines[i]) {
			res.ChangedLines = append(res.ChangedLines, l.ID)
		}
		if r.skipped[l.ID] {
			res.Skipped = append(res.Skipped, l.ID)
		}
	}

	emitted := make(map[string]bool)
	for _, l := range r.t.Lines {
		if l.AssetID == nil || emitted[*l.AssetID] {
			continue
		}
		id := *l.AssetID
		to, ok := r.target[id]
		if !ok {
			continue
		}
		emitted[id] = true
		if from := r.assets[id]; !from.Equal(to) {
			res.Relocations = append(res.Relocations, Relocation{AssetID: id, LineID: r.targetBy[id], From: from, To: to})
		}
	}
	return res
}

func sameLine(a, b *domain.TransferAsset) bool {
	return a.Status == b.Status && sameTime(a.MovedAt, b.MovedAt) && sameString(a.Remarks, b.Remarks)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
