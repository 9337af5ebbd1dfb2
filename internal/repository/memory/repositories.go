package memory

import (
	"context"
	"sort"

	"github.com/pesio-ai/be-asset-custody/internal/domain"
	"github.com/pesio-ai/be-asset-custody/internal/platform/errors"
)

// ── Form approvals ─────────────────────────────────────────────────────────

// FormApprovalRepository stores approval workflows with their steps.
type FormApprovalRepository struct{ s *Store }

func (r *FormApprovalRepository) Create(ctx context.Context, fa *domain.FormApproval) error {
	return r.s.with(ctx, func(st *state) error {
		for _, existing := range st.approvals {
			if existing.Ref() == fa.Ref() {
				return errors.Conflict("an approval already exists for " + fa.Ref().String())
			}
		}
		now := r.s.now()
		fa.CreatedAt, fa.UpdatedAt = now, now
		for _, step := range fa.Steps {
			step.FormApprovalID = fa.ID
			step.CreatedAt, step.UpdatedAt = now, now
		}
		fa.SortSteps()
		st.approvals[fa.ID] = fa.Clone()
		return nil
	})
}

func (r *FormApprovalRepository) GetByID(ctx context.Context, id string) (*domain.FormApproval, error) {
	var out *domain.FormApproval
	err := r.s.with(ctx, func(st *state) error {
		fa, ok := st.approvals[id]
		if !ok {
			return errors.NotFound("form_approval", id)
		}
		out = fa.Clone()
		return nil
	})
	return out, err
}

// LockByID is GetByID; the store lock already serializes transactions.
func (r *FormApprovalRepository) LockByID(ctx context.Context, id string) (*domain.FormApproval, error) {
	return r.GetByID(ctx, id)
}

func (r *FormApprovalRepository) GetByApprovable(ctx context.Context, ref domain.ApprovableRef) (*domain.FormApproval, error) {
	var out *domain.FormApproval
	err := r.s.with(ctx, func(st *state) error {
		for _, fa := range st.approvals {
			if fa.Ref() == ref {
				out = fa.Clone()
				return nil
			}
		}
		return errors.NotFound("form_approval", ref.String())
	})
	return out, err
}

func (r *FormApprovalRepository) LockByApprovable(ctx context.Context, ref domain.ApprovableRef) (*domain.FormApproval, error) {
	return r.GetByApprovable(ctx, ref)
}

func (r *FormApprovalRepository) Update(ctx context.Context, fa *domain.FormApproval) error {
	return r.s.with(ctx, func(st *state) error {
		if _, ok := st.approvals[fa.ID]; !ok {
			return errors.NotFound("form_approval", fa.ID)
		}
		fa.UpdatedAt = r.s.now()
		st.approvals[fa.ID] = fa.Clone()
		return nil
	})
}

// ── Transfers ──────────────────────────────────────────────────────────────

// TransferRepository stores transfers with their lines.
type TransferRepository struct{ s *Store }

func (r *TransferRepository) Create(ctx context.Context, t *domain.Transfer) error {
	return r.s.with(ctx, func(st *state) error {
		if _, ok := st.transfers[t.ID]; ok {
			return errors.Conflict("transfer " + t.ID + " already exists")
		}
		now := r.s.now()
		t.CreatedAt, t.UpdatedAt = now, now
		for _, l := range t.Lines {
			l.TransferID = t.ID
			l.CreatedAt, l.UpdatedAt = now, now
		}
		st.transfers[t.ID] = t.Clone()
		return nil
	})
}

func (r *TransferRepository) GetByID(ctx context.Context, id string) (*domain.Transfer, error) {
	var out *domain.Transfer
	err := r.s.with(ctx, func(st *state) error {
		t, ok := st.transfers[id]
		if !ok {
			return errors.NotFound("transfer", id)
		}
		out = t.Clone()
		return nil
	})
	return out, err
}

func (r *TransferRepository) LockByID(ctx context.Context, id string) (*domain.Transfer, error) {
	return r.GetByID(ctx, id)
}

func (r *TransferRepository) UpdateHeader(ctx context.Context, t *domain.Transfer) error {
	return r.s.with(ctx, func(st *state) error {
		stored, ok := st.transfers[t.ID]
		if !ok {
			return errors.NotFound("transfer", t.ID)
		}
		lines := stored.Lines
		updated := t.Clone()
		updated.Lines = lines
		updated.CreatedAt = stored.CreatedAt
		updated.UpdatedAt = r.s.now()
		t.UpdatedAt = updated.UpdatedAt
		st.transfers[t.ID] = updated
		return nil
	})
}

func (r *TransferRepository) SaveLines(ctx context.Context, transferID string, lines []*domain.TransferAsset) error {
	return r.s.with(ctx, func(st *state) error {
		stored, ok := st.transfers[transferID]
		if !ok {
			return errors.NotFound("transfer", transferID)
		}
		for id, other := range st.transfers {
			if id == transferID {
				continue
			}
			for _, l := range lines {
				if other.Line(l.ID) != nil {
					return errors.InvalidInput("lines", "line "+l.ID+" belongs to another transfer")
				}
			}
		}

		now := r.s.now()
		saved := make([]*domain.TransferAsset, len(lines))
		for i, l := range lines {
			l.TransferID = transferID
			if prev := stored.Line(l.ID); prev != nil {
				l.CreatedAt = prev.CreatedAt
			} else {
				l.CreatedAt = now
			}
			l.UpdatedAt = now
			saved[i] = l.Clone()
		}
		stored.Lines = saved
		return nil
	})
}

// ── Requests ───────────────────────────────────────────────────────────────

// RequestRepository stores the non-transfer requests.
type RequestRepository struct{ s *Store }

func (r *RequestRepository) Create(ctx context.Context, req *domain.Request) error {
	return r.s.with(ctx, func(st *state) error {
		if _, ok := st.requests[req.ID]; ok {
			return errors.Conflict("request " + req.ID + " already exists")
		}
		now := r.s.now()
		req.CreatedAt, req.UpdatedAt = now, now
		for _, l := range req.Lines {
			l.RequestID = req.ID
		}
		st.requests[req.ID] = req.Clone()
		return nil
	})
}

func (r *RequestRepository) GetByID(ctx context.Context, ref domain.ApprovableRef) (*domain.Request, error) {
	var out *domain.Request
	err := r.s.with(ctx, func(st *state) error {
		req, ok := st.requests[ref.ID]
		if !ok || req.Kind != ref.Kind {
			return errors.NotFound(string(ref.Kind), ref.ID)
		}
		out = req.Clone()
		return nil
	})
	return out, err
}

func (r *RequestRepository) LockByID(ctx context.Context, ref domain.ApprovableRef) (*domain.Request, error) {
	return r.GetByID(ctx, ref)
}

func (r *RequestRepository) UpdateStatus(ctx context.Context, req *domain.Request) error {
	return r.s.with(ctx, func(st *state) error {
		stored, ok := st.requests[req.ID]
		if !ok {
			return errors.NotFound(string(req.Kind), req.ID)
		}
		stored.Status = req.Status
		stored.UpdatedAt = r.s.now()
		req.UpdatedAt = stored.UpdatedAt
		return nil
	})
}

// ── Assets ─────────────────────────────────────────────────────────────────

// AssetRepository stores assets and sub-areas.
type AssetRepository struct{ s *Store }

func (r *AssetRepository) Create(ctx context.Context, a *domain.Asset) error {
	return r.s.with(ctx, func(st *state) error {
		for _, existing := range st.assets {
			if existing.PropertyNumber == a.PropertyNumber {
				return errors.Conflict("asset " + a.PropertyNumber + " already exists")
			}
		}
		a.UpdatedAt = r.s.now()
		c := *a
		c.Location = a.Location.Site.At(a.Location.SubAreaID)
		st.assets[a.ID] = &c
		return nil
	})
}

func (r *AssetRepository) GetByID(ctx context.Context, id string) (*domain.Asset, error) {
	var out *domain.Asset
	err := r.s.with(ctx, func(st *state) error {
		a, ok := st.assets[id]
		if !ok {
			return errors.NotFound("asset", id)
		}
		c := *a
		c.Location = a.Location.Site.At(a.Location.SubAreaID)
		out = &c
		return nil
	})
	return out, err
}

// Delete removes an asset and clears the lines that referenced it.
func (r *AssetRepository) Delete(ctx context.Context, id string) error {
	return r.s.with(ctx, func(st *state) error {
		if _, ok := st.assets[id]; !ok {
			return errors.NotFound("asset", id)
		}
		delete(st.assets, id)
		for _, t := range st.transfers {
			for _, l := range t.Lines {
				if l.AssetID != nil && *l.AssetID == id {
					l.AssetID = nil
				}
			}
		}
		for _, req := range st.requests {
			for _, l := range req.Lines {
				if l.AssetID != nil && *l.AssetID == id {
					l.AssetID = nil
				}
			}
		}
		return nil
	})
}

func (r *AssetRepository) LockLocations(ctx context.Context, ids []string) (map[string]domain.Location, error) {
	out := make(map[string]domain.Location, len(ids))
	err := r.s.with(ctx, func(st *state) error {
		for _, id := range ids {
			if a, ok := st.assets[id]; ok {
				out[id] = a.Location.Site.At(a.Location.SubAreaID)
			}
		}
		return nil
	})
	return out, err
}

func (r *AssetRepository) Relocate(ctx context.Context, id string, loc domain.Location) error {
	return r.s.with(ctx, func(st *state) error {
		a, ok := st.assets[id]
		if !ok {
			return errors.NotFound("asset", id)
		}
		a.Location = loc.Site.At(loc.SubAreaID)
		a.UpdatedAt = r.s.now()
		return nil
	})
}

func (r *AssetRepository) ExistingSubAreas(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	err := r.s.with(ctx, func(st *state) error {
		for _, id := range ids {
			if _, ok := st.subAreas[id]; ok {
				out[id] = true
			}
		}
		return nil
	})
	return out, err
}

func (r *AssetRepository) CreateSubArea(ctx context.Context, sa *domain.SubArea) error {
	return r.s.with(ctx, func(st *state) error {
		c := *sa
		st.subAreas[sa.ID] = &c
		return nil
	})
}

// ── Audit ──────────────────────────────────────────────────────────────────

// AuditRepository is an append-only audit log.
type AuditRepository struct{ s *Store }

func (r *AuditRepository) Append(ctx context.Context, entry *domain.AuditEntry) error {
	return r.s.with(ctx, func(st *state) error {
		c := *entry
		st.audit = append(st.audit, &c)
		return nil
	})
}

func (r *AuditRepository) ListByApprovable(ctx context.Context, ref domain.ApprovableRef) ([]*domain.AuditEntry, error) {
	var out []*domain.AuditEntry
	err := r.s.with(ctx, func(st *state) error {
		for _, e := range st.audit {
			if e.ApprovableType == ref.Kind && e.ApprovableID == ref.ID {
				c := *e
				out = append(out, &c)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].PerformedAt.Before(out[j].PerformedAt) })
	return out, err
}
