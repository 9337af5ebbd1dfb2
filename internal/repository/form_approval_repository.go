package repository

import (
	"context"

	"github.com/pesio-ai/be-asset-custody/internal/domain"
	"github.com/pesio-ai/be-asset-custody/internal/platform/database"
	"github.com/pesio-ai/be-asset-custody/internal/platform/errors"
)

// FormApprovalRepository manages approval workflows and their steps.
// Workflow + step creation is always done together in a single transaction.
type FormApprovalRepository struct {
	db    *database.DB
	steps *ApprovalStepRepository
}

// NewFormApprovalRepository creates a new FormApprovalRepository.
func NewFormApprovalRepository(db *database.DB) *FormApprovalRepository {
	return &FormApprovalRepository{db: db, steps: NewApprovalStepRepository(db)}
}

const formApprovalColumns = `
	id, approvable_type, approvable_id, status,
	requested_by, requested_at, reviewed_by, reviewed_at,
	created_at, updated_at`

// Create inserts a workflow and its steps in one transaction.
func (r *FormApprovalRepository) Create(ctx context.Context, fa *domain.FormApproval) error {
	return r.db.InTransaction(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO form_approvals
			    (id, approvable_type, approvable_id, status, requested_by, requested_at)
			VALUES ($1, $2::request_kind, $3, $4::form_approval_status, $5, $6)
			RETURNING created_at, updated_at
		`

		err := r.db.QueryRow(ctx, query,
			fa.ID,
			string(fa.ApprovableType),
			fa.ApprovableID,
			string(fa.Status),
			fa.RequestedBy,
			fa.RequestedAt,
		).Scan(&fa.CreatedAt, &fa.UpdatedAt)
		if database.HasCode(err, database.CodeUniqueViolation) {
			return errors.Conflict("an approval already exists for " + fa.Ref().String())
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create form approval")
		}

		for _, step := range fa.Steps {
			step.FormApprovalID = fa.ID
			if err := r.steps.create(ctx, step); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByID retrieves a workflow with its steps.
func (r *FormApprovalRepository) GetByID(ctx context.Context, id string) (*domain.FormApproval, error) {
	query := `SELECT ` + formApprovalColumns + ` FROM form_approvals WHERE id = $1`
	return r.load(ctx, r.db.QueryRow(ctx, query, id), id)
}

// LockByID retrieves a workflow and locks its row for the rest of the
// transaction. A row locked by another edit fails immediately.
func (r *FormApprovalRepository) LockByID(ctx context.Context, id string) (*domain.FormApproval, error) {
	query := `SELECT ` + formApprovalColumns + ` FROM form_approvals WHERE id = $1 FOR UPDATE NOWAIT`
	fa, err := r.load(ctx, r.db.QueryRow(ctx, query, id), id)
	if err != nil {
		return nil, lockError(err, "form_approval", id)
	}
	return fa, nil
}

// GetByApprovable retrieves the workflow attached to ref.
func (r *FormApprovalRepository) GetByApprovable(ctx context.Context, ref domain.ApprovableRef) (*domain.FormApproval, error) {
	query := `
		SELECT ` + formApprovalColumns + `
		FROM form_approvals
		WHERE approvable_type = $1::request_kind AND approvable_id = $2
	`
	return r.load(ctx, r.db.QueryRow(ctx, query, string(ref.Kind), ref.ID), ref.String())
}

// LockByApprovable is GetByApprovable with a NOWAIT row lock.
func (r *FormApprovalRepository) LockByApprovable(ctx context.Context, ref domain.ApprovableRef) (*domain.FormApproval, error) {
	query := `
		SELECT ` + formApprovalColumns + `
		FROM form_approvals
		WHERE approvable_type = $1::request_kind AND approvable_id = $2
		FOR UPDATE NOWAIT
	`
	fa, err := r.load(ctx, r.db.QueryRow(ctx, query, string(ref.Kind), ref.ID), ref.String())
	if err != nil {
		return nil, lockError(err, "form_approval", ref.String())
	}
	return fa, nil
}

// Update writes the workflow status, reviewer and every step.
func (r *FormApprovalRepository) Update(ctx context.Context, fa *domain.FormApproval) error {
	return r.db.InTransaction(ctx, func(ctx context.Context) error {
		query := `
			UPDATE form_approvals
			SET status      = $2::form_approval_status,
			    reviewed_by = $3,
			    reviewed_at = $4,
			    updated_at  = NOW()
			WHERE id = $1
			RETURNING updated_at
		`

		err := r.db.QueryRow(ctx, query, fa.ID, string(fa.Status), fa.ReviewedBy, fa.ReviewedAt).Scan(&fa.UpdatedAt)
		if isNoRows(err) {
			return errors.NotFound("form_approval", fa.ID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update form approval")
		}

		for _, step := range fa.Steps {
			if err := r.steps.Update(ctx, step); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *FormApprovalRepository) load(ctx context.Context, row scanner, key string) (*domain.FormApproval, error) {
	fa, err := scanFormApproval(row)
	if isNoRows(err) {
		return nil, errors.NotFound("form_approval", key)
	}
	if err != nil {
		return nil, err
	}

	fa.Steps, err = r.steps.GetByFormApprovalID(ctx, fa.ID)
	if err != nil {
		return nil, err
	}
	return fa, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

func scanFormApproval(row scanner) (*domain.FormApproval, error) {
	fa := &domain.FormApproval{}
	err := row.Scan(
		&fa.ID,
		&fa.ApprovableType,
		&fa.ApprovableID,
		&fa.Status,
		&fa.RequestedBy,
		&fa.RequestedAt,
		&fa.ReviewedBy,
		&fa.ReviewedAt,
		&fa.CreatedAt,
		&fa.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return fa, nil
}
