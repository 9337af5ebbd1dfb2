package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-asset-custody/internal/domain"
	"github.com/pesio-ai/be-asset-custody/internal/platform/database"
	"github.com/pesio-ai/be-asset-custody/internal/platform/errors"
)

// ApprovalStepRepository handles reads and updates on individual approval steps.
// Step creation is handled by FormApprovalRepository.Create (transactionally).
type ApprovalStepRepository struct {
	db *database.DB
}

// NewApprovalStepRepository creates a new ApprovalStepRepository.
func NewApprovalStepRepository(db *database.DB) *ApprovalStepRepository {
	return &ApprovalStepRepository{db: db}
}

func (r *ApprovalStepRepository) create(ctx context.Context, step *domain.ApprovalStep) error {
	query := `
		INSERT INTO approval_steps
		    (id, form_approval_id, step_order, code, label, is_external, status)
		VALUES ($1, $2, $3, $4::approval_step_code, $5, $6, $7::approval_step_status)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		step.ID,
		step.FormApprovalID,
		step.StepOrder,
		string(step.Code),
		step.Label,
		step.IsExternal,
		string(step.Status),
	).Scan(&step.CreatedAt, &step.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval step")
	}
	return nil
}

// GetByFormApprovalID returns all steps for a workflow ordered by step_order.
func (r *ApprovalStepRepository) GetByFormApprovalID(ctx context.Context, formApprovalID string) ([]*domain.ApprovalStep, error) {
	query := `
		SELECT id, form_approval_id, step_order, code, label, is_external,
		       status, actor_id, external_name, external_title,
		       acted_at, notes, created_at, updated_at
		FROM approval_steps
		WHERE form_approval_id = $1
		ORDER BY step_order ASC
	`

	rows, err := r.db.Query(ctx, query, formApprovalID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval steps")
	}
	defer rows.Close()

	return scanStepRows(rows)
}

// Update records the outcome of an action on the step, or its reset.
func (r *ApprovalStepRepository) Update(ctx context.Context, step *domain.ApprovalStep) error {
	query := `
		UPDATE approval_steps
		SET status         = $2::approval_step_status,
		    actor_id       = $3,
		    external_name  = $4,
		    external_title = $5,
		    acted_at       = $6,
		    notes          = $7,
		    updated_at     = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		step.ID,
		string(step.Status),
		step.ActorID,
		step.ExternalName,
		step.ExternalTitle,
		step.ActedAt,
		step.Notes,
	).Scan(&step.UpdatedAt)
	if isNoRows(err) {
		return errors.NotFound("approval_step", step.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval step")
	}
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanStep(row scanner) (*domain.ApprovalStep, error) {
	s := &domain.ApprovalStep{}
	err := row.Scan(
		&s.ID,
		&s.FormApprovalID,
		&s.StepOrder,
		&s.Code,
		&s.Label,
		&s.IsExternal,
		&s.Status,
		&s.ActorID,
		&s.ExternalName,
		&s.ExternalTitle,
		&s.ActedAt,
		&s.Notes,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func scanStepRows(rows pgx.Rows) ([]*domain.ApprovalStep, error) {
	var steps []*domain.ApprovalStep
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval step")
		}
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read approval steps")
	}
	return steps, nil
}
