package repository

import (
	"context"

	"github.com/pesio-ai/be-asset-custody/internal/domain"
	"github.com/pesio-ai/be-asset-custody/internal/platform/database"
	"github.com/pesio-ai/be-asset-custody/internal/platform/errors"
)

// RequestRepository handles inventory scheduling, turnover/disposal and
// off-campus requests.
type RequestRepository struct {
	db *database.DB
}

// NewRequestRepository creates a new request repository.
func NewRequestRepository(db *database.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = `id, kind, status, reference, requested_by, remarks, created_at, updated_at`

// Create inserts a request with its lines.
func (r *RequestRepository) Create(ctx context.Context, req *domain.Request) error {
	return r.db.InTransaction(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO requests (id, kind, status, reference, requested_by, remarks)
			VALUES ($1, $2::request_kind, $3, $4, $5, $6)
			RETURNING created_at, updated_at
		`

		err := r.db.QueryRow(ctx, query,
			req.ID,
			string(req.Kind),
			req.Status,
			req.Reference,
			req.RequestedBy,
			req.Remarks,
		).Scan(&req.CreatedAt, &req.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create request")
		}

		lineQuery := `
			INSERT INTO request_lines (id, request_id, position, asset_id, status, remarks)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		for i, line := range req.Lines {
			line.RequestID = req.ID
			if _, err := r.db.Exec(ctx, lineQuery, line.ID, req.ID, i, line.AssetID, line.Status, line.Remarks); err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create request line")
			}
		}
		return nil
	})
}

// GetByID retrieves a request of the given kind.
func (r *RequestRepository) GetByID(ctx context.Context, ref domain.ApprovableRef) (*domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1 AND kind = $2::request_kind`
	return r.load(ctx, r.db.QueryRow(ctx, query, ref.ID, string(ref.Kind)), ref)
}

// LockByID is GetByID with a NOWAIT row lock.
func (r *RequestRepository) LockByID(ctx context.Context, ref domain.ApprovableRef) (*domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1 AND kind = $2::request_kind FOR UPDATE NOWAIT`
	req, err := r.load(ctx, r.db.QueryRow(ctx, query, ref.ID, string(ref.Kind)), ref)
	if err != nil {
		return nil, lockError(err, string(ref.Kind), ref.ID)
	}
	return req, nil
}

// UpdateStatus writes the request's business status.
func (r *RequestRepository) UpdateStatus(ctx context.Context, req *domain.Request) error {
	err := r.db.QueryRow(ctx,
		`UPDATE requests SET status = $2, updated_at = NOW() WHERE id = $1 RETURNING updated_at`,
		req.ID, req.Status,
	).Scan(&req.UpdatedAt)
	if isNoRows(err) {
		return errors.NotFound(string(req.Kind), req.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update request status")
	}
	return nil
}

func (r *RequestRepository) load(ctx context.Context, row scanner, ref domain.ApprovableRef) (*domain.Request, error) {
	req := &domain.Request{}
	err := row.Scan(
		&req.ID,
		&req.Kind,
		&req.Status,
		&req.Reference,
		&req.RequestedBy,
		&req.Remarks,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if isNoRows(err) {
		return nil, errors.NotFound(string(ref.Kind), ref.ID)
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, request_id, asset_id, status, remarks
		FROM request_lines
		WHERE request_id = $1
		ORDER BY position ASC
	`, req.ID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get request lines")
	}
	defer rows.Close()

	for rows.Next() {
		l := &domain.RequestLine{}
		if err := rows.Scan(&l.ID, &l.RequestID, &l.AssetID, &l.Status, &l.Remarks); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan request line")
		}
		req.Lines = append(req.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read request lines")
	}
	return req, nil
}
