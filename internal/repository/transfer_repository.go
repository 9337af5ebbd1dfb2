package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-asset-custody/internal/domain"
	"github.com/pesio-ai/be-asset-custody/internal/platform/database"
	"github.com/pesio-ai/be-asset-custody/internal/platform/errors"
)

// TransferRepository handles property transfers and their asset lines.
type TransferRepository struct {
	db *database.DB
}

// NewTransferRepository creates a new transfer repository.
func NewTransferRepository(db *database.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

const transferColumns = `
	id, status,
	current_building_id, current_building_room_id, current_unit_or_department_id,
	receiving_building_id, receiving_building_room_id, receiving_unit_or_department_id,
	scheduled_date, actual_transfer_date, remarks, created_by,
	created_at, updated_at`

const transferLineColumns = `
	id, transfer_id, asset_id, asset_transfer_status,
	from_sub_area_id, to_sub_area_id, moved_at, remarks,
	created_at, updated_at`

// Create inserts a transfer with its lines.
func (r *TransferRepository) Create(ctx context.Context, t *domain.Transfer) error {
	return r.db.InTransaction(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO transfers (id, status,
			                       current_building_id, current_building_room_id, current_unit_or_department_id,
			                       receiving_building_id, receiving_building_room_id, receiving_unit_or_department_id,
			                       scheduled_date, actual_transfer_date, remarks, created_by)
			VALUES ($1, $2::transfer_status, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING created_at, updated_at
		`

		err := r.db.QueryRow(ctx, query,
			t.ID,
			string(t.Status),
			t.From.BuildingID,
			t.From.BuildingRoomID,
			t.From.UnitOrDepartmentID,
			t.To.BuildingID,
			t.To.BuildingRoomID,
			t.To.UnitOrDepartmentID,
			t.ScheduledDate,
			t.ActualTransferDate,
			t.Remarks,
			t.CreatedBy,
		).Scan(&t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create transfer")
		}

		for i, line := range t.Lines {
			line.TransferID = t.ID
			if err := r.upsertLine(ctx, line, i); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByID retrieves a transfer with its lines.
func (r *TransferRepository) GetByID(ctx context.Context, id string) (*domain.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE id = $1`
	return r.load(ctx, r.db.QueryRow(ctx, query, id), id)
}

// LockByID retrieves a transfer and locks its row for the rest of the
// transaction. A row locked by another edit fails immediately.
func (r *TransferRepository) LockByID(ctx context.Context, id string) (*domain.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE id = $1 FOR UPDATE NOWAIT`
	t, err := r.load(ctx, r.db.QueryRow(ctx, query, id), id)
	if err != nil {
		return nil, lockError(err, "transfer", id)
	}
	return t, nil
}

// UpdateHeader writes the editable header fields.
func (r *TransferRepository) UpdateHeader(ctx context.Context, t *domain.Transfer) error {
	query := `
		UPDATE transfers
		SET status                          = $2::transfer_status,
		    current_building_id             = $3,
		    current_building_room_id        = $4,
		    current_unit_or_department_id   = $5,
		    receiving_building_id           = $6,
		    receiving_building_room_id      = $7,
		    receiving_unit_or_department_id = $8,
		    scheduled_date                  = $9,
		    actual_transfer_date            = $10,
		    remarks                         = $11,
		    updated_at                      = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		t.ID,
		string(t.Status),
		t.From.BuildingID,
		t.From.BuildingRoomID,
		t.From.UnitOrDepartmentID,
		t.To.BuildingID,
		t.To.BuildingRoomID,
		t.To.UnitOrDepartmentID,
		t.ScheduledDate,
		t.ActualTransferDate,
		t.Remarks,
	).Scan(&t.UpdatedAt)
	if isNoRows(err) {
		return errors.NotFound("transfer", t.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update transfer")
	}
	return nil
}

// SaveLines makes the stored lines equal to lines: missing ones are
// deleted, the rest inserted or updated.
func (r *TransferRepository) SaveLines(ctx context.Context, transferID string, lines []*domain.TransferAsset) error {
	return r.db.InTransaction(ctx, func(ctx context.Context) error {
		keep := make([]string, len(lines))
		for i, l := range lines {
			keep[i] = l.ID
		}

		_, err := r.db.Exec(ctx,
			`DELETE FROM transfer_assets WHERE transfer_id = $1 AND NOT (id = ANY($2::uuid[]))`,
			transferID, keep)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete transfer lines")
		}

		for i, line := range lines {
			line.TransferID = transferID
			if err := r.upsertLine(ctx, line, i); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *TransferRepository) upsertLine(ctx context.Context, line *domain.TransferAsset, position int) error {
	query := `
		INSERT INTO transfer_assets (id, transfer_id, asset_id, asset_transfer_status,
		                             from_sub_area_id, to_sub_area_id, moved_at, remarks, position)
		VALUES ($1, $2, $3, $4::asset_transfer_status, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET position              = EXCLUDED.position,
		    asset_id              = EXCLUDED.asset_id,
		    asset_transfer_status = EXCLUDED.asset_transfer_status,
		    from_sub_area_id      = EXCLUDED.from_sub_area_id,
		    to_sub_area_id        = EXCLUDED.to_sub_area_id,
		    moved_at              = EXCLUDED.moved_at,
		    remarks               = EXCLUDED.remarks,
		    updated_at            = NOW()
		WHERE transfer_assets.transfer_id = EXCLUDED.transfer_id
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		line.ID,
		line.TransferID,
		line.AssetID,
		string(line.Status),
		line.FromSubAreaID,
		line.ToSubAreaID,
		line.MovedAt,
		line.Remarks,
		position,
	).Scan(&line.CreatedAt, &line.UpdatedAt)
	if isNoRows(err) {
		return errors.InvalidInput("lines", "line "+line.ID+" belongs to another transfer")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save transfer line")
	}
	return nil
}

// GetLines returns the lines of a transfer in saved order.
func (r *TransferRepository) GetLines(ctx context.Context, transferID string) ([]*domain.TransferAsset, error) {
	query := `SELECT ` + transferLineColumns + `
		FROM transfer_assets
		WHERE transfer_id = $1
		ORDER BY position ASC, created_at ASC
	`

	rows, err := r.db.Query(ctx, query, transferID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get transfer lines")
	}
	defer rows.Close()

	return scanTransferLines(rows)
}

func (r *TransferRepository) load(ctx context.Context, row scanner, id string) (*domain.Transfer, error) {
	t, err := scanTransfer(row)
	if isNoRows(err) {
		return nil, errors.NotFound("transfer", id)
	}
	if err != nil {
		return nil, err
	}

	t.Lines, err = r.GetLines(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanTransfer(row scanner) (*domain.Transfer, error) {
	t := &domain.Transfer{}
	err := row.Scan(
		&t.ID,
		&t.Status,
		&t.From.BuildingID,
		&t.From.BuildingRoomID,
		&t.From.UnitOrDepartmentID,
		&t.To.BuildingID,
		&t.To.BuildingRoomID,
		&t.To.UnitOrDepartmentID,
		&t.ScheduledDate,
		&t.ActualTransferDate,
		&t.Remarks,
		&t.CreatedBy,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func scanTransferLines(rows pgx.Rows) ([]*domain.TransferAsset, error) {
	var lines []*domain.TransferAsset
	for rows.Next() {
		l := &domain.TransferAsset{}
		err := rows.Scan(
			&l.ID,
			&l.TransferID,
			&l.AssetID,
			&l.Status,
			&l.FromSubAreaID,
			&l.ToSubAreaID,
			&l.MovedAt,
			&l.Remarks,
			&l.CreatedAt,
			&l.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan transfer line")
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read transfer lines")
	}
	return lines, nil
}
