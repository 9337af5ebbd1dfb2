package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-asset-custody/internal/domain"
	"github.com/pesio-ai/be-asset-custody/internal/platform/database"
	"github.com/pesio-ai/be-asset-custody/internal/platform/errors"
)

// AuditRepository appends and reads immutable custody audit entries.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one audit entry. The table has a mutation-prevention
// trigger so this is the only write operation exposed.
func (r *AuditRepository) Append(ctx context.Context, entry *domain.AuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO custody_audit_log
		    (id, approvable_type, approvable_id, form_approval_id, step_id,
		     action, performed_by, performed_at,
		     status_before, status_after,
		     metadata)
		VALUES ($1, $2::request_kind, $3, $4, $5,
		        $6, $7, $8,
		        $9, $10,
		        $11)
	`

	_, err := r.db.Exec(ctx, query,
		entry.ID,
		string(entry.ApprovableType),
		entry.ApprovableID,
		entry.FormApprovalID,
		entry.StepID,
		string(entry.Action),
		entry.PerformedBy,
		entry.PerformedAt,
		entry.StatusBefore,
		entry.StatusAfter,
		metadataJSON,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append audit entry")
	}
	return nil
}

// ListByApprovable returns the full audit trail for ref ordered oldest-first.
func (r *AuditRepository) ListByApprovable(ctx context.Context, ref domain.ApprovableRef) ([]*domain.AuditEntry, error) {
	query := `
		SELECT id, approvable_type, approvable_id, form_approval_id, step_id,
		       action, performed_by, performed_at,
		       status_before, status_after,
		       metadata
		FROM custody_audit_log
		WHERE approvable_type = $1::request_kind AND approvable_id = $2
		ORDER BY performed_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, string(ref.Kind), ref.ID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanAuditRows(rows pgx.Rows) ([]*domain.AuditEntry, error) {
	var entries []*domain.AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read audit log")
	}
	return entries, nil
}

func scanAuditEntry(sc scanner) (*domain.AuditEntry, error) {
	entry := &domain.AuditEntry{}
	var metadataJSON []byte

	err := sc.Scan(
		&entry.ID,
		&entry.ApprovableType,
		&entry.ApprovableID,
		&entry.FormApprovalID,
		&entry.StepID,
		&entry.Action,
		&entry.PerformedBy,
		&entry.PerformedAt,
		&entry.StatusBefore,
		&entry.StatusAfter,
		&metadataJSON,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
		}
	}

	return entry, nil
}
