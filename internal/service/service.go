// Package service implements the custody command surface: approval actions,
// transfer edits and request creation. Every command runs in one
// transaction with its aggregate locked; audit entries and domain events are
// collected during the transaction and flushed only after it commits.
package service

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-asset-custody/internal/actor"
	"github.com/pesio-ai/be-asset-custody/internal/client"
	"github.com/pesio-ai/be-asset-custody/internal/domain"
	"github.com/pesio-ai/be-asset-custody/internal/metrics"
	"github.com/pesio-ai/be-asset-custody/internal/platform/errors"
	"github.com/pesio-ai/be-asset-custody/internal/platform/logger"
)

// TxRunner runs fn inside a transaction carried by ctx.
type TxRunner interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type FormApprovalRepository interface {
	Create(ctx context.Context, fa *domain.FormApproval) error
	GetByID(ctx context.Context, id string) (*domain.FormApproval, error)
	LockByID(ctx context.Context, id string) (*domain.FormApproval, error)
	GetByApprovable(ctx context.Context, ref domain.ApprovableRef) (*domain.FormApproval, error)
	LockByApprovable(ctx context.Context, ref domain.ApprovableRef) (*domain.FormApproval, error)
	Update(ctx context.Context, fa *domain.FormApproval) error
}

type TransferRepository interface {
	Create(ctx context.Context, t *domain.Transfer) error
	GetByID(ctx context.Context, id string) (*domain.Transfer, error)
	LockByID(ctx context.Context, id string) (*domain.Transfer, error)
	UpdateHeader(ctx context.Context, t *domain.Transfer) error
	SaveLines(ctx context.Context, transferID string, lines []*domain.TransferAsset) error
}

type RequestRepository interface {
	Create(ctx context.Context, req *domain.Request) error
	GetByID(ctx context.Context, ref domain.ApprovableRef) (*domain.Request, error)
	LockByID(ctx context.Context, ref domain.ApprovableRef) (*domain.Request, error)
	UpdateStatus(ctx context.Context, req *domain.Request) error
}

type AssetRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Asset, error)
	LockLocations(ctx context.Context, ids []string) (map[string]domain.Location, error)
	Relocate(ctx context.Context, id string, loc domain.Location) error
	ExistingSubAreas(ctx context.Context, ids []string) (map[string]bool, error)
}

type AuditRepository interface {
	Append(ctx context.Context, entry *domain.AuditEntry) error
	ListByApprovable(ctx context.Context, ref domain.ApprovableRef) ([]*domain.AuditEntry, error)
}

// Publisher emits domain events. Implementations must not fail the caller.
type Publisher interface {
	Publish(ctx context.Context, ev client.Event)
}

// Repositories bundles the persistence backends a service needs.
type Repositories struct {
	Tx        TxRunner
	Approvals FormApprovalRepository
	Transfers TransferRepository
	Requests  RequestRepository
	Assets    AssetRepository
	Audit     AuditRepository
}

// Deps are the collaborators shared by every service.
type Deps struct {
	Repos   Repositories
	Actors  *actor.Resolver
	Events  Publisher
	Metrics *metrics.Metrics
	Log     *logger.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	return d
}

// ── Side effects ──────────────────────────────────────────────────────────────

// effects collects what a command must record once its transaction commits.
type effects struct {
	audit []*domain.AuditEntry
}

func (e *effects) record(entry *domain.AuditEntry) {
	e.audit = append(e.audit, entry)
}

// flush writes audit entries and publishes one event per entry. Failures are
// logged and never returned.
func flush(ctx context.Context, d Deps, fx *effects) {
	for _, entry := range fx.audit {
		if err := d.Repos.Audit.Append(ctx, entry); err != nil {
			d.Log.Warn().Err(err).
				Str("approvable", entry.ApprovableID).
				Str("action", string(entry.Action)).
				Msg("Failed to write audit log entry")
		}
		if d.Events != nil {
			d.Events.Publish(ctx, eventFor(entry))
		}
	}
}

func eventFor(entry *domain.AuditEntry) client.Event {
	ev := client.Event{
		ID:             entry.ID,
		Action:         string(entry.Action),
		ApprovableType: string(entry.ApprovableType),
		ApprovableID:   entry.ApprovableID,
		ActorID:        entry.PerformedBy,
		OccurredAt:     entry.PerformedAt,
		Payload:        entry.Metadata,
	}
	if entry.FormApprovalID != nil {
		ev.FormApprovalID = *entry.FormApprovalID
	}
	if entry.StatusBefore != nil {
		ev.StatusBefore = *entry.StatusBefore
	}
	if entry.StatusAfter != nil {
		ev.StatusAfter = *entry.StatusAfter
	}
	return ev
}

func newAuditEntry(ref domain.ApprovableRef, action domain.AuditAction, by string, at time.Time) *domain.AuditEntry {
	return &domain.AuditEntry{
		ID:             uuid.NewString(),
		ApprovableType: ref.Kind,
		ApprovableID:   ref.ID,
		Action:         action,
		PerformedBy:    by,
		PerformedAt:    at,
	}
}

// observe records a command's latency and outcome, plus lock contention.
func observe(d Deps, command string, start time.Time, err error) {
	d.Metrics.ObserveCommand(command, d.Now().Sub(start), err)
	var cme *domain.ConcurrentModificationError
	if stderrors.As(err, &cme) {
		d.Metrics.LockConflict(cme.Resource)
		d.Log.Warn().Err(err).Str("command", command).Msg("Aggregate locked by a concurrent edit")
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func parseID(field, id string) error {
	if id == "" {
		return errors.InvalidInput(field, field+" is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return errors.InvalidInput(field, field+" must be a UUID")
	}
	return nil
}

func parseDate(field, value string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, errors.InvalidInput(field, "invalid date format, expected YYYY-MM-DD")
	}
	return d, nil
}

func strPtr(s string) *string { return &s }
