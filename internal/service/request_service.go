package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-asset-custody/internal/domain"
	"github.com/pesio-ai/be-asset-custody/internal/platform/auth"
	"github.com/pesio-ai/be-asset-custody/internal/platform/errors"
)

// RequestService handles the inventory scheduling, turnover/disposal and
// off-campus requests. They go through the same approval as transfers but
// do not move assets.
type RequestService struct {
	d         Deps
	approvals *ApprovalService
}

// NewRequestService creates a new RequestService.
func NewRequestService(d Deps, approvals *ApprovalService) *RequestService {
	d = d.withDefaults()
	d.Log = d.Log.With("requests")
	return &RequestService{d: d, approvals: approvals}
}

// RequestLineInput is one asset of a new request.
type RequestLineInput struct {
	AssetID *string `json:"asset_id"`
	Remarks *string `json:"remarks,omitempty"`
}

// CreateRequestRequest represents a create request request.
type CreateRequestRequest struct {
	Kind      string             `json:"kind"`
	Reference string             `json:"reference"`
	Remarks   *string            `json:"remarks,omitempty"`
	Lines     []RequestLineInput `json:"lines"`
}

// Create stores a request in its kind's review status and opens its
// approval.
func (s *RequestService) Create(ctx context.Context, req *CreateRequestRequest, caller auth.UserContext) (*RequestSnapshot, error) {
	kind, err := parseRequestKind(req.Kind)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Reference) == "" {
		return nil, errors.InvalidInput("reference", "reference is required")
	}
	if len(req.Lines) < 1 {
		return nil, errors.InvalidInput("lines", "request must have at least 1 line")
	}

	policy := domain.StatusPolicyFor(kind)
	r := &domain.Request{
		ID:          uuid.NewString(),
		Kind:        kind,
		Status:      policy.PendingReview,
		Reference:   req.Reference,
		RequestedBy: caller.UserID,
		Remarks:     req.Remarks,
	}

	start := s.d.Now()
	var (
		out *RequestSnapshot
		fx  effects
	)
	err = s.d.Repos.Tx.InTransaction(ctx, func(ctx context.Context) error {
		lines, err := s.buildLines(ctx, r.ID, req.Lines)
		if err != nil {
			return err
		}
		r.Lines = lines
		if err := s.d.Repos.Requests.Create(ctx, r); err != nil {
			return err
		}
		fa, err := s.approvals.open(ctx, r.Ref(), caller.UserID, &fx)
		if err != nil {
			return err
		}
		out = snapshotRequest(r, fa)
		return nil
	})
	observe(s.d, "create_request", start, err)
	if err != nil {
		return nil, err
	}
	flush(ctx, s.d, &fx)

	s.d.Log.Info().
		Str("request", r.Ref().String()).
		Int("lines", len(r.Lines)).
		Str("requested_by", caller.UserID).
		Msg("Request created")
	return out, nil
}

func (s *RequestService) buildLines(ctx context.Context, requestID string, inputs []RequestLineInput) ([]*domain.RequestLine, error) {
	ids := make([]string, 0, len(inputs))
	seen := make(map[string]int, len(inputs))
	for i, in := range inputs {
		if in.AssetID == nil || *in.AssetID == "" {
			return nil, &domain.InvalidLineItemError{Index: i, Field: "asset_id", Problem: "is required"}
		}
		if j, dup := seen[*in.AssetID]; dup {
			return nil, &domain.InvalidLineItemError{Index: i, Field: "asset_id", Value: *in.AssetID, Problem: fmt.Sprintf("is already on line %d", j)}
		}
		seen[*in.AssetID] = i
		ids = append(ids, *in.AssetID)
	}

	locations, err := s.d.Repos.Assets.LockLocations(ctx, ids)
	if err != nil {
		return nil, err
	}

	lines := make([]*domain.RequestLine, 0, len(inputs))
	for i, in := range inputs {
		if _, ok := locations[*in.AssetID]; !ok {
			return nil, &domain.InvalidLineItemError{Index: i, Field: "asset_id", Value: *in.AssetID, Problem: "does not exist"}
		}
		id := *in.AssetID
		lines = append(lines, &domain.RequestLine{
			ID:        uuid.NewString(),
			RequestID: requestID,
			AssetID:   &id,
			Status:    "pending",
			Remarks:   in.Remarks,
		})
	}
	return lines, nil
}

// Get returns a request with its approval status.
func (s *RequestService) Get(ctx context.Context, kind, id string) (*RequestSnapshot, error) {
	k, err := parseRequestKind(kind)
	if err != nil {
		return nil, err
	}
	if err := parseID("id", id); err != nil {
		return nil, err
	}
	ref := domain.ApprovableRef{Kind: k, ID: id}
	r, err := s.d.Repos.Requests.GetByID(ctx, ref)
	if err != nil {
		return nil, err
	}
	fa, err := s.d.Repos.Approvals.GetByApprovable(ctx, ref)
	if err != nil && errors.CodeOf(err) != errors.ErrCodeNotFound {
		return nil, err
	}
	return snapshotRequest(r, fa), nil
}

// parseRequestKind accepts the three non-transfer kinds.
func parseRequestKind(s string) (domain.RequestKind, error) {
	kind, err := domain.ParseRequestKind(s)
	if err != nil {
		return "", errors.InvalidInput("kind", err.Error())
	}
	if kind == domain.KindTransfer {
		return "", errors.InvalidInput("kind", "transfers are created through the transfer endpoint")
	}
	return kind, nil
}

// ParseApprovableRef validates a (type, id) pair from a transport.
func ParseApprovableRef(kind, id string) (domain.ApprovableRef, error) {
	k, err := domain.ParseRequestKind(kind)
	if err != nil {
		return domain.ApprovableRef{}, errors.InvalidInput("type", err.Error())
	}
	if err := parseID("id", id); err != nil {
		return domain.ApprovableRef{}, err
	}
	return domain.ApprovableRef{Kind: k, ID: id}, nil
}
