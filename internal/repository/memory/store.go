// Package memory provides an in-memory implementation of the custody
// repositories used for tests and ephemeral environments.
//
// Transactions are serialized by a single mutex. The state is cloned when a
// transaction starts and restored if it returns an error, so a failed
// command leaves no partial writes behind.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pesio-ai/be-asset-custody/internal/domain"
)

type state struct {
	approvals map[string]*domain.FormApproval
	transfers map[string]*domain.Transfer
	requests  map[string]*domain.Request
	assets    map[string]*domain.Asset
	subAreas  map[string]*domain.SubArea
	audit     []*domain.AuditEntry
}

func newState() *state {
	return &state{
		approvals: make(map[string]*domain.FormApproval),
		transfers: make(map[string]*domain.Transfer),
		requests:  make(map[string]*domain.Request),
		assets:    make(map[string]*domain.Asset),
		subAreas:  make(map[string]*domain.SubArea),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.approvals {
		c.approvals[k] = v.Clone()
	}
	for k, v := range s.transfers {
		c.transfers[k] = v.Clone()
	}
	for k, v := range s.requests {
		c.requests[k] = v.Clone()
	}
	for k, v := range s.assets {
		a := *v
		a.Location = v.Location.Site.At(v.Location.SubAreaID)
		c.assets[k] = &a
	}
	for k, v := range s.subAreas {
		sa := *v
		c.subAreas[k] = &sa
	}
	c.audit = append([]*domain.AuditEntry(nil), s.audit...)
	return c
}

type txKey struct{}

// Store is the in-memory backing for every repository.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{st: newState(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InTransaction runs fn while holding the store lock. Nested calls join the
// outer transaction. If fn fails the state is rolled back.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	backup := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.st = backup
		return err
	}
	return nil
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// with runs fn on the state, taking the lock unless ctx is already inside a
// transaction.
func (s *Store) with(ctx context.Context, fn func(st *state) error) error {
	if !inTx(ctx) {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(s.st)
}

// FormApprovals returns the approval repository.
func (s *Store) FormApprovals() *FormApprovalRepository { return &FormApprovalRepository{s: s} }

// Transfers returns the transfer repository.
func (s *Store) Transfers() *TransferRepository { return &TransferRepository{s: s} }

// Requests returns the request repository.
func (s *Store) Requests() *RequestRepository { return &RequestRepository{s: s} }

// Assets returns the asset repository.
func (s *Store) Assets() *AssetRepository { return &AssetRepository{s: s} }

// Audit returns the audit repository.
func (s *Store) Audit() *AuditRepository { return &AuditRepository{s: s} }
