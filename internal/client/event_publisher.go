// Package client holds the service's outbound integrations.
package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pesio-ai/be-asset-custody/internal/platform/logger"
)

// DefaultSubjectPrefix is prepended to the event action to form the subject.
const DefaultSubjectPrefix = "custody.events"

// Event is the JSON envelope published for every recorded custody action.
type Event struct {
	ID             string         `json:"id"`
	Action         string         `json:"action"`
	ApprovableType string         `json:"approvable_type"`
	ApprovableID   string         `json:"approvable_id"`
	FormApprovalID string         `json:"form_approval_id,omitempty"`
	ActorID        string         `json:"actor_id"`
	StatusBefore   string         `json:"status_before,omitempty"`
	StatusAfter    string         `json:"status_after,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// Conn is the subset of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

// EventPublisher publishes custody events to NATS on
// <prefix>.<action>, e.g. custody.events.step_approved.
//
// Publishing is non-fatal: errors are logged and never returned, so a broker
// outage cannot interrupt an approval or a transfer edit.
type EventPublisher struct {
	conn   Conn
	prefix string
	log    *logger.Logger
}

// NewEventPublisher creates a publisher. A nil conn disables publishing.
func NewEventPublisher(conn Conn, prefix string, log *logger.Logger) *EventPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &EventPublisher{conn: conn, prefix: prefix, log: log.With("events")}
}

// Connect dials NATS with reconnect handling that logs state changes.
func Connect(url, name string, log *logger.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
}

// Subject returns the subject an action is published on.
func (p *EventPublisher) Subject(action string) string {
	return p.prefix + "." + action
}

// Publish sends ev. It is a no-op when publishing is disabled or ctx is done.
func (p *EventPublisher) Publish(ctx context.Context, ev Event) {
	if p == nil || p.conn == nil {
		return
	}
	if ctx.Err() != nil {
		p.log.Warn().Err(ctx.Err()).Str("action", ev.Action).Msg("event: context done before publish")
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn().Err(err).Str("action", ev.Action).Msg("event: failed to marshal")
		return
	}

	subject := p.Subject(ev.Action)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("approvable_id", ev.ApprovableID).
			Msg("event: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("approvable_id", ev.ApprovableID).
		Msg("event: published")
}
