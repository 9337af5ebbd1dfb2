package client

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-asset-custody/internal/platform/logger"
)

type fakeConn struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func TestPublishUsesActionSubject(t *testing.T) {
	conn := &fakeConn{}
	p := NewEventPublisher(conn, "", logger.Nop())

	at := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	p.Publish(context.Background(), Event{
		ID: "e-1", Action: "step_approved", ApprovableType: "transfer", ApprovableID: "t-1",
		ActorID: "u-1", StatusAfter: "approved", OccurredAt: at,
	})

	require.Len(t, conn.subjects, 1)
	assert.Equal(t, "custody.events.step_approved", conn.subjects[0])

	var got Event
	require.NoError(t, json.Unmarshal(conn.payloads[0], &got))
	assert.Equal(t, "t-1", got.ApprovableID)
	assert.Equal(t, "approved", got.StatusAfter)
	assert.True(t, at.Equal(got.OccurredAt))
}

func TestPublishIsNonFatal(t *testing.T) {
	conn := &fakeConn{err: stderrors.New("nats: connection closed")}
	p := NewEventPublisher(conn, "test.events", logger.Nop())

	assert.NotPanics(t, func() {
		p.Publish(context.Background(), Event{Action: "reset"})
	})
	assert.Equal(t, "test.events.reset", p.Subject("reset"))
}

func TestPublishDisabled(t *testing.T) {
	var nilPublisher *EventPublisher
	assert.NotPanics(t, func() {
		nilPublisher.Publish(context.Background(), Event{Action: "reset"})
		NewEventPublisher(nil, "", logger.Nop()).Publish(context.Background(), Event{Action: "reset"})
	})
}

func TestPublishSkipsCancelledContext(t *testing.T) {
	conn := &fakeConn{}
	p := NewEventPublisher(conn, "", logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p.Publish(ctx, Event{Action: "reset"})
	assert.Empty(t, conn.subjects)
}
