package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklose2000/eventlake/pkg/models"
)

func TestSubmitEvent(t *testing.T) {
	t.Run("accepted event lands on flush", func(t *testing.T) {
		h := newTestHarness(t)
		rec := h.do(t, http.MethodPost, "/api/v1/events", models.SubmitEventRequest{
			Action:    "ccode.session.started",
			SessionID: "sess-1",
			ActorID:   "analyst-7",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		ack := decode[models.EventAck](t, rec)
		assert.True(t, ack.Accepted)
		assert.NotEmpty(t, ack.EventID)

		_, err := h.log.Flush(context.Background())
		require.NoError(t, err)
		assert.Contains(t, h.fake.LandedActions(), "ccode.session.started")
	})

	t.Run("unapproved action namespace rejected in-band", func(t *testing.T) {
		h := newTestHarness(t)
		rec := h.do(t, http.MethodPost, "/api/v1/events", models.SubmitEventRequest{
			Action:    "rogue.write",
			SessionID: "sess-1",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		ack := decode[models.EventAck](t, rec)
		assert.False(t, ack.Accepted)
		require.NotNil(t, ack.Error)
		assert.Equal(t, "E_VALIDATION", ack.Error.Kind)
	})

	t.Run("actor falls back to proxy identity", func(t *testing.T) {
		h := newTestHarness(t)
		rec := h.do(t, http.MethodPost, "/api/v1/events", models.SubmitEventRequest{
			Action:    "ccode.session.started",
			SessionID: "sess-2",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, decode[models.EventAck](t, rec).Accepted)
	})
}

func TestSubmitBatch(t *testing.T) {
	t.Run("mixed batch reports per-event acceptance", func(t *testing.T) {
		h := newTestHarness(t)
		rec := h.do(t, http.MethodPost, "/api/v1/events/batch", models.BatchSubmitRequest{
			Events: []models.SubmitEventRequest{
				{Action: "ccode.session.started", SessionID: "sess-1"},
				{Action: "bogus", SessionID: "sess-1"},
				{Action: "quality.event.rejected", SessionID: "sess-1"},
			},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[models.BatchSubmitResponse](t, rec)
		assert.Equal(t, 2, resp.Accepted)
		require.Len(t, resp.Results, 3)
		assert.True(t, resp.Results[0].Accepted)
		assert.False(t, resp.Results[1].Accepted)
		assert.True(t, resp.Results[2].Accepted)
	})

	t.Run("empty batch is a bad request", func(t *testing.T) {
		h := newTestHarness(t)
		rec := h.do(t, http.MethodPost, "/api/v1/events/batch", models.BatchSubmitRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
