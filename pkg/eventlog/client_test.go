package eventlog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklose2000/eventlake/pkg/apperr"
	"github.com/cklose2000/eventlake/pkg/engine"
	"github.com/cklose2000/eventlake/pkg/engine/enginetest"
	"github.com/cklose2000/eventlake/pkg/events"
	"github.com/cklose2000/eventlake/pkg/redact"
)

func newTestClient(t *testing.T, fake *enginetest.Fake, cfg Config) *Client {
	t.Helper()
	if cfg.SpoolDir == "" {
		cfg.SpoolDir = t.TempDir()
	}
	c, err := NewClient(fake, redact.NewService(nil), cfg)
	require.NoError(t, err)
	return c
}

func startTestClient(t *testing.T, fake *enginetest.Fake, cfg Config) *Client {
	t.Helper()
	c := newTestClient(t, fake, cfg)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.Shutdown(ctx)
	})
	return c
}

func TestEmitFlushLands(t *testing.T) {
	fake := enginetest.New()
	c := startTestClient(t, fake, Config{})

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Emit(events.New("ccode.tool.executed", "s1", "actor", map[string]any{"seq": i})))
	}
	res, err := c.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Sent)
	assert.Zero(t, res.Spooled)

	require.Len(t, fake.Landed, 3)
	for _, ev := range fake.Landed {
		assert.NotEmpty(t, ev["idempotency_key"], "every landed event carries an idempotency key")
	}
}

func TestEmitValidation(t *testing.T) {
	fake := enginetest.New()
	c := startTestClient(t, fake, Config{})

	tests := []struct {
		name  string
		event *events.Event
	}{
		{"missing action", &events.Event{SessionID: "s1"}},
		{"missing session", &events.Event{Action: "ccode.tool.executed"}},
		{"unapproved prefix", events.New("acme.tool.executed", "s1", "a", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Emit(tt.event)
			require.Error(t, err)
			assert.Equal(t, apperr.Validation, apperr.KindOf(err))
		})
	}

	res, err := c.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Sent, "each rejection lands a quality.event.rejected marker")
	for _, action := range fake.LandedActions() {
		assert.Equal(t, events.ActionEventRejected, action)
	}
}

func TestEmitRejectsOversizeEvent(t *testing.T) {
	fake := enginetest.New()
	c := startTestClient(t, fake, Config{})

	e := events.New("ccode.tool.executed", "s1", "a", map[string]any{
		"payload": strings.Repeat("x", MaxEventBytes+1),
	})
	err := c.Emit(e)
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "bytes")
}

func TestEmitRedactsFreeText(t *testing.T) {
	fake := enginetest.New()
	c := startTestClient(t, fake, Config{})

	e := events.New("ccode.session.started", "s1", "a", map[string]any{
		"natural_language": "email me at dev@example.com",
	})
	require.NoError(t, c.Emit(e))

	assert.Equal(t, "email me at [EMAIL]", e.Attributes["natural_language"])
	meta, ok := e.Attributes["_meta"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, meta["redactions"])
}

func TestEmitBackpressureNeverBlocks(t *testing.T) {
	fake := enginetest.New()
	// No Start: nothing drains the buffer (capacity 2*4 = 8).
	c := newTestClient(t, fake, Config{MaxBatch: 2})
	defer c.spool.Close()

	var accepted, backpressured int
	for i := 0; i < 12; i++ {
		err := c.Emit(events.New("ccode.tool.executed", "s1", "a", map[string]any{"seq": i}))
		switch {
		case err == nil:
			accepted++
		case apperr.KindOf(err) == apperr.Backpressure:
			backpressured++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 8, accepted)
	assert.Equal(t, 4, backpressured)
}

func TestEmitTripsPerKeyBreaker(t *testing.T) {
	fake := enginetest.New()
	c := startTestClient(t, fake, Config{BreakerThreshold: 10})

	var dropped int
	for i := 0; i < 15; i++ {
		err := c.Emit(events.New("ccode.tool.executed", "s1", "a", map[string]any{"seq": i}))
		if err != nil {
			require.Equal(t, apperr.CircuitOpen, apperr.KindOf(err))
			dropped++
		}
	}
	assert.Equal(t, 5, dropped)

	_, err := c.Flush(context.Background())
	require.NoError(t, err)

	var broken int
	for _, ev := range fake.Landed {
		if ev["action"] == events.ActionCircuitBroken {
			broken++
			attrs, ok := ev["attributes"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, "ccode.tool.executed", attrs["blocked_action"])
		}
	}
	assert.Equal(t, 1, broken, "exactly one quality.circuit.broken per trip")
}

func TestFlushFailureSpoolsAndReplays(t *testing.T) {
	dir := t.TempDir()
	fake := enginetest.New()
	fake.QueueCallError(engine.NewError(engine.KindTransient, "call", errors.New("engine down")))

	c := newTestClient(t, fake, Config{SpoolDir: dir})
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, c.Emit(events.New("ccode.tool.executed", "s1", "a", nil)))
	require.NoError(t, c.Emit(events.New("ccode.file.written", "s1", "a", nil)))

	res, err := c.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Sent)
	assert.Equal(t, 2, res.Spooled)
	assert.Empty(t, fake.Landed)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))

	// Next startup replays the spool before accepting work.
	c2 := newTestClient(t, fake, Config{SpoolDir: dir})
	require.NoError(t, c2.Start(context.Background()))
	defer c2.Shutdown(context.Background())

	actions := fake.LandedActions()
	assert.Contains(t, actions, "ccode.tool.executed")
	assert.Contains(t, actions, "ccode.file.written")

	// The recovery marker flushes with the next batch.
	_, err = c2.Flush(context.Background())
	require.NoError(t, err)
	assert.Contains(t, fake.LandedActions(), events.ActionSpoolRecovered)
}

func TestFlushDeadlineReportsPartialSplit(t *testing.T) {
	dir := t.TempDir()
	fake := enginetest.New()
	c := newTestClient(t, fake, Config{SpoolDir: dir})
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, c.Emit(events.New("ccode.tool.executed", "s1", "a", nil)))
	require.NoError(t, c.Emit(events.New("ccode.file.written", "s1", "a", nil)))

	// An expired deadline still yields the full split: nothing sent, the
	// whole buffer spooled.
	expired, cancel := context.WithCancel(context.Background())
	cancel()
	req := flushRequest{ctx: expired, reply: make(chan FlushResult, 1)}
	c.flushReq <- req
	res := <-req.reply
	assert.Zero(t, res.Sent)
	assert.Equal(t, 2, res.Spooled)
	assert.Empty(t, fake.Landed)

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	require.NoError(t, c.Shutdown(ctx))

	// The spooled remainder replays on the next startup.
	c2 := newTestClient(t, fake, Config{SpoolDir: dir})
	require.NoError(t, c2.Start(context.Background()))
	defer c2.Shutdown(context.Background())

	actions := fake.LandedActions()
	assert.Contains(t, actions, "ccode.tool.executed")
	assert.Contains(t, actions, "ccode.file.written")
}

func TestShutdownRejectsNewEmits(t *testing.T) {
	fake := enginetest.New()
	c := newTestClient(t, fake, Config{})
	require.NoError(t, c.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))

	err := c.Emit(events.New("ccode.tool.executed", "s1", "a", nil))
	require.Error(t, err)
	assert.Equal(t, apperr.Backpressure, apperr.KindOf(err))
}

func TestShutdownDrainsBuffer(t *testing.T) {
	fake := enginetest.New()
	c := newTestClient(t, fake, Config{})
	require.NoError(t, c.Start(context.Background()))

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Emit(events.New("ccode.tool.executed", "s1", "a", map[string]any{"seq": i})))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))

	assert.Len(t, fake.Landed, 5)
}

func TestRecordSwallowsErrors(t *testing.T) {
	fake := enginetest.New()
	c := startTestClient(t, fake, Config{})

	// Invalid event: Record must not panic or surface the failure.
	c.Record(&events.Event{Action: "ccode.x.y"})
	c.Record(events.New("ccode.session.started", "s1", "a", nil))

	res, err := c.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent, "the rejection marker and the valid event")
}
