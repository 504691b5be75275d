package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklose2000/eventlake/pkg/events"
)

type nullRecorder struct{ count int }

func (r *nullRecorder) Record(*events.Event) { r.count++ }

func TestInstrumentedRecorder(t *testing.T) {
	m := New()
	next := &nullRecorder{}
	rec := NewInstrumentedRecorder(next, m)

	rec.Record(events.New("ccode.session.started", "s1", "a1", nil))
	rec.Record(events.New("ccode.mcp.query_executed", "s1", "a1", nil))
	rec.Record(events.New("quality.event.rejected", "s1", "a1", nil))

	assert.Equal(t, 3, next.count)
	assert.Equal(t, float64(2),
		testutil.ToFloat64(m.EventsRecorded.WithLabelValues("ccode")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(m.EventsRecorded.WithLabelValues("quality")))
}

func TestIndependentRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	a := New()
	b := New()
	a.ContractDrift.Set(1)
	require.Equal(t, float64(1), testutil.ToFloat64(a.ContractDrift))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.ContractDrift))
}
