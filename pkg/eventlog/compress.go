package eventlog

import (
	"time"

	"github.com/cklose2000/eventlake/pkg/events"
)

// maxCompressedSamples bounds the representative attribute sets kept on a
// merged event.
const maxCompressedSamples = 5

// compressBatch merges bursts of identical-action events from the same
// session into one event carrying occurrence_count and representative
// samples. Only bursts larger than threshold whose events all fall inside
// the window are merged; everything else passes through. Relative order of
// the surviving events follows the first occurrence of each burst.
func compressBatch(batch []*events.Event, threshold int, window time.Duration) []*events.Event {
	if len(batch) <= threshold {
		return batch
	}

	type group struct {
		first  int
		events []*events.Event
	}
	groups := map[string]*group{}
	order := make([]string, 0, len(batch))
	for i, e := range batch {
		key := e.SessionID + "|" + e.Action
		g, ok := groups[key]
		if !ok {
			g = &group{first: i}
			groups[key] = g
			order = append(order, key)
		}
		g.events = append(g.events, e)
	}

	out := make([]*events.Event, 0, len(batch))
	for _, key := range order {
		g := groups[key]
		if len(g.events) <= threshold || !withinWindow(g.events, window) {
			out = append(out, g.events...)
			continue
		}
		out = append(out, merge(g.events))
	}
	return out
}

func withinWindow(group []*events.Event, window time.Duration) bool {
	first, last := group[0].OccurredAt, group[0].OccurredAt
	for _, e := range group[1:] {
		if e.OccurredAt.Before(first) {
			first = e.OccurredAt
		}
		if e.OccurredAt.After(last) {
			last = e.OccurredAt
		}
	}
	return last.Sub(first) <= window
}

// merge collapses a burst into its first event. The merged event keeps the
// first event's identity and idempotency key so replaying the same burst
// still dedups.
func merge(group []*events.Event) *events.Event {
	head := *group[0]
	attrs := make(map[string]any, len(head.Attributes)+2)
	for k, v := range head.Attributes {
		attrs[k] = v
	}
	samples := make([]any, 0, maxCompressedSamples)
	for _, e := range group {
		if len(samples) == maxCompressedSamples {
			break
		}
		if len(e.Attributes) > 0 {
			samples = append(samples, e.Attributes)
		}
	}
	attrs["occurrence_count"] = len(group)
	if len(samples) > 0 {
		attrs["samples"] = samples
	}
	head.Attributes = attrs
	return &head
}
