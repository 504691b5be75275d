// Package eventlog is the write-side client for the event lake. Emit never
// blocks on the network: events pass validation, redaction and the per-key
// circuit breaker, then land in a bounded buffer serviced by a single
// flusher goroutine. Failed batches spool to disk and replay on the next
// startup, so a dead engine loses nothing.
package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/cklose2000/eventlake/pkg/apperr"
	"github.com/cklose2000/eventlake/pkg/engine"
	"github.com/cklose2000/eventlake/pkg/events"
	"github.com/cklose2000/eventlake/pkg/redact"
)

// MaxEventBytes is the serialized size ceiling for a single event, checked
// after redaction.
const MaxEventBytes = 100 * 1024

// Defaults for the flusher and breakers.
const (
	DefaultMaxBatch      = 500
	DefaultFlushInterval = 5 * time.Second
	DefaultSpoolMaxAge   = 7 * 24 * time.Hour

	breakerWindow     = 60 * time.Second
	breakerThreshold  = 1000
	compressWindow    = 10 * time.Second
	compressThreshold = 10

	// flushTimeout bounds one landing call made by the flusher.
	flushTimeout = 15 * time.Second
)

// Config tunes the client. Zero values fall back to the defaults above.
type Config struct {
	SpoolDir         string
	MaxBatch         int
	FlushInterval    time.Duration
	SpoolMaxAge      time.Duration
	RedactKeys       []string
	BreakerThreshold int
	BreakerWindow    time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxBatch <= 0 {
		c.MaxBatch = DefaultMaxBatch
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.SpoolMaxAge == 0 {
		c.SpoolMaxAge = DefaultSpoolMaxAge
	}
	if len(c.RedactKeys) == 0 {
		c.RedactKeys = []string{"natural_language"}
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = breakerThreshold
	}
	if c.BreakerWindow <= 0 {
		c.BreakerWindow = breakerWindow
	}
}

// FlushResult reports one drain of the buffer.
type FlushResult struct {
	Sent    int
	Spooled int
}

// Rejection pairs a batch index with the reason its event was rejected.
type Rejection struct {
	Index int
	Err   error
}

type flushRequest struct {
	ctx   context.Context
	reply chan FlushResult
}

// Client is the event log client. One client owns its buffer and spool
// directory; construct it once and inject it.
type Client struct {
	cfg      Config
	eng      engine.Engine
	redactor *redact.Service
	spool    *spool
	breaker  *keyBreaker
	global   *gobreaker.CircuitBreaker

	buf      chan *events.Event
	flushReq chan flushRequest
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	draining atomic.Bool
}

// NewClient builds a client and takes the spool lock. Call Start to replay
// the spool and begin flushing.
func NewClient(eng engine.Engine, redactor *redact.Service, cfg Config) (*Client, error) {
	cfg.applyDefaults()
	if cfg.SpoolDir == "" {
		return nil, fmt.Errorf("eventlog: spool directory is required")
	}
	sp, err := openSpool(cfg.SpoolDir, cfg.SpoolMaxAge)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:      cfg,
		eng:      eng,
		redactor: redactor,
		spool:    sp,
		breaker:  newKeyBreaker(cfg.BreakerWindow, cfg.BreakerThreshold),
		buf:      make(chan *events.Event, cfg.MaxBatch*4),
		flushReq: make(chan flushRequest),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.global = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "eventlog-flush",
		Interval: 5 * time.Minute,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 6 && float64(counts.TotalFailures) > float64(counts.Requests)/2
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Event log flush breaker state changed", "from", from.String(), "to", to.String())
		},
	})
	return c, nil
}

// Start replays any spooled batches in chronological order, then starts the
// flusher. Replayed files produce quality.spool.recovered events.
func (c *Client) Start(ctx context.Context) error {
	files, replayed, err := c.spool.Replay(ctx, func(ctx context.Context, batch []*events.Event) error {
		return c.land(ctx, batch)
	})
	if files > 0 {
		slog.Info("Replayed spooled event batches", "files", files, "events", replayed)
		c.enqueueQuality(events.New(events.ActionSpoolRecovered, "system", "eventlog", map[string]any{
			"files":  files,
			"events": replayed,
		}))
	}
	if err != nil {
		// Remaining files stay for the next startup; the client still
		// accepts new work.
		slog.Warn("Spool replay incomplete", "replayed_files", files, "error", err)
	}
	go c.run()
	return nil
}

// Emit validates, redacts and buffers one event. It never blocks: a full
// buffer fails fast with E_BACKPRESSURE.
func (c *Client) Emit(e *events.Event) error {
	if c.draining.Load() {
		return apperr.New(apperr.Backpressure, "event log client is shutting down", "re-create the client before emitting")
	}
	if err := c.prepare(e); err != nil {
		return err
	}

	allowed, justOpened := c.breaker.Allow(e.SessionID, e.Action, time.Now())
	if justOpened {
		c.enqueueQuality(events.New(events.ActionCircuitBroken, e.SessionID, "eventlog", map[string]any{
			"blocked_action": e.Action,
			"threshold":      c.cfg.BreakerThreshold,
			"window_s":       int(c.cfg.BreakerWindow / time.Second),
		}))
	}
	if !allowed {
		return apperr.New(apperr.CircuitOpen,
			fmt.Sprintf("circuit open for action %s in this session", e.Action),
			"slow the emit rate and retry after the cooldown")
	}

	select {
	case c.buf <- e:
		return nil
	default:
		return apperr.New(apperr.Backpressure, "event buffer is full", "retry after the next flush")
	}
}

// EmitBatch emits each event independently and reports the split.
func (c *Client) EmitBatch(batch []*events.Event) (accepted int, rejected []Rejection) {
	for i, e := range batch {
		if err := c.Emit(e); err != nil {
			rejected = append(rejected, Rejection{Index: i, Err: err})
			continue
		}
		accepted++
	}
	return accepted, rejected
}

// Record implements events.Recorder. Delivery failures are logged, never
// surfaced: outcome events must not fail the operation they describe.
func (c *Client) Record(e *events.Event) {
	if err := c.Emit(e); err != nil {
		slog.Warn("Dropped outcome event", "action", e.Action, "error", err)
	}
}

// Flush drains the buffer now and reports how many events were sent and
// how many were spooled. A missed deadline still returns the partial split:
// the flusher notices the expired context between batches, spools what is
// left and replies with the counts.
func (c *Client) Flush(ctx context.Context) (FlushResult, error) {
	req := flushRequest{ctx: ctx, reply: make(chan FlushResult, 1)}
	select {
	case c.flushReq <- req:
	case <-c.done:
		return FlushResult{}, fmt.Errorf("event log client is stopped")
	case <-ctx.Done():
		return FlushResult{}, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res, nil
	case <-ctx.Done():
	}
	select {
	case res := <-req.reply:
		return res, ctx.Err()
	case <-time.After(flushTimeout):
		return FlushResult{}, ctx.Err()
	}
}

// Shutdown stops intake, drains within the ctx deadline and releases the
// spool lock. Events that cannot be sent in time are spooled by the flusher.
func (c *Client) Shutdown(ctx context.Context) error {
	c.draining.Store(true)
	c.stopOnce.Do(func() { close(c.stopCh) })
	select {
	case <-c.done:
		return c.spool.Close()
	case <-ctx.Done():
		return fmt.Errorf("event log shutdown deadline exceeded: %w", ctx.Err())
	}
}

// prepare runs validation, redaction, the idempotency key and the size
// check. Validation failures drop the event with a quality.event.rejected
// marker.
func (c *Client) prepare(e *events.Event) error {
	reject := func(reason string) error {
		session := e.SessionID
		if session == "" {
			session = "system"
		}
		c.enqueueQuality(events.New(events.ActionEventRejected, session, "eventlog", map[string]any{
			"reason": reason,
			"action": e.Action,
		}))
		return apperr.New(apperr.Validation, reason, "fix the event and re-emit")
	}

	if e.Action == "" {
		return reject("event is missing action")
	}
	if e.SessionID == "" {
		return reject("event is missing session_id")
	}
	if !events.ValidAction(e.Action) {
		return reject(fmt.Sprintf("action %q is outside the approved namespaces", e.Action))
	}
	if e.EventID == "" || e.OccurredAt.IsZero() {
		fresh := events.New(e.Action, e.SessionID, e.ActorID, e.Attributes)
		if e.EventID == "" {
			e.EventID = fresh.EventID
		}
		if e.OccurredAt.IsZero() {
			e.OccurredAt = fresh.OccurredAt
		}
	}

	if c.redactor != nil && len(e.Attributes) > 0 {
		counts := c.redactor.RedactAttributes(e.Attributes, c.cfg.RedactKeys)
		if len(counts) > 0 {
			e.Attributes["_meta"] = map[string]any{"redactions": counts}
		}
	}

	if err := e.EnsureIdempotencyKey(); err != nil {
		return reject(fmt.Sprintf("event attributes are not serializable: %v", err))
	}
	size, err := e.WireSize()
	if err != nil {
		return reject(fmt.Sprintf("event is not serializable: %v", err))
	}
	if size > MaxEventBytes {
		return reject(fmt.Sprintf("event is %d bytes, limit is %d", size, MaxEventBytes))
	}
	return nil
}

// enqueueQuality best-effort buffers a client-generated quality event. It
// bypasses Emit so a tripped breaker or full buffer cannot recurse.
func (c *Client) enqueueQuality(e *events.Event) {
	e.Source = events.SourceSystem
	if err := e.EnsureIdempotencyKey(); err != nil {
		return
	}
	select {
	case c.buf <- e:
	default:
		slog.Warn("Dropped quality event, buffer full", "action", e.Action)
	}
}

// run is the single consumer. It owns pending and the spool writes.
func (c *Client) run() {
	defer close(c.done)

	pending := make([]*events.Event, 0, c.cfg.MaxBatch)
	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func(ctx context.Context) FlushResult {
		pending = c.drainInto(pending)
		var total FlushResult
		for len(pending) > 0 {
			if ctx.Err() != nil {
				// Deadline hit mid-drain: spool the rest so the caller
				// still gets the full split.
				if _, err := c.spool.Write(pending); err != nil {
					slog.Error("Failed to spool remainder, events lost",
						"events", len(pending), "error", err)
				} else {
					total.Spooled += len(pending)
				}
				pending = pending[:0]
				break
			}
			n := len(pending)
			if n > c.cfg.MaxBatch {
				n = c.cfg.MaxBatch
			}
			res := c.flushBatch(pending[:n])
			total.Sent += res.Sent
			total.Spooled += res.Spooled
			pending = append(pending[:0], pending[n:]...)
		}
		return total
	}

	for {
		select {
		case e := <-c.buf:
			pending = append(pending, e)
			if len(pending) >= c.cfg.MaxBatch {
				flush(context.Background())
			}
		case <-ticker.C:
			flush(context.Background())
		case req := <-c.flushReq:
			req.reply <- flush(req.ctx)
		case <-c.stopCh:
			res := flush(context.Background())
			if res.Spooled > 0 {
				slog.Warn("Shutdown spooled unsent events", "spooled", res.Spooled)
			}
			return
		}
	}
}

// drainInto moves everything currently buffered into pending without
// blocking.
func (c *Client) drainInto(pending []*events.Event) []*events.Event {
	for {
		select {
		case e := <-c.buf:
			pending = append(pending, e)
		default:
			return pending
		}
	}
}

// flushBatch compresses and lands one batch, spooling it on any failure,
// including an open global breaker.
func (c *Client) flushBatch(batch []*events.Event) FlushResult {
	compressed := compressBatch(batch, compressThreshold, compressWindow)

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	_, err := c.global.Execute(func() (any, error) {
		return nil, c.land(ctx, compressed)
	})
	if err == nil {
		return FlushResult{Sent: len(compressed)}
	}

	slog.Warn("Flush failed, spooling batch", "events", len(compressed), "error", err)
	if _, spoolErr := c.spool.Write(compressed); spoolErr != nil {
		slog.Error("Failed to spool batch, events lost", "events", len(compressed), "error", spoolErr)
		return FlushResult{}
	}
	return FlushResult{Spooled: len(compressed)}
}

// land makes the single permitted write: the landing procedure.
func (c *Client) land(ctx context.Context, batch []*events.Event) error {
	payload := make([]map[string]any, 0, len(batch))
	for _, e := range batch {
		m, err := e.WireMap()
		if err != nil {
			return err
		}
		payload = append(payload, m)
	}
	_, err := c.eng.Call(ctx, engine.ProcLogEvents, payload)
	return err
}
