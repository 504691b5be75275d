package eventlog

import (
	"sync"
	"time"
)

// keyBreaker is a sliding-window circuit breaker keyed by (session_id,
// action). It protects the landing table from runaway emit loops: once a
// key exceeds the threshold inside the window the breaker opens and drops
// that key's events until the cooldown passes.
type keyBreaker struct {
	mu        sync.Mutex
	window    time.Duration
	cooldown  time.Duration
	threshold int
	keys      map[string]*keyState
	lastSweep time.Time
}

type keyState struct {
	times     []time.Time
	openUntil time.Time
}

func newKeyBreaker(window time.Duration, threshold int) *keyBreaker {
	return &keyBreaker{
		window:    window,
		cooldown:  window,
		threshold: threshold,
		keys:      map[string]*keyState{},
	}
}

// Allow reports whether an event for the key may pass now. justOpened is
// true exactly once per trip so the caller can emit a single
// quality.circuit.broken event.
func (b *keyBreaker) Allow(sessionID, action string, now time.Time) (allowed, justOpened bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sweep(now)

	key := sessionID + "|" + action
	st, ok := b.keys[key]
	if !ok {
		st = &keyState{}
		b.keys[key] = st
	}

	// Open: drop until the cooldown passes, then half-open with a clean
	// window.
	if !st.openUntil.IsZero() {
		if now.Before(st.openUntil) {
			return false, false
		}
		st.openUntil = time.Time{}
		st.times = st.times[:0]
	}

	cutoff := now.Add(-b.window)
	kept := st.times[:0]
	for _, t := range st.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	st.times = kept

	if len(st.times) >= b.threshold {
		st.openUntil = now.Add(b.cooldown)
		return false, true
	}
	st.times = append(st.times, now)
	return true, false
}

// sweep drops idle keys so churning sessions do not grow the map without
// bound. Runs at most once per window; callers hold b.mu.
func (b *keyBreaker) sweep(now time.Time) {
	if now.Sub(b.lastSweep) < b.window {
		return
	}
	b.lastSweep = now
	cutoff := now.Add(-b.window)
	for key, st := range b.keys {
		if !st.openUntil.IsZero() && now.Before(st.openUntil) {
			continue
		}
		if n := len(st.times); n == 0 || !st.times[n-1].After(cutoff) {
			delete(b.keys, key)
		}
	}
}
