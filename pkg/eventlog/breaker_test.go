package eventlog

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyBreakerTripsOnceAtThreshold(t *testing.T) {
	b := newKeyBreaker(60*time.Second, 3)
	now := time.Now()

	for i := 0; i < 3; i++ {
		allowed, justOpened := b.Allow("s1", "ccode.tool.executed", now)
		assert.True(t, allowed)
		assert.False(t, justOpened)
	}

	allowed, justOpened := b.Allow("s1", "ccode.tool.executed", now)
	assert.False(t, allowed)
	assert.True(t, justOpened, "the trip is reported exactly once")

	allowed, justOpened = b.Allow("s1", "ccode.tool.executed", now)
	assert.False(t, allowed)
	assert.False(t, justOpened)
}

func TestKeyBreakerIsKeyedBySessionAndAction(t *testing.T) {
	b := newKeyBreaker(60*time.Second, 1)
	now := time.Now()

	allowed, _ := b.Allow("s1", "ccode.tool.executed", now)
	assert.True(t, allowed)
	allowed, _ = b.Allow("s1", "ccode.tool.executed", now)
	assert.False(t, allowed)

	// Other keys are unaffected.
	allowed, _ = b.Allow("s2", "ccode.tool.executed", now)
	assert.True(t, allowed)
	allowed, _ = b.Allow("s1", "ccode.file.written", now)
	assert.True(t, allowed)
}

func TestKeyBreakerReclosesAfterCooldown(t *testing.T) {
	b := newKeyBreaker(60*time.Second, 2)
	now := time.Now()

	b.Allow("s1", "ccode.tool.executed", now)
	b.Allow("s1", "ccode.tool.executed", now)
	allowed, justOpened := b.Allow("s1", "ccode.tool.executed", now)
	assert.False(t, allowed)
	assert.True(t, justOpened)

	// Still inside the cooldown.
	allowed, _ = b.Allow("s1", "ccode.tool.executed", now.Add(30*time.Second))
	assert.False(t, allowed)

	// After the cooldown the window restarts clean.
	allowed, justOpened = b.Allow("s1", "ccode.tool.executed", now.Add(61*time.Second))
	assert.True(t, allowed)
	assert.False(t, justOpened)
}

func TestKeyBreakerWindowSlides(t *testing.T) {
	b := newKeyBreaker(60*time.Second, 2)
	now := time.Now()

	b.Allow("s1", "ccode.tool.executed", now)
	b.Allow("s1", "ccode.tool.executed", now.Add(30*time.Second))

	// The first event has aged out, so this one fits the window.
	allowed, justOpened := b.Allow("s1", "ccode.tool.executed", now.Add(70*time.Second))
	assert.True(t, allowed)
	assert.False(t, justOpened)
}

func TestKeyBreakerPrunesIdleKeys(t *testing.T) {
	b := newKeyBreaker(60*time.Second, 3)
	now := time.Now()

	for i := 0; i < 100; i++ {
		sid := "churn-" + strconv.Itoa(i)
		allowed, _ := b.Allow(sid, "ccode.tool.executed", now)
		assert.True(t, allowed)
	}
	assert.Len(t, b.keys, 100)

	// All of those sessions go idle; a single call after the window passes
	// reclaims them.
	later := now.Add(2 * 60 * time.Second)
	allowed, _ := b.Allow("fresh", "ccode.tool.executed", later)
	assert.True(t, allowed)
	assert.Len(t, b.keys, 1)
}

func TestKeyBreakerSweepKeepsOpenKeys(t *testing.T) {
	b := newKeyBreaker(10*time.Second, 1)
	now := time.Now()

	b.Allow("hot", "ccode.tool.executed", now)
	allowed, justOpened := b.Allow("hot", "ccode.tool.executed", now)
	assert.False(t, allowed)
	assert.True(t, justOpened)

	// Force a sweep while the cooldown is still running; the open entry
	// stays so the key remains blocked.
	b.lastSweep = now.Add(-11 * time.Second)
	mid := now.Add(5 * time.Second)
	allowed, _ = b.Allow("hot", "ccode.tool.executed", mid)
	assert.False(t, allowed)
	_, kept := b.keys["hot|ccode.tool.executed"]
	assert.True(t, kept)
}
