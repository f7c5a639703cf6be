package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives the limiter deterministically: sleeps advance the clock
// instead of blocking.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.now = c.now.Add(d)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestLimiter(cfg Config) (*Limiter, *fakeClock) {
	clock := newFakeClock()
	l := New(cfg, nil)
	l.now = clock.Now
	l.sleep = clock.Sleep
	return l, clock
}

func testConfig() Config {
	return Config{
		Buffer:   0.8,
		MinDelay: 0,
		Tiers: map[string]Limits{
			"sonnet": {RequestsPerMinute: 50, InputTokensPerMinute: 30000, OutputTokensPerMinute: 8000},
		},
	}
}

func TestAcquireUnderThresholdNoWait(t *testing.T) {
	l, clock := newTestLimiter(testConfig())

	// 40 recorded requests = exactly the buffered threshold: still no wait.
	for i := 0; i < 40; i++ {
		l.Record("sonnet", 10, 5)
		clock.Advance(10 * time.Millisecond)
	}

	assert.Equal(t, 0.0, l.Acquire("sonnet", 100, 0))
}

func TestAcquireOverThresholdWaits(t *testing.T) {
	l, clock := newTestLimiter(testConfig())

	for i := 0; i < 41; i++ {
		l.Record("sonnet", 10, 5)
		clock.Advance(10 * time.Millisecond)
	}

	waited := l.Acquire("sonnet", 100, 0)
	assert.Greater(t, waited, 0.0)

	// The wait must be at most one window: the oldest entry ages out then.
	assert.LessOrEqual(t, waited, Window.Seconds())
}

func TestInputTokenThresholdWaits(t *testing.T) {
	l, clock := newTestLimiter(testConfig())

	// 20000 input tokens in the window; threshold is 24000. An estimated
	// 5000-token call would cross it.
	for i := 0; i < 4; i++ {
		l.Record("sonnet", 5000, 100)
		clock.Advance(time.Second)
	}

	assert.Equal(t, 0.0, l.Acquire("sonnet", 1000, 0))
	waited := l.Acquire("sonnet", 5000, 0)
	assert.Greater(t, waited, 0.0)
}

func TestEntriesExpireFromWindow(t *testing.T) {
	l, clock := newTestLimiter(testConfig())

	for i := 0; i < 45; i++ {
		l.Record("sonnet", 100, 50)
	}
	status := l.Status()["sonnet"]
	require.Equal(t, 45, status.Requests)
	require.Equal(t, 4500, status.InputTokens)

	// Advance past the window: everything ages out and usage sums return
	// to their prior value.
	clock.Advance(Window + time.Second)

	status = l.Status()["sonnet"]
	assert.Equal(t, 0, status.Requests)
	assert.Equal(t, 0, status.InputTokens)
	assert.Equal(t, 0, status.OutputTokens)
	assert.Equal(t, 0.0, l.Acquire("sonnet", 100, 0))
}

func TestMinDelayBetweenCalls(t *testing.T) {
	cfg := testConfig()
	cfg.MinDelay = 500 * time.Millisecond
	l, clock := newTestLimiter(cfg)

	assert.Equal(t, 0.0, l.Acquire("sonnet", 10, 0))

	// Immediately after a call the minimum spacing applies even though the
	// window is nearly empty.
	waited := l.Acquire("sonnet", 10, 0)
	assert.InDelta(t, 0.5, waited, 1e-9)

	clock.Advance(time.Second)
	assert.Equal(t, 0.0, l.Acquire("sonnet", 10, 0))
}

func TestExemptTier(t *testing.T) {
	l, _ := newTestLimiter(testConfig())

	// ollama runs locally: no quota, no waiting, no accounting.
	for i := 0; i < 100; i++ {
		l.Record("ollama", 100000, 100000)
	}
	assert.Equal(t, 0.0, l.Acquire("ollama", 1000000, 0))
}

func TestTierForModel(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"claude-3-5-haiku-20241022", "haiku"},
		{"claude-sonnet-4", "sonnet"},
		{"claude-opus-4", "opus"},
		{"grok-3", "grok"},
		{"ollama/llama3", "ollama"},
		{"some-unknown-model", "opus"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierForModel(tt.model), tt.model)
	}
}

func TestAcquireByModelName(t *testing.T) {
	l, clock := newTestLimiter(testConfig())

	for i := 0; i < 41; i++ {
		l.Record("claude-sonnet-4", 1, 1)
		clock.Advance(time.Millisecond)
	}

	// Model names resolve to their tier's ledger.
	assert.Equal(t, 41, l.Status()["sonnet"].Requests)
	assert.Greater(t, l.Acquire("claude-sonnet-4", 10, 0), 0.0)
}

func TestWaitClearsAllLimits(t *testing.T) {
	cfg := Config{
		Buffer: 0.8,
		Tiers: map[string]Limits{
			"sonnet": {RequestsPerMinute: 1000, InputTokensPerMinute: 1000, OutputTokensPerMinute: 100},
		},
	}
	l, clock := newTestLimiter(cfg)

	// Output tokens are the binding constraint here (threshold 80).
	l.Record("sonnet", 10, 90)
	clock.Advance(10 * time.Second)

	waited := l.Acquire("sonnet", 10, 10)
	// The entry must age out of the 60s window; 50s remain.
	assert.InDelta(t, 50.0, waited, 1e-6)
}
