package ratelimit

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Window is the sliding-window length for all limits.
const Window = 60 * time.Second

// Rate-limiting defaults. The buffer leaves headroom for burst and clock
// skew; throttling begins at that fraction of the hard limit.
const (
	DefaultBuffer   = 0.8
	DefaultMinDelay = 500 * time.Millisecond
)

// Limits is the static per-tier configuration.
type Limits struct {
	RequestsPerMinute     int
	InputTokensPerMinute  int
	OutputTokensPerMinute int
}

// Config holds limiter settings. Tiers with no entry are exempt from
// limiting entirely ("ollama" runs local inference with no provider quota).
type Config struct {
	Buffer   float64
	MinDelay time.Duration
	Tiers    map[string]Limits
}

// DefaultConfig returns the provider limits by model tier.
func DefaultConfig() Config {
	return Config{
		Buffer:   DefaultBuffer,
		MinDelay: DefaultMinDelay,
		Tiers: map[string]Limits{
			"haiku":  {RequestsPerMinute: 50, InputTokensPerMinute: 50000, OutputTokensPerMinute: 10000},
			"sonnet": {RequestsPerMinute: 50, InputTokensPerMinute: 30000, OutputTokensPerMinute: 8000},
			"opus":   {RequestsPerMinute: 50, InputTokensPerMinute: 30000, OutputTokensPerMinute: 8000},
			"grok":   {RequestsPerMinute: 60, InputTokensPerMinute: 40000, OutputTokensPerMinute: 8000},
		},
	}
}

type tierState struct {
	mu       sync.Mutex
	limits   Limits
	ledger   ledger
	lastCall time.Time
}

// Limiter throttles API calls per tier with sliding-window accounting. One
// long-lived instance is shared by every caller in the process; tiers do not
// block each other.
type Limiter struct {
	cfg    Config
	logger *zap.Logger
	tiers  map[string]*tierState

	// injectable for tests
	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a Limiter from the given configuration.
func New(cfg Config, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	tiers := make(map[string]*tierState, len(cfg.Tiers))
	for name, limits := range cfg.Tiers {
		tiers[name] = &tierState{limits: limits}
	}
	return &Limiter{
		cfg:    cfg,
		logger: logger,
		tiers:  tiers,
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// TierForModel maps a model name onto a tier. Unknown models fall through to
// the most restrictive tier.
func TierForModel(model string) string {
	lower := strings.ToLower(model)
	for _, tier := range []string{"haiku", "sonnet", "opus", "grok", "ollama"} {
		if strings.Contains(lower, tier) {
			return tier
		}
	}
	return "opus"
}

func (l *Limiter) state(tierOrModel string) *tierState {
	if st, ok := l.tiers[tierOrModel]; ok {
		return st
	}
	return l.tiers[TierForModel(tierOrModel)]
}

// Acquire blocks until the tier has capacity for a call of the estimated
// size and returns the seconds waited. The tier lock is held across the
// compute-then-sleep-then-stamp sequence so concurrent callers in one tier
// cannot both see capacity and both proceed; serializing callers within a
// tier is the desired throttling behavior. Exempt tiers return immediately.
func (l *Limiter) Acquire(tierOrModel string, estimatedInputTokens, estimatedOutputTokens int) float64 {
	st := l.state(tierOrModel)
	if st == nil {
		return 0
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	delay := l.calculateDelay(st, estimatedInputTokens, estimatedOutputTokens)
	if delay > 0 {
		l.logger.Info("waiting for rate limit capacity",
			zap.String("tier", tierOrModel),
			zap.Duration("delay", delay),
			zap.Int("estimated_input_tokens", estimatedInputTokens))
		l.sleep(delay)
	}
	st.lastCall = l.now()
	return delay.Seconds()
}

// Record appends the true usage of a completed call. Estimates govern
// pre-call waiting; actuals govern the ledger so the next caller sees real
// consumption.
func (l *Limiter) Record(tierOrModel string, inputTokens, outputTokens int) {
	st := l.state(tierOrModel)
	if st == nil {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	st.ledger.append(UsageEntry{
		Timestamp:    l.now(),
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	})
	l.logger.Debug("recorded usage",
		zap.String("tier", tierOrModel),
		zap.Int("input_tokens", inputTokens),
		zap.Int("output_tokens", outputTokens))
}

// calculateDelay computes how long a caller must wait before issuing a call.
// Each of the three limits is checked independently and the caller waits
// long enough to clear all of them. Caller holds st.mu.
func (l *Limiter) calculateDelay(st *tierState, estimatedInput, estimatedOutput int) time.Duration {
	now := l.now()
	st.ledger.purge(now.Add(-Window))
	requests, inputTokens, outputTokens := st.ledger.totals()

	requestThreshold := float64(st.limits.RequestsPerMinute) * l.cfg.Buffer
	inputThreshold := float64(st.limits.InputTokensPerMinute) * l.cfg.Buffer
	outputThreshold := float64(st.limits.OutputTokensPerMinute) * l.cfg.Buffer

	var maxDelay time.Duration

	// Request count: wait until the oldest entry ages out of the window.
	if float64(requests) > requestThreshold && len(st.ledger.entries) > 0 {
		oldest := st.ledger.entries[0].Timestamp
		if d := oldest.Add(Window).Sub(now); d > maxDelay {
			maxDelay = d
			l.logger.Debug("request limit reached",
				zap.Int("requests", requests),
				zap.Int("limit", st.limits.RequestsPerMinute),
				zap.Duration("delay", d))
		}
	}

	// Token limits: walk entries oldest-first, accumulating tokens to free,
	// until the freed total covers the overage.
	if d := tokenDelay(st.ledger.entries, now, float64(inputTokens+estimatedInput)-inputThreshold,
		func(e UsageEntry) int { return e.InputTokens }); d > maxDelay {
		maxDelay = d
		l.logger.Debug("input token limit reached",
			zap.Int("input_tokens", inputTokens),
			zap.Int("limit", st.limits.InputTokensPerMinute),
			zap.Duration("delay", d))
	}
	if d := tokenDelay(st.ledger.entries, now, float64(outputTokens+estimatedOutput)-outputThreshold,
		func(e UsageEntry) int { return e.OutputTokens }); d > maxDelay {
		maxDelay = d
		l.logger.Debug("output token limit reached",
			zap.Int("output_tokens", outputTokens),
			zap.Int("limit", st.limits.OutputTokensPerMinute),
			zap.Duration("delay", d))
	}

	// Minimum spacing between calls regardless of window headroom, to avoid
	// bursts that are individually under threshold.
	if since := now.Sub(st.lastCall); !st.lastCall.IsZero() && since < l.cfg.MinDelay {
		if d := l.cfg.MinDelay - since; d > maxDelay {
			maxDelay = d
		}
	}

	if maxDelay < 0 {
		maxDelay = 0
	}
	return maxDelay
}

// tokenDelay finds the wait needed to free `overage` tokens, walking entries
// oldest-first. A non-positive overage means the projected usage is under
// threshold and no wait is needed.
func tokenDelay(entries []UsageEntry, now time.Time, overage float64, tokens func(UsageEntry) int) time.Duration {
	if overage < 0 {
		return 0
	}

	var maxDelay time.Duration
	remaining := overage
	for _, e := range entries {
		if remaining <= 0 {
			break
		}
		if d := e.Timestamp.Add(Window).Sub(now); d > maxDelay {
			maxDelay = d
		}
		remaining -= float64(tokens(e))
	}
	return maxDelay
}

// TierStatus is a monitoring snapshot of one tier's window.
type TierStatus struct {
	Requests     int    `json:"requests"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Limits       Limits `json:"limits"`
}

// Status returns the current window usage for every limited tier.
func (l *Limiter) Status() map[string]TierStatus {
	status := make(map[string]TierStatus, len(l.tiers))
	for name, st := range l.tiers {
		st.mu.Lock()
		st.ledger.purge(l.now().Add(-Window))
		requests, inputTokens, outputTokens := st.ledger.totals()
		status[name] = TierStatus{
			Requests:     requests,
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			Limits:       st.limits,
		}
		st.mu.Unlock()
	}
	return status
}
