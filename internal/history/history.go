package history

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Record is a single registered tool invocation. Immutable once appended.
type Record struct {
	Tool      string
	Params    map[string]interface{}
	Timestamp time.Time

	// canonical is the sorted-key JSON form of Params, computed once at
	// registration and reused by the duplicate checks.
	canonical string
}

// LoopError signals that a tool call must be refused. It is fatal to the
// current tool call only: the caller converts the message into the tool's
// observation so the agent can self-correct, and must not retry the call.
type LoopError struct {
	Tool    string
	Target  string
	Message string
}

func (e *LoopError) Error() string {
	return e.Message
}

type targetKey struct {
	tool   string
	target string
}

// History tracks all tool invocations for one task execution and aborts
// calls that indicate the agent is stuck. One instance per task execution;
// not safe for concurrent use by multiple tasks.
type History struct {
	cfg    Config
	logger *zap.Logger

	records    []Record
	perTarget  map[targetKey]int
	totalCalls int
}

// New creates an empty History with the given configuration.
func New(cfg Config, logger *zap.Logger) *History {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &History{
		cfg:       cfg,
		logger:    logger,
		perTarget: make(map[targetKey]int),
	}
}

// Reset clears all recorded state. Must be called once per task execution,
// before the first tool call; skipping it bleeds history across tasks.
func (h *History) Reset() {
	h.records = nil
	h.perTarget = make(map[targetKey]int)
	h.totalCalls = 0
}

// Register records a tool invocation and checks it against the loop
// heuristics, cheapest and most certain first. A non-nil return is always a
// *LoopError and means the call must not execute.
func (h *History) Register(tool string, params map[string]interface{}) error {
	h.totalCalls++
	if h.totalCalls > h.cfg.MaxTotalCalls {
		return &LoopError{
			Tool: tool,
			Message: fmt.Sprintf(
				"ERROR: Hard limit exceeded - Made %d tool calls.\nMaximum allowed is %d per task.\nThis task is too complex or the agent is stuck. Stopping execution.",
				h.totalCalls, h.cfg.MaxTotalCalls),
		}
	}

	policy := h.cfg.Tools[tool]
	target := policy.Target.Extract(params)
	if target != "" && policy.MaxPerTarget > 0 {
		key := targetKey{tool: tool, target: target}
		h.perTarget[key]++
		if count := h.perTarget[key]; count > policy.MaxPerTarget {
			return &LoopError{
				Tool:   tool,
				Target: target,
				Message: fmt.Sprintf(
					"ERROR: Tool limit exceeded - Called %s on '%s' %d times.\nMaximum allowed is %d calls to the same target.\nThe agent is repeatedly modifying the same target. This indicates a loop.\nIf it still needs changes, the task may need to be decomposed differently.",
					tool, target, count, policy.MaxPerTarget),
			}
		}
	}

	rec := Record{
		Tool:      tool,
		Params:    params,
		Timestamp: time.Now(),
		canonical: canonicalParams(params),
	}
	h.records = append(h.records, rec)

	// Too little history to judge loops.
	if len(h.records) < 3 {
		return nil
	}

	n := len(h.records)

	// Exact duplicate in the two records immediately preceding this one.
	// Identical repeated calls can never produce new information, so this is
	// a hard stop, not a warning.
	for i := max(0, n-3); i < n-1; i++ {
		past := h.records[i]
		if past.Tool == tool && past.canonical == rec.canonical {
			return &LoopError{
				Tool:   tool,
				Target: target,
				Message: fmt.Sprintf(
					"ERROR: Loop detected - Already executed %s with identical parameters.\nPrevious: %s\nCurrent:  %s\nThis means you are stuck in a loop. Choose a DIFFERENT approach.",
					tool, formatParams(past.Params), formatParams(params)),
			}
		}
	}

	// Near duplicate anywhere in the last five records: warn but allow.
	for i := max(0, n-6); i < n-1; i++ {
		past := h.records[i]
		if past.Tool != tool {
			continue
		}
		if sim := similarity(past.canonical, rec.canonical); sim >= h.cfg.SimilarityThreshold {
			h.logger.Warn("similar action to previous attempt",
				zap.String("tool", tool),
				zap.Float64("similarity", sim),
				zap.String("previous", formatParams(past.Params)),
				zap.String("current", formatParams(params)))
			break
		}
	}

	// Same tool five times running is itself evidence of being stuck,
	// whatever the parameters.
	sameTool := 0
	for i := max(0, n-5); i < n; i++ {
		if h.records[i].Tool == tool {
			sameTool++
		}
	}
	if sameTool >= 5 {
		return &LoopError{
			Tool: tool,
			Message: fmt.Sprintf(
				"ERROR: Loop detected - Used %s tool %d times in last 5 actions.\nThis suggests you are stuck. Try a completely different approach.",
				tool, sameTool),
		}
	}

	return nil
}

// Records returns a copy of the full action history.
func (h *History) Records() []Record {
	out := make([]Record, len(h.records))
	copy(out, h.records)
	return out
}

// Summary renders the most recent actions for inclusion in agent context.
func (h *History) Summary() string {
	if len(h.records) == 0 {
		return "No actions recorded"
	}

	recent := h.records
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}

	lines := []string{fmt.Sprintf("Recent action history (%d actions):", len(recent))}
	for i, rec := range recent {
		lines = append(lines, fmt.Sprintf("  %d. [%s] %s: %s",
			i+1, rec.Timestamp.Format("15:04:05"), rec.Tool, formatParams(rec.Params)))
	}
	return strings.Join(lines, "\n")
}

// Stats is a diagnostic snapshot of tool usage.
type Stats struct {
	TotalCalls    int            `json:"total_calls"`
	MaxAllowed    int            `json:"max_allowed"`
	HistoryLength int            `json:"history_length"`
	TargetCounts  map[string]int `json:"target_counts"`
}

// Statistics returns usage counters for debugging.
func (h *History) Statistics() Stats {
	counts := make(map[string]int, len(h.perTarget))
	for key, count := range h.perTarget {
		counts[key.tool+":"+key.target] = count
	}
	return Stats{
		TotalCalls:    h.totalCalls,
		MaxAllowed:    h.cfg.MaxTotalCalls,
		HistoryLength: len(h.records),
		TargetCounts:  counts,
	}
}

// canonicalParams serializes parameters deterministically for comparison.
// encoding/json sorts map keys, so byte equality means parameter equality.
func canonicalParams(params map[string]interface{}) string {
	data, err := json.Marshal(params)
	if err != nil {
		// Unserializable values: fall back to a sorted key=value rendering.
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
		}
		return strings.Join(parts, " ")
	}
	return string(data)
}

// formatParams renders parameters for error messages, truncating long values.
func formatParams(params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := params[k]
		if s, ok := v.(string); ok {
			if r := []rune(s); len(r) > 100 {
				v = string(r[:97]) + "..."
			}
		}
		parts = append(parts, fmt.Sprintf("%s: %v", k, v))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
