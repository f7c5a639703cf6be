package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kmorales13/warden/internal/execlog"
	"github.com/kmorales13/warden/internal/history"
	"github.com/kmorales13/warden/internal/outcome"
	"github.com/kmorales13/warden/internal/ratelimit"
	"github.com/kmorales13/warden/internal/tokens"
)

// ToolFunc executes one tool call and returns its observation text.
type ToolFunc func(ctx context.Context, params map[string]interface{}) (string, error)

// Options configures a Runner for one task execution.
type Options struct {
	AgentID string
	Model   string

	Tools         map[string]ToolFunc
	HistoryConfig history.Config
	Sink          execlog.SinkConfig
	Archive       execlog.Archive
	Limiter       *ratelimit.Limiter
	Logger        *zap.Logger
}

// Runner supervises one task execution: every tool call passes through the
// loop detector before executing and produces one execution log entry after,
// with duration and estimated token counts. Construct one Runner per task;
// it owns its ActionHistory and Recorder, while the rate limiter is the
// process-wide shared instance.
type Runner struct {
	taskID  string
	tools   map[string]ToolFunc
	hist    *history.History
	rec     *execlog.Recorder
	limiter *ratelimit.Limiter
	logger  *zap.Logger

	entries []execlog.Entry
	trace   strings.Builder
	loopHit bool
}

// New creates a Runner with a fresh task ID and a fresh action history.
func New(opt Options) *Runner {
	logger := opt.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	taskID := uuid.New().String()

	return &Runner{
		taskID:  taskID,
		tools:   opt.Tools,
		hist:    history.New(opt.HistoryConfig, logger),
		rec:     execlog.NewRecorder(opt.Sink, taskID, opt.AgentID, opt.Model, opt.Archive, logger),
		limiter: opt.Limiter,
		logger:  logger,
	}
}

// TaskID returns the identity of this task execution.
func (r *Runner) TaskID() string {
	return r.taskID
}

// Limiter exposes the shared rate limiter for callers issuing model calls.
func (r *Runner) Limiter() *ratelimit.Limiter {
	return r.limiter
}

// History exposes the action history for diagnostics.
func (r *Runner) History() *history.History {
	return r.hist
}

// Invoke runs one supervised tool call and returns its observation. A
// refused call (loop detected) or a tool error becomes the observation text
// rather than an error: the agent reads it and self-corrects, the task
// continues.
func (r *Runner) Invoke(ctx context.Context, tool string, params map[string]interface{}) string {
	if err := r.hist.Register(tool, params); err != nil {
		var loopErr *history.LoopError
		if errors.As(err, &loopErr) {
			r.loopHit = true
			r.logger.Warn("tool call refused",
				zap.String("tool", tool),
				zap.String("target", loopErr.Target))
			return r.record(tool, params, loopErr.Message, 0, true, "")
		}
		// Register only fails with LoopError; anything else is a bug, but
		// the supervision layer must not abort the task.
		return r.record(tool, params, "Error: "+err.Error(), 0, false, err.Error())
	}

	fn, ok := r.tools[tool]
	if !ok {
		msg := fmt.Sprintf("Error: unknown tool '%s'", tool)
		return r.record(tool, params, msg, 0, false, msg)
	}

	start := time.Now()
	observation, err := fn(ctx, params)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		msg := "Error: " + err.Error()
		return r.record(tool, params, msg, duration, false, err.Error())
	}
	return r.record(tool, params, observation, duration, false, "")
}

// Finish flushes undelivered log entries and classifies the execution.
// Call exactly once, at task end.
func (r *Runner) Finish() outcome.AgentOutcome {
	r.rec.FlushBuffered()

	verdict := outcome.Classify(r.entries, r.trace.String())
	r.logger.Info("task execution classified",
		zap.String("task_id", r.taskID),
		zap.String("status", string(verdict.Status)),
		zap.Float64("confidence", verdict.Confidence))
	return verdict
}

func (r *Runner) record(tool string, params map[string]interface{}, observation string, durationMs int64, isLoop bool, errTrace string) string {
	entry := r.rec.Record(execlog.Entry{
		Action:       tool,
		ActionInput:  params,
		Observation:  observation,
		DurationMs:   durationMs,
		IsLoop:       isLoop,
		ErrorTrace:   errTrace,
		InputTokens:  tokens.Estimate(canonicalInput(params)),
		OutputTokens: tokens.Estimate(observation),
	})
	r.entries = append(r.entries, entry)

	fmt.Fprintf(&r.trace, "Action: %s\nObservation: %s\n\n", tool, observation)
	return observation
}

func canonicalInput(params map[string]interface{}) string {
	if len(params) == 0 {
		return ""
	}
	return fmt.Sprintf("%v", params)
}
