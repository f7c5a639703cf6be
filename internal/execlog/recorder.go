package execlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Entry is one thought/action/observation step of a task execution.
// Field names match the sink's wire format.
type Entry struct {
	TaskID       string                 `json:"taskId"`
	AgentID      string                 `json:"agentId,omitempty"`
	Step         int                    `json:"step"`
	Thought      string                 `json:"thought,omitempty"`
	Action       string                 `json:"action"`
	ActionInput  map[string]interface{} `json:"actionInput"`
	Observation  string                 `json:"observation"`
	DurationMs   int64                  `json:"durationMs,omitempty"`
	IsLoop       bool                   `json:"isLoop,omitempty"`
	ErrorTrace   string                 `json:"errorTrace,omitempty"`
	InputTokens  int                    `json:"inputTokens,omitempty"`
	OutputTokens int                    `json:"outputTokens,omitempty"`
	ModelUsed    string                 `json:"modelUsed,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// SinkConfig points at the external log-storage endpoint.
type SinkConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Archive receives a local copy of every entry regardless of sink outcome.
type Archive interface {
	SaveEntry(Entry) error
}

// Recorder captures execution steps for one task and delivers them to the
// sink. Delivery is best effort: failed entries are buffered in memory and
// retried once via FlushBuffered. Sequence numbers are monotonic per task and
// never reused, so numbering reflects attempted order, not delivered order.
type Recorder struct {
	taskID  string
	agentID string
	model   string

	sink    SinkConfig
	client  *http.Client
	archive Archive
	logger  *zap.Logger

	step   int
	buffer []Entry
}

// NewRecorder creates a Recorder for one task execution. archive may be nil.
func NewRecorder(sink SinkConfig, taskID, agentID, model string, archive Archive, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := sink.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Recorder{
		taskID:  taskID,
		agentID: agentID,
		model:   model,
		sink:    sink,
		client:  &http.Client{Timeout: timeout},
		archive: archive,
		logger:  logger,
	}
}

// Record stamps the entry with the task identity, the next sequence number,
// and the current time, then attempts delivery. It never fails: a delivery
// problem is recovered locally and is invisible to the agent. The stamped
// entry is returned for callers that keep their own trace.
func (r *Recorder) Record(entry Entry) Entry {
	r.step++
	entry.TaskID = r.taskID
	entry.AgentID = r.agentID
	entry.Step = r.step
	entry.Timestamp = time.Now()
	if entry.ModelUsed == "" {
		entry.ModelUsed = r.model
	}

	if r.archive != nil {
		if err := r.archive.SaveEntry(entry); err != nil {
			r.logger.Warn("failed to archive execution log entry",
				zap.Int("step", entry.Step), zap.Error(err))
		}
	}

	if err := r.deliver(entry); err != nil {
		r.logger.Warn("failed to deliver execution log entry, buffering",
			zap.Int("step", entry.Step),
			zap.String("action", entry.Action),
			zap.Error(err))
		r.buffer = append(r.buffer, entry)
		return entry
	}
	r.logger.Debug("logged execution step",
		zap.Int("step", entry.Step), zap.String("action", entry.Action))
	return entry
}

// FlushBuffered retries every buffered entry once, keeping only the ones that
// still fail. Called explicitly at well-defined points (end of task); entries
// are never retried more than once automatically.
func (r *Recorder) FlushBuffered() {
	if len(r.buffer) == 0 {
		return
	}
	r.logger.Info("retrying buffered execution log entries", zap.Int("count", len(r.buffer)))

	var failed []Entry
	for _, entry := range r.buffer {
		if err := r.deliver(entry); err != nil {
			failed = append(failed, entry)
		}
	}
	r.buffer = failed

	if len(failed) > 0 {
		r.logger.Warn("execution log entries still undelivered after retry",
			zap.Int("count", len(failed)))
	}
}

// Buffered returns how many entries are awaiting redelivery.
func (r *Recorder) Buffered() int {
	return len(r.buffer)
}

// Step returns the last assigned sequence number.
func (r *Recorder) Step() int {
	return r.step
}

// deliver posts one entry to the sink. A 201 means delivered; any other
// response or a transport error means the entry must be kept.
func (r *Recorder) deliver(entry Entry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, r.sink.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create sink request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.sink.APIKey != "" {
		req.Header.Set("X-API-Key", r.sink.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("sink request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("sink rejected entry: status=%d", resp.StatusCode)
	}
	return nil
}
