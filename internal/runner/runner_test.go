package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmorales13/warden/internal/execlog"
	"github.com/kmorales13/warden/internal/history"
	"github.com/kmorales13/warden/internal/outcome"
)

func okSink(t *testing.T) execlog.SinkConfig {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)
	return execlog.SinkConfig{URL: srv.URL}
}

func TestInvokeRunsToolAndReturnsObservation(t *testing.T) {
	r := New(Options{
		Model: "claude-sonnet-4",
		Sink:  okSink(t),
		Tools: map[string]ToolFunc{
			"file_write": func(ctx context.Context, params map[string]interface{}) (string, error) {
				return "File written successfully", nil
			},
		},
		HistoryConfig: history.DefaultConfig(),
	})

	obs := r.Invoke(context.Background(), "file_write", map[string]interface{}{"path": "a.py", "content": "x"})

	assert.Equal(t, "File written successfully", obs)
	assert.NotEmpty(t, r.TaskID())
	require.Len(t, r.entries, 1)
	assert.Equal(t, 1, r.entries[0].Step)
	assert.Equal(t, "claude-sonnet-4", r.entries[0].ModelUsed)
	assert.False(t, r.entries[0].IsLoop)
	assert.Greater(t, r.entries[0].InputTokens, 0)
}

func TestInvokeRefusesLoopingCalls(t *testing.T) {
	cfg := history.DefaultConfig()
	r := New(Options{
		Sink: okSink(t),
		Tools: map[string]ToolFunc{
			"file_write": func(ctx context.Context, params map[string]interface{}) (string, error) {
				return "File written successfully", nil
			},
		},
		HistoryConfig: cfg,
	})

	for i := 0; i < history.DefaultWriteCap; i++ {
		obs := r.Invoke(context.Background(), "file_write",
			map[string]interface{}{"path": "a.py", "content": fmt.Sprintf("attempt %d", i)})
		assert.Equal(t, "File written successfully", obs)
	}

	obs := r.Invoke(context.Background(), "file_write",
		map[string]interface{}{"path": "a.py", "content": "one more"})

	assert.Contains(t, obs, "a.py")
	assert.NotEqual(t, "File written successfully", obs)
	last := r.entries[len(r.entries)-1]
	assert.True(t, last.IsLoop)
}

func TestInvokeUnknownTool(t *testing.T) {
	r := New(Options{Sink: okSink(t), HistoryConfig: history.DefaultConfig()})

	obs := r.Invoke(context.Background(), "teleport", nil)

	assert.Equal(t, "Error: unknown tool 'teleport'", obs)
}

func TestInvokeToolError(t *testing.T) {
	r := New(Options{
		Sink: okSink(t),
		Tools: map[string]ToolFunc{
			"shell_run": func(ctx context.Context, params map[string]interface{}) (string, error) {
				return "", errors.New("exit status 127")
			},
		},
		HistoryConfig: history.DefaultConfig(),
	})

	obs := r.Invoke(context.Background(), "shell_run", map[string]interface{}{"command": "frobnicate"})

	assert.Equal(t, "Error: exit status 127", obs)
	assert.Equal(t, "exit status 127", r.entries[0].ErrorTrace)
}

func TestFinishClassifiesExecution(t *testing.T) {
	r := New(Options{
		Sink: okSink(t),
		Tools: map[string]ToolFunc{
			"file_write": func(ctx context.Context, params map[string]interface{}) (string, error) {
				return "File written successfully", nil
			},
			"shell_run": func(ctx context.Context, params map[string]interface{}) (string, error) {
				return "===== 2 passed in 0.01s =====", nil
			},
		},
		HistoryConfig: history.DefaultConfig(),
	})

	r.Invoke(context.Background(), "file_write", map[string]interface{}{"path": "calc.py", "content": "x"})
	r.Invoke(context.Background(), "shell_run", map[string]interface{}{"command": "pytest"})

	verdict := r.Finish()

	assert.Equal(t, outcome.StatusSuccess, verdict.Status)
	assert.True(t, verdict.Success)
	assert.Equal(t, []string{"calc.py"}, verdict.FilesCreated)
	assert.Equal(t, []string{"pytest"}, verdict.CommandsExecuted)
}

func TestFinishWithoutCallsIsUncertain(t *testing.T) {
	r := New(Options{Sink: okSink(t), HistoryConfig: history.DefaultConfig()})

	verdict := r.Finish()

	assert.Equal(t, outcome.StatusUncertain, verdict.Status)
	assert.True(t, verdict.RequiresHumanReview)
}
