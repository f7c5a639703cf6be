package execlog

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureSink is an in-memory stand-in for the log-storage endpoint. Its
// status can be flipped mid-test to simulate an outage.
type captureSink struct {
	mu       sync.Mutex
	status   int
	received []Entry
	apiKeys  []string
}

func newCaptureSink(status int) (*captureSink, *httptest.Server) {
	s := &captureSink{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		var entry Entry
		if err := json.NewDecoder(r.Body).Decode(&entry); err == nil && s.status == http.StatusCreated {
			s.received = append(s.received, entry)
		}
		s.apiKeys = append(s.apiKeys, r.Header.Get("X-API-Key"))
		w.WriteHeader(s.status)
	}))
	return s, srv
}

func (s *captureSink) setStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *captureSink) entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.received...)
}

type memoryArchive struct {
	saved []Entry
}

func (a *memoryArchive) SaveEntry(e Entry) error {
	a.saved = append(a.saved, e)
	return nil
}

func TestRecordDeliversAndStamps(t *testing.T) {
	sink, srv := newCaptureSink(http.StatusCreated)
	defer srv.Close()

	r := NewRecorder(SinkConfig{URL: srv.URL, APIKey: "secret"}, "task-1", "agent-1", "claude-sonnet-4", nil, nil)

	stamped := r.Record(Entry{Action: "file_write", Observation: "File written successfully"})

	assert.Equal(t, "task-1", stamped.TaskID)
	assert.Equal(t, "agent-1", stamped.AgentID)
	assert.Equal(t, 1, stamped.Step)
	assert.Equal(t, "claude-sonnet-4", stamped.ModelUsed)
	assert.False(t, stamped.Timestamp.IsZero())
	assert.Equal(t, 0, r.Buffered())

	got := sink.entries()
	require.Len(t, got, 1)
	assert.Equal(t, "file_write", got[0].Action)
	assert.Equal(t, []string{"secret"}, sink.apiKeys)
}

func TestRecordBuffersOnRejection(t *testing.T) {
	sink, srv := newCaptureSink(http.StatusInternalServerError)
	defer srv.Close()

	r := NewRecorder(SinkConfig{URL: srv.URL}, "task-1", "", "", nil, nil)

	r.Record(Entry{Action: "shell_run"})
	r.Record(Entry{Action: "file_read"})

	assert.Equal(t, 2, r.Buffered())
	assert.Empty(t, sink.entries())

	// Sink recovers; one explicit retry drains the buffer.
	sink.setStatus(http.StatusCreated)
	r.FlushBuffered()

	assert.Equal(t, 0, r.Buffered())
	got := sink.entries()
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Step)
	assert.Equal(t, 2, got[1].Step)
}

func TestFlushKeepsStillFailingEntries(t *testing.T) {
	_, srv := newCaptureSink(http.StatusInternalServerError)
	defer srv.Close()

	r := NewRecorder(SinkConfig{URL: srv.URL}, "task-1", "", "", nil, nil)
	r.Record(Entry{Action: "shell_run"})

	r.FlushBuffered()
	assert.Equal(t, 1, r.Buffered())
}

func TestSequenceNumbersReflectAttemptOrder(t *testing.T) {
	sink, srv := newCaptureSink(http.StatusInternalServerError)
	defer srv.Close()

	r := NewRecorder(SinkConfig{URL: srv.URL}, "task-1", "", "", nil, nil)

	r.Record(Entry{Action: "first"})
	sink.setStatus(http.StatusCreated)
	stamped := r.Record(Entry{Action: "second"})

	// The failed first entry keeps step 1; numbering is never reused.
	assert.Equal(t, 2, stamped.Step)
	assert.Equal(t, 2, r.Step())
	assert.Equal(t, 1, r.Buffered())
}

func TestRecordArchivesRegardlessOfSink(t *testing.T) {
	_, srv := newCaptureSink(http.StatusInternalServerError)
	defer srv.Close()

	archive := &memoryArchive{}
	r := NewRecorder(SinkConfig{URL: srv.URL}, "task-1", "", "", archive, nil)

	r.Record(Entry{Action: "file_write", Observation: "ok"})

	require.Len(t, archive.saved, 1)
	assert.Equal(t, "task-1", archive.saved[0].TaskID)
	assert.Equal(t, 1, r.Buffered())
}

func TestRecordSurvivesUnreachableSink(t *testing.T) {
	r := NewRecorder(SinkConfig{URL: "http://127.0.0.1:1/logs"}, "task-1", "", "", nil, nil)

	stamped := r.Record(Entry{Action: "shell_run"})

	assert.Equal(t, 1, stamped.Step)
	assert.Equal(t, 1, r.Buffered())
}
