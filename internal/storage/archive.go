package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kmorales13/warden/internal/execlog"
	"github.com/kmorales13/warden/internal/outcome"
)

// SaveEntry archives one execution log entry. Append-only.
func (db *DB) SaveEntry(entry execlog.Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	_, err = db.conn.Exec(`
		INSERT INTO execution_logs (task_id, step, entry, created_at)
		VALUES (?, ?, ?, ?)
	`, entry.TaskID, entry.Step, string(payload), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}
	return nil
}

// GetEntries returns the archived entries for a task in step order.
func (db *DB) GetEntries(taskID string) ([]execlog.Entry, error) {
	rows, err := db.conn.Query(`
		SELECT entry FROM execution_logs
		WHERE task_id = ?
		ORDER BY step ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []execlog.Entry
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		var entry execlog.Entry
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}
	return entries, nil
}

// SaveOutcome archives the verdict for a task, replacing any earlier verdict
// for the same task ID.
func (db *DB) SaveOutcome(taskID string, result outcome.AgentOutcome) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	_, err = db.conn.Exec(`
		INSERT OR REPLACE INTO outcomes (task_id, status, confidence, outcome, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, taskID, string(result.Status), result.Confidence, string(payload), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save outcome: %w", err)
	}
	return nil
}

// GetOutcome returns the archived verdict for a task, or nil when none is
// recorded.
func (db *DB) GetOutcome(taskID string) (*outcome.AgentOutcome, error) {
	var payload string
	err := db.conn.QueryRow(`
		SELECT outcome FROM outcomes WHERE task_id = ?
	`, taskID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outcome: %w", err)
	}

	var result outcome.AgentOutcome
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outcome: %w", err)
	}
	return &result, nil
}
