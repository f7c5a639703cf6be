package execlog

import (
	"encoding/json"
	"strings"
)

// Trace segment labels emitted by verbose agent executors.
const (
	thoughtLabel     = "Thought:"
	actionLabel      = "Action:"
	actionInputLabel = "Action Input:"
	observationLabel = "Observation:"
)

// ParseTrace recovers structured entries from a free-text execution trace,
// for runs where the execution engine emitted its own unstructured log
// instead of going through a Recorder. It scans for Thought / Action /
// Action Input / Observation segments and synthesizes one entry per
// action/observation pair. Best-effort salvage: malformed input never fails,
// unparseable action input is wrapped as a raw_input field, and text matching
// nothing yields no entries.
func ParseTrace(trace string) []Entry {
	var entries []Entry

	var (
		thought     string
		action      string
		actionInput string
		observation string
		section     string
		open        bool
	)

	flush := func() {
		if !open || (action == "" && observation == "") {
			return
		}
		entries = append(entries, Entry{
			Step:        len(entries) + 1,
			Thought:     strings.TrimSpace(thought),
			Action:      orUnknown(strings.TrimSpace(action)),
			ActionInput: parseActionInput(strings.TrimSpace(actionInput)),
			Observation: strings.TrimSpace(observation),
		})
		thought, action, actionInput, observation, section = "", "", "", "", ""
		open = false
	}

	for _, line := range strings.Split(trace, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, thoughtLabel):
			// A new thought starts a new step.
			flush()
			thought = strings.TrimPrefix(trimmed, thoughtLabel)
			section = thoughtLabel
			open = true
		case strings.HasPrefix(trimmed, actionLabel):
			if action != "" {
				flush()
			}
			action = strings.TrimPrefix(trimmed, actionLabel)
			section = actionLabel
			open = true
		case strings.HasPrefix(trimmed, actionInputLabel):
			actionInput = strings.TrimPrefix(trimmed, actionInputLabel)
			section = actionInputLabel
			open = true
		case strings.HasPrefix(trimmed, observationLabel):
			observation = strings.TrimPrefix(trimmed, observationLabel)
			section = observationLabel
			open = true
		default:
			// Continuation of the current segment.
			if !open || trimmed == "" {
				continue
			}
			switch section {
			case thoughtLabel:
				thought += "\n" + line
			case actionInputLabel:
				actionInput += "\n" + line
			case observationLabel:
				observation += "\n" + line
			}
		}
	}
	flush()

	return entries
}

// parseActionInput decodes the action-input text as JSON when possible and
// wraps it as a single raw-string field otherwise rather than discarding it.
func parseActionInput(text string) map[string]interface{} {
	if text == "" {
		return map[string]interface{}{}
	}
	var input map[string]interface{}
	if err := json.Unmarshal([]byte(text), &input); err == nil {
		return input
	}
	return map[string]interface{}{"raw_input": text}
}

func orUnknown(action string) string {
	if action == "" {
		return "unknown"
	}
	return action
}
