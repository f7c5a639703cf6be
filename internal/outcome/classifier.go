package outcome

import (
	"fmt"
	"strings"

	"github.com/kmorales13/warden/internal/execlog"
	"github.com/kmorales13/warden/internal/testreport"
)

// Status is the final verdict class of one task execution.
type Status string

const (
	StatusSuccess     Status = "SUCCESS"
	StatusSoftFailure Status = "SOFT_FAILURE"
	StatusHardFailure Status = "HARD_FAILURE"
	StatusUncertain   Status = "UNCERTAIN"
)

// AgentOutcome is the externally visible verdict structure. It is built once
// per task execution and consumed as-is by downstream UI and scheduling;
// every field must survive a JSON round trip, with empty lists serialized as
// [] rather than null.
type AgentOutcome struct {
	Status     Status  `json:"status"`
	Confidence float64 `json:"confidence"`
	Summary    string  `json:"summary"`

	FilesCreated     []string `json:"files_created"`
	FilesModified    []string `json:"files_modified"`
	FilesRead        []string `json:"files_read"`
	CommandsExecuted []string `json:"commands_executed"`

	TestResults string `json:"test_results,omitempty"`

	// Success mirrors Status for consumers that predate the status field.
	Success bool   `json:"success"`
	Details string `json:"details,omitempty"`

	WhatWasAttempted []string `json:"what_was_attempted"`
	WhatSucceeded    []string `json:"what_succeeded"`
	WhatFailed       []string `json:"what_failed"`

	ActualOutput        string   `json:"actual_output,omitempty"`
	FailureReason       string   `json:"failure_reason,omitempty"`
	Suggestions         []string `json:"suggestions"`
	RequiresHumanReview bool     `json:"requires_human_review"`
}

const maxDetailsLen = 2000

// Classify walks the execution log in order and derives a trustworthy
// verdict from what actually happened, distrusting self-reported success.
// When entries is empty it falls back to salvaging structure from the raw
// trace text; when that too yields nothing it returns UNCERTAIN rather than
// failing.
func Classify(entries []execlog.Entry, rawTrace string) AgentOutcome {
	if len(entries) == 0 {
		entries = execlog.ParseTrace(rawTrace)
	}
	if len(entries) == 0 {
		out := newOutcome()
		out.Status = StatusUncertain
		out.Confidence = 0.5
		out.Summary = "No execution log entries available"
		out.FailureReason = "Could not obtain structured execution data"
		out.Details = truncate(rawTrace, maxDetailsLen)
		out.RequiresHumanReview = true
		return out
	}

	out := newOutcome()

	var (
		testResult   *testreport.Result
		testOutput   string
		testResults  string
		hitLoopEntry bool
	)

	for _, entry := range entries {
		input := entry.ActionInput
		pathOrCmd := stringParam(input, "path")
		if pathOrCmd == "" {
			pathOrCmd = stringParam(input, "command")
		}

		out.WhatWasAttempted = append(out.WhatWasAttempted, entry.Action+": "+pathOrCmd)
		if entry.IsLoop {
			hitLoopEntry = true
		}

		// Strip a leading [stderr] tag before marker matching: it names a
		// stream, not an error.
		obs := strings.ToLower(entry.Observation)
		if strings.HasPrefix(obs, "[stderr]") {
			obs = strings.TrimSpace(obs[len("[stderr]"):])
		}

		hasSuccess := containsAny(obs, successMarkers)
		hasFailure := containsAny(obs, failureMarkers) || entry.ErrorTrace != ""

		if hasSuccess && !hasFailure {
			out.WhatSucceeded = append(out.WhatSucceeded, entry.Action+": "+pathOrCmd)
		} else if hasFailure && !hasSuccess {
			out.WhatFailed = append(out.WhatFailed, entry.Action+": "+truncate(entry.Observation, 100))
		}

		switch entry.Action {
		case "file_write":
			path := stringParam(input, "path")
			wrote := strings.Contains(obs, "successfully") || strings.Contains(obs, "wrote")
			if path != "" && (wrote || (hasSuccess && !hasFailure)) {
				out.FilesCreated = append(out.FilesCreated, path)
			}
		case "file_edit":
			if path := stringParam(input, "path"); path != "" && hasSuccess {
				out.FilesModified = append(out.FilesModified, path)
			}
		case "file_read":
			if path := stringParam(input, "path"); path != "" {
				out.FilesRead = append(out.FilesRead, path)
			}
		case "shell_run":
			command := stringParam(input, "command")
			if command == "" {
				break
			}
			out.CommandsExecuted = append(out.CommandsExecuted, command)

			if containsAny(command, testCommandMarkers) {
				testOutput = entry.Observation
				parsed := testreport.Parse(entry.Observation)
				testResult = &parsed
				testResults = parsed.Summary()
				if parsed.TestsRun == 0 {
					out.WhatFailed = append(out.WhatFailed, "Test execution: "+parsed.Summary())
				}
			}
		}
	}

	out.FilesCreated = dedupe(out.FilesCreated)
	out.FilesModified = dedupe(out.FilesModified)
	out.FilesRead = dedupe(out.FilesRead)
	out.CommandsExecuted = dedupe(out.CommandsExecuted)
	out.TestResults = testResults
	out.ActualOutput = testOutput
	out.Details = truncate(rawTrace, maxDetailsLen)
	out.Summary = composeSummary(out, testResults)

	lowerTrace := strings.ToLower(rawTrace)
	hitLoop := hitLoopEntry || containsAny(lowerTrace, loopSignals)
	hitLimit := containsAny(lowerTrace, limitSignals)
	hasOutput := len(out.FilesCreated) > 0 || len(out.FilesModified) > 0

	succeeded := len(out.WhatSucceeded)
	failed := len(out.WhatFailed)
	denom := succeeded + failed
	if denom == 0 {
		denom = 1
	}
	successRatio := float64(succeeded) / float64(denom)

	// Ordered decision list: first matching rule wins. The precedence was
	// arrived at empirically; reordering changes verdicts on ambiguous
	// traces, so keep it exactly as is.
	switch {
	case hitLoop && !hasOutput:
		out.Status = StatusSoftFailure
		out.Confidence = 0.3
		out.FailureReason = "Agent detected action loop - repeated same action multiple times"
		out.Suggestions = append(out.Suggestions, "Agent got stuck repeating same action")

	case failed > 0 && !hasOutput:
		if succeeded > 0 {
			out.Status = StatusSoftFailure
		} else {
			out.Status = StatusHardFailure
		}
		out.Confidence = successRatio
		out.FailureReason = strings.Join(firstN(out.WhatFailed, 3), "; ")

	case testResult != nil && testResult.TestsRun == 0 && !hasOutput:
		out.Status = StatusSoftFailure
		out.Confidence = 0.3
		out.FailureReason = "Tests executed but no tests were discovered or ran"
		out.Suggestions = append(out.Suggestions,
			"Check test file location and naming",
			"Verify test functions start with 'test_'")

	case hasOutput:
		if testResult != nil && testResult.TestsRun > 0 && !testResult.IsValidSuccess() {
			// Tests ran and failed: not a success even though files exist.
			out.Status = StatusSoftFailure
			out.Confidence = testResult.SuccessRate()
			out.FailureReason = "Tests failed: " + testResult.Summary()
			if testResult.TestsFailed > 0 {
				out.Suggestions = append(out.Suggestions,
					fmt.Sprintf("%d test(s) failed - review test output", testResult.TestsFailed))
			}
			if testResult.TestsErrored > 0 {
				out.Suggestions = append(out.Suggestions,
					fmt.Sprintf("%d test error(s) - check for exceptions", testResult.TestsErrored))
			}
		} else {
			out.Status = StatusSuccess
			out.Confidence = successRatio
			if out.Confidence < 0.7 {
				out.Confidence = 0.7
			}
		}
		if hitLimit {
			out.Suggestions = append(out.Suggestions, "Task completed but hit iteration limit - consider optimizing")
		}
		if hitLoop {
			out.Suggestions = append(out.Suggestions, "Some loops detected but task completed")
		}

	case hitLimit:
		out.Status = StatusSoftFailure
		out.Confidence = 0.4
		out.FailureReason = "Agent stopped due to iteration or time limit before completing task"
		out.Suggestions = append(out.Suggestions,
			"Increase maxIterations for complex tasks",
			"Break down into smaller subtasks")

	default:
		out.Status = StatusSuccess
		out.Confidence = 1.0
	}

	out.Success = out.Status == StatusSuccess
	out.RequiresHumanReview = out.Status != StatusSuccess
	return out
}

// newOutcome initializes every list field so that serialization emits []
// instead of null.
func newOutcome() AgentOutcome {
	return AgentOutcome{
		FilesCreated:     []string{},
		FilesModified:    []string{},
		FilesRead:        []string{},
		CommandsExecuted: []string{},
		WhatWasAttempted: []string{},
		WhatSucceeded:    []string{},
		WhatFailed:       []string{},
		Suggestions:      []string{},
	}
}

func composeSummary(out AgentOutcome, testResults string) string {
	var parts []string
	if n := len(out.FilesCreated); n > 0 {
		parts = append(parts, fmt.Sprintf("Created %d file(s)", n))
	}
	if n := len(out.FilesModified); n > 0 {
		parts = append(parts, fmt.Sprintf("modified %d", n))
	}
	if n := len(out.CommandsExecuted); n > 0 {
		parts = append(parts, fmt.Sprintf("ran %d command(s)", n))
	}
	if testResults != "" {
		parts = append(parts, "tests: "+testResults)
	}
	if len(parts) == 0 {
		return "Task completed"
	}
	return strings.Join(parts, ", ")
}

func stringParam(params map[string]interface{}, key string) string {
	if params == nil {
		return ""
	}
	s, _ := params[key].(string)
	return s
}

// dedupe removes duplicates while preserving first-occurrence order.
func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}

func firstN(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
