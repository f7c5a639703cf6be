package outcome

import "strings"

// Lexical marker tables used to judge individual observations. Kept as data
// rather than branching so the heuristic can be tuned and tested
// independently of the control flow that applies it.

// successMarkers indicate an action produced what it claimed.
var successMarkers = []string{
	"successfully",
	"success",
	"created",
	"wrote",
	"passed",
	" ok",
	"\nok",
}

// failureMarkers indicate an action went wrong. "error:" and " error" rather
// than bare "error" to avoid matching "stderr" or variable names.
var failureMarkers = []string{
	"error:",
	" error",
	"failed",
	"failure",
	"exception",
	"traceback",
	"not found",
	"no such file",
}

// testCommandMarkers identify shell commands that invoke a test runner; their
// observations are routed through the test output parser, whose verdict
// overrides the lexical markers for that entry.
var testCommandMarkers = []string{
	"pytest",
	"python -m unittest",
	"test",
	"python tests/",
}

// loopSignals and limitSignals are scanned in the raw trace text when the
// structured entries do not already carry loop flags.
var loopSignals = []string{
	"loop detected",
	"i tried reusing the same input",
	"must stop using this action",
}

var limitSignals = []string{
	"iteration limit",
	"time limit",
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
