package testreport

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Result holds the structured outcome of one test-runner invocation.
type Result struct {
	TestsRun     int     `json:"tests_run"`
	TestsPassed  int     `json:"tests_passed"`
	TestsFailed  int     `json:"tests_failed"`
	TestsSkipped int     `json:"tests_skipped"`
	TestsErrored int     `json:"tests_errored"`

	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Framework       string  `json:"framework,omitempty"`
}

// IsValidSuccess reports whether this is a genuine successful run: at least
// one test executed, nothing failed or errored, and the passed count accounts
// for every non-skipped test. A run with TestsRun==0 is never a success.
func (r Result) IsValidSuccess() bool {
	return r.TestsRun > 0 &&
		r.TestsFailed == 0 &&
		r.TestsErrored == 0 &&
		r.TestsPassed == r.TestsRun-r.TestsSkipped
}

// SuccessRate returns the passed/run ratio, 0 when nothing ran.
func (r Result) SuccessRate() float64 {
	if r.TestsRun == 0 {
		return 0
	}
	return float64(r.TestsPassed) / float64(r.TestsRun)
}

// Summary renders a human-readable one-line verdict.
func (r Result) Summary() string {
	if r.TestsRun == 0 {
		return "NO TESTS RAN - Test discovery failed or no tests found"
	}
	if r.IsValidSuccess() {
		return fmt.Sprintf("SUCCESS - All %d tests passed", r.TestsPassed)
	}

	var parts []string
	if r.TestsPassed > 0 {
		parts = append(parts, fmt.Sprintf("%d passed", r.TestsPassed))
	}
	if r.TestsFailed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", r.TestsFailed))
	}
	if r.TestsErrored > 0 {
		parts = append(parts, fmt.Sprintf("%d errors", r.TestsErrored))
	}
	if r.TestsSkipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", r.TestsSkipped))
	}
	return fmt.Sprintf("FAILURE - %s out of %d tests", strings.Join(parts, ", "), r.TestsRun)
}

var (
	// pytest final summary line, e.g. "===== 3 passed, 2 failed in 0.05s ====="
	pytestSummaryRe = regexp.MustCompile(`(?i)={3,}\s*(?:(\d+)\s+passed)?(?:,?\s*(\d+)\s+failed)?(?:,?\s*(\d+)\s+skipped)?(?:,?\s*(\d+)\s+error)?.*?in\s+([\d.]+)s?\s*={3,}`)

	// unittest "Ran N tests in S.SSs" plus OK / FAILED(...) detail lines
	unittestRanRe  = regexp.MustCompile(`(?i)Ran\s+(\d+)\s+tests?\s+in\s+([\d.]+)s`)
	unittestOKRe   = regexp.MustCompile(`\bOK\b`)
	unittestFailRe = regexp.MustCompile(`(?i)failures?=(\d+)`)
	unittestErrRe  = regexp.MustCompile(`(?i)errors?=(\d+)`)
	unittestSkipRe = regexp.MustCompile(`(?i)skipped?=(\d+)`)

	// truncated-output fallback markers
	failLineRe   = regexp.MustCompile(`(?m)^FAIL:\s+\w+`)
	errorLineRe  = regexp.MustCompile(`(?m)^ERROR:\s+\w+`)
	ranPartialRe = regexp.MustCompile(`Ran\s+(\d+)\s+t`)
)

// genericPatterns are tried in order against output from runners that emit no
// recognized framework summary. Two-group patterns carry either (passed, run)
// or (passed, failed) depending on hasFailed.
var genericPatterns = []struct {
	re        *regexp.Regexp
	hasFailed bool
}{
	{regexp.MustCompile(`(?i)(\d+)\s+of\s+(\d+)\s+tests?\s+passed`), false},
	{regexp.MustCompile(`(?i)(\d+)\s+passed,\s+(\d+)\s+failed`), true},
	{regexp.MustCompile(`(?i)(\d+)\s+tests?\s+passed`), false},
	{regexp.MustCompile(`(?i)tests?:\s+(\d+)\s+passed`), false},
}

// Parse extracts structured test counts from raw runner output. It detects
// the output convention automatically and never fails: output matching no
// known shape yields a zero-valued Result, which callers must treat as
// "no tests ran", not as success.
func Parse(output string) Result {
	lower := strings.ToLower(output)

	if strings.Contains(output, "===") && strings.Contains(lower, "passed") {
		if r := parsePytest(output); r.TestsRun > 0 {
			return r
		}
	}

	if strings.Contains(output, "Ran") && strings.Contains(lower, "tests") {
		if r, ok := parseUnittest(output); ok {
			// A parsed run of zero tests is itself meaningful: it signals
			// test discovery failure and must not be silently swallowed.
			return r
		}
	}

	if r := parseGeneric(output); r.TestsRun > 0 {
		return r
	}

	if r, ok := parsePartial(output); ok {
		return r
	}

	return Result{}
}

func parsePytest(output string) Result {
	r := Result{Framework: "pytest"}

	m := pytestSummaryRe.FindStringSubmatch(output)
	if m == nil {
		return r
	}

	r.TestsPassed = atoi(m[1])
	r.TestsFailed = atoi(m[2])
	r.TestsSkipped = atoi(m[3])
	r.TestsErrored = atoi(m[4])
	r.TestsRun = r.TestsPassed + r.TestsFailed + r.TestsSkipped
	r.DurationSeconds, _ = strconv.ParseFloat(m[5], 64)
	return r
}

func parseUnittest(output string) (Result, bool) {
	r := Result{Framework: "unittest"}

	m := unittestRanRe.FindStringSubmatch(output)
	if m == nil {
		return r, false
	}

	r.TestsRun = atoi(m[1])
	r.DurationSeconds, _ = strconv.ParseFloat(m[2], 64)

	if unittestOKRe.MatchString(output) {
		r.TestsPassed = r.TestsRun
		return r, true
	}

	if fm := unittestFailRe.FindStringSubmatch(output); fm != nil {
		r.TestsFailed = atoi(fm[1])
	}
	if em := unittestErrRe.FindStringSubmatch(output); em != nil {
		r.TestsErrored = atoi(em[1])
	}
	if sm := unittestSkipRe.FindStringSubmatch(output); sm != nil {
		r.TestsSkipped = atoi(sm[1])
	}
	r.TestsPassed = r.TestsRun - r.TestsFailed - r.TestsErrored - r.TestsSkipped
	return r, true
}

func parseGeneric(output string) Result {
	r := Result{Framework: "generic"}

	for _, p := range genericPatterns {
		m := p.re.FindStringSubmatch(output)
		if m == nil {
			continue
		}
		if len(m) == 3 && m[2] != "" {
			if p.hasFailed {
				r.TestsPassed = atoi(m[1])
				r.TestsFailed = atoi(m[2])
				r.TestsRun = r.TestsPassed + r.TestsFailed
			} else {
				r.TestsPassed = atoi(m[1])
				r.TestsRun = atoi(m[2])
			}
		} else {
			r.TestsPassed = atoi(m[1])
			r.TestsRun = r.TestsPassed
		}
		break
	}
	return r
}

// parsePartial reconstructs counts from truncated unittest output. Even when
// the "Ran X tests" line is cut off, FAIL:/ERROR: line prefixes survive and
// give a lower bound on what went wrong.
func parsePartial(output string) (Result, bool) {
	fails := failLineRe.FindAllString(output, -1)
	errors := errorLineRe.FindAllString(output, -1)
	if len(fails) == 0 && len(errors) == 0 {
		return Result{}, false
	}

	r := Result{Framework: "unittest-partial"}
	r.TestsFailed = len(fails)
	r.TestsErrored = len(errors)

	if m := ranPartialRe.FindStringSubmatch(output); m != nil {
		r.TestsRun = atoi(m[1])
	} else {
		r.TestsRun = r.TestsFailed + r.TestsErrored
	}

	r.TestsPassed = r.TestsRun - r.TestsFailed - r.TestsErrored
	if r.TestsPassed < 0 {
		r.TestsPassed = 0
	}
	return r, true
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}
