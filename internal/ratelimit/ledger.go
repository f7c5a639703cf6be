package ratelimit

import "time"

// UsageEntry records one completed API call. Immutable; dropped once it ages
// out of the sliding window.
type UsageEntry struct {
	Timestamp    time.Time
	InputTokens  int
	OutputTokens int
}

// ledger is a time-ordered queue of usage entries for one tier. Entries are
// appended in call order, so purging from the front is sufficient.
type ledger struct {
	entries []UsageEntry
}

func (l *ledger) append(e UsageEntry) {
	l.entries = append(l.entries, e)
}

// purge drops entries older than the cutoff. Lazy: called on every read.
func (l *ledger) purge(cutoff time.Time) {
	i := 0
	for i < len(l.entries) && l.entries[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		l.entries = append(l.entries[:0], l.entries[i:]...)
	}
}

// totals sums the entries remaining in the window.
func (l *ledger) totals() (requests, inputTokens, outputTokens int) {
	requests = len(l.entries)
	for _, e := range l.entries {
		inputTokens += e.InputTokens
		outputTokens += e.OutputTokens
	}
	return requests, inputTokens, outputTokens
}
