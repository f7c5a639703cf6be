package tokens

// Estimate approximates the token count of a text string.
// Rough heuristic: ~4 characters per token for English text. Exact counts
// come from the provider response when available; this covers tool output
// and other text that never passes through a tokenizer.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n < 1 {
		return 1
	}
	return n
}
