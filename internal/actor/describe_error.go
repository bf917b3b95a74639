package actor

import "regexp"

// describePatterns is checked in order; the first match wins. Matches
// spec.md §4.5's describeError taxonomy.
var describePatterns = []struct {
	pattern *regexp.Regexp
	message string
}{
	{regexp.MustCompile(`(?i)rate.?limit|429|quota`), "I'm being rate-limited by my AI provider. Please try again in a moment."},
	{regexp.MustCompile(`(?i)overloaded|503|capacity`), "My AI provider is currently overloaded. Please try again shortly."},
	{regexp.MustCompile(`(?i)timeout|ECONNRESET|ETIMEDOUT|network`), "I lost connection while processing that. Please try again."},
	{contextOverflowPattern, "Our conversation is too long for me to process right now."},
	{regexp.MustCompile(`(?i)abort|cancelled`), "My response was interrupted."},
}

// describeError maps a raw error message to the user-facing category from
// spec.md §4.5's table, falling back to a generic message carrying the raw
// text for anything unrecognized.
func describeError(raw string) string {
	for _, p := range describePatterns {
		if p.pattern.MatchString(raw) {
			return p.message
		}
	}
	return "Something went wrong: " + raw + ". Try sending your message again."
}
