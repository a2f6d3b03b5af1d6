package types

import "strings"

// CleanJSONFromMarkdown removes markdown code block wrappers from JSON strings.
// Model output frequently arrives fenced even when asked for raw JSON.
func CleanJSONFromMarkdown(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// LastFencedJSON returns the contents of the last ```json fenced block in the
// markdown, or "" if none exists. The backends are instructed to append their
// structured findings as the final fenced block of the narrative.
func LastFencedJSON(markdown string) string {
	const fence = "```json"
	start := strings.LastIndex(markdown, fence)
	if start == -1 {
		return ""
	}
	rest := markdown[start+len(fence):]
	end := strings.Index(rest, "```")
	if end == -1 {
		// Unterminated fence: the stream may have been cut mid-block.
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}
