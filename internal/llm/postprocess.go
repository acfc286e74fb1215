package llm

import (
	"regexp"
	"strings"
)

// SanitizedReply replaces a generated draft that leaked something the model
// is told never to say.
const SanitizedReply = "Let's chat more about this!"

// MaxReplyLength caps outbound SMS drafts to a single segment.
const MaxReplyLength = 160

var (
	roleLabelRe = regexp.MustCompile(`(?i)^\s*(ai|assistant|bot|me|you)\s*:\s*`)

	// Drafts mentioning money or payment rails get replaced wholesale
	// rather than edited, the same rule the prompt states.
	bannedReplyRe = regexp.MustCompile(`(?i)\$\s*\d|\d+\s*(dollars|usd|bucks|hr|hour|session)|\b(price|prices|pricing|rate|rates|deposit|donation)\b|\b(venmo|cashapp|cash app|zelle|paypal)\b`)

	// Meeting logistics and offers of services are equally off limits for a
	// generated draft.
	logisticsReplyRe = regexp.MustCompile(`(?i)\b(meet|meeting|appointment|date|location|address)\b|\b(service|services|offer|provide)\b`)
)

// PostProcess cleans a raw completion into a sendable SMS body: role labels
// and wrapping quotes are stripped, the draft is sanitized, and the result is
// truncated to one SMS segment at a sentence boundary where possible.
func PostProcess(raw string) string {
	text := strings.TrimSpace(raw)
	text = roleLabelRe.ReplaceAllString(text, "")
	text = stripWrappingQuotes(text)
	text = strings.TrimSpace(text)

	if text == "" {
		return ""
	}
	return Truncate(Sanitize(text), MaxReplyLength)
}

// Sanitize returns the draft unchanged when clean, or SanitizedReply when it
// mentions pricing, payment or meeting logistics.
func Sanitize(text string) string {
	if bannedReplyRe.MatchString(text) || logisticsReplyRe.MatchString(text) {
		return SanitizedReply
	}
	return text
}

// Truncate shortens text to at most limit characters, preferring to cut at
// the last sentence end and falling back to the last word boundary.
func Truncate(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	cut := text[:limit]

	if idx := lastSentenceEnd(cut); idx > 0 {
		return strings.TrimSpace(cut[:idx+1])
	}
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		return strings.TrimSpace(cut[:idx])
	}
	return strings.TrimSpace(cut)
}

func lastSentenceEnd(text string) int {
	last := -1
	for i, r := range text {
		switch r {
		case '.', '!', '?':
			last = i
		}
	}
	return last
}

func stripWrappingQuotes(text string) string {
	for len(text) >= 2 {
		first := text[0]
		last := text[len(text)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			text = text[1 : len(text)-1]
			continue
		}
		break
	}
	return text
}
