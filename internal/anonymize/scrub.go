package anonymize

import (
	"regexp"
	"strings"
)

// PreviewLimit is the rune length of notification previews.
const PreviewLimit = 120

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?1?[-.\s]?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}`)
)

// ScrubPII replaces emails with [EMAIL] and phone numbers with [PHONE] in
// free text that leaves the patient boundary.
func ScrubPII(text string) string {
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	text = phoneRe.ReplaceAllString(text, "[PHONE]")
	return text
}

// ContainsPII reports whether ScrubPII would change text.
func ContainsPII(text string) bool {
	return emailRe.MatchString(text) || phoneRe.MatchString(text)
}

// Preview is the scrubbed, truncated form of a message used in notifications.
func Preview(text string) string {
	runes := []rune(strings.TrimSpace(ScrubPII(text)))
	if len(runes) <= PreviewLimit {
		return string(runes)
	}
	return string(runes[:PreviewLimit-1]) + "…"
}
