package safety

import (
	"fmt"
	"math"
	"strings"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/domain"
)

// ReviewPendingNotice is appended to every escalated answer.
const ReviewPendingNotice = "A healthcare professional has been notified and will review this conversation shortly."

// ClosedSessionNotice replaces the review notice when the conversation can no
// longer reach a reviewer.
const ClosedSessionNotice = "This conversation has already been closed by your care team, so it will not be reviewed again. Please start a new conversation if you would like a healthcare professional to look at this."

func withReviewNotice(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ReviewPendingNotice
	}
	return text + "\n\n" + ReviewPendingNotice
}

// ClarificationPrompt asks the user to restate a message that scored too low.
func ClarificationPrompt(message string) string {
	_, tokens := normalize(message)
	if len(tokens) < shortMessageMaxWords {
		return "I want to make sure I understand. Could you describe what you're feeling in a bit more detail, such as where it is and when it started?"
	}
	return "Could you be more specific about your symptoms? Mentioning where you feel it and how long it has been going on helps me give you a useful answer."
}

// DataQualityWarning explains why a health-data question cannot be answered yet.
func DataQualityWarning(q domain.DataQuality) string {
	days := q.DataPoints
	if days > completenessWindowDays {
		days = completenessWindowDays
	}
	var b strings.Builder
	fmt.Fprintf(&b, "I don't have enough reliable health data to analyze that yet. I can see %d of the last %d days of readings", days, completenessWindowDays)
	if q.Stability < minStability {
		fmt.Fprintf(&b, ", and your recent heart-rate readings vary too much to compare (consistency %d%%)", int(math.Round(q.Stability*100)))
	}
	b.WriteString(". Keep your device syncing for a few more days and I'll be able to give you a better picture.")
	return b.String()
}
