package notify

import "fmt"

// Notification types understood by the formatter.
const (
	TypeHealthAlert     = "health_alert"
	TypeNewMessage      = "new_message"
	TypeDoctorMessage   = "doctor_message"
	TypeChatResponse    = "chat_response"
	TypeReviewAssigned  = "review_assigned"
	TypeReviewCompleted = "review_completed"
	TypeInsight         = "insight"
	TypeGeneric         = "generic"
)

// Notification is a rendered push message.
type Notification struct {
	Type  string            `json:"type"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Format renders a notification of the given type. Unknown types render as
// a generic update so new producers never break delivery.
func Format(notificationType string, data map[string]string) Notification {
	n := Notification{Type: notificationType, Data: copyData(data)}
	get := func(key, fallback string) string {
		if v := data[key]; v != "" {
			return v
		}
		return fallback
	}

	switch notificationType {
	case TypeHealthAlert:
		n.Title = "Health alert"
		n.Body = fmt.Sprintf("Your heart rate reached %s bpm. If you feel unwell, please seek care.", get("heartRate", "an unusually high"))
	case TypeNewMessage:
		n.Title = "New patient message"
		n.Body = get("preview", "A patient you are reviewing sent a new message.")
	case TypeDoctorMessage:
		n.Title = "Message from your clinician"
		n.Body = get("preview", "Your clinician replied to your conversation.")
	case TypeChatResponse:
		n.Title = "Healify replied"
		n.Body = get("preview", "You have a new reply.")
		if data["needsDoctorReview"] == "true" {
			n.Body = "A clinician will review your conversation shortly."
		}
	case TypeReviewAssigned:
		n.Title = "A clinician is reviewing your chat"
		n.Body = "A healthcare professional has picked up your conversation."
	case TypeReviewCompleted:
		n.Title = "Review completed"
		n.Body = "A healthcare professional finished reviewing your conversation."
	case TypeInsight:
		n.Title = "New health insight"
		n.Body = get("message", "We noticed a change in your health data.")
	default:
		n.Type = TypeGeneric
		n.Title = "Healify"
		n.Body = get("message", "You have a new update.")
	}
	return n
}

func copyData(data map[string]string) map[string]string {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
