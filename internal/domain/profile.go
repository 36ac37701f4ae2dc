package domain

import "time"

// UserProfile is the patient record owned by the profile service. The triage
// pipeline only reads it.
type UserProfile struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	DateOfBirth   *time.Time `json:"dateOfBirth,omitempty"`
	Gender        string     `json:"gender"`
	BodyType      string     `json:"bodyType"`
	ActivityLevel string     `json:"activityLevel"`
	Conditions    []string   `json:"conditions"`
	Allergies     []string   `json:"allergies"`
	Medications   []string   `json:"medications"`
	PushTokens    []string   `json:"pushTokens"`
}
