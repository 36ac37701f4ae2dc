package anonymize

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/domain"
)

const (
	// IDPrefix starts every anonymous id.
	IDPrefix = "ANON-"
	// IDHashLength is the number of hex characters kept from the digest.
	IDHashLength = 12
	// IDLength is the fixed width of an anonymous id.
	IDLength = len(IDPrefix) + IDHashLength

	unknownAgeRange = "unknown"
)

// ErrSaltRequired is returned when no server salt is configured.
var ErrSaltRequired = errors.New("anonymize: salt required")

var nowFunc = time.Now

// Anonymizer maps users to stable pseudonyms and projects reviewer payloads.
type Anonymizer struct {
	salt string
}

// New returns an Anonymizer keyed by salt.
func New(salt string) (*Anonymizer, error) {
	if strings.TrimSpace(salt) == "" {
		return nil, ErrSaltRequired
	}
	return &Anonymizer{salt: salt}, nil
}

// AnonymousID returns "ANON-" followed by the first 12 upper-case hex
// characters of sha256(userID + salt).
func (a *Anonymizer) AnonymousID(userID string) string {
	sum := sha256.Sum256([]byte(userID + a.salt))
	return IDPrefix + strings.ToUpper(hex.EncodeToString(sum[:]))[:IDHashLength]
}

// AnonymizedProfile is what a reviewer sees about a patient.
type AnonymizedProfile struct {
	AnonymousID   string             `json:"anonymousId"`
	AgeRange      string             `json:"ageRange"`
	Gender        string             `json:"gender,omitempty"`
	BodyType      string             `json:"bodyType,omitempty"`
	ActivityLevel string             `json:"activityLevel,omitempty"`
	Conditions    []string           `json:"conditions"`
	Allergies     []string           `json:"allergies"`
	Medications   []string           `json:"medications"`
	Vitals        *Vitals            `json:"vitals,omitempty"`
	DataQuality   domain.DataQuality `json:"dataQuality"`
	Insights      []string           `json:"insights"`
}

// Vitals are the de-identified latest readings.
type Vitals struct {
	HeartRate  *float64 `json:"heartRate,omitempty"`
	Steps      *int     `json:"steps,omitempty"`
	SleepHours *float64 `json:"sleepHours,omitempty"`
	RecordedOn string   `json:"recordedOn,omitempty"`
}

// ProjectForReview copies only allow-listed fields into a reviewer payload.
// Name, email, push tokens and raw ids are never read.
func (a *Anonymizer) ProjectForReview(profile domain.UserProfile, snapshot *domain.HealthSnapshot, quality domain.DataQuality) AnonymizedProfile {
	out := AnonymizedProfile{
		AnonymousID:   a.AnonymousID(profile.ID),
		AgeRange:      AgeRange(profile.DateOfBirth, nowFunc()),
		Gender:        ScrubPII(profile.Gender),
		BodyType:      ScrubPII(profile.BodyType),
		ActivityLevel: ScrubPII(profile.ActivityLevel),
		Conditions:    scrubList(profile.Conditions),
		Allergies:     scrubList(profile.Allergies),
		Medications:   scrubList(profile.Medications),
		DataQuality:   quality,
		Insights:      []string{},
	}
	if snapshot == nil {
		return out
	}

	v := snapshot.Current
	out.Vitals = &Vitals{
		HeartRate:  v.HeartRate,
		Steps:      v.Steps,
		SleepHours: v.SleepHours,
	}
	if !v.RecordedAt.IsZero() {
		out.Vitals.RecordedOn = v.RecordedAt.UTC().Format("2006-01-02")
	}
	for _, insight := range snapshot.Insights {
		out.Insights = append(out.Insights, ScrubPII(insight.Message))
	}
	return out
}

// AgeRange buckets an age by decade, e.g. "30-39".
func AgeRange(dob *time.Time, now time.Time) string {
	if dob == nil || dob.IsZero() {
		return unknownAgeRange
	}
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	if age < 0 {
		return unknownAgeRange
	}
	low := age / 10 * 10
	return fmt.Sprintf("%d-%d", low, low+9)
}

func scrubList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		if item = strings.TrimSpace(ScrubPII(item)); item != "" {
			out = append(out, item)
		}
	}
	return out
}
