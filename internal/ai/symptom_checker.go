package ai

import (
	"context"
	"strings"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/domain"
)

type symptomRule struct {
	keywords []string
	advice   string
}

var symptomRules = []symptomRule{
	{
		keywords: []string{"headache", "migraine"},
		advice:   "Headaches are often linked to dehydration, poor sleep, screen strain or stress. Drink water, rest in a quiet dark room and consider an over-the-counter pain reliever if you normally tolerate one. Seek urgent care if it is sudden and severe or comes with fever, a stiff neck or confusion.",
	},
	{
		keywords: []string{"fever", "temperature"},
		advice:   "A raised temperature is usually the body fighting an infection. Rest, drink plenty of fluids and monitor your temperature. Seek care if it stays above 39°C for more than two days.",
	},
	{
		keywords: []string{"cough", "throat"},
		advice:   "Most coughs and sore throats are viral and settle within one to two weeks. Warm drinks, honey and rest help. Get checked if you are short of breath or the cough lasts more than three weeks.",
	},
	{
		keywords: []string{"sleep", "insomnia", "tired", "fatigue"},
		advice:   "Keeping a consistent bedtime, limiting caffeine after noon and avoiding screens before bed usually improves sleep within a couple of weeks.",
	},
	{
		keywords: []string{"nausea", "vomiting", "stomach", "diarrhea"},
		advice:   "Small sips of water or an oral rehydration drink and bland food are the usual first steps for an upset stomach. Seek care if you cannot keep fluids down for a day.",
	},
}

// SymptomChecker is a deterministic keyword-based Provider used when no LLM
// is configured.
type SymptomChecker struct{}

func NewSymptomChecker() *SymptomChecker {
	return &SymptomChecker{}
}

func (c *SymptomChecker) Generate(_ context.Context, message string, snapshot *domain.HealthSnapshot) (Response, error) {
	lower := strings.ToLower(message)
	for _, rule := range symptomRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return Response{
					Text:       rule.advice,
					Confidence: substantiveConfidence,
					Source:     SourceSymptomChecker,
				}, nil
			}
		}
	}

	text := "I couldn't match that to a common symptom pattern."
	if snapshot != nil && snapshot.Current.HeartRate != nil {
		text += " Your most recent readings are on file and a clinician can look at them with you."
	}
	return Response{
		Text:       text,
		Confidence: hedgedConfidence,
		Source:     SourceSymptomChecker,
		Reason:     "No matching symptom pattern",
	}, nil
}
