package safety

import (
	"math"
	"strings"
	"unicode"
)

const (
	clarityBase          = 0.5
	vagueTermPenalty     = 0.15
	specificTermReward   = 0.1
	longMessageBonus     = 0.1
	shortMessagePenalty  = 0.15
	longMessageMinWords  = 20
	shortMessageMaxWords = 5

	// ClarityThreshold is the score below which a turn asks for clarification.
	ClarityThreshold = 0.4
)

var vagueTerms = []string{
	"weird", "strange", "off", "funny", "bad", "something", "stuff",
	"things", "whatever", "unwell", "meh",
	"not right", "not good", "kind of", "sort of", "not sure",
}

var specificTerms = []string{
	"headache", "head", "migraine", "pain", "ache", "fever", "cough",
	"nausea", "vomiting", "diarrhea", "dizzy", "dizziness", "chest",
	"stomach", "throat", "rash", "itching", "swelling", "fatigue", "tired",
	"sleep", "insomnia", "anxiety", "breathing", "steps", "exercise",
	"weight", "temperature", "medication", "allergy", "trend", "health",
	"analysis", "heart rate", "blood pressure", "shortness of breath",
}

type termMatcher struct {
	words   map[string]struct{}
	phrases []string
}

func newTermMatcher(terms []string) termMatcher {
	m := termMatcher{words: make(map[string]struct{})}
	for _, term := range terms {
		if strings.Contains(term, " ") {
			m.phrases = append(m.phrases, term)
			continue
		}
		m.words[term] = struct{}{}
	}
	return m
}

// count returns how many distinct terms occur. Words match whole tokens;
// phrases match the normalized text.
func (m termMatcher) count(tokens []string, normalized string) int {
	seen := make(map[string]struct{})
	for _, tok := range tokens {
		if _, ok := m.words[tok]; ok {
			seen[tok] = struct{}{}
		}
	}
	n := len(seen)
	padded := " " + normalized + " "
	for _, phrase := range m.phrases {
		if strings.Contains(padded, " "+phrase+" ") {
			n++
		}
	}
	return n
}

var (
	vagueMatcher    = newTermMatcher(vagueTerms)
	specificMatcher = newTermMatcher(specificTerms)
)

func normalize(message string) (string, []string) {
	var b strings.Builder
	for _, r := range strings.ToLower(message) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune(' ')
	}
	tokens := strings.Fields(b.String())
	return strings.Join(tokens, " "), tokens
}

// Clarity scores how well a message describes the user's concern, in [0,1]
// with two decimals.
func Clarity(message string) float64 {
	normalized, tokens := normalize(message)

	score := clarityBase
	score -= vagueTermPenalty * float64(vagueMatcher.count(tokens, normalized))
	score += specificTermReward * float64(specificMatcher.count(tokens, normalized))

	switch words := len(tokens); {
	case words > longMessageMinWords:
		score += longMessageBonus
	case words < shortMessageMaxWords:
		score -= shortMessagePenalty
	}
	return round2(clamp01(score))
}

// NeedsClarification reports whether a clarity score falls under the threshold.
func NeedsClarification(clarity float64) bool {
	return clarity < ClarityThreshold
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
