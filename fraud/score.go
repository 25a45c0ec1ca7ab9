package fraud

import "fmt"

// Decision is the outcome of scoring a request.
type Decision string

const (
	DecisionAllow     Decision = "ALLOW"
	DecisionFlag      Decision = "FLAG"
	DecisionChallenge Decision = "CHALLENGE"
	DecisionReview    Decision = "REVIEW"
	DecisionBlock     Decision = "BLOCK"
)

// ParseDecision validates a decision name.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(s); d {
	case DecisionAllow, DecisionFlag, DecisionChallenge, DecisionReview, DecisionBlock:
		return d, nil
	}
	return "", fmt.Errorf("fraud: unknown decision %q", s)
}

// Level grades an indicator.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

var levelWeight = map[Level]float64{
	LevelLow:      25,
	LevelMedium:   50,
	LevelHigh:     75,
	LevelCritical: 100,
}

// Indicator is one observed risk signal.
type Indicator struct {
	Type       string  `json:"type"`
	Level      Level   `json:"level"`
	Confidence float64 `json:"confidence"`
	Detail     string  `json:"detail,omitempty"`
}

// Score is the indicator's contribution before averaging.
func (i Indicator) Score() float64 {
	return levelWeight[i.Level] * clamp(i.Confidence, 0, 1)
}

// ReviewThreshold is the score at and above which an event is queued for a
// human and promoted to a security audit event.
const ReviewThreshold = 70

// Composite is 0.4·ml + 0.4·rule + 0.2·mean(indicator scores), clamped to
// [0,100]. No indicators contribute zero.
func Composite(ml, rule float64, indicators []Indicator) float64 {
	var mean float64
	if len(indicators) > 0 {
		var sum float64
		for _, ind := range indicators {
			sum += ind.Score()
		}
		mean = sum / float64(len(indicators))
	}
	return clamp(0.4*ml+0.4*rule+0.2*mean, 0, 100)
}

// Decide maps a composite score to a decision.
func Decide(score float64) Decision {
	switch {
	case score >= 90:
		return DecisionBlock
	case score >= ReviewThreshold:
		return DecisionReview
	case score >= 50:
		return DecisionChallenge
	case score >= 30:
		return DecisionFlag
	default:
		return DecisionAllow
	}
}

func reasonFor(d Decision) string {
	switch d {
	case DecisionBlock:
		return "high fraud risk"
	case DecisionReview:
		return "medium-high risk, needs human review"
	case DecisionChallenge:
		return "additional verification required"
	case DecisionFlag:
		return "monitor only"
	default:
		return "baseline risk"
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
