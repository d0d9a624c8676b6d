package sentiment

import "strings"

// Label is the coarse sentiment annotation attached to assistant turns.
type Label string

const (
	Positive Label = "positive"
	Negative Label = "negative"
	Neutral  Label = "neutral"
)

// Decision carries the label together with the raw score that produced it.
type Decision struct {
	Label Label
	Score int
}

// Valence per keyword. The lists skew toward the vocabulary of an
// emotional-support conversation rather than general prose.
var valences = map[string]int{
	"good":      2,
	"great":     3,
	"glad":      2,
	"happy":     3,
	"joy":       3,
	"wonderful": 3,
	"love":      3,
	"hopeful":   2,
	"better":    2,
	"calm":      1,
	"proud":     2,
	"thank":     2,
	"okay":      1,
	"fine":      1,
	"amazing":   3,
	"excited":   2,
	"brave":     2,
	"strong":    2,
	"support":   1,
	"comfort":   1,

	"sad":         -2,
	"unhappy":     -2,
	"anxious":     -2,
	"anxiety":     -2,
	"afraid":      -2,
	"scared":      -2,
	"angry":       -3,
	"hate":        -3,
	"awful":       -3,
	"terrible":    -3,
	"worse":       -2,
	"worried":     -2,
	"lonely":      -2,
	"hurt":        -2,
	"cry":         -2,
	"depressed":   -3,
	"hopeless":    -3,
	"tired":       -1,
	"stressed":    -2,
	"overwhelmed": -2,
	"panic":       -3,
}

// Analyze scores text and maps it onto a label. A score above 1 is
// positive, below -1 negative, everything else (including empty input)
// neutral.
func Analyze(text string) Decision {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return Decision{Label: Neutral}
	}

	score := 0
	for word, valence := range valences {
		if strings.Contains(normalized, word) {
			score += valence
		}
	}

	decision := Decision{Score: score, Label: Neutral}
	switch {
	case score > 1:
		decision.Label = Positive
	case score < -1:
		decision.Label = Negative
	}
	return decision
}
