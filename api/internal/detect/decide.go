package detect

import "fmt"

type Decision string

const (
	LikelyReal Decision = "Likely Real News"
	LikelyFake Decision = "Likely Fake News"
	Uncertain  Decision = "Uncertain"
)

// Threshold is the minimum class probability for a confident label.
const Threshold = 0.7

// Decide turns P(real) into a label and two percentages formatted like "82.35%".
// The real branch is checked first.
func Decide(score float64) (Decision, string, string) {
	pReal := score
	pFake := 1 - score

	label := Uncertain
	switch {
	case pReal >= Threshold:
		label = LikelyReal
	case pFake >= Threshold:
		label = LikelyFake
	}
	return label, FormatPercent(pFake), FormatPercent(pReal)
}

func FormatPercent(p float64) string {
	return fmt.Sprintf("%.2f%%", p*100)
}
