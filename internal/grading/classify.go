package grading

// Letter grade bands, inclusive lower bounds.
const (
	bandA = 75
	bandB = 65
	bandC = 50
	bandS = 35
)

// DefaultFailLabel is reported for percentages under the lowest band.
const DefaultFailLabel = "F"

// NoResultLabel marks students with no valid result at all. It is never used
// as a band label for a low score.
const NoResultLabel = "W"

// Scale maps percentages to letter grades. The zero value uses "F" for fail.
type Scale struct {
	failLabel string
}

// NewScale builds a scale with a configurable fail label ("F" or "W" call
// sites exist; default "F").
func NewScale(failLabel string) Scale {
	return Scale{failLabel: failLabel}
}

// Classify maps a percentage (marks/maxMarks*100) to a letter grade.
// Boundaries are inclusive at the lower bound: 75 is an A, 74.99 a B.
func (s Scale) Classify(percentage float64) string {
	switch {
	case percentage >= bandA:
		return "A"
	case percentage >= bandB:
		return "B"
	case percentage >= bandC:
		return "C"
	case percentage >= bandS:
		return "S"
	default:
		return s.fail()
	}
}

// NoResult returns the label for students with zero valid results.
func (s Scale) NoResult() string {
	return NoResultLabel
}

func (s Scale) fail() string {
	if s.failLabel == "" {
		return DefaultFailLabel
	}
	return s.failLabel
}

// Percentage derives a fresh percentage from marks and the subject maximum.
// Stored grades are never trusted; this is recomputed at read time so edits
// to maxMarks stay consistent.
func Percentage(marks, maxMarks float64) float64 {
	if maxMarks <= 0 {
		return 0
	}
	return marks / maxMarks * 100
}
