package grading

import "sort"

// Ranked is one entrant in a competition ranking.
type Ranked struct {
	StudentID string
	Value     float64
	Rank      int
}

// Rank assigns competition ("1224") ranks: ties share a rank and the next
// distinct value resumes at 1 + number of better entrants. Input order does
// not matter; output is sorted by value descending, student ID ascending as
// the tiebreak, so repeated runs over the same data are identical.
func Rank(entries []Ranked) []Ranked {
	if len(entries) == 0 {
		return []Ranked{}
	}

	out := make([]Ranked, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].StudentID < out[j].StudentID
	})

	for i := range out {
		if i > 0 && out[i].Value == out[i-1].Value {
			out[i].Rank = out[i-1].Rank
			continue
		}
		out[i].Rank = i + 1
	}
	return out
}

// RankByID runs Rank and returns a studentID -> rank map for lookups during
// summary and report card assembly.
func RankByID(entries []Ranked) map[string]int {
	ranked := Rank(entries)
	byID := make(map[string]int, len(ranked))
	for _, r := range ranked {
		byID[r.StudentID] = r.Rank
	}
	return byID
}
