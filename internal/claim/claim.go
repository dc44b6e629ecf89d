// Package claim ranks due schedule entries for a batch claim.
//
// The datastore side narrows due rows to a window of Window(n) candidates
// under a skip-locked read; Rank then orders that window by Score, keeps a
// single row per task+arguments and cuts it to n.
package claim

import (
	"math"
	"sort"
	"time"

	"cronagent/internal/domain"
)

const maxUint32 = float64(math.MaxUint32)

// Candidate is the ranking view of a due instance.
type Candidate struct {
	Key       domain.InstanceKey
	Frequency int
	Priority  int
	NextRun   time.Time
}

// Score is frequency weight + overdue weight + explicit weight:
//
//	frequency: 1 for one-time jobs, (MaxUint32-frequency)/MaxUint32 otherwise
//	overdue:   ln(seconds overdue + 2) * 100
//	explicit:  priority * 1000
func Score(c Candidate, now time.Time) float64 {
	freq := 1.0
	if c.Frequency > 0 {
		freq = (maxUint32 - float64(c.Frequency)) / maxUint32
	}
	overdue := now.Sub(c.NextRun).Seconds()
	if overdue < 0 {
		overdue = 0
	}
	return freq + math.Log(overdue+2)*100 + float64(c.Priority)*1000
}

// Window returns the number of candidates to over-fetch for a batch of n.
func Window(n int) int {
	if n < 1 {
		n = 1
	}
	return 2 * n
}

// Rank orders candidates by score descending then due time ascending, keeps
// the best row of each task+arguments pair and truncates to n.
func Rank(cands []Candidate, now time.Time, n int) []Candidate {
	type scored struct {
		Candidate
		score float64
	}
	list := make([]scored, len(cands))
	for i, c := range cands {
		list[i] = scored{Candidate: c, score: Score(c, now)}
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		return list[i].NextRun.Before(list[j].NextRun)
	})

	type variant struct{ task, args string }
	seen := make(map[variant]struct{}, len(list))
	out := make([]Candidate, 0, n)
	for _, c := range list {
		if len(out) == n {
			break
		}
		v := variant{c.Key.Task, c.Key.Arguments}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, c.Candidate)
	}
	return out
}
